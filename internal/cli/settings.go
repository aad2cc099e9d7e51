package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/settings"
)

var (
	settingsCmd = &cobra.Command{
		Use:   "settings",
		Short: "Show or replace ranking, capacity and matching settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	settingsShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the stored settings document",
		RunE:  runSettingsShow,
	}

	settingsImportCmd = &cobra.Command{
		Use:   "import [file|-]",
		Short: "Replace settings from a YAML or JSON document",
		Long:  "Unknown keys are rejected. Ranking weights absent from the document contribute nothing to scores.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSettingsImport,
	}

	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Manage clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	clientAddCmd = &cobra.Command{
		Use:   "add <name>",
		Short: "Add a client",
		Args:  cobra.ExactArgs(1),
		RunE:  runClientAdd,
	}

	clientListCmd = &cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE:  runClientList,
	}
)

func init() {
	settingsShowCmd.Flags().Bool("yaml", false, "Output YAML instead of JSON")
	settingsCmd.AddCommand(settingsShowCmd, settingsImportCmd)

	clientAddCmd.Flags().String("id", "", "Client id (default: generated)")
	clientAddCmd.Flags().Int("weight", 0, fmt.Sprintf("Default priority weight 0..%d", model.MaxClientWeight))
	clientAddCmd.Flags().String("status", "", "active, paused, churned or prospect")
	clientListCmd.Flags().Bool("all", false, "Include archived clients")
	clientListCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	clientCmd.AddCommand(clientAddCmd, clientListCmd)

	rootCmd.AddCommand(settingsCmd, clientCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	asYAML, _ := cmd.Flags().GetBool("yaml")
	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()
	st, err := s.hub.Settings(commandContext(cmd))
	if err != nil {
		return err
	}
	if !asYAML {
		return printJSON(cmd.OutOrStdout(), st)
	}
	out, err := yaml.Marshal(st)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func runSettingsImport(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	data, err := readInput(cmd, path)
	if err != nil {
		return err
	}
	st, err := settings.Parse(data)
	if err != nil {
		return err
	}
	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.store.SaveSettings(commandContext(cmd), st, model.ActorManual); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Settings saved (timezone %s, capacity %d min, %d domain rules, %d keyword rules)\n",
		st.Timezone, st.CapacityMinutesPerDay, len(st.ClientMatchingRules.Domains), len(st.ClientMatchingRules.Keywords))
	return nil
}

func runClientAdd(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("id")
	weight, _ := cmd.Flags().GetInt("weight")
	status, _ := cmd.Flags().GetString("status")
	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()
	c, err := s.store.CreateClient(commandContext(cmd), &model.Client{
		ID:                    strings.TrimSpace(id),
		Name:                  args[0],
		Status:                model.ClientStatus(strings.ToLower(status)),
		DefaultPriorityWeight: weight,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added client %s (%s)\n", c.Name, c.ID)
	return nil
}

func runClientList(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	asJSON, _ := cmd.Flags().GetBool("json")
	s, err := openSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()
	clients, err := s.store.ListClients(commandContext(cmd), all)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), clients)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tWEIGHT")
	for _, c := range clients {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", c.ID, c.Name, c.Status, c.DefaultPriorityWeight)
	}
	return tw.Flush()
}
