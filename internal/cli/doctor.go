package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/clienthub/internal/config"
	"github.com/KafClaw/clienthub/internal/doctor"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the store, Kafka intake, Slack and Google Calendar setup",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	doctorCmd.Flags().Duration("timeout", 10*time.Second, "Per-check network timeout")
	doctorCmd.Flags().Bool("fix", false, "Re-encrypt plaintext tokens and tighten credential file modes")
	rootCmd.AddCommand(doctorCmd)
}

var statusColor = map[doctor.Status]*color.Color{
	doctor.OK:   color.New(color.FgGreen),
	doctor.WARN: color.New(color.FgYellow),
	doctor.FAIL: color.New(color.FgRed, color.Bold),
	doctor.SKIP: color.New(color.Faint),
}

func runDoctor(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	fix, _ := cmd.Flags().GetBool("fix")
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.EnsureDir(filepath.Dir(cfg.Store.Path)); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	report := doctor.Run(commandContext(cmd), cfg, doctor.Options{Timeout: timeout, Fix: fix})
	if asJSON {
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COMPONENT\tTARGET\tSTATUS\tDETAIL")
		for _, row := range report.Rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.Component, row.Target, statusColor[row.Status].Sprint(row.Status), row.Detail)
			if row.Hint != "" {
				fmt.Fprintf(tw, "\t\t\t  hint: %s\n", row.Hint)
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		c := report.Counts()
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d ok, %d warn, %d fail, %d skipped\n", c[doctor.OK], c[doctor.WARN], c[doctor.FAIL], c[doctor.SKIP])
	}
	if report.Failed() {
		return errors.New("doctor found failing checks")
	}
	return nil
}
