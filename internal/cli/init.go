package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/KafClaw/clienthub/internal/config"
	"github.com/KafClaw/clienthub/internal/onboarding"
)

var (
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Write the process configuration interactively",
		Long:  "Prompts for the runtime mode, Slack channel, calendar sync and metrics, then writes the config file. Flags pre-answer questions.",
		RunE:  runInit,
	}

	installServiceCmd = &cobra.Command{
		Use:   "install-service",
		Short: "Install a systemd unit that runs `clienthub run`",
		RunE:  runInstallService,
	}
)

func init() {
	f := initCmd.Flags()
	f.String("mode", "", "local or kafka")
	f.String("brokers", "", "Comma-separated Kafka brokers")
	f.String("topics", "", "Comma-separated intake topics")
	f.String("slack-channel", "", "Slack channel for digests, or off")
	f.String("gcal", "", "Enable calendar sync: yes or no")
	f.String("gcal-sync-cron", "", "Calendar sync schedule")
	f.String("metrics-addr", "", "Metrics listen address, or off")
	f.Bool("non-interactive", false, "Never prompt; keep current values for unanswered questions")
	f.BoolP("yes", "y", false, "Write without confirmation")

	installServiceCmd.Flags().String("user", "clienthub", "Service user")
	installServiceCmd.Flags().String("home", "", "Service user home (default: looked up, created when root)")
	installServiceCmd.Flags().String("binary", "", "Path to the clienthub binary (default: this executable)")
	installServiceCmd.Flags().String("root", "/", "Install root")

	rootCmd.AddCommand(initCmd, installServiceCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	var p onboarding.WizardParams
	p.Mode, _ = f.GetString("mode")
	p.Brokers, _ = f.GetString("brokers")
	p.Topics, _ = f.GetString("topics")
	p.SlackChannel, _ = f.GetString("slack-channel")
	p.GCal, _ = f.GetString("gcal")
	p.GCalSyncCron, _ = f.GetString("gcal-sync-cron")
	p.MetricsAddr, _ = f.GetString("metrics-addr")
	p.NonInteractive, _ = f.GetBool("non-interactive")
	yes, _ := f.GetBool("yes")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	if err := onboarding.RunProfileWizard(cfg, in, out, p); err != nil {
		return err
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, onboarding.BuildProfileSummary(cfg))
	if !yes && !p.NonInteractive {
		ok, err := onboarding.ConfirmApply(in, out)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Nothing written.")
			return nil
		}
	}
	// Tokens stay in the environment, not the config file.
	cfg.Slack.BotToken = ""
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	path, _ := config.ConfigPath()
	fmt.Fprintf(out, "Wrote %s\n", path)
	return nil
}

func runInstallService(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	svcUser, _ := f.GetString("user")
	home, _ := f.GetString("home")
	binary, _ := f.GetString("binary")
	root, _ := f.GetString("root")
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
		binary, _ = filepath.Abs(exe)
	}
	res, err := onboarding.SetupSystemd(onboarding.SetupOptions{
		ServiceUser: svcUser,
		ServiceHome: home,
		BinaryPath:  binary,
		Version:     version,
		InstallRoot: root,
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if res.UserCreated {
		fmt.Fprintf(out, "Created user %s\n", svcUser)
	}
	fmt.Fprintf(out, "Wrote %s\nEnv file %s\nEnable with: systemctl daemon-reload && systemctl enable --now clienthub\n", res.ServicePath, res.EnvPath)
	return nil
}
