// Package onboarding walks a new installation through its process
// configuration and can install `clienthub run` as a systemd service.
package onboarding

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/KafClaw/clienthub/internal/config"
	"github.com/KafClaw/clienthub/internal/scheduler"
)

type RuntimeMode string

const (
	// ModeLocal runs the store and scheduler only. Tasks arrive through the
	// CLI.
	ModeLocal RuntimeMode = "local"
	// ModeKafka also consumes intake envelopes from Kafka.
	ModeKafka RuntimeMode = "kafka"
)

// WizardParams pre-answers wizard questions. Empty fields are prompted for
// unless NonInteractive is set, in which case the current value is kept.
type WizardParams struct {
	Mode           string
	Brokers        string
	Topics         string
	SlackChannel   string
	GCal           string
	GCalSyncCron   string
	MetricsAddr    string
	NonInteractive bool
}

// RunProfileWizard updates cfg in place from p and, where p is silent, from
// answers read from in.
func RunProfileWizard(cfg *config.Config, in io.Reader, out io.Writer, p WizardParams) error {
	reader := bufio.NewReader(in)

	mode, err := resolveMode(reader, out, p)
	if err != nil {
		return err
	}
	if err := applyMode(cfg, mode, reader, out, p); err != nil {
		return err
	}
	if err := applySlack(cfg, reader, out, p); err != nil {
		return err
	}
	if err := applyGCal(cfg, reader, out, p); err != nil {
		return err
	}
	return applyMetrics(cfg, reader, out, p)
}

func resolveMode(reader *bufio.Reader, out io.Writer, p WizardParams) (RuntimeMode, error) {
	if strings.TrimSpace(p.Mode) != "" {
		mode := normalizeMode(p.Mode)
		if mode == "" {
			return "", fmt.Errorf("unknown mode %q (want local or kafka)", p.Mode)
		}
		return mode, nil
	}
	if p.NonInteractive {
		return ModeLocal, nil
	}

	fmt.Fprintln(out, "\nSelect runtime mode:")
	fmt.Fprintln(out, "1) local (tasks from the CLI only)")
	fmt.Fprintln(out, "2) kafka (also consume intake envelopes)")
	choice, err := prompt(reader, out, "Mode [1/2]", "1")
	if err != nil {
		return "", err
	}
	switch strings.TrimSpace(choice) {
	case "1":
		return ModeLocal, nil
	case "2":
		return ModeKafka, nil
	default:
		return "", fmt.Errorf("invalid mode choice: %s", choice)
	}
}

func applyMode(cfg *config.Config, mode RuntimeMode, reader *bufio.Reader, out io.Writer, p WizardParams) error {
	cfg.Scheduler.Enabled = true
	if mode == ModeLocal {
		cfg.Intake.Enabled = false
		return nil
	}
	cfg.Intake.Enabled = true

	brokers := strings.TrimSpace(p.Brokers)
	if brokers == "" && !p.NonInteractive {
		var err error
		if brokers, err = prompt(reader, out, "Kafka brokers", strings.Join(cfg.Intake.Brokers, ",")); err != nil {
			return err
		}
	}
	if brokers != "" {
		cfg.Intake.Brokers = parseCSV(brokers)
	}
	if len(cfg.Intake.Brokers) == 0 {
		return errors.New("kafka mode needs at least one broker")
	}

	topics := strings.TrimSpace(p.Topics)
	if topics == "" && !p.NonInteractive {
		var err error
		if topics, err = prompt(reader, out, "Intake topics", strings.Join(cfg.Intake.Topics, ",")); err != nil {
			return err
		}
	}
	if topics != "" {
		cfg.Intake.Topics = parseCSV(topics)
	}
	return nil
}

func applySlack(cfg *config.Config, reader *bufio.Reader, out io.Writer, p WizardParams) error {
	channel := strings.TrimSpace(p.SlackChannel)
	if channel == "" && !p.NonInteractive {
		ok, err := confirm(reader, out, "Post digests and triage alerts to Slack?", cfg.Slack.Enabled)
		if err != nil {
			return err
		}
		if !ok {
			cfg.Slack.Enabled = false
			return nil
		}
		if channel, err = prompt(reader, out, "Slack channel", cfg.Slack.Channel); err != nil {
			return err
		}
	}
	switch strings.ToLower(channel) {
	case "":
		return nil
	case "off", "none", "no":
		cfg.Slack.Enabled = false
		return nil
	}
	cfg.Slack.Enabled = true
	cfg.Slack.Channel = channel
	if cfg.Slack.BotToken == "" {
		fmt.Fprintln(out, "Set SLACK_BOT_TOKEN in ~/.config/clienthub/env before starting `clienthub run`.")
	}
	return nil
}

func applyGCal(cfg *config.Config, reader *bufio.Reader, out io.Writer, p WizardParams) error {
	answer := strings.TrimSpace(p.GCal)
	if answer == "" {
		if p.NonInteractive {
			return nil
		}
		ok, err := confirm(reader, out, "Sync meetings from Google Calendar?", cfg.GCal.Enabled)
		if err != nil {
			return err
		}
		answer = "no"
		if ok {
			answer = "yes"
		}
	}
	enabled, err := parseYesNo(answer)
	if err != nil {
		return fmt.Errorf("gcal: %w", err)
	}
	cfg.GCal.Enabled = enabled
	if !enabled {
		return nil
	}

	syncCron := strings.TrimSpace(p.GCalSyncCron)
	if syncCron == "" && !p.NonInteractive {
		if syncCron, err = prompt(reader, out, "Calendar sync schedule (cron)", cfg.GCal.SyncCron); err != nil {
			return err
		}
	}
	if syncCron != "" {
		if _, err := scheduler.ParseCron(syncCron); err != nil {
			return fmt.Errorf("gcal sync schedule: %w", err)
		}
		cfg.GCal.SyncCron = syncCron
	}
	fmt.Fprintf(out, "Place the OAuth client secret at %s, then run `clienthub gcal auth`.\n", cfg.GCal.CredentialsFile)
	return nil
}

func applyMetrics(cfg *config.Config, reader *bufio.Reader, out io.Writer, p WizardParams) error {
	addr := strings.TrimSpace(p.MetricsAddr)
	if addr == "" && !p.NonInteractive {
		ok, err := confirm(reader, out, "Expose Prometheus metrics?", cfg.Metrics.Enabled)
		if err != nil {
			return err
		}
		if !ok {
			cfg.Metrics.Enabled = false
			return nil
		}
		if addr, err = prompt(reader, out, "Metrics listen address", cfg.Metrics.Addr); err != nil {
			return err
		}
	}
	switch strings.ToLower(addr) {
	case "":
		return nil
	case "off", "none", "no":
		cfg.Metrics.Enabled = false
		return nil
	}
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = addr
	return nil
}

// BuildProfileSummary describes cfg for review before it is saved.
func BuildProfileSummary(cfg *config.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Store:     %s (%s)\n", cfg.Store.Path, cfg.Store.Driver)
	fmt.Fprintf(&b, "Scheduler: %s\n", onOff(cfg.Scheduler.Enabled))
	if cfg.Intake.Enabled {
		fmt.Fprintf(&b, "Intake:    %s, topics %s, group %s\n",
			strings.Join(cfg.Intake.Brokers, ","), strings.Join(cfg.Intake.Topics, ","), cfg.Intake.GroupID)
	} else {
		b.WriteString("Intake:    off\n")
	}
	if cfg.Slack.Enabled {
		token := "missing"
		if cfg.Slack.BotToken != "" {
			token = "set"
		}
		fmt.Fprintf(&b, "Slack:     %s (bot token %s)\n", cfg.Slack.Channel, token)
	} else {
		b.WriteString("Slack:     off\n")
	}
	if cfg.GCal.Enabled {
		fmt.Fprintf(&b, "GCal:      calendar %s, sync %q\n", cfg.GCal.CalendarID, cfg.GCal.SyncCron)
	} else {
		b.WriteString("GCal:      off\n")
	}
	if cfg.Metrics.Enabled {
		fmt.Fprintf(&b, "Metrics:   %s\n", cfg.Metrics.Addr)
	} else {
		b.WriteString("Metrics:   off\n")
	}
	return b.String()
}

// ConfirmApply asks whether to write the configuration.
func ConfirmApply(reader *bufio.Reader, out io.Writer) (bool, error) {
	return confirm(reader, out, "Write this configuration?", true)
}

func confirm(r *bufio.Reader, out io.Writer, label string, def bool) (bool, error) {
	d := "y/N"
	if def {
		d = "Y/n"
	}
	answer, err := prompt(r, out, label+" ["+d+"]", "")
	if err != nil {
		return false, err
	}
	if answer == "" {
		return def, nil
	}
	return parseYesNo(answer)
}

func prompt(r *bufio.Reader, out io.Writer, label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	val := strings.TrimSpace(line)
	if val == "" {
		return def, nil
	}
	return val, nil
}

func parseYesNo(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "y", "yes", "true", "on", "1":
		return true, nil
	case "n", "no", "false", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected yes or no, got %q", v)
}

func normalizeMode(v string) RuntimeMode {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "local":
		return ModeLocal
	case "kafka", "local+kafka", "local-kafka":
		return ModeKafka
	default:
		return ""
	}
}

func parseCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
