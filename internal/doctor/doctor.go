// Package doctor checks that clienthub's dependencies are reachable and
// correctly configured: the store, the Kafka intake brokers and topics, the
// Slack bot token, the Google Calendar credentials and the modes of the
// files holding secrets.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/slack-go/slack"

	"github.com/KafClaw/clienthub/internal/config"
	"github.com/KafClaw/clienthub/internal/gcal"
	"github.com/KafClaw/clienthub/internal/secrets"
	"github.com/KafClaw/clienthub/internal/store"
)

// Status is the outcome of one check.
type Status string

const (
	OK   Status = "OK"
	WARN Status = "WARN"
	FAIL Status = "FAIL"
	SKIP Status = "SKIP"
)

// Row is a single check result.
type Row struct {
	Component string `json:"component"`
	Target    string `json:"target"`
	Status    Status `json:"status"`
	Detail    string `json:"detail"`
	Hint      string `json:"hint,omitempty"`
}

// Report collects all check results.
type Report struct {
	Rows       []Row     `json:"rows"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r *Report) add(row Row) { r.Rows = append(r.Rows, row) }

// Failed reports whether any check failed.
func (r *Report) Failed() bool {
	for _, row := range r.Rows {
		if row.Status == FAIL {
			return true
		}
	}
	return false
}

// Counts tallies rows by status.
func (r *Report) Counts() map[Status]int {
	out := map[Status]int{}
	for _, row := range r.Rows {
		out[row.Status]++
	}
	return out
}

// Options tunes the checks.
// Fix re-encrypts plaintext tokens and tightens credential file modes.
type Options struct {
	Timeout    time.Duration
	HTTPClient *http.Client
	Fix        bool
}

// Run executes every check for cfg. Disabled integrations are reported as
// SKIP.
func Run(ctx context.Context, cfg *config.Config, opts Options) *Report {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	r := &Report{StartedAt: time.Now()}
	checkStore(ctx, r, cfg.Store)
	if cfg.Intake.Enabled {
		for _, b := range cfg.Intake.Brokers {
			checkBroker(ctx, r, b, cfg.Intake.Topics, opts.Timeout)
		}
	} else {
		r.add(Row{"kafka", strings.Join(cfg.Intake.Brokers, ","), SKIP, "Intake disabled", ""})
	}
	if cfg.Slack.Enabled {
		checkSlack(ctx, r, cfg.Slack, opts)
	} else {
		r.add(Row{"slack", cfg.Slack.Channel, SKIP, "Notifications disabled", ""})
	}
	if cfg.GCal.Enabled {
		checkGCal(r, cfg.GCal, opts.Fix)
	} else {
		r.add(Row{"gcal", cfg.GCal.CalendarID, SKIP, "Calendar sync disabled", ""})
	}
	checkFileModes(r, cfg, opts.Fix)
	r.FinishedAt = time.Now()
	return r
}

func checkStore(ctx context.Context, r *Report, sc config.StoreConfig) {
	st, err := store.OpenWithDriver(sc.Driver, sc.Path)
	if err != nil {
		r.add(Row{"store", sc.Path, FAIL, fmt.Sprintf("Open failed: %v", err), "Check the path is writable and the driver is sqlite or sqlite3."})
		return
	}
	defer st.Close()
	r.add(Row{"store", sc.Path, OK, "Opened (" + sc.Driver + ")", ""})

	s, err := st.Settings(ctx)
	if err != nil {
		r.add(Row{"store", "settings", FAIL, fmt.Sprintf("Settings unreadable: %v", err), "Re-import settings with `clienthub settings import`."})
		return
	}
	if err := s.Validate(); err != nil {
		r.add(Row{"store", "settings", FAIL, err.Error(), "Re-import settings with `clienthub settings import`."})
		return
	}
	r.add(Row{"store", "settings", OK, fmt.Sprintf("timezone %s, capacity %d min", s.Timezone, s.CapacityMinutesPerDay), ""})

	runs, err := st.ListJobRuns(ctx)
	if err != nil {
		r.add(Row{"store", "job runs", WARN, fmt.Sprintf("Job history unreadable: %v", err), ""})
		return
	}
	for _, run := range runs {
		if run.LastStatus == "error" {
			r.add(Row{"scheduler", run.JobName, WARN, "Last run failed at " + run.LastRunAt.Format(time.RFC3339), "See the `clienthub run` log for the error."})
		}
	}
}

func checkBroker(ctx context.Context, r *Report, broker string, topics []string, timeout time.Duration) {
	host, _, err := net.SplitHostPort(broker)
	if err != nil {
		r.add(Row{"kafka", broker, FAIL, fmt.Sprintf("Bad broker address: %v", err), "Use host:port."})
		return
	}
	if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
		r.add(Row{"kafka", host, FAIL, fmt.Sprintf("DNS lookup failed: %v", err), "Check /etc/hosts, DNS server and VPN search domains."})
		return
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	dialer := &kafka.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(dctx, "tcp", broker)
	if err != nil {
		r.add(Row{"kafka", broker, FAIL, fmt.Sprintf("Broker dial failed: %v", err), hint(err)})
		return
	}
	defer conn.Close()
	if _, err := conn.ApiVersions(); err != nil {
		r.add(Row{"kafka", broker, FAIL, fmt.Sprintf("ApiVersions failed: %v", err), "Broker incompatible or proxy interfering."})
		return
	}
	r.add(Row{"kafka", broker, OK, fmt.Sprintf("Connected in %s", time.Since(start).Truncate(time.Millisecond)), ""})

	parts, err := conn.ReadPartitions()
	if err != nil {
		r.add(Row{"kafka", broker, FAIL, fmt.Sprintf("ReadPartitions failed: %v", err), hint(err)})
		return
	}
	for _, topic := range topics {
		var found, leaders int
		for _, pt := range parts {
			if pt.Topic == topic {
				found++
				if pt.Leader.Host != "" {
					leaders++
				}
			}
		}
		if found == 0 {
			r.add(Row{"kafka", topic, FAIL, "Topic not found or not authorized", "Create the topic or grant Describe on it."})
			continue
		}
		r.add(Row{"kafka", topic, OK, fmt.Sprintf("%d partitions, %d with leader", found, leaders), ""})
	}
}

func checkSlack(ctx context.Context, r *Report, sc config.SlackConfig, opts Options) {
	if strings.TrimSpace(sc.BotToken) == "" {
		r.add(Row{"slack", sc.Channel, FAIL, "Bot token missing", "Set CLIENTHUB_SLACK_BOT_TOKEN or SLACK_BOT_TOKEN."})
		return
	}
	base := strings.TrimSpace(sc.APIURL)
	if base == "" {
		base = "https://slack.com/api"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	api := slack.New(sc.BotToken, slack.OptionHTTPClient(client), slack.OptionAPIURL(strings.TrimRight(base, "/")+"/"))
	resp, err := api.AuthTestContext(ctx)
	if err != nil {
		r.add(Row{"slack", base, FAIL, fmt.Sprintf("auth.test failed: %v", err), "Check the bot token and its workspace."})
		return
	}
	r.add(Row{"slack", sc.Channel, OK, fmt.Sprintf("Authenticated as %s in %s", resp.User, resp.Team), ""})
}

func checkGCal(r *Report, gc config.GCalConfig, fix bool) {
	if _, err := gcal.OAuthConfig(gc.CredentialsFile); err != nil {
		r.add(Row{"gcal", gc.CredentialsFile, FAIL, err.Error(), "Download an OAuth client secret (Desktop app) from the Google Cloud console."})
		return
	}
	r.add(Row{"gcal", gc.CredentialsFile, OK, "Client secret readable", ""})

	if _, err := secrets.MasterKey(); err != nil {
		r.add(Row{"secrets", secrets.Backend(), FAIL, fmt.Sprintf("Master key unavailable: %v", err), "Set CLIENTHUB_MASTER_KEY or CLIENTHUB_KEY_BACKEND=file."})
		return
	}
	r.add(Row{"secrets", secrets.Backend(), OK, "Master key available", ""})

	tok, err := gcal.TokenFromFile(gc.TokenFile)
	if err != nil {
		detail := err.Error()
		if errors.Is(err, os.ErrNotExist) {
			detail = "No token"
		}
		r.add(Row{"gcal", gc.TokenFile, FAIL, detail, "Run `clienthub gcal auth`."})
		return
	}
	if tok.RefreshToken == "" {
		r.add(Row{"gcal", gc.TokenFile, WARN, "Token has no refresh token", "Run `clienthub gcal auth` again to grant offline access."})
		return
	}
	raw, err := os.ReadFile(gc.TokenFile)
	if err == nil && !secrets.IsSealed(raw) {
		if !fix {
			r.add(Row{"gcal", gc.TokenFile, WARN, "Token stored unencrypted", "Run `clienthub doctor --fix`."})
			return
		}
		if err := gcal.SaveToken(gc.TokenFile, tok); err != nil {
			r.add(Row{"gcal", gc.TokenFile, FAIL, fmt.Sprintf("Re-encrypt failed: %v", err), ""})
			return
		}
		r.add(Row{"gcal", gc.TokenFile, OK, "Token re-encrypted", ""})
		return
	}
	r.add(Row{"gcal", gc.TokenFile, OK, "Token present", ""})
}

// checkFileModes flags credential files readable by group or others.
func checkFileModes(r *Report, cfg *config.Config, fix bool) {
	paths := []string{cfg.GCal.TokenFile}
	if p, err := config.ConfigPath(); err == nil {
		paths = append(paths, p)
	}
	if p, err := secrets.KeyFilePath(); err == nil {
		paths = append(paths, p)
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		mode := info.Mode().Perm()
		if mode&0o077 == 0 {
			continue
		}
		if !fix {
			r.add(Row{"files", p, WARN, fmt.Sprintf("Mode %#o is readable by others", mode), "Run `clienthub doctor --fix` or chmod 600."})
			continue
		}
		if err := os.Chmod(p, 0o600); err != nil {
			r.add(Row{"files", p, FAIL, fmt.Sprintf("chmod failed: %v", err), ""})
			continue
		}
		r.add(Row{"files", p, OK, fmt.Sprintf("Mode %#o tightened to 0600", mode), ""})
	}
}

func hint(err error) string {
	var ke kafka.Error
	if errors.As(err, &ke) {
		switch ke {
		case kafka.TopicAuthorizationFailed:
			return "Missing topic ACL: Read/Describe on the intake topics."
		case kafka.GroupAuthorizationFailed:
			return "Missing group ACL: Read/Describe on the consumer group."
		case kafka.SASLAuthenticationFailed:
			return "Broker requires SASL; clienthub connects without authentication."
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Timed out: check network path, firewall and advertised.listeners."
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "Timed out: check network path, firewall and advertised.listeners."
	}
	if strings.Contains(strings.ToLower(err.Error()), "refused") {
		return "Nothing listening: is the broker running on this port?"
	}
	return ""
}
