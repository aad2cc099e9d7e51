// Package config provides configuration types and loading for clienthub.
//
// Process configuration (where the database lives, which brokers to read,
// which Slack channel to post to) lives here. Ranking weights, matching rules
// and capacity are domain settings stored in the database; see package
// settings.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration struct.
// Top-level groups: Store, Scheduler, Intake, Slack, GCal, Metrics.
type Config struct {
	Store     StoreConfig     `json:"store"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Intake    IntakeConfig    `json:"intake"`
	Slack     SlackConfig     `json:"slack"`
	GCal      GCalConfig      `json:"gcal"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// ---------------------------------------------------------------------------
// Store – SQLite database
// ---------------------------------------------------------------------------

// StoreConfig locates the database. Driver is "sqlite" (pure Go) or
// "sqlite3" (cgo).
type StoreConfig struct {
	Path   string `json:"path" envconfig:"PATH"`
	Driver string `json:"driver" envconfig:"DRIVER"`
}

// ---------------------------------------------------------------------------
// Scheduler – periodic jobs
// ---------------------------------------------------------------------------

// SchedulerConfig controls the job loop started by `clienthub run`.
type SchedulerConfig struct {
	Enabled        bool          `json:"enabled" envconfig:"ENABLED"`
	TickInterval   time.Duration `json:"tickInterval" envconfig:"TICK_INTERVAL"`
	MaxConcStore   int           `json:"maxConcStore" envconfig:"MAX_CONC_STORE"`
	MaxConcNetwork int           `json:"maxConcNetwork" envconfig:"MAX_CONC_NETWORK"`
	MaxConcNotify  int           `json:"maxConcNotify" envconfig:"MAX_CONC_NOTIFY"`
	LockPath       string        `json:"lockPath" envconfig:"LOCK_PATH"`
}

// ---------------------------------------------------------------------------
// Intake – Kafka envelopes from the automation layer
// ---------------------------------------------------------------------------

// IntakeConfig configures the Kafka consumer feeding tasks, calendar events
// and calls into the hub.
type IntakeConfig struct {
	Enabled  bool     `json:"enabled" envconfig:"ENABLED"`
	Brokers  []string `json:"brokers" envconfig:"BROKERS"`
	GroupID  string   `json:"groupId" envconfig:"GROUP_ID"`
	Topics   []string `json:"topics" envconfig:"TOPICS"`
	MinBytes int      `json:"minBytes" envconfig:"MIN_BYTES"`
	MaxBytes int      `json:"maxBytes" envconfig:"MAX_BYTES"`
}

// ---------------------------------------------------------------------------
// Slack – digests and triage alerts
// ---------------------------------------------------------------------------

// SlackConfig configures outbound notifications.
type SlackConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"ENABLED"`
	BotToken string `json:"botToken" envconfig:"BOT_TOKEN"`
	Channel  string `json:"channel" envconfig:"CHANNEL"`
	APIURL   string `json:"apiUrl,omitempty" envconfig:"API_URL"`
}

// ---------------------------------------------------------------------------
// GCal – Google Calendar sync
// ---------------------------------------------------------------------------

// GCalConfig configures calendar sync. CredentialsFile is an OAuth client
// secret; TokenFile holds the authorized user token.
type GCalConfig struct {
	Enabled         bool   `json:"enabled" envconfig:"ENABLED"`
	CredentialsFile string `json:"credentialsFile" envconfig:"CREDENTIALS_FILE"`
	TokenFile       string `json:"tokenFile" envconfig:"TOKEN_FILE"`
	CalendarID      string `json:"calendarId" envconfig:"CALENDAR_ID"`
	SyncCron        string `json:"syncCron" envconfig:"SYNC_CRON"`
	PastDays        int    `json:"pastDays" envconfig:"PAST_DAYS"`
	LookaheadDays   int    `json:"lookaheadDays" envconfig:"LOOKAHEAD_DAYS"`
}

// ---------------------------------------------------------------------------
// Metrics – Prometheus endpoint
// ---------------------------------------------------------------------------

type MetricsConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Addr    string `json:"addr" envconfig:"ADDR"`
}

// DefaultConfig returns the built-in defaults. Paths are rooted at the
// clienthub home directory.
func DefaultConfig() *Config {
	home, err := resolveHomeDir()
	if err != nil {
		home, _ = os.UserHomeDir()
	}
	base := filepath.Join(home, ConfigDir)
	return &Config{
		Store: StoreConfig{
			Path:   filepath.Join(base, "clienthub.db"),
			Driver: "sqlite",
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			TickInterval:   time.Minute,
			MaxConcStore:   1,
			MaxConcNetwork: 2,
			MaxConcNotify:  2,
			LockPath:       filepath.Join(base, "scheduler.lock"),
		},
		Intake: IntakeConfig{
			Brokers:  []string{"localhost:9092"},
			GroupID:  "clienthub",
			Topics:   []string{"clienthub.intake"},
			MinBytes: 1,
			MaxBytes: 10 << 20,
		},
		Slack: SlackConfig{
			Channel: "#clienthub",
		},
		GCal: GCalConfig{
			CredentialsFile: filepath.Join(base, "gcal_credentials.json"),
			TokenFile:       filepath.Join(base, "gcal_token.json"),
			CalendarID:      "primary",
			SyncCron:        "*/15 * * * *",
			PastDays:        1,
			LookaheadDays:   14,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
	}
}
