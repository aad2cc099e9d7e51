package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/clienthub/internal/config"
	"github.com/KafClaw/clienthub/internal/hub"
	"github.com/KafClaw/clienthub/internal/metrics"
	"github.com/KafClaw/clienthub/internal/store"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/clienthub/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"       _ _            _   _           _\n" +
		"   ___| (_) ___ _ __ | |_| |__  _   _| |__\n" +
		"  / __| | |/ _ \\ '_ \\| __| '_ \\| | | | '_ \\\n" +
		" | (__| | |  __/ | | | |_| | | | |_| | |_) |\n" +
		"  \\___|_|_|\\___|_| |_|\\__|_| |_|\\__,_|_.__/\n"
)

var rootCmd = &cobra.Command{
	Use:           "clienthub",
	Short:         "clienthub - client work orchestration",
	Long:          color.CyanString(logo) + "\nTasks, recurring work, meetings and calls across every client, ranked for today.",
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "clienthub %s\n", version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// session is what a one-shot command needs: the loaded config and a hub over
// an open store.
type session struct {
	cfg   *config.Config
	store *store.Store
	hub   *hub.Service
}

func (s *session) Close() error { return s.store.Close() }

// openSession loads config and opens the store. m may be nil.
func openSession(m *metrics.Metrics) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.EnsureDir(filepath.Dir(cfg.Store.Path)); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.OpenWithDriver(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, store: st, hub: hub.New(st, m)}, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// readInput reads path, or stdin when path is "-" or empty.
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
