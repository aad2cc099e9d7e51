package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KafClaw/clienthub/internal/gcal"
	"github.com/KafClaw/clienthub/internal/hub"
	"github.com/KafClaw/clienthub/internal/intake"
	"github.com/KafClaw/clienthub/internal/metrics"
	"github.com/KafClaw/clienthub/internal/notify"
	"github.com/KafClaw/clienthub/internal/scheduler"
	"github.com/KafClaw/clienthub/internal/settings"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler, intake consumer and metrics endpoint",
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// Poster sends digests and triage alerts. notify.Notifier implements it.
type Poster interface {
	MorningDigest(ctx context.Context, d hub.Digest) error
	EveningDigest(ctx context.Context, d hub.Digest) error
	TriageAlert(ctx context.Context, t hub.Triage) (bool, error)
}

// CalendarSyncer copies calendar events into the hub. gcal.Syncer
// implements it.
type CalendarSyncer interface {
	Sync(ctx context.Context, now time.Time) (gcal.Stats, error)
}

// jobDeps are the optional collaborators of the scheduled jobs. Nil members
// disable their jobs.
type jobDeps struct {
	poster   Poster
	syncer   CalendarSyncer
	syncCron *scheduler.CronExpr
}

// buildJobs returns the scheduled jobs. Digest times come from st, read once
// at startup.
func buildJobs(h *hub.Service, st settings.Settings, deps jobDeps) []*scheduler.Job {
	jobs := []*scheduler.Job{{
		Name:     "recurrence_tick",
		Category: scheduler.CategoryStore,
		Run: func(ctx context.Context, now time.Time) error {
			_, err := h.MaterializeDueRecurrences(ctx, now)
			return err
		},
	}}

	if deps.syncer != nil {
		jobs = append(jobs, &scheduler.Job{
			Name:     "gcal_sync",
			Cron:     deps.syncCron,
			Category: scheduler.CategoryNetwork,
			Run: func(ctx context.Context, now time.Time) error {
				_, err := deps.syncer.Sync(ctx, now)
				return err
			},
		})
	}

	if deps.poster == nil {
		return jobs
	}
	loc := st.Location()
	if st.DigestEnabled {
		jobs = append(jobs,
			&scheduler.Job{
				Name:     "morning_digest",
				Cron:     scheduler.DailyAt(st.MorningDigestTime, loc),
				Category: scheduler.CategoryNotify,
				Run: func(ctx context.Context, now time.Time) error {
					d, err := h.Digest(ctx, now)
					if err != nil {
						return err
					}
					return deps.poster.MorningDigest(ctx, d)
				},
			},
			&scheduler.Job{
				Name:     "evening_digest",
				Cron:     scheduler.DailyAt(st.EveningDigestTime, loc),
				Category: scheduler.CategoryNotify,
				Run: func(ctx context.Context, now time.Time) error {
					d, err := h.Digest(ctx, now)
					if err != nil {
						return err
					}
					return deps.poster.EveningDigest(ctx, d)
				},
			})
	}
	jobs = append(jobs, &scheduler.Job{
		Name:     "triage_alert",
		Cron:     scheduler.DailyAt(st.MorningDigestTime, loc),
		Category: scheduler.CategoryNotify,
		Run: func(ctx context.Context, now time.Time) error {
			t, err := h.Triage(ctx)
			if err != nil {
				return err
			}
			_, err = deps.poster.TriageAlert(ctx, t)
			return err
		},
	})
	return jobs
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNew(reg)

	s, err := openSession(m)
	if err != nil {
		return err
	}
	defer s.Close()
	cfg := s.cfg

	st, err := s.hub.Settings(ctx)
	if err != nil {
		return err
	}

	var deps jobDeps
	if cfg.Slack.Enabled {
		n, err := notify.New(notify.Config{BotToken: cfg.Slack.BotToken, Channel: cfg.Slack.Channel, APIURL: cfg.Slack.APIURL}, nil, m)
		if err != nil {
			return fmt.Errorf("slack: %w", err)
		}
		deps.poster = n
	}
	if cfg.GCal.Enabled {
		cron, err := scheduler.ParseCron(cfg.GCal.SyncCron)
		if err != nil {
			return fmt.Errorf("gcal sync cron: %w", err)
		}
		syncer, err := newCalendarSyncer(cmd, s)
		if err != nil {
			return err
		}
		deps.syncer, deps.syncCron = syncer, cron
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Scheduler.Enabled {
		sc := scheduler.DefaultConfig()
		sc.TickInterval = cfg.Scheduler.TickInterval
		sc.MaxConcStore = cfg.Scheduler.MaxConcStore
		sc.MaxConcNetwork = cfg.Scheduler.MaxConcNetwork
		sc.MaxConcNotify = cfg.Scheduler.MaxConcNotify
		sc.LockPath = cfg.Scheduler.LockPath
		sched := scheduler.New(sc, s.store, m)
		for _, job := range buildJobs(s.hub, st, deps) {
			sched.Register(job)
		}
		g.Go(func() error { return ignoreCanceled(sched.Run(gctx)) })
	}

	if cfg.Intake.Enabled {
		consumer := intake.NewKafkaConsumer(intake.KafkaConfig{
			Brokers:  cfg.Intake.Brokers,
			GroupID:  cfg.Intake.GroupID,
			Topics:   cfg.Intake.Topics,
			MinBytes: cfg.Intake.MinBytes,
			MaxBytes: cfg.Intake.MaxBytes,
		})
		if err := consumer.Start(gctx); err != nil {
			return fmt.Errorf("start intake: %w", err)
		}
		router := intake.NewRouter(s.hub, consumer, m)
		g.Go(func() error { return router.Run(gctx) })
		g.Go(func() error {
			<-gctx.Done()
			return consumer.Close()
		})
	}

	if cfg.Metrics.Enabled {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr, reg) })
	}

	slog.Info("clienthub running",
		"scheduler", cfg.Scheduler.Enabled, "intake", cfg.Intake.Enabled,
		"slack", cfg.Slack.Enabled, "gcal", cfg.GCal.Enabled, "metrics", cfg.Metrics.Enabled)
	err = g.Wait()
	slog.Info("clienthub stopped")
	return ignoreCanceled(err)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
