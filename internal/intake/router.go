package intake

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KafClaw/clienthub/internal/ingest"
	"github.com/KafClaw/clienthub/internal/metrics"
	"github.com/KafClaw/clienthub/internal/model"
)

// Hub is the subset of hub.Service the router drives.
type Hub interface {
	IngestBatch(ctx context.Context, records []ingest.Record) ([]ingest.Result, error)
	UpsertCalendarEvent(ctx context.Context, e *model.CalendarEvent) (*model.CalendarEvent, error)
	UpsertCall(ctx context.Context, c *model.Call) (*model.Call, error)
}

// Envelope outcomes reported to metrics.
const (
	outcomeOK      = "ok"
	outcomePartial = "partial"
	outcomeInvalid = "invalid"
	outcomeError   = "error"
)

// Router routes consumed envelopes into the hub.
type Router struct {
	hub      Hub
	consumer Consumer
	metrics  *metrics.Metrics
}

// NewRouter creates a router. m may be nil.
func NewRouter(h Hub, c Consumer, m *metrics.Metrics) *Router {
	return &Router{hub: h, consumer: c, metrics: m}
}

// Run starts consuming and routing messages. Blocks until context is
// cancelled or the consumer's channel closes.
func (r *Router) Run(ctx context.Context) error {
	if err := r.consumer.Start(ctx); err != nil {
		return fmt.Errorf("intake: start consumer: %w", err)
	}
	defer r.consumer.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-r.consumer.Messages():
			if !ok {
				return nil
			}
			r.handleMessage(ctx, msg)
		}
	}
}

// handleMessage processes one message. Malformed envelopes are logged and
// dropped; they are never retried.
func (r *Router) handleMessage(ctx context.Context, msg Message) {
	env, err := DecodeEnvelope(msg.Value)
	if err != nil {
		slog.Warn("Intake envelope dropped", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		r.metrics.IntakeEnvelope("unknown", outcomeInvalid)
		return
	}
	outcome, err := r.route(ctx, env)
	if err != nil {
		slog.Warn("Intake envelope failed", "topic", msg.Topic, "offset", msg.Offset, "type", env.Type, "source", env.Source, "error", err)
	}
	r.metrics.IntakeEnvelope(string(env.Type), outcome)
}

func (r *Router) route(ctx context.Context, env *Envelope) (string, error) {
	switch env.Type {
	case EnvelopeTasks:
		return r.handleTasks(ctx, env)
	case EnvelopeCalendar:
		return r.handleCalendar(ctx, env)
	case EnvelopeCalls:
		return r.handleCalls(ctx, env)
	}
	return outcomeInvalid, fmt.Errorf("unknown envelope type %q", env.Type)
}

func (r *Router) handleTasks(ctx context.Context, env *Envelope) (string, error) {
	recs, err := env.Records()
	if err != nil {
		return outcomeInvalid, err
	}
	results, err := r.hub.IngestBatch(ctx, recs)
	if err != nil {
		return outcomeError, err
	}
	counts := map[ingest.Status]int{}
	for _, res := range results {
		counts[res.Status]++
		if res.Status == ingest.StatusFailed {
			slog.Warn("Intake task record failed", "index", res.Index, "reason", res.Reason)
		}
	}
	slog.Info("Intake tasks ingested",
		"source", env.Source,
		"created", counts[ingest.StatusCreated],
		"updated", counts[ingest.StatusUpdated],
		"duplicates", counts[ingest.StatusDuplicateFlagged],
		"failed", counts[ingest.StatusFailed])
	return outcomeFor(counts[ingest.StatusFailed], len(results)), nil
}

func (r *Router) handleCalendar(ctx context.Context, env *Envelope) (string, error) {
	items, err := env.CalendarItems()
	if err != nil {
		return outcomeInvalid, err
	}
	failed := 0
	for _, item := range items {
		e, err := item.event()
		if err == nil {
			_, err = r.hub.UpsertCalendarEvent(ctx, e)
		}
		if err != nil {
			failed++
			slog.Warn("Intake calendar item failed", "id", item.ID, "error", err)
		}
	}
	slog.Info("Intake calendar events synced", "source", env.Source, "items", len(items), "failed", failed)
	return outcomeFor(failed, len(items)), nil
}

func (r *Router) handleCalls(ctx context.Context, env *Envelope) (string, error) {
	items, err := env.CallItems()
	if err != nil {
		return outcomeInvalid, err
	}
	failed := 0
	for _, item := range items {
		c, err := item.call()
		if err == nil {
			_, err = r.hub.UpsertCall(ctx, c)
		}
		if err != nil {
			failed++
			slog.Warn("Intake call item failed", "id", item.ID, "error", err)
		}
	}
	slog.Info("Intake calls synced", "source", env.Source, "items", len(items), "failed", failed)
	return outcomeFor(failed, len(items)), nil
}

func outcomeFor(failed, total int) string {
	switch {
	case failed == 0:
		return outcomeOK
	case failed == total:
		return outcomeError
	default:
		return outcomePartial
	}
}
