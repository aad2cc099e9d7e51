// Package notify posts the morning and evening digests and triage alerts to
// a Slack channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/KafClaw/clienthub/internal/hub"
	"github.com/KafClaw/clienthub/internal/metrics"
)

const defaultAPIURL = "https://slack.com/api"

// Message kinds, used as the metrics label.
const (
	KindMorning = "morning"
	KindEvening = "evening"
	KindTriage  = "triage"
)

// Config selects the bot token and target channel.
type Config struct {
	BotToken string
	Channel  string
	APIURL   string
}

// Notifier posts rendered messages with chat.postMessage.
type Notifier struct {
	api       *slack.Client
	channel   string
	metrics   *metrics.Metrics
	attempts  int
	baseDelay time.Duration
}

// New builds a Notifier. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, m *metrics.Metrics) (*Notifier, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, errors.New("missing slack bot token")
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		return nil, errors.New("missing slack channel")
	}
	base := strings.TrimSpace(cfg.APIURL)
	if base == "" {
		base = defaultAPIURL
	}
	base = strings.TrimRight(base, "/") + "/"
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Notifier{
		api:       slack.New(token, slack.OptionHTTPClient(httpClient), slack.OptionAPIURL(base)),
		channel:   channel,
		metrics:   m,
		attempts:  3,
		baseDelay: 200 * time.Millisecond,
	}, nil
}

// MorningDigest posts the Today view summary.
func (n *Notifier) MorningDigest(ctx context.Context, d hub.Digest) error {
	return n.post(ctx, KindMorning, morningMessage(d))
}

// EveningDigest posts what was completed today and what is still overdue.
func (n *Notifier) EveningDigest(ctx context.Context, d hub.Digest) error {
	return n.post(ctx, KindEvening, eveningMessage(d))
}

// TriageAlert posts the triage queue. An empty queue posts nothing and
// reports false.
func (n *Notifier) TriageAlert(ctx context.Context, t hub.Triage) (bool, error) {
	if t.Len() == 0 {
		n.metrics.Notification(KindTriage, "skipped")
		return false, nil
	}
	return true, n.post(ctx, KindTriage, triageMessage(t))
}

func (n *Notifier) post(ctx context.Context, kind string, msg message) error {
	err := withRetry(ctx, n.attempts, n.baseDelay, func() (bool, error) {
		opts := []slack.MsgOption{slack.MsgOptionText(msg.text, false)}
		if len(msg.blocks) > 0 {
			opts = append(opts, slack.MsgOptionBlocks(msg.blocks...))
		}
		_, _, err := n.api.PostMessageContext(ctx, n.channel, opts...)
		return retryDecision(ctx, err)
	})
	if err != nil {
		n.metrics.Notification(kind, "error")
		return fmt.Errorf("post %s message: %w", kind, err)
	}
	n.metrics.Notification(kind, "ok")
	slog.Info("Slack notification posted", "kind", kind, "channel", n.channel)
	return nil
}

// retryDecision treats rate limiting as retryable after waiting the
// advertised delay. Every other error is final.
func retryDecision(ctx context.Context, err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) && rle != nil {
		if rle.RetryAfter > 0 {
			if serr := sleep(ctx, rle.RetryAfter); serr != nil {
				return false, err
			}
		}
		return true, err
	}
	return false, err
}

func withRetry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() (retryable bool, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || i == attempts-1 {
			break
		}
		if serr := sleep(ctx, baseDelay*time.Duration(1<<i)); serr != nil {
			return lastErr
		}
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
