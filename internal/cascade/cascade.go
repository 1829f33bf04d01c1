package cascade

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"alertrelay/internal/domain"
	"alertrelay/internal/notify"
	"alertrelay/internal/templatefmt"
)

// Rung names reported by Deliver.
const (
	RungPrimary = "primary"
	RungDirect  = "direct"
	RungLog     = "log"
)

// DegradedAnnotation is appended to alerts sent around an unavailable relay.
const DegradedAnnotation = "⚠️ primary notifier unavailable, sent directly"

// Strategy is one delivery rung.
type Strategy interface {
	Name() string
	Deliver(ctx context.Context, title, body string) error
}

// Cascade tries strategies in order and stops at the first success.
type Cascade struct {
	strategies []Strategy
	last       Strategy
	logger     *slog.Logger
	observe    func(rung string)
}

// New builds a cascade; the log rung is always appended as the final step.
// Params: ordered upper rungs, last-resort rung, logger, and optional rung observer.
// Returns: cascade.
func New(strategies []Strategy, last *LogStrategy, logger *slog.Logger, observe func(rung string)) *Cascade {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cascade{strategies: strategies, last: last, logger: logger, observe: observe}
}

// Deliver attempts each rung exactly once, in order, until one succeeds.
// It never fails: the log rung absorbs every upstream failure.
// Params: context and alert title/body.
// Returns: name of the rung that delivered.
func (c *Cascade) Deliver(ctx context.Context, title, body string) string {
	for _, strategy := range c.strategies {
		err := strategy.Deliver(ctx, title, body)
		if err == nil {
			c.report(strategy.Name())
			return strategy.Name()
		}
		c.logger.Warn("cascade rung failed", "rung", strategy.Name(), "title", title, "error", err)
	}
	_ = c.last.Deliver(ctx, title, body)
	c.report(c.last.Name())
	return c.last.Name()
}

func (c *Cascade) report(rung string) {
	if c.observe != nil {
		c.observe(rung)
	}
}

// PrimaryStrategy posts to the relay's local alert endpoint.
type PrimaryStrategy struct {
	client  *notify.LocalClient
	timeout time.Duration
}

// NewPrimary creates the relay rung.
func NewPrimary(client *notify.LocalClient, timeout time.Duration) *PrimaryStrategy {
	return &PrimaryStrategy{client: client, timeout: timeout}
}

func (s *PrimaryStrategy) Name() string { return RungPrimary }

func (s *PrimaryStrategy) Deliver(ctx context.Context, title, body string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Post(ctx, title, body)
}

// DirectStrategy sends straight to the messaging provider with a static destination.
type DirectStrategy struct {
	gateway notify.Gateway
	dest    domain.Destination
	timeout time.Duration
}

// NewDirect creates the provider rung.
// Params: gateway built from fallback credentials, static destination, and timeout.
// Returns: strategy.
func NewDirect(gateway notify.Gateway, dest domain.Destination, timeout time.Duration) *DirectStrategy {
	return &DirectStrategy{gateway: gateway, dest: dest, timeout: timeout}
}

func (s *DirectStrategy) Name() string { return RungDirect }

// Deliver fails fast when no destination is configured.
func (s *DirectStrategy) Deliver(ctx context.Context, title, body string) error {
	if s.gateway == nil || s.dest.Empty() {
		return domain.Delivery(errors.New("direct rung credentials are not configured"))
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.gateway.Send(ctx, s.dest, FormatDirect(title, body))
}

// FormatDirect renders the provider message with the degraded-path annotation.
func FormatDirect(title, body string) string {
	text := "🔧 <b>" + templatefmt.EscapeHTML(title) + "</b>"
	if body != "" {
		text += "\n<code>" + templatefmt.EscapeHTML(body) + "</code>"
	}
	return text + "\n\n" + DegradedAnnotation
}

// LogStrategy writes one JSON line carrying the same title/body shape as the relay payload.
type LogStrategy struct {
	mu  sync.Mutex
	out io.Writer
}

// NewLog creates the last-resort rung; nil writer means stdout.
func NewLog(out io.Writer) *LogStrategy {
	if out == nil {
		out = os.Stdout
	}
	return &LogStrategy{out: out}
}

func (s *LogStrategy) Name() string { return RungLog }

// Deliver always returns nil; write errors have nowhere left to go.
func (s *LogStrategy) Deliver(_ context.Context, title, body string) error {
	line, err := json.Marshal(struct {
		Level  string `json:"level"`
		Source string `json:"source"`
		notify.LocalAlert
	}{
		Level:      "CRITICAL",
		Source:     "alert-cascade",
		LocalAlert: notify.LocalAlert{Title: title, Body: body},
	})
	if err != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.out.Write(append(line, '\n'))
	return nil
}
