package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"alertrelay/internal/domain"

	"github.com/nats-io/nats.go"
)

// NATSSource consumes JSON transitions from a core NATS subject and answers
// point-in-time queries from a JetStream KV bucket keyed by entity name.
type NATSSource struct {
	nc      *nats.Conn
	kv      nats.KeyValue
	subject string
	logger  *slog.Logger
}

// NewNATSSource connects and opens (or creates) the health bucket.
// Params: server URLs, subject, bucket name, and logger.
// Returns: source or connection/setup error.
func NewNATSSource(urls []string, subject, bucket string, logger *slog.Logger) (*NATSSource, error) {
	nc, err := nats.Connect(strings.Join(urls, ","), nats.Name("healthwatch"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket, History: 1})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open health bucket %q: %w", bucket, err)
	}

	return &NATSSource{nc: nc, kv: kv, subject: subject, logger: logger}, nil
}

// Run subscribes to the transition subject until ctx ends.
// Params: lifecycle context and output channel.
// Returns: subscribe error.
func (s *NATSSource) Run(ctx context.Context, out chan<- domain.Transition) error {
	messages := make(chan *nats.Msg, 256)
	sub, err := s.nc.ChanSubscribe(s.subject, messages)
	if err != nil {
		return fmt.Errorf("subscribe %q: %w", s.subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-messages:
			transition, err := domain.DecodeTransition(msg.Data)
			if err != nil {
				s.logger.Warn("skip health transition", "subject", msg.Subject, "error", err)
				continue
			}
			select {
			case out <- transition:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Status reads current entity state from the KV bucket.
func (s *NATSSource) Status(_ context.Context, entity string) (domain.State, error) {
	entry, err := s.kv.Get(entity)
	if err != nil {
		return domain.StateUnknown, fmt.Errorf("read health %q: %w", entity, err)
	}
	return domain.ParseState(string(entry.Value())), nil
}

// Close drains the connection.
func (s *NATSSource) Close() error {
	if s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}
