package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/yairfalse/vigil/internal/plugin"
	"github.com/yairfalse/vigil/telemetry"
)

// NATSOptions configures the NATS source. A non-empty Queue joins a queue
// group so several daemons share the subject.
type NATSOptions struct {
	URL     string
	Subject string
	Queue   string
}

// NATSSource subscribes to a subject carrying JSON events.
type NATSSource struct {
	opts   NATSOptions
	logger *telemetry.Logger
}

// NewNATSSource creates a NATS source. The connection is made in Run.
func NewNATSSource(opts NATSOptions) (*NATSSource, error) {
	if opts.URL == "" || opts.Subject == "" {
		return nil, errors.New("nats: url and subject are required")
	}
	return &NATSSource{opts: opts, logger: telemetry.NewLogger("nats-source")}, nil
}

// Name implements plugin.Source.
func (s *NATSSource) Name() string { return "nats" }

// Run implements plugin.Source.
func (s *NATSSource) Run(ctx context.Context, handle plugin.Handler) error {
	nc, err := nats.Connect(s.opts.URL, nats.Name("vigil"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	cb := func(msg *nats.Msg) {
		s.handleMessage(ctx, msg.Subject, msg.Data, handle)
	}

	var sub *nats.Subscription
	if s.opts.Queue != "" {
		sub, err = nc.QueueSubscribe(s.opts.Subject, s.opts.Queue, cb)
	} else {
		sub, err = nc.Subscribe(s.opts.Subject, cb)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.opts.Subject, err)
	}

	s.logger.WithContext(ctx).Info().
		Str("subject", s.opts.Subject).
		Str("queue", s.opts.Queue).
		Msg("nats source subscribed")

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		s.logger.WithContext(ctx).Warn().Err(err).Msg("failed to drain subscription")
	}
	return nil
}

// NATS has no redelivery without JetStream, so handler errors are logged.
func (s *NATSSource) handleMessage(ctx context.Context, subject string, data []byte, handle plugin.Handler) {
	in, err := plugin.Decode(data)
	if err != nil {
		s.logger.WithContext(ctx).Warn().Err(err).Str("subject", subject).Msg("skipping invalid event message")
		return
	}
	if err := handle(ctx, in); err != nil && ctx.Err() == nil {
		s.logger.WithContext(ctx).Warn().Err(err).Str("subject", subject).Str("event_type", in.EventType).Msg("event not accepted")
	}
}
