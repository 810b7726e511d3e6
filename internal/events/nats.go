package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	streamName           = "HSYNC"
	streamSubjectPattern = "HSYNC.*"
	streamCreateTimeout  = 10 * time.Second
	duplicateWindow      = 20 * time.Minute
)

// NATSSink publishes emitted events to a NATS JetStream stream,
// deduplicated by message ID so a restart that re-emits a checkpoint
// does not double-publish it downstream.
type NATSSink struct {
	js     jetstream.JetStream
	nc     *nats.Conn
	logger zerolog.Logger
	prefix string
}

// NewNATSSink connects to natsURL and ensures the HSYNC stream exists.
func NewNATSSink(natsURL string, persistDuration time.Duration, subjectPrefix string, logger zerolog.Logger) (*NATSSink, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("hsync"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("events: jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamCreateTimeout)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{streamSubjectPattern},
		MaxAge:     persistDuration,
		Storage:    jetstream.FileStorage,
		Duplicates: duplicateWindow,
		Retention:  jetstream.LimitsPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("events: create stream: %w", err)
	}

	logger.Info().Str("stream", streamName).Msg("nats event sink initialized")

	return &NATSSink{js: js, nc: nc, logger: logger, prefix: subjectPrefix}, nil
}

// Run forwards events from ch until ctx is cancelled or ch closes.
func (s *NATSSink) Run(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := s.publish(ctx, e); err != nil {
				s.logger.Error().Err(err).Msg("failed to publish event")
			}
		}
	}
}

func (s *NATSSink) publish(ctx context.Context, e Event) error {
	var name, msgID string
	switch v := e.(type) {
	case HistoricalCheckpoint:
		name = "HistoricalCheckpoint"
		msgID = fmt.Sprintf("checkpoint-%d", v.BlockNumber)
	case SyncComplete:
		name = "SyncComplete"
		msgID = "sync-complete"
	default:
		return fmt.Errorf("events: unknown event type %T", e)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", name, err)
	}

	subject := fmt.Sprintf("%s.%s", s.prefix, name)
	_, err = s.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", name, err)
	}
	return nil
}

// Close closes the NATS connection.
func (s *NATSSink) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
