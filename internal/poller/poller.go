package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	EventLogout       = "logout"
	EventSessionEnded = "session_ended"
)

var (
	// ErrMalformedEvent marks events that can never be handled. They are
	// committed and skipped instead of retried.
	ErrMalformedEvent   = errors.New("malformed session event")
	ErrMissingSessionID = fmt.Errorf("%w: missing or invalid session_id", ErrMalformedEvent)
)

// ClearFunc empties the cart stored in the given session.
type ClearFunc func(ctx context.Context, sessionID string) error

// SessionEvent is the payload published on the session events topic.
type SessionEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Poller struct {
	clearCart  ClearFunc
	reader     messageReader
	logger     *zap.Logger
	newBackOff func() backoff.BackOff
}

func NewPoller(clearCart ClearFunc, logger *zap.Logger, topic, groupID string, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{
		clearCart:  clearCart,
		reader:     reader,
		logger:     logger,
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	return b
}

// Run consumes session events until ctx is done. An event's offset is
// committed only once it has been handled or deliberately skipped, so a
// failed clear is retried and never lost.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("error fetching message", zap.Error(err))
			}
			continue
		}
		if err := p.process(ctx, m); err != nil {
			// only a cancelled ctx ends the retries; the event is redelivered
			continue
		}
		if err := p.reader.CommitMessages(ctx, m); err != nil {
			p.logger.Error("error committing message",
				zap.Int64("offset", m.Offset),
				zap.Error(err))
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.logger.Error("error closing reader", zap.Error(err))
	}
}

// process handles m, retrying transient failures with backoff until ctx is done.
func (p *Poller) process(ctx context.Context, m kafka.Message) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := p.handleMessage(ctx, m.Value)
		if errors.Is(err, ErrMalformedEvent) {
			p.logger.Warn("session event skipped",
				zap.Int64("offset", m.Offset),
				zap.Error(err))
			return struct{}{}, nil
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Error("failed to handle session event, retrying",
				zap.Int64("offset", m.Offset),
				zap.Duration("retry_in", next),
				zap.Error(err))
		}),
	)
	return err
}

func (p *Poller) handleMessage(ctx context.Context, value []byte) error {
	var event SessionEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch event.Type {
	case EventLogout, EventSessionEnded:
	default:
		p.logger.Debug("ignoring session event", zap.String("type", event.Type))
		return nil
	}

	if event.SessionID == "" {
		return ErrMissingSessionID
	}

	if err := p.clearCart(ctx, event.SessionID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	p.logger.Info("cart cleared",
		zap.String("session_id", event.SessionID),
		zap.String("event", event.Type))
	return nil
}
