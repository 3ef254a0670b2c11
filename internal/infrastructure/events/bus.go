// Package events delivers domain events from the outbox to in-process
// listeners over a watermill gochannel.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"fiscalcore/pkg/logger"
)

// Bus is the in-process event bus. Delivery is at-least-once: the outbox
// relay only marks a message published after the bus accepted it, and
// handlers are retried before a message is dropped.
type Bus struct {
	pubsub *gochannel.GoChannel
	router *message.Router
	log    *logger.Logger
}

// NewBus creates the bus and its router.
func NewBus(log *logger.Logger) (*Bus, error) {
	wlog := NewLoggerAdapter(log)
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 100,
	}, wlog)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, wlog)
	if err != nil {
		return nil, fmt.Errorf("create event router: %w", err)
	}
	router.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2,
			Logger:          wlog,
		}.Middleware,
	)

	return &Bus{pubsub: pubsub, router: router, log: log}, nil
}

// Publisher returns the publishing side of the bus.
func (b *Bus) Publisher() message.Publisher { return b.pubsub }

// Handle subscribes h to topic. Must be called before Run.
func (b *Bus) Handle(name, topic string, h message.NoPublishHandlerFunc) {
	b.router.AddNoPublisherHandler(name, topic, b.pubsub, h)
}

// Run blocks until ctx is cancelled or the router fails.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running is closed once all handlers are subscribed.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Close stops the router and the channel.
func (b *Bus) Close() error {
	if err := b.router.Close(); err != nil {
		return err
	}
	return b.pubsub.Close()
}

// loggerAdapter implements watermill.LoggerAdapter on top of the application logger.
type loggerAdapter struct {
	l *logger.Logger
}

// NewLoggerAdapter wraps the application logger for watermill.
func NewLoggerAdapter(l *logger.Logger) watermill.LoggerAdapter {
	return loggerAdapter{l: l.WithComponent("events")}
}

func kv(fields watermill.LogFields) []any {
	out := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}

func (a loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.l.Errorw(msg, append(kv(fields), "error", err)...)
}

func (a loggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.l.Infow(msg, kv(fields)...)
}

func (a loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.l.Debugw(msg, kv(fields)...)
}

func (a loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.l.Debugw(msg, kv(fields)...)
}

func (a loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return loggerAdapter{l: a.l.With(kv(fields)...)}
}
