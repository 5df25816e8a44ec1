// Package errsink forwards permission errors to RabbitMQ so denied writes can
// be audited outside the process that dispatched them.
package errsink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/vbonduro/buildtrack/internal/auth"
	"github.com/vbonduro/buildtrack/internal/errsurface"
)

const (
	ExchangeName = "buildtrack.events"
	RoutingKey   = "permission.denied"

	publishTimeout = 2 * time.Second
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

type Message struct {
	Path       string               `json:"path"`
	Operation  errsurface.Operation `json:"operation"`
	Principal  *auth.Principal      `json:"principal"`
	Request    json.RawMessage      `json:"request"`
	OccurredAt time.Time            `json:"occurredAt"`
}

type Sink struct {
	pub    publisher
	logger *slog.Logger
	closer func()
	now    func() time.Time
}

// Dial connects to url and declares the exchange.
func Dial(url string, logger *slog.Logger) (*Sink, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	s := newSink(ch, logger)
	s.closer = func() {
		_ = ch.Close()
		_ = conn.Close()
	}
	return s, nil
}

func newSink(pub publisher, logger *slog.Logger) *Sink {
	return &Sink{pub: pub, logger: logger, now: time.Now}
}

func (s *Sink) Close() {
	if s.closer != nil {
		s.closer()
	}
}

// Attach subscribes the sink to em and returns the detach func.
func (s *Sink) Attach(em *errsurface.Emitter) (detach func()) {
	return em.On(errsurface.EventPermissionError, s.handle)
}

func (s *Sink) handle(perr *errsurface.PermissionError) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.Publish(ctx, perr); err != nil {
		s.logger.Warn("failed to forward permission error", "path", perr.Path, "error", err)
	}
}

func (s *Sink) Publish(ctx context.Context, perr *errsurface.PermissionError) error {
	body, err := json.Marshal(Message{
		Path:       perr.Path,
		Operation:  perr.Operation,
		Principal:  perr.Principal,
		Request:    perr.Request(),
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return s.pub.PublishWithContext(ctx, ExchangeName, RoutingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    s.now(),
	})
}
