package mq

import (
	"context"
	"errors"
	"fmt"
	"fuzzrig/config"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RabbitMQ publishes crash announcements. The connection is dialed on the
// first publish, so commands that never find a crash never touch the broker.
type RabbitMQ interface {
	// Publish declares the durable queue and publishes a persistent JSON
	// message to it, waiting for the broker to confirm it.
	Publish(ctx context.Context, queue string, body []byte) error
}

type rabbitMQ struct {
	logger *zap.Logger
	url    string

	mu       sync.Mutex
	conn     *amqp.Connection
	declared map[string]bool
}

type RabbitMQParams struct {
	fx.In

	Config    *config.AppConfig
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

// NewRabbitMQ returns nil when RABBITMQ_URL is not set.
func NewRabbitMQ(p RabbitMQParams) RabbitMQ {
	if p.Config.RabbitMQURL == "" {
		p.Logger.Debug("no rabbitmq configured")
		return nil
	}
	svc := &rabbitMQ{
		logger:   p.Logger.Named("mq"),
		url:      p.Config.RabbitMQURL,
		declared: make(map[string]bool),
	}
	p.Lifecycle.Append(fx.StopHook(svc.close))
	return svc
}

// connection returns the open connection, redialing when the broker closed it.
// r.mu must be held.
func (r *rabbitMQ) connection() (*amqp.Connection, error) {
	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			r.logger.Warn("rabbitmq connection closed", zap.Error(err))
		}
	}()
	r.conn = conn
	r.declared = make(map[string]bool)
	return conn, nil
}

func (r *rabbitMQ) Publish(ctx context.Context, queue string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.connection()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if !r.declared[queue] {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
		r.declared[queue] = true
	}
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable confirms: %w", err)
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errors.New("message was nacked by the broker")
	}
	r.logger.Debug("published", zap.String("queue", queue), zap.Int("size", len(body)))
	return nil
}

func (r *rabbitMQ) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn.Close()
}
