package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/nexuscloud/nexus/internal/config"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const publishBufferSize = 128

// amqpChannel is the subset of *amqp091.Channel the publisher uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher fans journalled tasks out to RabbitMQ for out-of-band tooling.
// Enqueue never blocks; Run drains the buffer until its context ends.
type Publisher struct {
	cfg  config.AMQPConfig
	log  *zap.Logger
	conn *amqp091.Connection
	ch   amqpChannel
	in   chan Task
}

// NewPublisher constructs an unconnected publisher.
func NewPublisher(cfg config.AMQPConfig, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		cfg: cfg,
		log: logger,
		in:  make(chan Task, publishBufferSize),
	}
}

// Connect dials the broker and declares the durable topic exchange.
func (p *Publisher) Connect(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	amqpCfg := amqp091.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Properties: amqp091.Table{
			"connection_name": "nexus-reconcile",
		},
		Dial: func(network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	}

	conn, err := amqp091.DialConfig(p.cfg.URL, amqpCfg)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, amqp091.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %q: %w", p.cfg.Exchange, err)
	}

	p.conn = conn
	p.ch = ch
	p.log.Info("rabbitmq connected", zap.String("exchange", p.cfg.Exchange))
	return nil
}

// Enqueue buffers a task for publishing; tasks are dropped when the buffer is full.
func (p *Publisher) Enqueue(task Task) {
	select {
	case p.in <- task:
	default:
		p.log.Warn("reconcile publish buffer full, dropping task",
			zap.String("task_id", task.ID.String()),
			zap.String("kind", string(task.Kind)),
		)
	}
}

// Run publishes buffered tasks until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	p.log.Info("starting reconcile publisher")
	defer p.log.Info("reconcile publisher stopped")

	for {
		select {
		case task := <-p.in:
			if err := p.publish(ctx, task); err != nil {
				p.log.Error("reconcile publish failed", zap.String("task_id", task.ID.String()), zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, task Task) error {
	if p.ch == nil {
		return fmt.Errorf("publisher not connected")
	}

	body, err := json.Marshal(task)
	if err != nil {
		return err
	}

	routingKey := p.cfg.RoutingKey + "." + string(task.Kind)
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    task.ID.String(),
		Timestamp:    task.CreatedAt,
		Type:         string(task.Kind),
		Body:         body,
	}
	return p.ch.PublishWithContext(ctx, p.cfg.Exchange, routingKey, false, false, msg)
}
