// Package events publishes committed booking events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Message is one event ready for the broker. Key selects the queue.
type Message struct {
	ID        string
	Key       string
	Timestamp time.Time
	Payload   interface{}
}

// AMQPPublisher publishes JSON messages to durable queues named prefix + key. The connection is
// dialled lazily and re-dialled after a failure.
type AMQPPublisher struct {
	url    string
	prefix string
	logger *zap.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]struct{}
}

// NewAMQPPublisher constructs a publisher. No connection is made until the first Publish.
func NewAMQPPublisher(url, prefix string, logger *zap.Logger) *AMQPPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPPublisher{url: url, prefix: prefix, logger: logger, declared: make(map[string]struct{})}
}

// QueueName returns the queue a key is routed to.
func (p *AMQPPublisher) QueueName(key string) string {
	return p.prefix + key
}

// Publish sends the message as a persistent delivery.
func (p *AMQPPublisher) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	queue := p.QueueName(msg.Key)
	if _, ok := p.declared[queue]; !ok {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			p.resetLocked()
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		p.declared[queue] = struct{}{}
	}

	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         msg.Key,
		Timestamp:    timestamp,
		Body:         body,
	})
	if err != nil {
		p.resetLocked()
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Close releases the broker connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.conn != nil {
		err = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
	return err
}

func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.resetLocked()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p.conn, p.ch = conn, ch
	p.logger.Info("connected to broker")
	return ch, nil
}

func (p *AMQPPublisher) resetLocked() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
	p.declared = make(map[string]struct{})
}
