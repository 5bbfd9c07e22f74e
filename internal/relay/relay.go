// Package relay republishes live webhook records to a RabbitMQ topic
// exchange, so local consumers can process traffic observed by the console.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNoRoute is returned when a relayed record cannot be routed to any queue
// (no consumer has bound the record's routing key).
var ErrNoRoute = errors.New("record not routed to any queue")

const (
	ExchangeName = "hookscope.records"
	ExchangeType = "topic"

	reconnectDelay = time.Second
	reconnectCap   = 30 * time.Second
)

// Publisher wraps a RabbitMQ connection with automatic reconnection.
type Publisher struct {
	url string

	mu          sync.RWMutex
	conn        *amqp.Connection
	channel     *amqp.Channel
	closed      bool
	returnCh    chan amqp.Return
	notifyClose chan *amqp.Error

	pubMu sync.Mutex
}

// NewPublisher connects to RabbitMQ and declares the records exchange.
func NewPublisher(url string) (*Publisher, error) {
	p := &Publisher{url: url}

	if err := p.connect(); err != nil {
		return nil, err
	}

	go p.handleReconnect()
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName,
		ExchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Publisher confirms let us detect unroutable records.
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	returnCh := make(chan amqp.Return, 1)
	ch.NotifyReturn(returnCh)

	// Channel-level close notification also fires when the underlying
	// connection drops, so one listener covers both failure modes.
	notifyClose := make(chan *amqp.Error, 1)
	ch.NotifyClose(notifyClose)

	p.mu.Lock()
	p.conn = conn
	p.channel = ch
	p.returnCh = returnCh
	p.notifyClose = notifyClose
	p.mu.Unlock()

	return nil
}

// handleReconnect re-establishes the broker session when the channel fails,
// retrying with linearly growing, capped delay until it succeeds or the
// publisher is closed.
func (p *Publisher) handleReconnect() {
	for {
		p.mu.RLock()
		closed := p.closed
		notifyClose := p.notifyClose
		p.mu.RUnlock()
		if closed {
			return
		}

		if err := <-notifyClose; err == nil {
			// Graceful close, exit
			return
		}

		for attempt := 1; ; attempt++ {
			p.mu.RLock()
			closed := p.closed
			p.mu.RUnlock()
			if closed {
				return
			}

			delay := reconnectBackoff(attempt)
			log.Warn("Relay session lost, reconnecting", "attempt", attempt, "delay", delay)
			time.Sleep(delay)

			if err := p.connect(); err != nil {
				log.Error("Relay reconnect attempt failed", "attempt", attempt, "error", err)
				continue
			}

			log.Info("Relay reconnected", "attempt", attempt)
			break
		}
	}
}

// reconnectBackoff grows linearly per attempt up to the cap.
func reconnectBackoff(attempt int) time.Duration {
	delay := time.Duration(attempt) * reconnectDelay
	if delay > reconnectCap {
		delay = reconnectCap
	}
	return delay
}

// IsConnected reports broker connectivity.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn != nil && !p.conn.IsClosed()
}

// Close cleanly shuts down the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// RoutingKey builds the routing key for a path's records.
func RoutingKey(pathID string) string {
	return fmt.Sprintf("record.%s", pathID)
}

// Publish forwards one record body to the exchange under the path's routing
// key. Returns ErrNoRoute when no queue is bound for the key.
func (p *Publisher) Publish(ctx context.Context, pathID string, body []byte) error {
	// Serialize publishes to correlate confirms with returns
	p.pubMu.Lock()
	defer p.pubMu.Unlock()

	p.mu.RLock()
	ch := p.channel
	returnCh := p.returnCh
	p.mu.RUnlock()

	if ch == nil {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	// Drain any stale return from a previous publish
	select {
	case <-returnCh:
	default:
	}

	dc, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		ExchangeName,
		RoutingKey(pathID),
		true,  // mandatory: return message if no queue is bound
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish record: %w", err)
	}

	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm record: %w", err)
	}
	if !ok {
		return fmt.Errorf("record was nacked by broker")
	}

	// With mandatory=true the broker sends basic.return before basic.ack,
	// so an unroutable record is already in the channel here.
	select {
	case <-returnCh:
		return ErrNoRoute
	default:
		return nil
	}
}
