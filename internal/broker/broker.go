package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ignite/alertflow/internal/config"
)

// DLX is the dead-letter exchange every stage queue's DLQ binds to.
const DLX = "dlx"

// Routing keys on the dead-letter exchange, one per pipeline stage.
const (
	DLQKeyClass = "dlq.class"
	DLQKeySumm  = "dlq.summ"
	DLQKeyJira  = "dlq.jira"
)

// retryHeader carries the delivery attempt count across republishes.
const retryHeader = "x-retries"

// errorHeader carries the final failure reason onto dead-lettered messages.
const errorHeader = "x-error"

// ErrPermanent marks handler failures retrying cannot fix: malformed
// payloads, missing required fields. Such messages skip the retry
// budget and go straight to the DLQ.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// StageQueue pairs a work queue with its dead-letter queue and the
// routing key the DLQ is bound under.
type StageQueue struct {
	Name   string
	DLQ    string
	DLQKey string
}

// Topology returns the three stage queues from broker config.
func Topology(cfg config.BrokerConfig) []StageQueue {
	return []StageQueue{
		{Name: cfg.ClassQueue, DLQ: cfg.ClassDLQ, DLQKey: DLQKeyClass},
		{Name: cfg.SummQueue, DLQ: cfg.SummDLQ, DLQKey: DLQKeySumm},
		{Name: cfg.JiraQueue, DLQ: cfg.JiraDLQ, DLQKey: DLQKeyJira},
	}
}

// Broker wraps one AMQP connection plus the publish channel.
// Consumers open their own channels; retry republishes always use a
// fresh isolated connection so a poisoned consumer channel can never
// take the republish down with it. A lost connection is redialed
// lazily on the next publish or consume.
type Broker struct {
	url        string
	maxRetries int

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// Connect dials the broker and opens the shared publish channel.
func Connect(cfg config.BrokerConfig) (*Broker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &Broker{url: cfg.URL, maxRetries: cfg.MaxRetries, conn: conn, ch: ch}, nil
}

// Close tears down the channel and connection and disables redialing.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.ch != nil {
		b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// connLocked returns a live connection, redialing after an outage.
// Caller holds b.mu.
func (b *Broker) connLocked() (*amqp.Connection, error) {
	if b.closed {
		return nil, errors.New("broker is closed")
	}
	if b.conn == nil || b.conn.IsClosed() {
		conn, err := amqp.Dial(b.url)
		if err != nil {
			return nil, fmt.Errorf("redial broker: %w", err)
		}
		b.conn = conn
		b.ch = nil
		log.Printf("[Broker] connection re-established")
	}
	return b.conn, nil
}

// channelLocked returns the shared publish channel, reopening it (and
// the connection underneath) when the old one died. Caller holds b.mu.
func (b *Broker) channelLocked() (*amqp.Channel, error) {
	conn, err := b.connLocked()
	if err != nil {
		return nil, err
	}
	if b.ch == nil || b.ch.IsClosed() {
		ch, err := conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("open channel: %w", err)
		}
		b.ch = ch
	}
	return b.ch, nil
}

// MaxRetries reports the configured per-message retry budget.
func (b *Broker) MaxRetries() int { return b.maxRetries }

// DeclareTopology declares the stage queues, the dead-letter exchange
// and the DLQ bindings. Everything is durable and idempotent.
func (b *Broker) DeclareTopology(queues []StageQueue) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.channelLocked()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(DLX, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", DLX, err)
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q.Name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.Name, err)
		}
		if _, err := ch.QueueDeclare(q.DLQ, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.DLQ, err)
		}
		if err := ch.QueueBind(q.DLQ, q.DLQKey, DLX, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", q.DLQ, DLX, err)
		}
	}
	return nil
}

// Publish sends a persistent message to a queue via the default exchange.
func (b *Broker) Publish(ctx context.Context, queue string, body []byte) error {
	return b.publish(ctx, queue, body, nil)
}

func (b *Broker) publish(ctx context.Context, queue string, body []byte, headers amqp.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, err := b.channelLocked()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Handler processes one delivery. A nil return acks the message; a
// non-nil return routes it through the retry/DLQ protocol.
type Handler func(ctx context.Context, d amqp.Delivery) error

// Consume opens a dedicated channel on the queue with the given
// prefetch and runs the handler for every delivery until ctx is done.
// Blocks; run it in a goroutine.
func (b *Broker) Consume(ctx context.Context, queue StageQueue, prefetch int, handler Handler) error {
	b.mu.Lock()
	conn, err := b.connLocked()
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("consumer connection %s: %w", queue.Name, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("consumer channel %s: %w", queue.Name, err)
	}
	defer ch.Close()

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("qos %s: %w", queue.Name, err)
	}
	deliveries, err := ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue.Name, err)
	}

	log.Printf("[Broker] consuming %s (prefetch %d)", queue.Name, prefetch)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("consume %s: delivery channel closed", queue.Name)
			}
			if err := handler(ctx, d); err != nil {
				b.handleFailure(d, queue, err)
				continue
			}
			if err := d.Ack(false); err != nil {
				log.Printf("[Broker] ack on %s failed: %v", queue.Name, err)
			}
		}
	}
}

// handleFailure implements the retry protocol: under the retry budget
// the message is nacked without requeue and a copy with a bumped
// attempt counter is republished on an isolated connection; at the
// budget, or on a permanent failure, it is dead-lettered with the
// failure reason attached.
func (b *Broker) handleFailure(d amqp.Delivery, queue StageQueue, procErr error) {
	retries := RetryCount(d.Headers)
	if err := d.Nack(false, false); err != nil {
		log.Printf("[Broker] nack on %s failed: %v", queue.Name, err)
	}

	if !b.shouldDeadLetter(procErr, retries) {
		log.Printf("[Broker] retry %d/%d on %s: %v", retries+1, b.maxRetries, queue.Name, procErr)
		if err := b.republish(queue.Name, d.Body, bumpRetries(d.Headers)); err != nil {
			// the message is lost at this point; this must stay loud
			log.Printf("[Broker] FATAL republish to %s failed, message lost: %v", queue.Name, err)
		}
		return
	}

	log.Printf("[Broker] dead-lettering from %s: %v", queue.Name, procErr)
	if err := b.deadLetter(queue.DLQKey, d.Body, procErr); err != nil {
		log.Printf("[Broker] dead-letter to %s failed: %v", queue.DLQKey, err)
	}
}

// shouldDeadLetter decides between another retry and the DLQ.
// Permanent failures never get a retry.
func (b *Broker) shouldDeadLetter(procErr error, retries int) bool {
	return errors.Is(procErr, ErrPermanent) || retries >= b.maxRetries
}

// republish uses a fresh connection and channel so it cannot be
// affected by whatever broke the consumer's channel.
func (b *Broker) republish(queue string, body []byte, headers amqp.Table) error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("republish dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("republish channel: %w", err)
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("republish to %s: %w", queue, err)
	}
	return nil
}

func (b *Broker) deadLetter(routingKey string, body []byte, procErr error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, err := b.channelLocked()
	if err != nil {
		return fmt.Errorf("dead-letter %s: %w", routingKey, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = ch.PublishWithContext(ctx, DLX, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{errorHeader: procErr.Error()},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("dead-letter %s: %w", routingKey, err)
	}
	return nil
}

// RetryCount reads the attempt counter from message headers. AMQP
// servers hand integer headers back in several widths.
func RetryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers[retryHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// bumpRetries copies the headers with the attempt counter incremented.
func bumpRetries(headers amqp.Table) amqp.Table {
	out := amqp.Table{}
	for k, v := range headers {
		out[k] = v
	}
	out[retryHeader] = int32(RetryCount(headers) + 1)
	return out
}

// Ping dials the broker with a short timeout and closes immediately.
// The supervisor uses it as a liveness probe.
func Ping(url string, timeout time.Duration) error {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(timeout)})
	if err != nil {
		return fmt.Errorf("broker ping: %w", err)
	}
	return conn.Close()
}
