// Package bus wraps the AMQP wire protocol shared by the listener,
// backfiller, and ingestor: two durable fanout exchanges feeding two
// durable queues, with manual ack/requeue semantics so the persister is
// always the one deciding a message's fate.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	RealtimeExchange   = "realtime_fanout"
	HistoricalExchange = "historical_fanout"
	RealtimeQueue      = "realtime_raw"
	HistoricalQueue    = "historical_raw"
	BackfillJobsQueue  = "backfill_jobs"
)

// Event is the payload shape published on both fanout exchanges.
type Event struct {
	Event          string          `json:"event"` // "NewMessage" | "HistoricalMessage"
	ChatID         int64           `json:"chat_id"`
	MessageID      int32           `json:"message_id"`
	Message        json.RawMessage `json:"message"`
	SenderUsername *string         `json:"sender_username"`
	ChatUsername   *string         `json:"chat_username"`
	TraceParent    string          `json:"traceparent,omitempty"`
}

const (
	EventNewMessage        = "NewMessage"
	EventHistoricalMessage = "HistoricalMessage"
)

// DecodeEvent parses a delivery body into an Event.
func DecodeEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("bus: decode event: %w", err)
	}
	return ev, nil
}

// Conn owns one AMQP connection and channel, declaring the topology this
// service relies on up front so every publisher/consumer can assume it
// already exists.
type Conn struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects and declares both fanout exchanges and their bound durable
// queues, plus the backfill job queue the scheduler publishes to.
func Dial(url string) (*Conn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("bus: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: channel: %w", err)
	}
	c := &Conn{conn: conn, ch: ch}
	if err := c.declareTopology(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) declareTopology() error {
	for _, pair := range []struct{ exchange, queue string }{
		{RealtimeExchange, RealtimeQueue},
		{HistoricalExchange, HistoricalQueue},
	} {
		if err := c.ch.ExchangeDeclare(pair.exchange, "fanout", true, false, false, false, nil); err != nil {
			return fmt.Errorf("bus: declare exchange %s: %w", pair.exchange, err)
		}
		if _, err := c.ch.QueueDeclare(pair.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("bus: declare queue %s: %w", pair.queue, err)
		}
		if err := c.ch.QueueBind(pair.queue, "", pair.exchange, false, nil); err != nil {
			return fmt.Errorf("bus: bind %s to %s: %w", pair.queue, pair.exchange, err)
		}
	}
	if _, err := c.ch.QueueDeclare(BackfillJobsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("bus: declare queue %s: %w", BackfillJobsQueue, err)
	}
	return nil
}

func (c *Conn) Close() error {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// PublishEvent publishes ev on exchange with persistent delivery, so it
// survives a broker restart while waiting to be consumed.
func (c *Conn) PublishEvent(ctx context.Context, exchange string, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}
	return c.ch.PublishWithContext(ctx, exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// PublishJSON publishes an arbitrary JSON body directly to a named queue
// (used by the scheduler for backfill job requests).
func (c *Conn) PublishJSON(ctx context.Context, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: marshal: %w", err)
	}
	return c.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Consume returns a delivery channel for queue with manual acks; QoS is set
// so a consumer never has more than prefetch unacked deliveries in flight,
// keeping one slow LLM batch from starving the rest of the prefetch window.
func (c *Conn) Consume(queue string, prefetch int) (<-chan amqp.Delivery, error) {
	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("bus: qos: %w", err)
	}
	deliveries, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("bus: consume %s: %w", queue, err)
	}
	return deliveries, nil
}

// AckAll acknowledges every delivery in a batch.
func AckAll(deliveries []amqp.Delivery) {
	for _, d := range deliveries {
		_ = d.Ack(false)
	}
}

// RequeueAll rejects every delivery in a batch with requeue=true, used only
// for the LLM 4xx/5xx batch-failure path.
func RequeueAll(deliveries []amqp.Delivery) {
	for _, d := range deliveries {
		_ = d.Reject(true)
	}
}

// RejectAll rejects every delivery without requeue, for permanently
// undeliverable payloads (e.g. unparseable JSON).
func RejectAll(deliveries []amqp.Delivery) {
	for _, d := range deliveries {
		_ = d.Reject(false)
	}
}
