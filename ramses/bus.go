package ramses

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Bus publishes routed Messages to an AMQP exchange as a JSON envelope,
// an optional egress alongside the in-process callback subscription
// surface described in §6. Grounded on the device-management example's
// amqp091-go usage for its own device-event stream (SPEC_FULL.md DOMAIN
// STACK).
type Bus struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// messageEnvelope is the JSON shape Publish emits for a message.
type messageEnvelope struct {
	Timestamp string   `json:"timestamp"`
	Verb      string   `json:"verb"`
	Src       string   `json:"src"`
	Dst       string   `json:"dst,omitempty"`
	Code      string   `json:"code"`
	Records   []Record `json:"records"`
}

// DialBus connects to url and declares a fanout exchange for routed
// message egress.
func DialBus(url, exchange string) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("ramses: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ramses: amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("ramses: amqp exchange declare: %w", err)
	}
	return &Bus{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish emits m as a JSON envelope on the bus's exchange.
func (b *Bus) Publish(ctx context.Context, m *Message) error {
	env := messageEnvelope{
		Timestamp: m.Packet.RxAt.Format("2006-01-02T15:04:05.000"),
		Verb:      string(m.Packet.Verb),
		Src:       m.Packet.Src().String(),
		Code:      m.Packet.Code,
		Records:   m.Records,
	}
	if dst := m.Packet.Dst(); dst.IsReal() {
		env.Dst = dst.String()
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ramses: marshal message envelope: %w", err)
	}
	return b.ch.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close tears down the channel and connection.
func (b *Bus) Close() error {
	if err := b.ch.Close(); err != nil {
		b.conn.Close()
		return err
	}
	return b.conn.Close()
}
