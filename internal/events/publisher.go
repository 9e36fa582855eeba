package events

import (
	"encoding/json"
	"time"

	"github.com/streadway/amqp"

	"peerline/internal/obs"
)

// Audit event names published to the fanout exchange.
const (
	SessionCreated = "session.created"
	SessionEnded   = "session.ended"
	SessionFlagged = "session.flagged"
	CrisisAlert    = "crisis.alert"
)

// Publisher emits audit events about session lifecycle and escalations.
// Publishing is best-effort: failures are logged, never propagated into the
// matching or session paths.
type Publisher interface {
	Publish(event string, payload any)
	Close()
}

type envelope struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// AMQPPublisher publishes JSON envelopes to a durable fanout exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPPublisher connects to RabbitMQ and declares the exchange.
func NewAMQPPublisher(amqpURL, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

// Publish marshals and sends one event envelope.
func (p *AMQPPublisher) Publish(event string, payload any) {
	body, err := json.Marshal(envelope{Event: event, Timestamp: time.Now().UTC(), Payload: payload})
	if err != nil {
		obs.Log.WithError(err).WithField("event", event).Error("failed to marshal audit event")
		return
	}
	err = p.channel.Publish(p.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		obs.Log.WithError(err).WithField("event", event).Warn("failed to publish audit event")
	}
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// NopPublisher discards events. Used when no AMQP URL is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(string, any) {}
func (NopPublisher) Close()              {}
