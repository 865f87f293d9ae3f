// Package events publishes battle lifecycle events to a RabbitMQ topic
// exchange for downstream consumers (progression, analytics, notifications).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Routing keys.
const (
	TurnResolved  = "turn.resolved"
	BattleStarted = "battle.started"
	BattleEnded   = "battle.ended"
)

const exchangeType = "topic"

// AMQPPublisher publishes JSON events on a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// Dial connects to url and declares exchange.
func Dial(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	p, err := NewAMQPPublisher(conn, exchange)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// NewAMQPPublisher opens a channel on conn and declares exchange. Declaring
// an existing exchange with the same settings is a no-op.
func NewAMQPPublisher(conn *amqp.Connection, exchange string) (*AMQPPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("amqp connection is nil")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		exchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	log.Info().Str("exchange", exchange).Msg("Event exchange declared")
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish sends payload as JSON under routingKey. messageID, when set,
// lets consumers deduplicate redeliveries.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey, messageID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", routingKey, err)
	}
	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s event: %w", routingKey, err)
	}
	log.Debug().Str("routingKey", routingKey).Str("messageId", messageID).Msg("Event published")
	return nil
}

// Close closes the channel and the underlying connection.
func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			return err
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
