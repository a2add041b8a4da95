package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/compute-market/pkg/model"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes events to a RabbitMQ topic exchange with routing key
// {base}.{event_type}, e.g. audit.negotiation.accepted.
type AMQPSink struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	base     string
	logger   *zap.Logger
}

// NewAMQPSink dials RabbitMQ and declares the durable topic exchange.
func NewAMQPSink(url, exchange, routingBase string, logger *zap.Logger) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	s := newAMQPSink(ch, exchange, routingBase, logger)
	s.conn = conn
	return s, nil
}

func newAMQPSink(ch amqpChannel, exchange, routingBase string, logger *zap.Logger) *AMQPSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPSink{channel: ch, exchange: exchange, base: routingBase, logger: logger}
}

func (s *AMQPSink) routingKey(eventType string) string {
	if s.base == "" {
		return eventType
	}
	return s.base + "." + eventType
}

func (s *AMQPSink) Emit(ctx context.Context, ev model.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}

	key := s.routingKey(ev.Type)
	err = s.channel.PublishWithContext(ctx,
		s.exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			CorrelationId: ev.QuoteID,
			Type:          ev.Type,
			Timestamp:     time.Now().UTC(),
			Body:          body,
		},
	)
	if err != nil {
		s.logger.Warn("audit.amqp_publish_failed",
			zap.String("routing_key", key),
			zap.Error(err))
		return err
	}
	return nil
}

// Close closes the channel and connection.
func (s *AMQPSink) Close() error {
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
