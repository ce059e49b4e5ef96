package rabbitmq

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Delivery is one message received from the exchange.
type Delivery struct {
	RoutingKey string
	Headers    map[string]string
	Body       []byte
}

// Consumer receives messages from a topic exchange through a private queue.
type Consumer interface {
	// Consume blocks, calling fn for each message matching bindingKey, until
	// ctx is done or the broker connection is lost.
	Consume(ctx context.Context, bindingKey string, fn func(Delivery)) error
	Close() error
}

// NewConsumer builds a RabbitMQ consumer or a noop consumer when AMQP is disabled.
func NewConsumer(amqpURL, exchange string, log *zap.Logger) Consumer {
	log = log.Named("rabbitmq")
	if amqpURL == "" {
		return noopConsumer{}
	}
	conn, ch, err := openChannel(amqpURL, exchange)
	if err != nil {
		log.Warn("rabbitmq consumer disabled, using noop", zap.Error(err))
		return noopConsumer{}
	}
	return &amqpConsumer{conn: conn, ch: ch, exchange: exchange, log: log}
}

type amqpConsumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger
}

func (c *amqpConsumer) Consume(ctx context.Context, bindingKey string, fn func(Delivery)) error {
	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := c.ch.QueueBind(q.Name, bindingKey, c.exchange, false, nil); err != nil {
		return err
	}
	deliveries, err := c.ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return err
	}
	c.log.Info("rabbitmq consuming", zap.String("queue", q.Name), zap.String("binding", bindingKey))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			headers := make(map[string]string, len(d.Headers))
			for k, v := range d.Headers {
				if s, ok := v.(string); ok {
					headers[k] = s
				}
			}
			fn(Delivery{RoutingKey: d.RoutingKey, Headers: headers, Body: d.Body})
		}
	}
}

func (c *amqpConsumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

type noopConsumer struct{}

func (noopConsumer) Consume(ctx context.Context, _ string, _ func(Delivery)) error {
	<-ctx.Done()
	return nil
}

func (noopConsumer) Close() error { return nil }
