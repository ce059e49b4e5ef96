package bus

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"social-service/internal/observability"
	"social-service/internal/rabbitmq"
)

const originHeader = "x-origin-node"

// RoutingKey is the topic key an event kind travels under.
func RoutingKey(kind Kind) string {
	return "mutation." + string(kind)
}

// AMQPRelay mirrors mutation events across nodes through a topic exchange.
type AMQPRelay struct {
	bus       *Bus
	publisher rabbitmq.Publisher
	consumer  rabbitmq.Consumer
	log       *zap.Logger
}

// NewAMQPRelay builds a relay for b and attaches it.
func NewAMQPRelay(b *Bus, publisher rabbitmq.Publisher, consumer rabbitmq.Consumer, log *zap.Logger) *AMQPRelay {
	r := &AMQPRelay{bus: b, publisher: publisher, consumer: consumer, log: log.Named("relay")}
	b.SetRelay(r)
	return r
}

func (r *AMQPRelay) Forward(ctx context.Context, ev MutationEvent) error {
	err := r.publisher.PublishJSON(ctx, RoutingKey(ev.Kind), ev, map[string]string{originHeader: ev.Origin})
	if err != nil {
		observability.IncAMQPPublishError()
	}
	return err
}

// Run consumes remote events until ctx is done.
func (r *AMQPRelay) Run(ctx context.Context) error {
	return r.consumer.Consume(ctx, "mutation.#", func(d rabbitmq.Delivery) {
		r.handle(ctx, d)
	})
}

func (r *AMQPRelay) handle(ctx context.Context, d rabbitmq.Delivery) {
	if d.Headers[originHeader] == r.bus.NodeID() {
		return
	}
	var ev MutationEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		r.log.Warn("drop malformed mutation event", zap.String("routing_key", d.RoutingKey), zap.Error(err))
		return
	}
	if ev.Origin == r.bus.NodeID() {
		return
	}
	_ = r.bus.Deliver(ctx, ev)
}
