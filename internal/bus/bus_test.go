package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"social-service/internal/mocks"
	"social-service/internal/rabbitmq"
)

func TestPublishRunsSubscribersSynchronously(t *testing.T) {
	b := New("node-a", zap.NewNop())
	var seen []string
	b.Subscribe(KindPostDeleted, "feed", func(_ context.Context, ev MutationEvent) error {
		seen = append(seen, "feed:"+ev.EntityID)
		return nil
	})
	b.Subscribe(KindPostDeleted, "search", func(_ context.Context, ev MutationEvent) error {
		seen = append(seen, "search:"+ev.Origin)
		return nil
	})
	b.Subscribe(KindPostEdited, "other", func(context.Context, MutationEvent) error {
		seen = append(seen, "edited")
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), MutationEvent{Kind: KindPostDeleted, EntityID: "p1"}))
	assert.Equal(t, []string{"feed:p1", "search:node-a"}, seen)
}

func TestPublishCombinesSubscriberErrors(t *testing.T) {
	b := New("node-a", zap.NewNop())
	ran := 0
	b.Subscribe(KindMessageEdited, "first", func(context.Context, MutationEvent) error {
		ran++
		return errors.New("redis down")
	})
	b.Subscribe(KindMessageEdited, "second", func(context.Context, MutationEvent) error {
		ran++
		return errors.New("cache full")
	})

	err := b.Publish(context.Background(), MutationEvent{Kind: KindMessageEdited, EntityID: "m1"})
	require.Error(t, err)
	assert.Equal(t, 2, ran)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), "first: redis down")
}

type scriptedConsumer struct {
	deliveries []rabbitmq.Delivery
}

func (c *scriptedConsumer) Consume(_ context.Context, _ string, fn func(rabbitmq.Delivery)) error {
	for _, d := range c.deliveries {
		fn(d)
	}
	return nil
}

func (c *scriptedConsumer) Close() error { return nil }

func TestRelayForwardsLocalEvents(t *testing.T) {
	b := New("node-a", zap.NewNop())
	pub := &mocks.PublisherMock{}
	pub.On("PublishJSON", mock.Anything, "mutation.post.deleted", mock.AnythingOfType("bus.MutationEvent"),
		map[string]string{originHeader: "node-a"}).Return(nil).Once()
	NewAMQPRelay(b, pub, &scriptedConsumer{}, zap.NewNop())

	require.NoError(t, b.Publish(context.Background(), MutationEvent{Kind: KindPostDeleted, EntityID: "p1"}))
	pub.AssertExpectations(t)
}

func TestRelayFailureDoesNotFailPublish(t *testing.T) {
	b := New("node-a", zap.NewNop())
	pub := &mocks.PublisherMock{}
	pub.On("PublishJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker gone"))
	NewAMQPRelay(b, pub, &scriptedConsumer{}, zap.NewNop())

	assert.NoError(t, b.Publish(context.Background(), MutationEvent{Kind: KindPostEdited, EntityID: "p1"}))
}

func TestRelayDeliversRemoteEventsOnly(t *testing.T) {
	b := New("node-a", zap.NewNop())
	var got []string
	b.Subscribe(KindConversationUpdated, "participants", func(_ context.Context, ev MutationEvent) error {
		got = append(got, ev.EntityID)
		return nil
	})

	encode := func(ev MutationEvent) []byte {
		raw, err := json.Marshal(ev)
		require.NoError(t, err)
		return raw
	}
	consumer := &scriptedConsumer{deliveries: []rabbitmq.Delivery{
		{Headers: map[string]string{originHeader: "node-b"}, Body: encode(MutationEvent{Kind: KindConversationUpdated, EntityID: "c-remote", Origin: "node-b"})},
		{Headers: map[string]string{originHeader: "node-a"}, Body: encode(MutationEvent{Kind: KindConversationUpdated, EntityID: "c-echo", Origin: "node-a"})},
		{Body: []byte("{not json")},
	}}
	pub := &mocks.PublisherMock{}
	relay := NewAMQPRelay(b, pub, consumer, zap.NewNop())

	require.NoError(t, relay.Run(context.Background()))
	assert.Equal(t, []string{"c-remote"}, got)
	pub.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
