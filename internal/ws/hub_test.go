package ws

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceAnnouncedOncePerTransition(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(staticFollowers{"u": {"f1", "f2"}})

	f1 := newSink()
	f1Messaging := newSink()
	_, err := hub.Connect(ctx, "f1", ChannelSocial, f1)
	require.NoError(t, err)
	_, err = hub.Connect(ctx, "f1", ChannelMessaging, f1Messaging)
	require.NoError(t, err)

	first, err := hub.Connect(ctx, "u", ChannelSocial, newSink())
	require.NoError(t, err)
	second, err := hub.Connect(ctx, "u", ChannelNotifications, newSink())
	require.NoError(t, err)
	assert.Equal(t, 1, f1.count(EventUserOnline))
	assert.Zero(t, f1Messaging.count(EventUserOnline))

	hub.Disconnect(ctx, first.ID)
	assert.Zero(t, f1.count(EventUserOffline))

	hub.Disconnect(ctx, second.ID)
	hub.Disconnect(ctx, second.ID)
	assert.Equal(t, 1, f1.count(EventUserOffline))
	assert.Equal(t, 1, f1.count(EventUserOnline))
}

func TestPresenceNotSentToNonFollowers(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(staticFollowers{"u": {"f1"}})

	stranger := newSink()
	_, err := hub.Connect(ctx, "stranger", ChannelSocial, stranger)
	require.NoError(t, err)
	_, err = hub.Connect(ctx, "u", ChannelSocial, newSink())
	require.NoError(t, err)

	assert.Zero(t, stranger.count(EventUserOnline))
}
