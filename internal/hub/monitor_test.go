package hub

import (
	"context"
	"testing"

	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorStatsIdleWhenNoDevices(t *testing.T) {
	th := newTestHub(t)

	stats := NewMonitorService(th.hub).GetStats()
	assert.Equal(t, "idle", stats.Status)
	assert.Zero(t, stats.Connections.TotalDevices)
	assert.Zero(t, stats.Presence.OnlineAccounts)
}

func TestMonitorStatsReflectHubState(t *testing.T) {
	th := newTestHub(t)
	th.conversations.set("conv-1", "acc-a", "acc-b")

	_, err := th.hub.Membership().MembersOf(context.Background(), "conv-1")
	require.NoError(t, err)

	th.connect(t, "dev-a1", "acc-a")
	th.connect(t, "dev-a2", "acc-a")

	th.hub.Typing().SetTyping("conv-1", "acc-a")

	stats := NewMonitorService(th.hub).GetStats()

	assert.Equal(t, "healthy", stats.Status)
	assert.Equal(t, 2, stats.Connections.TotalDevices)
	assert.Equal(t, 1, stats.Presence.OnlineAccounts)
	assert.Equal(t, map[string]int{"acc-a": 2}, stats.Presence.DevicesPerAccount)

	require.Equal(t, 1, stats.Conversations.CachedConversations)
	detail := stats.Conversations.Details[0]
	assert.Equal(t, "conv-1", detail.ConversationID)
	assert.Equal(t, 2, detail.TotalMembers)
	assert.Equal(t, 1, detail.OnlineMembers)

	require.Len(t, stats.Typing, 1)
	assert.Equal(t, "acc-a", stats.Typing[0].AccountID)

	assert.ElementsMatch(t, []model.DeviceInfo{
		{DeviceID: "dev-a1", AccountID: "acc-a"},
		{DeviceID: "dev-a2", AccountID: "acc-a"},
	}, stats.Devices)
}
