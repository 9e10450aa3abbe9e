package hub

import (
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/model"
)

// MonitorService gathers delivery-core statistics for the monitor API.
type MonitorService struct {
	hub *Hub
}

func NewMonitorService(hub *Hub) *MonitorService {
	return &MonitorService{hub: hub}
}

// GetStats gathers and returns all hub statistics.
func (ms *MonitorService) GetStats() model.MonitorResponse {
	connections := ms.getConnectionStats()
	presence := ms.getPresenceStats()
	conversations := ms.getConversationStats()

	status := "healthy"
	if connections.TotalDevices == 0 {
		status = "idle"
	}

	return model.MonitorResponse{
		Status:        status,
		Connections:   connections,
		Presence:      presence,
		Conversations: conversations,
		Typing:        ms.hub.typing.Snapshot(),
		Devices:       ms.getDeviceList(),
	}
}

func (ms *MonitorService) getConnectionStats() model.ConnectionStats {
	return model.ConnectionStats{
		TotalDevices: ms.hub.registry.Len(),
	}
}

func (ms *MonitorService) getPresenceStats() model.PresenceStats {
	return model.PresenceStats{
		OnlineAccounts:    ms.hub.presence.OnlineAccounts(),
		DevicesPerAccount: ms.hub.presence.DeviceCounts(),
	}
}

func (ms *MonitorService) getConversationStats() model.ConversationStats {
	snapshot := ms.hub.membership.Snapshot()

	stats := model.ConversationStats{
		CachedConversations: len(snapshot),
		Details:             make([]model.ConversationInfo, 0, len(snapshot)),
	}

	for conversationID, members := range snapshot {
		online := 0
		for _, member := range members {
			if ms.hub.presence.IsOnline(member) {
				online++
			}
		}
		stats.Details = append(stats.Details, model.ConversationInfo{
			ConversationID: conversationID,
			TotalMembers:   len(members),
			OnlineMembers:  online,
			MemberIDs:      members,
		})
	}

	return stats
}

func (ms *MonitorService) getDeviceList() []model.DeviceInfo {
	bindings := ms.hub.registry.Snapshot()
	out := make([]model.DeviceInfo, 0, len(bindings))
	for deviceID, accountID := range bindings {
		out = append(out, model.DeviceInfo{
			DeviceID:  deviceID,
			AccountID: accountID,
		})
	}
	return out
}
