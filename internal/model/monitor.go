package model

// -----------------------------------------------------------------
// Monitor API Response Models
// -----------------------------------------------------------------

// MonitorResponse is the main response for the monitor API.
type MonitorResponse struct {
	Status        string            `json:"status"` // "healthy" or "idle"
	Connections   ConnectionStats   `json:"connections"`
	Presence      PresenceStats     `json:"presence"`
	Conversations ConversationStats `json:"conversations"`
	Typing        []TypingInfo      `json:"typing"`
	Devices       []DeviceInfo      `json:"devices"`
}

// ConnectionStats holds connection-level statistics.
type ConnectionStats struct {
	TotalDevices int `json:"totalDevices"` // devices with a live transport
}

// PresenceStats holds derived account presence statistics.
type PresenceStats struct {
	OnlineAccounts    int            `json:"onlineAccounts"`
	DevicesPerAccount map[string]int `json:"devicesPerAccount"`
}

// ConversationStats holds membership-cache statistics.
type ConversationStats struct {
	CachedConversations int                `json:"cachedConversations"`
	Details             []ConversationInfo `json:"details"`
}

// ConversationInfo describes one cached conversation.
type ConversationInfo struct {
	ConversationID string   `json:"conversationId"`
	TotalMembers   int      `json:"totalMembers"`
	OnlineMembers  int      `json:"onlineMembers"`
	MemberIDs      []string `json:"memberIds"`
}

// TypingInfo describes one live typing flag.
type TypingInfo struct {
	ConversationID string `json:"conversationId"`
	AccountID      string `json:"accountId"`
	SinceUnixMs    int64  `json:"sinceUnixMs"`
}

// DeviceInfo describes one connected device.
type DeviceInfo struct {
	DeviceID  string `json:"deviceId"`
	AccountID string `json:"accountId"`
}
