package hub

import (
	"sync"

	"go.uber.org/zap"
)

// PresenceChangeFunc receives the edge-triggered presence signal: exactly
// one call per transition between zero and at least one connected device,
// regardless of how many devices churn in between.
type PresenceChangeFunc func(accountID string, isOnline bool)

// PresenceTracker owns the account-to-devices mapping derived from
// registry events. An account appears here only while at least one of its
// devices is live; entries are removed eagerly on the last disconnect so
// fan-out never sees a stale "online".
type PresenceTracker struct {
	mu       sync.RWMutex
	devices  map[string]map[string]struct{} // accountID -> set of deviceIDs
	onChange PresenceChangeFunc
	logger   *zap.Logger
}

func NewPresenceTracker(logger *zap.Logger) *PresenceTracker {
	return &PresenceTracker{
		devices: make(map[string]map[string]struct{}),
		logger:  logger,
	}
}

// OnChange installs the presence-change callback. Must be called before
// the tracker receives traffic.
func (p *PresenceTracker) OnChange(fn PresenceChangeFunc) {
	p.onChange = fn
}

// MarkOnline records a device for an account. Idempotent. Fires the
// presence-change signal only on the zero-to-one edge.
func (p *PresenceTracker) MarkOnline(accountID, deviceID string) {
	p.mu.Lock()
	set, ok := p.devices[accountID]
	if !ok {
		set = make(map[string]struct{})
		p.devices[accountID] = set
	}
	wasEmpty := len(set) == 0
	set[deviceID] = struct{}{}
	p.mu.Unlock()

	if wasEmpty && p.onChange != nil {
		p.logger.Debug("account came online", zap.String("account_id", accountID))
		p.onChange(accountID, true)
	}
}

// MarkOffline removes a device for an account. Idempotent. Fires the
// presence-change signal only on the one-to-zero edge.
func (p *PresenceTracker) MarkOffline(accountID, deviceID string) {
	p.mu.Lock()
	set, ok := p.devices[accountID]
	if !ok {
		p.mu.Unlock()
		return
	}
	before := len(set)
	delete(set, deviceID)
	nowEmpty := len(set) == 0
	if nowEmpty {
		delete(p.devices, accountID)
	}
	p.mu.Unlock()

	if before > 0 && nowEmpty && p.onChange != nil {
		p.logger.Debug("account went offline", zap.String("account_id", accountID))
		p.onChange(accountID, false)
	}
}

// IsOnline reports whether the account has at least one connected device.
func (p *PresenceTracker) IsOnline(accountID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.devices[accountID]) > 0
}

// OnlineDevices returns the device IDs currently connected for an account.
func (p *PresenceTracker) OnlineDevices(accountID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := p.devices[accountID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// OnlineAccounts returns the number of accounts with at least one device.
func (p *PresenceTracker) OnlineAccounts() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.devices)
}

// DeviceCounts returns connected-device counts per account.
func (p *PresenceTracker) DeviceCounts() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int, len(p.devices))
	for account, set := range p.devices {
		out[account] = len(set)
	}
	return out
}
