package hub

import (
	"sync"

	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/event"
	"go.uber.org/zap"
)

// SendResult reports what happened to a single device send.
type SendResult int

const (
	// SendDelivered means the event was handed to a live transport.
	SendDelivered SendResult = iota
	// SendDropped means the device had no live transport. Dropped sends are
	// expected and are never retried here; offline delivery belongs to the
	// push-notification collaborator.
	SendDropped
)

// Registry owns the device-to-transport mapping. No other component talks
// to a transport directly.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Client // deviceID -> client
	logger  *zap.Logger
	metrics *Metrics
}

func NewRegistry(logger *zap.Logger, metrics *Metrics) *Registry {
	return &Registry{
		devices: make(map[string]*Client),
		logger:  logger,
		metrics: metrics,
	}
}

// Register binds a client to its device ID. A prior live transport for the
// same device ID is closed first: at most one live transport per device.
// The replaced client, if any, is returned so the caller can cascade
// presence cleanup when the device re-authenticated as another account.
func (r *Registry) Register(c *Client) *Client {
	r.mu.Lock()
	prior, had := r.devices[c.deviceID]
	r.devices[c.deviceID] = c
	r.mu.Unlock()

	if !had || prior == c {
		prior = nil
	}
	if prior != nil {
		prior.close()
		r.logger.Info("replaced prior transport for device",
			zap.String("device_id", c.deviceID),
			zap.String("account_id", c.accountID))
	}

	r.metrics.ConnectedDevices.Set(float64(r.Len()))
	r.logger.Debug("device registered",
		zap.String("device_id", c.deviceID),
		zap.String("account_id", c.accountID))
	return prior
}

// Unregister removes the binding for a client and returns the account it
// belonged to. No-ops (ok=false) when the device is already absent or has
// been replaced by a newer transport.
func (r *Registry) Unregister(c *Client) (accountID string, ok bool) {
	r.mu.Lock()
	current, exists := r.devices[c.deviceID]
	if exists && current == c {
		delete(r.devices, c.deviceID)
		ok = true
	}
	r.mu.Unlock()

	c.close()

	if !ok {
		return "", false
	}

	r.metrics.ConnectedDevices.Set(float64(r.Len()))
	r.logger.Debug("device unregistered",
		zap.String("device_id", c.deviceID),
		zap.String("account_id", c.accountID))
	return c.accountID, true
}

// Send serializes the event to the device if it has a live transport.
// Returns SendDropped, not an error, when it does not.
func (r *Registry) Send(deviceID string, env event.Envelope) SendResult {
	r.mu.RLock()
	c, ok := r.devices[deviceID]
	r.mu.RUnlock()

	if !ok || !c.enqueue(env) {
		r.metrics.SendsDropped.Inc()
		return SendDropped
	}
	return SendDelivered
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Snapshot returns the current device-to-account bindings.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.devices))
	for id, c := range r.devices {
		out[id] = c.accountID
	}
	return out
}

// closeAll closes every registered transport. Used on shutdown.
func (r *Registry) closeAll() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.devices))
	for _, c := range r.devices {
		clients = append(clients, c)
	}
	r.devices = make(map[string]*Client)
	r.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
