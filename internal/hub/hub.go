package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/auth"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/event"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/push"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/repo"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub wires the delivery core together: it owns the registration run
// loop, authenticates inbound connections, and routes decoded events to
// the dispatcher. A failure in one connection's handling never affects
// other connections' registry entries or in-flight dispatches.
type Hub struct {
	registry   *Registry
	presence   *PresenceTracker
	membership *MembershipIndex
	typing     *TypingTracker
	delivery   *DeliveryTracker
	dispatcher *Dispatcher
	verifier   auth.Verifier

	register   chan *Client
	unregister chan *Client

	logger  *zap.Logger
	metrics *Metrics
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHub(
	verifier auth.Verifier,
	conversations repo.ConversationRepository,
	messages repo.MessageRepository,
	notifier push.Notifier,
	logger *zap.Logger,
	metrics *Metrics,
) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		registry:   NewRegistry(logger, metrics),
		presence:   NewPresenceTracker(logger),
		membership: NewMembershipIndex(conversations, logger),
		typing:     NewTypingTracker(logger, metrics),
		delivery:   NewDeliveryTracker(),
		verifier:   verifier,
		register:   make(chan *Client, 1024),
		unregister: make(chan *Client, 1024),
		logger:     logger,
		metrics:    metrics,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	h.dispatcher = NewDispatcher(
		h.registry, h.presence, h.membership, h.typing, h.delivery,
		messages, notifier, logger, metrics,
	)

	// The presence-change edge drives fan-out asynchronously so the
	// registration path never blocks on a broadcast.
	h.presence.OnChange(func(accountID string, isOnline bool) {
		h.metrics.OnlineAccounts.Set(float64(h.presence.OnlineAccounts()))
		go h.dispatcher.DispatchPresenceChange(accountID, isOnline)
	})

	h.typing.Start(ctx)
	h.delivery.Start(ctx)
	go h.run()

	return h
}

// Registry exposes the connection registry (monitor, tests).
func (h *Hub) Registry() *Registry { return h.registry }

// Presence exposes the presence tracker.
func (h *Hub) Presence() *PresenceTracker { return h.presence }

// Membership exposes the membership index, used by external collaborators
// to invalidate on membership changes.
func (h *Hub) Membership() *MembershipIndex { return h.membership }

// Typing exposes the typing tracker.
func (h *Hub) Typing() *TypingTracker { return h.typing }

// Delivery exposes the delivery-status tracker.
func (h *Hub) Delivery() *DeliveryTracker { return h.delivery }

// Dispatcher exposes the fan-out dispatcher.
func (h *Hub) Dispatcher() *Dispatcher { return h.dispatcher }

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			// A replaced client's own deferred unregister is a no-op (the
			// registry refuses to evict the replacement), so when the device
			// re-authenticated as another account the old account's presence
			// must be cleaned up here.
			if prior := h.registry.Register(c); prior != nil && prior.accountID != c.accountID {
				h.presence.MarkOffline(prior.accountID, c.deviceID)
			}
			h.presence.MarkOnline(c.accountID, c.deviceID)
		case c := <-h.unregister:
			if accountID, ok := h.registry.Unregister(c); ok {
				h.presence.MarkOffline(accountID, c.deviceID)
			}
		}
	}
}

// Stop shuts the hub down: no new registrations, all transports closed,
// dispatch and sweep goroutines drained.
func (h *Hub) Stop() {
	h.cancel()
	h.registry.closeAll()
	h.dispatcher.Stop()
	h.typing.Wait()
	h.delivery.Wait()
	<-h.done
}

// handleInbound decodes a client frame and routes it to the dispatcher.
// Undecodable frames cost the sender an error event, nothing more.
func (h *Hub) handleInbound(c *Client, env event.Envelope) {
	payload, err := event.Decode(env)
	if err != nil {
		h.logger.Debug("rejected inbound event",
			zap.String("device_id", c.deviceID),
			zap.Error(err))
		h.registry.Send(c.deviceID, event.Wrap(event.KindError, env.ConversationID, event.ErrorPayload{
			Code:    "invalid_event",
			Message: err.Error(),
		}, time.Now().UnixMilli()))
		return
	}

	switch p := payload.(type) {
	case event.JoinPayload:
		conversationID := p.ConversationID
		if conversationID == "" {
			conversationID = env.ConversationID
		}
		h.dispatcher.DispatchJoin(conversationID, c.accountID, c.deviceID)
	case event.MessagePayload:
		messageID := p.MessageID
		if messageID == "" {
			messageID = uuid.NewString()
		}
		h.dispatcher.DispatchMessage(env.ConversationID, c.accountID, c.deviceID, messageID, p.Body)
	case event.TypingPayload:
		h.dispatcher.DispatchTyping(env.ConversationID, c.accountID, c.deviceID, p.IsTyping)
	case event.ReadReceiptPayload:
		h.dispatcher.DispatchReadReceipt(env.ConversationID, p.MessageID, c.accountID)
	case event.DeliveredPayload:
		h.dispatcher.DispatchDelivered(p.MessageID, c.accountID)
	}
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS authenticates and upgrades an inbound connection. The verify
// call happens exactly once, before any registry state exists; on any
// auth error the connection is rejected with nothing to clean up.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}

	accountID, err := h.verifier.Verify(r.Context(), token, deviceID)
	if err != nil {
		h.logger.Info("connection rejected",
			zap.String("device_id", deviceID),
			zap.Error(err))
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	conn, err := websocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.RegisterDevice(deviceID, accountID, conn)
}

// RegisterDevice binds an authenticated transport to a device and starts
// its pumps. Exposed separately from ServeWS so tests can drive the hub
// with fake transports.
func (h *Hub) RegisterDevice(deviceID, accountID string, conn Transport) *Client {
	c := newClient(deviceID, accountID, conn, h)

	select {
	case h.register <- c:
		go c.readPump()
		go c.writePump()
		h.logger.Info("device connected",
			zap.String("device_id", deviceID),
			zap.String("account_id", accountID))
		return c
	case <-time.After(registerTimeout):
		h.logger.Warn("device registration timed out",
			zap.String("device_id", deviceID))
		c.cancel()
		_ = conn.Close()
		return nil
	}
}
