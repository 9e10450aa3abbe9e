package hub

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/db"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/event"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/model"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/repo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTransport stands in for a websocket connection. Outbound envelopes
// are recorded; inbound frames are injected through the in channel.
type fakeTransport struct {
	mu        sync.Mutex
	wrote     []event.Envelope
	in        chan event.Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan event.Envelope, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadJSON(v interface{}) error {
	select {
	case env := <-f.in:
		*(v.(*event.Envelope)) = env
		return nil
	case <-f.closed:
		return net.ErrClosed
	}
}

func (f *fakeTransport) WriteJSON(v interface{}) error {
	env, ok := v.(event.Envelope)
	if !ok {
		return errors.New("unexpected write type")
	}
	f.mu.Lock()
	f.wrote = append(f.wrote, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func (f *fakeTransport) SetReadLimit(int64)                {}
func (f *fakeTransport) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeTransport) SetPongHandler(func(string) error) {}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) inject(env event.Envelope) {
	f.in <- env
}

func (f *fakeTransport) ofKind(kind event.Kind) []event.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.Envelope
	for _, env := range f.wrote {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeTransport) countKind(kind event.Kind) int {
	return len(f.ofKind(kind))
}

// timeoutTransport fails every read with a timeout, the same shape a
// missed liveness probe produces.
type timeoutTransport struct {
	*fakeTransport
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "read deadline exceeded" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func (f *timeoutTransport) ReadJSON(v interface{}) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	case <-time.After(10 * time.Millisecond):
		return timeoutError{}
	}
}

type fakeVerifier struct {
	accounts map[string]string // token -> accountID
}

func (f *fakeVerifier) Verify(_ context.Context, identityToken, _ string) (string, error) {
	account, ok := f.accounts[identityToken]
	if !ok {
		return "", errors.New("authentication failed")
	}
	return account, nil
}

type fakeConversationRepo struct {
	mu      sync.Mutex
	members map[string][]string
	calls   int
	err     error
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{members: make(map[string][]string)}
}

func (f *fakeConversationRepo) set(conversationID string, members ...string) {
	f.mu.Lock()
	f.members[conversationID] = members
	f.mu.Unlock()
}

func (f *fakeConversationRepo) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeConversationRepo) MembersOf(_ context.Context, conversationID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	members, ok := f.members[conversationID]
	if !ok {
		return nil, repo.ErrConversationNotFound
	}
	return members, nil
}

func (f *fakeConversationRepo) GetConversation(_ context.Context, conversationID string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.members[conversationID]
	if !ok {
		return nil, repo.ErrConversationNotFound
	}
	return &model.Conversation{ConversationID: conversationID, ParticipantIds: members, IsActive: true}, nil
}

func (f *fakeConversationRepo) ActiveConversations(context.Context) ([]model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Conversation, 0, len(f.members))
	for id, members := range f.members {
		out = append(out, model.Conversation{ConversationID: id, ParticipantIds: members, IsActive: true})
	}
	return out, nil
}

type statusWrite struct {
	messageID string
	accountID string
	status    string
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	saved    []*model.Message
	statuses []statusWrite
	history  map[string][]model.Message
	saveErr  error
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{history: make(map[string][]model.Message)}
}

func (f *fakeMessageRepo) SaveMessage(_ context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, msg)
	return nil
}

func (f *fakeMessageRepo) RecentMessages(_ context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.history[conversationID]
	return &db.PaginatedResult[model.Message]{
		Data:       msgs,
		Total:      int64(len(msgs)),
		Page:       page,
		PageSize:   int64(len(msgs)),
		TotalPages: 1,
	}, nil
}

func (f *fakeMessageRepo) SaveDeliveryStatus(_ context.Context, messageID, accountID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusWrite{messageID, accountID, status})
	return nil
}

func (f *fakeMessageRepo) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func (f *fakeMessageRepo) statusWrites() []statusWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]statusWrite, len(f.statuses))
	copy(out, f.statuses)
	return out
}

type offlineSignal struct {
	conversationID string
	messageID      string
	recipientID    string
}

type fakeNotifier struct {
	mu      sync.Mutex
	signals []offlineSignal
}

func (f *fakeNotifier) NotifyOffline(conversationID, messageID, recipientID string) {
	f.mu.Lock()
	f.signals = append(f.signals, offlineSignal{conversationID, messageID, recipientID})
	f.mu.Unlock()
}

func (f *fakeNotifier) recorded() []offlineSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]offlineSignal, len(f.signals))
	copy(out, f.signals)
	return out
}

type testHub struct {
	hub           *Hub
	conversations *fakeConversationRepo
	messages      *fakeMessageRepo
	notifier      *fakeNotifier
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()

	conversations := newFakeConversationRepo()
	messages := newFakeMessageRepo()
	notifier := &fakeNotifier{}
	verifier := &fakeVerifier{accounts: map[string]string{"token-a": "acc-a", "token-b": "acc-b"}}
	metrics := NewMetrics(prometheus.NewRegistry())

	h := NewHub(verifier, conversations, messages, notifier, zap.NewNop(), metrics)
	t.Cleanup(h.Stop)

	return &testHub{hub: h, conversations: conversations, messages: messages, notifier: notifier}
}

// connect registers a fake device and waits until the registry and
// presence tracker both see it.
func (th *testHub) connect(t *testing.T, deviceID, accountID string) *fakeTransport {
	t.Helper()
	ft := newFakeTransport()
	c := th.hub.RegisterDevice(deviceID, accountID, ft)
	require.NotNil(t, c)
	waitFor(t, func() bool {
		_, ok := th.hub.Registry().Snapshot()[deviceID]
		return ok && th.hub.Presence().IsOnline(accountID)
	})
	return ft
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestRegisterDeviceTracksPresence(t *testing.T) {
	th := newTestHub(t)

	th.connect(t, "dev-1", "acc-a")
	th.connect(t, "dev-2", "acc-a")

	assert.Equal(t, 2, th.hub.Registry().Len())
	assert.True(t, th.hub.Presence().IsOnline("acc-a"))
	assert.ElementsMatch(t, []string{"dev-1", "dev-2"}, th.hub.Presence().OnlineDevices("acc-a"))
}

func TestDisconnectCascadesToPresence(t *testing.T) {
	th := newTestHub(t)

	ft1 := th.connect(t, "dev-1", "acc-a")
	th.connect(t, "dev-2", "acc-a")

	ft1.Close()
	waitFor(t, func() bool { return th.hub.Registry().Len() == 1 })

	// one device left, account still online
	assert.True(t, th.hub.Presence().IsOnline("acc-a"))
	assert.Equal(t, []string{"dev-2"}, th.hub.Presence().OnlineDevices("acc-a"))
}

func TestReauthenticationMovesDeviceBetweenAccounts(t *testing.T) {
	th := newTestHub(t)

	ftOld := th.connect(t, "dev-1", "acc-a")

	// same device, new account: logout/login on one device
	th.connect(t, "dev-1", "acc-b")

	waitFor(t, func() bool { return !th.hub.Presence().IsOnline("acc-a") })
	assert.Empty(t, th.hub.Presence().OnlineDevices("acc-a"),
		"the old account must not keep a device it no longer owns")
	assert.True(t, th.hub.Presence().IsOnline("acc-b"))
	assert.Equal(t, []string{"dev-1"}, th.hub.Presence().OnlineDevices("acc-b"))
	assert.Equal(t, map[string]string{"dev-1": "acc-b"}, th.hub.Registry().Snapshot())

	// the replaced connection's deferred cleanup must not take the new
	// account offline
	waitFor(t, func() bool {
		select {
		case <-ftOld.closed:
			return true
		default:
			return false
		}
	})
	time.Sleep(50 * time.Millisecond)
	assert.True(t, th.hub.Presence().IsOnline("acc-b"))
	assert.Equal(t, 1, th.hub.Registry().Len())
}

func TestHeartbeatMissEvictsDevice(t *testing.T) {
	th := newTestHub(t)

	tt := &timeoutTransport{fakeTransport: newFakeTransport()}
	c := th.hub.RegisterDevice("dev-1", "acc-a", tt)
	require.NotNil(t, c)

	// the timeout transport misses its first probe almost immediately
	waitFor(t, func() bool { return th.hub.Registry().Len() == 0 })
	waitFor(t, func() bool { return !th.hub.Presence().IsOnline("acc-a") })
	assert.True(t, c.heartbeatMiss)
}

func TestInboundInvalidEventAnsweredWithError(t *testing.T) {
	th := newTestHub(t)
	ft := th.connect(t, "dev-1", "acc-a")

	ft.inject(event.Envelope{Kind: "bogus"})

	waitFor(t, func() bool { return ft.countKind(event.KindError) == 1 })
	assert.Equal(t, 0, th.messages.savedCount())
}

func TestInboundMessageDispatches(t *testing.T) {
	th := newTestHub(t)
	th.conversations.set("conv-1", "acc-a", "acc-b")

	ftA := th.connect(t, "dev-a", "acc-a")
	ftB := th.connect(t, "dev-b", "acc-b")

	ftA.inject(event.Wrap(event.KindMessage, "conv-1", event.MessagePayload{
		MessageID: "m1",
		Body:      "hello",
	}, time.Now().UnixMilli()))

	waitFor(t, func() bool { return ftB.countKind(event.KindServerMessage) == 1 })
	waitFor(t, func() bool { return ftA.countKind(event.KindDispatchAck) == 1 })
	assert.Equal(t, 1, th.messages.savedCount())
}

func TestServeWSRejectsBadToken(t *testing.T) {
	th := newTestHub(t)

	req := httptest.NewRequest(http.MethodGet, "/ws?deviceId=dev-1&token=wrong", nil)
	rec := httptest.NewRecorder()

	th.hub.ServeWS(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, th.hub.Registry().Len())
	assert.False(t, th.hub.Presence().IsOnline("acc-a"))
}
