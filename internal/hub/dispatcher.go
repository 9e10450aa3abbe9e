package hub

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/event"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/model"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/push"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/repo"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/service"
	"go.uber.org/zap"
)

const (
	dispatchShardCount = 16 // tune: 16/64/128 depending on load
	shardQueueSize     = 256
	enqueueTimeout     = 500 * time.Millisecond
)

// Error codes surfaced to clients on rejected dispatches.
const (
	codeUnknownConversation    = "unknown_conversation"
	codeMembershipUnavailable  = "membership_unavailable"
	codePersistenceUnavailable = "persistence_unavailable"
	codeNotAMember             = "not_a_member"
)

// Dispatcher is the orchestration core: it resolves target accounts via
// the membership index, target devices via the presence tracker, and
// pushes encoded events through the registry.
//
// Every conversation hashes to exactly one shard, and each shard is
// drained by a single worker, so events within one conversation are
// processed in the order they were accepted while different conversations
// interleave freely.
type Dispatcher struct {
	registry   *Registry
	presence   *PresenceTracker
	membership *MembershipIndex
	typing     *TypingTracker
	delivery   *DeliveryTracker
	messages   repo.MessageRepository
	notifier   push.Notifier
	logger     *zap.Logger
	metrics    *Metrics

	shards [dispatchShardCount]chan func()
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDispatcher(
	registry *Registry,
	presence *PresenceTracker,
	membership *MembershipIndex,
	typing *TypingTracker,
	delivery *DeliveryTracker,
	messages repo.MessageRepository,
	notifier push.Notifier,
	logger *zap.Logger,
	metrics *Metrics,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		registry:   registry,
		presence:   presence,
		membership: membership,
		typing:     typing,
		delivery:   delivery,
		messages:   messages,
		notifier:   notifier,
		logger:     logger,
		metrics:    metrics,
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < dispatchShardCount; i++ {
		d.shards[i] = make(chan func(), shardQueueSize)
		d.wg.Add(1)
		go d.runShard(d.shards[i])
	}

	typing.OnExpire(d.onTypingExpired)

	return d
}

func (d *Dispatcher) runShard(queue chan func()) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case task, ok := <-queue:
			if !ok {
				return
			}
			task()
		}
	}
}

// Stop drains no further events and waits for in-flight tasks.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

func shardFor(conversationID string) uint32 {
	if conversationID == "" {
		return 0
	}
	h := sha1.Sum([]byte(conversationID))
	return binary.BigEndian.Uint32(h[:4]) % dispatchShardCount
}

// enqueue routes a task to the conversation's shard. Enqueueing is bounded
// so a stalled shard cannot block a connection's read pump forever.
func (d *Dispatcher) enqueue(conversationID string, task func()) {
	queue := d.shards[shardFor(conversationID)]
	select {
	case queue <- task:
	case <-d.ctx.Done():
	case <-time.After(enqueueTimeout):
		d.logger.Warn("dispatch queue full, dropping event",
			zap.String("conversation_id", conversationID))
	}
}

// -----------------------------------------------------------------
// Message dispatch
// -----------------------------------------------------------------

// DispatchMessage accepts a new message for fan-out to every online device
// of every member except the sender.
func (d *Dispatcher) DispatchMessage(conversationID, senderAccountID, senderDeviceID, messageID, body string) {
	d.enqueue(conversationID, func() {
		d.doDispatchMessage(conversationID, senderAccountID, senderDeviceID, messageID, body)
	})
}

func (d *Dispatcher) doDispatchMessage(conversationID, senderAccountID, senderDeviceID, messageID, body string) {
	start := time.Now()

	members, err := d.resolveMembers(conversationID, senderDeviceID)
	if err != nil {
		return
	}
	if !contains(members, senderAccountID) {
		d.sendError(senderDeviceID, conversationID, codeNotAMember, "sender is not a member of this conversation")
		return
	}

	recipients := service.Filter(members, func(m string) bool { return m != senderAccountID })
	ts := start.UnixMilli()

	d.delivery.Track(messageID, conversationID, senderAccountID, recipients)

	msg := &model.Message{
		MessageID:      messageID,
		ConversationID: conversationID,
		SenderID:       senderAccountID,
		Body:           body,
		CreatedAt:      start.UTC(),
	}
	if err := d.messages.SaveMessage(d.ctx, msg); err != nil {
		// Abort this event only. Recipients stay at sending for the
		// retry/push path; nothing has been fanned out yet.
		d.logger.Error("message persistence failed, aborting dispatch",
			zap.String("message_id", messageID),
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		d.sendError(senderDeviceID, conversationID, codePersistenceUnavailable, "message could not be stored")
		return
	}

	env := event.Wrap(event.KindServerMessage, conversationID, event.ServerMessagePayload{
		MessageID:      messageID,
		ConversationID: conversationID,
		SenderID:       senderAccountID,
		Body:           body,
		Timestamp:      ts,
	}, ts)

	for _, recipient := range recipients {
		devices := d.presence.OnlineDevices(recipient)
		if len(devices) == 0 {
			d.notifier.NotifyOffline(conversationID, messageID, recipient)
			d.persistStatus(messageID, recipient, StatusSending)
			continue
		}

		deliveredAny := false
		for _, deviceID := range devices {
			if d.registry.Send(deviceID, env) == SendDelivered {
				deliveredAny = true
			}
		}

		if deliveredAny {
			if err := d.delivery.Advance(messageID, recipient, StatusSent); err == nil {
				d.persistStatus(messageID, recipient, StatusSent)
			}
		} else {
			// every device raced into unregistration mid-dispatch; the
			// recipient is effectively offline
			d.notifier.NotifyOffline(conversationID, messageID, recipient)
			d.persistStatus(messageID, recipient, StatusSending)
		}
	}

	ack := event.Wrap(event.KindDispatchAck, conversationID, event.DispatchAckPayload{
		MessageID:           messageID,
		AttemptedRecipients: len(recipients),
	}, ts)
	d.registry.Send(senderDeviceID, ack)

	d.metrics.MessagesDispatched.Inc()
	d.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
}

// -----------------------------------------------------------------
// Typing
// -----------------------------------------------------------------

// DispatchTyping updates the typing flag and re-broadcasts to the other
// online members. The signal is never echoed back to the originator.
func (d *Dispatcher) DispatchTyping(conversationID, accountID, deviceID string, isTyping bool) {
	d.enqueue(conversationID, func() {
		d.doDispatchTyping(conversationID, accountID, deviceID, isTyping)
	})
}

func (d *Dispatcher) doDispatchTyping(conversationID, accountID, deviceID string, isTyping bool) {
	members, err := d.resolveMembers(conversationID, deviceID)
	if err != nil {
		return
	}

	if isTyping {
		d.typing.SetTyping(conversationID, accountID)
	} else if !d.typing.ClearTyping(conversationID, accountID) {
		// flag already gone (expired or never set): the stop was
		// broadcast once already, never twice
		return
	}

	d.broadcastTyping(conversationID, accountID, members, isTyping)
}

// onTypingExpired is the sweep's synthetic stop path. The flag is already
// removed, so this fires at most once per expiry.
func (d *Dispatcher) onTypingExpired(conversationID, accountID string) {
	d.enqueue(conversationID, func() {
		members, err := d.membership.MembersOf(d.ctx, conversationID)
		if err != nil {
			d.logger.Debug("membership unavailable for typing expiry",
				zap.String("conversation_id", conversationID),
				zap.Error(err))
			return
		}
		d.broadcastTyping(conversationID, accountID, members, false)
	})
}

func (d *Dispatcher) broadcastTyping(conversationID, accountID string, members []string, isTyping bool) {
	env := event.Wrap(event.KindTypingNotice, conversationID, event.TypingNoticePayload{
		ConversationID: conversationID,
		AccountID:      accountID,
		IsTyping:       isTyping,
	}, time.Now().UnixMilli())

	for _, member := range members {
		if member == accountID {
			continue
		}
		for _, deviceID := range d.presence.OnlineDevices(member) {
			d.registry.Send(deviceID, env)
		}
	}
}

// -----------------------------------------------------------------
// Read receipts and delivery acknowledgements
// -----------------------------------------------------------------

// DispatchReadReceipt advances (messageID, reader) to read and notifies
// the original sender's online devices. Duplicate receipts are absorbed
// as no-op successes.
func (d *Dispatcher) DispatchReadReceipt(conversationID, messageID, readerAccountID string) {
	d.enqueue(conversationID, func() {
		d.doDispatchReadReceipt(conversationID, messageID, readerAccountID)
	})
}

func (d *Dispatcher) doDispatchReadReceipt(conversationID, messageID, readerAccountID string) {
	err := d.delivery.Advance(messageID, readerAccountID, StatusRead)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidTransition):
		d.logger.Debug("duplicate read receipt absorbed",
			zap.String("message_id", messageID),
			zap.String("reader_id", readerAccountID))
		return
	case errors.Is(err, ErrUnknownDelivery):
		d.logger.Debug("read receipt for untracked message",
			zap.String("message_id", messageID))
		return
	default:
		return
	}

	d.persistStatus(messageID, readerAccountID, StatusRead)

	senderID, conv, ok := d.delivery.Sender(messageID)
	if !ok {
		return
	}
	env := event.Wrap(event.KindReadNotice, conv, event.ReadNoticePayload{
		MessageID:      messageID,
		ConversationID: conv,
		ReaderID:       readerAccountID,
	}, time.Now().UnixMilli())

	for _, deviceID := range d.presence.OnlineDevices(senderID) {
		d.registry.Send(deviceID, env)
	}
}

// DispatchDelivered advances (messageID, recipient) to delivered on a
// device-originated acknowledgement and notifies the sender.
func (d *Dispatcher) DispatchDelivered(messageID, recipientAccountID string) {
	_, conversationID, ok := d.delivery.Sender(messageID)
	if !ok {
		d.logger.Debug("delivery ack for untracked message",
			zap.String("message_id", messageID))
		return
	}

	d.enqueue(conversationID, func() {
		d.doDispatchDelivered(conversationID, messageID, recipientAccountID)
	})
}

func (d *Dispatcher) doDispatchDelivered(conversationID, messageID, recipientAccountID string) {
	err := d.delivery.Advance(messageID, recipientAccountID, StatusDelivered)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			d.logger.Debug("duplicate delivery ack absorbed",
				zap.String("message_id", messageID),
				zap.String("recipient_id", recipientAccountID))
		}
		return
	}

	d.persistStatus(messageID, recipientAccountID, StatusDelivered)

	senderID, _, ok := d.delivery.Sender(messageID)
	if !ok {
		return
	}
	env := event.Wrap(event.KindDeliveredNotice, conversationID, event.DeliveredNoticePayload{
		MessageID:      messageID,
		ConversationID: conversationID,
		RecipientID:    recipientAccountID,
	}, time.Now().UnixMilli())

	for _, deviceID := range d.presence.OnlineDevices(senderID) {
		d.registry.Send(deviceID, env)
	}
}

// -----------------------------------------------------------------
// Presence change
// -----------------------------------------------------------------

// DispatchPresenceChange broadcasts an online/offline notice to the other
// online members of every conversation the account belongs to. It fires on
// the edge-triggered presence signal only, never per device.
func (d *Dispatcher) DispatchPresenceChange(accountID string, isOnline bool) {
	now := time.Now().UnixMilli()
	for _, conversationID := range d.membership.ConversationsWith(accountID) {
		env := event.Wrap(event.KindPresenceNotice, conversationID, event.PresenceNoticePayload{
			AccountID: accountID,
			IsOnline:  isOnline,
		}, now)

		members, err := d.membership.MembersOf(d.ctx, conversationID)
		if err != nil {
			continue
		}
		for _, member := range members {
			if member == accountID {
				continue
			}
			for _, deviceID := range d.presence.OnlineDevices(member) {
				d.registry.Send(deviceID, env)
			}
		}
	}
}

// -----------------------------------------------------------------
// Join
// -----------------------------------------------------------------

// DispatchJoin validates membership and answers the joining device with
// recent conversation history.
func (d *Dispatcher) DispatchJoin(conversationID, accountID, deviceID string) {
	d.enqueue(conversationID, func() {
		d.doDispatchJoin(conversationID, accountID, deviceID)
	})
}

func (d *Dispatcher) doDispatchJoin(conversationID, accountID, deviceID string) {
	members, err := d.resolveMembers(conversationID, deviceID)
	if err != nil {
		return
	}
	if !contains(members, accountID) {
		d.sendError(deviceID, conversationID, codeNotAMember, "account is not a member of this conversation")
		return
	}

	page, err := d.messages.RecentMessages(d.ctx, conversationID, 1)
	if err != nil {
		d.logger.Warn("history fetch failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		d.sendError(deviceID, conversationID, codePersistenceUnavailable, "history unavailable")
		return
	}

	history := make([]event.ServerMessagePayload, 0, len(page.Data))
	for _, msg := range page.Data {
		history = append(history, event.ServerMessagePayload{
			MessageID:      msg.MessageID,
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			Body:           msg.Body,
			Timestamp:      msg.CreatedAt.UnixMilli(),
		})
	}

	env := event.Wrap(event.KindHistoryBatch, conversationID, event.HistoryBatchPayload{
		ConversationID: conversationID,
		Messages:       history,
	}, time.Now().UnixMilli())
	d.registry.Send(deviceID, env)
}

// -----------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------

// resolveMembers resolves conversation membership and reports failures
// back to the originating device. A failure in one conversation never
// affects others.
func (d *Dispatcher) resolveMembers(conversationID, deviceID string) ([]string, error) {
	members, err := d.membership.MembersOf(d.ctx, conversationID)
	if err == nil {
		return members, nil
	}

	if errors.Is(err, ErrUnknownConversation) {
		d.sendError(deviceID, conversationID, codeUnknownConversation, "conversation does not exist")
	} else {
		d.sendError(deviceID, conversationID, codeMembershipUnavailable, "membership could not be resolved")
	}
	return nil, err
}

func (d *Dispatcher) sendError(deviceID, conversationID, code, msg string) {
	if deviceID == "" {
		return
	}
	env := event.Wrap(event.KindError, conversationID, event.ErrorPayload{
		Code:    code,
		Message: msg,
	}, time.Now().UnixMilli())
	d.registry.Send(deviceID, env)
}

// persistStatus mirrors an in-memory status move to persistence. Failures
// are logged and absorbed: the in-memory machine stays authoritative for
// this process's lifetime.
func (d *Dispatcher) persistStatus(messageID, accountID string, status Status) {
	if err := d.messages.SaveDeliveryStatus(d.ctx, messageID, accountID, status.String()); err != nil {
		d.logger.Warn("delivery status persistence failed",
			zap.String("message_id", messageID),
			zap.String("account_id", accountID),
			zap.String("status", status.String()),
			zap.Error(err))
	}
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
