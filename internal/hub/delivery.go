package hub

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	// deliveryRecordTTL is how long a record survives after its last status
	// change. Expired records fall back to the persisted copy; a late
	// acknowledgement then reads as ErrUnknownDelivery and is absorbed.
	deliveryRecordTTL = 12 * time.Hour
	// deliverySweepInterval is how often expired records are collected.
	deliverySweepInterval = time.Hour
)

// Status is one recipient's position in the delivery lifecycle.
type Status int

const (
	StatusSending Status = iota
	StatusSent
	StatusDelivered
	StatusRead
)

func (s Status) String() string {
	switch s {
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition marks a rejected status move: a regression or an
// unsupported skip. It reflects benign duplicate acknowledgements and is
// absorbed as a no-op by callers, never surfaced to users.
var ErrInvalidTransition = errors.New("invalid delivery status transition")

// ErrUnknownDelivery is returned for acknowledgements referencing a message
// or recipient this core never tracked.
var ErrUnknownDelivery = errors.New("unknown message or recipient")

type statusEntry struct {
	status    Status
	updatedAt time.Time
}

type deliveryRecord struct {
	messageID      string
	conversationID string
	senderID       string
	statuses       map[string]statusEntry // recipient accountID -> entry
	touched        time.Time              // last Track or accepted Advance
}

// DeliveryTracker owns the per-message, per-recipient status machine:
// sending -> sent -> delivered -> read, strictly forward, with read also
// reachable directly from sent. Records here are a cache; the canonical
// copy is written through the persistence layer.
type DeliveryTracker struct {
	mu      sync.RWMutex
	records map[string]*deliveryRecord // messageID -> record

	sweepDone chan struct{}
}

func NewDeliveryTracker() *DeliveryTracker {
	return &DeliveryTracker{
		records:   make(map[string]*deliveryRecord),
		sweepDone: make(chan struct{}),
	}
}

// Start runs the record-TTL sweep until ctx is cancelled, so a long-lived
// process does not accumulate per-message state forever.
func (d *DeliveryTracker) Start(ctx context.Context) {
	go func() {
		defer close(d.sweepDone)
		ticker := time.NewTicker(deliverySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.sweep(time.Now())
			}
		}
	}()
}

// Wait blocks until the sweep goroutine has exited.
func (d *DeliveryTracker) Wait() {
	<-d.sweepDone
}

// sweep drops records whose last status change is older than the TTL.
func (d *DeliveryTracker) sweep(now time.Time) {
	d.mu.Lock()
	for id, rec := range d.records {
		if now.Sub(rec.touched) >= deliveryRecordTTL {
			delete(d.records, id)
		}
	}
	d.mu.Unlock()
}

// Track creates the pending status entries for a newly accepted message.
// Every recipient starts at sending.
func (d *DeliveryTracker) Track(messageID, conversationID, senderID string, recipients []string) {
	now := time.Now()
	statuses := make(map[string]statusEntry, len(recipients))
	for _, r := range recipients {
		statuses[r] = statusEntry{status: StatusSending, updatedAt: now}
	}

	d.mu.Lock()
	d.records[messageID] = &deliveryRecord{
		messageID:      messageID,
		conversationID: conversationID,
		senderID:       senderID,
		statuses:       statuses,
		touched:        now,
	}
	d.mu.Unlock()
}

// Advance moves one recipient's status forward. Permitted transitions:
// sending->sent, sent->delivered, sent->read, delivered->read. Everything
// else returns ErrInvalidTransition without mutating state, so duplicate
// acknowledgements cannot corrupt a record.
func (d *DeliveryTracker) Advance(messageID, accountID string, to Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[messageID]
	if !ok {
		return ErrUnknownDelivery
	}
	entry, ok := rec.statuses[accountID]
	if !ok {
		return ErrUnknownDelivery
	}

	if !transitionAllowed(entry.status, to) {
		return ErrInvalidTransition
	}

	now := time.Now()
	rec.statuses[accountID] = statusEntry{status: to, updatedAt: now}
	rec.touched = now
	return nil
}

func transitionAllowed(from, to Status) bool {
	switch {
	case from == StatusSending && to == StatusSent:
		return true
	case from == StatusSent && to == StatusDelivered:
		return true
	case from == StatusSent && to == StatusRead:
		return true
	case from == StatusDelivered && to == StatusRead:
		return true
	default:
		return false
	}
}

// StatusOf returns one recipient's current status.
func (d *DeliveryTracker) StatusOf(messageID, accountID string) (Status, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[messageID]
	if !ok {
		return 0, false
	}
	entry, ok := rec.statuses[accountID]
	if !ok {
		return 0, false
	}
	return entry.status, true
}

// Aggregate returns the minimum status across all recipients of a message,
// the single answer to "has everyone read this".
func (d *DeliveryTracker) Aggregate(messageID string) (Status, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[messageID]
	if !ok || len(rec.statuses) == 0 {
		return 0, false
	}

	min := StatusRead
	for _, entry := range rec.statuses {
		if entry.status < min {
			min = entry.status
		}
	}
	return min, true
}

// Sender returns the sending account and conversation of a tracked
// message, for routing read notices back.
func (d *DeliveryTracker) Sender(messageID string) (senderID, conversationID string, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, found := d.records[messageID]
	if !found {
		return "", "", false
	}
	return rec.senderID, rec.conversationID, true
}

// Len returns the number of tracked messages.
func (d *DeliveryTracker) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}
