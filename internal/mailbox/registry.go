package mailbox

import (
	"errors"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/blukai/udparena/internal/protocol"
	"github.com/sasha-s/go-deadlock"
)

var (
	ErrNoMailbox   = errors.New("no mailbox for client")
	ErrMailboxFull = errors.New("mailbox full")
	ErrExists      = errors.New("mailbox already exists")
)

// Registry owns the outbound mailboxes of all connected clients.
//
// The lock only guards the map. It is released before any message is queued
// or dequeued. When used together with session.Directory the directory lock
// is always taken first.
type Registry struct {
	mu        deadlock.RWMutex
	mailboxes map[protocol.ClientID]*Mailbox

	// ready is signalled (without blocking) after every successful push so
	// the outbound dispatcher can sleep while there's nothing to send.
	ready chan struct{}

	dropped atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{
		mailboxes: make(map[protocol.ClientID]*Mailbox),
		ready:     make(chan struct{}, 1),
	}
}

func (r *Registry) Create(id protocol.ClientID, capacity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.mailboxes[id]; ok {
		return ErrExists
	}
	r.mailboxes[id] = newMailbox(capacity)
	return nil
}

func (r *Registry) Remove(id protocol.ClientID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.mailboxes[id]
	delete(r.mailboxes, id)
	return ok
}

func (r *Registry) get(id protocol.ClientID) *Mailbox {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mailboxes[id]
}

func (r *Registry) Has(id protocol.ClientID) bool {
	return r.get(id) != nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mailboxes)
}

// IDs returns registered client ids in ascending order.
func (r *Registry) IDs() []protocol.ClientID {
	r.mu.RLock()
	ids := make([]protocol.ClientID, 0, len(r.mailboxes))
	for id := range r.mailboxes {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

func (r *Registry) notify() {
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after messages were pushed. It may fire spuriously.
func (r *Registry) Ready() <-chan struct{} {
	return r.ready
}

// Push appends msg to the client's mailbox. It never blocks: when the mailbox
// is full the message is dropped and ErrMailboxFull is returned. A push to an
// unknown (e.g. already removed) client returns ErrNoMailbox and has no
// effect.
func (r *Registry) Push(id protocol.ClientID, msg protocol.ServerMessage) error {
	mb := r.get(id)
	if mb == nil {
		return ErrNoMailbox
	}
	if !mb.push(msg) {
		r.dropped.Add(1)
		return ErrMailboxFull
	}
	r.notify()
	return nil
}

func (r *Registry) snapshot() map[protocol.ClientID]*Mailbox {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.mailboxes)
}

// Broadcast pushes msg to every mailbox and returns the ids whose mailbox was
// full.
func (r *Registry) Broadcast(msg protocol.ServerMessage) []protocol.ClientID {
	return r.broadcast(msg, func(protocol.ClientID) bool { return true })
}

// BroadcastExcept pushes msg to every mailbox but the one of except and
// returns the ids whose mailbox was full.
func (r *Registry) BroadcastExcept(except protocol.ClientID, msg protocol.ServerMessage) []protocol.ClientID {
	return r.broadcast(msg, func(id protocol.ClientID) bool { return id != except })
}

func (r *Registry) broadcast(msg protocol.ServerMessage, include func(protocol.ClientID) bool) []protocol.ClientID {
	var full []protocol.ClientID
	pushed := false
	for id, mb := range r.snapshot() {
		if !include(id) {
			continue
		}
		if !mb.push(msg) {
			r.dropped.Add(1)
			full = append(full, id)
			continue
		}
		pushed = true
	}
	if pushed {
		r.notify()
	}
	slices.Sort(full)
	return full
}

// Drain removes and returns up to maxItems queued messages in enqueue order.
func (r *Registry) Drain(id protocol.ClientID, maxItems int) []protocol.ServerMessage {
	mb := r.get(id)
	if mb == nil {
		return nil
	}
	return mb.drain(maxItems)
}

// Pending returns the number of queued messages for id.
func (r *Registry) Pending(id protocol.ClientID) int {
	mb := r.get(id)
	if mb == nil {
		return 0
	}
	return mb.Len()
}

// MarkDisconnected sets the liveness flag of id. It reports whether the flag
// transitioned, so a detected disconnect is acted on once.
func (r *Registry) MarkDisconnected(id protocol.ClientID) bool {
	mb := r.get(id)
	if mb == nil {
		return false
	}
	return mb.disconnected.CompareAndSwap(false, true)
}

// ClearDisconnected resets the liveness flag of id.
func (r *Registry) ClearDisconnected(id protocol.ClientID) {
	if mb := r.get(id); mb != nil {
		mb.disconnected.Store(false)
	}
}

func (r *Registry) Disconnected(id protocol.ClientID) bool {
	mb := r.get(id)
	return mb != nil && mb.disconnected.Load()
}

// Dropped is the total number of messages discarded because a mailbox was
// full.
func (r *Registry) Dropped() uint64 {
	return r.dropped.Load()
}
