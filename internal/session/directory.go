package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync/atomic"
	"time"

	"github.com/blukai/udparena/internal/debug"
	"github.com/blukai/udparena/internal/mailbox"
	"github.com/blukai/udparena/internal/protocol"
	"github.com/cespare/xxhash/v2"
	"github.com/sasha-s/go-deadlock"
)

var (
	ErrIDReused      = errors.New("client id was already allocated")
	ErrIDTaken       = errors.New("client id is registered")
	ErrEndpointTaken = errors.New("endpoint is registered")
	ErrInvalidAddr   = errors.New("invalid endpoint")
	ErrAddrCollision = errors.New("endpoint key collision")
	ErrIDsExhausted  = errors.New("client ids exhausted")
)

type addrKey uint64

func makeAddrKey(addr netip.AddrPort) addrKey {
	var buf [18]byte
	ip := addr.Addr().As16()
	copy(buf[:16], ip[:])
	binary.BigEndian.PutUint16(buf[16:], addr.Port())
	return addrKey(xxhash.Sum64(buf[:]))
}

// NormalizeAddr unmaps ipv4-mapped ipv6 addresses so a host that reaches a
// dual-stack socket has exactly one endpoint form.
func NormalizeAddr(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}

type entry struct {
	id   protocol.ClientID
	addr netip.AddrPort

	// unix nanos; updated under the read lock
	lastSeen atomic.Int64
}

// Directory is the bijection between client ids and the endpoints they send
// from. Every registered client also has a mailbox in the Registry the
// directory was constructed with; both are created and destroyed under the
// directory lock, so one never exists without the other.
//
// Ids are allocated from a counter that only ever grows. A removed id is
// never handed out again, which makes stale messages addressed to it inert.
type Directory struct {
	mu     deadlock.RWMutex
	byAddr map[addrKey]*entry
	byID   map[protocol.ClientID]*entry
	nextID uint64

	mailboxes       *mailbox.Registry
	mailboxCapacity int
}

func NewDirectory(mailboxes *mailbox.Registry, mailboxCapacity int) *Directory {
	debug.Assert(mailboxes != nil)
	debug.Assert(mailboxCapacity > 0, "mailbox capacity must be positive")

	return &Directory{
		byAddr: make(map[addrKey]*entry),
		byID:   make(map[protocol.ClientID]*entry),

		mailboxes:       mailboxes,
		mailboxCapacity: mailboxCapacity,
	}
}

// Resolve returns the client id of addr. If addr has no session yet one is
// allocated (together with its mailbox) and created is true. The session's
// last-seen time is set to now either way.
func (d *Directory) Resolve(addr netip.AddrPort, now time.Time) (id protocol.ClientID, created bool, err error) {
	addr = NormalizeAddr(addr)
	key := makeAddrKey(addr)

	d.mu.RLock()
	e, ok := d.byAddr[key]
	known := ok && e.addr == addr
	if known {
		id = e.id
		e.lastSeen.Store(now.UnixNano())
	}
	d.mu.RUnlock()
	if known {
		return id, false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// somebody may have won the race between RUnlock and Lock
	if e, ok := d.byAddr[key]; ok {
		if e.addr != addr {
			return 0, false, fmt.Errorf("%w: %s and %s", ErrAddrCollision, addr, e.addr)
		}
		e.lastSeen.Store(now.UnixNano())
		return e.id, false, nil
	}

	if d.nextID > uint64(^protocol.ClientID(0)) {
		return 0, false, ErrIDsExhausted
	}
	id = protocol.ClientID(d.nextID)
	if err := d.registerLocked(id, addr, now); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// Register binds id to addr explicitly. id must not have been allocated
// before; the allocation counter moves past it.
func (d *Directory) Register(id protocol.ClientID, addr netip.AddrPort) error {
	addr = NormalizeAddr(addr)

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.registerLocked(id, addr, time.Now())
}

func (d *Directory) registerLocked(id protocol.ClientID, addr netip.AddrPort, now time.Time) error {
	if !addr.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidAddr, addr)
	}
	if _, ok := d.byID[id]; ok {
		return fmt.Errorf("%w: %d", ErrIDTaken, id)
	}
	if uint64(id) < d.nextID {
		return fmt.Errorf("%w: %d", ErrIDReused, id)
	}
	key := makeAddrKey(addr)
	if e, ok := d.byAddr[key]; ok {
		if e.addr != addr {
			return fmt.Errorf("%w: %s and %s", ErrAddrCollision, addr, e.addr)
		}
		return fmt.Errorf("%w: %s", ErrEndpointTaken, addr)
	}

	// lock order: directory, then registry
	if err := d.mailboxes.Create(id, d.mailboxCapacity); err != nil {
		return fmt.Errorf("could not create mailbox for %d: %w", id, err)
	}

	e := &entry{id: id, addr: addr}
	e.lastSeen.Store(now.UnixNano())
	d.byAddr[key] = e
	d.byID[id] = e
	d.nextID = uint64(id) + 1

	debug.Assert(len(d.byAddr) == len(d.byID))
	return nil
}

// Lookup returns the endpoint id sends from.
func (d *Directory) Lookup(id protocol.ClientID) (netip.AddrPort, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.byID[id]
	if !ok {
		return netip.AddrPort{}, false
	}
	return e.addr, true
}

// Remove tears down id's session and mailbox. It reports whether id was
// registered.
func (d *Directory) Remove(id protocol.ClientID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.byID[id]
	if !ok {
		return false
	}

	d.mailboxes.Remove(id)
	delete(d.byID, id)
	delete(d.byAddr, makeAddrKey(e.addr))

	debug.Assert(len(d.byAddr) == len(d.byID))
	return true
}

// Idle returns the ids of sessions that haven't sent anything for longer than
// timeout, in ascending order.
func (d *Directory) Idle(now time.Time, timeout time.Duration) []protocol.ClientID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ids []protocol.ClientID
	for id, e := range d.byID {
		if now.Sub(time.Unix(0, e.lastSeen.Load())) > timeout {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}
