package mailbox

import (
	"sync/atomic"

	"github.com/blukai/udparena/internal/protocol"
)

// Mailbox is a bounded fifo of outbound messages for one client. Push and
// drain never block.
type Mailbox struct {
	queue chan protocol.ServerMessage

	// disconnected is the liveness flag. it is set once a disconnect has been
	// detected for the client and teardown is pending.
	disconnected atomic.Bool
}

func newMailbox(capacity int) *Mailbox {
	return &Mailbox{
		queue: make(chan protocol.ServerMessage, capacity),
	}
}

// push reports false when the mailbox is full; the message is dropped.
func (mb *Mailbox) push(msg protocol.ServerMessage) bool {
	select {
	case mb.queue <- msg:
		return true
	default:
		return false
	}
}

func (mb *Mailbox) drain(maxItems int) []protocol.ServerMessage {
	n := min(len(mb.queue), maxItems)
	if n <= 0 {
		return nil
	}

	msgs := make([]protocol.ServerMessage, 0, n)
	for len(msgs) < maxItems {
		select {
		case msg := <-mb.queue:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
	return msgs
}

func (mb *Mailbox) Len() int { return len(mb.queue) }

func (mb *Mailbox) Cap() int { return cap(mb.queue) }
