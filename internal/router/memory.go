package router

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// streamBufferSize bounds the per-retrieve channel, matching the reference
// server's mpsc::channel(4) buffer depth.
const streamBufferSize = 4

// MemoryRouter is the in-process Router backend: a mutex-guarded pair of
// maps holding per-recipient mailboxes and per-recipient live channel
// senders, in the same register/unregister-under-one-lock shape the
// teacher's websocket hub uses for its client map.
type MemoryRouter struct {
	mu      sync.Mutex
	mailbox map[string][]Message
	live    map[string]chan<- Message
}

// NewMemoryRouter returns an empty MemoryRouter ready for use.
func NewMemoryRouter() *MemoryRouter {
	return &MemoryRouter{
		mailbox: make(map[string][]Message),
		live:    make(map[string]chan<- Message),
	}
}

func (r *MemoryRouter) Send(ctx context.Context, msg Message) (SendResult, error) {
	// The attempted live delivery and the mailbox fallback happen under
	// the same critical section as the channel lookup: select/default
	// never suspends, so holding the lock across it does not violate the
	// non-suspending-critical-section rule, and it closes the window a
	// concurrent Retrieve could otherwise use to close a channel out from
	// under an in-flight send.
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if live, attached := r.live[msg.Recipient]; attached {
		select {
		case live <- msg:
			return SendResult{Delivered: true}, nil
		default:
			// Consumer isn't keeping up or has gone away; detach and
			// fall through to the mailbox.
			delete(r.live, msg.Recipient)
		}
	}

	r.mailbox[msg.Recipient] = append(r.mailbox[msg.Recipient], msg)
	return SendResult{MailboxDepth: len(r.mailbox[msg.Recipient])}, nil
}

func (r *MemoryRouter) Retrieve(ctx context.Context, identity string) (<-chan Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.live[identity]; ok {
		close(prev)
	}

	pending := r.mailbox[identity]
	delete(r.mailbox, identity)

	bufSize := streamBufferSize
	if len(pending) > bufSize {
		bufSize = len(pending)
	}
	ch := make(chan Message, bufSize)
	for _, m := range pending {
		ch <- m
	}

	r.live[identity] = ch
	return ch, nil
}
