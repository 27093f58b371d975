// Package router dispatches messages between senders and recipients: each
// recipient has a mailbox (for when they are offline) and, while
// connected, a single live channel. Send prefers the live channel and
// falls back to the mailbox; retrieve atomically swaps in a fresh live
// channel after draining the mailbox, mirroring the send/retrieve
// message-passing shape of the original reference server.
package router

import (
	"context"

	"github.com/google/uuid"

	"github.com/dayandersen/brongnal/internal/bundle"
)

// Message is a unit the router moves between a sender and a recipient: an
// initial X3DH message or, in principle, any later wire envelope the
// surrounding product layers on top of it. The router itself never
// inspects the ciphertext.
type Message struct {
	// ID identifies this message for the sender to correlate a SendMessage
	// response with the frame a recipient later streams out, and for a
	// recipient to dedupe redelivered mailbox entries. Assigned by Send if
	// the caller leaves it as uuid.Nil.
	ID        uuid.UUID `json:"id"`
	Recipient string    `json:"-"`
	Initial   bundle.InitialMessage `json:"initial"`
}

// SendResult reports how Send disposed of a message, so a caller can
// record delivery-path and mailbox-depth metrics without the router
// depending on internal/metrics directly.
type SendResult struct {
	// Delivered is true when message went straight to a live channel,
	// false when it was enqueued to the recipient's mailbox.
	Delivered bool
	// MailboxDepth is the recipient's mailbox length immediately after
	// this send. Always 0 when Delivered is true.
	MailboxDepth int
}

// Router is the capability interface both backends implement.
type Router interface {
	// Send delivers message to its recipient: inline, if a live channel
	// is attached, otherwise enqueued to the recipient's mailbox.
	Send(ctx context.Context, message Message) (SendResult, error)

	// Retrieve atomically detaches any previous live channel for
	// identity, drains its mailbox in FIFO order into a fresh channel,
	// and installs that channel as the new live channel, returning its
	// receive end for the transport layer to stream out.
	Retrieve(ctx context.Context, identity string) (<-chan Message, error)
}
