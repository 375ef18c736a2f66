// Package channel defines chat ingresses that feed free-text wallet
// requests into walletd alongside the RPC channel.
package channel

import (
	"context"
	"time"
)

// Message is an incoming chat message.
type Message struct {
	Source   string // "matrix"
	SenderID string
	RoomID   string
	Content  string
	Sent     time.Time
}

// Reply is an outgoing chat message.
type Reply struct {
	RoomID  string
	Content string
}

// Handler answers one message. The returned text is posted back to the
// message's room.
type Handler func(ctx context.Context, msg Message) (string, error)

// Channel is a chat ingress.
type Channel interface {
	Name() string

	// Start listens until ctx is cancelled, passing each accepted message
	// to handler.
	Start(ctx context.Context, handler Handler) error

	Send(ctx context.Context, reply Reply) error

	Stop() error
}
