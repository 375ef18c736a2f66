package rpc

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownMethod is reported to callers of a method nobody responds to.
var ErrUnknownMethod = errors.New("unknown method")

// ErrServerClosed is returned by Listen after Close.
var ErrServerClosed = errors.New("rpc server closed")

// RemoteError is a failure reported by the remote handler. The call
// reached the server; the server said no.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Method, e.Message)
}

type requestIDKey struct{}

// RequestID returns the id the server assigned to the call being handled.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}
