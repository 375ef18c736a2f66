package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/nous-labs/walletd/pkg/transport"
)

// DefaultTimeout bounds a call when the caller's context has no deadline.
const DefaultTimeout = 30 * time.Second

// Client issues calls from a host.
type Client struct {
	host    host.Host
	timeout time.Duration
	maxSize int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds each call.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithMaxResponseSize caps response frames.
func WithMaxResponseSize(n int) ClientOption {
	return func(c *Client) { c.maxSize = n }
}

// NewClient creates a client that dials from h. When h is a routed host,
// servers are located on the fabric by key alone.
func NewClient(h host.Host, opts ...ClientOption) *Client {
	c := &Client{host: h, timeout: DefaultTimeout, maxSize: DefaultMaxMessageSize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request sends body to method on the server whose hex public key is
// serverKey and waits for its reply.
func (c *Client) Request(ctx context.Context, serverKey, method string, body []byte) ([]byte, error) {
	id, err := transport.ParsePublicKey(serverKey)
	if err != nil {
		return nil, fmt.Errorf("server key: %w", err)
	}
	return c.RequestPeer(ctx, id, method, body)
}

// RequestPeer is Request addressed by peer ID.
func (c *Client) RequestPeer(ctx context.Context, id peer.ID, method string, body []byte) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	st, err := c.host.NewStream(ctx, id, ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("open stream to %s: %w", id, err)
	}
	defer st.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = st.SetDeadline(deadline)
	}
	// Reset the stream if ctx ends while blocked on I/O.
	stop := context.AfterFunc(ctx, func() { _ = st.Reset() })
	defer stop()

	if err := writeFrame(st, request{Method: method, Body: body}); err != nil {
		_ = st.Reset()
		return nil, c.callErr(ctx, err)
	}
	if err := st.CloseWrite(); err != nil {
		_ = st.Reset()
		return nil, c.callErr(ctx, fmt.Errorf("close write: %w", err))
	}

	var resp response
	if err := readFrame(st, c.maxSize, &resp); err != nil {
		_ = st.Reset()
		return nil, c.callErr(ctx, err)
	}
	if resp.Error != "" {
		return nil, &RemoteError{Method: method, Message: resp.Error}
	}
	return resp.Body, nil
}

func (c *Client) callErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}
