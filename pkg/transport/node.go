package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	routedhost "github.com/libp2p/go-libp2p/p2p/host/routed"
	ma "github.com/multiformats/go-multiaddr"
)

// ProtocolPrefix keeps the walletd fabric apart from the public IPFS DHT.
const ProtocolPrefix = "/walletd"

// ErrNoBootstrap is returned when no bootstrap peer could be reached.
var ErrNoBootstrap = errors.New("no bootstrap peer reachable")

// Node is a host announced on the discovery fabric.
type Node struct {
	Host host.Host
	DHT  *dht.IpfsDHT

	key       crypto.PrivKey
	bootstrap []peer.AddrInfo
	timeout   time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Join derives the node identity from seed and joins the fabric through
// the configured bootstrap peers. It returns once at least one bootstrap
// peer is connected and the routing table is non-empty.
func Join(ctx context.Context, seed []byte, cfg Config) (*Node, error) {
	key, err := KeyFromSeed(seed)
	if err != nil {
		return nil, err
	}
	infos, err := cfg.bootstrapInfos()
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: no bootstrap peers configured", ErrNoBootstrap)
	}
	return join(ctx, key, cfg.listenAddr(), infos, cfg.JoinTimeout)
}

// Attach joins the same fabric under a second identity, bootstrapping from
// the parent node as well as the parent's own bootstrap set.
func (n *Node) Attach(ctx context.Context, seed []byte) (*Node, error) {
	key, err := KeyFromSeed(seed)
	if err != nil {
		return nil, err
	}
	infos := append([]peer.AddrInfo{n.AddrInfo()}, n.bootstrap...)
	return join(ctx, key, hostPortMultiaddr("0.0.0.0", 0), infos, n.timeout)
}

// ServeBootstrap runs a fabric entry point. It does not wait for other
// peers; it is the peer everyone else waits for. Peers in cfg.Bootstrap
// are other entry points and are dialled best effort.
func ServeBootstrap(ctx context.Context, seed []byte, cfg Config) (*Node, error) {
	key, err := KeyFromSeed(seed)
	if err != nil {
		return nil, err
	}
	infos, err := cfg.bootstrapInfos()
	if err != nil {
		return nil, err
	}
	n, err := newNode(ctx, key, cfg.listenAddr(), infos)
	if err != nil {
		return nil, err
	}
	n.timeout = cfg.JoinTimeout
	if len(infos) > 0 {
		if err := n.connectBootstrap(ctx); err != nil {
			slog.Warn("no other bootstrap node reachable", "error", err)
		}
	}
	if err := n.DHT.Bootstrap(ctx); err != nil {
		n.Close()
		return nil, fmt.Errorf("bootstrap dht: %w", err)
	}
	return n, nil
}

func join(ctx context.Context, key crypto.PrivKey, listen string, infos []peer.AddrInfo, timeout time.Duration) (*Node, error) {
	if timeout <= 0 {
		timeout = DefaultJoinTimeout
	}
	n, err := newNode(ctx, key, listen, infos)
	if err != nil {
		return nil, err
	}
	n.timeout = timeout

	joinCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := n.connectBootstrap(joinCtx); err != nil {
		n.Close()
		return nil, err
	}
	if err := n.DHT.Bootstrap(joinCtx); err != nil {
		n.Close()
		return nil, fmt.Errorf("bootstrap dht: %w", err)
	}
	if err := n.waitRoutingTable(joinCtx); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func newNode(ctx context.Context, key crypto.PrivKey, listen string, infos []peer.AddrInfo) (*Node, error) {
	h, err := libp2p.New(
		libp2p.Identity(key),
		libp2p.ListenAddrStrings(listen),
	)
	if err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}

	kad, err := dht.New(ctx, h,
		dht.Mode(dht.ModeServer),
		dht.ProtocolPrefix(ProtocolPrefix),
		dht.BootstrapPeers(infos...),
	)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("create dht: %w", err)
	}

	return &Node{
		Host:      routedhost.Wrap(h, kad),
		DHT:       kad,
		key:       key,
		bootstrap: infos,
	}, nil
}

func (n *Node) connectBootstrap(ctx context.Context) error {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		connected int
		lastErr   error
	)
	for _, info := range n.bootstrap {
		if info.ID == n.Host.ID() {
			continue
		}
		wg.Add(1)
		go func(info peer.AddrInfo) {
			defer wg.Done()
			err := n.Host.Connect(ctx, info)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("bootstrap peer unreachable", "peer", info.ID, "error", err)
				lastErr = err
				return
			}
			connected++
		}(info)
	}
	wg.Wait()

	if connected == 0 {
		if lastErr != nil {
			return fmt.Errorf("%w: %v", ErrNoBootstrap, lastErr)
		}
		return ErrNoBootstrap
	}
	return nil
}

func (n *Node) waitRoutingTable(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if n.DHT.RoutingTable().Size() > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: routing table still empty: %v", ErrNoBootstrap, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ID returns the peer ID derived from the node's public key.
func (n *Node) ID() peer.ID { return n.Host.ID() }

// PublicKey returns the node's public identity.
func (n *Node) PublicKey() crypto.PubKey { return n.key.GetPublic() }

// PublicKeyHex returns the node's public key in the form handed to clients.
func (n *Node) PublicKeyHex() string {
	s, err := PublicKeyHex(n.key.GetPublic())
	if err != nil {
		// ed25519 keys always have a raw form.
		panic(err)
	}
	return s
}

// AddrInfo returns the node's identity with its listen addresses.
func (n *Node) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: n.Host.ID(), Addrs: n.Host.Addrs()}
}

// P2PAddrs returns dialable multiaddrs including the /p2p component.
func (n *Node) P2PAddrs() []ma.Multiaddr {
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: n.Host.ID(), Addrs: n.Host.Addrs()})
	if err != nil {
		return nil
	}
	return addrs
}

// Close leaves the fabric. It is safe to call more than once.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		var errs []error
		if err := n.DHT.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dht: %w", err))
		}
		if err := n.Host.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close host: %w", err))
		}
		n.closeErr = errors.Join(errs...)
	})
	return n.closeErr
}
