package transport

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// DefaultJoinTimeout bounds how long Join waits for the fabric.
const DefaultJoinTimeout = 30 * time.Second

// Config selects where a node listens and which peers it bootstraps from.
type Config struct {
	ListenHost  string          `json:"listen_host,omitempty"` // default 0.0.0.0
	ListenPort  int             `json:"listen_port"`           // 0 picks a free port
	Bootstrap   []BootstrapPeer `json:"bootstrap"`
	JoinTimeout time.Duration   `json:"-"`
}

// BootstrapPeer is a known fabric entry point. Either Addr (a full
// /p2p multiaddr) or Host, Port and PublicKey must be set.
type BootstrapPeer struct {
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	PublicKey string `json:"public_key,omitempty"` // hex ed25519
	Addr      string `json:"addr,omitempty"`
}

// AddrInfo resolves the entry into a dialable libp2p address.
func (b BootstrapPeer) AddrInfo() (peer.AddrInfo, error) {
	if b.Addr != "" {
		maddr, err := ma.NewMultiaddr(b.Addr)
		if err != nil {
			return peer.AddrInfo{}, fmt.Errorf("parse bootstrap addr %q: %w", b.Addr, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return peer.AddrInfo{}, fmt.Errorf("bootstrap addr %q: %w", b.Addr, err)
		}
		return *info, nil
	}

	if b.Host == "" || b.Port <= 0 {
		return peer.AddrInfo{}, fmt.Errorf("bootstrap peer needs host and port")
	}
	if b.PublicKey == "" {
		return peer.AddrInfo{}, fmt.Errorf("bootstrap peer %s:%d needs a public key", b.Host, b.Port)
	}
	id, err := ParsePublicKey(b.PublicKey)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("bootstrap peer %s:%d: %w", b.Host, b.Port, err)
	}
	maddr, err := ma.NewMultiaddr(hostPortMultiaddr(b.Host, b.Port))
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("bootstrap peer %s:%d: %w", b.Host, b.Port, err)
	}
	return peer.AddrInfo{ID: id, Addrs: []ma.Multiaddr{maddr}}, nil
}

func (b BootstrapPeer) String() string {
	if b.Addr != "" {
		return b.Addr
	}
	return net.JoinHostPort(b.Host, fmt.Sprint(b.Port))
}

func hostPortMultiaddr(host string, port int) string {
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() != nil {
			return fmt.Sprintf("/ip4/%s/tcp/%d", ip, port)
		}
		return fmt.Sprintf("/ip6/%s/tcp/%d", ip, port)
	}
	return fmt.Sprintf("/dns/%s/tcp/%d", strings.TrimSuffix(host, "."), port)
}

func (c Config) listenAddr() string {
	host := c.ListenHost
	if host == "" {
		host = "0.0.0.0"
	}
	return hostPortMultiaddr(host, c.ListenPort)
}

func (c Config) bootstrapInfos() ([]peer.AddrInfo, error) {
	infos := make([]peer.AddrInfo, 0, len(c.Bootstrap))
	for _, b := range c.Bootstrap {
		info, err := b.AddrInfo()
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}
