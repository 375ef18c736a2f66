package transport

import (
	"bytes"
	"strings"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
)

func seedOf(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestKeyFromSeedIsDeterministic(t *testing.T) {
	a, err := KeyFromSeed(seedOf(1))
	if err != nil {
		t.Fatal(err)
	}
	b, err := KeyFromSeed(seedOf(1))
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equals(b) {
		t.Fatal("same seed produced different keys")
	}

	c, err := KeyFromSeed(seedOf(2))
	if err != nil {
		t.Fatal(err)
	}
	if a.Equals(c) {
		t.Fatal("different seeds produced the same key")
	}
}

func TestKeyFromSeedRejectsWrongLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		if _, err := KeyFromSeed(make([]byte, n)); err == nil {
			t.Errorf("seed of %d bytes accepted", n)
		}
	}
}

func TestPublicKeyHexRoundTrip(t *testing.T) {
	priv, err := KeyFromSeed(seedOf(7))
	if err != nil {
		t.Fatal(err)
	}
	s, err := PublicKeyHex(priv.GetPublic())
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 64 {
		t.Fatalf("hex key length = %d, want 64", len(s))
	}

	id, err := ParsePublicKey(s)
	if err != nil {
		t.Fatal(err)
	}
	want, err := peer.IDFromPublicKey(priv.GetPublic())
	if err != nil {
		t.Fatal(err)
	}
	if id != want {
		t.Fatalf("parsed id = %s, want %s", id, want)
	}

	back, err := PeerIDHex(id)
	if err != nil {
		t.Fatal(err)
	}
	if back != s {
		t.Fatalf("PeerIDHex = %s, want %s", back, s)
	}

	if _, err := ParsePublicKey("0x" + strings.ToUpper(s)); err != nil {
		t.Fatalf("prefixed upper-case key rejected: %v", err)
	}
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "zz", "abcd", strings.Repeat("a", 66)} {
		if _, err := ParsePublicKey(s); err == nil {
			t.Errorf("ParsePublicKey(%q) succeeded", s)
		}
	}
}

func TestBootstrapPeerAddrInfo(t *testing.T) {
	priv, _ := KeyFromSeed(seedOf(3))
	pub, _ := PublicKeyHex(priv.GetPublic())

	info, err := BootstrapPeer{Host: "127.0.0.1", Port: 40001, PublicKey: pub}.AddrInfo()
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Addrs[0].String(); got != "/ip4/127.0.0.1/tcp/40001" {
		t.Errorf("addr = %s", got)
	}

	info, err = BootstrapPeer{Host: "boot.example.net", Port: 40001, PublicKey: pub}.AddrInfo()
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Addrs[0].String(); got != "/dns/boot.example.net/tcp/40001" {
		t.Errorf("addr = %s", got)
	}

	full := "/ip4/10.0.0.1/tcp/40001/p2p/" + info.ID.String()
	info2, err := BootstrapPeer{Addr: full}.AddrInfo()
	if err != nil {
		t.Fatal(err)
	}
	if info2.ID != info.ID {
		t.Errorf("id = %s, want %s", info2.ID, info.ID)
	}

	if _, err := (BootstrapPeer{Host: "127.0.0.1", Port: 40001}).AddrInfo(); err == nil {
		t.Error("bootstrap peer without public key accepted")
	}
}
