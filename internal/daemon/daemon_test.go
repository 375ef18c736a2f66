package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nous-labs/walletd/internal/dispatch"
	"github.com/nous-labs/walletd/pkg/intent"
	"github.com/nous-labs/walletd/pkg/rpc"
	"github.com/nous-labs/walletd/pkg/transport"
	"github.com/nous-labs/walletd/pkg/wallet"
)

func startBootnode(t *testing.T, ctx context.Context) *transport.Node {
	t.Helper()
	seed := bytes.Repeat([]byte{0x42}, 32)
	boot, err := transport.ServeBootstrap(ctx, seed, transport.Config{ListenHost: "127.0.0.1"})
	if err != nil {
		t.Fatalf("bootstrap node: %v", err)
	}
	t.Cleanup(func() { boot.Close() })
	return boot
}

func bootstrapPeers(n *transport.Node) []transport.BootstrapPeer {
	var peers []transport.BootstrapPeer
	for _, a := range n.P2PAddrs() {
		peers = append(peers, transport.BootstrapPeer{Addr: a.String()})
	}
	return peers
}

func testConfig(t *testing.T, storePath string, boot *transport.Node) *Config {
	t.Helper()
	clearEnv(t)
	cfg := defaultConfig()
	cfg.StorePath = storePath
	cfg.Transport.ListenHost = "127.0.0.1"
	cfg.Transport.ListenPort = 0
	cfg.Transport.JoinTimeout = "10s"
	cfg.Transport.Bootstrap = bootstrapPeers(boot)
	cfg.Wallet.Backend = "memory"
	cfg.Intent.Embedder = "hashing"
	return cfg
}

func TestEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("opens loopback sockets")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	boot := startBootnode(t, ctx)
	storePath := filepath.Join(t.TempDir(), "seeds.db")

	mem := wallet.NewMemory(nil)
	d, err := New(testConfig(t, storePath, boot), WithBackend(mem))
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	serverKey := d.RPCPublicKey()
	if len(serverKey) != 64 {
		t.Fatalf("rpc key = %q", serverKey)
	}
	if serverKey == d.DiscoveryPublicKey() {
		t.Fatal("rpc and discovery identities are the same")
	}

	client, err := transport.Join(ctx, bytes.Repeat([]byte{0x43}, 32), transport.Config{
		ListenHost:  "127.0.0.1",
		Bootstrap:   bootstrapPeers(boot),
		JoinTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("client join: %v", err)
	}
	defer client.Close()
	rc := rpc.NewClient(client.Host, rpc.WithTimeout(20*time.Second))

	send := func(msg string) dispatch.Response {
		t.Helper()
		body, _ := json.Marshal(dispatch.Request{Message: msg})
		out, err := rc.Request(ctx, serverKey, dispatch.MessageMethod, body)
		if err != nil {
			t.Fatalf("request %q: %v", msg, err)
		}
		var resp dispatch.Response
		if err := json.Unmarshal(out, &resp); err != nil {
			t.Fatalf("response %s: %v", out, err)
		}
		return resp
	}

	if resp := send("show my balance"); resp.Err() == nil || resp.Err().Code != dispatch.CodePrecondition {
		t.Fatalf("balance before wallet = %+v", resp)
	}
	created := send("create a bitcoin wallet")
	if created.Kind() != dispatch.KeyAddress {
		t.Fatalf("create = %+v", created)
	}
	if resp := send("show my balance"); resp.Kind() != dispatch.KeyBalance {
		t.Fatalf("balance = %+v", resp)
	}
	if resp := send("make payment from my wallet"); resp.Kind() != dispatch.KeyResult {
		t.Fatalf("payment = %+v", resp)
	}

	d.Close()

	// Same store, same identity.
	d2, err := New(testConfig(t, storePath, boot), WithBackend(wallet.NewMemory(nil)))
	if err != nil {
		t.Fatal(err)
	}
	if err := d2.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer d2.Close()
	if d2.RPCPublicKey() != serverKey {
		t.Fatalf("rpc key changed across restart: %s != %s", d2.RPCPublicKey(), serverKey)
	}
}

func TestStartFailsWithoutBootstrap(t *testing.T) {
	if testing.Short() {
		t.Skip("opens loopback sockets")
	}
	clearEnv(t)
	cfg := defaultConfig()
	cfg.StorePath = filepath.Join(t.TempDir(), "seeds.db")
	cfg.Transport.ListenHost = "127.0.0.1"
	cfg.Transport.ListenPort = 0
	cfg.Wallet.Backend = "memory"

	d, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	err = d.Start(context.Background())
	if !errors.Is(err, transport.ErrNoBootstrap) {
		t.Fatalf("err = %v, want ErrNoBootstrap", err)
	}
}

func TestHTTPAPI(t *testing.T) {
	clearEnv(t)
	cfg := defaultConfig()
	cfg.Wallet.Backend = "memory"
	d, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	h := d.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("health before start = %d", rec.Code)
	}

	// Wire only the classifier; classify does not need the network.
	cls, err := intent.NewClassifier(context.Background(), intent.DefaultCatalog(), intent.NewHashingEmbedder(0), intent.NewFlatIndex())
	if err != nil {
		t.Fatal(err)
	}
	d.classifier, d.resolver = cls, cls
	d.setHealthy(true)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/classify", bytes.NewBufferString(`{"message":"show my balance"}`)))
	var cr classifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &cr); err != nil || cr.Command != "show-balance" {
		t.Fatalf("classify = %d %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/classify", bytes.NewBufferString(`nope`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad classify = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/identity", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("identity before join = %d", rec.Code)
	}
}

func TestListenHTTPUnixSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "walletd.sock")
	for i := 0; i < 2; i++ {
		ln, cleanup, err := listenHTTP("unix:" + sock)
		if err != nil {
			t.Fatalf("listen %d: %v", i, err)
		}
		if ln.Addr().Network() != "unix" {
			t.Fatalf("network = %s", ln.Addr().Network())
		}
		ln.Close()
		if i == 1 {
			cleanup()
		}
	}
}
