// Package daemon wires walletd together: identity, discovery, RPC,
// classification, dispatch and the optional HTTP and Matrix surfaces.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nous-labs/walletd/internal/channel/matrix"
	"github.com/nous-labs/walletd/internal/dispatch"
	"github.com/nous-labs/walletd/internal/llm"
	"github.com/nous-labs/walletd/pkg/events"
	"github.com/nous-labs/walletd/pkg/identity"
	"github.com/nous-labs/walletd/pkg/intent"
	"github.com/nous-labs/walletd/pkg/rpc"
	"github.com/nous-labs/walletd/pkg/transport"
	"github.com/nous-labs/walletd/pkg/wallet"
)

// Daemon is a running walletd node.
type Daemon struct {
	Config *Config
	Events *events.Bus

	store      *identity.Store
	node       *transport.Node // discovery identity
	rpcNode    *transport.Node // RPC server identity
	server     *rpc.Server
	resolver   intent.Resolver
	classifier *intent.Classifier // nil when the llm resolver is used
	dispatcher *dispatch.Dispatcher
	backend    wallet.Backend
	embedder   intent.Embedder

	startedAt  time.Time
	healthyMu  sync.RWMutex
	healthy    bool
	httpServer *http.Server

	closers []func()
}

// Option overrides a component normally built from configuration.
type Option func(*Daemon)

// WithBackend uses b instead of the configured wallet backend.
func WithBackend(b wallet.Backend) Option {
	return func(d *Daemon) { d.backend = b }
}

// WithEmbedder uses e instead of the configured embedder.
func WithEmbedder(e intent.Embedder) Option {
	return func(d *Daemon) { d.embedder = e }
}

// New creates a daemon. Nothing is opened until Start.
func New(cfg *Config, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Daemon{
		Config:    cfg,
		Events:    events.NewBus(0),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Daemon) setHealthy(v bool) {
	d.healthyMu.Lock()
	d.healthy = v
	d.healthyMu.Unlock()
}

func (d *Daemon) isHealthy() bool {
	d.healthyMu.RLock()
	defer d.healthyMu.RUnlock()
	return d.healthy
}

// Start brings the node up in order: identity store, discovery join, RPC
// identity, classifier, backend, RPC server. Any failure aborts startup
// and releases what was opened.
func (d *Daemon) Start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	var storeOpts []identity.Option
	if d.Config.SeedPassphrase != "" {
		storeOpts = append(storeOpts, identity.WithPassphrase(d.Config.SeedPassphrase))
	}
	d.store, err = identity.Open(d.Config.StorePath, storeOpts...)
	if err != nil {
		return fmt.Errorf("open identity store: %w", err)
	}
	d.closers = append(d.closers, func() { d.store.Close() })

	dhtSeed, err := d.store.GetOrCreate(ctx, identity.TransportSeedName)
	if err != nil {
		return fmt.Errorf("load %s: %w", identity.TransportSeedName, err)
	}
	rpcSeed, err := d.store.GetOrCreate(ctx, identity.RPCSeedName)
	if err != nil {
		return fmt.Errorf("load %s: %w", identity.RPCSeedName, err)
	}

	joinTimeout, _ := parseDuration(d.Config.Transport.JoinTimeout, transport.DefaultJoinTimeout)
	slog.Info("joining discovery fabric",
		"port", d.Config.Transport.ListenPort,
		"bootstrap", len(d.Config.Transport.Bootstrap),
	)
	d.node, err = transport.Join(ctx, dhtSeed, transport.Config{
		ListenHost:  d.Config.Transport.ListenHost,
		ListenPort:  d.Config.Transport.ListenPort,
		Bootstrap:   d.Config.Transport.Bootstrap,
		JoinTimeout: joinTimeout,
	})
	if err != nil {
		return fmt.Errorf("join discovery fabric: %w", err)
	}
	d.closers = append(d.closers, func() { d.node.Close() })
	slog.Info("joined discovery fabric", "peer", d.node.ID(), "routing_table", d.node.DHT.RoutingTable().Size())

	d.rpcNode, err = d.node.Attach(ctx, rpcSeed)
	if err != nil {
		return fmt.Errorf("attach rpc identity: %w", err)
	}
	d.closers = append(d.closers, func() { d.rpcNode.Close() })

	if err := d.initResolver(ctx); err != nil {
		return err
	}
	if err := d.initBackend(); err != nil {
		return err
	}

	d.dispatcher = dispatch.New(dispatch.Config{
		Backend:  d.backend,
		Resolver: d.resolver,
		Payment:  d.Config.Wallet.Payment,
		Events:   d.Events,
	})

	handlerTimeout, _ := parseDuration(d.Config.RPC.HandlerTimeout, time.Minute)
	serverOpts := []rpc.ServerOption{rpc.WithHandlerTimeout(handlerTimeout)}
	if d.Config.RPC.MaxMessageSize > 0 {
		serverOpts = append(serverOpts, rpc.WithMaxMessageSize(d.Config.RPC.MaxMessageSize))
	}
	d.server = rpc.NewServer(d.rpcNode.Host, serverOpts...)
	d.server.Respond(dispatch.MessageMethod, d.dispatcher.Handler())
	if err := d.server.Listen(); err != nil {
		return fmt.Errorf("listen rpc: %w", err)
	}
	d.closers = append(d.closers, func() { d.server.Close() })

	slog.Info("rpc server listening", "public_key", d.rpcNode.PublicKeyHex())
	d.Events.Publish(events.Event{Type: events.TypeStatus, Message: "ready"})
	d.setHealthy(true)
	return nil
}

func (d *Daemon) initResolver(ctx context.Context) error {
	catalog, err := intent.LoadCatalog(d.Config.Intent.Catalog)
	if err != nil {
		return err
	}

	ic := d.Config.Intent
	if ic.Embedder == "llm" {
		var p *llm.AnthropicProvider
		if ic.LLM.BaseURL != "" {
			p = llm.NewAnthropicCompat("anthropic", ic.LLM.BaseURL, ic.LLM.APIKey, ic.LLM.Model)
		} else {
			p = llm.NewAnthropic(ic.LLM.APIKey, ic.LLM.Model)
		}
		d.resolver = intent.NewLLMResolver(catalog, p)
		slog.Info("intent resolver ready", "kind", "llm", "provider", p.Name(), "commands", catalog.Len())
		return nil
	}

	if d.embedder == nil {
		switch ic.Embedder {
		case "cohere":
			d.embedder = intent.NewCohereClient(ic.Cohere.BaseURL, ic.Cohere.APIKey, ic.Cohere.Model)
		case "tei":
			d.embedder = intent.NewTEIClient(ic.TEIURL)
		default:
			d.embedder = intent.NewHashingEmbedder(0)
		}
	}

	var index intent.Index = intent.NewFlatIndex()
	if ic.PostgresURL != "" {
		pg, err := intent.NewPGVectorIndex(ctx, ic.PostgresURL, catalog.Fingerprint())
		if err != nil {
			return fmt.Errorf("open vector index: %w", err)
		}
		d.closers = append(d.closers, pg.Close)
		index = pg
	}

	d.classifier, err = intent.NewClassifier(ctx, catalog, d.embedder, index)
	if err != nil {
		return fmt.Errorf("build classifier: %w", err)
	}
	d.resolver = d.classifier
	slog.Info("intent classifier ready",
		"embedder", ic.Embedder,
		"pgvector", ic.PostgresURL != "",
		"commands", catalog.Len(),
		"catalog", catalog.Fingerprint(),
	)
	return nil
}

func (d *Daemon) initBackend() error {
	if d.backend != nil {
		return nil
	}
	wc := d.Config.Wallet
	switch wc.Backend {
	case "memory":
		params, err := wallet.NetParams(wc.Bitcoind.Network)
		if err != nil {
			return err
		}
		d.backend = wallet.NewMemory(params)
	default:
		b, err := wallet.NewBitcoind(wc.Bitcoind)
		if err != nil {
			return fmt.Errorf("wallet backend: %w", err)
		}
		d.closers = append(d.closers, b.Close)
		d.backend = b
	}
	slog.Info("wallet backend ready", "backend", wc.Backend, "network", wc.Bitcoind.Network)
	return nil
}

// Run starts the daemon and serves until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Close()

	g, gctx := errgroup.WithContext(ctx)

	if d.Config.HTTPAddr != "" {
		ln, cleanup, err := listenHTTP(d.Config.HTTPAddr)
		if err != nil {
			return fmt.Errorf("listen http %s: %w", d.Config.HTTPAddr, err)
		}
		defer cleanup()
		d.httpServer = &http.Server{Handler: d.Handler()}
		g.Go(func() error {
			slog.Info("http api listening", "addr", d.Config.HTTPAddr)
			if err := d.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	if d.Config.Matrix.Enabled {
		ch := matrix.New(matrix.Config{
			Homeserver:   d.Config.Matrix.Homeserver,
			UserID:       d.Config.Matrix.UserID,
			Password:     d.Config.Matrix.Password,
			ServerName:   d.Config.Matrix.ServerName,
			AllowedUsers: d.Config.Matrix.AllowedUsers,
			DataDir:      d.Config.Matrix.DataDir,
		})
		g.Go(func() error {
			if err := ch.Start(gctx, d.handleChannelMessage); err != nil && gctx.Err() == nil {
				slog.Error("matrix channel stopped", "error", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return ch.Stop()
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		d.setHealthy(false)
		if d.httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = d.httpServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	err := g.Wait()
	d.Events.Publish(events.Event{Type: events.TypeStatus, Message: "stopping"})
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Close releases everything Start opened, newest first.
func (d *Daemon) Close() {
	d.setHealthy(false)
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// RPCPublicKey returns the hex key clients address requests to.
func (d *Daemon) RPCPublicKey() string {
	if d.rpcNode == nil {
		return ""
	}
	return d.rpcNode.PublicKeyHex()
}

// DiscoveryPublicKey returns the hex key of the discovery identity.
func (d *Daemon) DiscoveryPublicKey() string {
	if d.node == nil {
		return ""
	}
	return d.node.PublicKeyHex()
}

// Dispatcher returns the request dispatcher, nil before Start.
func (d *Daemon) Dispatcher() *dispatch.Dispatcher { return d.dispatcher }
