// Command bootnode runs a discovery entry point that walletd nodes and
// clients bootstrap from.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/nous-labs/walletd/pkg/identity"
	"github.com/nous-labs/walletd/pkg/transport"
)

const seedName = "bootstrap-seed"

func main() {
	storePath := pflag.String("store", "bootnode-store/seeds.db", "seed store path")
	host := pflag.String("host", "0.0.0.0", "listen host")
	port := pflag.IntP("port", "p", 30001, "listen port")
	peers := pflag.StringSlice("peer", nil, "other bootstrap nodes as /p2p multiaddrs (repeatable)")
	pflag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := identity.Open(*storePath)
	if err != nil {
		slog.Error("failed to open store", "path", *storePath, "error", err)
		os.Exit(1)
	}
	seed, err := store.GetOrCreate(ctx, seedName)
	store.Close()
	if err != nil {
		slog.Error("failed to load seed", "error", err)
		os.Exit(1)
	}

	cfg := transport.Config{ListenHost: *host, ListenPort: *port}
	for _, p := range *peers {
		cfg.Bootstrap = append(cfg.Bootstrap, transport.BootstrapPeer{Addr: p})
	}

	node, err := transport.ServeBootstrap(ctx, seed, cfg)
	if err != nil {
		slog.Error("failed to start bootstrap node", "error", err)
		os.Exit(1)
	}
	defer node.Close()

	fmt.Printf("public key: %s\n", node.PublicKeyHex())
	for _, a := range node.P2PAddrs() {
		fmt.Printf("addr: %s\n", a)
	}
	slog.Info("bootstrap node running", "port", *port, "peers", len(cfg.Bootstrap))

	<-ctx.Done()
	slog.Info("bootstrap node stopped")
}
