// Command walletctl sends free-text requests to a walletd node over the
// discovery fabric and prints the responses.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nous-labs/walletd/internal/dispatch"
	"github.com/nous-labs/walletd/pkg/identity"
	"github.com/nous-labs/walletd/pkg/rpc"
	"github.com/nous-labs/walletd/pkg/transport"
)

var defaultMessages = []string{
	"create a bitcoin wallet",
	"show my balance",
	"list my transactions which are recent",
	"make payment from my wallet",
}

type options struct {
	storePath     string
	listenPort    int
	bootstrapHost string
	bootstrapPort int
	bootstrapKey  string
	serverKey     string
	timeout       time.Duration
	echo          bool
	verbose       bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var o options
	fs := pflag.NewFlagSet("walletctl", pflag.ContinueOnError)
	fs.StringVar(&o.storePath, "store", envOr("WALLETCTL_STORE_PATH", "walletctl-store/seeds.db"), "seed store path")
	fs.IntVar(&o.listenPort, "port", 50001, "local discovery port")
	fs.StringVar(&o.bootstrapHost, "bootstrap-host", envOr("DHT_HOST", "127.0.0.1"), "bootstrap node host")
	fs.IntVar(&o.bootstrapPort, "bootstrap-port", envInt("DHT_PORT", 30001), "bootstrap node port")
	fs.StringVar(&o.bootstrapKey, "bootstrap-key", os.Getenv("DHT_BOOTSTRAP_KEY"), "bootstrap node public key (hex)")
	fs.StringVar(&o.serverKey, "server-key", os.Getenv("WALLETD_SERVER_KEY"), "walletd rpc public key (hex)")
	fs.DurationVar(&o.timeout, "timeout", rpc.DefaultTimeout, "per-request timeout")
	fs.BoolVar(&o.echo, "echo", false, "run an in-process echo round trip and exit")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: walletctl [flags] [message ...]\n\nWith no messages, sends the four wallet commands in order.\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if o.echo {
		return runEcho(ctx, o.timeout)
	}

	if o.serverKey == "" {
		return fmt.Errorf("--server-key (or WALLETD_SERVER_KEY) is required")
	}
	messages := fs.Args()
	if len(messages) == 0 {
		messages = defaultMessages
	}

	store, err := identity.Open(o.storePath)
	if err != nil {
		return err
	}
	defer store.Close()
	seed, err := store.GetOrCreate(ctx, identity.TransportSeedName)
	if err != nil {
		return err
	}

	node, err := transport.Join(ctx, seed, transport.Config{
		ListenPort: o.listenPort,
		Bootstrap: []transport.BootstrapPeer{{
			Host:      o.bootstrapHost,
			Port:      o.bootstrapPort,
			PublicKey: o.bootstrapKey,
		}},
	})
	if err != nil {
		return fmt.Errorf("join discovery fabric: %w", err)
	}
	defer node.Close()

	client := rpc.NewClient(node.Host, rpc.WithTimeout(o.timeout))
	for _, msg := range messages {
		body, err := json.Marshal(dispatch.Request{Message: msg})
		if err != nil {
			return err
		}
		out, err := client.Request(ctx, o.serverKey, dispatch.MessageMethod, body)
		if err != nil {
			return fmt.Errorf("request %q: %w", msg, err)
		}
		var pretty bytes.Buffer
		if json.Indent(&pretty, out, "", "  ") != nil {
			pretty.Reset()
			pretty.Write(out)
		}
		fmt.Printf("> %s\n%s\n", msg, pretty.String())
	}
	return nil
}

// runEcho binds an echo procedure on one loopback node and calls it from a
// second node that bootstraps off the first.
func runEcho(ctx context.Context, timeout time.Duration) error {
	serverSeed, err := identity.NewSeed()
	if err != nil {
		return err
	}
	clientSeed, err := identity.NewSeed()
	if err != nil {
		return err
	}

	server, err := transport.ServeBootstrap(ctx, serverSeed, transport.Config{ListenHost: "127.0.0.1"})
	if err != nil {
		return err
	}
	defer server.Close()

	srv := rpc.NewServer(server.Host)
	srv.Respond("echo", func(_ context.Context, body []byte) ([]byte, error) { return body, nil })
	if err := srv.Listen(); err != nil {
		return err
	}
	defer srv.Close()

	var boot []transport.BootstrapPeer
	for _, a := range server.P2PAddrs() {
		boot = append(boot, transport.BootstrapPeer{Addr: a.String()})
	}
	node, err := transport.Join(ctx, clientSeed, transport.Config{ListenHost: "127.0.0.1", Bootstrap: boot})
	if err != nil {
		return err
	}
	defer node.Close()

	out, err := rpc.NewClient(node.Host, rpc.WithTimeout(timeout)).
		Request(ctx, server.PublicKeyHex(), "echo", []byte("hello world 7"))
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
