package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nous-labs/walletd/pkg/intent"
)

// Handler returns the HTTP API.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/v1/identity", d.handleIdentity)
	mux.HandleFunc("/v1/classify", d.handleClassify)
	mux.HandleFunc("/v1/events", d.handleEvents)
	return mux
}

// listenHTTP opens addr. "unix:/path" binds a Unix socket, replacing a
// stale one; anything else is a TCP address.
func listenHTTP(addr string) (net.Listener, func(), error) {
	sockPath, ok := strings.CutPrefix(addr, "unix:")
	if !ok {
		ln, err := net.Listen("tcp", addr)
		return ln, func() {}, err
	}
	if _, err := os.Stat(sockPath); err == nil {
		os.Remove(sockPath)
	}
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, nil, err
	}
	os.Chmod(sockPath, 0o660)
	return ln, func() { os.Remove(sockPath) }, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if d.isHealthy() {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"uptime": time.Since(d.startedAt).Round(time.Second).String(),
		})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
}

type identityResponse struct {
	RPCPublicKey       string   `json:"rpc_public_key"`
	DiscoveryPublicKey string   `json:"discovery_public_key"`
	Addrs              []string `json:"addrs,omitempty"`
	RoutingTable       int      `json:"routing_table"`
}

func (d *Daemon) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if d.rpcNode == nil || d.node == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "not started"})
		return
	}
	resp := identityResponse{
		RPCPublicKey:       d.RPCPublicKey(),
		DiscoveryPublicKey: d.DiscoveryPublicKey(),
		RoutingTable:       d.node.DHT.RoutingTable().Size(),
	}
	for _, a := range d.rpcNode.P2PAddrs() {
		resp.Addrs = append(resp.Addrs, a.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

type classifyRequest struct {
	Message string `json:"message"`
}

type classifyResponse struct {
	Command string  `json:"command"`
	Score   float64 `json:"score,omitempty"`
}

// handleClassify reports which command a message maps to without running it.
func (d *Daemon) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if d.resolver == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "not started"})
		return
	}
	var req classifyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": `body must be {"message": string}`})
		return
	}

	var (
		m   intent.Match
		err error
	)
	if d.classifier != nil {
		m, err = d.classifier.ClassifyScored(r.Context(), req.Message)
	} else {
		m.ID, err = d.resolver.Classify(r.Context(), req.Message)
	}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, classifyResponse{Command: m.ID, Score: m.Score})
}

func (d *Daemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := d.Events.Subscribe()
	defer sub.Close()

	for _, e := range d.Events.Recent(50) {
		fmt.Fprintf(w, "data: %s\n\n", e.JSON())
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", evt.JSON())
			flusher.Flush()
		}
	}
}
