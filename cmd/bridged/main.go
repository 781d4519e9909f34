// Command bridged runs the bridge daemon: it supervises one agent
// subprocess, tails its rollout journals, and serves every connected
// client over a single authenticated WebSocket endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leapmux/bridged/internal/bridge/agent"
	"github.com/leapmux/bridged/internal/bridge/agentbridge"
	"github.com/leapmux/bridged/internal/bridge/auth"
	"github.com/leapmux/bridged/internal/bridge/config"
	"github.com/leapmux/bridged/internal/bridge/gateway"
	"github.com/leapmux/bridged/internal/bridge/hub"
	"github.com/leapmux/bridged/internal/bridge/rollout"
	"github.com/leapmux/bridged/internal/bridge/termexec"
	"github.com/leapmux/bridged/internal/bridge/transport"
	"github.com/leapmux/bridged/internal/logging"
	"github.com/leapmux/bridged/internal/metrics"
)

var version = "dev"

func main() {
	cfg := config.DefineFlags()
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	logging.Setup()

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logging.PrintBanner(version, cfg.Addr)
	if cfg.AllowQueryToken {
		logging.PrintPairingQR(cfg.Addr, cfg.AuthToken)
	}

	if err := run(cfg); err != nil {
		slog.Error("bridged exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := hub.New(cfg.ReplayCapacity)

	agentOpts := agentbridge.Options{
		Process: agent.Options{
			Command: cfg.AgentCommand,
			Args:    cfg.AgentArgList(),
			Dir:     cfg.AgentDir,
		},
	}
	bridge, err := agentbridge.Start(ctx, agentOpts, h, h)
	if err != nil {
		return fmt.Errorf("start agent bridge: %w", err)
	}
	defer bridge.Stop()

	var tailer *rollout.Tailer
	if cfg.RolloutRoot != "" {
		tailer = rollout.New(rollout.Options{Root: cfg.RolloutRoot}, h)
		tailer.Start()
	}

	var terminal *termexec.Executor
	if !cfg.TerminalDisabled {
		terminal = termexec.New(cfg.TerminalRoot, cfg.TerminalAllowedCommandList(), false)
	}

	gw := gateway.New(h, bridge, gateway.Options{
		Terminal: terminal,
		GitRoot:  cfg.GitRoot,
	})

	authn := auth.New(cfg.AuthToken, cfg.AllowQueryToken)
	srv := transport.New(hubAdapter{h}, gw, authn)

	httpServer := &http.Server{
		Handler:           logging.HTTPMiddleware(metrics.HTTPMiddleware(srv.Handler(promhttp.Handler()))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// A restarting supervisor can race the previous process off the port;
	// retry the bind with backoff rather than failing immediately.
	listener, err := listenWithRetry(ctx, cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	bridgeExit := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		bridgeExit <- bridge.Wait()
	}()

	slog.Info("bridged listening", "addr", cfg.Addr)

	var exitErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serveErr:
		exitErr = err
	case err := <-bridgeExit:
		slog.Warn("agent subprocess exited", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	if tailer != nil {
		tailer.Stop()
	}
	bridge.Stop()

	wg.Wait()
	return exitErr
}

// hubAdapter narrows *hub.Hub to transport.Hub, converting
// *hub.ClientSession into the transport package's plain Session struct
// so transport never needs to import the hub package directly.
type hubAdapter struct {
	h *hub.Hub
}

func (a hubAdapter) Register(traceID string) transport.Session {
	cs := a.h.Register(traceID)
	return transport.Session{ClientID: cs.ClientID, TraceID: cs.TraceID, Outbound: cs.Outbound()}
}

func (a hubAdapter) Remove(clientID uint64) {
	a.h.Remove(clientID)
}

// listenWithRetry binds addr, retrying with backoff for up to 30s. A
// supervisor that restarts this process quickly can race the outgoing
// instance off the port before the kernel releases it; one immediate
// failure shouldn't be fatal.
func listenWithRetry(ctx context.Context, addr string) (net.Listener, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.Reset()

	deadline := time.Now().Add(30 * time.Second)
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		wait := b.NextBackOff()
		slog.Warn("listen failed, retrying", "addr", addr, "error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}
