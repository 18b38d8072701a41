// Command tallyd runs an EndPoint: indicators dial in over TCP, and queries are served over HTTP.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/monzo/slog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tallyhq/tally"
	"github.com/tallyhq/tally/config"
	"github.com/tallyhq/tally/transport/tcp"
)

func main() {
	configPath := flag.String("config", ".", "directory containing tally.yaml")
	flag.Parse()
	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Critical(ctx, "Failed to load config: %v", err)
		os.Exit(1)
	}

	t, err := tcp.Listen(cfg.TransportAddr)
	if err != nil {
		slog.Critical(ctx, "Failed to listen for indicators on %s: %v", cfg.TransportAddr, err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ep := tally.New(cfg.Group,
		tally.WithTransport(t),
		tally.WithConfig(cfg.EndPointConfig()),
		tally.WithRegisterer(reg))
	if err := ep.Initialize(ctx); err != nil {
		t.Close(ctx)
		slog.Critical(ctx, "Failed to start EndPoint: %v", err)
		os.Exit(1)
	}

	svc := tally.QueryService(ep, reg, cfg.HTTPTimeout)
	srv, err := tally.Listen(svc, cfg.ListenAddr,
		tally.WithEndPoint(ep),
		tally.WithTimeout(tally.TimeoutOptions{
			ReadHeader: 5 * time.Second,
			Idle:       2 * time.Minute}))
	if err != nil {
		ep.Destroy(ctx)
		slog.Critical(ctx, "Failed to start HTTP server: %v", err)
		os.Exit(1)
	}
	slog.Info(ctx, "EndPoint %s accepting indicators on %v and queries on %v", cfg.Group, t.Addr(),
		srv.Listener().Addr())

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-done:
	case <-srv.Done():
	}
	slog.Info(ctx, "Shutting down")
	c, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	srv.Stop(c)
}
