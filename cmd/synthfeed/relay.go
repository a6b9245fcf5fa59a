package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"synthfeed/internal/bus"
	"synthfeed/internal/gateway"
	"synthfeed/internal/indicator"
	"synthfeed/internal/metrics"
	"synthfeed/internal/model"
	"synthfeed/internal/relay"
	"synthfeed/internal/signals"

	goredis "github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
)

var (
	relayFrom         string
	relayRedis        bool
	relaySnapshotFrom string
	relayAddr         string
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Mirror an upstream synthfeed read-only",
	Long: `Relay follows an upstream synthfeed, either through its /ws endpoint or the
redis channel it publishes to, and serves the same websocket and REST API.
Live toggles are rejected.

Redis carries only candles. With --snapshot-from the relay loads the
upstream window from its REST API once subscribed; without it the window
fills tick by tick and /api/window answers 503 until it is full.

Examples:
  synthfeed relay --from ws://engine:8080/ws --addr :8081
  synthfeed relay --redis --snapshot-from http://engine:8080 --addr :8081`,
	RunE: runRelay,
}

func init() {
	relayCmd.Flags().StringVar(&relayFrom, "from", "", "upstream websocket URL")
	relayCmd.Flags().BoolVar(&relayRedis, "redis", false, "ingest from the configured redis channel")
	relayCmd.Flags().StringVar(&relaySnapshotFrom, "snapshot-from", "", "upstream HTTP root to load the initial window from (with --redis)")
	relayCmd.Flags().StringVar(&relayAddr, "addr", "", "listen address (defaults to server.http_addr)")
	relayCmd.MarkFlagsMutuallyExclusive("from", "redis")
	relayCmd.MarkFlagsMutuallyExclusive("from", "snapshot-from")
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, args []string) error {
	if relayFrom == "" && !relayRedis {
		return fmt.Errorf("one of --from or --redis is required")
	}
	cfg, log, err := loadConfig("synthfeed-relay")
	if err != nil {
		return err
	}
	if relayAddr == "" {
		relayAddr = cfg.Server.HTTPAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus("relay")
	metricsSrv := metrics.NewServer(cfg.Server.MetricsAddr, m, health)

	mirror := relay.NewMirror(cfg.Feed.Symbol, cfg.Feed.WindowSize, log)
	hub := gateway.NewHub(mirror, nil, log)
	wireHubMetrics(hub, m)

	desk := signals.NewDesk(cfg.Feed.Symbol, indicator.NewAnalyzer(indicator.DefaultParams()), signals.DefaultCapacity, log)
	desk.OnSignal = hub.Broadcaster.Signal
	hub.SetAnalyst(desk)

	mirror.OnLoad = func(candles []model.Candle) { desk.Seed(candles) }
	mirror.OnApply = func(ev model.TickEvent) {
		m.RelayEvents.Inc()
		m.LastPrice.Set(ev.Candle.Close)
		health.SetLastTickTime(ev.EmittedAt)
		desk.Observe(ev)
	}
	mirror.OnLive = func(live bool) {
		m.SetLive(live)
		health.SetLive(live)
		hub.Broadcaster.Live(cfg.Feed.Symbol, live)
	}

	// ---- Ingest ----
	var ing relay.Ingest
	if relayFrom != "" {
		ws, err := relay.NewWSIngest(relay.WSConfig{URL: relayFrom}, mirror, log)
		if err != nil {
			return err
		}
		ws.OnConnect = func() { health.SetUpstreamOK(true) }
		ws.OnReconnect = func() {
			health.SetUpstreamOK(false)
			m.RelayReconnects.Inc()
		}
		ing = ws
	} else {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		health.SetRedis(true, true)
		health.SetUpstreamOK(true)
		health.StartLivenessChecker(ctx, rdb, 10*time.Second)
		rin := relay.NewRedisIngest(rdb, cfg.Redis.Channel, log)
		if relaySnapshotFrom != "" {
			rin.OnSubscribed = func() {
				snap, err := relay.FetchSnapshot(ctx, nil, relaySnapshotFrom)
				if err != nil {
					log.Warn("snapshot bootstrap failed, window will fill tick by tick", slog.String("error", err.Error()))
					return
				}
				mirror.Load(snap)
				recordWindow(m, mirror.Snapshot())
			}
		}
		ing = rin
	}

	events := make(chan model.TickEvent, 256)
	fanIn := make(chan model.TickEvent, 256)
	fan := bus.New(256)
	fan.OnDrop = func(name string) {
		m.FanoutDropsTotal.WithLabelValues(name).Inc()
	}
	wsEvents := fan.Subscribe("ws")

	go fan.Run(ctx, fanIn)
	go hub.Run(ctx, wsEvents)
	go mirror.Run(ctx, events, chanPublisher{ch: fanIn, logger: log})
	go func() {
		if err := ing.Start(ctx, events); err != nil {
			log.Error("ingest stopped", slog.String("error", err.Error()))
			health.SetUpstreamOK(false)
		}
	}()

	// ---- HTTP ----
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, time.Now())
	srv := &http.Server{
		Addr:              relayAddr,
		Handler:           gateway.RequestIDMiddleware(mux, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		log.Info("relay listening", slog.String("addr", relayAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()
	metricsSrv.Start()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case runErr = <-srvErr:
		log.Error("http server failed", slog.String("error", runErr.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	hub.CloseAll()
	metricsSrv.Stop(shutdownCtx)

	log.Info("stopped")
	return runErr
}
