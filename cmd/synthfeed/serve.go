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

	"synthfeed/config"
	"synthfeed/internal/bus"
	"synthfeed/internal/feed"
	"synthfeed/internal/gateway"
	"synthfeed/internal/indicator"
	"synthfeed/internal/metrics"
	"synthfeed/internal/model"
	"synthfeed/internal/scheduler"
	"synthfeed/internal/sentiment"
	"synthfeed/internal/signals"
	redisstore "synthfeed/internal/store/redis"
	"synthfeed/internal/synth"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the price engine with websocket, REST and metrics endpoints",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// chanPublisher hands tick events to a fan-out without blocking the tick.
type chanPublisher struct {
	ch     chan<- model.TickEvent
	logger *slog.Logger
}

func (p chanPublisher) Publish(ev model.TickEvent) {
	select {
	case p.ch <- ev:
	default:
		p.logger.Warn("fan-out input full, dropping tick", slog.Int64("seq", ev.Seq))
	}
}

// sources returns independent random sources for the engine, the gauge and
// the condition simulator. A zero seed seeds each from the wall clock.
func sources(seed int64) (engine, gauge, condition synth.Source) {
	if seed == 0 {
		return synth.NewTimeSource(), synth.NewTimeSource(), synth.NewTimeSource()
	}
	return synth.NewSource(seed), synth.NewSource(seed + 1), synth.NewSource(seed + 2)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig("synthfeed")
	if err != nil {
		return err
	}
	log.Info("starting", slog.String("symbol", cfg.Feed.Symbol), slog.String("version", version))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Metrics & health ----
	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus("engine")
	metricsSrv := metrics.NewServer(cfg.Server.MetricsAddr, m, health)

	// ---- Engine & feed ----
	engineRnd, gaugeRnd, condRnd := sources(cfg.Feed.Seed)
	engine := synth.NewEngine(engineRnd)

	fanIn := make(chan model.TickEvent, 256)
	fan := bus.New(256)
	fan.OnDrop = func(name string) {
		m.FanoutDropsTotal.WithLabelValues(name).Inc()
	}

	f, err := feed.New(feed.Config{
		Symbol:       cfg.Feed.Symbol,
		BasePrice:    cfg.Feed.BasePrice,
		WindowSize:   cfg.Feed.WindowSize,
		TickInterval: cfg.Feed.TickInterval,
	}, engine, scheduler.NewCron("feed", log), chanPublisher{ch: fanIn, logger: log}, log)
	if err != nil {
		return err
	}
	recordWindow(m, f.Snapshot())
	m.WindowLength.Set(float64(engine.Size()))
	m.WatchEvicted(engine.Evicted)

	// ---- Signal desk ----
	desk := signals.NewDesk(cfg.Feed.Symbol, indicator.NewAnalyzer(indicator.DefaultParams()), signals.DefaultCapacity, log)
	desk.Seed(f.Window())

	f.OnTick = func(ev model.TickEvent, took time.Duration) {
		m.TicksTotal.Inc()
		m.TickDuration.Observe(took.Seconds())
		m.LastPrice.Set(ev.Candle.Close)
		if pct, err := engine.PercentChange(); err == nil {
			m.PercentChange.Set(pct)
		}
		health.SetLastTickTime(ev.EmittedAt)
		desk.Observe(ev)
	}

	// ---- Sentiment widgets ----
	board := sentiment.NewBoard(
		sentiment.NewGauge(gaugeRnd),
		sentiment.NewConditionSim(condRnd),
		scheduler.NewCron("gauge", log),
		scheduler.NewCron("condition", log),
		cfg.Sentiment.GaugeInterval,
		cfg.Sentiment.ConditionInterval,
	)

	// ---- Websocket hub ----
	hub := gateway.NewHub(f, board, log)
	wireHubMetrics(hub, m)
	hub.SetAnalyst(desk)
	desk.OnSignal = hub.Broadcaster.Signal

	f.OnLive = func(live bool) {
		m.SetLive(live)
		health.SetLive(live)
		hub.Broadcaster.Live(f.Symbol(), live)
	}
	board.OnChange = func(r sentiment.Reading) {
		m.Probability.Set(float64(r.Probability))
		hub.Broadcaster.Sentiment(r)
	}
	m.Probability.Set(float64(board.Reading().Probability))

	wsEvents := fan.Subscribe("ws")

	// ---- Redis fan-out (optional) ----
	var pub *redisstore.Publisher
	if cfg.Redis.Enabled() {
		var rerr error
		if pub, rerr = startRedis(ctx, cfg, fan, m, health, log); rerr != nil {
			log.Warn("redis unavailable, continuing without fan-out", slog.String("error", rerr.Error()))
			health.SetRedis(true, false)
		}
	}

	go fan.Run(ctx, fanIn)
	go hub.Run(ctx, wsEvents)

	if err := board.Start(); err != nil {
		return fmt.Errorf("start sentiment board: %w", err)
	}
	if cfg.Feed.Live() {
		if err := f.SetLive(true); err != nil {
			board.Stop()
			return err
		}
	}

	// ---- HTTP ----
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, time.Now())
	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gateway.RequestIDMiddleware(mux, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", slog.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()
	metricsSrv.Start()

	// ---- Wait for shutdown ----
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case runErr = <-srvErr:
		log.Error("http server failed", slog.String("error", runErr.Error()))
	}

	f.Close()
	board.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	hub.CloseAll()
	metricsSrv.Stop(shutdownCtx)
	if pub != nil {
		pub.Close()
	}

	log.Info("stopped")
	return runErr
}

func startRedis(ctx context.Context, cfg *config.Config, fan *bus.FanOut, m *metrics.Metrics, health *metrics.HealthStatus, log *slog.Logger) (*redisstore.Publisher, error) {
	pub, err := redisstore.NewPublisher(redisstore.PublisherConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Channel:  cfg.Redis.Channel,
	})
	if err != nil {
		return nil, err
	}
	health.SetRedis(true, true)
	health.StartLivenessChecker(ctx, pub.Client(), 10*time.Second)

	pub.OnPublish = func(took time.Duration, err error) {
		m.RedisPublishDur.Observe(took.Seconds())
		if err != nil {
			m.RedisPublishErrors.Inc()
		}
	}
	pub.Breaker().OnStateChange = func(from, to redisstore.State) {
		m.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			m.RedisCircuitBreakerTrips.Inc()
		}
		log.Warn("redis circuit breaker", slog.String("from", from.String()), slog.String("to", to.String()))
	}

	go pub.Run(ctx, fan.Subscribe("redis"))
	return pub, nil
}

func wireHubMetrics(hub *gateway.Hub, m *metrics.Metrics) {
	hub.OnClients = func(n int) { m.WSClients.Set(float64(n)) }
	hub.OnSendDrop = func() { m.WSSendDrops.Inc() }
	hub.OnEmit = func(d time.Duration) { m.EmitLatency.Observe(d.Seconds()) }
}

func recordWindow(m *metrics.Metrics, snap model.Snapshot) {
	m.LastPrice.Set(snap.LastPrice)
	m.PercentChange.Set(snap.PercentChange)
}
