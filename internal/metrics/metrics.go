package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the synthetic feed.
type Metrics struct {
	Registry *prometheus.Registry

	TicksTotal    prometheus.Counter
	TickDuration  prometheus.Histogram
	LastPrice     prometheus.Gauge
	PercentChange prometheus.Gauge
	WindowLength  prometheus.Gauge
	Live          prometheus.Gauge // 0=paused, 1=live

	// Fan-out / websocket
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber
	WSClients        prometheus.Gauge
	WSSendDrops      prometheus.Counter
	EmitLatency      prometheus.Histogram // tick-to-websocket-emit latency

	// Redis publisher
	RedisPublishDur          prometheus.Histogram
	RedisPublishErrors       prometheus.Counter
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Relay
	RelayReconnects prometheus.Counter
	RelayEvents     prometheus.Counter

	// Sentiment widgets
	Probability prometheus.Gauge
}

// NewMetrics creates all metrics on a dedicated registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synthfeed_ticks_total",
			Help: "Total candles appended by the engine",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "synthfeed_tick_duration_seconds",
			Help:    "Time spent generating and publishing one candle",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.01},
		}),
		LastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synthfeed_last_price",
			Help: "Close of the newest candle",
		}),
		PercentChange: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synthfeed_percent_change",
			Help: "Window change from oldest open to newest close, in percent",
		}),
		WindowLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synthfeed_window_length",
			Help: "Number of candles in the window",
		}),
		Live: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synthfeed_live",
			Help: "Feed state (0=paused, 1=live)",
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synthfeed_fanout_drops_total",
			Help: "Tick events dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synthfeed_ws_clients",
			Help: "Connected websocket clients",
		}),
		WSSendDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synthfeed_ws_send_drops_total",
			Help: "Envelopes dropped because a client send buffer was full",
		}),
		EmitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "synthfeed_emit_latency_seconds",
			Help:    "Latency from tick emission to websocket fan-out",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		RedisPublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "synthfeed_redis_publish_duration_seconds",
			Help:    "Redis PUBLISH latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synthfeed_redis_publish_errors_total",
			Help: "Failed or rejected redis publishes",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synthfeed_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synthfeed_redis_circuit_breaker_trips_total",
			Help: "Times the redis circuit breaker opened",
		}),
		RelayReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synthfeed_relay_reconnects_total",
			Help: "Relay reconnection attempts to the upstream feed",
		}),
		RelayEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synthfeed_relay_events_total",
			Help: "Tick events mirrored from the upstream feed",
		}),
		Probability: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synthfeed_success_probability",
			Help: "Current value of the success-probability gauge",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TicksTotal,
		m.TickDuration,
		m.LastPrice,
		m.PercentChange,
		m.WindowLength,
		m.Live,
		m.FanoutDropsTotal,
		m.WSClients,
		m.WSSendDrops,
		m.EmitLatency,
		m.RedisPublishDur,
		m.RedisPublishErrors,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RelayReconnects,
		m.RelayEvents,
		m.Probability,
	)

	return m
}

// WatchEvicted exports fn as the running count of candles evicted from the
// window. Call at most once per Metrics.
func (m *Metrics) WatchEvicted(fn func() uint64) {
	m.Registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "synthfeed_window_evicted_total",
		Help: "Candles pushed out of the window by ticks",
	}, func() float64 { return float64(fn()) }))
}

// SetLive records the feed state.
func (m *Metrics) SetLive(live bool) {
	if live {
		m.Live.Set(1)
	} else {
		m.Live.Set(0)
	}
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	Mode           string    `json:"mode"` // "engine" or "relay"
	Live           bool      `json:"live"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	UpstreamOK     bool      `json:"upstream_ok"`

	RedisLatencyMs float64   `json:"redis_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status for the given mode.
func NewHealthStatus(mode string) *HealthStatus {
	return &HealthStatus{
		Mode:      mode,
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetLive(v bool) {
	h.mu.Lock()
	h.Live = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedis(enabled, connected bool) {
	h.mu.Lock()
	h.RedisEnabled = enabled
	h.RedisConnected = connected
	h.mu.Unlock()
}

func (h *HealthStatus) SetUpstreamOK(v bool) {
	h.mu.Lock()
	h.UpstreamOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker pings redis every interval until ctx is cancelled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, interval time.Duration) {
	if rdb == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.CheckRedis(probeCtx, rdb)
				cancel()
			}
		}
	}()
}

// Report is the /healthz response body.
type Report struct {
	Status         string  `json:"status"`
	Mode           string  `json:"mode"`
	Uptime         string  `json:"uptime"`
	Live           bool    `json:"live"`
	LastTickTime   string  `json:"last_tick_time"`
	TickAge        string  `json:"tick_age"`
	RedisEnabled   bool    `json:"redis_enabled"`
	RedisConnected bool    `json:"redis_connected"`
	RedisLatencyMs float64 `json:"redis_latency_ms"`
	UpstreamOK     bool    `json:"upstream_ok"`
	LastCheckAt    string  `json:"last_check_at"`
}

// Report summarizes the current health. A relay without an upstream, or an
// enabled but unreachable redis, is "degraded".
func (h *HealthStatus) Report() (Report, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status, code := "healthy", http.StatusOK
	if (h.RedisEnabled && !h.RedisConnected) || (h.Mode == "relay" && !h.UpstreamOK) {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	tickAge := ""
	lastTick := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
		lastTick = h.LastTickTime.Format(time.RFC3339)
	}
	lastCheck := ""
	if !h.LastCheckAt.IsZero() {
		lastCheck = h.LastCheckAt.Format(time.RFC3339)
	}

	return Report{
		Status:         status,
		Mode:           h.Mode,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		Live:           h.Live,
		LastTickTime:   lastTick,
		TickAge:        tickAge,
		RedisEnabled:   h.RedisEnabled,
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		UpstreamOK:     h.UpstreamOK,
		LastCheckAt:    lastCheck,
	}, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.Report()
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(report)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry}))
	mux.Handle("/healthz", health)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
