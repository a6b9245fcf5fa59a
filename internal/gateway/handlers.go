package gateway

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"synthfeed/internal/logger"
	"synthfeed/internal/signals"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorMsg{Message: msg})
}

// RequestIDMiddleware tags every request with an X-Request-ID (reusing the
// caller's when present) and logs it at debug level.
func RequestIDMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logger.NewRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := logger.WithRequestID(r.Context(), id)
		log.DebugContext(ctx, "http request",
			append(logger.LogWithRequest(ctx),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path))...)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RegisterRoutes registers the websocket and REST routes on mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, processStart time.Time) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("ws upgrade failed", append(logger.LogWithRequest(r.Context()), slog.Any("error", err))...)
			return
		}
		hub.HandleConn(r.Context(), conn)
	})

	// REST: current window and derived header values
	mux.HandleFunc("/api/window", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		snap := hub.src.Snapshot()
		if snap.Partial {
			writeJSON(w, http.StatusServiceUnavailable, snap)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	// REST: GET/POST /api/live
	mux.HandleFunc("/api/live", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			writeJSON(w, http.StatusOK, LiveState{Live: hub.src.Snapshot().Live})
		case http.MethodPost:
			var req LiveState
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON")
				return
			}
			if err := hub.src.SetLive(req.Live); err != nil {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			hub.logger.Info("live toggled", append(logger.LogWithRequest(r.Context()), slog.Bool("live", req.Live))...)
			writeJSON(w, http.StatusOK, req)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	// REST: sentiment widgets
	mux.HandleFunc("/api/indicators", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if hub.widgets == nil {
			writeError(w, http.StatusNotFound, "no sentiment board")
			return
		}
		writeJSON(w, http.StatusOK, hub.widgets.Reading())
	})

	// REST: POST /api/condition toggles the traffic-light simulation
	mux.HandleFunc("/api/condition", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
			return
		case http.MethodPost:
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if hub.widgets == nil {
			writeError(w, http.StatusNotFound, "no sentiment board")
			return
		}
		var req ConditionToggle
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if err := hub.widgets.SetSimulating(req.Simulating); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, hub.widgets.Reading())
	})

	// REST: indicator decision for the latest close
	mux.HandleFunc("/api/analyze", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if hub.analyst == nil {
			writeError(w, http.StatusNotFound, "no signal desk")
			return
		}
		writeJSON(w, http.StatusOK, hub.analyst.Analysis())
	})

	// REST: GET /api/signals?filter=all|active|completed&q=<asset substring>
	mux.HandleFunc("/api/signals", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if hub.analyst == nil {
			writeError(w, http.StatusNotFound, "no signal desk")
			return
		}
		q := r.URL.Query()
		f, err := signals.ParseFilter(q.Get("filter"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, hub.analyst.Signals(f, q.Get("q")))
	})

	// REST: candle envelopes with tick seq in [from, to] for gap backfill
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		q := r.URL.Query()
		from, err := strconv.ParseInt(q.Get("from"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be an integer")
			return
		}
		to := int64(math.MaxInt64)
		if s := q.Get("to"); s != "" {
			if to, err = strconv.ParseInt(s, 10, 64); err != nil {
				writeError(w, http.StatusBadRequest, "to must be an integer")
				return
			}
		}
		if to < from {
			writeError(w, http.StatusBadRequest, "to must not be less than from")
			return
		}

		envs := hub.GetReplayRange(from, to)
		out := make([]json.RawMessage, len(envs))
		for i, e := range envs {
			out[i] = e
		}
		writeJSON(w, http.StatusOK, out)
	})

	// Health endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		snap := hub.src.Snapshot()
		status := "ok"
		if snap.Partial {
			status = "warming"
		}
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:    status,
			Symbol:    snap.Symbol,
			Live:      snap.Live,
			Ready:     !snap.Partial,
			Seq:       snap.Seq,
			WSClients: hub.ClientCount(),
			Latency:   hub.Latency.Summary(),
			UptimeSec: int64(time.Since(processStart).Seconds()),
			TS:        time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
