package gateway

import "encoding/json"

// Envelope types on the /ws stream.
const (
	typeSnapshot  = "snapshot"
	typeCandle    = "candle"
	typeLive      = "live"
	typeSentiment = "sentiment"
	typeSignal    = "signal"
	typeError     = "error"

	channelSentiment = "sentiment"
	channelError     = "error"
)

// Envelope is the outer object of every message sent on /ws. Clients use it
// when decoding; the server writes it with buildEnvelope.
type Envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	TS      string          `json:"ts"`
	Seq     int64           `json:"seq"`
}

// inboundMsg is any message a dashboard sends on /ws.
type inboundMsg struct {
	Type       string `json:"type"`
	Ping       int64  `json:"ping"`
	Live       *bool  `json:"live"`
	Simulating *bool  `json:"simulating"`
}

type pongMsg struct {
	Type     string `json:"type"`
	Ping     int64  `json:"ping"`
	ServerTS int64  `json:"server_ts"`
}

type errorMsg struct {
	Message string `json:"message"`
}

// LiveState is the body of GET/POST /api/live and the data of live envelopes.
type LiveState struct {
	Live bool `json:"live"`
}

// ConditionToggle is the body of POST /api/condition.
type ConditionToggle struct {
	Simulating bool `json:"simulating"`
}

// HealthResponse is served at /health.
type HealthResponse struct {
	Status    string         `json:"status"`
	Symbol    string         `json:"symbol"`
	Live      bool           `json:"live"`
	Ready     bool           `json:"ready"` // false while a relay window is filling
	Seq       int64          `json:"seq"`
	WSClients int            `json:"ws_clients"`
	Latency   LatencySummary `json:"latency_ms"`
	UptimeSec int64          `json:"uptime_sec"`
	TS        string         `json:"ts"`
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(errorMsg{Message: err.Error()})
	}
	return b
}
