package model

import "time"

// TickEvent is emitted once per engine tick. It carries the appended candle
// plus the metadata downstream consumers (websocket hub, redis publisher,
// relays) need to order and de-duplicate it.
type TickEvent struct {
	Symbol    string    `json:"symbol"`
	Seq       int64     `json:"seq"` // monotonic per feed, starts at 1
	Candle    Candle    `json:"candle"`
	EmittedAt time.Time `json:"ts"` // UTC wall clock at emission
}
