// Command synthfeed serves a synthetic OHLCV price feed to trading
// dashboards over websocket and REST, optionally fanning ticks out through
// redis to read-only relays.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
