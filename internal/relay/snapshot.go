package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"synthfeed/internal/model"
)

const snapshotTimeout = 10 * time.Second

// FetchSnapshot reads the upstream window from its REST API. baseURL is
// the upstream's HTTP root, e.g. "http://engine:8080".
func FetchSnapshot(ctx context.Context, client *http.Client, baseURL string) (model.Snapshot, error) {
	if client == nil {
		client = &http.Client{Timeout: snapshotTimeout}
	}
	url := strings.TrimRight(baseURL, "/") + "/api/window"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("snapshot request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("fetch snapshot %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Snapshot{}, fmt.Errorf("fetch snapshot %s: status %d", url, resp.StatusCode)
	}

	var snap model.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return model.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Partial || len(snap.Candles) == 0 {
		return model.Snapshot{}, fmt.Errorf("fetch snapshot %s: upstream window is incomplete", url)
	}
	return snap, nil
}
