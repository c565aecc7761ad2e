package main

import (
	"context"
	"encoding/json"
	"time"
)

// sweeperLoop probes every session on a fixed interval, independent of
// connection activity. A probe that cannot be queued is taken as proof of
// disconnection and the session goes through the same close path as a
// transport failure, roster update included. Runs until ctx is done.
func (a *Arena) sweeperLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep()
		}
	}
}

// sweep runs a single probe-and-evict pass over a registry snapshot.
func (a *Arena) sweep() {
	ping, err := json.Marshal(PingMessage{Type: "ping"})
	if err != nil {
		return
	}

	for _, s := range a.reg.Snapshot() {
		if s.client.trySend(ping) {
			continue
		}

		evictionsTotal.Inc()
		a.close(s.client, s.ID, "liveness probe failed")
	}
}
