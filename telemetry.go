package main

import (
	"sync"
	"sync/atomic"
	"time"
)

// telemetryCounters aggregates cheap process-wide counters surfaced by the
// /diagnostics endpoint.
type telemetryCounters struct {
	ticksTotal         atomic.Uint64
	tickDurationMillis atomic.Int64
	bytesSent          atomic.Uint64
	broadcastsSent     atomic.Uint64

	mu           sync.Mutex
	commandDrops map[string]uint64
}

type telemetrySnapshot struct {
	TicksTotal         uint64            `json:"ticksTotal"`
	TickDurationMillis int64             `json:"tickDurationMillis"`
	BytesSent          uint64            `json:"bytesSent"`
	BroadcastsSent     uint64            `json:"broadcastsSent"`
	CommandDrops       map[string]uint64 `json:"commandDrops,omitempty"`
}

func newTelemetryCounters() *telemetryCounters {
	return &telemetryCounters{commandDrops: make(map[string]uint64)}
}

func (t *telemetryCounters) RecordTickDuration(duration time.Duration) {
	if t == nil {
		return
	}
	millis := duration.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	t.ticksTotal.Add(1)
	t.tickDurationMillis.Store(millis)
}

func (t *telemetryCounters) RecordBroadcast(bytes int) {
	if t == nil {
		return
	}
	if bytes < 0 {
		bytes = 0
	}
	t.bytesSent.Add(uint64(bytes))
	t.broadcastsSent.Add(1)
}

func (t *telemetryCounters) RecordCommandDrop(reason string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.commandDrops[reason]++
	t.mu.Unlock()
}

func (t *telemetryCounters) Snapshot() telemetrySnapshot {
	if t == nil {
		return telemetrySnapshot{}
	}
	t.mu.Lock()
	drops := make(map[string]uint64, len(t.commandDrops))
	for reason, count := range t.commandDrops {
		drops[reason] = count
	}
	t.mu.Unlock()
	return telemetrySnapshot{
		TicksTotal:         t.ticksTotal.Load(),
		TickDurationMillis: t.tickDurationMillis.Load(),
		BytesSent:          t.bytesSent.Load(),
		BroadcastsSent:     t.broadcastsSent.Load(),
		CommandDrops:       drops,
	}
}
