package main

import (
	"testing"
	"time"
)

func TestTelemetryCounters(t *testing.T) {
	counters := newTelemetryCounters()

	counters.RecordTickDuration(3 * time.Millisecond)
	counters.RecordTickDuration(7 * time.Millisecond)
	counters.RecordBroadcast(120)
	counters.RecordBroadcast(80)
	counters.RecordCommandDrop(CodeBadCommand)
	counters.RecordCommandDrop(CodeBadCommand)
	counters.RecordCommandDrop(CodeNotFound)

	snap := counters.Snapshot()
	if snap.TicksTotal != 2 {
		t.Fatalf("ticks=%d", snap.TicksTotal)
	}
	if snap.TickDurationMillis != 7 {
		t.Fatalf("last tick duration=%d", snap.TickDurationMillis)
	}
	if snap.BytesSent != 200 || snap.BroadcastsSent != 2 {
		t.Fatalf("unexpected broadcast counters %+v", snap)
	}
	if snap.CommandDrops[CodeBadCommand] != 2 || snap.CommandDrops[CodeNotFound] != 1 {
		t.Fatalf("unexpected drops %+v", snap.CommandDrops)
	}
}

func TestTelemetryNilReceiverIsSafe(t *testing.T) {
	var counters *telemetryCounters
	counters.RecordTickDuration(time.Millisecond)
	counters.RecordBroadcast(10)
	counters.RecordCommandDrop("x")

	if snap := counters.Snapshot(); snap.TicksTotal != 0 {
		t.Fatalf("nil counters must read as zero, got %+v", snap)
	}
}
