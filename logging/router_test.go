package logging_test

import (
	"context"
	"testing"
	"time"

	"pongarena/server/logging"
	"pongarena/server/logging/sinks"
)

func newMemoryRouter(cfg logging.Config) (*logging.Router, *sinks.Memory) {
	memory := sinks.NewMemory()
	router := logging.NewRouter(nil, cfg, []logging.NamedSink{{Name: "memory", Sink: memory}})
	return router, memory
}

func closeRouter(t *testing.T, router *logging.Router) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close router: %v", err)
	}
}

func TestRouterDeliversToSink(t *testing.T) {
	router, memory := newMemoryRouter(logging.Config{BufferSize: 16})

	router.Publish(context.Background(), logging.Event{
		Type:     "lifecycle.match_created",
		Actor:    logging.MatchRef("match-1"),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
	})
	closeRouter(t, router)

	events := memory.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if got.Type != "lifecycle.match_created" {
		t.Fatalf("unexpected type %q", got.Type)
	}
	if got.Actor.ID != "match-1" || got.Actor.Kind != logging.EntityKindMatch {
		t.Fatalf("unexpected actor %+v", got.Actor)
	}
	if got.Time.IsZero() {
		t.Fatalf("expected router to stamp event time")
	}

	stats := router.Stats()
	if stats.EventsTotal != 1 || stats.DroppedTotal != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRouterFiltersBelowMinimumSeverity(t *testing.T) {
	router, memory := newMemoryRouter(logging.Config{
		BufferSize:      16,
		MinimumSeverity: logging.SeverityWarn,
	})

	router.Publish(context.Background(), logging.Event{Type: "network.command_rejected", Severity: logging.SeverityDebug})
	router.Publish(context.Background(), logging.Event{Type: "scheduler.tick_aborted", Severity: logging.SeverityError})
	closeRouter(t, router)

	events := memory.Events()
	if len(events) != 1 {
		t.Fatalf("expected only the error event, got %d", len(events))
	}
	if events[0].Type != "scheduler.tick_aborted" {
		t.Fatalf("unexpected survivor %q", events[0].Type)
	}
}

func TestRouterIgnoresUntypedEvents(t *testing.T) {
	router, memory := newMemoryRouter(logging.Config{BufferSize: 16})

	router.Publish(context.Background(), logging.Event{Severity: logging.SeverityInfo})
	closeRouter(t, router)

	if events := memory.Events(); len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestRouterAppliesStaticFields(t *testing.T) {
	router, memory := newMemoryRouter(logging.Config{
		BufferSize: 16,
		Fields:     map[string]any{"service": "pongarena"},
	})

	router.Publish(context.Background(), logging.Event{
		Type:     "system.start",
		Severity: logging.SeverityInfo,
		Extra:    map[string]any{"service": "override"},
	})
	router.Publish(context.Background(), logging.Event{Type: "system.stop", Severity: logging.SeverityInfo})
	closeRouter(t, router)

	events := memory.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Extra["service"] != "override" {
		t.Fatalf("event-level field should win, got %v", events[0].Extra["service"])
	}
	if events[1].Extra["service"] != "pongarena" {
		t.Fatalf("static field missing, got %v", events[1].Extra["service"])
	}
}

func TestRouterPublishAfterCloseIsSafe(t *testing.T) {
	router, memory := newMemoryRouter(logging.Config{BufferSize: 16})
	closeRouter(t, router)

	router.Publish(context.Background(), logging.Event{Type: "system.late", Severity: logging.SeverityInfo})
	if events := memory.Events(); len(events) != 0 {
		t.Fatalf("expected no delivery after close, got %d", len(events))
	}
}

func TestWithFieldsDecoratesPublisher(t *testing.T) {
	var captured logging.Event
	base := logging.PublisherFunc(func(_ context.Context, event logging.Event) {
		captured = event
	})

	decorated := logging.WithFields(base, map[string]any{"region": "eu"})
	decorated.Publish(context.Background(), logging.Event{Type: "system.start"})

	if captured.Extra["region"] != "eu" {
		t.Fatalf("expected injected field, got %+v", captured.Extra)
	}
}

func TestMemorySinkReset(t *testing.T) {
	memory := sinks.NewMemory()
	if err := memory.Write(logging.Event{Type: "system.start"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(memory.Events()) != 1 {
		t.Fatalf("expected 1 buffered event")
	}
	memory.Reset()
	if len(memory.Events()) != 0 {
		t.Fatalf("expected buffer cleared")
	}
}
