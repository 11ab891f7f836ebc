package logging

import (
	"context"
	"time"
)

type EventType string

type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

// ParseSeverity maps a config string to a severity level. Unknown values
// fall back to info.
func ParseSeverity(raw string) Severity {
	switch raw {
	case "debug":
		return SeverityDebug
	case "info":
		return SeverityInfo
	case "warn", "warning":
		return SeverityWarn
	case "error":
		return SeverityError
	default:
		return SeverityInfo
	}
}

// EntityKind classifies the actor an event is about.
type EntityKind string

const (
	EntityKindUnknown EntityKind = "unknown"
	EntityKindUser    EntityKind = "user"
	EntityKindMatch   EntityKind = "match"
	EntityKindSystem  EntityKind = "system"
)

// Event is the structured record every subsystem publishes. Tick carries the
// simulation tick the event belongs to, zero when the event happened outside
// a match.
type Event struct {
	Type     EventType      `json:"type"`
	Tick     uint64         `json:"tick"`
	Time     time.Time      `json:"time"`
	Actor    EntityRef      `json:"actor"`
	Severity Severity       `json:"severity"`
	Category string         `json:"category,omitempty"`
	Payload  any            `json:"payload,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

type EntityRef struct {
	ID   string     `json:"id"`
	Kind EntityKind `json:"kind"`
}

const (
	CategoryLifecycle   = "lifecycle"
	CategoryMatchmaking = "matchmaking"
	CategoryNetwork     = "network"
	CategorySystem      = "system"
)

// Publisher accepts events for asynchronous delivery. Implementations must
// never block the caller; the tick path publishes through this interface.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type PublisherFunc func(ctx context.Context, event Event)

func (f PublisherFunc) Publish(ctx context.Context, event Event) {
	if f == nil {
		return
	}
	f(ctx, event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}

// NopPublisher discards every event.
func NopPublisher() Publisher {
	return nopPublisher{}
}

func cloneEvent(event Event) Event {
	cloned := event
	if event.Extra != nil {
		copied := make(map[string]any, len(event.Extra))
		for k, v := range event.Extra {
			copied[k] = v
		}
		cloned.Extra = copied
	}
	return cloned
}

// WithFields decorates a publisher so every event carries the supplied
// static fields unless the event already sets them.
func WithFields(p Publisher, fields map[string]any) Publisher {
	if p == nil {
		return NopPublisher()
	}
	if len(fields) == 0 {
		return p
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return PublisherFunc(func(ctx context.Context, event Event) {
		event = cloneEvent(event)
		if event.Extra == nil {
			event.Extra = make(map[string]any, len(copied))
		}
		for k, v := range copied {
			if _, exists := event.Extra[k]; !exists {
				event.Extra[k] = v
			}
		}
		p.Publish(ctx, event)
	})
}

// MatchRef builds an entity reference for a match.
func MatchRef(id string) EntityRef {
	return EntityRef{ID: id, Kind: EntityKindMatch}
}

// UserRef builds an entity reference for a user.
func UserRef(id string) EntityRef {
	return EntityRef{ID: id, Kind: EntityKindUser}
}
