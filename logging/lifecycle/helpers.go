package lifecycle

import (
	"context"

	"pongarena/server/logging"
)

const (
	// EventMatchCreated is emitted when the registry creates a match.
	EventMatchCreated logging.EventType = "lifecycle.match_created"
	// EventStageChanged is emitted on every match stage transition.
	EventStageChanged logging.EventType = "lifecycle.stage_changed"
	// EventMatchRetired is emitted when the registry removes a terminal match.
	EventMatchRetired logging.EventType = "lifecycle.match_retired"
)

// MatchCreatedPayload captures the participants of a freshly created match.
type MatchCreatedPayload struct {
	MatchType string `json:"matchType"`
	LeftUser  string `json:"leftUser"`
	RightUser string `json:"rightUser"`
}

// StageChangedPayload captures a transition and its recorded reason.
type StageChangedPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
	Winner string `json:"winner,omitempty"`
	Draw   bool   `json:"draw,omitempty"`
}

// MatchCreated publishes a match creation event.
func MatchCreated(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload MatchCreatedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventMatchCreated,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// StageChanged publishes a stage transition event.
func StageChanged(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload StageChangedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStageChanged,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// MatchRetired publishes a retirement event.
func MatchRetired(ctx context.Context, pub logging.Publisher, actor logging.EntityRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventMatchRetired,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
	})
}
