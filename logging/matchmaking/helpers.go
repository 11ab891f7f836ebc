package matchmaking

import (
	"context"

	"pongarena/server/logging"
)

const (
	// EventEnqueued is emitted when a user joins a matchmaking queue.
	EventEnqueued logging.EventType = "matchmaking.enqueued"
	// EventDequeued is emitted when a user leaves a queue before pairing.
	EventDequeued logging.EventType = "matchmaking.dequeued"
	// EventPaired is emitted when two waiters are paired into a match.
	EventPaired logging.EventType = "matchmaking.paired"
)

// QueuePayload names the queue a user entered or left.
type QueuePayload struct {
	MatchType string `json:"matchType"`
}

// PairedPayload captures the users joined into a new match.
type PairedPayload struct {
	MatchType string `json:"matchType"`
	MatchID   string `json:"matchId"`
	LeftUser  string `json:"leftUser"`
	RightUser string `json:"rightUser"`
}

// Enqueued publishes a queue join event.
func Enqueued(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload QueuePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEnqueued,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryMatchmaking,
		Payload:  payload,
	})
}

// Dequeued publishes a queue leave event.
func Dequeued(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload QueuePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDequeued,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryMatchmaking,
		Payload:  payload,
	})
}

// Paired publishes a pairing event for the created match.
func Paired(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload PairedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPaired,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryMatchmaking,
		Payload:  payload,
	})
}
