package network

import (
	"context"

	"pongarena/server/logging"
)

const (
	// EventConnectionBound is emitted when a session binds to a match.
	EventConnectionBound logging.EventType = "network.connection_bound"
	// EventConnectionClosed is emitted when a bound session disconnects.
	EventConnectionClosed logging.EventType = "network.connection_closed"
	// EventCommandRejected is emitted when an inbound command fails validation.
	EventCommandRejected logging.EventType = "network.command_rejected"
)

// BindPayload records how a session attached to a match.
type BindPayload struct {
	MatchID string `json:"matchId"`
	Role    string `json:"role"`
	Side    string `json:"side,omitempty"`
}

// ClosePayload records why a session detached.
type ClosePayload struct {
	MatchID string `json:"matchId,omitempty"`
	Reason  string `json:"reason"`
}

// RejectPayload records a rejected inbound event.
type RejectPayload struct {
	MatchID string `json:"matchId,omitempty"`
	Event   string `json:"event"`
	Code    string `json:"code"`
}

// ConnectionBound publishes a successful bind.
func ConnectionBound(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload BindPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventConnectionBound,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// ConnectionClosed publishes a disconnect.
func ConnectionClosed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ClosePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventConnectionClosed,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// CommandRejected publishes a validation failure for an inbound event.
func CommandRejected(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload RejectPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCommandRejected,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}
