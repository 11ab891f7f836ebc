package main

import (
	"encoding/json"
	"time"

	"pongarena/server/internal/sim"
)

// Wire event names shared with the client.
const (
	// client → server
	EventEnqueue            = "enqueue"
	EventDequeue            = "dequeue"
	EventConnectAsPlayer    = "connect-as-player"
	EventConnectAsSpectator = "connect-as-spectator"
	EventPlayerCommand      = "player-command"

	// server → client
	EventMatchFound       = "match-found"
	EventMatchError       = "match-error"
	EventConnectAck       = "connect-ack"
	EventMatchTick        = "match-tick"
	EventPowerUpSpawn     = "powerup-spawn"
	EventPowerUpCollected = "powerup-collected"
	EventStageChange      = "stage-change"
	EventScore            = "score"
)

// Error codes carried by match-error events.
const (
	CodeBadPayload     = "bad-payload"
	CodeUnknownEvent   = "unknown-event"
	CodeAlreadyQueued  = "already-queued"
	CodeAlreadyInMatch = "already-in-match"
	CodeNotFound       = "match-not-found"
	CodeNotParticipant = "not-participant"
	CodeSlotTaken      = "slot-taken"
	CodeTerminalStage  = "terminal-stage"
	CodeBadCommand     = "bad-command"
	CodeInternal       = "internal"
)

// clientEnvelope frames every inbound websocket message.
type clientEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// serverEnvelope frames every outbound websocket message.
type serverEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type enqueuePayload struct {
	MatchType string `json:"match_type"`
}

type matchRefPayload struct {
	MatchID string `json:"match_id"`
}

type playerCommandPayload struct {
	MatchID string `json:"match_id"`
	Command string `json:"command"`
}

type matchFoundPayload struct {
	MatchID string `json:"match_id"`
}

type matchErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type connectAckPayload struct {
	Status  string    `json:"status"`
	Role    string    `json:"role,omitempty"`
	Side    string    `json:"side,omitempty"`
	Match   MatchInfo `json:"match"`
	Rules   sim.Rules `json:"rules"`
}

// MatchSnapshot is the per-tick broadcast: the full kinematic state at the
// scheduler's fixed rate.
type MatchSnapshot struct {
	MatchID    string    `json:"match_id"`
	Stage      Stage     `json:"stage"`
	State      sim.State `json:"state"`
	ServerTime int64     `json:"serverTime,omitempty"`
}

type powerUpSpawnPayload struct {
	MatchID string      `json:"match_id"`
	PowerUp sim.PowerUp `json:"powerup"`
}

type powerUpCollectedPayload struct {
	MatchID    string      `json:"match_id"`
	PowerUp    sim.PowerUp `json:"powerup"`
	PlayerSide sim.Side    `json:"playerSide"`
}

type stageChangePayload struct {
	MatchID string      `json:"match_id"`
	Stage   Stage       `json:"stage"`
	Change  StageChange `json:"change"`
}

type scorePayload struct {
	MatchID string   `json:"match_id"`
	Side    sim.Side `json:"side"`
	Score1  int      `json:"score1"`
	Score2  int      `json:"score2"`
}

// MatchInfo is the metadata projection served by GET /matches/{id} and in
// connect acks.
type MatchInfo struct {
	MatchID    string        `json:"match_id"`
	MatchType  sim.MatchType `json:"match_type"`
	Stage      Stage         `json:"stage"`
	Left       Profile       `json:"left_player"`
	Right      Profile       `json:"right_player"`
	LeftScore  int           `json:"left_player_score"`
	RightScore int           `json:"right_player_score"`
	Winner     string        `json:"winner,omitempty"`
	Draw       bool          `json:"draw,omitempty"`
	StartsAt   *time.Time    `json:"starts_at,omitempty"`
	EndsAt     *time.Time    `json:"ends_at,omitempty"`
}

// rulesResponse is served by GET /matches/rules for client-side prediction.
type rulesResponse struct {
	Classic sim.Rules `json:"CLASSIC"`
	Turbo   sim.Rules `json:"TURBO"`
}
