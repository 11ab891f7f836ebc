package main

import (
	"context"
	"time"

	"pongarena/server/internal/sim"
)

// Profile is the display projection of a user, resolved from the user
// directory to label participants in broadcasts.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// UserDirectory looks up display profiles. The engine only reads it; user
// CRUD lives elsewhere.
type UserDirectory interface {
	Resolve(ctx context.Context, userID string) (Profile, error)
}

// MatchResult is handed to the persistence sink exactly once per terminal
// transition.
type MatchResult struct {
	MatchID      string
	MatchType    sim.MatchType
	Left, Right  Profile
	LeftScore    int
	RightScore   int
	Winner       string // user id, empty on a draw or cancellation
	Draw         bool
	Reason       EndReason
	Duration     time.Duration
}

// ResultSink persists a finished match.
type ResultSink interface {
	RecordResult(ctx context.Context, result MatchResult) error
}

// AuthVerifier resolves a connect-time token to a user id.
type AuthVerifier interface {
	Verify(token string) (string, error)
}

// staticDirectory answers profile lookups from the user id alone. It is the
// fallback when no directory service is configured.
type staticDirectory struct{}

func (staticDirectory) Resolve(_ context.Context, userID string) (Profile, error) {
	return Profile{UserID: userID, DisplayName: userID}, nil
}
