package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"pongarena/server/internal/sim"
	"pongarena/server/logging"
	logginglifecycle "pongarena/server/logging/lifecycle"
)

// Registry is the single authority for match existence. The matchmaker
// creates through it, the scheduler ticks what it holds, and the gateway
// looks matches up by id. All three touch it concurrently.
type Registry struct {
	mu         sync.Mutex
	matches    map[string]*Match
	liveByUser map[string]string

	retention time.Duration
	clock     clockwork.Clock
	publisher logging.Publisher
	reporter  func(MatchResult)
}

// NewRegistry builds an empty registry. Terminal matches linger for the
// retention window so late state queries still resolve, then Sweep retires
// them.
func NewRegistry(clock clockwork.Clock, retention time.Duration, publisher logging.Publisher) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Registry{
		matches:    make(map[string]*Match),
		liveByUser: make(map[string]string),
		retention:  retention,
		clock:      clock,
		publisher:  publisher,
	}
}

// SetReporter installs the result sink hand-off passed to every match the
// registry creates.
func (r *Registry) SetReporter(reporter func(MatchResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reporter = reporter
}

// Create builds a new match for the two participants. It fails when either
// participant already has a live match.
func (r *Registry) Create(matchType sim.MatchType, left, right Profile) (*Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range []Profile{left, right} {
		if id, ok := r.liveByUser[p.UserID]; ok {
			if existing, found := r.matches[id]; found && !existing.Stage().Terminal() {
				return nil, fmt.Errorf("user %s: %w", p.UserID, ErrAlreadyInMatch)
			}
			delete(r.liveByUser, p.UserID)
		}
	}

	match, err := NewMatch(uuid.NewString(), matchType, left, right, r.clock, r.publisher)
	if err != nil {
		return nil, err
	}
	if r.reporter != nil {
		match.SetReporter(r.reporter)
	}

	r.matches[match.ID] = match
	r.liveByUser[left.UserID] = match.ID
	r.liveByUser[right.UserID] = match.ID

	// Free both user slots as soon as the match turns terminal, so a
	// rematch does not have to wait for the retention sweep.
	match.RegisterObserver(func(matchID string, change StageChange) {
		if !change.To.Terminal() {
			return
		}
		r.releaseUsers(matchID, left.UserID, right.UserID)
	})

	logginglifecycle.MatchCreated(context.Background(), r.publisher, logging.MatchRef(match.ID), logginglifecycle.MatchCreatedPayload{
		MatchType: string(matchType),
		LeftUser:  left.UserID,
		RightUser: right.UserID,
	})
	return match, nil
}

func (r *Registry) releaseUsers(matchID string, users ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range users {
		if r.liveByUser[user] == matchID {
			delete(r.liveByUser, user)
		}
	}
}

// Find resolves a match by identifier.
func (r *Registry) Find(id string) (*Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	match, ok := r.matches[id]
	if !ok {
		return nil, fmt.Errorf("match %s: %w", id, ErrMatchNotFound)
	}
	return match, nil
}

// HasLive reports whether a user currently participates in a non-terminal
// match.
func (r *Registry) HasLive(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.liveByUser[userID]
	if !ok {
		return false
	}
	match, found := r.matches[id]
	return found && !match.Stage().Terminal()
}

// Active returns every non-terminal match for the tick scheduler.
func (r *Registry) Active() []*Match {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := make([]*Match, 0, len(r.matches))
	for _, match := range r.matches {
		if !match.Stage().Terminal() {
			active = append(active, match)
		}
	}
	return active
}

// Retire removes one match once it is terminal and its retention window has
// elapsed.
func (r *Registry) Retire(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	match, ok := r.matches[id]
	if !ok {
		return fmt.Errorf("match %s: %w", id, ErrMatchNotFound)
	}
	if !r.retirableLocked(match) {
		return fmt.Errorf("match %s: %w", id, ErrNotRetirable)
	}
	r.removeLocked(match)
	return nil
}

// Sweep retires every eligible match. It runs as a periodic janitor job.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	retired := 0
	for _, match := range r.matches {
		if r.retirableLocked(match) {
			r.removeLocked(match)
			retired++
		}
	}
	return retired
}

func (r *Registry) retirableLocked(match *Match) bool {
	terminalAt := match.TerminalSince()
	if terminalAt.IsZero() {
		return false
	}
	return !r.clock.Now().Before(terminalAt.Add(r.retention))
}

func (r *Registry) removeLocked(match *Match) {
	delete(r.matches, match.ID)
	left, right := match.Participants()
	for _, user := range []string{left.UserID, right.UserID} {
		if r.liveByUser[user] == match.ID {
			delete(r.liveByUser, user)
		}
	}
	logginglifecycle.MatchRetired(context.Background(), r.publisher, logging.MatchRef(match.ID))
}

// Len reports the number of matches currently held, live or retained.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matches)
}
