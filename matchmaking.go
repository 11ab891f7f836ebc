package main

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"pongarena/server/internal/sim"
	"pongarena/server/logging"
	loggingmatchmaking "pongarena/server/logging/matchmaking"
)

// MatchNotifier delivers the pairing outcome to a user's sessions.
type MatchNotifier interface {
	MatchFound(userID, matchID string)
}

type nopNotifier struct{}

func (nopNotifier) MatchFound(string, string) {}

type queueEntry struct {
	userID     string
	enqueuedAt time.Time
	seq        uint64
}

// Matchmaker keeps one FIFO waiting list per match type and pairs the two
// longest-waiting users of a type into a match. No skill matching: strict
// first-come first-served, insertion order breaking timestamp ties.
type Matchmaker struct {
	mu         sync.Mutex
	queues     map[sim.MatchType][]queueEntry
	queuedType map[string]sim.MatchType
	nextSeq    uint64

	registry  *Registry
	directory UserDirectory
	notifier  MatchNotifier
	clock     clockwork.Clock
	publisher logging.Publisher
}

func NewMatchmaker(registry *Registry, directory UserDirectory, notifier MatchNotifier, clock clockwork.Clock, publisher logging.Publisher) *Matchmaker {
	if directory == nil {
		directory = staticDirectory{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Matchmaker{
		queues:     make(map[sim.MatchType][]queueEntry),
		queuedType: make(map[string]sim.MatchType),
		registry:   registry,
		directory:  directory,
		notifier:   notifier,
		clock:      clock,
		publisher:  publisher,
	}
}

// Enqueue adds a user to the waiting list for a match type. A user holds at
// most one queue entry across all match types, and cannot queue while a
// live match holds them.
func (mm *Matchmaker) Enqueue(userID string, matchType sim.MatchType) error {
	if _, err := sim.RulesFor(matchType); err != nil {
		return err
	}
	if mm.registry != nil && mm.registry.HasLive(userID) {
		return ErrAlreadyInMatch
	}

	mm.mu.Lock()
	if _, queued := mm.queuedType[userID]; queued {
		mm.mu.Unlock()
		return ErrAlreadyQueued
	}
	mm.nextSeq++
	mm.queues[matchType] = append(mm.queues[matchType], queueEntry{
		userID:     userID,
		enqueuedAt: mm.clock.Now(),
		seq:        mm.nextSeq,
	})
	mm.queuedType[userID] = matchType
	mm.mu.Unlock()

	loggingmatchmaking.Enqueued(context.Background(), mm.publisher, logging.UserRef(userID), loggingmatchmaking.QueuePayload{MatchType: string(matchType)})
	return nil
}

// Dequeue removes a user from whichever queue holds them. It is idempotent:
// removing an absent user is a no-op.
func (mm *Matchmaker) Dequeue(userID string) {
	mm.mu.Lock()
	matchType, queued := mm.queuedType[userID]
	if !queued {
		mm.mu.Unlock()
		return
	}
	delete(mm.queuedType, userID)
	entries := mm.queues[matchType]
	for i, entry := range entries {
		if entry.userID == userID {
			mm.queues[matchType] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	mm.mu.Unlock()

	loggingmatchmaking.Dequeued(context.Background(), mm.publisher, logging.UserRef(userID), loggingmatchmaking.QueuePayload{MatchType: string(matchType)})
}

// QueuedCount reports the number of waiters for a match type.
func (mm *Matchmaker) QueuedCount(matchType sim.MatchType) int {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return len(mm.queues[matchType])
}

// Pair scans every queue and pairs waiters two at a time in FIFO order. It
// runs as a periodic job and is also kicked after each enqueue.
func (mm *Matchmaker) Pair() {
	for {
		paired := false
		for _, matchType := range []sim.MatchType{sim.MatchTypeClassic, sim.MatchTypeTurbo} {
			if mm.pairOne(matchType) {
				paired = true
			}
		}
		if !paired {
			return
		}
	}
}

// pairOne pops the two earliest waiters of one type and creates their
// match. Queues of different types never mix.
func (mm *Matchmaker) pairOne(matchType sim.MatchType) bool {
	mm.mu.Lock()
	entries := mm.queues[matchType]
	if len(entries) < 2 {
		mm.mu.Unlock()
		return false
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].enqueuedAt.Equal(entries[j].enqueuedAt) {
			return entries[i].seq < entries[j].seq
		}
		return entries[i].enqueuedAt.Before(entries[j].enqueuedAt)
	})
	first, second := entries[0], entries[1]
	mm.queues[matchType] = append([]queueEntry{}, entries[2:]...)
	delete(mm.queuedType, first.userID)
	delete(mm.queuedType, second.userID)
	mm.mu.Unlock()

	left := mm.resolveProfile(first.userID)
	right := mm.resolveProfile(second.userID)

	match, err := mm.registry.Create(matchType, left, right)
	if err != nil {
		// A waiter slipped into a live match since enqueueing; drop the
		// offending user and requeue the innocent one at the front.
		mm.requeueSurvivors(matchType, err, first, second)
		return true
	}

	loggingmatchmaking.Paired(context.Background(), mm.publisher, logging.MatchRef(match.ID), loggingmatchmaking.PairedPayload{
		MatchType: string(matchType),
		MatchID:   match.ID,
		LeftUser:  left.UserID,
		RightUser: right.UserID,
	})
	mm.notifier.MatchFound(left.UserID, match.ID)
	mm.notifier.MatchFound(right.UserID, match.ID)
	return true
}

func (mm *Matchmaker) requeueSurvivors(matchType sim.MatchType, cause error, entries ...queueEntry) {
	if !errors.Is(cause, ErrAlreadyInMatch) {
		return
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if mm.registry.HasLive(entry.userID) {
			continue
		}
		if _, queued := mm.queuedType[entry.userID]; queued {
			continue
		}
		mm.queues[matchType] = append([]queueEntry{entry}, mm.queues[matchType]...)
		mm.queuedType[entry.userID] = matchType
	}
}

func (mm *Matchmaker) resolveProfile(userID string) Profile {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	profile, err := mm.directory.Resolve(ctx, userID)
	if err != nil {
		return Profile{UserID: userID, DisplayName: userID}
	}
	return profile
}
