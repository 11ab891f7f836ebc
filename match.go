package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"pongarena/server/internal/sim"
	"pongarena/server/logging"
	logginglifecycle "pongarena/server/logging/lifecycle"
)

// Stage is the discrete lifecycle phase of a match. Wire values follow the
// client contract.
type Stage string

const (
	StageAwaitingPlayers Stage = "AWAITING_PLAYERS"
	StagePreparation     Stage = "PREPARATION"
	StageOngoing         Stage = "ONGOING"
	StageFinished        Stage = "FINISHED"
	StageCanceled        Stage = "CANCELED"
)

// Terminal reports whether a stage admits no further transitions.
func (s Stage) Terminal() bool {
	return s == StageFinished || s == StageCanceled
}

// EndReason records why a match reached a terminal stage. Timeout-driven
// transitions are expected outcomes, not errors.
type EndReason string

const (
	EndReasonScore          EndReason = "score-reached"
	EndReasonDuration       EndReason = "duration-exceeded"
	EndReasonForfeit        EndReason = "disconnected-too-long"
	EndReasonNeverConnected EndReason = "never-connected"
)

// StageChange describes one observed transition.
type StageChange struct {
	From   Stage     `json:"from"`
	To     Stage     `json:"to"`
	Reason EndReason `json:"reason,omitempty"`
	Winner string    `json:"winner,omitempty"`
	Draw   bool      `json:"draw,omitempty"`
}

// StageObserver receives every stage transition. Observers run on the tick
// goroutine and must hand off to their own goroutine before doing I/O.
type StageObserver func(matchID string, change StageChange)

// TickOutcome is what one tick hands to the gateway for broadcast: the
// finalized snapshot plus any events raised while producing it.
type TickOutcome struct {
	MatchID   string
	Stage     Stage
	State     sim.State
	Scored    *sim.Side
	Spawned   *sim.PowerUp
	Collected *sim.CollectedPowerUp
	Change    *StageChange
}

// Match wraps one match's full lifecycle: identity, participants, stage,
// connection flags, schedule, and the owned simulation state. All mutation
// happens under its mutex; the tick scheduler is the single logical writer
// of the simulation state.
type Match struct {
	ID   string
	Type sim.MatchType

	mu             sync.Mutex
	rules          sim.Rules
	stage          Stage
	left           Profile
	right          Profile
	connected      map[sim.Side]bool
	everConnected  map[sim.Side]bool
	disconnectedAt map[sim.Side]time.Time
	pending        sim.Commands
	controllers    map[sim.Side]sim.Controller
	state          sim.State

	createdAt     time.Time
	prepStartedAt time.Time
	startsAt      time.Time
	endsAt        time.Time
	terminalAt    time.Time

	winner    string
	draw      bool
	endReason EndReason

	observers []StageObserver
	reporter  func(MatchResult)
	reported  bool

	rng       *rand.Rand
	clock     clockwork.Clock
	publisher logging.Publisher
}

// NewMatch builds a match in AWAITING_PLAYERS with both slots assigned and
// neither connected. The rule set is resolved from the match type and
// validated once here; a bad rule set is a configuration error and fails
// fast.
func NewMatch(id string, matchType sim.MatchType, left, right Profile, clock clockwork.Clock, publisher logging.Publisher) (*Match, error) {
	rules, err := sim.RulesFor(matchType)
	if err != nil {
		return nil, err
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("rules for %s: %w", matchType, err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	m := &Match{
		ID:             id,
		Type:           matchType,
		rules:          rules,
		stage:          StageAwaitingPlayers,
		left:           left,
		right:          right,
		connected:      make(map[sim.Side]bool, 2),
		everConnected:  make(map[sim.Side]bool, 2),
		disconnectedAt: make(map[sim.Side]time.Time, 2),
		pending:        make(sim.Commands, 2),
		controllers:    make(map[sim.Side]sim.Controller, 2),
		state:          sim.NewState(rules),
		createdAt:      clock.Now(),
		rng:            sim.NewRNG(id),
		clock:          clock,
		publisher:      publisher,
	}
	return m, nil
}

// Rules returns the immutable rule set this match runs under.
func (m *Match) Rules() sim.Rules {
	return m.rules
}

// Stage returns the current lifecycle stage.
func (m *Match) Stage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// Participants returns the left and right profiles.
func (m *Match) Participants() (Profile, Profile) {
	return m.left, m.right
}

// SideOf maps a user id onto its paddle slot.
func (m *Match) SideOf(userID string) (sim.Side, error) {
	switch userID {
	case m.left.UserID:
		return sim.SideLeft, nil
	case m.right.UserID:
		return sim.SideRight, nil
	default:
		return "", ErrNotParticipant
	}
}

// RegisterObserver appends a stage-change observer. Observers registered
// after a terminal transition never fire.
func (m *Match) RegisterObserver(obs StageObserver) {
	if obs == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// SetReporter installs the result sink hand-off fired exactly once on the
// terminal transition.
func (m *Match) SetReporter(reporter func(MatchResult)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reporter = reporter
}

// SetController assigns an autonomous controller to a paddle slot. A nil
// controller restores the per-player command path.
func (m *Match) SetController(side sim.Side, ctrl sim.Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctrl == nil {
		delete(m.controllers, side)
		return
	}
	m.controllers[side] = ctrl
}

// SetConnected flips a participant's connection flag. Disconnecting only
// records the flag and the moment; resolving a forfeit is the state
// machine's job on a later tick. Reconnecting within the grace window
// resumes without touching the simulation state.
func (m *Match) SetConnected(side sim.Side, connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stage.Terminal() {
		return
	}
	m.connected[side] = connected
	if connected {
		m.everConnected[side] = true
		delete(m.disconnectedAt, side)
	} else {
		m.disconnectedAt[side] = m.clock.Now()
	}
}

// Connected reports a side's connection flag.
func (m *Match) Connected(side sim.Side) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected[side]
}

// QueueCommand stages a participant command for the next tick. At most one
// command per side is held; a later command in the same tick replaces the
// earlier one. Commands are accepted during PREPARATION and ONGOING only.
func (m *Match) QueueCommand(userID string, kind sim.CommandType) error {
	side, err := m.SideOf(userID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stage.Terminal() {
		return ErrTerminalStage
	}
	if m.stage != StagePreparation && m.stage != StageOngoing {
		return ErrCommandRejected
	}
	m.pending[side] = sim.Command{
		Side:       side,
		Type:       kind,
		OriginTick: m.state.Tick,
		IssuedAt:   m.clock.Now(),
	}
	return nil
}

// Tick advances the lifecycle and, in ONGOING, the simulation state by one
// step. Calling Tick on a terminal match is an invariant violation; the
// scheduler aborts that match and keeps ticking the rest.
func (m *Match) Tick(now time.Time) (*TickOutcome, error) {
	m.mu.Lock()

	if m.stage.Terminal() {
		m.mu.Unlock()
		return nil, fmt.Errorf("tick on match %s: %w", m.ID, ErrTerminalStage)
	}

	outcome := &TickOutcome{MatchID: m.ID, Stage: m.stage}
	var change *StageChange

	switch m.stage {
	case StageAwaitingPlayers:
		change = m.tickAwaitingLocked(now)
	case StagePreparation:
		change = m.tickPreparationLocked(now)
	case StageOngoing:
		var err error
		change, err = m.tickOngoingLocked(now, outcome)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}

	outcome.Stage = m.stage
	outcome.State = m.state
	outcome.Change = change

	var result *MatchResult
	if change != nil && m.stage.Terminal() {
		result = m.buildResultLocked(now)
	}
	observers := m.observers
	m.mu.Unlock()

	if change != nil {
		for _, obs := range observers {
			obs(m.ID, *change)
		}
		logginglifecycle.StageChanged(context.Background(), m.publisher, outcome.State.Tick, logging.MatchRef(m.ID), logginglifecycle.StageChangedPayload{
			From:   string(change.From),
			To:     string(change.To),
			Reason: string(change.Reason),
			Winner: change.Winner,
			Draw:   change.Draw,
		})
	}
	if result != nil && m.reporter != nil {
		// Result delivery must not block the tick path.
		go m.reporter(*result)
	}
	return outcome, nil
}

func (m *Match) tickAwaitingLocked(now time.Time) *StageChange {
	if m.connected[sim.SideLeft] && m.connected[sim.SideRight] {
		m.prepStartedAt = now
		m.startsAt = now.Add(m.rules.PreparationTime)
		m.state.ResetPositions(m.rules)
		return m.transitionLocked(StagePreparation, "", now)
	}
	if now.Sub(m.createdAt) > m.rules.ForfeitGrace {
		return m.transitionLocked(StageCanceled, EndReasonNeverConnected, now)
	}
	return nil
}

func (m *Match) tickPreparationLocked(now time.Time) *StageChange {
	// Commands are accepted during the countdown but never applied.
	clear(m.pending)
	if now.Sub(m.prepStartedAt) >= m.rules.PreparationTime {
		m.startsAt = now
		m.endsAt = now.Add(m.rules.MaxMatchDuration)
		return m.transitionLocked(StageOngoing, "", now)
	}
	m.state.Tick++
	return nil
}

func (m *Match) tickOngoingLocked(now time.Time, outcome *TickOutcome) (*StageChange, error) {
	if change := m.resolveForfeitLocked(now); change != nil {
		return change, nil
	}
	if !m.endsAt.IsZero() && !now.Before(m.endsAt) {
		m.decideByScoreLocked()
		return m.transitionLocked(StageFinished, EndReasonDuration, now), nil
	}

	commands := m.drainCommandsLocked()
	result, err := sim.Advance(m.state, m.rules, commands, m.rng)
	if err != nil {
		return nil, fmt.Errorf("advance match %s: %w", m.ID, err)
	}
	m.state = result.State
	outcome.Scored = result.Scored
	outcome.Spawned = result.Spawned
	outcome.Collected = result.Collected

	if m.state.Score1 >= m.rules.ScoreToWin || m.state.Score2 >= m.rules.ScoreToWin {
		m.decideByScoreLocked()
		return m.transitionLocked(StageFinished, EndReasonScore, now), nil
	}
	return nil, nil
}

// drainCommandsLocked consumes the per-side buffers and fills bot-driven
// slots from their controllers. The stale buffer is cleared after
// consumption.
func (m *Match) drainCommandsLocked() sim.Commands {
	commands := make(sim.Commands, 2)
	for side, cmd := range m.pending {
		commands[side] = cmd
	}
	clear(m.pending)
	for side, ctrl := range m.controllers {
		if cmd, ok := ctrl.Next(m.state, m.rules, side); ok {
			commands[side] = cmd
		}
	}
	return commands
}

func (m *Match) resolveForfeitLocked(now time.Time) *StageChange {
	leftGone := m.sideForfeitedLocked(sim.SideLeft, now)
	rightGone := m.sideForfeitedLocked(sim.SideRight, now)
	switch {
	case leftGone && rightGone:
		m.draw = true
		return m.transitionLocked(StageFinished, EndReasonForfeit, now)
	case leftGone:
		m.winner = m.right.UserID
		return m.transitionLocked(StageFinished, EndReasonForfeit, now)
	case rightGone:
		m.winner = m.left.UserID
		return m.transitionLocked(StageFinished, EndReasonForfeit, now)
	}
	return nil
}

func (m *Match) sideForfeitedLocked(side sim.Side, now time.Time) bool {
	if m.connected[side] {
		return false
	}
	since, ok := m.disconnectedAt[side]
	return ok && now.Sub(since) > m.rules.ForfeitGrace
}

func (m *Match) decideByScoreLocked() {
	switch {
	case m.state.Score1 > m.state.Score2:
		m.winner = m.left.UserID
	case m.state.Score2 > m.state.Score1:
		m.winner = m.right.UserID
	default:
		m.draw = true
	}
}

func (m *Match) transitionLocked(to Stage, reason EndReason, now time.Time) *StageChange {
	change := &StageChange{From: m.stage, To: to, Reason: reason}
	m.stage = to
	m.endReason = reason
	if to.Terminal() {
		m.terminalAt = now
		change.Winner = m.winner
		change.Draw = m.draw
	}
	return change
}

func (m *Match) buildResultLocked(now time.Time) *MatchResult {
	if m.reported {
		return nil
	}
	m.reported = true
	var duration time.Duration
	if !m.startsAt.IsZero() && m.stage == StageFinished {
		duration = now.Sub(m.startsAt)
	}
	return &MatchResult{
		MatchID:    m.ID,
		MatchType:  m.Type,
		Left:       m.left,
		Right:      m.right,
		LeftScore:  m.state.Score1,
		RightScore: m.state.Score2,
		Winner:     m.winner,
		Draw:       m.draw,
		Reason:     m.endReason,
		Duration:   duration,
	}
}

// TerminalSince returns when the match entered a terminal stage, zero while
// it is still live.
func (m *Match) TerminalSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminalAt
}

// Snapshot returns the current broadcast projection.
func (m *Match) Snapshot() MatchSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MatchSnapshot{
		MatchID: m.ID,
		Stage:   m.stage,
		State:   m.state,
	}
}

// Info returns the metadata served over HTTP and in connect acks.
func (m *Match) Info() MatchInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := MatchInfo{
		MatchID:    m.ID,
		MatchType:  m.Type,
		Stage:      m.stage,
		Left:       m.left,
		Right:      m.right,
		LeftScore:  m.state.Score1,
		RightScore: m.state.Score2,
		Winner:     m.winner,
		Draw:       m.draw,
	}
	if !m.startsAt.IsZero() {
		info.StartsAt = &m.startsAt
	}
	if !m.endsAt.IsZero() {
		info.EndsAt = &m.endsAt
	}
	return info
}
