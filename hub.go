package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pongarena/server/internal/sim"
	"pongarena/server/logging"
	loggingnetwork "pongarena/server/logging/network"
)

const (
	writeTimeout = 5 * time.Second

	// maxMessageBytes bounds inbound frames; every legal client message is
	// well under this.
	maxMessageBytes = 4 << 10

	RolePlayer    = "player"
	RoleSpectator = "spectator"
)

// session is one websocket connection, authenticated as a single user. The
// mutex serializes writers: the read loop, the broadcaster, and the
// matchmaking notifier all write to the same conn.
type session struct {
	conn   *websocket.Conn
	userID string

	mu sync.Mutex
}

// send marshals an envelope and writes it under the session's write lock.
func (s *session) send(event string, data any) (int, error) {
	raw, err := json.Marshal(serverEnvelope{Event: event, Data: data})
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return 0, err
	}
	return len(raw), nil
}

func (s *session) sendError(code, message string) {
	s.send(EventMatchError, matchErrorPayload{Code: code, Message: message})
}

// binding records how one session is attached to one match.
type binding struct {
	sess *session
	role string
	side sim.Side
}

// Hub is the session gateway: it authenticates websocket connections,
// routes inbound events to the matchmaker and match registry, and fans the
// scheduler's tick outcomes back out to bound sessions. It implements
// Broadcaster for the scheduler and MatchNotifier for the matchmaker.
type Hub struct {
	registry  *Registry
	verifier  AuthVerifier
	publisher logging.Publisher
	telemetry *telemetryCounters
	upgrader  websocket.Upgrader

	mu             sync.Mutex
	matchmaker     *Matchmaker
	sessionsByUser map[string]map[*session]struct{}
	subscribers    map[string]map[*session]*binding
	playerSlots    map[string]map[sim.Side]*session
}

func NewHub(registry *Registry, verifier AuthVerifier, publisher logging.Publisher, telemetry *telemetryCounters) *Hub {
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Hub{
		registry:  registry,
		verifier:  verifier,
		publisher: publisher,
		telemetry: telemetry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessionsByUser: make(map[string]map[*session]struct{}),
		subscribers:    make(map[string]map[*session]*binding),
		playerSlots:    make(map[string]map[sim.Side]*session),
	}
}

// SetMatchmaker wires the matchmaker after construction. The hub and the
// matchmaker reference each other, so one side has to be attached late.
func (h *Hub) SetMatchmaker(mm *Matchmaker) {
	h.mu.Lock()
	h.matchmaker = mm
	h.mu.Unlock()
}

func (h *Hub) getMatchmaker() *Matchmaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.matchmaker
}

// HandleWS upgrades an authenticated HTTP request into a session and runs
// its read loop until the connection drops.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r.Header.Get("Authorization"))
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	sess := &session{conn: conn, userID: userID}
	h.addSession(sess)
	defer h.dropSession(sess, "read-loop-exit")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var envelope clientEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			sess.sendError(CodeBadPayload, "malformed envelope")
			continue
		}
		h.dispatch(sess, envelope)
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func (h *Hub) addSession(sess *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessionsByUser[sess.userID]
	if !ok {
		set = make(map[*session]struct{})
		h.sessionsByUser[sess.userID] = set
	}
	set[sess] = struct{}{}
}

// dropSession tears down every binding the session holds. Player slots are
// released so the forfeit grace clock starts; the match itself keeps
// running.
func (h *Hub) dropSession(sess *session, reason string) {
	h.mu.Lock()
	type released struct {
		match *Match
		side  sim.Side
	}
	var toRelease []released
	var closedMatches []string
	for matchID, subs := range h.subscribers {
		bind, ok := subs[sess]
		if !ok {
			continue
		}
		delete(subs, sess)
		if len(subs) == 0 {
			delete(h.subscribers, matchID)
		}
		closedMatches = append(closedMatches, matchID)
		if bind.role != RolePlayer {
			continue
		}
		if slots, ok := h.playerSlots[matchID]; ok && slots[bind.side] == sess {
			delete(slots, bind.side)
			if len(slots) == 0 {
				delete(h.playerSlots, matchID)
			}
			if match, err := h.registry.Find(matchID); err == nil {
				toRelease = append(toRelease, released{match: match, side: bind.side})
			}
		}
	}
	if set, ok := h.sessionsByUser[sess.userID]; ok {
		delete(set, sess)
		if len(set) == 0 {
			delete(h.sessionsByUser, sess.userID)
		}
	}
	h.mu.Unlock()

	sess.conn.Close()
	for _, rel := range toRelease {
		rel.match.SetConnected(rel.side, false)
	}
	for _, matchID := range closedMatches {
		loggingnetwork.ConnectionClosed(context.Background(), h.publisher, logging.UserRef(sess.userID), loggingnetwork.ClosePayload{
			MatchID: matchID,
			Reason:  reason,
		})
	}
}

func (h *Hub) dispatch(sess *session, envelope clientEnvelope) {
	switch envelope.Event {
	case EventEnqueue:
		h.handleEnqueue(sess, envelope.Data)
	case EventDequeue:
		h.handleDequeue(sess)
	case EventConnectAsPlayer:
		h.handleConnect(sess, envelope.Data, RolePlayer)
	case EventConnectAsSpectator:
		h.handleConnect(sess, envelope.Data, RoleSpectator)
	case EventPlayerCommand:
		h.handlePlayerCommand(sess, envelope.Data)
	default:
		h.rejectEvent(sess, "", envelope.Event, CodeUnknownEvent, "unknown event")
	}
}

func (h *Hub) handleEnqueue(sess *session, data json.RawMessage) {
	var payload enqueuePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.rejectEvent(sess, "", EventEnqueue, CodeBadPayload, "malformed enqueue payload")
		return
	}
	matchType, err := sim.ParseMatchType(payload.MatchType)
	if err != nil {
		h.rejectEvent(sess, "", EventEnqueue, CodeBadPayload, err.Error())
		return
	}
	mm := h.getMatchmaker()
	if mm == nil {
		sess.sendError(CodeInternal, "matchmaking unavailable")
		return
	}
	if err := mm.Enqueue(sess.userID, matchType); err != nil {
		h.rejectEvent(sess, "", EventEnqueue, h.errorCode(err), err.Error())
		return
	}
	// Pair eagerly so two ready users are not left waiting for the next
	// sweep.
	go mm.Pair()
}

func (h *Hub) handleDequeue(sess *session) {
	if mm := h.getMatchmaker(); mm != nil {
		mm.Dequeue(sess.userID)
	}
}

func (h *Hub) handleConnect(sess *session, data json.RawMessage, role string) {
	event := EventConnectAsPlayer
	if role == RoleSpectator {
		event = EventConnectAsSpectator
	}
	var payload matchRefPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.MatchID == "" {
		h.rejectEvent(sess, "", event, CodeBadPayload, "malformed connect payload")
		return
	}
	match, err := h.registry.Find(payload.MatchID)
	if err != nil {
		h.rejectEvent(sess, payload.MatchID, event, CodeNotFound, "no such match")
		return
	}

	var side sim.Side
	if role == RolePlayer {
		side, err = match.SideOf(sess.userID)
		if err != nil {
			h.rejectEvent(sess, match.ID, event, CodeNotParticipant, "not a participant")
			return
		}
		if match.Stage().Terminal() {
			h.rejectEvent(sess, match.ID, event, CodeTerminalStage, "match already over")
			return
		}
		if err := h.claimSlot(match.ID, side, sess); err != nil {
			h.rejectEvent(sess, match.ID, event, CodeSlotTaken, "slot already connected")
			return
		}
		match.SetConnected(side, true)
	} else {
		h.bind(match.ID, sess, &binding{sess: sess, role: RoleSpectator})
	}

	ack := connectAckPayload{
		Status: "connected",
		Role:   role,
		Match:  match.Info(),
		Rules:  match.Rules(),
	}
	if role == RolePlayer {
		ack.Side = string(side)
	}
	sess.send(EventConnectAck, ack)

	loggingnetwork.ConnectionBound(context.Background(), h.publisher, logging.UserRef(sess.userID), loggingnetwork.BindPayload{
		MatchID: match.ID,
		Role:    role,
		Side:    ack.Side,
	})
}

// claimSlot binds a session as the player on one side. A live session of
// the same user is replaced, which covers reconnecting over a half-dead
// connection; a different user never reaches here because SideOf already
// gates participants.
func (h *Hub) claimSlot(matchID string, side sim.Side, sess *session) error {
	h.mu.Lock()
	slots, ok := h.playerSlots[matchID]
	if !ok {
		slots = make(map[sim.Side]*session)
		h.playerSlots[matchID] = slots
	}
	prev := slots[side]
	if prev != nil && prev != sess && prev.userID != sess.userID {
		h.mu.Unlock()
		return ErrSlotTaken
	}
	slots[side] = sess
	h.bindLocked(matchID, sess, &binding{sess: sess, role: RolePlayer, side: side})
	if prev != nil && prev != sess {
		h.unbindLocked(matchID, prev)
	}
	h.mu.Unlock()

	if prev != nil && prev != sess {
		prev.conn.Close()
	}
	return nil
}

func (h *Hub) bind(matchID string, sess *session, bind *binding) {
	h.mu.Lock()
	h.bindLocked(matchID, sess, bind)
	h.mu.Unlock()
}

func (h *Hub) bindLocked(matchID string, sess *session, bind *binding) {
	subs, ok := h.subscribers[matchID]
	if !ok {
		subs = make(map[*session]*binding)
		h.subscribers[matchID] = subs
	}
	subs[sess] = bind
}

func (h *Hub) unbindLocked(matchID string, sess *session) {
	if subs, ok := h.subscribers[matchID]; ok {
		delete(subs, sess)
		if len(subs) == 0 {
			delete(h.subscribers, matchID)
		}
	}
}

func (h *Hub) handlePlayerCommand(sess *session, data json.RawMessage) {
	var payload playerCommandPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.MatchID == "" {
		h.rejectEvent(sess, "", EventPlayerCommand, CodeBadPayload, "malformed command payload")
		return
	}
	kind, err := sim.ParseCommandType(payload.Command)
	if err != nil {
		h.rejectEvent(sess, payload.MatchID, EventPlayerCommand, CodeBadCommand, err.Error())
		return
	}
	match, err := h.registry.Find(payload.MatchID)
	if err != nil {
		h.rejectEvent(sess, payload.MatchID, EventPlayerCommand, CodeNotFound, "no such match")
		return
	}
	if err := match.QueueCommand(sess.userID, kind); err != nil {
		h.rejectEvent(sess, match.ID, EventPlayerCommand, h.errorCode(err), err.Error())
		return
	}
}

// rejectEvent sends a match-error to the offender and records the rejection.
func (h *Hub) rejectEvent(sess *session, matchID, event, code, message string) {
	sess.sendError(code, message)
	h.telemetry.RecordCommandDrop(code)
	loggingnetwork.CommandRejected(context.Background(), h.publisher, logging.UserRef(sess.userID), loggingnetwork.RejectPayload{
		MatchID: matchID,
		Event:   event,
		Code:    code,
	})
}

func (h *Hub) errorCode(err error) string {
	switch {
	case errors.Is(err, ErrMatchNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyInMatch):
		return CodeAlreadyInMatch
	case errors.Is(err, ErrAlreadyQueued):
		return CodeAlreadyQueued
	case errors.Is(err, ErrNotParticipant):
		return CodeNotParticipant
	case errors.Is(err, ErrSlotTaken):
		return CodeSlotTaken
	case errors.Is(err, ErrTerminalStage):
		return CodeTerminalStage
	case errors.Is(err, ErrInvalidCommand), errors.Is(err, ErrCommandRejected):
		return CodeBadCommand
	default:
		return CodeInternal
	}
}

// MatchFound notifies every live session of a user that a match was created
// for them. Implements MatchNotifier.
func (h *Hub) MatchFound(userID, matchID string) {
	h.mu.Lock()
	targets := make([]*session, 0, 1)
	for sess := range h.sessionsByUser[userID] {
		targets = append(targets, sess)
	}
	h.mu.Unlock()

	for _, sess := range targets {
		if _, err := sess.send(EventMatchFound, matchFoundPayload{MatchID: matchID}); err != nil {
			h.dropSession(sess, "write-failed")
		}
	}
}

// BroadcastOutcome fans one finalized tick out to the match's subscribers:
// the state snapshot first, then any events the tick raised. Implements
// Broadcaster.
func (h *Hub) BroadcastOutcome(outcome *TickOutcome) {
	if outcome == nil {
		return
	}
	h.mu.Lock()
	targets := make([]*session, 0, len(h.subscribers[outcome.MatchID]))
	for sess := range h.subscribers[outcome.MatchID] {
		targets = append(targets, sess)
	}
	h.mu.Unlock()
	if len(targets) == 0 {
		return
	}

	messages := h.outcomeMessages(outcome)
	var failed []*session
	for _, sess := range targets {
		total := 0
		ok := true
		for _, msg := range messages {
			n, err := sess.send(msg.event, msg.data)
			if err != nil {
				ok = false
				break
			}
			total += n
		}
		if !ok {
			failed = append(failed, sess)
			continue
		}
		h.telemetry.RecordBroadcast(total)
	}
	for _, sess := range failed {
		h.dropSession(sess, "write-failed")
	}
}

type outcomeMessage struct {
	event string
	data  any
}

func (h *Hub) outcomeMessages(outcome *TickOutcome) []outcomeMessage {
	messages := []outcomeMessage{{
		event: EventMatchTick,
		data: MatchSnapshot{
			MatchID:    outcome.MatchID,
			Stage:      outcome.Stage,
			State:      outcome.State,
			ServerTime: time.Now().UnixMilli(),
		},
	}}
	if outcome.Scored != nil {
		messages = append(messages, outcomeMessage{
			event: EventScore,
			data: scorePayload{
				MatchID: outcome.MatchID,
				Side:    *outcome.Scored,
				Score1:  outcome.State.Score1,
				Score2:  outcome.State.Score2,
			},
		})
	}
	if outcome.Spawned != nil {
		messages = append(messages, outcomeMessage{
			event: EventPowerUpSpawn,
			data: powerUpSpawnPayload{
				MatchID: outcome.MatchID,
				PowerUp: *outcome.Spawned,
			},
		})
	}
	if outcome.Collected != nil {
		messages = append(messages, outcomeMessage{
			event: EventPowerUpCollected,
			data: powerUpCollectedPayload{
				MatchID:    outcome.MatchID,
				PowerUp:    outcome.Collected.PowerUp,
				PlayerSide: outcome.Collected.Side,
			},
		})
	}
	if outcome.Change != nil {
		messages = append(messages, outcomeMessage{
			event: EventStageChange,
			data: stageChangePayload{
				MatchID: outcome.MatchID,
				Stage:   outcome.Stage,
				Change:  *outcome.Change,
			},
		})
	}
	return messages
}
