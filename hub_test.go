package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"pongarena/server/internal/sim"
)

type gatewayFixture struct {
	hub        *Hub
	registry   *Registry
	matchmaker *Matchmaker
	clock      *clockwork.FakeClock
	server     *httptest.Server
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	fc := clockwork.NewFakeClock()
	registry := NewRegistry(fc, time.Minute, nil)
	hub := NewHub(registry, devVerifier{}, nil, newTelemetryCounters())
	matchmaker := NewMatchmaker(registry, staticDirectory{}, hub, nil, nil)
	hub.SetMatchmaker(matchmaker)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(server.Close)
	return &gatewayFixture{hub: hub, registry: registry, matchmaker: matchmaker, clock: fc, server: server}
}

func (f *gatewayFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?token=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal %s payload: %v", event, err)
		}
		raw = encoded
	}
	if err := conn.WriteJSON(clientEnvelope{Event: event, Data: raw}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var envelope struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&envelope); err != nil {
		t.Fatalf("read: %v", err)
	}
	return envelope.Event, envelope.Data
}

func expectEvent(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	event, data := readEvent(t, conn)
	if event != want {
		t.Fatalf("expected %s, got %s (%s)", want, event, string(data))
	}
	return data
}

func expectError(t *testing.T, conn *websocket.Conn, code string) {
	t.Helper()
	data := expectEvent(t, conn, EventMatchError)
	var payload matchErrorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if payload.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, payload.Code, payload.Message)
	}
}

func TestGatewayRejectsAnonymousConnection(t *testing.T) {
	fixture := newGatewayFixture(t)

	url := "ws" + strings.TrimPrefix(fixture.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestGatewayRejectsUnknownEvent(t *testing.T) {
	fixture := newGatewayFixture(t)
	conn := fixture.dial(t, "alice")

	sendEvent(t, conn, "teleport", nil)
	expectError(t, conn, CodeUnknownEvent)
}

func TestGatewayRejectsMalformedEnqueue(t *testing.T) {
	fixture := newGatewayFixture(t)
	conn := fixture.dial(t, "alice")

	sendEvent(t, conn, EventEnqueue, enqueuePayload{MatchType: "RANKED"})
	expectError(t, conn, CodeBadPayload)
}

func TestGatewayMatchmakingFlow(t *testing.T) {
	fixture := newGatewayFixture(t)
	alice := fixture.dial(t, "alice")
	bob := fixture.dial(t, "bob")

	sendEvent(t, alice, EventEnqueue, enqueuePayload{MatchType: "CLASSIC"})
	sendEvent(t, bob, EventEnqueue, enqueuePayload{MatchType: "CLASSIC"})

	var aliceFound, bobFound matchFoundPayload
	if err := json.Unmarshal(expectEvent(t, alice, EventMatchFound), &aliceFound); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal(expectEvent(t, bob, EventMatchFound), &bobFound); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if aliceFound.MatchID == "" || aliceFound.MatchID != bobFound.MatchID {
		t.Fatalf("players landed in different matches: %q vs %q", aliceFound.MatchID, bobFound.MatchID)
	}

	// Both connect as players and receive acks with their slots.
	sendEvent(t, alice, EventConnectAsPlayer, matchRefPayload{MatchID: aliceFound.MatchID})
	var aliceAck connectAckPayload
	if err := json.Unmarshal(expectEvent(t, alice, EventConnectAck), &aliceAck); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if aliceAck.Role != RolePlayer || aliceAck.Side == "" {
		t.Fatalf("unexpected ack %+v", aliceAck)
	}
	if aliceAck.Match.MatchID != aliceFound.MatchID {
		t.Fatalf("ack references wrong match %q", aliceAck.Match.MatchID)
	}

	sendEvent(t, bob, EventConnectAsPlayer, matchRefPayload{MatchID: bobFound.MatchID})
	var bobAck connectAckPayload
	if err := json.Unmarshal(expectEvent(t, bob, EventConnectAck), &bobAck); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if bobAck.Side == aliceAck.Side {
		t.Fatalf("both players bound to side %q", bobAck.Side)
	}

	match, err := fixture.registry.Find(aliceFound.MatchID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !match.Connected(sim.SideLeft) || !match.Connected(sim.SideRight) {
		t.Fatalf("both sides should be flagged connected")
	}
}

func TestGatewayPlayerCommandReachesMatch(t *testing.T) {
	fixture := newGatewayFixture(t)
	alice := fixture.dial(t, "alice")
	bob := fixture.dial(t, "bob")

	left, right := testProfiles()
	match, err := fixture.registry.Create(sim.MatchTypeClassic, left, right)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sendEvent(t, alice, EventConnectAsPlayer, matchRefPayload{MatchID: match.ID})
	expectEvent(t, alice, EventConnectAck)
	sendEvent(t, bob, EventConnectAsPlayer, matchRefPayload{MatchID: match.ID})
	expectEvent(t, bob, EventConnectAck)

	// Commands are refused while the match still awaits its first tick.
	sendEvent(t, alice, EventPlayerCommand, playerCommandPayload{MatchID: match.ID, Command: "move-up"})
	expectError(t, alice, CodeBadCommand)

	if _, err := match.Tick(fixture.clock.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if match.Stage() != StagePreparation {
		t.Fatalf("expected PREPARATION, got %s", match.Stage())
	}

	sendEvent(t, alice, EventPlayerCommand, playerCommandPayload{MatchID: match.ID, Command: "move-up"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		match.mu.Lock()
		_, buffered := match.pending[sim.SideLeft]
		match.mu.Unlock()
		if buffered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("command never reached the match buffer")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGatewayRejectsBadCommands(t *testing.T) {
	fixture := newGatewayFixture(t)
	conn := fixture.dial(t, "alice")

	sendEvent(t, conn, EventPlayerCommand, playerCommandPayload{MatchID: "missing", Command: "teleport"})
	expectError(t, conn, CodeBadCommand)

	sendEvent(t, conn, EventPlayerCommand, playerCommandPayload{MatchID: "missing", Command: "move-up"})
	expectError(t, conn, CodeNotFound)
}

func TestGatewayConnectValidation(t *testing.T) {
	fixture := newGatewayFixture(t)
	mallory := fixture.dial(t, "mallory")

	sendEvent(t, mallory, EventConnectAsPlayer, matchRefPayload{MatchID: "missing"})
	expectError(t, mallory, CodeNotFound)

	left, right := testProfiles()
	match, err := fixture.registry.Create(sim.MatchTypeClassic, left, right)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sendEvent(t, mallory, EventConnectAsPlayer, matchRefPayload{MatchID: match.ID})
	expectError(t, mallory, CodeNotParticipant)

	// Spectating the same match is allowed.
	sendEvent(t, mallory, EventConnectAsSpectator, matchRefPayload{MatchID: match.ID})
	var ack connectAckPayload
	if err := json.Unmarshal(expectEvent(t, mallory, EventConnectAck), &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Role != RoleSpectator || ack.Side != "" {
		t.Fatalf("unexpected spectator ack %+v", ack)
	}
}

func TestGatewayBroadcastFansOutToSubscribers(t *testing.T) {
	fixture := newGatewayFixture(t)
	spectator := fixture.dial(t, "watcher")

	left, right := testProfiles()
	match, err := fixture.registry.Create(sim.MatchTypeClassic, left, right)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sendEvent(t, spectator, EventConnectAsSpectator, matchRefPayload{MatchID: match.ID})
	expectEvent(t, spectator, EventConnectAck)

	scored := sim.SideLeft
	fixture.hub.BroadcastOutcome(&TickOutcome{
		MatchID: match.ID,
		Stage:   StageOngoing,
		State:   sim.State{Tick: 42, Score1: 1},
		Scored:  &scored,
	})

	var snapshot MatchSnapshot
	if err := json.Unmarshal(expectEvent(t, spectator, EventMatchTick), &snapshot); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snapshot.MatchID != match.ID || snapshot.State.Tick != 42 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	var score scorePayload
	if err := json.Unmarshal(expectEvent(t, spectator, EventScore), &score); err != nil {
		t.Fatalf("unmarshal score: %v", err)
	}
	if score.Side != sim.SideLeft || score.Score1 != 1 {
		t.Fatalf("unexpected score event %+v", score)
	}
}

func TestGatewayBroadcastSkipsOtherMatches(t *testing.T) {
	fixture := newGatewayFixture(t)
	spectator := fixture.dial(t, "watcher")

	left, right := testProfiles()
	match, err := fixture.registry.Create(sim.MatchTypeClassic, left, right)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sendEvent(t, spectator, EventConnectAsSpectator, matchRefPayload{MatchID: match.ID})
	expectEvent(t, spectator, EventConnectAck)

	fixture.hub.BroadcastOutcome(&TickOutcome{MatchID: "someone-elses-match", Stage: StageOngoing})

	spectator.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := spectator.ReadMessage(); err == nil {
		t.Fatalf("spectator received a foreign broadcast")
	}
}

func TestGatewayDisconnectClearsConnectionFlag(t *testing.T) {
	fixture := newGatewayFixture(t)
	alice := fixture.dial(t, "alice")

	left, right := testProfiles()
	match, err := fixture.registry.Create(sim.MatchTypeClassic, left, right)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sendEvent(t, alice, EventConnectAsPlayer, matchRefPayload{MatchID: match.ID})
	expectEvent(t, alice, EventConnectAck)
	if !match.Connected(sim.SideLeft) {
		t.Fatalf("expected the left side to be connected")
	}

	alice.Close()

	deadline := time.Now().Add(2 * time.Second)
	for match.Connected(sim.SideLeft) {
		if time.Now().After(deadline) {
			t.Fatalf("connection flag never cleared")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// The match itself keeps running; only the flag flips.
	if match.Stage().Terminal() {
		t.Fatalf("disconnect must not end the match")
	}
}

func TestGatewayReconnectReplacesSession(t *testing.T) {
	fixture := newGatewayFixture(t)
	first := fixture.dial(t, "alice")

	left, right := testProfiles()
	match, err := fixture.registry.Create(sim.MatchTypeClassic, left, right)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sendEvent(t, first, EventConnectAsPlayer, matchRefPayload{MatchID: match.ID})
	expectEvent(t, first, EventConnectAck)

	// A fresh session of the same user takes over the slot.
	second := fixture.dial(t, "alice")
	sendEvent(t, second, EventConnectAsPlayer, matchRefPayload{MatchID: match.ID})
	expectEvent(t, second, EventConnectAck)

	if !match.Connected(sim.SideLeft) {
		t.Fatalf("slot should remain connected after the takeover")
	}

	// The replaced connection is closed by the server.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatalf("expected the stale session to be closed")
	}
}
