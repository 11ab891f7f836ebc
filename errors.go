package main

import "errors"

// Validation and lifecycle failures surfaced to clients. The gateway maps
// them onto wire error codes; none of them ever reach the tick path.
var (
	ErrMatchNotFound   = errors.New("match not found")
	ErrAlreadyInMatch  = errors.New("participant already has a live match")
	ErrAlreadyQueued   = errors.New("user already queued for matchmaking")
	ErrNotQueued       = errors.New("user is not queued")
	ErrNotParticipant  = errors.New("user is not a participant of this match")
	ErrSlotTaken       = errors.New("player slot is already bound")
	ErrTerminalStage   = errors.New("match has reached a terminal stage")
	ErrNotRetirable    = errors.New("match is not eligible for retirement")
	ErrInvalidCommand  = errors.New("invalid player command")
	ErrCommandRejected = errors.New("command not accepted in the current stage")
)
