package sim

import (
	"fmt"
	"time"
)

// CommandType enumerates the paddle commands a participant may issue.
type CommandType string

const (
	CommandMoveUp   CommandType = "move-up"
	CommandMoveDown CommandType = "move-down"
	CommandStop     CommandType = "stop"
)

// ParseCommandType validates a client-supplied command string.
func ParseCommandType(raw string) (CommandType, error) {
	switch CommandType(raw) {
	case CommandMoveUp, CommandMoveDown, CommandStop:
		return CommandType(raw), nil
	default:
		return "", fmt.Errorf("unknown command %q", raw)
	}
}

// Command is one participant intent captured for the next tick. Each side
// holds at most one buffered command per tick; a later command replaces an
// earlier one.
type Command struct {
	Side       Side        `json:"side"`
	Type       CommandType `json:"type"`
	OriginTick uint64      `json:"originTick"`
	IssuedAt   time.Time   `json:"issuedAt"`
}

// Commands is the per-tick input set, at most one entry per side.
type Commands map[Side]Command
