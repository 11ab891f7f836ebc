package sim

import (
	"fmt"
	"time"
)

// MatchType selects the rule set a match is played under.
type MatchType string

const (
	MatchTypeClassic MatchType = "CLASSIC"
	MatchTypeTurbo   MatchType = "TURBO"
)

// ParseMatchType validates a client-supplied match type string.
func ParseMatchType(raw string) (MatchType, error) {
	switch MatchType(raw) {
	case MatchTypeClassic:
		return MatchTypeClassic, nil
	case MatchTypeTurbo:
		return MatchTypeTurbo, nil
	default:
		return "", fmt.Errorf("unknown match type %q", raw)
	}
}

// Rules is the immutable constant set one match is simulated under. Every
// match of the same type reads the same values; nothing mutates them after
// process start.
type Rules struct {
	FieldHalfWidth      float64 `json:"fieldHalfWidth"`
	TopCollisionEdge    float64 `json:"topCollisionEdge"`
	BottomCollisionEdge float64 `json:"bottomCollisionEdge"`

	PaddlePlaneX     float64 `json:"paddlePlaneX"`
	PaddleHalfHeight float64 `json:"paddleHalfHeight"`
	PaddleStart      float64 `json:"paddleStart"`
	PaddleStep       float64 `json:"paddleStep"`

	BallStartX   float64 `json:"ballStartX"`
	BallStartY   float64 `json:"ballStartY"`
	BallSpeedX   float64 `json:"ballSpeedX"`
	BallSpeedY   float64 `json:"ballSpeedY"`
	BallSpeedUp  float64 `json:"ballSpeedUp"`
	BallMaxSpeed float64 `json:"ballMaxSpeed"`

	TickInterval     time.Duration `json:"tickInterval"`
	PreparationTime  time.Duration `json:"preparationTime"`
	ForfeitGrace     time.Duration `json:"forfeitGrace"`
	MaxMatchDuration time.Duration `json:"maxMatchDuration"`

	ScoreToWin int `json:"scoreToWin"`

	PowerUps             bool `json:"powerUps"`
	PowerUpSpawnMinTicks int  `json:"powerUpSpawnMinTicks"`
	PowerUpSpawnMaxTicks int  `json:"powerUpSpawnMaxTicks"`
	PowerUpFieldTicks    int  `json:"powerUpFieldTicks"`
	PowerUpEffectTicks   int  `json:"powerUpEffectTicks"`

	PowerUpRadius float64 `json:"powerUpRadius"`
}

// ClassicRules returns the base rule set without power-ups.
func ClassicRules() Rules {
	return Rules{
		FieldHalfWidth:      10.0,
		TopCollisionEdge:    -6.0,
		BottomCollisionEdge: 6.0,
		PaddlePlaneX:        10.0,
		PaddleHalfHeight:    1.5,
		PaddleStart:         0.0,
		PaddleStep:          0.5,
		BallStartX:          0.0,
		BallStartY:          0.0,
		BallSpeedX:          0.25,
		BallSpeedY:          0.15,
		BallSpeedUp:         1.05,
		BallMaxSpeed:        0.8,
		TickInterval:        time.Second / 30,
		PreparationTime:     3 * time.Second,
		ForfeitGrace:        10 * time.Second,
		MaxMatchDuration:    10 * time.Minute,
		ScoreToWin:          10,
	}
}

// TurboRules layers the accelerated variant on top of the classic set:
// a faster ball and power-ups enabled.
func TurboRules() Rules {
	rules := ClassicRules()
	rules.BallSpeedX = 0.35
	rules.BallSpeedY = 0.2
	rules.BallMaxSpeed = 1.1
	rules.PowerUps = true
	rules.PowerUpSpawnMinTicks = 90
	rules.PowerUpSpawnMaxTicks = 300
	rules.PowerUpFieldTicks = 240
	rules.PowerUpEffectTicks = 150
	rules.PowerUpRadius = 0.75
	return rules
}

// RulesFor resolves the rule set for a match type.
func RulesFor(matchType MatchType) (Rules, error) {
	switch matchType {
	case MatchTypeClassic:
		return ClassicRules(), nil
	case MatchTypeTurbo:
		return TurboRules(), nil
	default:
		return Rules{}, fmt.Errorf("unknown match type %q", matchType)
	}
}

// Validate rejects rule sets the tick function cannot run under. A field
// whose top and bottom edges coincide would make the wall reflection
// oscillate forever, so it fails here instead.
func (r Rules) Validate() error {
	if r.TopCollisionEdge >= r.BottomCollisionEdge {
		return fmt.Errorf("degenerate field: top edge %.2f must be above bottom edge %.2f", r.TopCollisionEdge, r.BottomCollisionEdge)
	}
	if r.FieldHalfWidth <= 0 {
		return fmt.Errorf("field half width must be positive, got %.2f", r.FieldHalfWidth)
	}
	if r.PaddlePlaneX <= 0 || r.PaddlePlaneX > r.FieldHalfWidth {
		return fmt.Errorf("paddle plane %.2f outside field half width %.2f", r.PaddlePlaneX, r.FieldHalfWidth)
	}
	if r.PaddleStep <= 0 {
		return fmt.Errorf("paddle step must be positive, got %.2f", r.PaddleStep)
	}
	if r.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", r.TickInterval)
	}
	if r.ScoreToWin <= 0 {
		return fmt.Errorf("score to win must be positive, got %d", r.ScoreToWin)
	}
	if r.PowerUps {
		if r.PowerUpSpawnMinTicks <= 0 || r.PowerUpSpawnMaxTicks < r.PowerUpSpawnMinTicks {
			return fmt.Errorf("power-up spawn window [%d,%d] is invalid", r.PowerUpSpawnMinTicks, r.PowerUpSpawnMaxTicks)
		}
		if r.PowerUpEffectTicks <= 0 || r.PowerUpFieldTicks <= 0 {
			return fmt.Errorf("power-up tick counts must be positive")
		}
	}
	return nil
}

// PreparationTicks reports how many ticks the preparation countdown spans.
func (r Rules) PreparationTicks() uint64 {
	if r.TickInterval <= 0 {
		return 0
	}
	return uint64(r.PreparationTime / r.TickInterval)
}
