package sim

// Side identifies one of the two paddle slots.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Opponent returns the other slot.
func (s Side) Opponent() Side {
	if s == SideLeft {
		return SideRight
	}
	return SideLeft
}

// Ball carries the ball's kinematic state. Velocity is expressed in field
// units per tick.
type Ball struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// PowerUpKind enumerates the transient field objects a ball can collect.
type PowerUpKind string

const (
	PowerUpPaddleGrow PowerUpKind = "paddle-grow"
	PowerUpBallRush   PowerUpKind = "ball-rush"
)

// PowerUp is an uncollected object sitting on the field.
type PowerUp struct {
	Kind          PowerUpKind `json:"kind"`
	X             float64     `json:"x"`
	Y             float64     `json:"y"`
	ExpiresAtTick uint64      `json:"expiresAtTick"`
}

// EffectInstance is a collected power-up applied to one side until its
// expiry tick passes.
type EffectInstance struct {
	Kind          PowerUpKind `json:"kind"`
	Side          Side        `json:"side"`
	ExpiresAtTick uint64      `json:"expiresAtTick"`
}

// State is the mutable kinematic snapshot of one match. It is only ever
// written by the owning match's tick function.
type State struct {
	Tick uint64 `json:"tick"`

	Paddle1 float64 `json:"paddle1"`
	Paddle2 float64 `json:"paddle2"`

	Ball Ball `json:"ball"`

	PowerUp *PowerUp         `json:"powerUp,omitempty"`
	Effects []EffectInstance `json:"effects,omitempty"`

	Score1 int `json:"score1"`
	Score2 int `json:"score2"`

	// LastTouch is the side whose paddle most recently deflected the ball.
	// Collected power-ups are credited to it.
	LastTouch Side `json:"lastTouch,omitempty"`

	// ticksUntilPowerUp counts down to the next spawn attempt while no
	// power-up is on the field. Zero means "not scheduled yet".
	ticksUntilPowerUp int
}

// NewState places paddles and ball at their rule-defined start positions.
func NewState(rules Rules) State {
	state := State{}
	state.ResetPositions(rules)
	return state
}

// ResetPositions puts both paddles and the ball back at their start
// coordinates without touching scores or the tick counter.
func (s *State) ResetPositions(rules Rules) {
	s.Paddle1 = rules.PaddleStart
	s.Paddle2 = rules.PaddleStart
	s.Ball = Ball{
		X:  rules.BallStartX,
		Y:  rules.BallStartY,
		VX: rules.BallSpeedX,
		VY: rules.BallSpeedY,
	}
}

// Paddle returns the paddle position for a side.
func (s State) Paddle(side Side) float64 {
	if side == SideLeft {
		return s.Paddle1
	}
	return s.Paddle2
}

// Score returns the score for a side.
func (s State) Score(side Side) int {
	if side == SideLeft {
		return s.Score1
	}
	return s.Score2
}

// paddleHalfHeight resolves the effective half-height for a side, honouring
// an active paddle-grow effect.
func (s State) paddleHalfHeight(rules Rules, side Side) float64 {
	half := rules.PaddleHalfHeight
	for _, effect := range s.Effects {
		if effect.Kind == PowerUpPaddleGrow && effect.Side == side {
			half *= 1.5
		}
	}
	return half
}
