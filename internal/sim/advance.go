package sim

import (
	"fmt"
	"math"
	"math/rand"
)

// CollectedPowerUp pairs a collected power-up with the side credited for it.
type CollectedPowerUp struct {
	PowerUp PowerUp `json:"powerup"`
	Side    Side    `json:"playerSide"`
}

// Result is the outcome of one tick: the next state plus the events the
// gateway broadcasts alongside the snapshot.
type Result struct {
	State     State
	Scored    *Side
	Spawned   *PowerUp
	Collected *CollectedPowerUp
}

// Advance runs one fixed simulation step. It is pure with respect to its
// inputs: the same state, rules, commands, and RNG sequence always produce
// the same result. Commands carry at most one entry per side; stale buffers
// are the caller's concern and are consumed here.
func Advance(s State, rules Rules, commands Commands, rng *rand.Rand) (Result, error) {
	if rules.TopCollisionEdge >= rules.BottomCollisionEdge {
		return Result{}, fmt.Errorf("degenerate field: top edge %.2f not above bottom edge %.2f", rules.TopCollisionEdge, rules.BottomCollisionEdge)
	}

	next := s
	next.Tick = s.Tick + 1
	result := Result{}

	next.expireEffects()

	// 1. Paddle commands, one per side, clamped to the collision edges.
	for _, side := range []Side{SideLeft, SideRight} {
		cmd, ok := commands[side]
		if !ok {
			continue
		}
		next.applyPaddleCommand(rules, side, cmd.Type)
	}

	// 2. Ball integration.
	factor := next.ballSpeedFactor()
	next.Ball.X += next.Ball.VX * factor
	next.Ball.Y += next.Ball.VY * factor

	// 3. Wall reflection at the top and bottom edges.
	if next.Ball.Y <= rules.TopCollisionEdge {
		next.Ball.Y = rules.TopCollisionEdge
		next.Ball.VY = -next.Ball.VY
	} else if next.Ball.Y >= rules.BottomCollisionEdge {
		next.Ball.Y = rules.BottomCollisionEdge
		next.Ball.VY = -next.Ball.VY
	}

	// 4. Paddle planes: deflect inside the paddle span, otherwise the ball
	// passes and the opposing side scores.
	if next.Ball.VX > 0 && next.Ball.X >= rules.PaddlePlaneX {
		if math.Abs(next.Ball.Y-next.Paddle2) <= next.paddleHalfHeight(rules, SideRight) {
			next.deflect(rules, SideRight)
		} else {
			side := SideLeft
			next.scorePoint(rules, side)
			result.Scored = &side
		}
	} else if next.Ball.VX < 0 && next.Ball.X <= -rules.PaddlePlaneX {
		if math.Abs(next.Ball.Y-next.Paddle1) <= next.paddleHalfHeight(rules, SideLeft) {
			next.deflect(rules, SideLeft)
		} else {
			side := SideRight
			next.scorePoint(rules, side)
			result.Scored = &side
		}
	}

	// 5. Power-ups, when the rule set enables them.
	if rules.PowerUps {
		spawned, collected := next.stepPowerUps(rules, rng)
		result.Spawned = spawned
		result.Collected = collected
	}

	result.State = next
	return result, nil
}

func (s *State) applyPaddleCommand(rules Rules, side Side, kind CommandType) {
	var pos *float64
	if side == SideLeft {
		pos = &s.Paddle1
	} else {
		pos = &s.Paddle2
	}
	switch kind {
	case CommandMoveUp:
		*pos -= rules.PaddleStep
	case CommandMoveDown:
		*pos += rules.PaddleStep
	case CommandStop:
		return
	}
	*pos = clamp(*pos, rules.TopCollisionEdge, rules.BottomCollisionEdge)
}

// deflect reflects the ball off a paddle plane and applies the speed-up
// rule, capped at the rule set's maximum speed.
func (s *State) deflect(rules Rules, side Side) {
	if side == SideRight {
		s.Ball.X = rules.PaddlePlaneX
	} else {
		s.Ball.X = -rules.PaddlePlaneX
	}
	s.Ball.VX = -s.Ball.VX

	vx := s.Ball.VX * rules.BallSpeedUp
	vy := s.Ball.VY * rules.BallSpeedUp
	if speed := math.Hypot(vx, vy); rules.BallMaxSpeed > 0 && speed > rules.BallMaxSpeed {
		scale := rules.BallMaxSpeed / speed
		vx *= scale
		vy *= scale
	}
	s.Ball.VX = vx
	s.Ball.VY = vy
	s.LastTouch = side
}

// scorePoint credits one point and resets the ball to center with the
// initial velocity, serving toward the side that conceded.
func (s *State) scorePoint(rules Rules, scorer Side) {
	if scorer == SideLeft {
		s.Score1++
	} else {
		s.Score2++
	}
	s.Ball = Ball{
		X:  rules.BallStartX,
		Y:  rules.BallStartY,
		VX: rules.BallSpeedX,
		VY: rules.BallSpeedY,
	}
	if scorer == SideLeft {
		s.Ball.VX = math.Abs(s.Ball.VX)
	} else {
		s.Ball.VX = -math.Abs(s.Ball.VX)
	}
	s.LastTouch = ""
}

func (s *State) stepPowerUps(rules Rules, rng *rand.Rand) (*PowerUp, *CollectedPowerUp) {
	// Despawn an uncollected power-up once its field lifetime lapses.
	if s.PowerUp != nil && s.Tick >= s.PowerUp.ExpiresAtTick {
		s.PowerUp = nil
	}

	if s.PowerUp == nil {
		if s.ticksUntilPowerUp <= 0 {
			window := rules.PowerUpSpawnMaxTicks - rules.PowerUpSpawnMinTicks
			s.ticksUntilPowerUp = rules.PowerUpSpawnMinTicks
			if window > 0 && rng != nil {
				s.ticksUntilPowerUp += rng.Intn(window + 1)
			}
			return nil, nil
		}
		s.ticksUntilPowerUp--
		if s.ticksUntilPowerUp > 0 || rng == nil {
			return nil, nil
		}
		spawned := s.spawnPowerUp(rules, rng)
		return spawned, nil
	}

	// Collection: ball overlaps the active power-up.
	if math.Hypot(s.Ball.X-s.PowerUp.X, s.Ball.Y-s.PowerUp.Y) <= rules.PowerUpRadius {
		collected := &CollectedPowerUp{PowerUp: *s.PowerUp, Side: s.collectingSide()}
		s.Effects = append(s.Effects, EffectInstance{
			Kind:          collected.PowerUp.Kind,
			Side:          collected.Side,
			ExpiresAtTick: s.Tick + uint64(rules.PowerUpEffectTicks),
		})
		s.PowerUp = nil
		return nil, collected
	}
	return nil, nil
}

func (s *State) spawnPowerUp(rules Rules, rng *rand.Rand) *PowerUp {
	kinds := []PowerUpKind{PowerUpPaddleGrow, PowerUpBallRush}
	spawnSpanX := rules.PaddlePlaneX * 0.8
	spawnSpanY := rules.BottomCollisionEdge - rules.TopCollisionEdge
	powerUp := &PowerUp{
		Kind:          kinds[rng.Intn(len(kinds))],
		X:             -spawnSpanX + rng.Float64()*2*spawnSpanX,
		Y:             rules.TopCollisionEdge + rng.Float64()*spawnSpanY,
		ExpiresAtTick: s.Tick + uint64(rules.PowerUpFieldTicks),
	}
	s.PowerUp = powerUp
	return powerUp
}

// collectingSide credits the paddle that last touched the ball, falling
// back to the side the ball is travelling away from.
func (s *State) collectingSide() Side {
	if s.LastTouch != "" {
		return s.LastTouch
	}
	if s.Ball.VX > 0 {
		return SideLeft
	}
	return SideRight
}

func (s *State) expireEffects() {
	if len(s.Effects) == 0 {
		return
	}
	// Copy instead of filtering in place so the caller's previous snapshot
	// is never mutated through the shared backing array.
	kept := make([]EffectInstance, 0, len(s.Effects))
	for _, effect := range s.Effects {
		if effect.ExpiresAtTick > s.Tick {
			kept = append(kept, effect)
		}
	}
	if len(kept) == 0 {
		s.Effects = nil
		return
	}
	s.Effects = kept
}

func (s State) ballSpeedFactor() float64 {
	for _, effect := range s.Effects {
		if effect.Kind == PowerUpBallRush {
			return 1.3
		}
	}
	return 1.0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
