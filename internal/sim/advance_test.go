package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceMovesBallByVelocity(t *testing.T) {
	rules := ClassicRules()
	state := NewState(rules)

	result, err := Advance(state, rules, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), result.State.Tick)
	assert.InDelta(t, rules.BallStartX+rules.BallSpeedX, result.State.Ball.X, 1e-9)
	assert.InDelta(t, rules.BallStartY+rules.BallSpeedY, result.State.Ball.Y, 1e-9)
}

func TestAdvanceReflectsOffWalls(t *testing.T) {
	rules := ClassicRules()
	state := NewState(rules)
	state.Ball = Ball{X: 0, Y: rules.BottomCollisionEdge - 0.01, VX: 0, VY: 0.15}

	result, err := Advance(state, rules, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, rules.BottomCollisionEdge, result.State.Ball.Y)
	assert.Equal(t, -0.15, result.State.Ball.VY)

	state.Ball = Ball{X: 0, Y: rules.TopCollisionEdge + 0.01, VX: 0, VY: -0.15}
	result, err = Advance(state, rules, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, rules.TopCollisionEdge, result.State.Ball.Y)
	assert.Equal(t, 0.15, result.State.Ball.VY)
}

func TestAdvanceDeflectsOffAlignedPaddle(t *testing.T) {
	rules := ClassicRules()
	state := NewState(rules)
	state.Paddle2 = 0
	state.Ball = Ball{X: rules.PaddlePlaneX - 0.1, Y: 0.5, VX: 0.25, VY: 0}

	result, err := Advance(state, rules, nil, nil)
	require.NoError(t, err)

	assert.Nil(t, result.Scored)
	assert.Negative(t, result.State.Ball.VX)
	assert.Equal(t, SideRight, result.State.LastTouch)
	assert.Equal(t, rules.PaddlePlaneX, result.State.Ball.X)
	// Deflection speeds the ball up.
	assert.Greater(t, math.Abs(result.State.Ball.VX), 0.25)
}

func TestAdvanceCapsDeflectionSpeed(t *testing.T) {
	rules := ClassicRules()
	state := NewState(rules)
	state.Paddle2 = 0
	state.Ball = Ball{X: rules.PaddlePlaneX - 0.1, Y: 0, VX: rules.BallMaxSpeed, VY: 0}

	result, err := Advance(state, rules, nil, nil)
	require.NoError(t, err)

	speed := math.Hypot(result.State.Ball.VX, result.State.Ball.VY)
	assert.LessOrEqual(t, speed, rules.BallMaxSpeed+1e-9)
}

func TestAdvanceScoresWhenPaddleMisses(t *testing.T) {
	rules := ClassicRules()
	state := NewState(rules)
	state.Paddle2 = rules.BottomCollisionEdge
	state.Ball = Ball{X: rules.PaddlePlaneX - 0.1, Y: rules.TopCollisionEdge + 1, VX: 0.25, VY: 0}

	result, err := Advance(state, rules, nil, nil)
	require.NoError(t, err)

	require.NotNil(t, result.Scored)
	assert.Equal(t, SideLeft, *result.Scored)
	assert.Equal(t, 1, result.State.Score1)
	assert.Equal(t, 0, result.State.Score2)

	// Ball resets to center and serves toward the conceding side.
	assert.Equal(t, rules.BallStartX, result.State.Ball.X)
	assert.Equal(t, rules.BallStartY, result.State.Ball.Y)
	assert.Positive(t, result.State.Ball.VX)
	assert.Empty(t, result.State.LastTouch)
}

func TestAdvanceServesTowardConcedingSide(t *testing.T) {
	rules := ClassicRules()
	state := NewState(rules)
	state.Paddle1 = rules.BottomCollisionEdge
	state.Ball = Ball{X: -rules.PaddlePlaneX + 0.1, Y: rules.TopCollisionEdge + 1, VX: -0.25, VY: 0}

	result, err := Advance(state, rules, nil, nil)
	require.NoError(t, err)

	require.NotNil(t, result.Scored)
	assert.Equal(t, SideRight, *result.Scored)
	assert.Equal(t, 1, result.State.Score2)
	assert.Negative(t, result.State.Ball.VX)
}

func TestAdvanceScoresAreMonotonic(t *testing.T) {
	rules := ClassicRules()
	state := NewState(rules)
	state.Paddle1 = rules.BottomCollisionEdge
	state.Paddle2 = rules.BottomCollisionEdge
	state.Ball = Ball{X: 0, Y: rules.TopCollisionEdge + 1, VX: 0.25, VY: 0}

	prev1, prev2 := 0, 0
	for i := 0; i < 400; i++ {
		result, err := Advance(state, rules, nil, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, result.State.Score1, prev1)
		assert.GreaterOrEqual(t, result.State.Score2, prev2)
		prev1, prev2 = result.State.Score1, result.State.Score2
		state = result.State
	}
	assert.Positive(t, prev1)
}

func TestAdvanceAppliesPaddleCommands(t *testing.T) {
	rules := ClassicRules()
	state := NewState(rules)
	state.Ball = Ball{}

	commands := Commands{
		SideLeft:  {Side: SideLeft, Type: CommandMoveUp},
		SideRight: {Side: SideRight, Type: CommandMoveDown},
	}
	result, err := Advance(state, rules, commands, nil)
	require.NoError(t, err)

	assert.Equal(t, -rules.PaddleStep, result.State.Paddle1)
	assert.Equal(t, rules.PaddleStep, result.State.Paddle2)
}

func TestAdvanceClampsPaddleToEdges(t *testing.T) {
	rules := ClassicRules()
	state := NewState(rules)
	state.Ball = Ball{}

	commands := Commands{SideLeft: {Side: SideLeft, Type: CommandMoveDown}}
	for i := 0; i < 100; i++ {
		result, err := Advance(state, rules, commands, nil)
		require.NoError(t, err)
		state = result.State
	}
	assert.Equal(t, rules.BottomCollisionEdge, state.Paddle1)

	commands = Commands{SideLeft: {Side: SideLeft, Type: CommandMoveUp}}
	for i := 0; i < 100; i++ {
		result, err := Advance(state, rules, commands, nil)
		require.NoError(t, err)
		state = result.State
	}
	assert.Equal(t, rules.TopCollisionEdge, state.Paddle1)
}

func TestAdvanceStopCommandHoldsPaddle(t *testing.T) {
	rules := ClassicRules()
	state := NewState(rules)
	state.Ball = Ball{}
	state.Paddle1 = 2

	result, err := Advance(state, rules, Commands{SideLeft: {Side: SideLeft, Type: CommandStop}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, result.State.Paddle1)
}

func TestAdvanceRejectsDegenerateField(t *testing.T) {
	rules := ClassicRules()
	rules.TopCollisionEdge = rules.BottomCollisionEdge

	_, err := Advance(NewState(rules), rules, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "degenerate field")
}

func TestAdvanceSpawnsPowerUpWithinWindow(t *testing.T) {
	rules := TurboRules()
	state := NewState(rules)
	state.Ball = Ball{}
	rng := NewRNG("spawn-window")

	spawnTick := uint64(0)
	var spawned *PowerUp
	for i := 0; i < rules.PowerUpSpawnMaxTicks+2; i++ {
		result, err := Advance(state, rules, nil, rng)
		require.NoError(t, err)
		state = result.State
		if result.Spawned != nil {
			spawned = result.Spawned
			spawnTick = state.Tick
			break
		}
	}
	require.NotNil(t, spawned, "no power-up spawned inside the maximum window")

	// The first tick schedules the countdown, so the spawn lands between
	// min+1 and max+1 ticks in.
	assert.GreaterOrEqual(t, spawnTick, uint64(rules.PowerUpSpawnMinTicks))
	assert.LessOrEqual(t, spawnTick, uint64(rules.PowerUpSpawnMaxTicks)+1)

	assert.Contains(t, []PowerUpKind{PowerUpPaddleGrow, PowerUpBallRush}, spawned.Kind)
	assert.GreaterOrEqual(t, spawned.Y, rules.TopCollisionEdge)
	assert.LessOrEqual(t, spawned.Y, rules.BottomCollisionEdge)
	assert.LessOrEqual(t, math.Abs(spawned.X), rules.PaddlePlaneX)
	assert.Equal(t, state.Tick+uint64(rules.PowerUpFieldTicks), spawned.ExpiresAtTick)
}

func TestAdvanceCollectsPowerUpForLastTouch(t *testing.T) {
	rules := TurboRules()
	state := NewState(rules)
	state.Ball = Ball{X: 1, Y: 1, VX: 0.1, VY: 0}
	state.LastTouch = SideLeft
	state.PowerUp = &PowerUp{Kind: PowerUpPaddleGrow, X: 1.1, Y: 1, ExpiresAtTick: 10_000}

	result, err := Advance(state, rules, nil, NewRNG("collect"))
	require.NoError(t, err)

	require.NotNil(t, result.Collected)
	assert.Equal(t, SideLeft, result.Collected.Side)
	assert.Equal(t, PowerUpPaddleGrow, result.Collected.PowerUp.Kind)
	assert.Nil(t, result.State.PowerUp)

	require.Len(t, result.State.Effects, 1)
	effect := result.State.Effects[0]
	assert.Equal(t, PowerUpPaddleGrow, effect.Kind)
	assert.Equal(t, SideLeft, effect.Side)
	assert.Equal(t, result.State.Tick+uint64(rules.PowerUpEffectTicks), effect.ExpiresAtTick)
}

func TestAdvanceDespawnsExpiredPowerUp(t *testing.T) {
	rules := TurboRules()
	state := NewState(rules)
	state.Ball = Ball{X: -5, Y: -5}
	state.Tick = 100
	state.PowerUp = &PowerUp{Kind: PowerUpBallRush, X: 5, Y: 5, ExpiresAtTick: 101}

	result, err := Advance(state, rules, nil, NewRNG("despawn"))
	require.NoError(t, err)

	assert.Nil(t, result.State.PowerUp)
	assert.Nil(t, result.Collected)
}

func TestAdvanceExpiresEffectsWithoutMutatingPriorState(t *testing.T) {
	rules := TurboRules()
	state := NewState(rules)
	state.Ball = Ball{}
	state.Tick = 50
	state.Effects = []EffectInstance{
		{Kind: PowerUpPaddleGrow, Side: SideLeft, ExpiresAtTick: 51},
		{Kind: PowerUpBallRush, Side: SideRight, ExpiresAtTick: 500},
	}

	result, err := Advance(state, rules, nil, NewRNG("expiry"))
	require.NoError(t, err)

	require.Len(t, result.State.Effects, 1)
	assert.Equal(t, PowerUpBallRush, result.State.Effects[0].Kind)

	// The pre-tick snapshot keeps both effects.
	require.Len(t, state.Effects, 2)
	assert.Equal(t, PowerUpPaddleGrow, state.Effects[0].Kind)
}

func TestAdvanceBallRushSpeedsBall(t *testing.T) {
	rules := TurboRules()
	state := NewState(rules)
	state.Ball = Ball{X: 0, Y: 0, VX: 0.1, VY: 0}
	state.Effects = []EffectInstance{{Kind: PowerUpBallRush, Side: SideLeft, ExpiresAtTick: 10_000}}

	result, err := Advance(state, rules, nil, NewRNG("rush"))
	require.NoError(t, err)

	assert.InDelta(t, 0.13, result.State.Ball.X, 1e-9)
}

func TestPaddleGrowWidensDeflectionSpan(t *testing.T) {
	rules := TurboRules()
	state := NewState(rules)
	state.Paddle2 = 0
	// Just outside the base half-height but inside the grown one.
	state.Ball = Ball{X: rules.PaddlePlaneX - 0.1, Y: rules.PaddleHalfHeight + 0.5, VX: 0.35, VY: 0}

	result, err := Advance(state, rules, nil, NewRNG("grow-miss"))
	require.NoError(t, err)
	require.NotNil(t, result.Scored, "expected a miss without the effect")

	state.Effects = []EffectInstance{{Kind: PowerUpPaddleGrow, Side: SideRight, ExpiresAtTick: 10_000}}
	result, err = Advance(state, rules, nil, NewRNG("grow-hit"))
	require.NoError(t, err)
	assert.Nil(t, result.Scored)
	assert.Equal(t, SideRight, result.State.LastTouch)
}

func TestAdvanceIsDeterministic(t *testing.T) {
	rules := TurboRules()

	run := func() State {
		state := NewState(rules)
		rng := NewRNG("determinism")
		for i := 0; i < 500; i++ {
			result, err := Advance(state, rules, nil, rng)
			require.NoError(t, err)
			state = result.State
		}
		return state
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)
}
