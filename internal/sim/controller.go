package sim

// Controller produces a paddle command for each tick. The per-player command
// path never goes through a controller; controllers exist for paddles driven
// by the server itself, such as a bot slot.
type Controller interface {
	Next(state State, rules Rules, side Side) (Command, bool)
}

// BounceController oscillates a paddle between the two collision edges,
// reversing direction at each boundary. It is the stand-in policy for an
// unconnected or bot-controlled paddle.
type BounceController struct {
	down bool
}

// NewBounceController starts the oscillation moving downward.
func NewBounceController() *BounceController {
	return &BounceController{down: true}
}

func (c *BounceController) Next(state State, rules Rules, side Side) (Command, bool) {
	pos := state.Paddle(side)
	if pos <= rules.TopCollisionEdge {
		c.down = true
	} else if pos >= rules.BottomCollisionEdge {
		c.down = false
	}
	kind := CommandMoveUp
	if c.down {
		kind = CommandMoveDown
	}
	return Command{Side: side, Type: kind, OriginTick: state.Tick}, true
}
