package game

import "fmt"

// Action is the command sent back to the engine. The integer codes are part of
// the wire contract.
type Action int

const (
	None    Action = 0
	Up      Action = 1
	Down    Action = 2
	Left    Action = 3
	Right   Action = 4
	UseItem Action = 5
)

// NumMoves is the size of the movement action space the decision engine chooses from.
const NumMoves = 4

// Moves lists the movement actions in their fixed tie-break order.
var Moves = [NumMoves]Action{Up, Down, Left, Right}

// MoveFromIndex maps a network output index (0..3) to a movement action.
func MoveFromIndex(i int) (Action, error) {
	if i < 0 || i >= NumMoves {
		return None, fmt.Errorf("move index %d out of range", i)
	}
	return Moves[i], nil
}

// Index maps a movement action to its output index, or -1.
func (a Action) Index() int {
	switch a {
	case Up:
		return 0
	case Down:
		return 1
	case Left:
		return 2
	case Right:
		return 3
	default:
		return -1
	}
}

func (a Action) IsMove() bool { return a.Index() >= 0 }

// Delta is the unit step for a movement action.
func (a Action) Delta() Point {
	switch a {
	case Up:
		return Point{X: 0, Y: -1}
	case Down:
		return Point{X: 0, Y: 1}
	case Left:
		return Point{X: -1, Y: 0}
	case Right:
		return Point{X: 1, Y: 0}
	default:
		return Point{}
	}
}

func (a Action) String() string {
	switch a {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	case UseItem:
		return "use_item"
	default:
		return "none"
	}
}
