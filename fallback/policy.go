// Package fallback implements the deterministic direction scorer used whenever
// the learned policy is late, broken, or untrained.
package fallback

import (
	"github.com/brensch/zoobot/game"
)

const (
	blockedScore     = -100.0
	pelletBonus      = 10.0
	adversaryPenalty = -100.0
	dangerRadius     = 3
	dangerWeight     = 5.0
	lookahead        = 5
	lookaheadBonus   = 5.0
	repeatLimit      = 5
	repeatPenalty    = 5.0
)

// DefaultAction is returned when our actor is not on the board.
const DefaultAction = game.Up

// Policy scores the four moves from our actor's position. The only state it
// keeps is the last chosen direction and how many ticks in a row it won, used
// to break out of repetitive loops.
type Policy struct {
	selfID string

	last   game.Action
	repeat int
}

func New(selfID string) *Policy {
	return &Policy{selfID: selfID}
}

// Decide always returns a movement action.
func (p *Policy) Decide(s *game.Snapshot) game.Action {
	scores, ok := p.Score(s)
	if !ok {
		return DefaultAction
	}

	best := argmax(scores)
	if p.last != game.None && game.Moves[best] == p.last {
		p.repeat++
		if p.repeat > repeatLimit {
			scores[best] -= repeatPenalty
		}
	} else {
		p.repeat = 0
	}

	choice := game.Moves[argmax(scores)]
	p.last = choice
	return choice
}

// Reset forgets the anti-oscillation memory.
func (p *Policy) Reset() {
	p.last = game.None
	p.repeat = 0
}

// Score returns the raw per-direction scores in game.Moves order without
// applying or updating the repeat penalty. ok is false if our actor is absent.
func (p *Policy) Score(s *game.Snapshot) (scores [game.NumMoves]float64, ok bool) {
	me, found := s.FindAnimal(p.selfID)
	if !found {
		return scores, false
	}

	grid := game.NewGrid(s)
	from := me.Position()

	for i, move := range game.Moves {
		dest := from.Add(move)
		if !grid.InBounds(dest) || grid.At(dest) == game.Wall {
			scores[i] = blockedScore
			continue
		}

		if grid.At(dest) == game.Pellet {
			scores[i] += pelletBonus
		}

		for _, z := range s.Zookeepers {
			zp := z.Position()
			if zp == dest {
				scores[i] += adversaryPenalty
			}
			if d := dest.Manhattan(zp); d <= dangerRadius {
				scores[i] -= float64(dangerRadius+1-d) * dangerWeight
			}
		}

		delta := move.Delta()
		for dist := 1; dist <= lookahead; dist++ {
			check := game.Point{X: dest.X + delta.X*dist, Y: dest.Y + delta.Y*dist}
			if !grid.InBounds(check) || grid.At(check) == game.Wall {
				break
			}
			if grid.At(check) == game.Pellet {
				scores[i] += lookaheadBonus / float64(dist)
			}
		}
	}
	return scores, true
}

// argmax returns the first index holding the maximum, so ties resolve in
// Up, Down, Left, Right order.
func argmax(scores [game.NumMoves]float64) int {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return best
}
