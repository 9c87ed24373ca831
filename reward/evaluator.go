// Package reward turns consecutive snapshots into a scalar learning signal.
//
// The objective is score throughput: the immediate score delta, plus a small
// bonus for the episode's score-per-tick, minus a stall penalty.
package reward

import (
	"github.com/brensch/zoobot/game"
)

const (
	CapturePenalty   = -10.0
	StallPenalty     = 0.01
	EfficiencyWeight = 0.1
)

// Evaluator is stateful: it remembers the previous score and tick and the
// episode's starting point. Reset it at every episode boundary.
type Evaluator struct {
	selfID string

	started    bool
	prevScore  int
	prevTick   int
	startScore int
	startTick  int
	captures   int
}

func NewEvaluator(selfID string) *Evaluator {
	return &Evaluator{selfID: selfID}
}

// Evaluate scores the transition from the previously seen snapshot to s.
// The first call after Reset only records the baseline and returns 0.
func (e *Evaluator) Evaluate(s *game.Snapshot) float64 {
	me, present := s.FindAnimal(e.selfID)

	if !e.started {
		e.started = true
		tick := 0
		if s != nil {
			tick = s.Tick
		}
		e.prevScore, e.startScore = me.Score, me.Score
		e.prevTick, e.startTick = tick, tick
		return 0
	}

	if !present {
		e.captures++
		return CapturePenalty
	}

	delta := me.Score - e.prevScore
	r := float64(delta)

	if elapsed := s.Tick - e.startTick; elapsed > 0 {
		r += EfficiencyWeight * float64(me.Score-e.startScore) / float64(elapsed)
	}
	if delta <= 0 {
		r -= StallPenalty
	}

	e.prevScore = me.Score
	e.prevTick = s.Tick
	return r
}

// Captures is the number of captures seen since the last Reset.
func (e *Evaluator) Captures() int { return e.captures }

// Reset clears all state, including the capture counter.
func (e *Evaluator) Reset() {
	*e = Evaluator{selfID: e.selfID}
}
