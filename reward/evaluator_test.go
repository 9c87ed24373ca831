package reward

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brensch/zoobot/game"
)

func snap(tick int, score int, present bool) *game.Snapshot {
	s := &game.Snapshot{Tick: tick}
	if present {
		s.Animals = []game.Animal{{Nickname: "RLBot", Score: score}}
	}
	return s
}

func TestFirstCallAfterResetReturnsZero(t *testing.T) {
	cases := []*game.Snapshot{
		snap(10, 500, true),
		snap(0, 0, true),
		snap(3, 0, false),
		nil,
	}
	for _, s := range cases {
		e := NewEvaluator("RLBot")
		e.Evaluate(snap(1, 1, true))
		e.Reset()
		assert.Zero(t, e.Evaluate(s))
	}
}

func TestScoreGainAndEfficiency(t *testing.T) {
	e := NewEvaluator("RLBot")
	e.Evaluate(snap(10, 100, true))

	// +20 this tick, 20 gained over 2 ticks => efficiency 10 * 0.1.
	got := e.Evaluate(snap(12, 120, true))
	assert.InDelta(t, 20+1.0, got, 1e-9)

	// No gain: efficiency 20/4 * 0.1 minus the stall penalty.
	got = e.Evaluate(snap(14, 120, true))
	assert.InDelta(t, 0.5-StallPenalty, got, 1e-9)
}

func TestStallPenaltyOnScoreLoss(t *testing.T) {
	e := NewEvaluator("RLBot")
	e.Evaluate(snap(1, 50, true))

	got := e.Evaluate(snap(2, 40, true))
	assert.InDelta(t, -10+0.1*-10-StallPenalty, got, 1e-9)
}

func TestCaptureReturnsPenaltyWithoutTouchingBaseline(t *testing.T) {
	e := NewEvaluator("RLBot")
	e.Evaluate(snap(1, 10, true))

	assert.Equal(t, CapturePenalty, e.Evaluate(snap(2, 0, false)))
	assert.Equal(t, CapturePenalty, e.Evaluate(snap(3, 0, false)))
	assert.Equal(t, 2, e.Captures())

	// Baseline is still tick 1 / score 10.
	got := e.Evaluate(snap(5, 14, true))
	assert.InDelta(t, 4+0.1*4.0/4.0, got, 1e-9)

	e.Reset()
	assert.Zero(t, e.Captures())
}
