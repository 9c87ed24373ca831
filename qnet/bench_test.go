package qnet

import (
	"math/rand"
	"testing"

	"github.com/brensch/zoobot/features"
	"github.com/brensch/zoobot/game"
	"github.com/brensch/zoobot/replay"
)

// benchSnapshot is a plausible full-size board: a walled border, scattered
// pellets, a few animals and zookeepers.
func benchSnapshot(r *rand.Rand, size int) *game.Snapshot {
	s := &game.Snapshot{Tick: r.Intn(1000)}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			content := game.Empty
			switch {
			case x == 0 || y == 0 || x == size-1 || y == size-1:
				content = game.Wall
			case r.Intn(3) == 0:
				content = game.Pellet
			}
			s.Cells = append(s.Cells, game.Cell{X: x, Y: y, Content: content})
		}
	}
	pos := func() (int, int) { return 1 + r.Intn(size-2), 1 + r.Intn(size-2) }
	x, y := pos()
	s.Animals = append(s.Animals, game.Animal{ID: "a1", Nickname: "RLBot", X: x, Y: y})
	x, y = pos()
	s.Animals = append(s.Animals, game.Animal{ID: "a2", Nickname: "RefBot", X: x, Y: y})
	for i := 0; i < 2; i++ {
		x, y = pos()
		s.Zookeepers = append(s.Zookeepers, game.Zookeeper{ID: "z", X: x, Y: y})
	}
	return s
}

func benchValue(b *testing.B, size int) *ValueFunction {
	b.Helper()
	v, err := New(DefaultConfig(features.InputLen(size)), replay.NewBuffer(1000))
	if err != nil {
		b.Fatal(err)
	}
	return v
}

func BenchmarkProcess30(b *testing.B) {
	r := rand.New(rand.NewSource(1))
	snaps := make([]*game.Snapshot, 64)
	for i := range snaps {
		snaps[i] = benchSnapshot(r, 30)
	}
	e := features.NewExtractor(30, "RLBot", "RefBot")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Process(snaps[i%len(snaps)])
	}
}

func BenchmarkSelectAction30(b *testing.B) {
	r := rand.New(rand.NewSource(1))
	e := features.NewExtractor(30, "RLBot", "RefBot")
	v := benchValue(b, 30)
	state := e.Process(benchSnapshot(r, 30))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := v.SelectAction(state, false); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTrainStep30(b *testing.B) {
	r := rand.New(rand.NewSource(1))
	e := features.NewExtractor(30, "RLBot", "RefBot")
	v := benchValue(b, 30)
	for i := 0; i < 64; i++ {
		state := e.Process(benchSnapshot(r, 30))
		next := e.Process(benchSnapshot(r, 30))
		v.Remember(replay.Transition{State: state, Action: game.Moves[i%game.NumMoves], Reward: 0.1, Next: next})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := v.TrainStep(); err != nil {
			b.Fatal(err)
		}
	}
}
