package qnet

import (
	"io/fs"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/zoobot/features"
	"github.com/brensch/zoobot/game"
	"github.com/brensch/zoobot/replay"
)

const testGrid = 2

func testConfig() Config {
	cfg := DefaultConfig(features.InputLen(testGrid))
	cfg.Hidden = []int{16, 8}
	cfg.BatchSize = 4
	cfg.TargetSyncInterval = 3
	cfg.EpsilonDecay = 0.9
	cfg.EpsilonMin = 0.2
	return cfg
}

func randomTensor(rng *rand.Rand) *features.Tensor {
	t := &features.Tensor{
		Size:   testGrid,
		Planes: make([]float64, features.Channels*testGrid*testGrid),
		Meta:   make([]float64, features.MetaSize),
	}
	for i := range t.Planes {
		t.Planes[i] = rng.Float64()
	}
	for i := range t.Meta {
		t.Meta[i] = rng.Float64()
	}
	return t
}

func fill(t *testing.T, v *ValueFunction, n int, seed int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < n; i++ {
		v.Remember(replay.Transition{
			State:    randomTensor(rng),
			Action:   game.Moves[rng.Intn(game.NumMoves)],
			Reward:   rng.Float64()*2 - 1,
			Next:     randomTensor(rng),
			Terminal: rng.Intn(5) == 0,
		})
	}
}

func newValue(t *testing.T, cfg Config) *ValueFunction {
	t.Helper()
	v, err := New(cfg, replay.NewBuffer(100))
	require.NoError(t, err)
	return v
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.InputSize = 0
	_, err := New(cfg, replay.NewBuffer(10))
	assert.ErrorIs(t, err, ErrShape)

	cfg = testConfig()
	cfg.EpsilonMin = 0.9
	cfg.Epsilon = 0.5
	_, err = New(cfg, replay.NewBuffer(10))
	assert.Error(t, err)
}

func TestTrainStepNoopBelowBatch(t *testing.T) {
	v := newValue(t, testConfig())
	fill(t, v, 3, 1)
	before := v.Snapshot()

	trained, err := v.TrainStep()
	require.NoError(t, err)
	assert.False(t, trained)
	assert.Zero(t, v.Steps())
	assert.Equal(t, 1.0, v.Epsilon())
	assert.Same(t, before, v.Snapshot())
}

func TestEpsilonDecaysToFloor(t *testing.T) {
	v := newValue(t, testConfig())
	fill(t, v, 20, 2)

	prev := v.Epsilon()
	for i := 0; i < 40; i++ {
		trained, err := v.TrainStep()
		require.NoError(t, err)
		require.True(t, trained)

		eps := v.Epsilon()
		assert.LessOrEqual(t, eps, prev)
		assert.GreaterOrEqual(t, eps, 0.2)
		prev = eps
	}
	assert.Equal(t, 0.2, v.Epsilon())

	v.ResetEpsilon()
	assert.Equal(t, 1.0, v.Epsilon())
}

func TestTargetSyncInterval(t *testing.T) {
	v := newValue(t, testConfig())
	fill(t, v, 20, 3)
	initial := v.TargetSnapshot()

	for i := 1; i <= 2; i++ {
		_, err := v.TrainStep()
		require.NoError(t, err)
		assert.True(t, initial.Equal(v.TargetSnapshot()), "target moved at step %d", i)
		assert.False(t, v.Snapshot().Equal(v.TargetSnapshot()))
	}

	_, err := v.TrainStep()
	require.NoError(t, err)
	assert.True(t, v.Snapshot().Equal(v.TargetSnapshot()))

	_, err = v.TrainStep()
	require.NoError(t, err)
	require.NoError(t, v.SyncTarget())
	assert.True(t, v.Snapshot().Equal(v.TargetSnapshot()))
}

func TestTrainingReducesLoss(t *testing.T) {
	cfg := testConfig()
	cfg.LearningRate = 0.01
	v := newValue(t, cfg)

	// Terminal transitions make this plain regression onto fixed targets.
	rng := rand.New(rand.NewSource(4))
	for i := 0; i < 16; i++ {
		s := randomTensor(rng)
		v.Remember(replay.Transition{State: s, Next: s, Action: game.Moves[i%4], Reward: float64(i % 4), Terminal: true})
	}

	var early, late float64
	for i := 0; i < 300; i++ {
		_, err := v.TrainStep()
		require.NoError(t, err)
		if i < 10 {
			early += v.LastLoss()
		}
		if i >= 290 {
			late += v.LastLoss()
		}
	}
	assert.Less(t, late, early)
}

func TestSelectActionShapeError(t *testing.T) {
	v := newValue(t, testConfig())

	bad := &features.Tensor{Size: 3, Planes: make([]float64, features.Channels*9), Meta: make([]float64, features.MetaSize)}
	_, err := v.SelectAction(bad, false)
	assert.ErrorIs(t, err, ErrShape)
	_, err = v.SelectAction(nil, true)
	assert.ErrorIs(t, err, ErrShape)
}

func TestSelectActionOnlyMoves(t *testing.T) {
	v := newValue(t, testConfig())
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 50; i++ {
		a, err := v.SelectAction(randomTensor(rng), i%2 == 0)
		require.NoError(t, err)
		assert.True(t, a.IsMove(), "got %v", a)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "rl_bot_tick_10")

	a := newValue(t, testConfig())
	fill(t, a, 20, 6)
	for i := 0; i < 5; i++ {
		_, err := a.TrainStep()
		require.NoError(t, err)
	}
	require.NoError(t, a.Save(path))

	cfg := testConfig()
	cfg.Seed = 99
	b := newValue(t, cfg)
	require.False(t, a.Snapshot().Equal(b.Snapshot()))
	require.NoError(t, b.Load(path))

	assert.True(t, a.Snapshot().Equal(b.Snapshot()))
	assert.True(t, b.Snapshot().Equal(b.TargetSnapshot()))

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		s := randomTensor(rng)
		want, err := a.SelectAction(s, false)
		require.NoError(t, err)
		got, err := b.SelectAction(s, false)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestLoadMissingCheckpoint(t *testing.T) {
	v := newValue(t, testConfig())
	path := filepath.Join(t.TempDir(), "absent")

	err := v.Load(path)
	assert.ErrorIs(t, err, ErrNoCheckpoint)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	ok, err := v.LoadIfExists(path)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadWrongArchitecture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckpt")
	n, err := NewNetwork([]int{features.InputLen(testGrid), 4, 4}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.NoError(t, n.SaveFile(path))

	v := newValue(t, testConfig())
	assert.ErrorIs(t, v.Load(path), ErrShape)
}

func TestRestoreSchedule(t *testing.T) {
	v := newValue(t, testConfig())

	v.RestoreSchedule(0.05, 7)
	assert.Equal(t, 0.2, v.Epsilon(), "clamped to the floor")
	assert.Equal(t, int64(7), v.Steps())

	v.RestoreSchedule(0.5, 7)
	fill(t, v, 10, 8)
	trained, err := v.TrainStep()
	require.NoError(t, err)
	require.True(t, trained)
	assert.Equal(t, int64(8), v.Steps())
	assert.InDelta(t, 0.45, v.Epsilon(), 1e-12)
}

func TestTrainingConcurrentWithSelection(t *testing.T) {
	v := newValue(t, testConfig())
	fill(t, v, 10, 9)
	path := filepath.Join(t.TempDir(), "ckpt")

	const rounds = 200
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_, err := v.TrainStep()
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(10))
		for i := 0; i < rounds; i++ {
			s := randomTensor(rng)
			a, err := v.SelectAction(s, i%2 == 0)
			assert.NoError(t, err)
			assert.True(t, a.IsMove())
			v.Remember(replay.Transition{State: s, Action: a, Reward: 0.1, Next: randomTensor(rng)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			assert.NoError(t, v.Save(path))
		}
	}()
	wg.Wait()

	assert.Equal(t, int64(rounds), v.Steps())
	loaded := newValue(t, testConfig())
	require.NoError(t, loaded.Load(path))
}
