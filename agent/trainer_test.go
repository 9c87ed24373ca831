package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/zoobot/game"
	"github.com/brensch/zoobot/store"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

type scriptedTrainer struct {
	calls atomic.Int64
	fail  bool
	boom  bool
}

func (s *scriptedTrainer) TrainStep() (bool, error) {
	n := s.calls.Add(1)
	if s.boom {
		panic("nan in weights")
	}
	if s.fail {
		return false, errors.New("bad batch")
	}
	return n > 1, nil
}

func runTrainer(t *testing.T, tr *Trainer) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func TestTrainerRunsSignalledSteps(t *testing.T) {
	l := &scriptedTrainer{}
	tr := NewTrainer(l, testLogger())
	stop := runTrainer(t, tr)
	defer stop()

	tr.Signal()
	require.Eventually(t, func() bool { return tr.Stats().Skipped == 1 }, time.Second, time.Millisecond)
	tr.Signal()
	require.Eventually(t, func() bool { return tr.Stats().Steps == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(2), tr.Stats().Signals)
}

func TestTrainerCoalescesSignals(t *testing.T) {
	tr := NewTrainer(&scriptedTrainer{}, testLogger())
	for i := 0; i < 5; i++ {
		tr.Signal()
	}
	st := tr.Stats()
	assert.Equal(t, int64(5), st.Signals)
	assert.Equal(t, int64(4), st.Coalesced)
}

func TestTrainerSurvivesErrorsAndPanics(t *testing.T) {
	l := &scriptedTrainer{fail: true}
	tr := NewTrainer(l, testLogger())
	stop := runTrainer(t, tr)
	defer stop()

	tr.Signal()
	require.Eventually(t, func() bool { return tr.Stats().Errors == 1 }, time.Second, time.Millisecond)

	l2 := &scriptedTrainer{boom: true}
	tr2 := NewTrainer(l2, testLogger())
	stop2 := runTrainer(t, tr2)
	defer stop2()
	tr2.Signal()
	require.Eventually(t, func() bool { return tr2.Stats().Errors == 1 }, time.Second, time.Millisecond)
}

type fileSaver struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (f *fileSaver) Save(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.paths = append(f.paths, path)
	return os.WriteFile(path, []byte("weights"), 0o644)
}

type memCatalog struct {
	mu  sync.Mutex
	cps []store.Checkpoint
}

func (m *memCatalog) Record(_ context.Context, cp store.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps = append(m.cps, cp)
	return nil
}

func (m *memCatalog) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cps)
}

func TestCheckpointCadence(t *testing.T) {
	dir := t.TempDir()
	saver := &fileSaver{}
	catalog := &memCatalog{}
	cp := NewCheckpointer(dir, saver, catalog, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cp.Run(ctx) }()

	cfg := testConfig()
	cfg.CheckpointEvery = 3
	o := newOrchestrator(t, cfg, &stubLearner{action: game.Left}, WithCheckpointer(cp))
	for tick := 1; tick <= 3; tick++ {
		o.Decide(board(tick, 0, pelletRight...))
	}

	require.Eventually(t, func() bool { return catalog.len() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	want := filepath.Join(dir, "rl_bot_tick_3")
	assert.Equal(t, want, cp.Last())
	assert.FileExists(t, want)
	assert.Equal(t, int64(3), catalog.cps[0].Tick)
	assert.Equal(t, 0.5, catalog.cps[0].Epsilon)
	assert.Equal(t, 3, o.Stats().WindowDecisions)
}

func TestStartTickContinuesCheckpointNumbering(t *testing.T) {
	dir := t.TempDir()
	catalog := &memCatalog{}
	cp := NewCheckpointer(dir, &fileSaver{}, catalog, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cp.Run(ctx) }()

	cfg := testConfig()
	cfg.CheckpointEvery = 5
	o := newOrchestrator(t, cfg, &stubLearner{action: game.Left}, WithCheckpointer(cp), WithStartTick(10))
	assert.Equal(t, int64(10), o.Stats().Tick)
	for tick := 1; tick <= 5; tick++ {
		o.Decide(board(tick, 0, pelletRight...))
	}

	require.Eventually(t, func() bool { return catalog.len() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int64(15), o.Stats().Tick)
	assert.Equal(t, int64(15), catalog.cps[0].Tick)
	assert.Equal(t, filepath.Join(dir, "rl_bot_tick_15"), cp.Last())
}

func TestCheckpointFailureIsNotFatal(t *testing.T) {
	saver := &fileSaver{err: errors.New("disk full")}
	cp := NewCheckpointer(t.TempDir(), saver, nil, testLogger())

	require.True(t, cp.Request(10, 0.3, 1))
	assert.False(t, cp.Request(20, 0.3, 1), "second request is dropped while one is queued")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, cp.Run(ctx))
	assert.Equal(t, int64(1), cp.Failed())
	assert.Equal(t, int64(1), cp.Dropped())
	assert.Empty(t, cp.Last())
}

func TestStatusLine(t *testing.T) {
	st := Stats{
		Tick:           2000,
		Episode:        3,
		EpisodeReward:  12.346,
		Epsilon:        0.12346,
		AvgInferenceMs: 1.234,
		MaxInferenceMs: 9.876,
		Captures:       4,
	}
	assert.Equal(t,
		"Tick: 2000, Episode: 3, Reward: 12.35, Epsilon: 0.1235, Avg Inference: 1.23ms, Max Inference: 9.88ms, Captures: 4",
		st.StatusLine())
}

func TestWindowAverages(t *testing.T) {
	var w window
	w.observe(2*time.Millisecond, true, 3*time.Millisecond)
	w.observe(0, false, 5*time.Millisecond)
	w.observe(4*time.Millisecond, true, 4*time.Millisecond)

	var st Stats
	w.fill(&st)
	assert.Equal(t, 3, st.WindowDecisions)
	assert.InDelta(t, 3.0, st.AvgInferenceMs, 1e-9)
	assert.InDelta(t, 4.0, st.MaxInferenceMs, 1e-9)
	assert.InDelta(t, 4.0, st.AvgDecisionMs, 1e-9)
	assert.InDelta(t, 5.0, st.MaxDecisionMs, 1e-9)
}

func TestParseTrainMode(t *testing.T) {
	m, err := ParseTrainMode("Inline")
	require.NoError(t, err)
	assert.Equal(t, TrainInline, m)

	m, err = ParseTrainMode("")
	require.NoError(t, err)
	assert.Equal(t, TrainBackground, m)

	_, err = ParseTrainMode("async")
	assert.Error(t, err)
}
