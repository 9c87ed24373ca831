// Package qnet implements the learned value function: a primary and a target
// network trained by experience replay with masked Bellman targets.
package qnet

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"github.com/brensch/zoobot/features"
	"github.com/brensch/zoobot/game"
	"github.com/brensch/zoobot/replay"
)

// ErrNoCheckpoint is returned by Load when the checkpoint file does not exist.
var ErrNoCheckpoint = errors.New("qnet: no checkpoint")

type Config struct {
	InputSize          int
	Hidden             []int
	Gamma              float64
	Epsilon            float64
	EpsilonMin         float64
	EpsilonDecay       float64
	LearningRate       float64
	BatchSize          int
	TargetSyncInterval int
	Seed               int64
}

// DefaultConfig returns the standard hyperparameters for a given input size.
func DefaultConfig(inputSize int) Config {
	return Config{
		InputSize:          inputSize,
		Hidden:             []int{128, 64},
		Gamma:              0.95,
		Epsilon:            1.0,
		EpsilonMin:         0.1,
		EpsilonDecay:       0.995,
		LearningRate:       0.001,
		BatchSize:          32,
		TargetSyncInterval: 100,
		Seed:               1,
	}
}

func (c Config) validate() error {
	switch {
	case c.InputSize <= 0:
		return fmt.Errorf("%w: input size %d", ErrShape, c.InputSize)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size %d", ErrShape, c.BatchSize)
	case c.TargetSyncInterval <= 0:
		return fmt.Errorf("qnet: target sync interval must be positive, got %d", c.TargetSyncInterval)
	case c.EpsilonMin < 0 || c.EpsilonMin > c.Epsilon || c.Epsilon > 1:
		return fmt.Errorf("qnet: need 0 <= epsilon-min <= epsilon <= 1, got %v/%v", c.EpsilonMin, c.Epsilon)
	case c.EpsilonDecay <= 0 || c.EpsilonDecay > 1:
		return fmt.Errorf("qnet: epsilon decay must be in (0,1], got %v", c.EpsilonDecay)
	}
	return nil
}

// ValueFunction owns the primary/target pair and the exploration schedule.
//
// Training mutates the primary network under trainMu and then publishes an
// immutable copy. Action selection only ever reads the published copy, so it
// never blocks on, or observes, a training step in progress.
type ValueFunction struct {
	cfg    Config
	buffer *replay.Buffer

	trainMu sync.Mutex
	primary *Network
	target  *Network
	opt     *adam
	rng     *rand.Rand

	published atomic.Pointer[Network]
	steps     atomic.Int64
	epsilon   atomic.Uint64 // float64 bits
	lastLoss  atomic.Uint64 // float64 bits

	exploreMu sync.Mutex
	explore   *rand.Rand
}

// New builds a value function that trains from buffer. Architecture errors
// are returned here so a bad configuration fails at startup.
func New(cfg Config, buffer *replay.Buffer) (*ValueFunction, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if buffer == nil {
		return nil, errors.New("qnet: nil replay buffer")
	}

	sizes := append([]int{cfg.InputSize}, cfg.Hidden...)
	sizes = append(sizes, game.NumMoves)

	rng := rand.New(rand.NewSource(cfg.Seed))
	primary, err := NewNetwork(sizes, rng)
	if err != nil {
		return nil, err
	}

	v := &ValueFunction{
		cfg:     cfg,
		buffer:  buffer,
		primary: primary,
		target:  primary.Clone(),
		opt:     newAdam(primary, cfg.LearningRate),
		rng:     rng,
		explore: rand.New(rand.NewSource(cfg.Seed + 1)),
	}
	v.published.Store(primary.Clone())
	v.setEpsilon(cfg.Epsilon)
	return v, nil
}

func (v *ValueFunction) Config() Config { return v.cfg }

// SelectAction picks a movement action for state. With exploring set, a
// uniformly random move is returned with probability epsilon; otherwise the
// argmax of the latest published primary weights.
func (v *ValueFunction) SelectAction(state *features.Tensor, exploring bool) (game.Action, error) {
	if exploring {
		v.exploreMu.Lock()
		roll := v.explore.Float64()
		pick := v.explore.Intn(game.NumMoves)
		v.exploreMu.Unlock()
		if roll < v.Epsilon() {
			if err := v.checkState(state); err != nil {
				return game.None, err
			}
			return game.Moves[pick], nil
		}
	}

	q, err := v.QValues(state)
	if err != nil {
		return game.None, err
	}
	return game.MoveFromIndex(argmax(q))
}

// QValues evaluates the published primary network on state.
func (v *ValueFunction) QValues(state *features.Tensor) ([]float64, error) {
	if err := v.checkState(state); err != nil {
		return nil, err
	}
	return v.published.Load().Predict(state.Flatten(make([]float64, 0, v.cfg.InputSize)))
}

func (v *ValueFunction) checkState(state *features.Tensor) error {
	if state == nil {
		return fmt.Errorf("%w: nil state", ErrShape)
	}
	if state.Len() != v.cfg.InputSize {
		return fmt.Errorf("%w: state length %d, want %d", ErrShape, state.Len(), v.cfg.InputSize)
	}
	return nil
}

// Remember records a transition for later training.
func (v *ValueFunction) Remember(t replay.Transition) {
	v.buffer.Add(t)
}

// TrainStep fits the primary network one Adam step toward masked Bellman
// targets on a uniformly sampled batch. It reports false without training
// while the buffer holds less than one batch.
func (v *ValueFunction) TrainStep() (bool, error) {
	v.trainMu.Lock()
	defer v.trainMu.Unlock()

	if v.buffer.Len() < v.cfg.BatchSize {
		return false, nil
	}
	batch, err := v.buffer.Sample(v.cfg.BatchSize, v.rng)
	if err != nil {
		return false, err
	}

	in := v.cfg.InputSize
	states := make([]float64, 0, len(batch)*in)
	nexts := make([]float64, 0, len(batch)*in)
	for i, t := range batch {
		if t.State == nil || t.Next == nil || t.State.Len() != in || t.Next.Len() != in {
			return false, fmt.Errorf("%w: transition %d has malformed tensors", ErrShape, i)
		}
		if !t.Action.IsMove() {
			return false, fmt.Errorf("%w: transition %d has non-move action %v", ErrShape, i, t.Action)
		}
		states = t.State.Flatten(states)
		nexts = t.Next.Flatten(nexts)
	}
	b := len(batch)
	x := mat.NewDense(b, in, states)
	xNext := mat.NewDense(b, in, nexts)

	acts, pre, err := v.primary.forward(x)
	if err != nil {
		return false, err
	}
	q := acts[len(acts)-1]
	qNext, err := v.target.PredictBatch(xNext)
	if err != nil {
		return false, err
	}

	// MSE over the full B x A output with untouched actions targeting their
	// own prediction, so only the taken action carries gradient.
	scale := float64(b * game.NumMoves)
	dOut := mat.NewDense(b, game.NumMoves, nil)
	var loss float64
	for i, t := range batch {
		y := t.Reward
		if !t.Terminal {
			y += v.cfg.Gamma * mat.Max(qNext.RowView(i))
		}
		a := t.Action.Index()
		diff := q.At(i, a) - y
		dOut.Set(i, a, 2*diff/scale)
		loss += diff * diff / scale
	}

	v.opt.step(v.primary, v.primary.backward(acts, pre, dOut))

	steps := v.steps.Add(1)
	if steps%int64(v.cfg.TargetSyncInterval) == 0 {
		if err := v.target.CopyFrom(v.primary); err != nil {
			return true, err
		}
	}
	v.published.Store(v.primary.Clone())
	v.lastLoss.Store(math.Float64bits(loss))
	v.setEpsilon(math.Max(v.cfg.EpsilonMin, v.Epsilon()*v.cfg.EpsilonDecay))
	return true, nil
}

// SyncTarget hard-copies the primary weights into the target network.
func (v *ValueFunction) SyncTarget() error {
	v.trainMu.Lock()
	defer v.trainMu.Unlock()
	return v.target.CopyFrom(v.primary)
}

func (v *ValueFunction) Epsilon() float64 {
	return math.Float64frombits(v.epsilon.Load())
}

func (v *ValueFunction) setEpsilon(e float64) {
	v.epsilon.Store(math.Float64bits(e))
}

// ResetEpsilon restores the initial exploration rate.
func (v *ValueFunction) ResetEpsilon() {
	v.trainMu.Lock()
	defer v.trainMu.Unlock()
	v.setEpsilon(v.cfg.Epsilon)
}

// RestoreSchedule continues the exploration schedule and step count of a
// resumed checkpoint. Epsilon is clamped to [epsilon-min, 1].
func (v *ValueFunction) RestoreSchedule(epsilon float64, steps int64) {
	v.trainMu.Lock()
	defer v.trainMu.Unlock()
	v.setEpsilon(math.Min(1, math.Max(v.cfg.EpsilonMin, epsilon)))
	if steps > 0 {
		v.steps.Store(steps)
	}
}

// Steps is the number of completed training steps.
func (v *ValueFunction) Steps() int64 { return v.steps.Load() }

func (v *ValueFunction) LastLoss() float64 {
	return math.Float64frombits(v.lastLoss.Load())
}

// Snapshot returns the latest published primary weights. Callers must treat
// it as read-only.
func (v *ValueFunction) Snapshot() *Network { return v.published.Load() }

// TargetSnapshot returns a copy of the target network.
func (v *ValueFunction) TargetSnapshot() *Network {
	v.trainMu.Lock()
	defer v.trainMu.Unlock()
	return v.target.Clone()
}

// Save persists the published primary weights.
func (v *ValueFunction) Save(path string) error {
	return v.published.Load().SaveFile(path)
}

// Load restores weights into both primary and target. A missing file wraps
// ErrNoCheckpoint and fs.ErrNotExist.
func (v *ValueFunction) Load(path string) error {
	n, err := LoadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %w", ErrNoCheckpoint, err)
		}
		return err
	}

	v.trainMu.Lock()
	defer v.trainMu.Unlock()
	if err := v.primary.CopyFrom(n); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	if err := v.target.CopyFrom(n); err != nil {
		return fmt.Errorf("load %s into target: %w", path, err)
	}
	v.opt = newAdam(v.primary, v.cfg.LearningRate)
	v.published.Store(v.primary.Clone())
	return nil
}

// LoadIfExists is Load that treats a missing checkpoint as a fresh start.
func (v *ValueFunction) LoadIfExists(path string) (bool, error) {
	if err := v.Load(path); err != nil {
		if errors.Is(err, ErrNoCheckpoint) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// argmax returns the first index holding the maximum value.
func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
