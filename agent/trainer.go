package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// StepTrainer runs one training step, reporting whether it trained.
type StepTrainer interface {
	TrainStep() (bool, error)
}

// TrainerStats summarizes the background trainer.
type TrainerStats struct {
	Signals       int64
	Coalesced     int64
	Steps         int64
	Skipped       int64
	Errors        int64
	TotalRunNanos int64
	AvgRunMs      float64
}

// Trainer moves training off the decision path. Signal is non-blocking and
// coalesces: while a step is pending or running, further signals collapse
// into at most one more step.
type Trainer struct {
	learner StepTrainer
	signal  chan struct{}
	log     zerolog.Logger

	signals   atomic.Int64
	coalesced atomic.Int64
	steps     atomic.Int64
	skipped   atomic.Int64
	errors    atomic.Int64
	runNanos  atomic.Int64
}

func NewTrainer(learner StepTrainer, log zerolog.Logger) *Trainer {
	return &Trainer{
		learner: learner,
		signal:  make(chan struct{}, 1),
		log:     log.With().Str("component", "trainer").Logger(),
	}
}

// Signal requests a training step without waiting for it.
func (t *Trainer) Signal() {
	t.signals.Add(1)
	select {
	case t.signal <- struct{}{}:
	default:
		t.coalesced.Add(1)
	}
}

// Run trains once per received signal until ctx is cancelled.
func (t *Trainer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.signal:
			t.step()
		}
	}
}

func (t *Trainer) step() {
	start := time.Now()
	trained, err := t.safeTrain()
	t.runNanos.Add(time.Since(start).Nanoseconds())

	switch {
	case err != nil:
		t.errors.Add(1)
		t.log.Warn().Err(err).Msg("training step failed")
	case trained:
		t.steps.Add(1)
	default:
		t.skipped.Add(1)
	}
}

func (t *Trainer) safeTrain() (trained bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("training panicked: %v", r)
		}
	}()
	return t.learner.TrainStep()
}

func (t *Trainer) Stats() TrainerStats {
	st := TrainerStats{
		Signals:       t.signals.Load(),
		Coalesced:     t.coalesced.Load(),
		Steps:         t.steps.Load(),
		Skipped:       t.skipped.Load(),
		Errors:        t.errors.Load(),
		TotalRunNanos: t.runNanos.Load(),
	}
	if runs := st.Steps + st.Skipped + st.Errors; runs > 0 {
		st.AvgRunMs = float64(st.TotalRunNanos) / 1e6 / float64(runs)
	}
	return st
}
