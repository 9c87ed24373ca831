package agent

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Stats is a point-in-time view of the orchestrator. Window fields cover the
// decisions since the last status report.
type Stats struct {
	Tick          int64
	GameTick      int
	Episode       int
	EpisodeReward float64
	Epsilon       float64
	Captures      int
	Transitions   int64
	TrainSteps    int64
	LastLoss      float64

	WindowDecisions int
	AvgInferenceMs  float64
	MaxInferenceMs  float64
	AvgDecisionMs   float64
	MaxDecisionMs   float64
	Fallbacks       int
	Overruns        int
	InferenceErrors int
	Panics          int

	LastAction string
}

// StatusLine renders the status line that offline monitors parse. The field
// names and order are fixed.
func (s Stats) StatusLine() string {
	return fmt.Sprintf("Tick: %d, Episode: %d, Reward: %.2f, Epsilon: %.4f, Avg Inference: %.2fms, Max Inference: %.2fms, Captures: %d",
		s.Tick, s.Episode, s.EpisodeReward, s.Epsilon, s.AvgInferenceMs, s.MaxInferenceMs, s.Captures)
}

// MarshalZerologObject attaches the same values as structured fields.
func (s Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("tick", s.Tick).
		Int("episode", s.Episode).
		Float64("reward", s.EpisodeReward).
		Float64("epsilon", s.Epsilon).
		Float64("avg_inference_ms", s.AvgInferenceMs).
		Float64("max_inference_ms", s.MaxInferenceMs).
		Float64("avg_decision_ms", s.AvgDecisionMs).
		Float64("max_decision_ms", s.MaxDecisionMs).
		Int("fallbacks", s.Fallbacks).
		Int("overruns", s.Overruns).
		Int("inference_errors", s.InferenceErrors).
		Int("captures", s.Captures).
		Int64("train_steps", s.TrainSteps).
		Float64("loss", s.LastLoss)
}

// window accumulates per-decision timings between reports.
type window struct {
	decisions int
	infSum    time.Duration
	infMax    time.Duration
	infCount  int
	decSum    time.Duration
	decMax    time.Duration
	fallbacks int
	overruns  int
	infErrors int
	panics    int
}

func (w *window) observe(inference time.Duration, measured bool, decision time.Duration) {
	w.decisions++
	if measured {
		w.infCount++
		w.infSum += inference
		w.infMax = max(w.infMax, inference)
	}
	w.decSum += decision
	w.decMax = max(w.decMax, decision)
}

func (w *window) fill(s *Stats) {
	s.WindowDecisions = w.decisions
	s.Fallbacks = w.fallbacks
	s.Overruns = w.overruns
	s.InferenceErrors = w.infErrors
	s.Panics = w.panics
	s.MaxInferenceMs = ms(w.infMax)
	s.MaxDecisionMs = ms(w.decMax)
	s.AvgInferenceMs, s.AvgDecisionMs = 0, 0
	if w.infCount > 0 {
		s.AvgInferenceMs = ms(w.infSum) / float64(w.infCount)
	}
	if w.decisions > 0 {
		s.AvgDecisionMs = ms(w.decSum) / float64(w.decisions)
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
