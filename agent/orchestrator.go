// Package agent runs the per-tick decision loop: featurize, record the
// previous transition, train on cadence, pick an action under the deadline,
// and checkpoint.
package agent

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brensch/zoobot/fallback"
	"github.com/brensch/zoobot/features"
	"github.com/brensch/zoobot/game"
	"github.com/brensch/zoobot/replay"
	"github.com/brensch/zoobot/reward"
	"github.com/brensch/zoobot/store"
)

// Learner is the learned value function as seen by the orchestrator.
type Learner interface {
	SelectAction(state *features.Tensor, exploring bool) (game.Action, error)
	Remember(t replay.Transition)
	TrainStep() (bool, error)
	Epsilon() float64
	Steps() int64
	LastLoss() float64
}

// ExperienceSink receives one row per decision. Add must not block.
type ExperienceSink interface {
	Add(e store.Experience) bool
}

type TrainMode int

const (
	// TrainBackground hands training to a Trainer goroutine.
	TrainBackground TrainMode = iota
	// TrainInline runs TrainStep on the decision path.
	TrainInline
)

func ParseTrainMode(s string) (TrainMode, error) {
	switch strings.ToLower(s) {
	case "", "background":
		return TrainBackground, nil
	case "inline":
		return TrainInline, nil
	}
	return 0, fmt.Errorf("unknown train mode %q (want background or inline)", s)
}

func (m TrainMode) String() string {
	if m == TrainInline {
		return "inline"
	}
	return "background"
}

type Config struct {
	SelfID          string
	PeerID          string
	GridSize        int
	Deadline        time.Duration
	SoftDeadline    time.Duration
	TrainEvery      int
	CheckpointEvery int
	TrainMode       TrainMode
	// Exploring enables epsilon-greedy selection.
	Exploring bool
}

func DefaultConfig() Config {
	return Config{
		SelfID:          "RLBot",
		PeerID:          "RefBot",
		GridSize:        30,
		Deadline:        150 * time.Millisecond,
		SoftDeadline:    120 * time.Millisecond,
		TrainEvery:      10,
		CheckpointEvery: 1000,
		TrainMode:       TrainBackground,
		Exploring:       true,
	}
}

type Option func(*Orchestrator)

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithClock replaces the monotonic clock used for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTrainer routes cadence training to t in TrainBackground mode.
func WithTrainer(t *Trainer) Option {
	return func(o *Orchestrator) { o.trainer = t }
}

func WithCheckpointer(c *Checkpointer) Option {
	return func(o *Orchestrator) { o.checkpointer = c }
}

// WithStartTick continues the decision counter from a resumed checkpoint so
// checkpoint names keep increasing across restarts.
func WithStartTick(tick int64) Option {
	return func(o *Orchestrator) {
		if tick > 0 {
			o.ticks = tick
		}
	}
}

func WithExperienceSink(s ExperienceSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// Orchestrator owns every piece of per-episode state. Decide is meant to be
// called by one goroutine at a time; Stats may be read from any goroutine.
type Orchestrator struct {
	cfg          Config
	log          zerolog.Logger
	now          func() time.Time
	extractor    *features.Extractor
	evaluator    *reward.Evaluator
	fallback     *fallback.Policy
	learner      Learner
	trainer      *Trainer
	checkpointer *Checkpointer
	sink         ExperienceSink

	mu            sync.Mutex
	prevState     *features.Tensor
	prevAction    game.Action
	ticks         int64
	transitions   int64
	episode       int
	episodeID     string
	episodeReward float64
	captures      int // folded in from the evaluator at each episode end
	gameTick      int
	win           window

	stats atomic.Pointer[Stats]
}

// New validates cfg and wires the components. Shape problems surface here,
// not on the decision path.
func New(cfg Config, learner Learner, opts ...Option) (*Orchestrator, error) {
	switch {
	case learner == nil:
		return nil, errors.New("agent: learner is required")
	case cfg.GridSize <= 0:
		return nil, fmt.Errorf("agent: grid size must be positive, got %d", cfg.GridSize)
	case cfg.SelfID == "":
		return nil, errors.New("agent: self id is required")
	case cfg.SoftDeadline <= 0 || cfg.SoftDeadline >= cfg.Deadline:
		return nil, fmt.Errorf("agent: need 0 < soft deadline (%s) < deadline (%s)", cfg.SoftDeadline, cfg.Deadline)
	case cfg.TrainEvery <= 0:
		return nil, fmt.Errorf("agent: train cadence must be positive, got %d", cfg.TrainEvery)
	}

	o := &Orchestrator{
		cfg:       cfg,
		log:       zerolog.Nop(),
		now:       time.Now,
		extractor: features.NewExtractor(cfg.GridSize, cfg.SelfID, cfg.PeerID),
		evaluator: reward.NewEvaluator(cfg.SelfID),
		fallback:  fallback.New(cfg.SelfID),
		learner:   learner,
		episode:   1,
		episodeID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if cfg.TrainMode == TrainBackground && o.trainer == nil {
		return nil, errors.New("agent: background training needs a Trainer")
	}
	o.publish("")
	return o, nil
}

// Decide returns an action for s. It always returns a movement action or the
// fallback's default, whatever fails internally.
func (o *Orchestrator) Decide(s *game.Snapshot) (action game.Action) {
	start := o.now()

	o.mu.Lock()
	defer o.mu.Unlock()

	var (
		inference time.Duration
		measured  bool
		fellBack  bool
	)
	defer func() {
		if r := recover(); r != nil {
			o.win.panics++
			o.log.Warn().Interface("panic", r).Msg("decision panicked; using fallback")
			action = o.safeFallback(s)
			fellBack = true
			o.prevState = nil
		}
		total := o.now().Sub(start)
		o.win.observe(inference, measured, total)
		if total > o.cfg.Deadline {
			o.log.Warn().Float64("elapsed_ms", ms(total)).Float64("deadline_ms", ms(o.cfg.Deadline)).Msg("decision missed the deadline")
		}
		if fellBack {
			o.win.fallbacks++
		}
		o.ticks++
		o.afterDecision(action)
	}()

	if s != nil {
		o.gameTick = s.Tick
	}
	state := o.extractor.Process(s)
	_, present := s.FindAnimal(o.cfg.SelfID)

	var gained float64
	if o.prevState != nil {
		gained = o.evaluator.Evaluate(s)
		o.record(s, replay.Transition{
			State:    o.prevState,
			Action:   o.prevAction,
			Reward:   gained,
			Next:     state,
			Terminal: !present,
		})
		if !present {
			o.log.Info().Int("episode", o.episode).Float64("reward", o.episodeReward).Msg("actor captured; episode over")
			o.endEpisode()
			fellBack = true
			return o.fallback.Decide(s)
		}
	} else if present {
		o.evaluator.Evaluate(s)
	}

	if !present {
		fellBack = true
		return o.fallback.Decide(s)
	}

	infStart := o.now()
	learned, err := o.learner.SelectAction(state, o.cfg.Exploring)
	end := o.now()
	inference, measured = end.Sub(infStart), true
	elapsed := end.Sub(start)

	switch {
	case err != nil:
		o.win.infErrors++
		o.log.Warn().Err(err).Msg("inference failed; using fallback")
		action, fellBack = o.fallback.Decide(s), true
	case elapsed > o.cfg.SoftDeadline:
		o.win.overruns++
		o.log.Warn().
			Float64("elapsed_ms", ms(elapsed)).
			Float64("inference_ms", ms(inference)).
			Float64("soft_ms", ms(o.cfg.SoftDeadline)).
			Msg("decision over soft deadline; using fallback")
		action, fellBack = o.fallback.Decide(s), true
	case !learned.IsMove():
		o.win.infErrors++
		o.log.Warn().Stringer("action", learned).Msg("learner returned a non-move; using fallback")
		action, fellBack = o.fallback.Decide(s), true
	default:
		action = learned
	}

	o.prevState = state
	o.prevAction = action
	o.logExperience(s, action, gained, false, fellBack, inference)
	return action
}

// record stores t, logs it and triggers training on cadence.
func (o *Orchestrator) record(s *game.Snapshot, t replay.Transition) {
	o.learner.Remember(t)
	o.transitions++
	o.episodeReward += t.Reward
	if t.Terminal {
		o.logExperience(s, t.Action, t.Reward, true, false, 0)
	}

	if o.transitions%int64(o.cfg.TrainEvery) != 0 {
		return
	}
	if o.cfg.TrainMode == TrainInline {
		if _, err := o.learner.TrainStep(); err != nil {
			o.log.Warn().Err(err).Msg("training step failed")
		}
		return
	}
	o.trainer.Signal()
}

// logExperience hands a row to the sink. Non-terminal rows carry the reward
// of the transition that led into this tick.
func (o *Orchestrator) logExperience(s *game.Snapshot, a game.Action, r float64, terminal, usedFallback bool, inference time.Duration) {
	if o.sink == nil {
		return
	}
	row := store.ExperienceRow{
		EpisodeID:   o.episodeID,
		Episode:     int32(o.episode),
		Decision:    o.ticks,
		SelfID:      o.cfg.SelfID,
		Action:      int32(a),
		Reward:      float32(r),
		Terminal:    terminal,
		Fallback:    usedFallback,
		Epsilon:     float32(o.learner.Epsilon()),
		InferenceMs: float32(ms(inference)),
	}
	if s != nil {
		row.Tick = int32(s.Tick)
	}
	o.sink.Add(store.Experience{Row: row, Snapshot: s})
}

func (o *Orchestrator) safeFallback(s *game.Snapshot) (a game.Action) {
	defer func() {
		if r := recover(); r != nil {
			a = fallback.DefaultAction
		}
	}()
	return o.fallback.Decide(s)
}

// afterDecision publishes stats and handles the checkpoint/report cadence.
func (o *Orchestrator) afterDecision(a game.Action) {
	st := o.publish(a.String())
	if o.cfg.CheckpointEvery <= 0 || o.ticks%int64(o.cfg.CheckpointEvery) != 0 {
		return
	}
	if o.checkpointer != nil {
		o.checkpointer.Request(o.ticks, st.Epsilon, st.TrainSteps)
	}
	o.log.Info().EmbedObject(st).Msg(st.StatusLine())
	o.win = window{}
}

func (o *Orchestrator) publish(lastAction string) Stats {
	st := Stats{
		Tick:          o.ticks,
		GameTick:      o.gameTick,
		Episode:       o.episode,
		EpisodeReward: o.episodeReward,
		Epsilon:       o.learner.Epsilon(),
		Captures:      o.captures + o.evaluator.Captures(),
		Transitions:   o.transitions,
		TrainSteps:    o.learner.Steps(),
		LastLoss:      o.learner.LastLoss(),
		LastAction:    lastAction,
	}
	o.win.fill(&st)
	o.stats.Store(&st)
	return st
}

// Stats returns the most recently published snapshot of the counters.
func (o *Orchestrator) Stats() Stats {
	return *o.stats.Load()
}

// Reset ends the current episode on an explicit signal.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.endEpisode()
	o.publish("")
}

func (o *Orchestrator) endEpisode() {
	o.captures += o.evaluator.Captures()
	o.prevState = nil
	o.prevAction = game.None
	o.episodeReward = 0
	o.episode++
	o.episodeID = uuid.NewString()
	o.extractor.Reset()
	o.evaluator.Reset()
	o.fallback.Reset()
}
