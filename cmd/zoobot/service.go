package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/zoobot/agent"
	"github.com/brensch/zoobot/config"
	"github.com/brensch/zoobot/qnet"
	"github.com/brensch/zoobot/replay"
	"github.com/brensch/zoobot/store"
)

// service is everything behind the orchestrator: the value function, its
// background workers and the persistence they write to.
type service struct {
	cfg *config.Config
	log zerolog.Logger

	buffer       *replay.Buffer
	value        *qnet.ValueFunction
	catalog      *store.Catalog
	checkpointer *agent.Checkpointer
	experience   *store.ExperienceWriter
	trainer      *agent.Trainer
	orch         *agent.Orchestrator

	startTick int64
}

func newService(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*service, error) {
	r := &service{cfg: cfg, log: log}

	r.buffer = replay.NewBuffer(cfg.ReplayCapacity)
	value, err := qnet.New(cfg.QNet(), r.buffer)
	if err != nil {
		return nil, fmt.Errorf("build value function: %w", err)
	}
	r.value = value

	if err := os.MkdirAll(cfg.CheckpointDir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	r.catalog, err = store.OpenCatalog(ctx, cfg.CatalogPath())
	if err != nil {
		return nil, err
	}
	if cfg.Resume {
		r.resume(ctx)
	}

	r.checkpointer = agent.NewCheckpointer(cfg.CheckpointDir, r.value, r.catalog, log)
	r.trainer = agent.NewTrainer(r.value, log)

	agentCfg, err := cfg.Agent()
	if err != nil {
		r.Close()
		return nil, err
	}
	opts := []agent.Option{
		agent.WithLogger(log),
		agent.WithTrainer(r.trainer),
		agent.WithCheckpointer(r.checkpointer),
		agent.WithStartTick(r.startTick),
	}
	if cfg.ExperienceDir != "" {
		r.experience, err = store.NewExperienceWriter(cfg.ExperienceDir, cfg.ExperienceFlushRows, log)
		if err != nil {
			r.Close()
			return nil, err
		}
		opts = append(opts, agent.WithExperienceSink(r.experience))
	}

	r.orch, err = agent.New(agentCfg, r.value, opts...)
	if err != nil {
		r.Close()
		return nil, err
	}

	log.Info().
		Int("grid_size", cfg.GridSize).
		Ints("layers", append(append([]int{cfg.QNet().InputSize}, cfg.Hidden...), cfg.ActionSize)).
		Str("train_mode", agentCfg.TrainMode.String()).
		Dur("soft_deadline", cfg.SoftDeadline).
		Msg("agent ready")
	return r, nil
}

// resume loads the newest cataloged checkpoint and continues its decision
// counter and exploration schedule. Failures leave the fresh weights in place.
func (r *service) resume(ctx context.Context) {
	latest, ok, err := r.catalog.Latest(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("checkpoint catalog unreadable; starting fresh")
		return
	}
	if !ok {
		r.log.Info().Msg("no checkpoint cataloged; starting fresh")
		return
	}
	loaded, err := r.value.LoadIfExists(latest.Path)
	switch {
	case err != nil:
		r.log.Warn().Err(err).Str("path", latest.Path).Msg("checkpoint load failed; starting fresh")
	case !loaded:
		r.log.Warn().Str("path", latest.Path).Msg("cataloged checkpoint is missing; starting fresh")
	default:
		r.startTick = latest.Tick
		r.value.RestoreSchedule(latest.Epsilon, latest.TrainSteps)
		r.log.Info().
			Str("path", latest.Path).
			Int64("tick", latest.Tick).
			Float64("epsilon", r.value.Epsilon()).
			Int64("train_steps", latest.TrainSteps).
			Msg("resumed from checkpoint")
	}
}

// start launches the background workers on g.
func (r *service) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return r.trainer.Run(ctx) })
	g.Go(func() error { return r.checkpointer.Run(ctx) })
	if r.experience != nil {
		g.Go(func() error { return r.experience.Run(ctx) })
	}
}

// saveFinal writes a last checkpoint once the workers have stopped.
func (r *service) saveFinal(ctx context.Context) {
	st := r.orch.Stats()
	if st.Tick == r.startTick {
		return
	}
	path := filepath.Join(r.cfg.CheckpointDir, agent.CheckpointName(st.Tick))
	if err := r.value.Save(path); err != nil {
		r.log.Warn().Err(err).Str("path", path).Msg("final checkpoint failed")
		return
	}
	err := r.catalog.Record(ctx, store.Checkpoint{
		Tick:       st.Tick,
		Path:       path,
		Epsilon:    st.Epsilon,
		TrainSteps: st.TrainSteps,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("final checkpoint not cataloged")
	}
	r.log.Info().Str("path", path).Msg("final checkpoint saved")
}

func (r *service) Close() {
	if r.catalog != nil {
		if err := r.catalog.Close(); err != nil {
			r.log.Warn().Err(err).Msg("close catalog")
		}
	}
}
