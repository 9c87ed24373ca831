package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/brensch/zoobot/store"
)

// CheckpointName is the file name for the checkpoint taken at decision tick.
func CheckpointName(tick int64) string {
	return fmt.Sprintf("rl_bot_tick_%d", tick)
}

// WeightSaver persists the current weights to a path.
type WeightSaver interface {
	Save(path string) error
}

// CheckpointCatalog indexes saved checkpoints.
type CheckpointCatalog interface {
	Record(ctx context.Context, cp store.Checkpoint) error
}

type checkpointRequest struct {
	tick       int64
	epsilon    float64
	trainSteps int64
}

// Checkpointer saves weights on its own goroutine. Request never blocks; a
// request arriving while one is still queued is dropped, since the next
// cadence will save newer weights anyway.
type Checkpointer struct {
	dir     string
	saver   WeightSaver
	catalog CheckpointCatalog
	reqs    chan checkpointRequest
	log     zerolog.Logger

	saved   atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
	last    atomic.Pointer[string]
}

// NewCheckpointer writes into dir. catalog may be nil.
func NewCheckpointer(dir string, saver WeightSaver, catalog CheckpointCatalog, log zerolog.Logger) *Checkpointer {
	return &Checkpointer{
		dir:     dir,
		saver:   saver,
		catalog: catalog,
		reqs:    make(chan checkpointRequest, 1),
		log:     log.With().Str("component", "checkpoint").Logger(),
	}
}

func (c *Checkpointer) Request(tick int64, epsilon float64, trainSteps int64) bool {
	select {
	case c.reqs <- checkpointRequest{tick: tick, epsilon: epsilon, trainSteps: trainSteps}:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Run serves requests until ctx is cancelled. A request already queued at
// cancellation is still written.
func (c *Checkpointer) Run(ctx context.Context) error {
	for {
		select {
		case req := <-c.reqs:
			c.save(ctx, req)
		case <-ctx.Done():
			select {
			case req := <-c.reqs:
				c.save(context.Background(), req)
			default:
			}
			return nil
		}
	}
}

func (c *Checkpointer) save(ctx context.Context, req checkpointRequest) {
	path := filepath.Join(c.dir, CheckpointName(req.tick))
	if err := c.saver.Save(path); err != nil {
		c.failed.Add(1)
		c.log.Warn().Err(err).Str("path", path).Msg("checkpoint save failed; continuing in memory")
		return
	}
	c.saved.Add(1)
	c.last.Store(&path)
	c.log.Info().Str("path", path).Int64("tick", req.tick).Msg("checkpoint saved")

	if c.catalog == nil {
		return
	}
	err := c.catalog.Record(ctx, store.Checkpoint{
		Tick:       req.tick,
		Path:       path,
		Epsilon:    req.epsilon,
		TrainSteps: req.trainSteps,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("checkpoint catalog update failed")
	}
}

func (c *Checkpointer) Saved() int64   { return c.saved.Load() }
func (c *Checkpointer) Failed() int64  { return c.failed.Load() }
func (c *Checkpointer) Dropped() int64 { return c.dropped.Load() }

// Last is the path of the most recent successful save, or "".
func (c *Checkpointer) Last() string {
	if p := c.last.Load(); p != nil {
		return *p
	}
	return ""
}
