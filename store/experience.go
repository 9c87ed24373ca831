// Package store persists what the agent experienced and which checkpoints it
// produced.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/brensch/zoobot/game"
)

// ExperienceRow is one decision as logged for offline analysis and warm
// starts.
//
// State is the raw snapshot JSON, kept model-agnostic so a different feature
// layout can be computed later. Action uses the wire codes (Up=1 .. Right=4).
type ExperienceRow struct {
	EpisodeID   string  `parquet:"episode_id,dict"`
	Episode     int32   `parquet:"episode"`
	Decision    int64   `parquet:"decision"`
	Tick        int32   `parquet:"tick"`
	SelfID      string  `parquet:"self_id,dict"`
	Action      int32   `parquet:"action"`
	Reward      float32 `parquet:"reward"`
	Terminal    bool    `parquet:"terminal"`
	Fallback    bool    `parquet:"fallback"`
	Epsilon     float32 `parquet:"epsilon"`
	InferenceMs float32 `parquet:"inference_ms"`
	State       []byte  `parquet:"state"`
}

// Experience is what the decision path hands over. The snapshot is encoded on
// the writer goroutine, never on the decision path.
type Experience struct {
	Row      ExperienceRow
	Snapshot *game.Snapshot
}

const defaultFlushRows = 5000

// ExperienceWriter buffers experience rows and flushes them to parquet files
// from its own goroutine. Add never blocks.
type ExperienceWriter struct {
	dir       string
	flushRows int
	in        chan Experience
	log       zerolog.Logger

	written atomic.Int64
	dropped atomic.Int64
	files   atomic.Int64
}

func NewExperienceWriter(dir string, flushRows int, log zerolog.Logger) (*ExperienceWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("experience dir is required")
	}
	if flushRows <= 0 {
		flushRows = defaultFlushRows
	}
	return &ExperienceWriter{
		dir:       dir,
		flushRows: flushRows,
		in:        make(chan Experience, flushRows*2),
		log:       log.With().Str("component", "experience").Logger(),
	}, nil
}

// Add queues e, dropping it if the writer has fallen behind.
func (w *ExperienceWriter) Add(e Experience) bool {
	select {
	case w.in <- e:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

func (w *ExperienceWriter) Written() int64 { return w.written.Load() }
func (w *ExperienceWriter) Dropped() int64 { return w.dropped.Load() }
func (w *ExperienceWriter) Files() int64   { return w.files.Load() }

// Run consumes queued experience until ctx is cancelled, then drains what is
// already queued and writes a final file.
func (w *ExperienceWriter) Run(ctx context.Context) error {
	pending := make([]ExperienceRow, 0, w.flushRows)

	flush := func(final bool) {
		if len(pending) == 0 {
			return
		}
		outPath, err := WriteExperienceParquetAtomic(w.dir, pending)
		if err != nil {
			w.log.Warn().Err(err).Int("rows", len(pending)).Bool("final", final).Msg("parquet flush failed")
		} else {
			w.written.Add(int64(len(pending)))
			w.files.Add(1)
			w.log.Debug().Str("path", outPath).Int("rows", len(pending)).Bool("final", final).Msg("parquet flush ok")
		}
		pending = pending[:0]
	}

	add := func(e Experience) {
		row := e.Row
		if e.Snapshot != nil {
			raw, err := json.Marshal(e.Snapshot)
			if err != nil {
				w.log.Warn().Err(err).Int64("decision", row.Decision).Msg("encode snapshot")
			} else {
				row.State = raw
			}
		}
		pending = append(pending, row)
		if len(pending) >= w.flushRows {
			flush(false)
		}
	}

	for {
		select {
		case e := <-w.in:
			add(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-w.in:
					add(e)
				default:
					flush(true)
					return nil
				}
			}
		}
	}
}

// WriteExperienceParquetAtomic writes rows into outDir/tmp and then renames
// the file into outDir, so readers never observe a partial file.
func WriteExperienceParquetAtomic(outDir string, rows []ExperienceRow) (string, error) {
	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("experience_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("state"),
		parquet.KeyValueMetadata("schema", "experience_row_v1"),
	); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return finalPath, nil
}

// ReadExperienceParquet loads every row of one experience file.
func ReadExperienceParquet(path string) ([]ExperienceRow, error) {
	rows, err := parquet.ReadFile[ExperienceRow](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}
