package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/zoobot/config"
	"github.com/brensch/zoobot/transport"
)

var replayInput string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Feed a recorded JSON-lines session through the agent",
	Long: `replay decides every snapshot of a recorded session exactly as the live
agent would, recording transitions and training on cadence. Use it to
warm-start weights from recorded games before playing live.`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "JSON-lines file of snapshots or state envelopes")
	_ = replayCmd.MarkFlagRequired("input")
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	f, err := os.Open(replayInput)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	svc, err := newService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	g, gctx := errgroup.WithContext(ctx)
	svc.start(gctx, g)

	var decided int
	readErr := transport.ReadSnapshots(f, func(rec transport.Record) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		if rec.Reset {
			svc.orch.Reset()
			return nil
		}
		svc.orch.Decide(rec.Snapshot)
		decided++
		return nil
	})

	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	if readErr != nil {
		return fmt.Errorf("replay %s: %w", replayInput, readErr)
	}

	svc.saveFinal(context.Background())
	st := svc.orch.Stats()
	log.Info().Int("snapshots", decided).Int64("transitions", st.Transitions).Msg("replay finished")
	fmt.Fprintln(cmd.OutOrStdout(), st.StatusLine())
	return nil
}
