package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brensch/zoobot/config"
)

var (
	v       = viper.New()
	cfgFile string
	useTUI  bool
)

var rootCmd = &cobra.Command{
	Use:   "zoobot",
	Short: "Learning zoo bot with a deadline-safe fallback",
	Long: `zoobot answers every game tick within the decision deadline.

A DQN value function picks the move when it can; a deterministic heuristic
takes over whenever inference fails or runs past the soft deadline. The
network trains from replayed experience in the background and checkpoints
itself periodically.`,
	SilenceUsage: true,
}

func init() {
	d := config.Default()
	f := rootCmd.PersistentFlags()

	f.StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml)")
	f.BoolVar(&useTUI, "tui", false, "Show a live dashboard; logs go to zoobot.log")

	// Board and network
	f.Int("grid-size", d.GridSize, "Board edge length the network is built for")
	f.Int("action-size", d.ActionSize, "Movement actions (fixed)")
	f.IntSlice("hidden", d.Hidden, "Hidden layer sizes")

	// Learning
	f.Float64("gamma", d.Gamma, "Discount factor")
	f.Float64("epsilon", d.Epsilon, "Initial exploration rate")
	f.Float64("epsilon-min", d.EpsilonMin, "Exploration floor")
	f.Float64("epsilon-decay", d.EpsilonDecay, "Multiplicative epsilon decay per training step")
	f.Float64("learning-rate", d.LearningRate, "Adam learning rate")
	f.Int("replay-capacity", d.ReplayCapacity, "Replay buffer capacity")
	f.Int("batch-size", d.BatchSize, "Training batch size")
	f.Int("target-sync-interval", d.TargetSyncInterval, "Training steps between target network syncs")
	f.Int("train-every", d.TrainEvery, "Transitions between training steps")
	f.String("train-mode", d.TrainMode, "Where training runs: background or inline")
	f.Bool("explore", d.Explore, "Use epsilon-greedy exploration")
	f.Int64("seed", d.Seed, "Random seed for weights, sampling and exploration")

	// Timing
	f.Duration("deadline", d.Deadline, "Hard per-tick decision budget")
	f.Duration("soft-deadline", d.SoftDeadline, "Elapsed time after which the fallback answers instead")

	// Identity
	f.String("self-id", d.SelfID, "Our animal's id or nickname")
	f.String("peer-id", d.PeerID, "Peer animal marked in its own channel")

	// Persistence
	f.Int("checkpoint-every", d.CheckpointEvery, "Decisions between checkpoints and status lines")
	f.String("checkpoint-dir", d.CheckpointDir, "Checkpoint directory")
	f.Bool("resume", d.Resume, "Load the newest cataloged checkpoint at startup")
	f.String("experience-dir", d.ExperienceDir, "Parquet experience log directory (empty disables)")
	f.Int("experience-flush-rows", d.ExperienceFlushRows, "Rows per experience parquet file")

	// Transport and logging
	f.String("engine-url", d.EngineURL, "Game host websocket URL (empty disables)")
	f.String("listen-addr", d.ListenAddr, "Serve /move over HTTP on this address (empty disables)")
	f.String("log-level", d.LogLevel, "Log level (debug, info, warn, error)")
	f.String("log-format", d.LogFormat, "Log format (console or json)")

	// Bind flags to viper for environment variable support
	_ = v.BindPFlags(f)

	rootCmd.AddCommand(runCmd, replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
