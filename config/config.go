// Package config holds the agent's runtime configuration.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/brensch/zoobot/agent"
	"github.com/brensch/zoobot/features"
	"github.com/brensch/zoobot/game"
	"github.com/brensch/zoobot/qnet"
)

// EnvPrefix prefixes environment overrides, e.g. ZOOBOT_GRID_SIZE.
const EnvPrefix = "ZOOBOT"

// Config holds all agent configuration
type Config struct {
	// Board and network shape
	GridSize   int   `mapstructure:"grid-size"`
	ActionSize int   `mapstructure:"action-size"`
	Hidden     []int `mapstructure:"hidden"`

	// Learning
	Gamma              float64 `mapstructure:"gamma"`
	Epsilon            float64 `mapstructure:"epsilon"`
	EpsilonMin         float64 `mapstructure:"epsilon-min"`
	EpsilonDecay       float64 `mapstructure:"epsilon-decay"`
	LearningRate       float64 `mapstructure:"learning-rate"`
	ReplayCapacity     int     `mapstructure:"replay-capacity"`
	BatchSize          int     `mapstructure:"batch-size"`
	TargetSyncInterval int     `mapstructure:"target-sync-interval"`
	TrainEvery         int     `mapstructure:"train-every"`
	TrainMode          string  `mapstructure:"train-mode"`
	Explore            bool    `mapstructure:"explore"`
	Seed               int64   `mapstructure:"seed"`

	// Timing
	Deadline     time.Duration `mapstructure:"deadline"`
	SoftDeadline time.Duration `mapstructure:"soft-deadline"`

	// Identity
	SelfID string `mapstructure:"self-id"`
	PeerID string `mapstructure:"peer-id"`

	// Persistence
	CheckpointEvery     int    `mapstructure:"checkpoint-every"`
	CheckpointDir       string `mapstructure:"checkpoint-dir"`
	Resume              bool   `mapstructure:"resume"`
	ExperienceDir       string `mapstructure:"experience-dir"`
	ExperienceFlushRows int    `mapstructure:"experience-flush-rows"`

	// Transport
	EngineURL  string `mapstructure:"engine-url"`
	ListenAddr string `mapstructure:"listen-addr"`

	// Logging
	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		GridSize:            30,
		ActionSize:          game.NumMoves,
		Hidden:              []int{128, 64},
		Gamma:               0.95,
		Epsilon:             1.0,
		EpsilonMin:          0.1,
		EpsilonDecay:        0.995,
		LearningRate:        0.001,
		ReplayCapacity:      10000,
		BatchSize:           32,
		TargetSyncInterval:  100,
		TrainEvery:          10,
		TrainMode:           "background",
		Explore:             true,
		Seed:                1,
		Deadline:            150 * time.Millisecond,
		SoftDeadline:        120 * time.Millisecond,
		SelfID:              "RLBot",
		PeerID:              "RefBot",
		CheckpointEvery:     1000,
		CheckpointDir:       "models",
		Resume:              true,
		ExperienceDir:       "data/experience",
		ExperienceFlushRows: 5000,
		EngineURL:           "ws://localhost:5000/bot",
		ListenAddr:          "",
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.GridSize <= 0 || c.GridSize > game.MaxGridSize {
		return fmt.Errorf("grid-size must be in 1..%d, got %d", game.MaxGridSize, c.GridSize)
	}
	if c.ActionSize != game.NumMoves {
		return fmt.Errorf("action-size must be %d, got %d", game.NumMoves, c.ActionSize)
	}
	for _, h := range c.Hidden {
		if h <= 0 {
			return fmt.Errorf("hidden layer sizes must be positive, got %v", c.Hidden)
		}
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("gamma must be in [0,1]")
	}
	if c.EpsilonMin < 0 || c.EpsilonMin > c.Epsilon || c.Epsilon > 1 {
		return fmt.Errorf("need 0 <= epsilon-min <= epsilon <= 1")
	}
	if c.EpsilonDecay <= 0 || c.EpsilonDecay > 1 {
		return fmt.Errorf("epsilon-decay must be in (0,1]")
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning-rate must be positive")
	}
	if c.ReplayCapacity <= 0 || c.BatchSize <= 0 {
		return fmt.Errorf("replay-capacity and batch-size must be positive")
	}
	if c.BatchSize > c.ReplayCapacity {
		return fmt.Errorf("batch-size %d exceeds replay-capacity %d", c.BatchSize, c.ReplayCapacity)
	}
	if c.TargetSyncInterval <= 0 || c.TrainEvery <= 0 {
		return fmt.Errorf("target-sync-interval and train-every must be positive")
	}
	if _, err := agent.ParseTrainMode(c.TrainMode); err != nil {
		return err
	}
	if c.SoftDeadline <= 0 || c.SoftDeadline >= c.Deadline {
		return fmt.Errorf("soft-deadline (%s) must be positive and below deadline (%s)", c.SoftDeadline, c.Deadline)
	}
	if c.SelfID == "" {
		return fmt.Errorf("self-id is required")
	}
	if c.EngineURL == "" && c.ListenAddr == "" {
		return fmt.Errorf("engine-url or listen-addr is required")
	}
	return nil
}

// CatalogPath is the SQLite checkpoint index inside the checkpoint dir.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.CheckpointDir, "catalog.db")
}

// QNet derives the value function settings.
func (c *Config) QNet() qnet.Config {
	return qnet.Config{
		InputSize:          features.InputLen(c.GridSize),
		Hidden:             append([]int(nil), c.Hidden...),
		Gamma:              c.Gamma,
		Epsilon:            c.Epsilon,
		EpsilonMin:         c.EpsilonMin,
		EpsilonDecay:       c.EpsilonDecay,
		LearningRate:       c.LearningRate,
		BatchSize:          c.BatchSize,
		TargetSyncInterval: c.TargetSyncInterval,
		Seed:               c.Seed,
	}
}

// Agent derives the orchestrator settings.
func (c *Config) Agent() (agent.Config, error) {
	mode, err := agent.ParseTrainMode(c.TrainMode)
	if err != nil {
		return agent.Config{}, err
	}
	return agent.Config{
		SelfID:          c.SelfID,
		PeerID:          c.PeerID,
		GridSize:        c.GridSize,
		Deadline:        c.Deadline,
		SoftDeadline:    c.SoftDeadline,
		TrainEvery:      c.TrainEvery,
		CheckpointEvery: c.CheckpointEvery,
		TrainMode:       mode,
		Exploring:       c.Explore,
	}, nil
}

// SetDefaults registers every key with v so environment overrides apply even
// for keys without a bound flag.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("grid-size", d.GridSize)
	v.SetDefault("action-size", d.ActionSize)
	v.SetDefault("hidden", d.Hidden)
	v.SetDefault("gamma", d.Gamma)
	v.SetDefault("epsilon", d.Epsilon)
	v.SetDefault("epsilon-min", d.EpsilonMin)
	v.SetDefault("epsilon-decay", d.EpsilonDecay)
	v.SetDefault("learning-rate", d.LearningRate)
	v.SetDefault("replay-capacity", d.ReplayCapacity)
	v.SetDefault("batch-size", d.BatchSize)
	v.SetDefault("target-sync-interval", d.TargetSyncInterval)
	v.SetDefault("train-every", d.TrainEvery)
	v.SetDefault("train-mode", d.TrainMode)
	v.SetDefault("explore", d.Explore)
	v.SetDefault("seed", d.Seed)
	v.SetDefault("deadline", d.Deadline)
	v.SetDefault("soft-deadline", d.SoftDeadline)
	v.SetDefault("self-id", d.SelfID)
	v.SetDefault("peer-id", d.PeerID)
	v.SetDefault("checkpoint-every", d.CheckpointEvery)
	v.SetDefault("checkpoint-dir", d.CheckpointDir)
	v.SetDefault("resume", d.Resume)
	v.SetDefault("experience-dir", d.ExperienceDir)
	v.SetDefault("experience-flush-rows", d.ExperienceFlushRows)
	v.SetDefault("engine-url", d.EngineURL)
	v.SetDefault("listen-addr", d.ListenAddr)
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("log-format", d.LogFormat)
}

// Load resolves the configuration from, in rising precedence: defaults, the
// optional config file, ZOOBOT_* environment variables, and flags already
// bound to v.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
