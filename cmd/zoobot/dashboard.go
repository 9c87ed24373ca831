package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/brensch/zoobot/agent"
	"github.com/brensch/zoobot/transport"
)

type dashboard struct {
	startTime  time.Time
	orch       func() agent.Stats
	trainer    func() agent.TrainerStats
	transport  func() transport.Stats
	checkpoint func() string

	stats     agent.Stats
	train     agent.TrainerStats
	conn      transport.Stats
	lastSaved string
	recent    []string
}

type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m dashboard) Init() tea.Cmd {
	return tickCmd()
}

func (m dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		prevEpisode := m.stats.Episode
		m.stats = m.orch()
		m.train = m.trainer()
		m.conn = m.transport()
		m.lastSaved = m.checkpoint()
		if prevEpisode != 0 && m.stats.Episode != prevEpisode {
			line := fmt.Sprintf("Episode %d ended at tick %d, captures %d", prevEpisode, m.stats.Tick, m.stats.Captures)
			m.recent = append([]string{line}, m.recent...)
			if len(m.recent) > 10 {
				m.recent = m.recent[:10]
			}
		}
		return m, tickCmd()
	}
	return m, nil
}

func (m dashboard) View() string {
	duration := time.Since(m.startTime)
	ticksPerSec := float64(m.stats.Tick) / duration.Seconds()
	if duration.Seconds() < 1 {
		ticksPerSec = 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", m.stats.StatusLine())
	fmt.Fprintf(&b, "Game Tick:        %d\n", m.stats.GameTick)
	fmt.Fprintf(&b, "Last Action:      %s\n", m.stats.LastAction)
	fmt.Fprintf(&b, "Ticks/Sec:        %.2f\n", ticksPerSec)
	fmt.Fprintf(&b, "Avg Decision:     %.2fms (max %.2fms)\n", m.stats.AvgDecisionMs, m.stats.MaxDecisionMs)
	fmt.Fprintf(&b, "Fallbacks:        %d (overruns %d, errors %d, panics %d)\n",
		m.stats.Fallbacks, m.stats.Overruns, m.stats.InferenceErrors, m.stats.Panics)
	fmt.Fprintf(&b, "Transitions:      %d\n", m.stats.Transitions)
	fmt.Fprintf(&b, "Train Steps:      %d (loss %.4f, avg %.2fms, coalesced %d)\n",
		m.stats.TrainSteps, m.stats.LastLoss, m.train.AvgRunMs, m.train.Coalesced)
	fmt.Fprintf(&b, "Connection:       %d connects, %d states, %d commands, %d bad frames\n",
		m.conn.Connects, m.conn.States, m.conn.Commands, m.conn.BadFrames)
	fmt.Fprintf(&b, "Last Checkpoint:  %s\n", m.lastSaved)
	fmt.Fprintf(&b, "Duration:         %s\n\n", duration.Round(time.Second))

	b.WriteString("Recent Episodes:\n")
	for _, line := range m.recent {
		b.WriteString(line + "\n")
	}
	b.WriteString("\nPress q to quit.\n")
	return b.String()
}

// runDashboard blocks until the user quits or ctx ends.
func runDashboard(ctx context.Context, svc *service, connStats func() transport.Stats) error {
	m := dashboard{
		startTime:  time.Now(),
		orch:       svc.orch.Stats,
		trainer:    svc.trainer.Stats,
		transport:  connStats,
		checkpoint: svc.checkpointer.Last,
	}
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
