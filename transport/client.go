// Package transport bridges the agent to the game host over a websocket:
// snapshots in, commands out.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/brensch/zoobot/game"
)

// Message types on the wire.
const (
	TypeState   = "state"
	TypeEnd     = "end"
	TypeReset   = "reset"
	TypeCommand = "command"
)

// Envelope wraps every message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Command is the outbound payload; Action uses the integer wire codes.
type Command struct {
	Action int `json:"action"`
}

// Decider is the agent side of the bridge.
type Decider interface {
	Decide(s *game.Snapshot) game.Action
	Reset()
}

// Config holds transport configuration
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ReconnectDelay   time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     time.Second,
		ReconnectDelay:   2 * time.Second,
	}
}

// Stats holds transport statistics
type Stats struct {
	Connects  int64
	States    int64
	Commands  int64
	Resets    int64
	BadFrames int64
}

type Client struct {
	cfg     Config
	decider Decider
	log     zerolog.Logger

	connects  atomic.Int64
	states    atomic.Int64
	commands  atomic.Int64
	resets    atomic.Int64
	badFrames atomic.Int64
}

func NewClient(cfg Config, decider Decider, log zerolog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		decider: decider,
		log:     log.With().Str("component", "transport").Logger(),
	}
}

// Run keeps a connection to the game host open until ctx is cancelled,
// reconnecting after failures.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn().Err(err).Dur("retry_in", c.cfg.ReconnectDelay).Msg("connection lost")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()
	c.connects.Add(1)
	c.log.Info().Str("url", c.cfg.URL).Msg("connected")

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	return c.Serve(conn)
}

// Serve handles messages on an established connection until it closes.
func (c *Client) Serve(conn *websocket.Conn) error {
	for {
		if c.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.badFrames.Add(1)
			c.log.Warn().Err(err).Msg("failed to parse message")
			continue
		}

		switch env.Type {
		case TypeState:
			var snap game.Snapshot
			if err := json.Unmarshal(env.Data, &snap); err != nil {
				c.badFrames.Add(1)
				c.log.Warn().Err(err).Msg("failed to parse state")
				continue
			}
			c.states.Add(1)
			action := c.decider.Decide(&snap)
			if err := c.send(conn, action); err != nil {
				return err
			}

		case TypeEnd, TypeReset:
			c.resets.Add(1)
			c.decider.Reset()

		default:
			c.log.Debug().Str("type", env.Type).Msg("ignoring message")
		}
	}
}

func (c *Client) send(conn *websocket.Conn, a game.Action) error {
	data, err := json.Marshal(Command{Action: int(a)})
	if err != nil {
		return err
	}
	out, err := json.Marshal(Envelope{Type: TypeCommand, Data: data})
	if err != nil {
		return err
	}
	if c.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	c.commands.Add(1)
	return nil
}

// GetStats returns current statistics
func (c *Client) GetStats() Stats {
	return Stats{
		Connects:  c.connects.Load(),
		States:    c.states.Load(),
		Commands:  c.commands.Load(),
		Resets:    c.resets.Load(),
		BadFrames: c.badFrames.Load(),
	}
}
