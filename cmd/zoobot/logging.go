package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

// newLogger builds a logger whose writes never block the caller: lines pass
// through a diode ring and are dropped, with a count, if the sink lags.
func newLogger(level, format string, out io.Writer) (zerolog.Logger, func(), error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), func() {}, fmt.Errorf("log level: %w", err)
	}

	var sink io.Writer = out
	switch format {
	case "console":
		sink = zerolog.ConsoleWriter{Out: out, TimeFormat: time.StampMilli}
	case "json", "":
	default:
		return zerolog.Nop(), func() {}, fmt.Errorf("unknown log format %q", format)
	}

	dw := diode.NewWriter(sink, 10000, 10*time.Millisecond, func(missed int) {
		fmt.Fprintf(os.Stderr, "logger dropped %d messages\n", missed)
	})
	logger := zerolog.New(dw).Level(lvl).With().Timestamp().Logger()
	return logger, func() { _ = dw.Close() }, nil
}

// openLogOutput picks stderr, or a file when the dashboard owns the terminal.
func openLogOutput(tui bool) (io.Writer, func(), error) {
	if !tui {
		return os.Stderr, func() {}, nil
	}
	f, err := os.OpenFile("zoobot.log", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
