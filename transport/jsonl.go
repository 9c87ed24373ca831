package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/brensch/zoobot/game"
)

// ErrStop can be returned from a ReadSnapshots callback to end iteration early.
var ErrStop = errors.New("transport: stop")

// Record is one line of a recorded session: a snapshot, or an episode
// boundary when Reset is set.
type Record struct {
	Snapshot *game.Snapshot
	Reset    bool
}

// ReadSnapshots streams a JSON-lines recording to fn. Each line is either an
// Envelope (as received over the websocket) or a bare snapshot. Blank lines
// are skipped. Returning ErrStop from fn ends iteration without error.
func ReadSnapshots(r io.Reader, fn func(Record) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)

	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		rec, err := decodeLine(raw)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if rec == nil {
			continue
		}
		if err := fn(*rec); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return sc.Err()
}

func decodeLine(raw []byte) (*Record, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	switch env.Type {
	case "":
		var snap game.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, err
		}
		return &Record{Snapshot: &snap}, nil
	case TypeState:
		var snap game.Snapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return nil, err
		}
		return &Record{Snapshot: &snap}, nil
	case TypeEnd, TypeReset:
		return &Record{Reset: true}, nil
	}
	return nil, nil
}
