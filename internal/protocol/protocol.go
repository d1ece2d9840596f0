// Package protocol defines the JSON frames exchanged with browser clients:
// movement intents in, world snapshots and the game-over notice out.
package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/Tyrowin/blobarena/internal/world"
)

// MsgGameOver is the type tag of the terminal frame.
const MsgGameOver = "game_over"

// ErrMalformedMove is returned for any inbound frame that is not a movement
// intent with numeric x and y.
var ErrMalformedMove = errors.New("malformed move frame")

// Move is a client's requested absolute target position.
type Move struct {
	X float64
	Y float64
}

// moveFrame is the wire form of a Move.
type moveFrame struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GameOver is the terminal notice sent to an eliminated player.
type GameOver struct {
	Type string `json:"type"`
}

var gameOverFrame = mustMarshal(GameOver{Type: MsgGameOver})

// DecodeMove parses an inbound frame. Keys are matched exactly, so only
// lower-case "x" and "y" count. Extra fields are tolerated; a missing or
// non-numeric x or y is not.
func DecodeMove(b []byte) (Move, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return Move{}, ErrMalformedMove
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return Move{}, errors.Wrap(ErrMalformedMove, err.Error())
	}
	x, err := coordinate(fields, "x")
	if err != nil {
		return Move{}, err
	}
	y, err := coordinate(fields, "y")
	if err != nil {
		return Move{}, err
	}
	return Move{X: x, Y: y}, nil
}

func coordinate(fields map[string]json.RawMessage, key string) (float64, error) {
	raw, ok := fields[key]
	if !ok {
		return 0, errors.Wrapf(ErrMalformedMove, "missing %s", key)
	}
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, errors.Wrapf(ErrMalformedMove, "%s is not a number", key)
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, errors.Wrapf(ErrMalformedMove, "%s: %v", key, err)
	}
	return v, nil
}

// EncodeMove is the client-side encoding of a Move.
func EncodeMove(m Move) ([]byte, error) {
	return json.Marshal(moveFrame{X: m.X, Y: m.Y})
}

// EncodeSnapshot serializes a world snapshot as a broadcast frame.
func EncodeSnapshot(s world.Snapshot) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "encode snapshot")
	}
	return b, nil
}

// DecodeSnapshot parses a broadcast frame.
func DecodeSnapshot(b []byte) (world.Snapshot, error) {
	var s world.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return world.Snapshot{}, errors.Wrap(err, "decode snapshot")
	}
	return s, nil
}

// GameOverFrame returns the encoded terminal frame. Callers must not modify
// the returned slice.
func GameOverFrame() []byte {
	return gameOverFrame
}

// IsGameOver reports whether b is a terminal frame.
func IsGameOver(b []byte) bool {
	var g GameOver
	if err := json.Unmarshal(b, &g); err != nil {
		return false
	}
	return g.Type == MsgGameOver
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
