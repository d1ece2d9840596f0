// Package server defines shared message types and utility helpers that are
// reused across session and hub logic.
package server

import (
	"strings"

	"github.com/Tyrowin/blobarena/internal/protocol"
)

// Intent is a movement request from one player, queued for the next tick.
type Intent struct {
	PlayerID string
	Move     protocol.Move
}

// LeaderboardEntry is one row of the stats leaderboard.
type LeaderboardEntry struct {
	ID    string  `json:"id"`
	Size  float64 `json:"size"`
	Color string  `json:"color"`
}

// Stats is a consistent view of the arena taken on the hub goroutine.
type Stats struct {
	Tick        uint64             `json:"tick"`
	Players     int                `json:"players"`
	Sessions    int                `json:"sessions"`
	Food        int                `json:"food"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
