package world

import (
	"math"

	"github.com/pkg/errors"
)

// ErrPlayerExists is returned by AdmitPlayer for an id that is already live.
var ErrPlayerExists = errors.New("player already exists")

// AdmitPlayer places a new player of starting size at a random spot away
// from the edges.
func (w *World) AdmitPlayer(id string) (*Player, error) {
	if _, ok := w.Players[id]; ok {
		return nil, errors.Wrapf(ErrPlayerExists, "admit %s", id)
	}
	p := &Player{
		ID:    id,
		X:     w.randomRange(SpawnMargin, w.Width-SpawnMargin),
		Y:     w.randomRange(SpawnMargin, w.Height-SpawnMargin),
		Size:  PlayerStartSize,
		Color: w.randomColor(),
	}
	w.Players[id] = p
	return p, nil
}

// RemovePlayer deletes the player and reports whether it was present.
func (w *World) RemovePlayer(id string) bool {
	if _, ok := w.Players[id]; !ok {
		return false
	}
	delete(w.Players, id)
	return true
}

// ApplyMovementIntent steps the player toward (tx, ty), keeps it inside the
// arena, lets it eat any pellets it now covers and refills the food supply.
// It returns false when the player does not exist.
func (w *World) ApplyMovementIntent(id string, tx, ty float64) bool {
	p, ok := w.Players[id]
	if !ok {
		return false
	}
	if math.IsNaN(tx) || math.IsNaN(ty) || math.IsInf(tx, 0) || math.IsInf(ty, 0) {
		return true
	}

	dx := tx - p.X
	dy := ty - p.Y
	if dist := math.Hypot(dx, dy); dist > 0 {
		step := MaxStep(p.Size)
		if dist > step {
			dx *= step / dist
			dy *= step / dist
		}
		p.X += dx
		p.Y += dy
	}
	w.clamp(p)

	if w.eatFood(p) > 0 {
		w.clamp(p)
		w.SpawnFood()
	}
	return true
}

func (w *World) clamp(p *Player) {
	p.X = clampAxis(p.X, p.Size, w.Width)
	p.Y = clampAxis(p.Y, p.Size, w.Height)
}

// A player wider than the arena is pinned to its center line.
func clampAxis(v, size, extent float64) float64 {
	lo, hi := size, extent-size
	if lo > hi {
		return extent / 2
	}
	return math.Max(lo, math.Min(hi, v))
}
