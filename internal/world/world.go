// Package world holds the authoritative arena state: players, food pellets and
// the rules that mutate them. It does no I/O and takes no locks; the caller
// (the simulation loop) must be its only user.
package world

import (
	"fmt"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/rand"
	"golang.org/x/exp/slices"
)

// Player is a live blob controlled by one connection.
type Player struct {
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Size  float64 `json:"size"`
	Color string  `json:"color"`
}

// Food is a pellet that grows whoever touches it.
type Food struct {
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color"`
}

// Snapshot is a detached copy of the world at one instant.
type Snapshot struct {
	Players map[string]Player `json:"players"`
	Food    map[string]Food   `json:"food"`
}

// World is the arena. Players and Food are exported so the owner can inspect
// and seed state directly; all rule-driven changes go through the methods.
type World struct {
	Width, Height float64
	Players       map[string]*Player
	Food          map[string]*Food

	rng *rand.Rand
}

// New returns a world of the standard size, already stocked with food.
func New() *World {
	return NewWithRand(rand.New(rand.NewSource(uint64(time.Now().UnixNano()))))
}

// NewWithRand is New with a caller-supplied random source, used for
// reproducible runs.
func NewWithRand(rng *rand.Rand) *World {
	w := &World{
		Width:   Width,
		Height:  Height,
		Players: make(map[string]*Player),
		Food:    make(map[string]*Food),
		rng:     rng,
	}
	w.SpawnFood()
	return w
}

// Snapshot copies the current players and food.
func (w *World) Snapshot() Snapshot {
	s := Snapshot{
		Players: make(map[string]Player, len(w.Players)),
		Food:    make(map[string]Food, len(w.Food)),
	}
	for id, p := range w.Players {
		s.Players[id] = *p
	}
	for id, f := range w.Food {
		s.Food[id] = *f
	}
	return s
}

// PlayerIDs returns the ids of all live players in ascending order.
func (w *World) PlayerIDs() []string {
	ids := maps.Keys(w.Players)
	slices.Sort(ids)
	return ids
}

func (w *World) randomColor() string {
	return fmt.Sprintf("#%02x%02x%02x", w.rng.Intn(256), w.rng.Intn(256), w.rng.Intn(256))
}

// uniform in [lo, hi)
func (w *World) randomRange(lo, hi float64) float64 {
	return lo + w.rng.Float64()*(hi-lo)
}
