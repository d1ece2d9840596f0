package world

import "github.com/google/uuid"

// SpawnFood tops the pellet count back up to MaxFoodCount. It returns how
// many pellets were created; zero when already at target.
func (w *World) SpawnFood() int {
	spawned := 0
	for len(w.Food) < MaxFoodCount {
		f := &Food{
			ID:    uuid.NewString(),
			X:     w.randomRange(0, w.Width),
			Y:     w.randomRange(0, w.Height),
			Color: w.randomColor(),
		}
		w.Food[f.ID] = f
		spawned++
	}
	return spawned
}

// eatFood removes every pellet strictly within reach of p and grows p by
// FoodValue per pellet. Reach is p's size before this call.
func (w *World) eatFood(p *Player) int {
	reach := p.Size * p.Size
	eaten := 0
	for id, f := range w.Food {
		dx := p.X - f.X
		dy := p.Y - f.Y
		if dx*dx+dy*dy < reach {
			delete(w.Food, id)
			eaten++
		}
	}
	p.Size += float64(eaten) * FoodValue
	return eaten
}
