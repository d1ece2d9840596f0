package world

import "sort"

// Kill records one player eating another during a combat pass.
type Kill struct {
	EaterID string
	EatenID string
}

// ResolveCombat finds every pair of players where one may eat the other and
// applies the outcome.
//
// Pairs are discovered against a copy of positions and sizes taken before
// any kill is applied, visiting players in ascending id order. Kills are then
// applied sorted by eater id, then eaten id: a still-live eater grows by
// KillGrowth of the eaten player's current size, and the eaten player is
// removed whether or not its eater was itself eaten earlier in the pass. An
// eaten player that is already gone contributes no growth.
func (w *World) ResolveCombat() []Kill {
	ids := w.PlayerIDs()
	before := make([]Player, len(ids))
	for i, id := range ids {
		before[i] = *w.Players[id]
	}

	var kills []Kill
	for i := 0; i < len(before); i++ {
		for j := i + 1; j < len(before); j++ {
			if eater, eaten, ok := canEat(&before[i], &before[j]); ok {
				kills = append(kills, Kill{EaterID: eater.ID, EatenID: eaten.ID})
			}
		}
	}
	sort.Slice(kills, func(a, b int) bool {
		if kills[a].EaterID != kills[b].EaterID {
			return kills[a].EaterID < kills[b].EaterID
		}
		return kills[a].EatenID < kills[b].EatenID
	})

	for _, k := range kills {
		eaten, eatenLive := w.Players[k.EatenID]
		if eater, ok := w.Players[k.EaterID]; ok && eatenLive {
			eater.Size += eaten.Size * KillGrowth
			w.clamp(eater)
		}
		delete(w.Players, k.EatenID)
	}
	return kills
}

// canEat decides which of a and b, if either, eats the other.
func canEat(a, b *Player) (eater, eaten *Player, ok bool) {
	big, small := a, b
	if b.Size > a.Size {
		big, small = b, a
	}
	if big.Size-small.Size <= small.Size*CombatThreshold {
		return nil, nil, false
	}
	dx := big.X - small.X
	dy := big.Y - small.Y
	if dx*dx+dy*dy >= big.Size*big.Size {
		return nil, nil, false
	}
	return big, small, true
}
