package world

// Gameplay constants. These are part of the observable contract with clients.
const (
	Width        = 3000.0
	Height       = 3000.0
	MaxFoodCount = 100

	PlayerStartSize = 20.0
	SpawnMargin     = 100.0
	FoodValue       = 1.0

	// A player moves at most BaseStep / (1 + size/SizeScale) per tick.
	BaseStep  = 5.0
	SizeScale = 100.0

	// The larger player must exceed the smaller by this fraction of the
	// smaller's size to eat it.
	CombatThreshold = 0.2
	// Fraction of the eaten player's size the eater gains.
	KillGrowth = 0.5
)

// MaxStep returns how far a player of the given size may travel in one tick.
func MaxStep(size float64) float64 {
	return BaseStep / (1 + size/SizeScale)
}
