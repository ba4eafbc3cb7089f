package service

import (
	"math/rand"

	"github.com/velvetapps/StarMarket/internal/models"
)

// PickAttribute draws one attribute with probability proportional to 1/rarity.
// Rows flagged with a higher rarity number are proportionally less likely.
// Rows with a non-positive rarity are treated as rarity 1.
func PickAttribute(rng *rand.Rand, attrs []models.Attribute) models.Attribute {
	if len(attrs) == 1 {
		return attrs[0]
	}

	total := 0.0
	for _, a := range attrs {
		total += inverseRarity(a.Rarity)
	}

	target := rng.Float64() * total
	acc := 0.0
	for _, a := range attrs {
		acc += inverseRarity(a.Rarity)
		if target < acc {
			return a
		}
	}
	// Float accumulation can land exactly on total; fall back to the last row.
	return attrs[len(attrs)-1]
}

func inverseRarity(rarity int) float64 {
	if rarity < 1 {
		rarity = 1
	}
	return 1.0 / float64(rarity)
}
