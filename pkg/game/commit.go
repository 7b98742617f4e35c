package game

import (
	"time"

	"claimstakes/pkg/types"
)

// --- State Committer ---

// commit merges deltas into the store, enforces the storage cap and swaps
// in the proposed building states. It returns the clawback factor applied
// (1 when nothing was clawed back).
//
// Overflow is not trimmed from the new output. Every stored resource is
// scaled by maxStorage/total so the cap holds exactly after the tick.
func commit(stake *types.ClaimStake, deltas map[string]float64, next []types.PlacedBuilding, now time.Time) float64 {
	resources := make(map[string]float64, len(stake.Resources)+len(deltas))
	for k, v := range stake.Resources {
		resources[k] = v
	}
	for k, d := range deltas {
		resources[k] += d
		if resources[k] < epsilon {
			resources[k] = 0
		}
	}

	factor := 1.0
	total := totalStock(resources)
	if total > stake.MaxStorage {
		if stake.MaxStorage > 0 {
			factor = stake.MaxStorage / total
		} else {
			factor = 0
		}
		for k := range resources {
			resources[k] *= factor
		}
		total = totalStock(resources)
	}

	stake.Resources = resources
	stake.CurrentStorage = total
	stake.Buildings = next
	stake.LastUpdate = now
	return factor
}
