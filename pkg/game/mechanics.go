package game

import (
	"sort"

	"claimstakes/pkg/types"
)

// --- Tuning (fixed behaviour, not configuration) ---

const (
	FuelResource = "fuel"

	// A stopped building only restarts once fuel stock exceeds this buffer.
	RestartFuelThreshold = 5.0
	// ...and storage utilization has dropped below this ratio.
	RestartStorageRatio = 0.90
	// Utilization at or above this ratio stops producing stakes.
	StorageFullRatio = 1.0

	// Longest slice a single tick may simulate, in seconds.
	MaxDeltaSeconds = 1.0

	// Float dust left after subtracting consumption.
	epsilon = 1e-9
)

const (
	ReasonNoPower     = "Insufficient power"
	ReasonNoFuel      = "No fuel available"
	ReasonStorageFull = "Storage full (100%)"
	reasonMissing     = "Missing "
)

func MissingReason(resource string) string {
	return reasonMissing + resource
}

// --- Rate resolution ---

// RateProfile is a building's per-second rates after the resourceRate /
// legacy precedence has been applied. All values are positive magnitudes.
type RateProfile struct {
	Consumes map[string]float64
	Produces map[string]float64
	Extracts map[string]float64
	Signed   bool
}

// ResolveRates picks exactly one rate source for a building. A non-empty
// resourceRate wins outright and every legacy field is ignored, even when
// populated; there is no merge.
func ResolveRates(b types.Building) RateProfile {
	p := RateProfile{
		Consumes: map[string]float64{},
		Produces: map[string]float64{},
		Extracts: map[string]float64{},
	}

	if len(b.ResourceRate) > 0 {
		p.Signed = true
		for res, rate := range b.ResourceRate {
			switch {
			case rate < 0:
				p.Consumes[res] = -rate
			case rate > 0:
				p.Produces[res] = rate
			}
		}
		return p
	}

	for res, rate := range b.ResourceUsage {
		if rate > 0 {
			p.Consumes[res] = rate
		}
	}
	for res, rate := range b.ResourceProduction {
		if rate > 0 {
			p.Produces[res] = rate
		}
	}
	for res, rate := range b.ExtractionRate {
		if rate > 0 {
			p.Extracts[res] = rate
		}
	}
	// resourceExtractionRate is an older spelling; extractionRate wins per resource.
	for res, rate := range b.ResourceExtractionRate {
		if _, ok := p.Extracts[res]; !ok && rate > 0 {
			p.Extracts[res] = rate
		}
	}
	return p
}

// ShadowsLegacyRates reports a definition whose legacy rate maps are dead
// because resourceRate is also set.
func ShadowsLegacyRates(b types.Building) bool {
	if len(b.ResourceRate) == 0 {
		return false
	}
	return len(b.ResourceUsage) > 0 || len(b.ResourceProduction) > 0 ||
		len(b.ExtractionRate) > 0 || len(b.ResourceExtractionRate) > 0
}

func (p RateProfile) NeedsFuel() bool {
	return p.Consumes[FuelResource] > 0
}

func (p RateProfile) Yields() bool {
	return len(p.Produces) > 0 || len(p.Extracts) > 0
}

// Affordable reports whether every consumed resource can be paid from stock
// for a slice of dt seconds. The first short resource (sorted) is returned.
func (p RateProfile) Affordable(stock map[string]float64, dt float64) (bool, string) {
	for _, res := range sortedKeys(p.Consumes) {
		if stock[res]+epsilon < p.Consumes[res]*dt {
			return false, res
		}
	}
	return true, ""
}

// --- Planet richness ---

// Richness scales extraction only. Archetype table first, then the planet's
// legacy table, else 1.0.
func (c *Catalog) Richness(planet types.Planet, resource string) float64 {
	if a, ok := c.Archetypes[planet.Archetype]; ok {
		if r, ok := a.Richness[resource]; ok {
			return r
		}
	}
	if r, ok := planet.ResourceRichness[resource]; ok {
		return r
	}
	return 1.0
}

// --- Helpers ---

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func totalStock(resources map[string]float64) float64 {
	total := 0.0
	for _, v := range resources {
		total += v
	}
	return total
}

// Utilization is stored total over capacity. A stake with no capacity and
// anything in it counts as full.
func Utilization(resources map[string]float64, maxStorage float64) float64 {
	total := totalStock(resources)
	if maxStorage <= 0 {
		if total > 0 {
			return StorageFullRatio
		}
		return 0
	}
	return total / maxStorage
}
