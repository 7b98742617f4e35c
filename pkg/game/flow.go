package game

import (
	"claimstakes/pkg/types"
)

// --- Flow Resolver ---

// installed is a placed building joined with its definition.
// def is nil for a dangling building id; such entries are carried through
// the tick untouched.
type installed struct {
	def   *types.Building
	rates RateProfile
}

// survey is the part of flow resolution that does not depend on which
// buildings end up running: installed power, fuel demand, whether anything
// can yield output.
type survey struct {
	buildings []installed
	power     float64
	needsFuel bool
	yields    bool
}

func surveyStake(stake types.ClaimStake, catalog *Catalog) survey {
	s := survey{buildings: make([]installed, len(stake.Buildings))}
	for i, pb := range stake.Buildings {
		def, ok := catalog.Building(pb.BuildingID)
		if !ok {
			continue
		}
		rates := ResolveRates(def)
		s.buildings[i] = installed{def: &def, rates: rates}

		// Installed capacity, active or not.
		s.power += def.Power
		if rates.NeedsFuel() {
			s.needsFuel = true
		}
		if rates.Yields() {
			s.yields = true
		}
	}
	return s
}

// flowResult is the proposed change for one slice.
type flowResult struct {
	deltas  map[string]float64
	flows   map[string]types.ResourceFlow
	missing map[int]string // building index -> first short input
}

// resolveFlows computes deltas for every building marked running. Inputs
// are checked against the opening stock minus what earlier buildings in
// the same slice already consumed; output from this slice is not spendable
// until the next one.
func resolveFlows(s survey, running []bool, stock map[string]float64, planet types.Planet, catalog *Catalog, dt float64) flowResult {
	r := flowResult{
		deltas:  map[string]float64{},
		flows:   map[string]types.ResourceFlow{},
		missing: map[int]string{},
	}

	available := make(map[string]float64, len(stock))
	for k, v := range stock {
		available[k] = v
	}

	for i, b := range s.buildings {
		if b.def == nil {
			continue
		}

		// Extraction has no input cost. Potential is recorded for every
		// installed extractor so idle ones still show what they would yield.
		for _, res := range sortedKeys(b.rates.Extracts) {
			amount := b.rates.Extracts[res] * catalog.Richness(planet, res) * dt
			f := r.flows[res]
			f.PotentialExtraction += amount
			if running[i] {
				f.Extraction += amount
				r.deltas[res] += amount
			}
			r.flows[res] = f
		}

		if !running[i] {
			continue
		}

		// Intended rates are always shown, paid or not.
		for res, rate := range b.rates.Consumes {
			f := r.flows[res]
			f.Consumption += rate * dt
			r.flows[res] = f
		}
		for res, rate := range b.rates.Produces {
			f := r.flows[res]
			f.Production += rate * dt
			r.flows[res] = f
		}

		ok, short := b.rates.Affordable(available, dt)
		if !ok {
			r.missing[i] = short
			continue
		}
		for res, rate := range b.rates.Consumes {
			amount := rate * dt
			available[res] -= amount
			r.deltas[res] -= amount
		}
		for res, rate := range b.rates.Produces {
			r.deltas[res] += rate * dt
		}
	}

	for res, f := range r.flows {
		f.Net = r.deltas[res]
		r.flows[res] = f
	}
	return r
}
