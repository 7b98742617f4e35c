package game

import (
	"time"

	"claimstakes/pkg/types"
)

// --- Constraint Evaluator ---

// Verdict is the instance-level outcome of a constraint check.
type Verdict struct {
	PowerBalance float64
	Fuel         float64
	NeedsFuel    bool
	Yields       bool
	Utilization  float64

	// Every stop condition that holds, in priority order. Empty when the
	// stake may run.
	Reasons []string
}

func (v Verdict) Stopped() bool { return len(v.Reasons) > 0 }

// Reason is the stop reason stamped onto buildings.
func (v Verdict) Reason() string {
	if len(v.Reasons) == 0 {
		return ""
	}
	return v.Reasons[0]
}

// CanRestart applies the restart buffers: a stake that stopped at a
// threshold must clear it by a margin before idle buildings start again.
func (v Verdict) CanRestart() bool {
	if v.PowerBalance < 0 {
		return false
	}
	if v.NeedsFuel && v.Fuel <= RestartFuelThreshold {
		return false
	}
	// Like the storage stop, the storage buffer only binds a stake that
	// can fill itself.
	return !v.Yields || v.Utilization < RestartStorageRatio
}

// Evaluate checks the stop conditions independently of each other.
func Evaluate(power float64, stock map[string]float64, maxStorage float64, needsFuel, yields bool) Verdict {
	v := Verdict{
		PowerBalance: power,
		Fuel:         stock[FuelResource],
		NeedsFuel:    needsFuel,
		Yields:       yields,
		Utilization:  Utilization(stock, maxStorage),
	}
	if power < 0 {
		v.Reasons = append(v.Reasons, ReasonNoPower)
	}
	if needsFuel && v.Fuel <= 0 {
		v.Reasons = append(v.Reasons, ReasonNoFuel)
	}
	if v.Utilization >= StorageFullRatio && yields {
		v.Reasons = append(v.Reasons, ReasonStorageFull)
	}
	return v
}

// proposeStates decides which buildings run this slice. It never writes to
// current; the returned slice replaces it wholesale once the tick commits.
func proposeStates(current []types.PlacedBuilding, s survey, v Verdict, stock map[string]float64, dt float64, now time.Time) ([]types.PlacedBuilding, []bool) {
	next := make([]types.PlacedBuilding, len(current))
	running := make([]bool, len(current))

	for i, pb := range current {
		next[i] = pb
		b := s.buildings[i]
		if b.def == nil {
			continue
		}

		switch {
		case v.Stopped():
			if pb.IsActive {
				stop(&next[i], v.Reason(), now)
			} else if pb.StopReason == "" {
				next[i].StopReason = v.Reason()
			}

		case pb.IsActive:
			running[i] = true

		default:
			// Idle buildings need the full restart margin and their own
			// inputs; otherwise they keep the reason they stopped with.
			if !v.CanRestart() {
				continue
			}
			if ok, _ := b.rates.Affordable(stock, dt); !ok {
				continue
			}
			next[i].IsActive = true
			next[i].InactiveSince = nil
			next[i].StopReason = ""
			running[i] = true
		}
	}
	return next, running
}

// settleInputs applies the per-building input check from flow resolution:
// a running building with a short input stops at once, one that was paid
// for drops any stale stop reason.
func settleInputs(next []types.PlacedBuilding, running []bool, missing map[int]string, now time.Time) {
	for i := range next {
		if !running[i] {
			continue
		}
		if res, short := missing[i]; short {
			stop(&next[i], MissingReason(res), now)
			continue
		}
		next[i].StopReason = ""
		next[i].InactiveSince = nil
	}
}

func stop(pb *types.PlacedBuilding, reason string, now time.Time) {
	ts := now
	pb.IsActive = false
	pb.InactiveSince = &ts
	pb.StopReason = reason
}
