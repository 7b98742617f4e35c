package game

import (
	"time"

	"claimstakes/pkg/types"
)

// TickReport is what one tick of one stake produced besides the new state.
type TickReport struct {
	StakeID  string             `json:"stakeId"`
	Delta    float64            `json:"deltaSeconds"`
	Applied  map[string]float64 `json:"applied"`
	Clawback float64            `json:"clawback"`
	Summary  types.FlowSummary  `json:"summary"`
	Events   []Event            `json:"events,omitempty"`
	Advanced bool               `json:"advanced"`
}

// Tick advances a finalized stake to now. The slice is the time since the
// stake's last update, capped at MaxDeltaSeconds. Designs, dangling planets
// and non-positive slices come back unchanged.
func Tick(stake types.ClaimStake, catalog *Catalog, now time.Time) (types.ClaimStake, TickReport) {
	if !stake.IsFinalized {
		return stake, TickReport{StakeID: stake.ID}
	}
	dt := now.Sub(stake.LastUpdate).Seconds()
	if dt > MaxDeltaSeconds {
		dt = MaxDeltaSeconds
	}
	return Advance(stake, catalog, dt, now)
}

// Advance runs resolve, evaluate and commit for an explicit slice of dt
// seconds. The input stake is never modified.
func Advance(stake types.ClaimStake, catalog *Catalog, dt float64, now time.Time) (types.ClaimStake, TickReport) {
	report := TickReport{StakeID: stake.ID, Delta: dt, Clawback: 1}
	if dt <= 0 {
		return stake, report
	}
	planet, ok := catalog.Planet(stake.PlanetID)
	if !ok {
		return stake, report
	}

	out := stake.Clone()
	s := surveyStake(out, catalog)
	verdict := Evaluate(s.power, out.Resources, out.MaxStorage, s.needsFuel, s.yields)

	next, running := proposeStates(out.Buildings, s, verdict, out.Resources, dt, now)
	flow := resolveFlows(s, running, out.Resources, planet, catalog, dt)
	settleInputs(next, running, flow.missing, now)

	report.Events = transitions(stake, next, now)
	report.Clawback = commit(&out, flow.deltas, next, now)
	if report.Clawback < 1 {
		report.Events = append(report.Events, Event{
			At: now, Type: EventStorageCapped, StakeID: stake.ID, Factor: report.Clawback,
		})
	}

	report.Applied = flow.deltas
	report.Summary = summarize(out, s, verdict, flow)
	report.Advanced = true
	return out, report
}

// Summarize reports what a stake would do over one second without
// advancing it. Display only.
func Summarize(stake types.ClaimStake, catalog *Catalog) types.FlowSummary {
	planet, ok := catalog.Planet(stake.PlanetID)
	if !ok {
		return types.FlowSummary{StakeID: stake.ID, Resources: map[string]types.ResourceFlow{}}
	}
	s := surveyStake(stake, catalog)
	verdict := Evaluate(s.power, stake.Resources, stake.MaxStorage, s.needsFuel, s.yields)
	running := make([]bool, len(stake.Buildings))
	for i, pb := range stake.Buildings {
		running[i] = pb.IsActive && s.buildings[i].def != nil && !verdict.Stopped()
	}
	flow := resolveFlows(s, running, stake.Resources, planet, catalog, 1)
	return summarize(stake, s, verdict, flow)
}

func summarize(stake types.ClaimStake, s survey, v Verdict, flow flowResult) types.FlowSummary {
	sum := types.FlowSummary{
		StakeID:      stake.ID,
		Resources:    flow.flows,
		PowerBalance: s.power,
		NeedsFuel:    s.needsFuel,
		Utilization:  Utilization(stake.Resources, stake.MaxStorage),
		StopReasons:  v.Reasons,
	}
	for _, pb := range stake.Buildings {
		if pb.IsActive {
			sum.ActiveBuildings++
		} else {
			sum.IdleBuildings++
		}
	}
	return sum
}

func transitions(before types.ClaimStake, next []types.PlacedBuilding, now time.Time) []Event {
	var events []Event
	for i, pb := range before.Buildings {
		after := next[i]
		switch {
		case pb.IsActive && !after.IsActive:
			events = append(events, Event{
				At: now, Type: EventBuildingStopped, StakeID: before.ID,
				PlacementID: pb.ID, BuildingID: pb.BuildingID, Reason: after.StopReason,
			})
		case !pb.IsActive && after.IsActive:
			events = append(events, Event{
				At: now, Type: EventBuildingRestarted, StakeID: before.ID,
				PlacementID: pb.ID, BuildingID: pb.BuildingID,
			})
		}
	}
	return events
}
