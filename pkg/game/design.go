package game

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"claimstakes/pkg/types"
)

var (
	ErrFinalized        = errors.New("claim stake is finalized")
	ErrUnknownBuilding  = errors.New("unknown building")
	ErrUnknownPlanet    = errors.New("unknown planet")
	ErrUnknownTier      = errors.New("unknown tier")
	ErrUnknownPlacement = errors.New("unknown placement")
	ErrFamilyPlaced     = errors.New("upgrade family already placed")
	ErrNoSlots          = errors.New("not enough free slots")
	ErrMissingTags      = errors.New("required tags missing")
	ErrTagInUse         = errors.New("building provides tags other buildings require")
	ErrPermanent        = errors.New("building comes with the stake")
	ErrStorageFull      = errors.New("not enough free storage")
	ErrBadAmount        = errors.New("amount must be positive")
)

// NewClaimStake lays out a design on a planet: tier limits plus every
// building that ships with a stake.
func NewClaimStake(catalog *Catalog, planetID string, tier int, name string, now time.Time) (types.ClaimStake, error) {
	planet, ok := catalog.Planet(planetID)
	if !ok {
		return types.ClaimStake{}, fmt.Errorf("%w: %s", ErrUnknownPlanet, planetID)
	}
	t, ok := catalog.Tier(tier)
	if !ok {
		return types.ClaimStake{}, fmt.Errorf("%w: %d", ErrUnknownTier, tier)
	}
	if missing := missingTags(t.RequiredTags, planetTags(planet)); len(missing) > 0 {
		return types.ClaimStake{}, fmt.Errorf("%w: tier %d on %s needs %v", ErrMissingTags, tier, planetID, missing)
	}
	if name == "" {
		name = fmt.Sprintf("%s T%d", planet.Name, tier)
	}

	stake := types.ClaimStake{
		ID:         uuid.NewString(),
		Name:       name,
		PlanetID:   planetID,
		Tier:       tier,
		Resources:  map[string]float64{},
		MaxStorage: t.MaxStorage,
		MaxSlots:   t.Slots,
		LastUpdate: now,
		CreatedAt:  now,
	}

	for _, id := range catalog.BuildingIDs() {
		if b := catalog.Buildings[id]; b.ComesWithStake {
			stake.Buildings = append(stake.Buildings, place(b.ID))
		}
	}
	if t.DefaultBuilding != "" {
		def := catalog.Buildings[t.DefaultBuilding]
		if familyIndex(catalog, stake, def.UpgradeFamily) < 0 {
			stake.Buildings = append(stake.Buildings, place(def.ID))
		}
	}
	return stake, nil
}

// AddBuilding places a building into a design. At most one building per
// upgrade family; placing a different tier of a placed family is an error,
// use UpgradeBuilding.
func AddBuilding(catalog *Catalog, stake types.ClaimStake, buildingID string) (types.ClaimStake, types.PlacedBuilding, error) {
	if stake.IsFinalized {
		return stake, types.PlacedBuilding{}, ErrFinalized
	}
	def, ok := catalog.Building(buildingID)
	if !ok {
		return stake, types.PlacedBuilding{}, fmt.Errorf("%w: %s", ErrUnknownBuilding, buildingID)
	}
	if familyIndex(catalog, stake, def.UpgradeFamily) >= 0 {
		return stake, types.PlacedBuilding{}, fmt.Errorf("%w: %s", ErrFamilyPlaced, def.UpgradeFamily)
	}
	if used := UsedSlots(catalog, stake); used+def.Slots > stake.MaxSlots {
		return stake, types.PlacedBuilding{}, fmt.Errorf("%w: %d used, %d needed, %d max", ErrNoSlots, used, def.Slots, stake.MaxSlots)
	}
	if missing := missingTags(def.RequiredTags, StakeTags(catalog, stake)); len(missing) > 0 {
		return stake, types.PlacedBuilding{}, fmt.Errorf("%w: %s needs %v", ErrMissingTags, buildingID, missing)
	}

	out := stake.Clone()
	pb := place(def.ID)
	out.Buildings = append(out.Buildings, pb)
	return out, pb, nil
}

// UpgradeBuilding swaps a placed building for another member of its
// upgrade family, keeping the placement id.
func UpgradeBuilding(catalog *Catalog, stake types.ClaimStake, placementID, buildingID string) (types.ClaimStake, error) {
	if stake.IsFinalized {
		return stake, ErrFinalized
	}
	idx := placementIndex(stake, placementID)
	if idx < 0 {
		return stake, fmt.Errorf("%w: %s", ErrUnknownPlacement, placementID)
	}
	def, ok := catalog.Building(buildingID)
	if !ok {
		return stake, fmt.Errorf("%w: %s", ErrUnknownBuilding, buildingID)
	}
	old, ok := catalog.Building(stake.Buildings[idx].BuildingID)
	if !ok || old.UpgradeFamily != def.UpgradeFamily {
		return stake, fmt.Errorf("%w: %s is not in family %s", ErrUnknownBuilding, buildingID, old.UpgradeFamily)
	}
	if used := UsedSlots(catalog, stake) - old.Slots; used+def.Slots > stake.MaxSlots {
		return stake, fmt.Errorf("%w: %d used, %d needed, %d max", ErrNoSlots, used, def.Slots, stake.MaxSlots)
	}

	out := stake.Clone()
	out.Buildings[idx].BuildingID = def.ID
	return out, nil
}

// RemoveBuilding drops a placement from a design.
func RemoveBuilding(catalog *Catalog, stake types.ClaimStake, placementID string) (types.ClaimStake, error) {
	if stake.IsFinalized {
		return stake, ErrFinalized
	}
	idx := placementIndex(stake, placementID)
	if idx < 0 {
		return stake, fmt.Errorf("%w: %s", ErrUnknownPlacement, placementID)
	}
	if def, ok := catalog.Building(stake.Buildings[idx].BuildingID); ok && def.ComesWithStake {
		return stake, fmt.Errorf("%w: %s", ErrPermanent, def.ID)
	}

	out := stake.Clone()
	out.Buildings = append(out.Buildings[:idx], out.Buildings[idx+1:]...)

	// Removing a tag provider must not strand a building that needs it.
	have := StakeTags(catalog, out)
	for _, pb := range out.Buildings {
		def, ok := catalog.Building(pb.BuildingID)
		if !ok {
			continue
		}
		if missing := missingTags(def.RequiredTags, have); len(missing) > 0 {
			return stake, fmt.Errorf("%w: %s needs %v", ErrTagInUse, def.ID, missing)
		}
	}
	return out, nil
}

// Finalize turns a design into a running stake. From here on the tick
// engine owns its resource store and building states.
func Finalize(stake types.ClaimStake, now time.Time) (types.ClaimStake, error) {
	if stake.IsFinalized {
		return stake, ErrFinalized
	}
	out := stake.Clone()
	out.IsFinalized = true
	out.LastUpdate = now
	for i := range out.Buildings {
		out.Buildings[i].IsActive = true
		out.Buildings[i].InactiveSince = nil
		out.Buildings[i].StopReason = ""
	}
	out.CurrentStorage = totalStock(out.Resources)
	return out, nil
}

// Deposit adds resources to a stake. The total must fit in storage.
func Deposit(stake types.ClaimStake, amounts map[string]float64) (types.ClaimStake, error) {
	add := 0.0
	for res, v := range amounts {
		if v <= 0 || res == "" {
			return stake, fmt.Errorf("%w: %s=%v", ErrBadAmount, res, v)
		}
		add += v
	}
	if totalStock(stake.Resources)+add > stake.MaxStorage+epsilon {
		return stake, fmt.Errorf("%w: %.2f free, %.2f requested", ErrStorageFull, stake.MaxStorage-totalStock(stake.Resources), add)
	}
	out := stake.Clone()
	for res, v := range amounts {
		out.Resources[res] += v
	}
	out.CurrentStorage = totalStock(out.Resources)
	return out, nil
}

// ConstructionCost totals the construction cost of every placed building.
func ConstructionCost(catalog *Catalog, stake types.ClaimStake) map[string]float64 {
	cost := map[string]float64{}
	for _, pb := range stake.Buildings {
		def, ok := catalog.Building(pb.BuildingID)
		if !ok {
			continue
		}
		for res, v := range def.ConstructionCost {
			cost[res] += v
		}
	}
	return cost
}

func UsedSlots(catalog *Catalog, stake types.ClaimStake) int {
	used := 0
	for _, pb := range stake.Buildings {
		if def, ok := catalog.Building(pb.BuildingID); ok {
			used += def.Slots
		}
	}
	return used
}

// StakeTags are the tags available to placements: the planet's raw
// resources, its archetype, and whatever placed buildings provide.
func StakeTags(catalog *Catalog, stake types.ClaimStake) map[string]bool {
	tags := map[string]bool{}
	if planet, ok := catalog.Planet(stake.PlanetID); ok {
		tags = planetTags(planet)
	}
	for _, pb := range stake.Buildings {
		if def, ok := catalog.Building(pb.BuildingID); ok {
			for _, t := range def.ProvidedTags {
				tags[t] = true
			}
		}
	}
	return tags
}

func planetTags(p types.Planet) map[string]bool {
	tags := map[string]bool{}
	for _, r := range p.Resources {
		tags[r] = true
	}
	if p.Archetype != "" {
		tags[p.Archetype] = true
	}
	return tags
}

func missingTags(required []string, have map[string]bool) []string {
	var missing []string
	for _, t := range required {
		if !have[t] {
			missing = append(missing, t)
		}
	}
	sort.Strings(missing)
	return missing
}

func familyIndex(catalog *Catalog, stake types.ClaimStake, family string) int {
	for i, pb := range stake.Buildings {
		if def, ok := catalog.Building(pb.BuildingID); ok && def.UpgradeFamily == family {
			return i
		}
	}
	return -1
}

func placementIndex(stake types.ClaimStake, placementID string) int {
	for i, pb := range stake.Buildings {
		if pb.ID == placementID {
			return i
		}
	}
	return -1
}

func place(buildingID string) types.PlacedBuilding {
	return types.PlacedBuilding{ID: uuid.NewString(), BuildingID: buildingID, IsActive: true}
}
