package types

import "time"

// --- Catalog (read-only, loaded once) ---

type Building struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Tier     int     `json:"tier"`
	Category string  `json:"category"`
	Slots    int     `json:"slots"`
	Power    float64 `json:"power"` // MW, negative = draws
	Crew     int     `json:"crew"`

	// Signed net rate per second. Negative consumes, positive produces.
	ResourceRate map[string]float64 `json:"resourceRate,omitempty"`

	// Legacy unsigned rates, only read when ResourceRate is empty.
	ResourceUsage          map[string]float64 `json:"resourceUsage,omitempty"`
	ResourceProduction     map[string]float64 `json:"resourceProduction,omitempty"`
	ExtractionRate         map[string]float64 `json:"extractionRate,omitempty"`
	ResourceExtractionRate map[string]float64 `json:"resourceExtractionRate,omitempty"`

	ConstructionCost map[string]float64 `json:"constructionCost,omitempty"`
	RequiredTags     []string           `json:"requiredTags,omitempty"`
	ProvidedTags     []string           `json:"providedTags,omitempty"`
	UpgradeFamily    string             `json:"upgradeFamily"`
	ComesWithStake   bool               `json:"comesWithStake,omitempty"`
}

type Archetype struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Richness map[string]float64 `json:"richness,omitempty"`
}

type Planet struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Faction   string   `json:"faction"`
	Archetype string   `json:"archetype"`
	Resources []string `json:"resources"`

	// Legacy per-planet richness, consulted after the archetype table.
	ResourceRichness map[string]float64 `json:"resourceRichness,omitempty"`
}

type StakeTier struct {
	Tier            int      `json:"tier"`
	Slots           int      `json:"slots"`
	MaxStorage      float64  `json:"maxStorage"`
	RequiredTags    []string `json:"requiredTags,omitempty"`
	DefaultBuilding string   `json:"defaultBuilding,omitempty"`
}

// --- Claim Stakes (owned by the host) ---

type PlacedBuilding struct {
	ID            string     `json:"id"`
	BuildingID    string     `json:"buildingId"`
	IsActive      bool       `json:"isActive"`
	InactiveSince *time.Time `json:"inactiveSince,omitempty"`
	StopReason    string     `json:"stopReason,omitempty"`
}

type ClaimStake struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	PlanetID       string             `json:"planetId"`
	Tier           int                `json:"tier"`
	Buildings      []PlacedBuilding   `json:"buildings"`
	Resources      map[string]float64 `json:"resources"`
	IsFinalized    bool               `json:"isFinalized"`
	MaxStorage     float64            `json:"maxStorage"`
	CurrentStorage float64            `json:"currentStorage"`
	MaxSlots       int                `json:"maxSlots"`
	LastUpdate     time.Time          `json:"lastUpdate"`
	CreatedAt      time.Time          `json:"createdAt"`
}

// Clone returns a deep copy so callers can hand stakes across goroutines
// or into the tick engine without sharing maps.
func (c ClaimStake) Clone() ClaimStake {
	out := c
	out.Resources = make(map[string]float64, len(c.Resources))
	for k, v := range c.Resources {
		out.Resources[k] = v
	}
	out.Buildings = make([]PlacedBuilding, len(c.Buildings))
	for i, pb := range c.Buildings {
		out.Buildings[i] = pb
		if pb.InactiveSince != nil {
			ts := *pb.InactiveSince
			out.Buildings[i].InactiveSince = &ts
		}
	}
	return out
}

// --- Display summaries ---

type ResourceFlow struct {
	Production          float64 `json:"production"`
	Consumption         float64 `json:"consumption"`
	Extraction          float64 `json:"extraction"`
	PotentialExtraction float64 `json:"potentialExtraction"`
	Net                 float64 `json:"net"`
}

type FlowSummary struct {
	StakeID         string                  `json:"stakeId"`
	Resources       map[string]ResourceFlow `json:"resources"`
	PowerBalance    float64                 `json:"powerBalance"`
	NeedsFuel       bool                    `json:"needsFuel"`
	Utilization     float64                 `json:"utilization"`
	StopReasons     []string                `json:"stopReasons,omitempty"`
	ActiveBuildings int                     `json:"activeBuildings"`
	IdleBuildings   int                     `json:"idleBuildings"`
}
