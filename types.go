package main

import (
	"claimstakes/pkg/types"
)

// --- API request bodies ---

type CreateStakeRequest struct {
	PlanetID string `json:"planetId"`
	Tier     int    `json:"tier"`
	Name     string `json:"name"`
}

type StakeRequest struct {
	StakeID string `json:"stakeId"`
}

type BuildRequest struct {
	StakeID    string `json:"stakeId"`
	BuildingID string `json:"buildingId"`
}

type PlacementRequest struct {
	StakeID     string `json:"stakeId"`
	PlacementID string `json:"placementId"`
	BuildingID  string `json:"buildingId,omitempty"` // upgrade target
}

type DepositRequest struct {
	StakeID   string             `json:"stakeId"`
	Resources map[string]float64 `json:"resources"`
}

// --- API responses ---

// StakeView is a stake plus the derived numbers a client shows next to it.
type StakeView struct {
	Stake            types.ClaimStake   `json:"stake"`
	Summary          types.FlowSummary  `json:"summary"`
	UsedSlots        int                `json:"usedSlots"`
	ConstructionCost map[string]float64 `json:"constructionCost"`
	Digest           string             `json:"digest"` // blake3 of the stake JSON
}

type StatusResponse struct {
	Tick        int64 `json:"tick"`
	Stakes      int   `json:"stakes"`
	Finalized   int   `json:"finalized"`
	Running     bool  `json:"running"`
	Subscribers int   `json:"subscribers"`
}

type CatalogResponse struct {
	Buildings []types.Building  `json:"buildings"`
	Planets   []types.Planet    `json:"planets"`
	Tiers     []types.StakeTier `json:"tiers"`
	Warnings  []string          `json:"warnings,omitempty"`
}
