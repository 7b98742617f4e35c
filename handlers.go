package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"claimstakes/pkg/core"
	"claimstakes/pkg/game"
	"claimstakes/pkg/types"
)

const protobufType = "application/x-protobuf"

// --- Read Handlers ---

func handleStatus(w http.ResponseWriter, r *http.Request) {
	stakes := sim.List()
	resp := StatusResponse{
		Tick:    sim.Tick(),
		Stakes:  len(stakes),
		Running: sim.Running(),
	}
	for _, s := range stakes {
		if s.IsFinalized {
			resp.Finalized++
		}
	}
	if stream != nil {
		resp.Subscribers = stream.Subscribers()
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleCatalog(w http.ResponseWriter, r *http.Request) {
	resp := CatalogResponse{Warnings: catalog.Warnings}
	for _, id := range catalog.BuildingIDs() {
		resp.Buildings = append(resp.Buildings, catalog.Buildings[id])
	}
	for _, p := range catalog.Planets {
		resp.Planets = append(resp.Planets, p)
	}
	sort.Slice(resp.Planets, func(i, j int) bool { return resp.Planets[i].ID < resp.Planets[j].ID })
	for _, t := range catalog.Tiers {
		resp.Tiers = append(resp.Tiers, t)
	}
	sort.Slice(resp.Tiers, func(i, j int) bool { return resp.Tiers[i].Tier < resp.Tiers[j].Tier })
	writeJSON(w, http.StatusOK, resp)
}

func handleStakes(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		stake, err := sim.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(stake))
		return
	}
	stakes := sim.List()
	views := make([]StakeView, 0, len(stakes))
	for _, s := range stakes {
		views = append(views, viewOf(s))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleFlow serves the flow summary as JSON, or as a protobuf Struct when
// the client asks for it.
func handleFlow(w http.ResponseWriter, r *http.Request) {
	stake, err := sim.Get(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	summary := game.Summarize(stake, catalog)

	if !strings.Contains(r.Header.Get("Accept"), protobufType) {
		writeJSON(w, http.StatusOK, summary)
		return
	}
	msg, err := summaryStruct(summary)
	if err != nil {
		ErrorLog.Printf("flow %s: %v", stake.ID, err)
		http.Error(w, "Encode Error", http.StatusInternalServerError)
		return
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		ErrorLog.Printf("flow %s: %v", stake.ID, err)
		http.Error(w, "Encode Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", protobufType)
	w.Write(data)
}

func summaryStruct(summary types.FlowSummary) (*structpb.Struct, error) {
	raw, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// --- Design Handlers ---

func handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateStakeRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.Tier == 0 {
		req.Tier = 1
	}
	stake, err := game.NewClaimStake(catalog, req.PlanetID, req.Tier, req.Name, sim.clock.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := sim.Add(stake); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(stake))
}

func handleBuild(w http.ResponseWriter, r *http.Request) {
	var req BuildRequest
	if !decodePost(w, r, &req) {
		return
	}
	updateStake(w, req.StakeID, "BUILD", func(s types.ClaimStake) (types.ClaimStake, error) {
		next, _, err := game.AddBuilding(catalog, s, req.BuildingID)
		return next, err
	})
}

func handleRemove(w http.ResponseWriter, r *http.Request) {
	var req PlacementRequest
	if !decodePost(w, r, &req) {
		return
	}
	updateStake(w, req.StakeID, "REMOVE", func(s types.ClaimStake) (types.ClaimStake, error) {
		return game.RemoveBuilding(catalog, s, req.PlacementID)
	})
}

func handleUpgrade(w http.ResponseWriter, r *http.Request) {
	var req PlacementRequest
	if !decodePost(w, r, &req) {
		return
	}
	updateStake(w, req.StakeID, "UPGRADE", func(s types.ClaimStake) (types.ClaimStake, error) {
		return game.UpgradeBuilding(catalog, s, req.PlacementID, req.BuildingID)
	})
}

func handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if !decodePost(w, r, &req) {
		return
	}
	updateStake(w, req.StakeID, "FINALIZE", func(s types.ClaimStake) (types.ClaimStake, error) {
		return game.Finalize(s, sim.clock.Now())
	})
}

func handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !decodePost(w, r, &req) {
		return
	}
	updateStake(w, req.StakeID, "DEPOSIT", func(s types.ClaimStake) (types.ClaimStake, error) {
		return game.Deposit(s, req.Resources)
	})
}

func handleDelete(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if !decodePost(w, r, &req) {
		return
	}
	if err := sim.Remove(req.StakeID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": req.StakeID})
}

// --- Helpers ---

func updateStake(w http.ResponseWriter, id, action string, fn func(types.ClaimStake) (types.ClaimStake, error)) {
	stake, err := sim.Update(id, action, fn)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(stake))
}

func viewOf(s types.ClaimStake) StakeView {
	var digest string
	if raw, err := json.Marshal(s); err == nil {
		digest = core.Hash(raw)
	}
	return StakeView{
		Stake:            s,
		Summary:          game.Summarize(s, catalog),
		UsedSlots:        game.UsedSlots(catalog, s),
		ConstructionCost: game.ConstructionCost(catalog, s),
		Digest:           digest,
	}
}

func decodePost(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Bad JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errStakeNotFound), errors.Is(err, game.ErrUnknownPlacement):
		return http.StatusNotFound
	case errors.Is(err, game.ErrUnknownBuilding), errors.Is(err, game.ErrUnknownPlanet),
		errors.Is(err, game.ErrUnknownTier), errors.Is(err, game.ErrBadAmount):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrFinalized), errors.Is(err, game.ErrFamilyPlaced),
		errors.Is(err, game.ErrNoSlots), errors.Is(err, game.ErrMissingTags),
		errors.Is(err, game.ErrTagInUse), errors.Is(err, game.ErrPermanent),
		errors.Is(err, game.ErrStorageFull):
		return http.StatusConflict
	}
	ErrorLog.Printf("request failed: %v", err)
	return http.StatusInternalServerError
}
