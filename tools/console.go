package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/dustin/go-humanize"

	"claimstakes/pkg/types"
)

var ServerURL = "http://localhost:8080"

var client = &http.Client{Timeout: 5 * time.Second}

var commands = []string{
	"status", "catalog", "stakes", "show", "flow", "create", "build", "remove",
	"upgrade", "deposit", "finalize", "delete", "help", "quit",
}

// --- Models (mirrors of the server's API bodies) ---

type StatusResponse struct {
	Tick        int64 `json:"tick"`
	Stakes      int   `json:"stakes"`
	Finalized   int   `json:"finalized"`
	Running     bool  `json:"running"`
	Subscribers int   `json:"subscribers"`
}

type StakeView struct {
	Stake            types.ClaimStake   `json:"stake"`
	Summary          types.FlowSummary  `json:"summary"`
	UsedSlots        int                `json:"usedSlots"`
	ConstructionCost map[string]float64 `json:"constructionCost"`
	Digest           string             `json:"digest"`
}

type CatalogResponse struct {
	Buildings []types.Building  `json:"buildings"`
	Planets   []types.Planet    `json:"planets"`
	Tiers     []types.StakeTier `json:"tiers"`
}

func main() {
	if url := os.Getenv("CLAIMSTAKES_SERVER"); url != "" {
		ServerURL = url
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Println("Claim Stakes Console")
	fmt.Printf("Target Server: %s\n", ServerURL)
	fmt.Println("Type 'help' for commands.")

	for {
		fmt.Print("> ")
		text, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		parts := strings.Fields(text)
		if len(parts) == 0 {
			continue
		}

		switch cmd, args := parts[0], parts[1:]; cmd {
		case "status":
			doStatus()
		case "catalog":
			doCatalog()
		case "stakes":
			doStakes()
		case "show":
			if need(args, 1, "show <stake>") {
				doShow(args[0])
			}
		case "flow":
			if need(args, 1, "flow <stake>") {
				doFlow(args[0])
			}
		case "create":
			if need(args, 1, "create <planet> [tier] [name...]") {
				tier := 1
				if len(args) > 1 {
					tier, _ = strconv.Atoi(args[1])
				}
				name := ""
				if len(args) > 2 {
					name = strings.Join(args[2:], " ")
				}
				doCreate(args[0], tier, name)
			}
		case "build":
			if need(args, 2, "build <stake> <building>") {
				doPost("/api/stakes/build", map[string]string{"stakeId": resolveStake(args[0]), "buildingId": args[1]})
			}
		case "remove":
			if need(args, 2, "remove <stake> <placement>") {
				doPost("/api/stakes/remove", map[string]string{"stakeId": resolveStake(args[0]), "placementId": args[1]})
			}
		case "upgrade":
			if need(args, 3, "upgrade <stake> <placement> <building>") {
				doPost("/api/stakes/upgrade", map[string]string{"stakeId": resolveStake(args[0]), "placementId": args[1], "buildingId": args[2]})
			}
		case "deposit":
			if need(args, 3, "deposit <stake> <resource> <amount>") {
				amt, err := strconv.ParseFloat(args[2], 64)
				if err != nil {
					fmt.Printf("Bad amount %q\n", args[2])
					continue
				}
				doPost("/api/stakes/deposit", map[string]interface{}{
					"stakeId":   resolveStake(args[0]),
					"resources": map[string]float64{args[1]: amt},
				})
			}
		case "finalize":
			if need(args, 1, "finalize <stake>") {
				doPost("/api/stakes/finalize", map[string]string{"stakeId": resolveStake(args[0])})
			}
		case "delete":
			if need(args, 1, "delete <stake>") {
				doPost("/api/stakes/delete", map[string]string{"stakeId": resolveStake(args[0])})
			}
		case "help":
			printHelp()
		case "quit", "exit":
			fmt.Println("Disconnecting...")
			return
		default:
			if s := suggest(cmd, commands); s != "" {
				fmt.Printf("Unknown command %q. Did you mean %q?\n", cmd, s)
			} else {
				fmt.Println("Unknown command. Type 'help' for options.")
			}
		}
	}
}

func printHelp() {
	fmt.Println("Available Commands:")
	fmt.Println("  status                              - Scheduler tick and stake counts")
	fmt.Println("  catalog                             - Planets, tiers and buildings")
	fmt.Println("  stakes                              - List claim stakes")
	fmt.Println("  show <stake>                        - Buildings and storage of one stake")
	fmt.Println("  flow <stake>                        - Per-resource flow summary")
	fmt.Println("  create <planet> [tier] [name]       - Lay out a new design")
	fmt.Println("  build <stake> <building>            - Place a building")
	fmt.Println("  remove <stake> <placement>          - Remove a placement")
	fmt.Println("  upgrade <stake> <placement> <bldg>  - Swap a placement within its family")
	fmt.Println("  deposit <stake> <resource> <amount> - Add resources")
	fmt.Println("  finalize <stake>                    - Start production")
	fmt.Println("  delete <stake>                      - Delete a stake")
	fmt.Println("Stake ids may be abbreviated to any unique prefix.")
}

func need(args []string, n int, usage string) bool {
	if len(args) < n {
		fmt.Println("Usage: " + usage)
		return false
	}
	return true
}

// suggest returns the closest candidate within a small edit distance.
func suggest(token string, candidates []string) string {
	best, bestDist := "", 3
	for _, c := range candidates {
		if strings.HasPrefix(c, token) && len(token) >= 2 {
			return c
		}
		if d := levenshtein.ComputeDistance(token, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// --- Requests ---

func getJSON(path string, v interface{}) error {
	resp, err := client.Get(ServerURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, v)
}

func doPost(path string, payload interface{}) {
	data, _ := json.Marshal(payload)
	resp, err := client.Post(ServerURL+path, "application/json", bytes.NewBuffer(data))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			fmt.Printf("Rejected (%d): %s\n", resp.StatusCode, e.Error)
			hintBuilding(payload, e.Error)
		} else {
			fmt.Printf("Rejected (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return
	}

	var v StakeView
	if err := json.Unmarshal(body, &v); err == nil && v.Stake.ID != "" {
		printStake(v)
		return
	}
	fmt.Println(strings.TrimSpace(string(body)))
}

// hintBuilding suggests a building id after an unknown-building error.
func hintBuilding(payload interface{}, msg string) {
	req, ok := payload.(map[string]string)
	if !ok || req["buildingId"] == "" || !strings.Contains(msg, "unknown building") {
		return
	}
	var cat CatalogResponse
	if err := getJSON("/api/catalog", &cat); err != nil {
		return
	}
	ids := make([]string, 0, len(cat.Buildings))
	for _, b := range cat.Buildings {
		ids = append(ids, b.ID)
	}
	if s := suggest(req["buildingId"], ids); s != "" {
		fmt.Printf("Did you mean %q?\n", s)
	}
}

// resolveStake expands a unique id prefix; anything else is passed through
// and left for the server to reject.
func resolveStake(prefix string) string {
	var views []StakeView
	if err := getJSON("/api/stakes", &views); err != nil {
		return prefix
	}
	match := ""
	for _, v := range views {
		if strings.HasPrefix(v.Stake.ID, prefix) {
			if match != "" {
				return prefix
			}
			match = v.Stake.ID
		}
	}
	if match == "" {
		return prefix
	}
	return match
}

// --- Commands ---

func doStatus() {
	var s StatusResponse
	if err := getJSON("/api/status", &s); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	state := "idle"
	if s.Running {
		state = "running"
	}
	fmt.Printf("Tick: %s | Stakes: %d (%d finalized) | Timer: %s | Watchers: %d\n",
		humanize.Comma(s.Tick), s.Stakes, s.Finalized, state, s.Subscribers)
}

func doCatalog() {
	var cat CatalogResponse
	if err := getJSON("/api/catalog", &cat); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("Planets:")
	for _, p := range cat.Planets {
		fmt.Printf("  %-12s %-14s %s\n", p.ID, p.Archetype, strings.Join(p.Resources, ", "))
	}
	fmt.Println("Tiers:")
	for _, t := range cat.Tiers {
		fmt.Printf("  T%d  %2d slots  %s storage\n", t.Tier, t.Slots, humanize.Commaf(t.MaxStorage))
	}
	fmt.Println("Buildings:")
	for _, b := range cat.Buildings {
		fmt.Printf("  %-18s T%d %+6.0f MW  %d slots\n", b.ID, b.Tier, b.Power, b.Slots)
	}
}

func doStakes() {
	var views []StakeView
	if err := getJSON("/api/stakes", &views); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if len(views) == 0 {
		fmt.Println("No claim stakes.")
		return
	}
	for _, v := range views {
		state := "design"
		if v.Stake.IsFinalized {
			state = "running"
		}
		fmt.Printf("%s  %-20s %-10s T%d  %-7s %s/%s  updated %s\n",
			short(v.Stake.ID), v.Stake.Name, v.Stake.PlanetID, v.Stake.Tier, state,
			humanize.Commaf(round(v.Stake.CurrentStorage)), humanize.Commaf(v.Stake.MaxStorage),
			humanize.Time(v.Stake.LastUpdate))
	}
}

func doShow(id string) {
	var v StakeView
	if err := getJSON("/api/stakes?id="+resolveStake(id), &v); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printStake(v)
}

func doFlow(id string) {
	var s types.FlowSummary
	if err := getJSON("/api/stakes/flow?id="+resolveStake(id), &s); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printFlow(s)
}

func doCreate(planet string, tier int, name string) {
	doPost("/api/stakes/create", map[string]interface{}{"planetId": planet, "tier": tier, "name": name})
}

// --- Output ---

func printStake(v StakeView) {
	s := v.Stake
	fmt.Printf("%s  %s on %s (T%d)  slots %d/%d  storage %s/%s\n", s.ID, s.Name, s.PlanetID, s.Tier,
		v.UsedSlots, s.MaxSlots, humanize.Commaf(round(s.CurrentStorage)), humanize.Commaf(s.MaxStorage))
	for _, pb := range s.Buildings {
		state := "active"
		if !pb.IsActive {
			state = "stopped: " + pb.StopReason
			if pb.InactiveSince != nil {
				state += " (" + humanize.Time(*pb.InactiveSince) + ")"
			}
		}
		fmt.Printf("  %s  %-18s %s\n", short(pb.ID), pb.BuildingID, state)
	}
	if len(s.Resources) > 0 {
		fmt.Println("  Resources:")
		for _, res := range sortedKeys(s.Resources) {
			fmt.Printf("    %-12s %s\n", res, humanize.Commaf(round(s.Resources[res])))
		}
	}
	if !s.IsFinalized && len(v.ConstructionCost) > 0 {
		fmt.Println("  Construction cost:")
		for _, res := range sortedKeys(v.ConstructionCost) {
			fmt.Printf("    %-12s %s\n", res, humanize.Commaf(v.ConstructionCost[res]))
		}
	}
	printFlow(v.Summary)
}

func printFlow(s types.FlowSummary) {
	fmt.Printf("  Power %+.1f MW | Utilization %.1f%% | Active %d Idle %d\n",
		s.PowerBalance, s.Utilization*100, s.ActiveBuildings, s.IdleBuildings)
	for _, r := range s.StopReasons {
		fmt.Printf("  ! %s\n", r)
	}
	names := make([]string, 0, len(s.Resources))
	for res := range s.Resources {
		names = append(names, res)
	}
	sort.Strings(names)
	for _, res := range names {
		f := s.Resources[res]
		fmt.Printf("    %-12s net %+8.3f/s  (prod %.3f, use %.3f, extract %.3f of %.3f)\n",
			res, f.Net, f.Production, f.Consumption, f.Extraction, f.PotentialExtraction)
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func round(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
