package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	_ "modernc.org/sqlite"

	"claimstakes/pkg/core"
	"claimstakes/pkg/game"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// setupTestEnv initializes an in-memory database, the bundled catalog and a
// simulator whose timer never fires during a test.
func setupTestEnv(t *testing.T) *fakeClock {
	t.Helper()
	discardLogging()
	defaultConfig()

	var err error
	db, err = sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Every connection to :memory: is its own database.
	db.SetMaxOpenConns(1)
	if err := createSchema(); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	clock := &fakeClock{now: t0}
	catalog = game.DefaultCatalog()
	stream = nil
	sim = NewSimulator(catalog, clock, time.Hour)
	t.Cleanup(func() {
		sim.Stop()
		db.Close()
	})
	return clock
}

// Helper to make JSON requests
func executeRequest(handler http.HandlerFunc, method, path string, payload interface{}) *httptest.ResponseRecorder {
	var body []byte
	if payload != nil {
		body, _ = json.Marshal(payload)
	}
	req, _ := http.NewRequest(method, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeView(t *testing.T, rr *httptest.ResponseRecorder) StakeView {
	t.Helper()
	var v StakeView
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("bad stake view %q: %v", rr.Body.String(), err)
	}
	return v
}

func createStake(t *testing.T, planet string, tier int) StakeView {
	t.Helper()
	rr := executeRequest(handleCreate, "POST", "/api/stakes/create", CreateStakeRequest{PlanetID: planet, Tier: tier})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create failed. Code: %d, Body: %s", rr.Code, rr.Body.String())
	}
	return decodeView(t, rr)
}

func TestDesignFinalizeAndTick(t *testing.T) {
	clock := setupTestEnv(t)

	view := createStake(t, "ashfall", 1)
	id := view.Stake.ID
	if len(view.Stake.Buildings) != 1 || view.Stake.Buildings[0].BuildingID != "central-hub" {
		t.Fatalf("expected the hub to ship with the stake, got %+v", view.Stake.Buildings)
	}
	if view.Digest == "" {
		t.Errorf("stake view has no digest")
	}

	rr := executeRequest(handleBuild, "POST", "/api/stakes/build", BuildRequest{StakeID: id, BuildingID: "fuel-extractor"})
	if rr.Code != http.StatusOK {
		t.Fatalf("build failed: %s", rr.Body.String())
	}
	if cost := decodeView(t, rr).ConstructionCost["iron"]; cost != 10 {
		t.Errorf("expected 10 iron construction cost, got %v", cost)
	}

	rr = executeRequest(handleDeposit, "POST", "/api/stakes/deposit", DepositRequest{StakeID: id, Resources: map[string]float64{"fuel": 10}})
	if rr.Code != http.StatusOK {
		t.Fatalf("deposit failed: %s", rr.Body.String())
	}
	rr = executeRequest(handleFinalize, "POST", "/api/stakes/finalize", StakeRequest{StakeID: id})
	if rr.Code != http.StatusOK {
		t.Fatalf("finalize failed: %s", rr.Body.String())
	}

	clock.Advance(time.Second)
	sim.RunBatch()

	got, err := sim.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	// Volcanic fuel richness 2.0 on a 0.5/s extractor.
	if math.Abs(got.Resources["fuel"]-11) > 1e-9 {
		t.Errorf("expected 11 fuel after one tick, got %v", got.Resources["fuel"])
	}

	var stored float64
	db.QueryRow("SELECT current_storage FROM claim_stakes WHERE id=?", id).Scan(&stored)
	if math.Abs(stored-11) > 1e-9 {
		t.Errorf("tick not persisted, current_storage %v", stored)
	}
	var ticks int
	db.QueryRow("SELECT count(*) FROM transaction_log WHERE action_type='TICK'").Scan(&ticks)
	if ticks != 1 {
		t.Errorf("expected one TICK row, got %d", ticks)
	}
}

func TestDesignErrorsMapToStatus(t *testing.T) {
	setupTestEnv(t)
	view := createStake(t, "kepler-4b", 1)
	id := view.Stake.ID
	hub := view.Stake.Buildings[0].ID

	cases := []struct {
		name    string
		handler http.HandlerFunc
		method  string
		payload interface{}
		code    int
	}{
		{"unknown building", handleBuild, "POST", BuildRequest{StakeID: id, BuildingID: "warp-core"}, 400},
		{"unknown stake", handleBuild, "POST", BuildRequest{StakeID: "nope", BuildingID: "iron-extractor"}, 404},
		{"permanent hub", handleRemove, "POST", PlacementRequest{StakeID: id, PlacementID: hub}, 409},
		{"unknown placement", handleRemove, "POST", PlacementRequest{StakeID: id, PlacementID: "nope"}, 404},
		{"missing tags", handleBuild, "POST", BuildRequest{StakeID: id, BuildingID: "alloy-foundry"}, 409},
		{"bad amount", handleDeposit, "POST", DepositRequest{StakeID: id, Resources: map[string]float64{"iron": -1}}, 400},
		{"unknown planet", handleCreate, "POST", CreateStakeRequest{PlanetID: "nowhere", Tier: 1}, 400},
		{"wrong method", handleCreate, "GET", nil, 405},
	}
	for _, tc := range cases {
		rr := executeRequest(tc.handler, tc.method, "/", tc.payload)
		if rr.Code != tc.code {
			t.Errorf("%s: expected %d got %d (%s)", tc.name, tc.code, rr.Code, rr.Body.String())
		}
	}

	executeRequest(handleFinalize, "POST", "/api/stakes/finalize", StakeRequest{StakeID: id})
	rr := executeRequest(handleFinalize, "POST", "/api/stakes/finalize", StakeRequest{StakeID: id})
	if rr.Code != http.StatusConflict {
		t.Errorf("second finalize should conflict, got %d", rr.Code)
	}
	rr = executeRequest(handleBuild, "POST", "/api/stakes/build", BuildRequest{StakeID: id, BuildingID: "iron-extractor"})
	if rr.Code != http.StatusConflict {
		t.Errorf("build on a finalized stake should conflict, got %d", rr.Code)
	}
}

func TestUpgradeAndDeleteStake(t *testing.T) {
	setupTestEnv(t)
	id := createStake(t, "kepler-4b", 2).Stake.ID

	rr := executeRequest(handleBuild, "POST", "/api/stakes/build", BuildRequest{StakeID: id, BuildingID: "fuel-cell-t1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("build failed: %s", rr.Body.String())
	}
	var cell string
	for _, pb := range decodeView(t, rr).Stake.Buildings {
		if pb.BuildingID == "fuel-cell-t1" {
			cell = pb.ID
		}
	}
	rr = executeRequest(handleUpgrade, "POST", "/api/stakes/upgrade", PlacementRequest{StakeID: id, PlacementID: cell, BuildingID: "fuel-cell-t2"})
	if rr.Code != http.StatusOK {
		t.Fatalf("upgrade failed: %s", rr.Body.String())
	}
	upgraded := false
	for _, pb := range decodeView(t, rr).Stake.Buildings {
		if pb.ID == cell && pb.BuildingID == "fuel-cell-t2" {
			upgraded = true
		}
	}
	if !upgraded {
		t.Errorf("placement %s not upgraded in place", cell)
	}

	rr = executeRequest(handleDelete, "POST", "/api/stakes/delete", StakeRequest{StakeID: id})
	if rr.Code != http.StatusOK {
		t.Fatalf("delete failed: %s", rr.Body.String())
	}
	var count int
	db.QueryRow("SELECT count(*) FROM claim_stakes").Scan(&count)
	if count != 0 {
		t.Errorf("stake row not deleted")
	}
	if sim.Running() {
		t.Errorf("timer should stop once the collection is empty")
	}
}

func TestFlowSummaryFormats(t *testing.T) {
	setupTestEnv(t)
	id := createStake(t, "kepler-4b", 1).Stake.ID
	executeRequest(handleBuild, "POST", "/api/stakes/build", BuildRequest{StakeID: id, BuildingID: "iron-extractor"})

	rr := executeRequest(handleFlow, "GET", "/api/stakes/flow?id="+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("flow failed: %s", rr.Body.String())
	}
	var summary struct {
		PowerBalance float64 `json:"powerBalance"`
	}
	json.Unmarshal(rr.Body.Bytes(), &summary)
	if summary.PowerBalance != 10 {
		t.Errorf("expected 10 MW spare, got %v", summary.PowerBalance)
	}

	req, _ := http.NewRequest("GET", "/api/stakes/flow?id="+id, nil)
	req.Header.Set("Accept", protobufType)
	rr = httptest.NewRecorder()
	handleFlow(rr, req)
	if ct := rr.Header().Get("Content-Type"); ct != protobufType {
		t.Fatalf("expected protobuf response, got %q", ct)
	}
	var msg structpb.Struct
	if err := proto.Unmarshal(rr.Body.Bytes(), &msg); err != nil {
		t.Fatalf("bad protobuf: %v", err)
	}
	if got := msg.Fields["powerBalance"].GetNumberValue(); got != 10 {
		t.Errorf("protobuf powerBalance %v", got)
	}

	rr = executeRequest(handleFlow, "GET", "/api/stakes/flow?id=missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown stake, got %d", rr.Code)
	}
}

func TestStatusAndCatalog(t *testing.T) {
	setupTestEnv(t)
	createStake(t, "kepler-4b", 1)

	rr := executeRequest(handleStatus, "GET", "/api/status", nil)
	var status StatusResponse
	json.Unmarshal(rr.Body.Bytes(), &status)
	if status.Stakes != 1 || status.Finalized != 0 || !status.Running {
		t.Errorf("unexpected status %+v", status)
	}

	rr = executeRequest(handleCatalog, "GET", "/api/catalog", nil)
	var cat CatalogResponse
	json.Unmarshal(rr.Body.Bytes(), &cat)
	if len(cat.Tiers) != 5 || cat.Tiers[0].Tier != 1 || len(cat.Buildings) == 0 {
		t.Errorf("unexpected catalog response: %d tiers, %d buildings", len(cat.Tiers), len(cat.Buildings))
	}
}

func TestSimulatorTimerLifecycle(t *testing.T) {
	setupTestEnv(t)

	sim.Sync()
	if sim.Running() {
		t.Fatalf("timer running with no stakes")
	}
	sim.Stop() // idempotent when already stopped

	createStake(t, "kepler-4b", 1)
	if !sim.Running() {
		t.Fatalf("timer not started for the first stake")
	}
	gen := sim.gen
	sim.Start()
	if sim.gen != gen {
		t.Errorf("Start on a running timer rebuilt it")
	}

	createStake(t, "ashfall", 1)
	if sim.gen == gen {
		t.Errorf("timer not rebuilt after the collection grew")
	}

	// A goroutine from a torn-down timer must not tick.
	stale := sim.gen
	sim.Stop()
	sim.Stop()
	sim.fire(stale)
	if sim.Tick() != 0 {
		t.Errorf("stale timer ran a batch")
	}
}

func TestSnapshotRestore(t *testing.T) {
	clock := setupTestEnv(t)
	sim.snapEvery = 2

	id := createStake(t, "ashfall", 1).Stake.ID
	executeRequest(handleFinalize, "POST", "/api/stakes/finalize", StakeRequest{StakeID: id})
	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
		sim.RunBatch()
	}

	var snaps int
	db.QueryRow("SELECT count(*) FROM daily_snapshots").Scan(&snaps)
	if snaps != 2 {
		t.Fatalf("expected 2 snapshots, got %d", snaps)
	}
	var prev string
	db.QueryRow("SELECT prev_hash FROM daily_snapshots WHERE day_id=1").Scan(&prev)
	if prev != genesisHash {
		t.Errorf("first snapshot should chain to genesis, got %q", prev)
	}

	// A lost table: rows gone and no record that stakes were ever saved.
	db.Exec("DELETE FROM claim_stakes")
	db.Exec("DELETE FROM system_meta WHERE key=?", metaStakesInitialized)
	stakes, tick := loadState()
	if len(stakes) != 1 || stakes[0].ID != id || tick != 4 {
		t.Fatalf("restore returned %d stakes at tick %d", len(stakes), tick)
	}

	db.Exec("UPDATE daily_snapshots SET final_hash='tampered' WHERE day_id=2")
	if _, err := restoreSnapshot(); !errors.Is(err, core.ErrChainBroken) {
		t.Errorf("expected ErrChainBroken, got %v", err)
	}
}

func TestDeletedStakesStayDeletedAfterRestart(t *testing.T) {
	clock := setupTestEnv(t)
	sim.snapEvery = 1

	id := createStake(t, "ashfall", 1).Stake.ID
	executeRequest(handleFinalize, "POST", "/api/stakes/finalize", StakeRequest{StakeID: id})
	clock.Advance(time.Second)
	sim.RunBatch()

	var snaps int
	db.QueryRow("SELECT count(*) FROM daily_snapshots").Scan(&snaps)
	if snaps == 0 {
		t.Fatalf("expected a snapshot holding the stake")
	}

	rr := executeRequest(handleDelete, "POST", "/api/stakes/delete", StakeRequest{StakeID: id})
	if rr.Code != http.StatusOK {
		t.Fatalf("delete failed: %s", rr.Body.String())
	}

	stakes, _ := loadState()
	if len(stakes) != 0 {
		t.Fatalf("deleted stake came back from the snapshot: %d stakes", len(stakes))
	}
	var rows int
	db.QueryRow("SELECT count(*) FROM claim_stakes").Scan(&rows)
	if rows != 0 {
		t.Errorf("restore wrote %d rows into an emptied table", rows)
	}
}

func TestLoadTuning(t *testing.T) {
	defaultConfig()
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	os.WriteFile(path, []byte("tick_interval_ms: 250\nsnapshot_every_ticks: 60\nrate_limit:\n  per_second: 5\n  burst: 8\n"), 0644)

	if err := loadTuning(path); err != nil {
		t.Fatal(err)
	}
	if tickInterval() != 250*time.Millisecond || Config.SnapshotEvery != 60 || Config.RateLimit.Burst != 8 {
		t.Errorf("tuning not applied: %+v", Config)
	}
	if Config.Addr != DefaultAddr {
		t.Errorf("unset keys should keep defaults, addr %q", Config.Addr)
	}

	os.WriteFile(path, []byte("tick_interval_ms: 0\n"), 0644)
	if err := loadTuning(path); err == nil {
		t.Errorf("zero tick interval accepted")
	}
}

func TestMiddlewareRejectsNonJSONWrites(t *testing.T) {
	discardLogging()
	defaultConfig()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := middlewareSecurity(ok)

	req := httptest.NewRequest("POST", "/api/stakes/build", strings.NewReader("x"))
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %d", rr.Code)
	}

	req = httptest.NewRequest("POST", "/api/stakes/build", strings.NewReader("{}"))
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("JSON write rejected: %d", rr.Code)
	}
}

func TestStreamDeliversTickEvents(t *testing.T) {
	discardLogging()
	s := NewStream()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Subscribers() != 1 {
		t.Fatalf("client never subscribed")
	}

	s.OnTickEvent(game.Event{At: t0, Type: game.EventBuildingStopped, StakeID: "s1", Reason: game.ReasonNoPower})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var e game.Event
	json.Unmarshal(msg, &e)
	if e.Type != game.EventBuildingStopped || e.StakeID != "s1" || e.Reason != game.ReasonNoPower {
		t.Errorf("unexpected event %+v", e)
	}
}

func TestStreamKeepsIdleListenerAlive(t *testing.T) {
	discardLogging()
	readTimeout, pingInterval := streamReadTimeout, streamPingInterval
	streamReadTimeout, streamPingInterval = 150*time.Millisecond, 40*time.Millisecond
	defer func() { streamReadTimeout, streamPingInterval = readTimeout, pingInterval }()

	s := NewStream()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// The client never sends a frame; reading answers the server's pings.
	msgs := make(chan []byte, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				close(msgs)
				return
			}
			msgs <- msg
		}
	}()

	time.Sleep(4 * streamReadTimeout)
	if n := s.Subscribers(); n != 1 {
		t.Fatalf("idle listener dropped, %d subscribers", n)
	}

	s.OnTickEvent(game.Event{At: t0, Type: game.EventStorageCapped, StakeID: "s2", Factor: 0.5})
	select {
	case msg, ok := <-msgs:
		if !ok {
			t.Fatalf("stream closed before the event arrived")
		}
		var e game.Event
		json.Unmarshal(msg, &e)
		if e.StakeID != "s2" || e.Type != game.EventStorageCapped {
			t.Errorf("unexpected event %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event received")
	}
}
