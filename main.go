package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"claimstakes/pkg/game"
	"claimstakes/pkg/types"
)

func loadCatalog() *game.Catalog {
	if Config.DataDir == "" {
		return game.DefaultCatalog()
	}
	c, err := game.LoadCatalog(Config.DataDir)
	if err != nil {
		ErrorLog.Printf("Catalog %s unusable, falling back to bundled data: %v", Config.DataDir, err)
		return game.DefaultCatalog()
	}
	return c
}

// loadState prefers the live table. The latest verified snapshot is used
// only when the table is unreadable or has never held a stake; a table
// emptied by deletes stays empty.
func loadState() ([]types.ClaimStake, int64) {
	var tick int64
	if v, ok := getMeta("tick"); ok {
		tick, _ = strconv.ParseInt(v, 10, 64)
	}
	stakes, err := loadStakes()
	if err != nil {
		ErrorLog.Printf("Load stakes: %v", err)
	}
	if len(stakes) > 0 {
		return stakes, tick
	}
	if _, initialized := getMeta(metaStakesInitialized); err == nil && initialized {
		return nil, tick
	}
	restored, err := restoreSnapshot()
	switch {
	case errors.Is(err, errNoSnapshot):
		return nil, tick
	case err != nil:
		ErrorLog.Printf("Snapshot restore failed: %v", err)
		return nil, tick
	}
	InfoLog.Printf("Restored %d stakes from snapshot", len(restored))
	if err := saveStakes(restored); err != nil {
		ErrorLog.Printf("Persist restored stakes: %v", err)
	}
	return restored, tick
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", handleStatus)
	mux.HandleFunc("/api/catalog", handleCatalog)
	mux.HandleFunc("/api/stakes", handleStakes)
	mux.HandleFunc("/api/stakes/flow", handleFlow)
	mux.HandleFunc("/api/stakes/create", handleCreate)
	mux.HandleFunc("/api/stakes/build", handleBuild)
	mux.HandleFunc("/api/stakes/remove", handleRemove)
	mux.HandleFunc("/api/stakes/upgrade", handleUpgrade)
	mux.HandleFunc("/api/stakes/finalize", handleFinalize)
	mux.HandleFunc("/api/stakes/deposit", handleDeposit)
	mux.HandleFunc("/api/stakes/delete", handleDelete)
	if stream != nil {
		mux.HandleFunc("/ws", stream.Handler())
	}
	return mux
}

func main() {
	if err := initConfig(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := setupLogging(Config.LogDir); err != nil {
		log.Fatalf("logging: %v", err)
	}
	if err := initDB(Config.DBPath); err != nil {
		ErrorLog.Fatalf("db: %v", err)
	}
	defer db.Close()

	InfoLog.Println("CLAIMSTAKES BOOT SEQUENCE")

	catalog = loadCatalog()
	for _, w := range catalog.Warnings {
		InfoLog.Printf("Catalog warning: %s", w)
	}
	InfoLog.Printf("Catalog: %d buildings, %d planets, %d tiers", len(catalog.Buildings), len(catalog.Planets), len(catalog.Tiers))

	stream = NewStream()
	sim = NewSimulator(catalog, realClock{}, tickInterval(), logObserver(), stream)
	sim.snapEvery = int64(Config.SnapshotEvery)
	stakes, tick := loadState()
	sim.Load(stakes, tick)
	InfoLog.Printf("Loaded %d stakes at tick %d", len(stakes), tick)

	handler := middlewareSecurity(newMux())
	handler = middlewareCORS(handler)

	server := &http.Server{
		Addr:         Config.Addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sim.Stop()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdown)
	}()

	InfoLog.Printf("Listening on %s", Config.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		ErrorLog.Fatal(err)
	}
	InfoLog.Println("Shutdown complete")
}
