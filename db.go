package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"claimstakes/pkg/core"
	"claimstakes/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS system_meta (key TEXT PRIMARY KEY, value TEXT);

CREATE TABLE IF NOT EXISTS claim_stakes (
	id TEXT PRIMARY KEY,
	name TEXT,
	planet_id TEXT NOT NULL,
	tier INTEGER NOT NULL,
	is_finalized BOOLEAN DEFAULT 0,
	max_storage REAL NOT NULL,
	current_storage REAL DEFAULT 0,
	max_slots INTEGER NOT NULL,
	last_update INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	buildings_json TEXT,
	resources_json TEXT
);

CREATE TABLE IF NOT EXISTS transaction_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT, tick INTEGER, action_type TEXT, payload_blob BLOB
);
CREATE TABLE IF NOT EXISTS daily_snapshots (
	day_id INTEGER PRIMARY KEY, tick INTEGER, state_blob BLOB, prev_hash TEXT, final_hash TEXT
);
`

const genesisHash = "GENESIS"

// metaStakesInitialized marks a table that has held stakes. An empty table
// with the marker set means every stake was deleted, not that data was lost.
const metaStakesInitialized = "stakes_initialized"

var errNoSnapshot = errors.New("no snapshot")

func initDB(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var err error
	db, err = sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return err
	}
	// Single writer; the scheduler and handlers share stateLock anyway.
	db.SetMaxOpenConns(1)
	return createSchema()
}

func createSchema() error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}

// --- Claim Stakes ---

const upsertStake = `
INSERT INTO claim_stakes (id, name, planet_id, tier, is_finalized, max_storage, current_storage,
	max_slots, last_update, created_at, buildings_json, resources_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name=excluded.name, is_finalized=excluded.is_finalized, current_storage=excluded.current_storage,
	max_storage=excluded.max_storage, max_slots=excluded.max_slots, last_update=excluded.last_update,
	buildings_json=excluded.buildings_json, resources_json=excluded.resources_json`

// saveStakes writes a batch in one transaction.
func saveStakes(stakes []types.ClaimStake) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(upsertStake)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, s := range stakes {
		bJson, err := json.Marshal(s.Buildings)
		if err != nil {
			tx.Rollback()
			return err
		}
		rJson, err := json.Marshal(s.Resources)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := stmt.Exec(s.ID, s.Name, s.PlanetID, s.Tier, s.IsFinalized, s.MaxStorage, s.CurrentStorage,
			s.MaxSlots, s.LastUpdate.UnixNano(), s.CreatedAt.UnixNano(), string(bJson), string(rJson)); err != nil {
			tx.Rollback()
			return fmt.Errorf("save stake %s: %w", s.ID, err)
		}
	}
	if len(stakes) > 0 {
		if _, err := tx.Exec("INSERT OR IGNORE INTO system_meta (key, value) VALUES (?, '1')", metaStakesInitialized); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func loadStakes() ([]types.ClaimStake, error) {
	rows, err := db.Query(`SELECT id, name, planet_id, tier, is_finalized, max_storage, current_storage,
		max_slots, last_update, created_at, buildings_json, resources_json FROM claim_stakes ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stakes []types.ClaimStake
	for rows.Next() {
		var s types.ClaimStake
		var lastUpdate, createdAt int64
		var bJson, rJson string
		if err := rows.Scan(&s.ID, &s.Name, &s.PlanetID, &s.Tier, &s.IsFinalized, &s.MaxStorage, &s.CurrentStorage,
			&s.MaxSlots, &lastUpdate, &createdAt, &bJson, &rJson); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(bJson), &s.Buildings); err != nil {
			return nil, fmt.Errorf("stake %s buildings: %w", s.ID, err)
		}
		if err := json.Unmarshal([]byte(rJson), &s.Resources); err != nil {
			return nil, fmt.Errorf("stake %s resources: %w", s.ID, err)
		}
		if s.Resources == nil {
			s.Resources = map[string]float64{}
		}
		s.LastUpdate = time.Unix(0, lastUpdate).UTC()
		s.CreatedAt = time.Unix(0, createdAt).UTC()
		stakes = append(stakes, s)
	}
	return stakes, rows.Err()
}

func deleteStake(id string) error {
	_, err := db.Exec("DELETE FROM claim_stakes WHERE id=?", id)
	return err
}

// --- Event Log ---

func logAction(tick int64, actionType string, payload interface{}) {
	var blob []byte
	if payload != nil {
		var err error
		if blob, err = json.Marshal(payload); err != nil {
			ErrorLog.Printf("log %s: %v", actionType, err)
			return
		}
	}
	if _, err := db.Exec("INSERT INTO transaction_log (tick, action_type, payload_blob) VALUES (?, ?, ?)", tick, actionType, blob); err != nil {
		ErrorLog.Printf("log %s: %v", actionType, err)
	}
}

// --- Snapshots ---

// snapshotStakes stores the whole stake list lz4-compressed and chained to
// the previous snapshot's blake3 hash.
func snapshotStakes(tick int64, dayID int64, stakes []types.ClaimStake) (string, error) {
	rawJSON, err := json.Marshal(stakes)
	if err != nil {
		return "", err
	}
	compressed, err := core.Compress(rawJSON)
	if err != nil {
		return "", err
	}

	var prevHash string
	err = db.QueryRow("SELECT final_hash FROM daily_snapshots WHERE day_id < ? ORDER BY day_id DESC LIMIT 1", dayID).Scan(&prevHash)
	if errors.Is(err, sql.ErrNoRows) {
		prevHash = genesisHash
	} else if err != nil {
		return "", err
	}
	finalHash := core.ChainHash(compressed, prevHash)

	_, err = db.Exec("INSERT OR REPLACE INTO daily_snapshots (day_id, tick, state_blob, prev_hash, final_hash) VALUES (?, ?, ?, ?, ?)",
		dayID, tick, compressed, prevHash, finalHash)
	if err != nil {
		return "", err
	}
	InfoLog.Printf("Snapshot %d at tick %d. Size: %d bytes. Hash: %s", dayID, tick, len(compressed), finalHash)
	return finalHash, nil
}

// restoreSnapshot returns the stakes from the latest snapshot after
// checking its hash.
func restoreSnapshot() ([]types.ClaimStake, error) {
	var blob []byte
	var prevHash, finalHash string
	err := db.QueryRow("SELECT state_blob, prev_hash, final_hash FROM daily_snapshots ORDER BY day_id DESC LIMIT 1").
		Scan(&blob, &prevHash, &finalHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	if err := core.VerifyChain(blob, prevHash, finalHash); err != nil {
		return nil, err
	}
	raw, err := core.Decompress(blob)
	if err != nil {
		return nil, err
	}
	var stakes []types.ClaimStake
	if err := json.Unmarshal(raw, &stakes); err != nil {
		return nil, err
	}
	return stakes, nil
}

// --- Meta ---

func getMeta(key string) (string, bool) {
	var v string
	if err := db.QueryRow("SELECT value FROM system_meta WHERE key=?", key).Scan(&v); err != nil {
		return "", false
	}
	return v, true
}

func setMeta(key, value string) error {
	_, err := db.Exec("INSERT OR REPLACE INTO system_meta (key, value) VALUES (?, ?)", key, value)
	return err
}
