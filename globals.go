package main

import (
	"bytes"
	"database/sql"
	"log"
	"sync"

	"golang.org/x/time/rate"

	"claimstakes/pkg/game"
)

// --- Configuration ---
const (
	DefaultDBPath    = "./data/claimstakes.db"
	DefaultAddr      = ":8080"
	DefaultTickMs    = 1000
	DefaultSnapEvery = 3600 // ticks, one hour at the nominal rate
)

var (
	// Infrastructure
	db       *sql.DB
	InfoLog  *log.Logger
	ErrorLog *log.Logger

	// Reference data, read-only after boot
	catalog *game.Catalog

	// Scheduler
	sim *Simulator

	// Tick event fan-out for websocket clients
	stream *Stream

	// Rate Limiting
	ipLimiters = make(map[string]*rate.Limiter)
	ipLock     sync.Mutex

	bufferPool = sync.Pool{
		New: func() interface{} {
			return new(bytes.Buffer)
		},
	}
)
