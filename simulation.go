package main

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"claimstakes/pkg/game"
	"claimstakes/pkg/types"
)

var errStakeNotFound = errors.New("claim stake not found")

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Simulator owns the claim-stake list and the one recurring timer that
// ticks it. Handlers and the timer both go through stateLock.
type Simulator struct {
	stateLock sync.Mutex
	stakes    []types.ClaimStake
	tick      int64

	catalog   *game.Catalog
	clock     Clock
	interval  time.Duration
	snapEvery int64
	observers []game.Observer

	// Timer state. gen changes on every rebuild so a goroutine from an
	// earlier timer can tell it has been torn down.
	running bool
	gen     uint64
	done    chan struct{}
	size    int
}

func NewSimulator(cat *game.Catalog, clock Clock, interval time.Duration, observers ...game.Observer) *Simulator {
	return &Simulator{
		catalog:   cat,
		clock:     clock,
		interval:  interval,
		snapEvery: DefaultSnapEvery,
		observers: observers,
	}
}

// Load replaces the stake list (boot only) and syncs the timer.
func (s *Simulator) Load(stakes []types.ClaimStake, tick int64) {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	s.stakes = stakes
	s.tick = tick
	s.syncLocked()
}

// --- Timer lifecycle ---

// Sync tears the timer down when there is nothing to tick and rebuilds it
// when the collection size has changed.
func (s *Simulator) Sync() {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	s.syncLocked()
}

func (s *Simulator) syncLocked() {
	switch {
	case len(s.stakes) == 0:
		s.stopLocked()
	case !s.running:
		s.startLocked()
	case s.size != len(s.stakes):
		s.stopLocked()
		s.startLocked()
	}
}

// Start is idempotent.
func (s *Simulator) Start() {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	s.startLocked()
}

// Stop is idempotent. A tick already in flight finishes; none start after.
func (s *Simulator) Stop() {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	s.stopLocked()
}

func (s *Simulator) Running() bool {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.running
}

func (s *Simulator) startLocked() {
	if s.running {
		return
	}
	s.running = true
	s.gen++
	s.done = make(chan struct{})
	s.size = len(s.stakes)
	go s.loop(s.gen, s.done)
	InfoLog.Printf("Simulation timer started (gen %d, %d stakes, every %v)", s.gen, s.size, s.interval)
}

func (s *Simulator) stopLocked() {
	if !s.running {
		return
	}
	s.running = false
	close(s.done)
	s.done = nil
	InfoLog.Printf("Simulation timer stopped (gen %d)", s.gen)
}

func (s *Simulator) loop(gen uint64, done <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.fire(gen)
		}
	}
}

// fire runs one batch unless the timer that scheduled it is stale.
func (s *Simulator) fire(gen uint64) {
	s.stateLock.Lock()
	if !s.running || s.gen != gen {
		s.stateLock.Unlock()
		return
	}
	events := s.batchLocked()
	s.stateLock.Unlock()

	game.Notify(s.observers, events)
}

// RunBatch ticks every finalized stake once, outside the timer.
func (s *Simulator) RunBatch() []game.Event {
	s.stateLock.Lock()
	events := s.batchLocked()
	s.stateLock.Unlock()

	game.Notify(s.observers, events)
	return events
}

func (s *Simulator) batchLocked() []game.Event {
	now := s.clock.Now()
	s.tick++

	var events []game.Event
	var changed []types.ClaimStake
	for i, st := range s.stakes {
		if !st.IsFinalized {
			continue
		}
		next, report := game.Tick(st, s.catalog, now)
		if !report.Advanced {
			continue
		}
		s.stakes[i] = next
		changed = append(changed, next)
		events = append(events, report.Events...)
	}

	if len(changed) > 0 {
		if err := saveStakes(changed); err != nil {
			ErrorLog.Printf("Tick %d: persist failed: %v", s.tick, err)
		}
	}
	logAction(s.tick, "TICK", nil)
	for _, e := range events {
		logAction(s.tick, string(e.Type), e)
	}
	if err := setMeta("tick", strconv.FormatInt(s.tick, 10)); err != nil {
		ErrorLog.Printf("Tick %d: meta: %v", s.tick, err)
	}

	if s.snapEvery > 0 && s.tick%s.snapEvery == 0 {
		if _, err := snapshotStakes(s.tick, s.tick/s.snapEvery, s.stakes); err != nil {
			ErrorLog.Printf("Tick %d: snapshot failed: %v", s.tick, err)
		}
	}
	return events
}

// --- Stake access for handlers ---

func (s *Simulator) Tick() int64 {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.tick
}

func (s *Simulator) List() []types.ClaimStake {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	out := make([]types.ClaimStake, len(s.stakes))
	for i, st := range s.stakes {
		out[i] = st.Clone()
	}
	return out
}

func (s *Simulator) Get(id string) (types.ClaimStake, error) {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.stakes[i].Clone(), nil
	}
	return types.ClaimStake{}, errStakeNotFound
}

// Add persists a new stake and rebuilds the timer for the new size.
func (s *Simulator) Add(stake types.ClaimStake) error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if err := saveStakes([]types.ClaimStake{stake}); err != nil {
		return err
	}
	s.stakes = append(s.stakes, stake)
	logAction(s.tick, "STAKE_CREATED", map[string]string{"id": stake.ID, "planet": stake.PlanetID})
	s.syncLocked()
	return nil
}

// Update applies fn to one stake and persists the result. fn sees a copy.
func (s *Simulator) Update(id, action string, fn func(types.ClaimStake) (types.ClaimStake, error)) (types.ClaimStake, error) {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return types.ClaimStake{}, errStakeNotFound
	}
	next, err := fn(s.stakes[i].Clone())
	if err != nil {
		return types.ClaimStake{}, err
	}
	if err := saveStakes([]types.ClaimStake{next}); err != nil {
		return types.ClaimStake{}, err
	}
	s.stakes[i] = next
	logAction(s.tick, action, map[string]string{"id": id})
	return next.Clone(), nil
}

func (s *Simulator) Remove(id string) error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return errStakeNotFound
	}
	if err := deleteStake(id); err != nil {
		return err
	}
	s.stakes = append(s.stakes[:i], s.stakes[i+1:]...)
	logAction(s.tick, "STAKE_DELETED", map[string]string{"id": id})
	s.syncLocked()
	return nil
}

func (s *Simulator) indexLocked(id string) int {
	for i, st := range s.stakes {
		if st.ID == id {
			return i
		}
	}
	return -1
}

// logObserver writes building transitions to the info log.
func logObserver() game.Observer {
	return game.ObserverFunc(func(e game.Event) {
		switch e.Type {
		case game.EventBuildingStopped:
			InfoLog.Printf("Stake %s: %s stopped (%s)", e.StakeID, e.BuildingID, e.Reason)
		case game.EventBuildingRestarted:
			InfoLog.Printf("Stake %s: %s restarted", e.StakeID, e.BuildingID)
		case game.EventStorageCapped:
			InfoLog.Printf("Stake %s: storage capped, kept %.4f of stock", e.StakeID, e.Factor)
		}
	})
}
