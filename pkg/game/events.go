package game

import "time"

// EventType describes something the tick pipeline noticed.
type EventType string

const (
	EventBuildingStopped   EventType = "BuildingStopped"
	EventBuildingRestarted EventType = "BuildingRestarted"
	EventStorageCapped     EventType = "StorageCapped"
)

// Event is raised by a tick and handed to observers once the batch is done.
type Event struct {
	At          time.Time `json:"at"`
	Type        EventType `json:"type"`
	StakeID     string    `json:"stakeId"`
	PlacementID string    `json:"placementId,omitempty"`
	BuildingID  string    `json:"buildingId,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	// Clawback factor for StorageCapped.
	Factor float64 `json:"factor,omitempty"`
}

// Observer receives tick events. Hosts register observers instead of
// listening on a global bus.
type Observer interface {
	OnTickEvent(Event)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnTickEvent(e Event) { f(e) }

// Notify delivers events in order to every observer.
func Notify(observers []Observer, events []Event) {
	for _, e := range events {
		for _, o := range observers {
			o.OnTickEvent(e)
		}
	}
}
