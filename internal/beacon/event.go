package beacon

import (
	"encoding/json"
	"fmt"
)

// EventKind is the kind of monitoring transition
type EventKind int

const (
	EventEnter EventKind = iota
	EventExit
	EventDetermineState
)

// String returns the wire name of the event kind
func (k EventKind) String() string {
	switch k {
	case EventEnter:
		return "didEnterRegion"
	case EventExit:
		return "didExitRegion"
	case EventDetermineState:
		return "didDetermineState"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "didEnterRegion":
		*k = EventEnter
	case "didExitRegion":
		*k = EventExit
	case "didDetermineState":
		*k = EventDetermineState
	default:
		return Errorf(CodeInvalidArgument, "unknown monitoring event %q", string(b))
	}
	return nil
}

// RegionState is the determined presence inside a region
type RegionState int

const (
	StateUnknown RegionState = iota
	StateInside
	StateOutside
)

// String returns the wire name of the state
func (s RegionState) String() string {
	switch s {
	case StateInside:
		return "inside"
	case StateOutside:
		return "outside"
	default:
		return "unknown"
	}
}

func (s RegionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RegionState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "inside":
		*s = StateInside
	case "outside":
		*s = StateOutside
	case "unknown", "":
		*s = StateUnknown
	default:
		return Errorf(CodeInvalidArgument, "unknown region state %q", string(b))
	}
	return nil
}

// MonitoringEvent is one enter/exit/determine-state callback from the engine.
// State is only meaningful for EventDetermineState.
type MonitoringEvent struct {
	Region Region
	Kind   EventKind
	State  RegionState
}

// Enter builds an enter event
func Enter(r Region) MonitoringEvent {
	return MonitoringEvent{Region: r, Kind: EventEnter}
}

// Exit builds an exit event
func Exit(r Region) MonitoringEvent {
	return MonitoringEvent{Region: r, Kind: EventExit}
}

// DetermineState builds a determine-state event
func DetermineState(r Region, s RegionState) MonitoringEvent {
	return MonitoringEvent{Region: r, Kind: EventDetermineState, State: s}
}

// String renders the event for logs
func (e MonitoringEvent) String() string {
	if e.Kind == EventDetermineState {
		return fmt.Sprintf("%s(%s, %s)", e.Kind, e.Region.Identifier, e.State)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.Region.Identifier)
}

type monitoringResultJSON struct {
	Region Region       `json:"region"`
	Type   EventKind    `json:"type"`
	State  *RegionState `json:"state,omitempty"`
}

// MarshalJSON encodes the event as a MonitoringResult payload
func (e MonitoringEvent) MarshalJSON() ([]byte, error) {
	w := monitoringResultJSON{Region: e.Region, Type: e.Kind}
	if e.Kind == EventDetermineState {
		state := e.State
		w.State = &state
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a MonitoringResult payload
func (e *MonitoringEvent) UnmarshalJSON(b []byte) error {
	var w monitoringResultJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*e = MonitoringEvent{Region: w.Region, Kind: w.Type}
	if w.State != nil {
		e.State = *w.State
	}
	return nil
}

// RangingResult carries the beacons seen in a region during one scan cycle
type RangingResult struct {
	Region  Region   `json:"region"`
	Beacons []Beacon `json:"beacons"`
}

// BackgroundResult wraps a monitoring event for the background channel
type BackgroundResult struct {
	MonitoringCallbackID int64           `json:"monitoringCallbackId"`
	MonitoringResult     MonitoringEvent `json:"monitoringResult"`
}
