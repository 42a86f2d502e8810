package system

import (
	"fmt"
	"slices"
)

// SystemState is the lifecycle phase reported by the status endpoint.
type SystemState int

const (
	StateInitializing SystemState = iota
	StateRunning
	StateReloading // descriptor is being parsed again
	StateStopping
	StateStopped
	StateError
)

var stateNames = map[SystemState]string{
	StateInitializing: "INITIALIZING",
	StateRunning:      "RUNNING",
	StateReloading:    "RELOADING",
	StateStopping:     "STOPPING",
	StateStopped:      "STOPPED",
	StateError:        "ERROR",
}

var transitions = map[SystemState][]SystemState{
	StateInitializing: {StateRunning, StateError, StateStopping},
	StateRunning:      {StateReloading, StateStopping, StateError},
	StateReloading:    {StateRunning, StateError},
	StateStopping:     {StateStopped, StateError},
	StateStopped:      {StateInitializing},
	StateError:        {StateInitializing, StateStopping, StateStopped},
}

func (s SystemState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

func (s SystemState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ValidateTransition reports whether the lifecycle may move from one
// state to the other.
func ValidateTransition(from, to SystemState) error {
	allowed, ok := transitions[from]
	if !ok {
		return fmt.Errorf("invalid current state: %s", from)
	}
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid state transition: %s -> %s", from, to)
	}
	return nil
}
