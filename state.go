package offcache

import "fmt"

// State is the lifecycle phase of a Controller.
type State int

const (
	StateUninstalled State = iota
	StateInstalling
	StateInstalled // installed and waiting to take over
	StateActivating
	StateActive
	StateRedundant // superseded or discarded; never reused
)

var stateNames = [...]string{
	StateUninstalled: "uninstalled",
	StateInstalling:  "installing",
	StateInstalled:   "installed",
	StateActivating:  "activating",
	StateActive:      "active",
	StateRedundant:   "redundant",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var transitions = map[State][]State{
	StateUninstalled: {StateInstalling, StateRedundant},
	StateInstalling:  {StateInstalled, StateUninstalled},
	StateInstalled:   {StateActivating, StateRedundant},
	StateActivating:  {StateActive},
	StateActive:      {StateRedundant},
}

// CanTransition reports whether s -> to is a legal lifecycle step.
func (s State) CanTransition(to State) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}
