package pipeline

import "fmt"

type State int

const (
	StateInit State = iota
	StateFetching
	StateLoading
	StateTransforming
	StateExporting
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateInit:         "INIT",
	StateFetching:     "FETCHING",
	StateLoading:      "LOADING",
	StateTransforming: "TRANSFORMING",
	StateExporting:    "EXPORTING",
	StateDone:         "DONE",
	StateFailed:       "FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// next is the only forward move out of each non-terminal state.
var next = map[State]State{
	StateInit:         StateFetching,
	StateFetching:     StateLoading,
	StateLoading:      StateTransforming,
	StateTransforming: StateExporting,
	StateExporting:    StateDone,
}

// CanTransition reports whether from -> to is a legal move. Any non-terminal
// state may fail; terminal states are absorbing.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return next[from] == to
}
