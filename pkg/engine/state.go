package engine

import "fmt"

// QueryState is the lifecycle state of a statement.
//
//	Planned -> Optimized -> Executing -> Completed | Failed | Cancelled
//
// Planning and optimization failures move a statement straight to Failed
// (or Cancelled when its context ended).
type QueryState int

const (
	StatePending QueryState = iota
	StatePlanned
	StateOptimized
	StateExecuting
	StateCompleted
	StateFailed
	StateCancelled
)

var queryStateStrings = map[QueryState]string{
	StatePending:   "pending",
	StatePlanned:   "planned",
	StateOptimized: "optimized",
	StateExecuting: "executing",
	StateCompleted: "completed",
	StateFailed:    "failed",
	StateCancelled: "cancelled",
}

func (s QueryState) String() string {
	if str, ok := queryStateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("QueryState(%d)", int(s))
}

// Terminal reports whether no transition leaves s.
func (s QueryState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

var validTransitions = map[QueryState][]QueryState{
	StatePending:   {StatePlanned, StateFailed, StateCancelled},
	StatePlanned:   {StateOptimized, StateFailed, StateCancelled},
	StateOptimized: {StateExecuting, StateFailed, StateCancelled},
	StateExecuting: {StateCompleted, StateFailed, StateCancelled},
}

// canTransition reports whether a statement in state from may move to to.
func canTransition(from, to QueryState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
