// Package inference - The run state machine.
package inference

import (
	"log/slog"

	"github.com/pkg/errors"
)

// State is a stage of a classification run.
type State int

// Run states. A run moves forward only; any non-terminal state may fail.
const (
	StateStart State = iota
	StateLoading
	StateBuilding
	StateReady
	StateExecuting
	StateVerifying
	StatePass
	StateFail
)

var stateNames = [...]string{
	StateStart:     "START",
	StateLoading:   "LOADING",
	StateBuilding:  "BUILDING",
	StateReady:     "READY",
	StateExecuting: "EXECUTING",
	StateVerifying: "VERIFYING",
	StatePass:      "PASS",
	StateFail:      "FAIL",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StatePass || s == StateFail
}

var transitions = map[State][]State{
	StateStart:     {StateLoading, StateBuilding},
	StateLoading:   {StateReady},
	StateBuilding:  {StateReady},
	StateReady:     {StateExecuting},
	StateExecuting: {StateVerifying},
	StateVerifying: {StatePass, StateFail},
}

// CanTransition reports whether a run may move from s to next.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFail {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Tracker follows one run through its states and logs each transition.
type Tracker struct {
	logger  *slog.Logger
	history []State
}

// NewTracker creates a tracker in StateStart.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{logger: logger, history: []State{StateStart}}
}

// State returns the current state.
func (t *Tracker) State() State {
	return t.history[len(t.history)-1]
}

// History returns every state visited, oldest first.
func (t *Tracker) History() []State {
	return append([]State(nil), t.history...)
}

// To moves the run to next.
//
// Arguments:
//   - next: The state to enter.
//
// Returns:
//   - error: An error if the transition is not allowed; the state is unchanged.
func (t *Tracker) To(next State) error {
	cur := t.State()
	if !cur.CanTransition(next) {
		return errors.Errorf("invalid state transition %s -> %s", cur, next)
	}
	t.history = append(t.history, next)
	t.logger.Debug("state", "from", cur.String(), "to", next.String())
	return nil
}

// Fail moves the run to StateFail and records cause. A run that already
// ended is left as is.
func (t *Tracker) Fail(cause error) {
	cur := t.State()
	if cur.Terminal() {
		return
	}
	t.history = append(t.history, StateFail)
	t.logger.Debug("state", "from", cur.String(), "to", StateFail.String(), "error", cause)
}
