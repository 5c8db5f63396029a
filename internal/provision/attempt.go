package provision

import (
	"errors"
	"fmt"
	"time"
)

// State is one step of a provisioning attempt.
type State string

const (
	StateRequested   State = "requested"
	StateDBCreated   State = "db_created"
	StateMigrated    State = "migrated"
	StateOwnerSynced State = "owner_synced"
	StateComplete    State = "complete"
	StateFailed      State = "failed"
)

// transitions lists the single forward step from each state.  Failed is
// reachable from every non-terminal state and is absorbing.
var transitions = map[State]State{
	StateRequested:   StateDBCreated,
	StateDBCreated:   StateMigrated,
	StateMigrated:    StateOwnerSynced,
	StateOwnerSynced: StateComplete,
}

// ErrInvalidTransition reports a step out of order.
var ErrInvalidTransition = errors.New("invalid provisioning transition")

// Attempt records one run of the provisioning state machine.
type Attempt struct {
	OrganizationID string
	States         []State // visited states, first is requested
	Reason         string  // set when the attempt failed
	Applied        []int64 // migration versions applied by this attempt
	Resumed        bool    // true when an existing database was reused
	StartedAt      time.Time
	FinishedAt     time.Time
}

func newAttempt(orgID string, now time.Time) *Attempt {
	return &Attempt{OrganizationID: orgID, States: []State{StateRequested}, StartedAt: now}
}

// State returns the current state.
func (a *Attempt) State() State { return a.States[len(a.States)-1] }

// Terminal reports whether the attempt has finished.
func (a *Attempt) Terminal() bool {
	s := a.State()
	return s == StateComplete || s == StateFailed
}

func (a *Attempt) advance(to State) error {
	from := a.State()
	switch {
	case to == StateFailed && !a.Terminal():
	case transitions[from] == to:
	default:
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}
	a.States = append(a.States, to)
	return nil
}

// step is advance for the provisioner's fixed sequence, where an invalid
// transition can only be a bug.
func (a *Attempt) step(to State) {
	if err := a.advance(to); err != nil {
		panic(err)
	}
}
