// Package fsm implements a small generic guarded state machine kernel.
// It carries no domain knowledge: callers supply a context type C, a set of
// states, and a transition table; the kernel only ever looks up
// (state, action) pairs, evaluates guards, and runs on-transition hooks.
package fsm

import (
	"encoding/json"
	"fmt"
)

// Guard reports whether a transition out of the current state is currently
// allowed, given the caller's context.
type Guard[C any] func(ctx C) bool

// Hook runs as a transition commits. An error here aborts the transition:
// the machine's state is left unchanged and the error is returned to the
// caller of Perform.
type Hook[C any] func(ctx C) error

// Transition describes one (state, action) -> state edge.
type Transition[C any] struct {
	From   string
	Action string
	To     string
	Guard  Guard[C]
	OnGo   Hook[C]
}

// Config is the static description of a machine: its states, which of them
// are final, and the transition table.
type Config[C any] struct {
	States      []string
	FinalStates map[string]bool
	Transitions []Transition[C]
}

// key identifies a transition by its source state and action name.
type key struct {
	state  string
	action string
}

// Machine is a compiled Config bound to a specific context value and
// current state. It is not safe for concurrent use; callers serialize
// access to a Machine the same way they serialize access to its context.
type Machine[C any] struct {
	cfg   Config[C]
	index map[key]Transition[C]
	state string
}

// New compiles cfg and returns a Machine starting in initialState.
// It panics on a malformed Config (duplicate (from, action) pairs, or an
// initial/transition state absent from cfg.States) since that is a wiring
// bug in the caller, not a runtime condition.
func New[C any](cfg Config[C], initialState string) *Machine[C] {
	known := make(map[string]bool, len(cfg.States))
	for _, s := range cfg.States {
		known[s] = true
	}
	if !known[initialState] {
		panic(fmt.Sprintf("fsm: initial state %q is not declared in cfg.States", initialState))
	}

	index := make(map[key]Transition[C], len(cfg.Transitions))
	for _, tr := range cfg.Transitions {
		if !known[tr.From] {
			panic(fmt.Sprintf("fsm: transition %q references undeclared state %q", tr.Action, tr.From))
		}
		if !known[tr.To] {
			panic(fmt.Sprintf("fsm: transition %q references undeclared state %q", tr.Action, tr.To))
		}
		k := key{state: tr.From, action: tr.Action}
		if _, exists := index[k]; exists {
			panic(fmt.Sprintf("fsm: duplicate transition for state %q action %q", tr.From, tr.Action))
		}
		index[k] = tr
	}

	return &Machine[C]{cfg: cfg, index: index, state: initialState}
}

// State returns the machine's current state.
func (m *Machine[C]) State() string { return m.state }

// IsFinal reports whether the current state is terminal.
func (m *Machine[C]) IsFinal() bool { return m.cfg.FinalStates[m.state] }

// CanPerform reports whether action is both defined from the current state
// and (if it has a guard) currently allowed.
func (m *Machine[C]) CanPerform(action string, ctx C) bool {
	tr, ok := m.index[key{state: m.state, action: action}]
	if !ok {
		return false
	}
	return tr.Guard == nil || tr.Guard(ctx)
}

// AllowedActions lists every action defined from the current state whose
// guard (if any) currently passes.
func (m *Machine[C]) AllowedActions(ctx C) []string {
	var actions []string
	for k, tr := range m.index {
		if k.state != m.state {
			continue
		}
		if tr.Guard == nil || tr.Guard(ctx) {
			actions = append(actions, tr.Action)
		}
	}
	return actions
}

// Preview returns the state action would lead to without performing it.
// ok is false if action is not defined from the current state.
func (m *Machine[C]) Preview(action string) (to string, ok bool) {
	tr, ok := m.index[key{state: m.state, action: action}]
	if !ok {
		return "", false
	}
	return tr.To, true
}

// Perform runs action against ctx: it fails with a *TransitionNotFoundError
// (matching ErrActionNotAllowed) if no such (state, action) edge exists,
// ErrGuardFailed if the edge's guard
// rejects ctx, and whatever the OnGo hook returns if the hook errors. The
// machine's state only changes once the hook has returned successfully.
func (m *Machine[C]) Perform(action string, ctx C) error {
	tr, ok := m.index[key{state: m.state, action: action}]
	if !ok {
		return &TransitionNotFoundError{State: m.state, Action: action}
	}
	if tr.Guard != nil && !tr.Guard(ctx) {
		return &GuardFailedError{State: m.state, Action: action}
	}
	if tr.OnGo != nil {
		if err := tr.OnGo(ctx); err != nil {
			return fmt.Errorf("fsm: on-transition hook for %q: %w", action, err)
		}
	}
	m.state = tr.To
	return nil
}

// SetState forcibly relocates the machine, bypassing guards and hooks. It
// exists for rehydrating a Machine from persisted state, not for ordinary
// transitions.
func (m *Machine[C]) SetState(state string) error {
	found := false
	for _, s := range m.cfg.States {
		if s == state {
			found = true
			break
		}
	}
	if !found {
		return &UnknownStateError{State: state}
	}
	m.state = state
	return nil
}

// Clone returns a new Machine sharing this one's compiled Config but with
// an independent current-state field.
func (m *Machine[C]) Clone() *Machine[C] {
	return &Machine[C]{cfg: m.cfg, index: m.index, state: m.state}
}

// persistedMachine is the JSON-compatible form of a Machine: its current
// state value. Guards and hooks are Go functions and cannot round-trip
// through JSON, so Config is not part of the persisted form at all — the
// caller supplies it again at Deserialize time, the same Config the
// Machine was compiled from.
type persistedMachine struct {
	State string `json:"state"`
}

// Serialize returns m's JSON-compatible form for persisting across a
// process restart.
func (m *Machine[C]) Serialize() ([]byte, error) {
	return json.Marshal(persistedMachine{State: m.state})
}

// Deserialize rebuilds cfg's lookup maps and validates data's state value
// against cfg.States, exactly as New does for an initial state — a
// corrupted or stale persisted state is reported as UnknownStateError
// rather than panicking, since unlike New's caller (who is wiring a known
// config), Deserialize's caller is trusting previously-persisted bytes.
func Deserialize[C any](cfg Config[C], data []byte) (*Machine[C], error) {
	var p persistedMachine
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("fsm: deserialize: %w", err)
	}

	known := make(map[string]bool, len(cfg.States))
	for _, s := range cfg.States {
		known[s] = true
	}
	if !known[p.State] {
		return nil, &UnknownStateError{State: p.State}
	}

	m := New(cfg, p.State)
	return m, nil
}
