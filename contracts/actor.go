package contracts

import "github.com/google/uuid"

// contractActor is the per-contract serialization unit: a dedicated
// goroutine draining a buffered command channel, so every command against
// one Contract.ID runs one at a time and in submission order, while
// commands against different contracts proceed independently.
type contractActor struct {
	commands chan func()
}

func newContractActor() *contractActor {
	a := &contractActor{commands: make(chan func(), 32)}
	go a.run()
	return a
}

func (a *contractActor) run() {
	for cmd := range a.commands {
		cmd()
	}
}

// do submits fn to the actor and blocks until it has run, returning its
// error.
func (a *contractActor) do(fn func() error) error {
	done := make(chan error, 1)
	a.commands <- func() { done <- fn() }
	return <-done
}

// actorFor returns the contractActor for id, creating one on first use.
// The map itself is guarded by o.actorsMu; the actor's own channel then
// serializes everything dispatched through it.
func (o *Orchestrator) actorFor(id uuid.UUID) *contractActor {
	o.actorsMu.Lock()
	defer o.actorsMu.Unlock()
	a, ok := o.actors[id]
	if !ok {
		a = newContractActor()
		o.actors[id] = a
	}
	return a
}

func (o *Orchestrator) withActor(id uuid.UUID, fn func() error) error {
	return o.actorFor(id).do(fn)
}
