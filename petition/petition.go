// Package petition defines the scheduled unit of work the engine drives
// through its state machine, along with the reply-queue plumbing every
// concrete Petition shares. It is grounded on orcha's ext/petition.py: the
// same total ordering (priority, then stringified id for equality), the
// same state-transition guard, the same Write/Finish/Terminate shape — but
// expressed as a Go interface plus an embeddable Base rather than a dataclass
// hierarchy.
package petition

import (
	"sync"
	"sync/atomic"

	"github.com/orchaframework/orcha/orchaerr"
	"github.com/orchaframework/orcha/queue"
)

// Petition is a scheduled unit of work. Concrete implementations embed
// Base and supply Action (the user-defined work) and Terminate (cooperative
// cancellation).
type Petition interface {
	// ID is this petition's identifier, as given by the originating Message.
	ID() string
	// Priority orders petitions; lower runs earlier. +Inf is reserved for
	// internal placeholders (EmptyPetition).
	Priority() float64
	// State returns the current PetitionState.
	State() State
	// Transition enforces the legal-transition table, returning
	// *orchaerr.InvalidStateError for any pair not in it.
	Transition(next State) error
	// SeenCount returns how many Admission rounds have observed this
	// petition without admitting it.
	SeenCount() int
	// IncSeen increments and returns the seen count.
	IncSeen() int
	// ResetSeen clears the seen count (called on successful admission).
	ResetSeen()
	// Write pushes a frame onto the reply queue. Frames written after
	// Close are silently dropped (invariant I5).
	Write(f Frame, blocking bool)
	// Finish writes a final return-code frame and closes the reply queue;
	// the code frame is the stream's only terminator (no FrameEnd follows).
	Finish(code int)
	// Close ends the reply queue with the terminal sentinel. Idempotent, and
	// a no-op after Finish.
	Close()
	// Action is the user-defined work to run on the worker pool.
	Action() error
	// Terminate is called at most once, cooperatively cancelling Action.
	// Returns whether termination succeeded.
	Terminate() (bool, error)
}

// Base implements the shared machinery of Petition: identity, ordering,
// state, seen-count, and the reply queue. Embed it in a concrete type and
// supply Action/Terminate.
type Base struct {
	id       string
	priority float64
	replyQ   queue.Queue[Frame]

	mu    sync.Mutex
	state State

	seen   atomic.Int32
	closed atomic.Bool
}

// NewBase constructs the shared Petition state. replyQ may be nil for
// petitions with no client-visible output (EmptyPetition).
func NewBase(id string, priority float64, replyQ queue.Queue[Frame]) Base {
	return Base{id: id, priority: priority, replyQ: replyQ, state: Pending}
}

// ID implements Petition.
func (b *Base) ID() string { return b.id }

// EntryID implements Entry, so any Petition also satisfies it.
func (b *Base) EntryID() string { return b.id }

// Priority implements Petition.
func (b *Base) Priority() float64 { return b.priority }

// State implements Petition.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Transition implements Petition.
func (b *Base) Transition(next State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if next == b.state {
		return nil
	}
	if !validTransitions[b.state][next] {
		return &orchaerr.InvalidStateError{From: b.state.String(), To: next.String()}
	}
	b.state = next
	return nil
}

// SeenCount implements Petition.
func (b *Base) SeenCount() int { return int(b.seen.Load()) }

// IncSeen implements Petition.
func (b *Base) IncSeen() int { return int(b.seen.Add(1)) }

// ResetSeen implements Petition.
func (b *Base) ResetSeen() { b.seen.Store(0) }

// Write implements Petition. blocking is accepted for parity with the
// original put(block=...) signature; the underlying queue never blocks its
// producer, so it has no effect here.
func (b *Base) Write(f Frame, blocking bool) {
	if b.closed.Load() || b.replyQ == nil {
		return
	}
	b.replyQ.Push(f)
}

// Finish implements Petition.
func (b *Base) Finish(code int) {
	if b.closed.CompareAndSwap(false, true) && b.replyQ != nil {
		b.replyQ.Push(CodeFrame(code))
	}
}

// Close implements Petition.
func (b *Base) Close() {
	if b.closed.CompareAndSwap(false, true) && b.replyQ != nil {
		b.replyQ.Push(EndFrame())
	}
}

// Less reports whether b sorts before o by priority alone; callers needing
// a total order (FIFO tiebreak within equal priority) compose this with an
// arrival index, since priority alone is not total across distinct ids.
func (b *Base) Less(o *Base) bool { return b.priority < o.priority }
