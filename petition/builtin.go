package petition

import (
	"math"
	"sync/atomic"
)

// EmptyID is the reserved id of the EmptyPetition poison pill.
const EmptyID = "__empty__"

// Entry is implemented by anything the engine's petitions map may hold: a
// full Petition, or a Placeholder reserving an id before conversion
// completes.
type Entry interface {
	EntryID() string
}

// EmptyPetition is a built-in Petition with priority +Inf, used as a poison
// pill for orderly shutdown (unblocks Admission's wait on the ready queue)
// and as the "nothing admitted this round" signal. Its action and
// terminate are both inert.
type EmptyPetition struct {
	Base
}

// NewEmptyPetition constructs the poison pill.
func NewEmptyPetition() *EmptyPetition {
	return &EmptyPetition{Base: NewBase(EmptyID, math.Inf(1), nil)}
}

// Action implements Petition; EmptyPetition never runs anything.
func (p *EmptyPetition) Action() error { return nil }

// Terminate implements Petition; EmptyPetition is never cancelled.
func (p *EmptyPetition) Terminate() (bool, error) { return true, nil }

// Placeholder reserves petitions[id] the instant Intake accepts a message,
// before on_message_preconvert/convert_to_petition run, so a concurrent
// cancel for the same id is not lost. It is replaced by the real Petition
// once conversion succeeds; if conversion fails, it is dropped.
type Placeholder struct {
	id              string
	cancelRequested atomic.Bool
}

// NewPlaceholder constructs a Placeholder for id.
func NewPlaceholder(id string) *Placeholder {
	return &Placeholder{id: id}
}

// EntryID implements Entry.
func (p *Placeholder) EntryID() string { return p.id }

// RequestCancel records that a cancel arrived for this id before the
// petition finished converting.
func (p *Placeholder) RequestCancel() { p.cancelRequested.Store(true) }

// CancelRequested reports whether RequestCancel was called.
func (p *Placeholder) CancelRequested() bool { return p.cancelRequested.Load() }
