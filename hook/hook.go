// Package hook implements Orcha's Pluggable chain: an ordered list of
// user-supplied observers/transformers invoked at fixed extension points,
// grounded on ext/pluggable.py's Pluggable base and utils/pluggables.py's
// freeze_plugs ordering.
//
// ext/pluggable.py probes each hook object at call time with hasattr,
// skipping points it doesn't implement, because Python has no static
// capability typing. The Go-idiomatic equivalent of that probe is a type
// assertion against a small, single-method interface per extension
// point (Design Notes §9's "capability set" suggestion) rather than one
// monolithic interface with sentinel no-op returns: Chain.Run* already
// "skips uninstrumented points cheaply" via the assertion itself, with no
// marker attribute needed.
package hook

import (
	"sort"

	"github.com/orchaframework/orcha/orchaerr"
	"github.com/orchaframework/orcha/petition"
)

// Pluggable is implemented by every hook; Priority orders the chain the
// same way the teacher orders its listeners and the original orders
// plugs (lower runs first).
type Pluggable interface {
	Priority() float64
}

// ManagerStartHook runs after the manager starts.
type ManagerStartHook interface {
	OnManagerStart()
}

// ManagerShutdownHook runs before the manager shuts down.
type ManagerShutdownHook interface {
	OnManagerShutdown()
}

// MessagePreconvertHook runs before convert_to_petition; if it returns a
// non-nil Petition, the manager's own conversion is skipped.
type MessagePreconvertHook interface {
	OnMessagePreconvert(msg petition.Message) petition.Petition
}

// PetitionCreateHook runs immediately after a petition is created.
type PetitionCreateHook interface {
	OnPetitionCreate(p petition.Petition)
}

// ConditionCheckHook runs after the manager's own Condition; it may veto
// (return a *orchaerr.ConditionFailed) even if the manager's check passed.
type ConditionCheckHook interface {
	OnConditionCheck(p petition.Petition, prior *orchaerr.ConditionFailed) *orchaerr.ConditionFailed
}

// ConditionFailHook observes an admission denial.
type ConditionFailHook interface {
	OnConditionFail(failure *orchaerr.ConditionFailed)
}

// PetitionStartHook runs at admission time; if it returns true, it has
// taken over starting the petition itself and the manager's own OnStart is
// skipped.
type PetitionStartHook interface {
	OnPetitionStart(p petition.Petition) (handled bool)
}

// PetitionFinishHook runs at finalization time; if it returns true, it has
// taken over finishing the petition itself (e.g. transitioned it to DONE)
// and the manager's own OnFinish is skipped.
type PetitionFinishHook interface {
	OnPetitionFinish(p petition.Petition) (handled bool)
}

// Chain is an ordered, immutable list of Pluggables, frozen once at
// construction the way freeze_plugs caches a sorted tuple.
type Chain struct {
	plugs []Pluggable
}

// NewChain builds a Chain sorted by ascending priority.
func NewChain(plugs ...Pluggable) *Chain {
	sorted := append([]Pluggable(nil), plugs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Chain{plugs: sorted}
}

// Len returns the number of hooks in the chain.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.plugs)
}
