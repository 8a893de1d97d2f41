// Package manager defines the thin, user-overridable facade the engine
// drives: converting messages to petitions, gating admission, and
// observing start/finish. Grounded on ext/manager.py's Manager ABC.
package manager

import (
	"github.com/orchaframework/orcha/hook"
	"github.com/orchaframework/orcha/orchaerr"
	"github.com/orchaframework/orcha/petition"
)

// Manager is implemented once per deployment (per plugin) and driven by
// the Scheduler core. All methods are called synchronously.
type Manager interface {
	// ConvertToPetition converts a message to a petition. A nil Petition
	// with a nil error means "reject this message silently". This must be
	// pure: no side effects beyond constructing the Petition.
	ConvertToPetition(msg petition.Message) (petition.Petition, error)

	// Condition is the admission predicate. It must be quick and
	// side-effect-free. Returning a non-nil *orchaerr.ConditionFailed is
	// the only way to deny admission.
	Condition(p petition.Petition) *orchaerr.ConditionFailed

	// OnStart is called after admission, inside the per-petition lock. It
	// returns whether the petition is healthy; a false return (or a panic,
	// which the caller recovers as false) skips Action and goes straight
	// to OnFinish.
	OnStart(p petition.Petition) bool

	// OnFinish is called exactly once per petition, even on failure paths.
	// It must not panic.
	OnFinish(p petition.Petition)

	// Hooks returns the ordered chain of Pluggables this manager installs.
	// A nil Chain (or one built from zero Pluggables) means no hooks.
	Hooks() *hook.Chain
}

// Base is an optional embeddable helper that gives a Manager the same
// default running-set bookkeeping the original's base Manager.on_start/
// on_finish provided (tracking which ids are currently running), so a
// concrete Manager that has no use for OnStart/OnFinish beyond that
// bookkeeping doesn't need to reimplement it.
type Base struct {
	running map[string]struct{}
}

// NewBase constructs a Base with an empty running set.
func NewBase() *Base {
	return &Base{running: make(map[string]struct{})}
}

// OnStart records the petition id as running and returns true. Call this
// from a concrete Manager's OnStart if it has no additional bookkeeping.
func (b *Base) OnStart(p petition.Petition) bool {
	b.running[p.ID()] = struct{}{}
	return true
}

// OnFinish removes the petition id from the running set. Call this from a
// concrete Manager's OnFinish if it has no additional bookkeeping.
func (b *Base) OnFinish(p petition.Petition) {
	delete(b.running, p.ID())
}

// Running reports the ids currently recorded as running.
func (b *Base) Running() []string {
	ids := make([]string, 0, len(b.running))
	for id := range b.running {
		ids = append(ids, id)
	}
	return ids
}
