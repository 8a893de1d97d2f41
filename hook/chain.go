package hook

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/orchaframework/orcha/orchaerr"
	"github.com/orchaframework/orcha/petition"
)

// recoverAsError turns a panicking hook into an *orchaerr.RuntimeError,
// the Go analogue of run_hook's blanket `except Exception`.
func recoverAsError(op string, dst *error) {
	if r := recover(); r != nil {
		err, ok := r.(error)
		if !ok {
			err = fmt.Errorf("%v", r)
		}
		*dst = &orchaerr.RuntimeError{Op: op, Err: err}
	}
}

// RunManagerStart invokes OnManagerStart on every hook that implements it.
// Panics are logged and swallowed.
func (c *Chain) RunManagerStart(log zerolog.Logger) {
	for _, p := range c.plugs {
		h, ok := p.(ManagerStartHook)
		if !ok {
			continue
		}
		runGuarded(log, "on_manager_start", func() { h.OnManagerStart() })
	}
}

// RunManagerShutdown invokes OnManagerShutdown on every hook that
// implements it. Panics are logged and swallowed.
func (c *Chain) RunManagerShutdown(log zerolog.Logger) {
	for _, p := range c.plugs {
		h, ok := p.(ManagerShutdownHook)
		if !ok {
			continue
		}
		runGuarded(log, "on_manager_shutdown", func() { h.OnManagerShutdown() })
	}
}

// RunMessagePreconvert invokes OnMessagePreconvert on each hook in order,
// stopping at the first one that returns a non-nil Petition (that result
// bypasses convert_to_petition). Panics are logged and swallowed as if the
// hook had returned nil.
func (c *Chain) RunMessagePreconvert(log zerolog.Logger, msg petition.Message) petition.Petition {
	for _, p := range c.plugs {
		h, ok := p.(MessagePreconvertHook)
		if !ok {
			continue
		}
		var result petition.Petition
		runGuarded(log, "on_message_preconvert", func() { result = h.OnMessagePreconvert(msg) })
		if result != nil {
			return result
		}
	}
	return nil
}

// RunPetitionCreate invokes OnPetitionCreate on every hook that implements
// it. Panics are logged and swallowed.
func (c *Chain) RunPetitionCreate(log zerolog.Logger, pet petition.Petition) {
	for _, p := range c.plugs {
		h, ok := p.(PetitionCreateHook)
		if !ok {
			continue
		}
		runGuarded(log, "on_petition_create", func() { h.OnPetitionCreate(pet) })
	}
}

// RunConditionCheck threads prior through every hook that implements
// ConditionCheckHook, in priority order, letting each transform or veto
// the result. Unlike every other extension point, a *orchaerr.ConditionFailed
// here is not swallowed: it is the caller's signal to deny admission. A
// panic that is not a ConditionFailed is returned as an error so the caller
// can steer the petition to BROKEN, per spec's "any other exception" rule.
func (c *Chain) RunConditionCheck(log zerolog.Logger, pet petition.Petition, prior *orchaerr.ConditionFailed) (*orchaerr.ConditionFailed, error) {
	cur := prior
	for _, p := range c.plugs {
		h, ok := p.(ConditionCheckHook)
		if !ok {
			continue
		}
		var err error
		func() {
			defer recoverAsError("on_condition_check", &err)
			cur = h.OnConditionCheck(pet, cur)
		}()
		if err != nil {
			// A panicking *orchaerr.ConditionFailed is a veto, the same as
			// returning it.
			var cf *orchaerr.ConditionFailed
			if errors.As(err, &cf) {
				cur = cf
				continue
			}
			return nil, err
		}
	}
	return cur, nil
}

// RunConditionFail invokes OnConditionFail on every hook that implements
// it. Panics are logged and swallowed.
func (c *Chain) RunConditionFail(log zerolog.Logger, failure *orchaerr.ConditionFailed) {
	for _, p := range c.plugs {
		h, ok := p.(ConditionFailHook)
		if !ok {
			continue
		}
		runGuarded(log, "on_condition_fail", func() { h.OnConditionFail(failure) })
	}
}

// RunPetitionStart invokes OnPetitionStart on each hook in order, stopping
// and reporting "handled" at the first one that returns true (it has taken
// over starting the petition itself). Panics are logged and swallowed.
func (c *Chain) RunPetitionStart(log zerolog.Logger, pet petition.Petition) (handled bool) {
	for _, p := range c.plugs {
		h, ok := p.(PetitionStartHook)
		if !ok {
			continue
		}
		runGuarded(log, "on_petition_start", func() { handled = h.OnPetitionStart(pet) })
		if handled {
			return true
		}
	}
	return false
}

// RunPetitionFinish invokes OnPetitionFinish on each hook in order, stopping
// and reporting "handled" at the first one that returns true. Panics are
// logged and swallowed.
func (c *Chain) RunPetitionFinish(log zerolog.Logger, pet petition.Petition) (handled bool) {
	for _, p := range c.plugs {
		h, ok := p.(PetitionFinishHook)
		if !ok {
			continue
		}
		runGuarded(log, "on_petition_finish", func() { handled = h.OnPetitionFinish(pet) })
		if handled {
			return true
		}
	}
	return false
}

func runGuarded(log zerolog.Logger, op string, fn func()) {
	var err error
	func() {
		defer recoverAsError(op, &err)
		fn()
	}()
	if err != nil {
		log.Error().Err(err).Str("hook", op).Msg("unhandled error in hook, swallowed")
	}
}
