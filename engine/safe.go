package engine

import (
	"fmt"

	"github.com/orchaframework/orcha/orchaerr"
	"github.com/orchaframework/orcha/petition"
)

// recoverAsRuntimeError turns a panicking call into an *orchaerr.RuntimeError,
// the same treatment hook.Chain gives a panicking hook (hook/chain.go's
// recoverAsError), extended to cover the user-code call sites a Chain never
// sees directly: Manager.ConvertToPetition/Condition/OnStart/OnFinish and
// Petition.Action/Terminate (spec §7's "user code in convert_to_petition,
// hooks, on_start, on_finish, and terminate: exceptions are logged and
// swallowed; the petition is steered to BROKEN and finalized").
func recoverAsRuntimeError(op string, dst *error) {
	if r := recover(); r != nil {
		err, ok := r.(error)
		if !ok {
			err = fmt.Errorf("%v", r)
		}
		*dst = &orchaerr.RuntimeError{Op: op, Err: err}
	}
}

// safeConvertToPetition guards mgr.ConvertToPetition. A panic is reported
// the same way a normal error return is: the caller has no petition to mark
// BROKEN yet, so the submission is simply dropped.
func (e *Engine) safeConvertToPetition(msg petition.Message) (pet petition.Petition, err error) {
	defer recoverAsRuntimeError("convert_to_petition", &err)
	return e.mgr.ConvertToPetition(msg)
}

// safeCondition guards mgr.Condition.
func (e *Engine) safeCondition(pet petition.Petition) (failure *orchaerr.ConditionFailed, err error) {
	defer recoverAsRuntimeError("condition", &err)
	return e.mgr.Condition(pet), nil
}

// safeOnStart guards mgr.OnStart. A panic is treated as the "unhealthy"
// false return manager.Manager's doc comment already specifies, in
// addition to being reported as an error so the caller can also mark the
// petition BROKEN.
func (e *Engine) safeOnStart(pet petition.Petition) (healthy bool, err error) {
	defer recoverAsRuntimeError("on_start", &err)
	return e.mgr.OnStart(pet), nil
}

// safeOnFinish guards mgr.OnFinish.
func (e *Engine) safeOnFinish(pet petition.Petition) (err error) {
	defer recoverAsRuntimeError("on_finish", &err)
	e.mgr.OnFinish(pet)
	return nil
}

// safeTerminate guards Petition.Terminate.
func safeTerminate(pet petition.Petition) (ok bool, err error) {
	defer recoverAsRuntimeError("terminate", &err)
	return pet.Terminate()
}

// safeAction guards Petition.Action.
func safeAction(pet petition.Petition) (err error) {
	defer recoverAsRuntimeError("action", &err)
	return pet.Action()
}
