package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/orchaframework/orcha/config"
	"github.com/orchaframework/orcha/internal/orchalog"
	"github.com/orchaframework/orcha/petition"
	orchatime "github.com/orchaframework/orcha/time"
)

// runIntake is the first of the five long-lived workers (spec §4.4,
// *Intake*). It polls submit with the configured timeout so a shutdown
// sentinel is observed within one poll period, converts each message to a
// Petition, and routes it to ready (or straight to cancel-out if the
// placeholder already carries an early cancel request).
func (e *Engine) runIntake(ctx context.Context) error {
	log := orchalog.Worker(e.log, "intake")
	for {
		if ctx.Err() != nil {
			return nil
		}
		subs, ok := e.submitPull(e.cfg.QueueTimeout)
		if !ok {
			return nil
		}
		for _, sub := range subs {
			if sub == nil {
				return nil
			}
			e.intakeOne(log, sub)
		}
	}
}

func (e *Engine) intakeOne(log zerolog.Logger, sub *Submission) {
	id := sub.Message.ID
	plog := orchalog.Petition(log, id)

	if e.isShuttingDown() {
		plog.Debug().Msg("dropping submission, manager is shutting down")
		return
	}

	placeholder := petition.NewPlaceholder(id)
	e.mapMu.Lock()
	e.petitions[id] = placeholder
	e.mapMu.Unlock()

	pet := e.hooks.RunMessagePreconvert(log, sub.Message)
	var err error
	if pet == nil {
		pet, err = e.safeConvertToPetition(sub.Message)
	}
	if err != nil || pet == nil {
		if err != nil {
			plog.Warn().Err(err).Msg("convert_to_petition failed, dropping submission")
		}
		e.mapMu.Lock()
		delete(e.petitions, id)
		e.mapMu.Unlock()
		return
	}

	cancelled := placeholder.CancelRequested()

	e.hooks.RunPetitionCreate(log, pet)

	arrival := e.arrival.Add(1)
	e.mapMu.Lock()
	e.petitions[id] = pet
	e.arrivalByID[id] = arrival
	e.mapMu.Unlock()

	// An early cancel that arrived while this id was still a Placeholder
	// leaves the fresh petition in PENDING: force the only legal path to
	// CANCELLED (PENDING has no direct edge to it) before routing it
	// straight to cancel-out instead of ready.
	if cancelled && pet.State() == petition.Pending {
		if err := pet.Transition(petition.Enqueued); err != nil {
			plog.Error().Err(err).Msg("invalid transition to ENQUEUED")
			return
		}
		if err := pet.Transition(petition.Cancelled); err != nil {
			plog.Error().Err(err).Msg("invalid transition to CANCELLED")
			return
		}
		e.cancelOutQ.Push(boxID(id))
		return
	}

	// convert_to_petition/on_petition_create may itself have already left
	// the petition broken: it never ran, so it needs finalizing rather
	// than cancelling (Cancel-Dispatch would reject it as already
	// stopped and the map entry would never be cleaned up).
	if pet.State().IsInBrokenState() {
		e.finalizeQ.Push(boxID(id))
		return
	}

	if err := pet.Transition(petition.Enqueued); err != nil {
		plog.Error().Err(err).Msg("invalid transition to ENQUEUED")
		return
	}

	e.ready.Push(readyItem{priority: pet.Priority(), arrival: arrival, pet: pet})
}

// runCancelIntake is *Cancel-Intake*: it blocks on cancel-in and forwards
// every id to cancel-out unchanged. It carries no other logic; the
// Placeholder-vs-Petition distinction is resolved downstream by
// Cancel-Dispatch, which is the first worker to actually look the id up.
func (e *Engine) runCancelIntake(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		reqs, ok := e.cancelInPull(e.cfg.QueueTimeout)
		if !ok {
			return nil
		}
		for _, req := range reqs {
			if req == nil {
				e.cancelOutQ.Push(nil)
				return nil
			}
			e.cancelOutQ.Push(boxID(req.ID))
		}
	}
}

// runCancelDispatch is *Cancel-Dispatch*. For each id popped from
// cancel-out: if the id names a Placeholder (conversion still in flight),
// it records the early cancel and returns, letting Intake finish the
// Pending->Enqueued->Cancelled routing once conversion completes. If the
// id is unknown, it logs and drops. Otherwise it submits a pool task that
// ignores a stopped or done petition, finalizes an already-cancelled one
// without terminating it again, and otherwise transitions a RUNNING-ish
// petition to CANCELLED, removes it from ready, and invokes Terminate.
func (e *Engine) runCancelDispatch(ctx context.Context) error {
	log := orchalog.Worker(e.log, "cancel-dispatch")
	for {
		if ctx.Err() != nil {
			return nil
		}
		ids, ok := e.cancelOutPull(e.cfg.QueueTimeout)
		if !ok {
			return nil
		}
		for _, id := range ids {
			if id == nil {
				e.finalizeQ.Push(nil)
				return nil
			}
			e.dispatchCancel(log, *id)
		}
	}
}

func (e *Engine) dispatchCancel(log zerolog.Logger, id string) {
	plog := orchalog.Petition(log, id)

	e.mapMu.Lock()
	entry, found := e.petitions[id]
	e.mapMu.Unlock()

	if !found {
		plog.Warn().Msg("cancel requested for unknown petition, dropping")
		return
	}

	if ph, ok := entry.(*petition.Placeholder); ok {
		ph.RequestCancel()
		return
	}

	pet, ok := entry.(petition.Petition)
	if !ok {
		plog.Error().Msg("petitions entry is neither Placeholder nor Petition")
		return
	}

	e.pool.Submit(func() error {
		e.petitionLock.Lock()
		state := pet.State()
		if state.IsStopped() || state.IsDone() {
			e.petitionLock.Unlock()
			plog.Debug().Str("state", state.String()).Msg("cancel ignored, petition already stopped")
			return nil
		}
		if state.HasBeenCancelled() {
			// Already cancelled (a repeated cancel, or Intake's early-cancel
			// routing): Terminate is not invoked again, only finalized.
			e.petitionLock.Unlock()
			e.finalizeQ.Push(boxID(id))
			return nil
		}
		if err := pet.Transition(petition.Cancelled); err != nil {
			e.petitionLock.Unlock()
			plog.Error().Err(err).Msg("invalid transition to CANCELLED")
			return nil
		}
		e.petitionLock.Unlock()

		e.mapMu.Lock()
		arrival, tracked := e.arrivalByID[id]
		e.mapMu.Unlock()
		if tracked {
			e.ready.Remove(readyItem{priority: pet.Priority(), arrival: arrival})
		}

		ok, err := safeTerminate(pet)
		if err != nil {
			plog.Error().Err(err).Msg("terminate panicked or failed, marking petition BROKEN")
			e.petitionLock.Lock()
			_ = pet.Transition(petition.Broken)
			e.petitionLock.Unlock()
			pet.Write(petition.ChunkFrame(err.Error()+"\n"), true)
		} else if !ok {
			pet.Write(petition.ChunkFrame("error: terminate did not succeed\n"), true)
		}

		e.finalizeQ.Push(boxID(id))
		return nil
	})
}

// runFinalizer is *Finalizer*. It is fed by the worker-pool completion
// callback (Admission) and by Cancel-Dispatch, each pushing an id onto
// finalize once per petition. It promotes RUNNING->FINISHED on normal
// completion, leaves CANCELLED/BROKEN alone, runs on_petition_finish (with
// early-exit if a hook has already taken the petition to DONE), otherwise
// calls manager.OnFinish, then removes the petition from petitions and
// running-ids.
func (e *Engine) runFinalizer(ctx context.Context) error {
	log := orchalog.Worker(e.log, "finalizer")
	for {
		if ctx.Err() != nil {
			return nil
		}
		ids, ok := e.finalizePull(e.cfg.QueueTimeout)
		if !ok {
			return nil
		}
		for _, id := range ids {
			if id == nil {
				return nil
			}
			e.finalizeOne(log, *id)
		}
	}
}

func (e *Engine) finalizeOne(log zerolog.Logger, id string) {
	plog := orchalog.Petition(log, id)

	e.mapMu.Lock()
	entry, found := e.petitions[id]
	e.mapMu.Unlock()
	if !found {
		return
	}
	pet, ok := entry.(petition.Petition)
	if !ok {
		return
	}

	e.petitionLock.Lock()
	if pet.State().IsRunning() {
		if err := pet.Transition(petition.Finished); err != nil {
			plog.Error().Err(err).Msg("invalid transition to FINISHED")
		}
	}

	handled := e.hooks.RunPetitionFinish(log, pet)
	if !handled {
		if err := e.safeOnFinish(pet); err != nil {
			plog.Error().Err(err).Msg("on_finish panicked, marking petition BROKEN")
			_ = pet.Transition(petition.Broken)
		}
	}
	e.petitionLock.Unlock()

	// Only a clean FINISHED completion gets a synthetic success code;
	// CANCELLED/BROKEN petitions already wrote their own diagnostic frame
	// (or none, if they never ran) and just need the stream closed.
	if pet.State().HasFinished() {
		pet.Finish(0)
	} else {
		pet.Close()
	}

	e.setLock.Lock()
	delete(e.running, id)
	e.setLock.Unlock()

	e.mapMu.Lock()
	delete(e.petitions, id)
	delete(e.arrivalByID, id)
	e.mapMu.Unlock()

	e.clearStarving(id)
}

// runAdmission is *Admission*. Each round it peeks up to the effective
// look-ahead's worth of ready petitions in priority order, checks each
// one's condition, admits the first ones that pass onto the worker pool,
// and leaves unsuccessful ones in ready with an incremented seen-count.
func (e *Engine) runAdmission(ctx context.Context) error {
	log := orchalog.Worker(e.log, "admission")
	var round uint64

	for {
		if ctx.Err() != nil {
			return nil
		}

		n := e.effectiveLookAhead()
		if have := e.ready.Len(); n > have {
			n = have
		}
		if n == 0 {
			if e.isShuttingDown() {
				return nil
			}
			e.ready.Wait(ctx)
			continue
		}

		round++
		rlog := orchalog.Round(log, round)
		items := e.ready.PeekN(n)
		admittedAny := false

		for _, item := range items {
			if item.pet.ID() == petition.EmptyID {
				e.ready.Remove(item)
				if e.isShuttingDown() {
					return nil
				}
				break
			}
			if e.admitOne(rlog, item) {
				admittedAny = true
			}
		}

		if !admittedAny {
			e.maybeBackoff()
		}
	}
}

// admitOne processes a single peeked readyItem, returning whether it was
// admitted this round (taken out of ready and started; an unhealthy OnStart
// still counts, though its Action is never submitted to the pool).
func (e *Engine) admitOne(log zerolog.Logger, item readyItem) bool {
	pet := item.pet
	plog := orchalog.Petition(log, pet.ID())

	prior, err := e.safeCondition(pet)
	if err != nil {
		plog.Error().Err(err).Msg("condition panicked, marking petition BROKEN")
		e.breakPetition(pet, item)
		return false
	}
	failure, err := e.hooks.RunConditionCheck(log, pet, prior)
	if err != nil {
		plog.Error().Err(err).Msg("condition check panicked, marking petition BROKEN")
		e.breakPetition(pet, item)
		return false
	}
	if failure != nil {
		e.hooks.RunConditionFail(log, failure)
		e.markUnsuccessful(pet)
		return false
	}

	e.ready.Remove(item)

	e.petitionLock.Lock()
	if err := pet.Transition(petition.Running); err != nil {
		e.petitionLock.Unlock()
		plog.Error().Err(err).Msg("invalid transition to RUNNING")
		e.breakPetition(pet, item)
		return false
	}
	e.petitionLock.Unlock()

	pet.ResetSeen()
	e.clearStarving(pet.ID())

	e.setLock.Lock()
	e.running[pet.ID()] = struct{}{}
	e.setLock.Unlock()

	e.petitionLock.Lock()
	handled := e.hooks.RunPetitionStart(log, pet)
	healthy := true
	if !handled {
		var startErr error
		healthy, startErr = e.safeOnStart(pet)
		if startErr != nil {
			plog.Error().Err(startErr).Msg("on_start panicked, marking petition BROKEN")
			_ = pet.Transition(petition.Broken)
			healthy = false
		} else if !healthy {
			plog.Warn().Msg("on_start reported unhealthy petition, skipping action")
		}
	}
	e.petitionLock.Unlock()

	id := pet.ID()

	// manager.Manager.OnStart's contract: a false return (or a panic,
	// recovered as false) skips Action and goes straight to Finalizer.
	if !healthy {
		e.setLock.Lock()
		delete(e.running, id)
		e.setLock.Unlock()
		e.finalizeQ.Push(boxID(id))
		return true
	}

	e.pool.Submit(func() error {
		if err := safeAction(pet); err != nil {
			plog.Error().Err(err).Msg("action panicked or failed, marking petition BROKEN")
			e.petitionLock.Lock()
			_ = pet.Transition(petition.Broken)
			e.petitionLock.Unlock()
			pet.Write(petition.ChunkFrame(err.Error()+"\n"), true)
		}
		e.setLock.Lock()
		delete(e.running, id)
		e.setLock.Unlock()
		e.finalizeQ.Push(boxID(id))
		return nil
	})

	return true
}

// breakPetition steers pet to BROKEN and routes it directly to Finalizer,
// bypassing the worker pool (it never ran).
func (e *Engine) breakPetition(pet petition.Petition, item readyItem) {
	e.ready.Remove(item)
	e.petitionLock.Lock()
	_ = pet.Transition(petition.Broken)
	e.petitionLock.Unlock()
	e.finalizeQ.Push(boxID(pet.ID()))
}

// markUnsuccessful increments a denied petition's seen-count and adds it to
// the starving set once it crosses config.StarvationThreshold (spec §4.4's
// starvation rule, T4). It is left in ready exactly as PeekN found it: the
// tree was never told to remove it.
func (e *Engine) markUnsuccessful(pet petition.Petition) {
	if pet.IncSeen() >= config.StarvationThreshold {
		e.starvingMu.Lock()
		e.starving[pet.ID()] = true
		e.starvingMu.Unlock()
	}
}

func (e *Engine) clearStarving(id string) {
	e.starvingMu.Lock()
	delete(e.starving, id)
	e.starvingMu.Unlock()
}

// effectiveLookAhead implements Open Question Q3's cleaner rewrite: rather
// than stashing and restoring a saved look-ahead value (which the original
// could overwrite across overlapping starvation events), it recomputes the
// effective value from the configured one plus whether starving is
// currently empty.
func (e *Engine) effectiveLookAhead() int {
	e.starvingMu.Lock()
	starving := len(e.starving) > 0
	e.starvingMu.Unlock()
	if starving {
		return 1
	}
	if e.cfg.LookAhead <= 0 {
		return 1
	}
	return e.cfg.LookAhead
}

// maybeBackoff implements the anti-tight-spin rule: if the ready queue's
// tail id is unchanged since the previous round, sleep a random duration in
// [500ms, 5s) before the next round.
func (e *Engine) maybeBackoff() {
	tail, ok := e.ready.Tail()
	tailID := ""
	if ok {
		tailID = tail.pet.ID()
	}
	same := tailID == e.lastTail
	e.lastTail = tailID
	if same {
		time.Sleep(orchatime.DurationRange(500*time.Millisecond, 5*time.Second))
	}
}
