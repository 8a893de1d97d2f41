package engine

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/orchaframework/orcha/config"
	"github.com/orchaframework/orcha/hook"
	"github.com/orchaframework/orcha/manager"
	"github.com/orchaframework/orcha/orchaerr"
	"github.com/orchaframework/orcha/petition"
	"github.com/orchaframework/orcha/queue"
)

// Engine is the scheduling/lifecycle core: one value owned by main and
// passed by reference, replacing the source's first-call-wins singleton
// Processor (Design Notes §9 "Singleton Processor").
type Engine struct {
	cfg   config.Config
	mgr   manager.Manager
	hooks *hook.Chain
	log   zerolog.Logger

	submitQ    queue.Queue[*Submission]
	cancelInQ  queue.Queue[*CancelRequest]
	ready      *readyQueue
	cancelOutQ queue.Queue[*string]
	finalizeQ  queue.Queue[*string]

	// listenCtx/listenCancel bound the four PullFns below. They are built
	// in New, before Start, because queue.Queue is a broadcast queue that
	// drops pushes made while no listener is registered (it is not a
	// buffered channel): registering late would silently lose any
	// Submit/Cancel that raced Start. Each PullFn gives a worker the
	// "poll timeout" behavior spec §4.4 asks for directly: a bounded wait
	// that returns an empty slice and true on expiry so the worker can recheck
	// shutdown state without a separate select-on-ctx arm.
	listenCtx     context.Context
	listenCancel  context.CancelFunc
	submitPull    queue.PullFn[*Submission]
	cancelInPull  queue.PullFn[*CancelRequest]
	cancelOutPull queue.PullFn[*string]
	finalizePull  queue.PullFn[*string]

	arrival atomic.Uint64

	// mapMu protects petitions (invariant I1) and arrivalByID. It is a
	// leaf lock: never held while calling user code.
	mapMu       sync.Mutex
	petitions   map[string]petition.Entry
	arrivalByID map[string]uint64

	// setLock protects running-ids (invariant I3).
	setLock sync.Mutex
	running map[string]struct{}

	// petitionLock serializes on_start/on_finish calls through it, per
	// spec §5. Lock order across the three named locks:
	// setLock -> petitionLock -> managerLock.
	petitionLock sync.Mutex

	// managerLock serializes Start/Shutdown.
	managerLock sync.Mutex

	starvingMu sync.Mutex
	starving   map[string]bool

	pool *pool

	shuttingDown atomic.Bool
	started      atomic.Bool

	eg       *errgroup.Group
	egCtx    context.Context
	egCancel context.CancelCauseFunc
	lastTail string
}

// New constructs an Engine. Call Start to launch its workers.
func New(cfg config.Config, mgr manager.Manager, hooks *hook.Chain, log zerolog.Logger) *Engine {
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}

	e := &Engine{
		cfg:         cfg,
		mgr:         mgr,
		hooks:       hooks,
		log:         log,
		submitQ:     queue.New[*Submission](),
		cancelInQ:   queue.New[*CancelRequest](),
		ready:       newReadyQueue(),
		cancelOutQ:  queue.New[*string](),
		finalizeQ:   queue.New[*string](),
		petitions:   make(map[string]petition.Entry),
		arrivalByID: make(map[string]uint64),
		running:     make(map[string]struct{}),
		starving:    make(map[string]bool),
		pool:        newPool(maxWorkers),
	}

	e.listenCtx, e.listenCancel = context.WithCancel(context.Background())
	e.submitPull = e.submitQ.Pull(e.listenCtx)
	e.cancelInPull = e.cancelInQ.Pull(e.listenCtx)
	e.cancelOutPull = e.cancelOutQ.Pull(e.listenCtx)
	e.finalizePull = e.finalizeQ.Pull(e.listenCtx)

	return e
}

// Start launches the five long-lived workers and the IPC-facing queues.
// It is not idempotent; calling it twice returns an error.
func (e *Engine) Start(ctx context.Context) error {
	e.managerLock.Lock()
	defer e.managerLock.Unlock()

	if !e.started.CompareAndSwap(false, true) {
		return orchaerr.ErrAlreadyShutdown
	}

	e.egCtx, e.egCancel = context.WithCancelCause(ctx)
	eg, egCtx := errgroup.WithContext(e.egCtx)
	e.eg = eg

	e.hooks.RunManagerStart(e.log)

	workers := []struct {
		name string
		run  func(context.Context) error
	}{
		{"intake", e.runIntake},
		{"admission", e.runAdmission},
		{"finalizer", e.runFinalizer},
		{"cancel-intake", e.runCancelIntake},
		{"cancel-dispatch", e.runCancelDispatch},
	}

	for _, w := range workers {
		w := w
		eg.Go(func() error {
			err := w.run(egCtx)
			if err != nil && err != context.Canceled {
				// A top-level worker crash is fatal: tear the whole
				// engine down so a supervisor can restart the process
				// (spec §7).
				e.log.Error().Err(err).Str("worker", w.name).Msg("worker crashed, shutting down")
				e.shuttingDown.Store(true)
			}
			return err
		})
	}

	return nil
}

// isShuttingDown reports whether the engine has begun draining.
func (e *Engine) isShuttingDown() bool {
	return e.shuttingDown.Load()
}

// Submit enqueues a message for conversion, returning the reply queue the
// caller should stream frames from. Fails with orchaerr.ErrManagerShutdown
// once the engine is draining.
func (e *Engine) Submit(msg petition.Message) (queue.Queue[petition.Frame], error) {
	if e.isShuttingDown() {
		return nil, orchaerr.ErrManagerShutdown
	}
	replyQ := queue.New[petition.Frame]()
	e.submitQ.Push(&Submission{Message: msg, ReplyQueue: replyQ})
	return replyQ, nil
}

// Cancel enqueues a cancellation request for id. Fails with
// orchaerr.ErrManagerShutdown once the engine is draining.
func (e *Engine) Cancel(id string) error {
	if e.isShuttingDown() {
		return orchaerr.ErrManagerShutdown
	}
	e.cancelInQ.Push(&CancelRequest{ID: id})
	return nil
}

// RunningCount returns the number of petitions currently in a RUNNING
// state, for tests and diagnostics.
func (e *Engine) RunningCount() int {
	e.setLock.Lock()
	defer e.setLock.Unlock()
	return len(e.running)
}

// Shutdown drains the engine: it stops accepting submissions/cancels,
// queues a cancellation for every petition still tracked, then unblocks
// the five workers so they drain that backlog before exiting on the nil
// sentinel. It waits up to 5s for the workers to join, cancelling their
// context past that deadline, then up to 30s for any pool tasks still in
// flight; past the second deadline it only logs a warning and returns
// without waiting for them. ctx is not consulted. A second call returns
// orchaerr.ErrAlreadyShutdown (spec §7's EEXIST).
func (e *Engine) Shutdown(ctx context.Context) error {
	e.managerLock.Lock()
	defer e.managerLock.Unlock()

	if !e.shuttingDown.CompareAndSwap(false, true) {
		return orchaerr.ErrAlreadyShutdown
	}

	e.hooks.RunManagerShutdown(e.log)

	e.mapMu.Lock()
	ids := make([]string, 0, len(e.petitions))
	for id := range e.petitions {
		ids = append(ids, id)
	}
	e.mapMu.Unlock()
	for _, id := range ids {
		e.cancelInQ.Push(&CancelRequest{ID: id})
	}

	// nil sentinels tell Intake/Cancel-Intake to stop once they have
	// drained everything pushed ahead of the sentinel in FIFO order.
	e.submitQ.Push(nil)
	e.cancelInQ.Push(nil)
	// Unblock Admission's wait on an empty ready queue.
	e.ready.Push(readyItem{priority: 0, arrival: e.arrival.Add(1), pet: petition.NewEmptyPetition()})

	joinCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.eg.Wait() }()
	select {
	case <-done:
	case <-joinCtx.Done():
		e.log.Warn().Msg("workers did not join within 5s, cancelling forcefully")
		e.egCancel(joinCtx.Err())
		<-done
	}

	poolCtx, poolCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer poolCancel()
	poolDone := make(chan error, 1)
	go func() { poolDone <- e.pool.Wait() }()
	select {
	case <-poolDone:
	case <-poolCtx.Done():
		e.log.Warn().Msg("pending worker-pool tasks did not finish within 30s")
	}

	e.listenCancel()

	return nil
}
