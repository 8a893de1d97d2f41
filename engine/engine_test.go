package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/orchaframework/orcha/config"
	"github.com/orchaframework/orcha/hook"
	"github.com/orchaframework/orcha/internal/orchalog"
	"github.com/orchaframework/orcha/manager"
	"github.com/orchaframework/orcha/orchaerr"
	"github.com/orchaframework/orcha/petition"
	"github.com/orchaframework/orcha/queue"
)

// testPetition lets each test script its own Action/Terminate behavior
// without a dedicated type per scenario.
type testPetition struct {
	petition.Base
	action    func(*testPetition) error
	terminate func(*testPetition) (bool, error)
}

func (p *testPetition) Action() error {
	if p.action == nil {
		return nil
	}
	return p.action(p)
}

func (p *testPetition) Terminate() (bool, error) {
	if p.terminate == nil {
		return true, nil
	}
	return p.terminate(p)
}

// testManager converts every message through a user-supplied builder and
// gates admission through a user-supplied condition, exercising the same
// Manager surface a real plugin would.
type testManager struct {
	*manager.Base
	build     func(msg petition.Message) (petition.Petition, error)
	condition func(p petition.Petition) *orchaerr.ConditionFailed
	hooks     *hook.Chain
}

func newTestManager() *testManager {
	return &testManager{Base: manager.NewBase(), hooks: hook.NewChain()}
}

func (m *testManager) ConvertToPetition(msg petition.Message) (petition.Petition, error) {
	if m.build != nil {
		return m.build(msg)
	}
	return &testPetition{Base: petition.NewBase(msg.ID, 0, queue.New[petition.Frame]())}, nil
}

func (m *testManager) Condition(p petition.Petition) *orchaerr.ConditionFailed {
	if m.condition != nil {
		return m.condition(p)
	}
	return nil
}

func (m *testManager) Hooks() *hook.Chain { return m.hooks }

func testConfig() config.Config {
	cfg := config.Default()
	cfg.QueueTimeout = 20 * time.Millisecond
	cfg.LookAhead = 1
	cfg.MaxWorkers = 4
	return cfg
}

func newTestEngine(t *testing.T, mgr manager.Manager) *Engine {
	t.Helper()
	log := orchalog.New(nil, zerolog.Disabled)
	e := New(testConfig(), mgr, hook.NewChain(), log)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	})
	return e
}

func drainFrames(t *testing.T, replyQ queue.Queue[petition.Frame], timeout time.Duration) []petition.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	listener := replyQ.Join(ctx)

	var out []petition.Frame
	for {
		f, ok := listener.Next()
		if !ok {
			return out
		}
		out = append(out, f)
		if f.Terminal() {
			return out
		}
	}
}

// E1: a single petition streams its chunks in order, terminated by a
// return code.
func TestEngine_SubmitRunsActionAndStreamsFrames(t *testing.T) {
	mgr := newTestManager()
	mgr.build = func(msg petition.Message) (petition.Petition, error) {
		p := &testPetition{Base: petition.NewBase(msg.ID, 0, queue.New[petition.Frame]())}
		p.action = func(p *testPetition) error {
			for i := 0; i < 3; i++ {
				p.Write(petition.ChunkFrame(fmt.Sprintf("Hello World! %d", i)), true)
			}
			return nil
		}
		return p, nil
	}
	e := newTestEngine(t, mgr)

	replyQ, err := e.Submit(petition.Message{ID: "a"})
	require.NoError(t, err)

	// drainFrames stops at the first Terminal() frame, which is the
	// FrameCode Finish(0) writes as the stream's only terminator.
	frames := drainFrames(t, replyQ, 2*time.Second)
	require.Len(t, frames, 4)
	require.Equal(t, "Hello World! 0", frames[0].Chunk)
	require.Equal(t, "Hello World! 1", frames[1].Chunk)
	require.Equal(t, "Hello World! 2", frames[2].Chunk)
	require.Equal(t, petition.FrameCode, frames[3].Kind)
	require.Equal(t, 0, frames[3].Code)
}

// E2: with a single worker and look-ahead 1, the lower-priority-number
// petition is admitted first.
func TestEngine_LowerPriorityAdmitsFirst(t *testing.T) {
	var order []string
	var mu sync.Mutex
	started := make(chan struct{}, 2)

	mgr := newTestManager()
	mgr.build = func(msg petition.Message) (petition.Petition, error) {
		priority := msg.Extras["priority"].(float64)
		p := &testPetition{Base: petition.NewBase(msg.ID, priority, nil)}
		p.action = func(p *testPetition) error {
			mu.Lock()
			order = append(order, p.ID())
			mu.Unlock()
			started <- struct{}{}
			return nil
		}
		return p, nil
	}
	cfg := testConfig()
	cfg.MaxWorkers = 1
	cfg.LookAhead = 1
	log := orchalog.New(nil, zerolog.Disabled)
	e := New(cfg, mgr, hook.NewChain(), log)
	require.NoError(t, e.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	}()

	_, err := e.Submit(petition.Message{ID: "p1", Extras: map[string]any{"priority": 10.0}})
	require.NoError(t, err)
	_, err = e.Submit(petition.Message{ID: "p2", Extras: map[string]any{"priority": 5.0}})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for petitions to run")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"p2", "p1"}, order)
}

// E3 (abridged): a petition whose condition always fails is re-enqueued
// rather than admitted, while a satisfied one runs.
func TestEngine_ConditionFailureReenqueues(t *testing.T) {
	var denials atomic.Int32

	mgr := newTestManager()
	mgr.condition = func(p petition.Petition) *orchaerr.ConditionFailed {
		if p.ID() == "p1" {
			denials.Add(1)
			return &orchaerr.ConditionFailed{Condition: "always-false", Reason: "never admits"}
		}
		return nil
	}
	ran := make(chan string, 1)
	mgr.build = func(msg petition.Message) (petition.Petition, error) {
		priority := msg.Extras["priority"].(float64)
		p := &testPetition{Base: petition.NewBase(msg.ID, priority, nil)}
		p.action = func(p *testPetition) error {
			ran <- p.ID()
			return nil
		}
		return p, nil
	}
	// look-ahead must exceed 1 here: p1 sorts first (lower priority number)
	// but never admits, so with look-ahead 1 Admission would never peek far
	// enough to see p2 at all.
	cfg := testConfig()
	cfg.LookAhead = 2
	log := orchalog.New(nil, zerolog.Disabled)
	e := New(cfg, mgr, hook.NewChain(), log)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})

	_, err := e.Submit(petition.Message{ID: "p1", Extras: map[string]any{"priority": 5.0}})
	require.NoError(t, err)
	_, err = e.Submit(petition.Message{ID: "p2", Extras: map[string]any{"priority": 10.0}})
	require.NoError(t, err)

	select {
	case id := <-ran:
		require.Equal(t, "p2", id)
	case <-time.After(2 * time.Second):
		t.Fatal("p2 never ran")
	}

	require.Eventually(t, func() bool {
		return denials.Load() > 0
	}, time.Second, 10*time.Millisecond)
}

// E4: cancelling a running petition invokes Terminate and drives it to a
// terminal state, closing its reply queue.
func TestEngine_CancelInvokesTerminate(t *testing.T) {
	var terminated atomic.Bool
	running := make(chan struct{})
	release := make(chan struct{})

	mgr := newTestManager()
	mgr.build = func(msg petition.Message) (petition.Petition, error) {
		p := &testPetition{Base: petition.NewBase(msg.ID, 0, queue.New[petition.Frame]())}
		p.action = func(p *testPetition) error {
			close(running)
			<-release
			return nil
		}
		p.terminate = func(p *testPetition) (bool, error) {
			terminated.Store(true)
			close(release)
			return true, nil
		}
		return p, nil
	}
	e := newTestEngine(t, mgr)

	replyQ, err := e.Submit(petition.Message{ID: "x"})
	require.NoError(t, err)

	select {
	case <-running:
	case <-time.After(2 * time.Second):
		t.Fatal("action never started")
	}

	require.NoError(t, e.Cancel("x"))

	frames := drainFrames(t, replyQ, 2*time.Second)
	require.NotEmpty(t, frames)
	require.Equal(t, petition.FrameEnd, frames[len(frames)-1].Kind)
	require.True(t, terminated.Load())

	require.Eventually(t, func() bool {
		return e.RunningCount() == 0
	}, time.Second, 10*time.Millisecond)
}

// T6: after Shutdown, further Submit/Cancel calls return ErrManagerShutdown
// and a second Shutdown returns ErrAlreadyShutdown.
func TestEngine_ShutdownRejectsFurtherWork(t *testing.T) {
	mgr := newTestManager()
	log := orchalog.New(nil, zerolog.Disabled)
	e := New(testConfig(), mgr, hook.NewChain(), log)
	require.NoError(t, e.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))

	_, err := e.Submit(petition.Message{ID: "late"})
	require.ErrorIs(t, err, orchaerr.ErrManagerShutdown)

	err = e.Cancel("late")
	require.ErrorIs(t, err, orchaerr.ErrManagerShutdown)

	err = e.Shutdown(ctx)
	require.ErrorIs(t, err, orchaerr.ErrAlreadyShutdown)
}
