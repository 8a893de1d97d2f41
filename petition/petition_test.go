package petition

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchaframework/orcha/orchaerr"
	"github.com/orchaframework/orcha/queue"
)

type fakePetition struct {
	Base
	terminated int
}

func (f *fakePetition) Action() error { return nil }

func (f *fakePetition) Terminate() (bool, error) {
	f.terminated++
	return true, nil
}

func newFakePetition(id string, priority float64, replyQ queue.Queue[Frame]) *fakePetition {
	return &fakePetition{Base: NewBase(id, priority, replyQ)}
}

func TestBase_TransitionRejectsIllegalMove(t *testing.T) {
	p := newFakePetition("x", 1, nil)
	require.NoError(t, p.Transition(Enqueued))
	require.NoError(t, p.Transition(Running))

	err := p.Transition(Pending)
	require.Error(t, err)
	var invalid *orchaerr.InvalidStateError
	require.True(t, errors.As(err, &invalid))
	require.Equal(t, "RUNNING", invalid.From)
	require.Equal(t, "PENDING", invalid.To)
}

func TestBase_TransitionNoOpSameState(t *testing.T) {
	p := newFakePetition("x", 1, nil)
	require.NoError(t, p.Transition(Pending))
	require.Equal(t, Pending, p.State())
}

func TestBase_WriteAfterCloseIsDropped(t *testing.T) {
	q := queue.New[Frame]()
	p := newFakePetition("x", 1, q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listener := q.Join(ctx)

	p.Write(ChunkFrame("hello"), true)
	p.Finish(0)
	p.Write(ChunkFrame("should not appear"), true)

	got := listener.Batch()
	require.Len(t, got, 2)
	require.Equal(t, FrameChunk, got[0].Kind)
	require.Equal(t, "hello", got[0].Chunk)
	require.Equal(t, FrameCode, got[1].Kind)
	require.Equal(t, 0, got[1].Code)
}

func TestBase_CloseIdempotent(t *testing.T) {
	q := queue.New[Frame]()
	p := newFakePetition("x", 1, q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listener := q.Join(ctx)

	p.Close()
	p.Close()

	got := listener.Batch()
	require.Len(t, got, 1)
	require.Equal(t, FrameEnd, got[0].Kind)
}

func TestBase_SeenCount(t *testing.T) {
	p := newFakePetition("x", 1, nil)
	require.Equal(t, 0, p.SeenCount())
	require.Equal(t, 1, p.IncSeen())
	require.Equal(t, 2, p.IncSeen())
	p.ResetSeen()
	require.Equal(t, 0, p.SeenCount())
}

func TestEmptyPetition(t *testing.T) {
	p := NewEmptyPetition()
	require.Equal(t, EmptyID, p.ID())
	require.True(t, p.Priority() > 1e300)
	require.NoError(t, p.Action())
	ok, err := p.Terminate()
	require.True(t, ok)
	require.NoError(t, err)
}

func TestPlaceholder(t *testing.T) {
	ph := NewPlaceholder("x")
	require.Equal(t, "x", ph.EntryID())
	require.False(t, ph.CancelRequested())
	ph.RequestCancel()
	require.True(t, ph.CancelRequested())
}
