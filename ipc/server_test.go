package ipc

import (
	"context"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/orchaframework/orcha/internal/orchalog"
	"github.com/orchaframework/orcha/orchaerr"
	"github.com/orchaframework/orcha/petition"
	"github.com/orchaframework/orcha/queue"
)

// fakeEngine is a scriptable stand-in for *engine.Engine so these tests
// exercise the wire protocol without a running scheduler.
type fakeEngine struct {
	submit func(petition.Message) (queue.Queue[petition.Frame], error)
	cancel func(string) error
}

func (f *fakeEngine) Submit(msg petition.Message) (queue.Queue[petition.Frame], error) {
	return f.submit(msg)
}

func (f *fakeEngine) Cancel(id string) error {
	return f.cancel(id)
}

func TestServer_SubmitStreamsFramesToClient(t *testing.T) {
	replyQ := queue.New[petition.Frame]()
	eng := &fakeEngine{
		submit: func(msg petition.Message) (queue.Queue[petition.Frame], error) {
			require.Equal(t, "a", msg.ID)
			return replyQ, nil
		},
	}
	srv := NewServer(eng, "secret", orchalog.New(nil, zerolog.Disabled))

	serverRaw, clientRaw := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.handleConn(ctx, serverRaw)

	client := newNetConn(clientRaw)
	require.NoError(t, ClientHandshake(client, "secret"))

	require.NoError(t, client.Send(Envelope{Type: typeSubmit, ID: "a"}))

	var ack Envelope
	require.NoError(t, client.Read(&ack))
	require.Equal(t, typeAck, ack.Type)

	replyQ.Push(petition.ChunkFrame("hello"))
	replyQ.Push(petition.EndFrame())

	var f1 Envelope
	require.NoError(t, client.Read(&f1))
	require.Equal(t, typeFrame, f1.Type)

	var f2 Envelope
	require.NoError(t, client.Read(&f2))
	require.Equal(t, typeFrame, f2.Type)
}

func TestServer_WrongKeyRejected(t *testing.T) {
	eng := &fakeEngine{}
	srv := NewServer(eng, "secret", orchalog.New(nil, zerolog.Disabled))

	serverRaw, clientRaw := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.handleConn(ctx, serverRaw)

	client := newNetConn(clientRaw)
	err := ClientHandshake(client, "wrong-key")
	require.Error(t, err)
	var authErr *orchaerr.AuthenticationError
	require.ErrorAs(t, err, &authErr)
}

// TestServer_CancelDuringInFlightSubmitOnSameConnection exercises the E4
// scenario (submit a petition, then immediately cancel it) over a single
// connection while the submit's reply stream is still open. Before
// handleSubmit ran on its own goroutine, the connection's one read loop sat
// blocked inside it until the stream's terminal frame, so the cancel
// envelope below would never even be read until the stream ended.
func TestServer_CancelDuringInFlightSubmitOnSameConnection(t *testing.T) {
	replyQ := queue.New[petition.Frame]()
	eng := &fakeEngine{
		submit: func(msg petition.Message) (queue.Queue[petition.Frame], error) {
			require.Equal(t, "a", msg.ID)
			return replyQ, nil
		},
		cancel: func(id string) error {
			require.Equal(t, "a", id)
			return nil
		},
	}
	srv := NewServer(eng, "secret", orchalog.New(nil, zerolog.Disabled))

	serverRaw, clientRaw := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.handleConn(ctx, serverRaw)

	client := newNetConn(clientRaw)
	require.NoError(t, ClientHandshake(client, "secret"))

	require.NoError(t, client.Send(Envelope{Type: typeSubmit, ID: "a"}))
	require.NoError(t, client.Send(Envelope{Type: typeCancel, ID: "a"}))

	// The submit's stream has no terminal frame yet (replyQ hasn't been
	// pushed to), so both the submit-ack and the cancel-ack must arrive
	// without either one waiting on the other.
	acks := 0
	for i := 0; i < 2; i++ {
		var resp Envelope
		require.NoError(t, client.Read(&resp))
		require.Equal(t, typeAck, resp.Type)
		acks++
	}
	require.Equal(t, 2, acks)

	// The read loop must still be free to keep servicing the submit's
	// stream afterward.
	replyQ.Push(petition.ChunkFrame("hello"))
	replyQ.Push(petition.EndFrame())

	var f1 Envelope
	require.NoError(t, client.Read(&f1))
	require.Equal(t, typeFrame, f1.Type)

	var f2 Envelope
	require.NoError(t, client.Read(&f2))
	require.Equal(t, typeFrame, f2.Type)
}

func TestServer_CancelForwardsAndRejectsWhenShuttingDown(t *testing.T) {
	var cancelledID string
	eng := &fakeEngine{
		cancel: func(id string) error {
			cancelledID = id
			return orchaerr.ErrManagerShutdown
		},
	}
	srv := NewServer(eng, "", orchalog.New(nil, zerolog.Disabled))

	serverRaw, clientRaw := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.handleConn(ctx, serverRaw)

	client := newNetConn(clientRaw)
	require.NoError(t, ClientHandshake(client, ""))

	require.NoError(t, client.Send(Envelope{Type: typeCancel, ID: "x"}))

	var resp Envelope
	require.NoError(t, client.Read(&resp))
	require.Equal(t, typeError, resp.Type)
	require.Equal(t, "manager_shutdown", resp.Error)
	require.Equal(t, "x", cancelledID)
}
