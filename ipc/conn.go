package ipc

import (
	"context"
	"encoding/json"
	"net"
	"sync"
)

// netConn wraps a net.Conn as a Conn, using a single json.Decoder/Encoder
// pair over the raw stream (consecutive JSON values need no extra framing).
// Cancelling ctx on the first Read/Send error mirrors socketTransport's
// cancel-on-failure behavior in the teacher's transport package.
//
// Send is guarded by sendMu: a submit's reply-frame forwarding runs on its
// own goroutine so the connection's read loop stays free to observe a
// concurrent cancel, which means two goroutines can call Send on the same
// connection at once. json.Encoder.Encode is not safe for concurrent use by
// itself, so writes are serialized here instead.
type netConn struct {
	conn   net.Conn
	ctx    context.Context
	cancel context.CancelCauseFunc
	dec    *json.Decoder

	sendMu sync.Mutex
	enc    *json.Encoder
}

func newNetConn(conn net.Conn) *netConn {
	ctx, cancel := context.WithCancelCause(context.Background())
	nc := &netConn{
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		dec:    json.NewDecoder(conn),
		enc:    json.NewEncoder(conn),
	}
	context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	return nc
}

func (c *netConn) Context() context.Context {
	return c.ctx
}

func (c *netConn) Read(v any) error {
	err := c.dec.Decode(v)
	if err != nil {
		c.cancel(err)
	}
	return err
}

func (c *netConn) Send(v any) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	err := c.enc.Encode(v)
	if err != nil {
		c.cancel(err)
	}
	return err
}
