package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/orchaframework/orcha/petition"
)

// Client is the minimal counterpart to Server used by cmd/orcha's "run"
// subcommand (and available to any other Go process that wants to talk to
// an Orcha server without reimplementing the wire protocol).
type Client struct {
	conn Conn
	raw  net.Conn
}

// Dial connects to address, performs the pre-shared-key handshake, and
// returns a ready-to-use Client. authKey must match the server's
// configured key (both empty is a valid, unauthenticated pairing).
func Dial(ctx context.Context, address, authKey string) (*Client, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	c := newNetConn(raw)
	if err := ClientHandshake(c, authKey); err != nil {
		raw.Close()
		return nil, err
	}
	return &Client{conn: c, raw: raw}, nil
}

// Close tears down the underlying connection.
func (cl *Client) Close() error {
	return cl.raw.Close()
}

// Submit sends msg and invokes onFrame for every frame the server streams
// back, in order, until the terminal frame. It returns once the stream
// ends or the connection fails.
func (cl *Client) Submit(msg petition.Message, onFrame func(petition.Frame)) error {
	var rawExtras json.RawMessage
	if msg.Extras != nil {
		var err error
		rawExtras, err = json.Marshal(msg.Extras)
		if err != nil {
			return fmt.Errorf("ipc: marshal message extras: %w", err)
		}
	}

	if err := cl.conn.Send(Envelope{Type: typeSubmit, ID: msg.ID, Message: rawExtras}); err != nil {
		return err
	}

	var ack Envelope
	if err := cl.conn.Read(&ack); err != nil {
		return err
	}
	if ack.Type == typeError {
		return fmt.Errorf("ipc: submit rejected: %s", ack.Error)
	}

	for {
		var resp Envelope
		if err := cl.conn.Read(&resp); err != nil {
			return err
		}
		if resp.Type == typeError {
			return fmt.Errorf("ipc: server error: %s", resp.Error)
		}
		if resp.Type != typeFrame {
			continue
		}
		var frame petition.Frame
		if err := json.Unmarshal(resp.Frame, &frame); err != nil {
			return fmt.Errorf("ipc: decode frame: %w", err)
		}
		onFrame(frame)
		if frame.Terminal() {
			return nil
		}
	}
}

// Cancel requests cancellation of id, blocking until the server
// acknowledges or rejects the request.
func (cl *Client) Cancel(id string) error {
	if err := cl.conn.Send(Envelope{Type: typeCancel, ID: id}); err != nil {
		return err
	}
	var resp Envelope
	if err := cl.conn.Read(&resp); err != nil {
		return err
	}
	if resp.Type == typeError {
		return fmt.Errorf("ipc: cancel rejected: %s", resp.Error)
	}
	return nil
}
