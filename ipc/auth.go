package ipc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/orchaframework/orcha/orchaerr"
)

// serverHandshake is the server side of the pre-shared-key challenge-response
// (spec §6: "Authentication uses a symmetric key provided to both ends;
// mismatches cause the connect call to fail"), the Go analogue of
// multiprocessing.managers.BaseManager's authkey exchange -- re-expressed
// as a nonce/HMAC round trip instead of the original's digest-of-connection
// handshake, since this channel has no equivalent built-in negotiation. If
// authKey is empty, authentication is not enforced (the caller is
// responsible for logging the warning spec §6 asks for); the nonce is
// still exchanged so both code paths use the same wire shape.
func serverHandshake(c Conn, authKey string) error {
	nonce := uuid.NewString()
	if err := c.Send(Envelope{Type: typeChallenge, Nonce: nonce}); err != nil {
		return err
	}

	var resp Envelope
	if err := c.Read(&resp); err != nil {
		return err
	}
	if resp.Type != typeAuth {
		return sendAuthFailure(c, "expected auth envelope")
	}

	if authKey != "" {
		want := macFor(authKey, nonce)
		if !hmac.Equal([]byte(want), []byte(resp.MAC)) {
			return sendAuthFailure(c, "key mismatch")
		}
	}

	return c.Send(Envelope{Type: typeAuthResult, OK: true})
}

func sendAuthFailure(c Conn, reason string) error {
	_ = c.Send(Envelope{Type: typeAuthResult, OK: false, Error: reason})
	return &orchaerr.AuthenticationError{Reason: reason}
}

// ClientHandshake is the client side: answer the server's challenge with
// HMAC-SHA256(authKey, nonce) and wait for the result. Exported so a real
// client binary or an integration test can dial the server without
// reimplementing the protocol.
func ClientHandshake(c Conn, authKey string) error {
	var challenge Envelope
	if err := c.Read(&challenge); err != nil {
		return err
	}
	if challenge.Type != typeChallenge {
		return fmt.Errorf("ipc: expected challenge envelope, got %q", challenge.Type)
	}

	mac := macFor(authKey, challenge.Nonce)
	if err := c.Send(Envelope{Type: typeAuth, MAC: mac}); err != nil {
		return err
	}

	var result Envelope
	if err := c.Read(&result); err != nil {
		return err
	}
	if result.Type != typeAuthResult || !result.OK {
		return &orchaerr.AuthenticationError{Reason: result.Error}
	}
	return nil
}

func macFor(authKey, nonce string) string {
	mac := hmac.New(sha256.New, []byte(authKey))
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}
