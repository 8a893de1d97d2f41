// Package engine implements Orcha's scheduler core: four queues and five
// workers (Intake, Admission, Finalizer, Cancel-Intake, Cancel-Dispatch)
// driving petitions through their state machine on top of a bounded worker
// pool. Grounded structurally on the teacher's queue/lifecycle packages
// (samthor/thorgo), and semantically on lib/orcha.py + lib/processor.py's
// newer, bounded-worker-pool variant (Design Notes §9, Q1).
package engine

import (
	"github.com/orchaframework/orcha/petition"
	"github.com/orchaframework/orcha/queue"
)

// Submission pairs an inbound Message with the reply queue the IPC layer
// created for it, the Go analogue of the envelope the original attached
// containing the per-request proxied reply queue.
type Submission struct {
	Message    petition.Message
	ReplyQueue queue.Queue[petition.Frame]
}

// CancelRequest carries the id of a petition a client wants cancelled.
type CancelRequest struct {
	ID string
}

// boxID heap-allocates id so it can travel through a queue.Queue[*string],
// whose nil value is reserved as the shutdown sentinel (an empty-string id
// is otherwise a legal, if unusual, client-chosen Message.ID).
func boxID(id string) *string {
	return &id
}
