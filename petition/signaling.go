package petition

import (
	"fmt"
	"syscall"

	"github.com/orchaframework/orcha/queue"
)

// SignalingPetition is a ready-made Petition that cancels its action by
// sending a signal to a tracked PID (or process group), grounded on
// ext/petition.py's SignalingPetition. Plugin authors who don't need custom
// cancellation logic can use it directly; Action is expected to set PID
// once the child process exists.
type SignalingPetition struct {
	Base

	Signal         syscall.Signal
	IsProcessGroup bool
	PID            int

	act func(*SignalingPetition) error
}

// NewSignalingPetition constructs a SignalingPetition. act is the user
// action; it is expected to set p.PID before blocking on the child.
func NewSignalingPetition(
	id string,
	priority float64,
	replyQ queue.Queue[Frame],
	signal syscall.Signal,
	isProcessGroup bool,
	act func(p *SignalingPetition) error,
) *SignalingPetition {
	return &SignalingPetition{
		Base:           NewBase(id, priority, replyQ),
		Signal:         signal,
		IsProcessGroup: isProcessGroup,
		act:            act,
	}
}

// Action implements Petition.
func (p *SignalingPetition) Action() error {
	if p.act == nil {
		return nil
	}
	return p.act(p)
}

// Terminate implements Petition by signaling PID (or, if IsProcessGroup, the
// process group led by PID). A PID that no longer exists (ESRCH) is treated
// as a successful termination, matching "man 2 kill"'s documented errnos.
func (p *SignalingPetition) Terminate() (bool, error) {
	if p.PID <= 0 {
		return false, fmt.Errorf("orcha: petition %q requires a valid PID to terminate", p.ID())
	}

	target := p.PID
	if p.IsProcessGroup {
		target = -p.PID
	}

	err := syscall.Kill(target, p.Signal)
	switch err {
	case nil:
		return true, nil
	case syscall.EINVAL:
		return false, fmt.Errorf("orcha: unknown signal %d for petition %q: %w", p.Signal, p.ID(), err)
	case syscall.EPERM:
		return false, nil
	default:
		// ESRCH (or anything else): the process is already gone, which is
		// not a failure to terminate it.
		return true, nil
	}
}
