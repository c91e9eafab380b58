package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrApprovalCancelled is returned by Wait when the request is cancelled
// before a decision arrives.
var ErrApprovalCancelled = errors.New("approval request cancelled")

// ApprovalTx carries approval requests from the executor to the host.
type ApprovalTx = chan *ApprovalRequest

// Decision is the outcome of an approval prompt.
type Decision int

const (
	Denied Decision = iota
	Approved
	// ApprovedAlways approves and remembers the tool for the session.
	ApprovedAlways
)

// ApprovalRequest asks the host to confirm a tool invocation. Exactly one of
// Respond or Cancel must be called; later calls are no-ops.
type ApprovalRequest struct {
	Name  string
	Input json.RawMessage

	resp       chan Decision
	done       chan struct{}
	cancelOnce sync.Once
}

func NewApprovalRequest(name string, input json.RawMessage) *ApprovalRequest {
	return &ApprovalRequest{
		Name:  name,
		Input: input,
		resp:  make(chan Decision, 1),
		done:  make(chan struct{}),
	}
}

// Respond resolves the request with a plain approve/deny.
func (r *ApprovalRequest) Respond(approved bool) {
	d := Denied
	if approved {
		d = Approved
	}
	r.RespondValue(d)
}

// RespondValue resolves the request with an explicit decision.
func (r *ApprovalRequest) RespondValue(d Decision) {
	select {
	case r.resp <- d:
	default:
	}
}

// Cancel abandons the request. Idempotent.
func (r *ApprovalRequest) Cancel() {
	r.cancelOnce.Do(func() { close(r.done) })
}

// Wait blocks until a decision, cancellation, or context expiry.
func (r *ApprovalRequest) Wait(ctx context.Context) (Decision, error) {
	select {
	case d := <-r.resp:
		return d, nil
	case <-r.done:
		return Denied, ErrApprovalCancelled
	case <-ctx.Done():
		return Denied, ctx.Err()
	}
}
