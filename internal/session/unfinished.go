package session

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/Internet-of-People/iop-profile-server/internal/transport"
)

// MaxUnfinishedRequests is the fixed capacity spec.md §4.6 gives a
// session's unfinished-request table; the 21st concurrent send fails.
const MaxUnfinishedRequests = 20

// ErrUnfinishedRequestTableFull is returned by Track when the table is
// already at MaxUnfinishedRequests.
var ErrUnfinishedRequestTableFull = errors.New("session: unfinished request table is full")

// PendingRequest is a Request this session sent and is still awaiting a
// Response for, keyed by the Id it was sent with.
type PendingRequest struct {
	Request transport.Request
}

// UnfinishedRequests is a session-local table of in-flight, self-
// originated requests. It is never shared across sessions.
type UnfinishedRequests struct {
	mu      sync.Mutex
	pending map[uint32]PendingRequest
}

// NewUnfinishedRequests constructs an empty table.
func NewUnfinishedRequests() *UnfinishedRequests {
	return &UnfinishedRequests{pending: make(map[uint32]PendingRequest)}
}

// Track records a newly sent request under id. It fails once the table
// already holds MaxUnfinishedRequests entries.
func (u *UnfinishedRequests) Track(id uint32, req transport.Request) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.pending) >= MaxUnfinishedRequests {
		return ErrUnfinishedRequestTableFull
	}
	u.pending[id] = PendingRequest{Request: req}
	return nil
}

// Resolve removes and returns the pending request for id, if any — called
// when the matching Response arrives. The Id, not arrival order, is
// authoritative: responses may arrive out of order.
func (u *UnfinishedRequests) Resolve(id uint32) (PendingRequest, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	p, ok := u.pending[id]
	if ok {
		delete(u.pending, id)
	}
	return p, ok
}

// Len reports the current number of unfinished requests.
func (u *UnfinishedRequests) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.pending)
}
