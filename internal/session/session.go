package session

import (
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Internet-of-People/iop-profile-server/internal/fabric"
)

// SearchCacheEntry is one cached ProfileSearch result page, keyed by a
// normalized query string, per spec.md §4.6's "search-result cache (for
// the customer/non-customer clients)".
type SearchCacheEntry struct {
	Results   []byte // pre-serialized response payload
	CreatedAt time.Time
}

// NeighborhoodInitStatus tracks an in-progress neighborhood
// initialization conversation for a neighbor session.
type NeighborhoodInitStatus struct {
	InProgress      bool
	ReceivedBatches int
}

// RoleContext holds the role-specific session state spec.md §4.6 names:
// a search-result cache for client roles, the exposed application-service
// list for hosted online identities, a relay reference for application-
// service interface sessions, and neighborhood-init status for neighbor
// sessions. Only the fields relevant to a session's role are populated.
type RoleContext struct {
	SearchCache            *lru.Cache[string, SearchCacheEntry]
	ExposedApplicationIDs  []string
	Relay                  interface{}
	NeighborhoodInit       *NeighborhoodInitStatus
}

const defaultSearchCacheSize = 32

// NewRoleContext allocates a RoleContext with an initialized search
// cache, ready to be specialized per role.
func NewRoleContext() RoleContext {
	cache, _ := lru.New[string, SearchCacheEntry](defaultSearchCacheSize)
	return RoleContext{SearchCache: cache}
}

// Session is one connection's full state: conversation FSM, identity,
// keep-alive deadline, unfinished-request table, handshake challenges,
// and role-specific context.
type Session struct {
	Conn net.Conn
	Role fabric.Role

	mu       sync.Mutex
	state    ConversationState
	identity PeerIdentity
	deadline time.Time

	Unfinished *UnfinishedRequests
	RoleCtx    RoleContext

	// ChallengeFromClient is the 32-byte challenge the peer sent us in
	// StartConversation, signed by us as part of the handshake response.
	ChallengeFromClient []byte
	// ChallengeFromServer is the 32-byte challenge we generated and sent,
	// which the peer must sign to complete VerifyIdentity.
	ChallengeFromServer []byte

	closeOnce sync.Once
}

// NewSession constructs a fresh, unauthenticated session for a just-
// accepted connection.
func NewSession(conn net.Conn, role fabric.Role) *Session {
	return &Session{
		Conn:       conn,
		Role:       role,
		state:      StateNone,
		identity:   Anonymous,
		deadline:   time.Now().Add(role.KeepAliveInterval),
		Unfinished: NewUnfinishedRequests(),
		RoleCtx:    NewRoleContext(),
	}
}

// State returns the session's current conversation state.
func (s *Session) State() ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session to next.
func (s *Session) SetState(next ConversationState) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// Identity returns the session's current peer identity.
func (s *Session) Identity() PeerIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Authenticate transitions the session to AUTHENTICATED with id.
func (s *Session) Authenticate(id PeerIdentity) {
	s.mu.Lock()
	s.identity = id
	s.state = StateAuthenticated
	s.mu.Unlock()
}

// Deadline returns the keep-alive deadline; satisfies fabric.SessionRegistry
// indirectly via Registry.CloseExpired.
func (s *Session) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// Touch refreshes the keep-alive deadline, called on every successfully
// processed inbound message per spec.md §4.6.
func (s *Session) Touch() {
	s.mu.Lock()
	s.deadline = time.Now().Add(s.Role.KeepAliveInterval)
	s.mu.Unlock()
}

// Close forcibly closes the underlying connection exactly once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.Conn.Close()
	})
}
