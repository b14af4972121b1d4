// Package fabric implements C5, the Role Server Fabric: one TCP/TLS
// listener per configured role, each feeding a bounded accept queue
// drained by per-connection session tasks.
package fabric

import "time"

// RoleID identifies which listener definition a Role is. It is not
// encoded into message Ids: responses echo the request's Id, and
// TCPPeerClient numbers its own requests from 0 with no role byte.
type RoleID byte

const (
	RolePrimary RoleID = iota
	RoleServerNeighbor
	RoleClientNonCustomer
	RoleClientCustomer
	RoleClientAppService
)

func (r RoleID) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleServerNeighbor:
		return "server-neighbor"
	case RoleClientNonCustomer:
		return "client-non-customer"
	case RoleClientCustomer:
		return "client-customer"
	case RoleClientAppService:
		return "client-app-service"
	default:
		return "unknown-role"
	}
}

// Role is the static definition of one listener: its port, whether it
// speaks TLS, and the keep-alive interval sessions on it are held to.
// Two roles may share a port only if TLS matches, per spec.md §4.5.
type Role struct {
	ID               RoleID
	BindAddress      string
	Port             int
	TLS              bool
	KeepAliveInterval time.Duration
}

// defaultServerKeepAlive and defaultClientKeepAlive are the distinct
// keep-alive defaults spec.md §4.5 calls for: server peers (neighbors)
// and client peers (hosted identities) are held to different cadences.
const (
	defaultServerKeepAlive = 5 * time.Minute
	defaultClientKeepAlive = 2 * time.Minute
)

// Roles builds the five role definitions from a resolved bind address and
// the configured ports.
func Roles(bindAddress string, primaryPort, neighborPort, nonCustomerPort, customerPort, appServicePort int) []Role {
	return []Role{
		{ID: RolePrimary, BindAddress: bindAddress, Port: primaryPort, TLS: false, KeepAliveInterval: defaultClientKeepAlive},
		{ID: RoleServerNeighbor, BindAddress: bindAddress, Port: neighborPort, TLS: true, KeepAliveInterval: defaultServerKeepAlive},
		{ID: RoleClientNonCustomer, BindAddress: bindAddress, Port: nonCustomerPort, TLS: true, KeepAliveInterval: defaultClientKeepAlive},
		{ID: RoleClientCustomer, BindAddress: bindAddress, Port: customerPort, TLS: true, KeepAliveInterval: defaultClientKeepAlive},
		{ID: RoleClientAppService, BindAddress: bindAddress, Port: appServicePort, TLS: true, KeepAliveInterval: defaultClientKeepAlive},
	}
}

// ValidateSharedPorts enforces spec.md §4.5's "two roles may share a port
// only if TLS flag matches" rule.
func ValidateSharedPorts(roles []Role) error {
	byPort := make(map[int]Role)
	for _, r := range roles {
		if existing, ok := byPort[r.Port]; ok {
			if existing.TLS != r.TLS {
				return &ConflictError{A: existing.ID, B: r.ID, Port: r.Port}
			}
			continue
		}
		byPort[r.Port] = r
	}
	return nil
}

// ConflictError reports two roles sharing a port with mismatched TLS flags.
type ConflictError struct {
	A, B RoleID
	Port int
}

func (e *ConflictError) Error() string {
	return "fabric: roles " + e.A.String() + " and " + e.B.String() + " share port and disagree on TLS"
}
