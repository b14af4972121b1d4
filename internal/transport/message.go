// Package transport implements the wire protocol from spec.md §6: a
// length-prefixed frame wrapping a msgpack-encoded Message, carrying
// either a Request or a Response keyed by a 32-bit Id.
package transport

// Status is the coarse response status code every Response carries.
type Status uint8

const (
	StatusOk Status = iota
	StatusErrorProtocolViolation
	StatusErrorUnsupported
	StatusErrorInvalidSignature
	StatusErrorInvalidValue
	StatusErrorBusy
	StatusErrorRejected
	StatusErrorNotFound
	StatusErrorInternal
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusErrorProtocolViolation:
		return "ErrorProtocolViolation"
	case StatusErrorUnsupported:
		return "ErrorUnsupported"
	case StatusErrorInvalidSignature:
		return "ErrorInvalidSignature"
	case StatusErrorInvalidValue:
		return "ErrorInvalidValue"
	case StatusErrorBusy:
		return "ErrorBusy"
	case StatusErrorRejected:
		return "ErrorRejected"
	case StatusErrorNotFound:
		return "ErrorNotFound"
	case StatusErrorInternal:
		return "ErrorInternal"
	default:
		return "ErrorUnknownStatus"
	}
}

// Kind names the concrete message set from spec.md §6.
type Kind string

const (
	KindStartConversation                Kind = "StartConversation"
	KindVerifyIdentity                   Kind = "VerifyIdentity"
	KindRegisterHosting                  Kind = "RegisterHosting"
	KindCheckIn                          Kind = "CheckIn"
	KindUpdateProfile                    Kind = "UpdateProfile"
	KindCancelHostingAgreement           Kind = "CancelHostingAgreement"
	KindListRoles                        Kind = "ListRoles"
	KindGetIdentityInformation           Kind = "GetIdentityInformation"
	KindProfileSearch                    Kind = "ProfileSearch"
	KindApplicationServiceAdd            Kind = "ApplicationServiceAdd"
	KindStartNeighborhoodInitialization  Kind = "StartNeighborhoodInitialization"
	KindNeighborhoodSharedProfileUpdate  Kind = "NeighborhoodSharedProfileUpdate"
	KindFinishNeighborhoodInitialization Kind = "FinishNeighborhoodInitialization"
	KindStopNeighborhoodUpdates          Kind = "StopNeighborhoodUpdates"
)

// Message is the envelope every frame carries: exactly one of Request or
// Response is non-nil.
type Message struct {
	Id       uint32 `msgpack:"id"`
	Request  *Request  `msgpack:"request,omitempty"`
	Response *Response `msgpack:"response,omitempty"`
}

// Request carries a Kind and its opaque, kind-specific payload. Payload is
// decoded by the handler registered for Kind, not by this package.
type Request struct {
	Kind    Kind        `msgpack:"kind"`
	Payload interface{} `msgpack:"payload"`
}

// Response carries the coarse Status plus a kind-specific payload echoed
// back to the Id of the Request it answers.
type Response struct {
	Status  Status      `msgpack:"status"`
	Payload interface{} `msgpack:"payload,omitempty"`
}

// IsRequest reports whether m carries a Request.
func (m Message) IsRequest() bool { return m.Request != nil }

// IsResponse reports whether m carries a Response.
func (m Message) IsResponse() bool { return m.Response != nil }
