package event

import "encoding/json"

// Call Event Kinds - Client to Server
const (
	// KindCallInitiate - caller rings a single callee
	KindCallInitiate Kind = "call-initiate"

	// KindCallAccept - callee accepts the incoming call
	KindCallAccept Kind = "call-accept"

	// KindCallReject - callee rejects the incoming call
	KindCallReject Kind = "call-reject"

	// KindCallEnd - either party ends an ongoing call
	KindCallEnd Kind = "call-end"
)

// Call Event Kinds - Server to Client
const (
	// KindIncomingCall - notify callee of an incoming call
	KindIncomingCall Kind = "incoming-call"

	// KindCallAccepted - notify caller that callee accepted
	KindCallAccepted Kind = "call-accepted"

	// KindCallRejected - notify caller that callee rejected
	KindCallRejected Kind = "call-rejected"

	// KindCallEnded - notify the other party that the call ended
	KindCallEnded Kind = "call-ended"
)

// Call Types
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// CallSignalPayload is the client-side shape of every call event:
// a target identity and an opaque negotiation blob. The relay never
// inspects Signal; it belongs to the two endpoints.
type CallSignalPayload struct {
	To       string          `json:"to"`
	Signal   json.RawMessage `json:"signal,omitempty"`
	CallType string          `json:"callType,omitempty"`
}

// IncomingCallPayload is delivered to the callee on call-initiate.
type IncomingCallPayload struct {
	From     string          `json:"from"`
	Username string          `json:"username"`
	Signal   json.RawMessage `json:"signal,omitempty"`
	CallType string          `json:"callType,omitempty"`
}

// CallAcceptedPayload is delivered to the caller on call-accept.
type CallAcceptedPayload struct {
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal,omitempty"`
}

// CallRejectedPayload is delivered to the caller on call-reject.
type CallRejectedPayload struct {
	From string `json:"from"`
}

// CallEndedPayload is delivered to the other party on call-end.
type CallEndedPayload struct {
	From string `json:"from"`
}
