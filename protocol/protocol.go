// Package protocol defines the wire format spoken between the agent and remote readers.
// This package is designed to be importable without pulling in agent dependencies.
package protocol

// Error codes carried in ErrorPayload
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeNotRegistered  = "NOT_REGISTERED"
	ErrCodeUnknownType    = "UNKNOWN_TYPE"
	ErrCodeTagLost        = "TAG_LOST"
	ErrCodeIO             = "IO_ERROR"
)

// Service discovery
const (
	MDNSServiceType = "_nfcv-agent._tcp"
	MDNSDomain      = "local."
	WebSocketPath   = "/ws"
)
