package protocol

import "time"

// RegisterPayload is sent by a remote reader as its first message.
type RegisterPayload struct {
	DeviceName string            `json:"deviceName"` // e.g., "Pixel 8"
	Platform   string            `json:"platform"`   // "android", "ios" or "web"
	AppVersion string            `json:"appVersion"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RegisteredPayload is sent by the agent after successful registration.
type RegisteredPayload struct {
	DeviceID   string     `json:"deviceID"` // Unique device identifier (UUID)
	ServerInfo ServerInfo `json:"serverInfo"`
}

// ServerInfo contains information about the agent.
type ServerInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Technologies []string `json:"technologies"` // e.g. ["NfcV"]
}

// TagDetectedPayload is sent when a tag enters the remote reader's field.
type TagDetectedPayload struct {
	UID          string    `json:"uid"`          // hex
	Type         string    `json:"type"`         // e.g. "ISO 15693"
	Technologies []string  `json:"technologies"` // e.g. ["NfcV", "Ndef"]
	DetectedAt   time.Time `json:"detectedAt,omitempty"`
}

// TagRemovedPayload is sent when a tag leaves the remote reader's field.
type TagRemovedPayload struct {
	UID string `json:"uid"`
}

// TagRequestPayload addresses connect and close requests to a tag.
type TagRequestPayload struct {
	UID string `json:"uid"`
}

// TransceivePayload carries a command frame to the tag.
type TransceivePayload struct {
	UID   string `json:"uid"`
	Frame string `json:"frame"` // hex
}

// ResponsePayload answers a request. Frame is set for transceive responses only.
type ResponsePayload struct {
	Frame string `json:"frame,omitempty"` // hex
}

// ErrorPayload reports a failed request or a protocol violation.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
