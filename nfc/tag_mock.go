package nfc

import (
	"fmt"
	"sync"
)

// MockTag is a test implementation of Tag.
//
// A MockTag with a nil Conn reports no vicinity interface, which is how tags of other
// families look to the session handler.
//
// Example:
//
//	tag := NewMockVicinityTag("E004015012345678", 0x00, 0xDE, 0xAD, 0xBE, 0xEF)
//	conn, _ := tag.Vicinity()
type MockTag struct {
	// TagUID is the UID returned by UID()
	TagUID string

	// TagType is the type string returned by Type()
	TagType string

	// Conn is returned by Vicinity(). Nil means the tag is not a vicinity tag.
	Conn *MockVicinityConn
}

// NewMockTag creates a tag without a vicinity interface.
func NewMockTag(uid string) *MockTag {
	return &MockTag{
		TagUID:  uid,
		TagType: CardTypeMifareClassic1K,
	}
}

// NewMockVicinityTag creates a vicinity tag that answers every transceive with response.
func NewMockVicinityTag(uid string, response ...byte) *MockTag {
	return &MockTag{
		TagUID:  uid,
		TagType: CardTypeISO15693,
		Conn:    &MockVicinityConn{Response: response},
	}
}

func (t *MockTag) UID() string  { return t.TagUID }
func (t *MockTag) Type() string { return t.TagType }

// Vicinity returns the mock connection if one is configured.
func (t *MockTag) Vicinity() (VicinityConn, bool) {
	if t.Conn == nil {
		return nil, false
	}
	return t.Conn, true
}

// MockVicinityConn is a scripted VicinityConn that records every call.
type MockVicinityConn struct {
	// ConnectError, if set, will be returned by Connect()
	ConnectError error

	// TransceiveFunc allows custom transceive behavior
	// If nil, returns Response or TransceiveError
	TransceiveFunc func([]byte) ([]byte, error)

	// Response is the default response for Transceive calls
	Response []byte

	// TransceiveError, if set, will be returned by Transceive()
	TransceiveError error

	// CloseError, if set, will be returned by Close()
	CloseError error

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	// Sent records every frame passed to Transceive
	Sent [][]byte

	connects int
	closes   int
	mu       sync.Mutex
}

// Connect simulates opening the tag connection.
func (c *MockVicinityConn) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CallLog = append(c.CallLog, "Connect")
	if c.ConnectError != nil {
		return c.ConnectError
	}
	c.connects++
	return nil
}

// Transceive simulates one command/response exchange.
func (c *MockVicinityConn) Transceive(data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CallLog = append(c.CallLog, fmt.Sprintf("Transceive(% X)", data))
	c.Sent = append(c.Sent, append([]byte(nil), data...))

	if c.connects == c.closes {
		return nil, NewTransportError("Transceive", fmt.Errorf("connection not open"))
	}
	if c.TransceiveFunc != nil {
		return c.TransceiveFunc(data)
	}
	if c.TransceiveError != nil {
		return nil, c.TransceiveError
	}
	return append([]byte(nil), c.Response...), nil
}

// Close simulates releasing the tag connection.
func (c *MockVicinityConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CallLog = append(c.CallLog, "Close")
	c.closes++
	return c.CloseError
}

// Closes returns how many times Close was called.
func (c *MockVicinityConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// GetCallLog returns a copy of the call log for verification.
func (c *MockVicinityConn) GetCallLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	logCopy := make([]string, len(c.CallLog))
	copy(logCopy, c.CallLog)
	return logCopy
}

// Reset clears recorded calls so the connection can serve another exchange.
func (c *MockVicinityConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CallLog = nil
	c.Sent = nil
	c.connects = 0
	c.closes = 0
}
