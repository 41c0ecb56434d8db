package nfc

import (
	"fmt"
	"sync"
)

// MockDevice is a test implementation of Device that simulates NFC hardware.
//
// Example:
//
//	mock := NewMockDevice()
//	mock.SetTags([]Tag{NewMockVicinityTag("E0040150A1B2C3D4", 0x00, 0x00, 0x00, 0x00, 0x2A)})
//	tags, _ := mock.GetTags()
type MockDevice struct {
	// DeviceName is the simulated device name returned by String()
	DeviceName string

	// DeviceConnection is the simulated connection string returned by Connection()
	DeviceConnection string

	// IsOpen tracks whether the device is currently open
	IsOpen bool

	// CloseError, if set, will be returned by Close()
	CloseError error

	// GetTagsFunc allows custom GetTags behavior for testing
	// If nil, returns Tags or GetTagsError
	GetTagsFunc func() ([]Tag, error)

	// Tags is the list of tags returned by GetTags()
	Tags []Tag

	// GetTagsError, if set, will be returned by GetTags()
	GetTagsError error

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	mu sync.Mutex
}

// NewMockDevice creates a new MockDevice with default values.
func NewMockDevice() *MockDevice {
	return &MockDevice{
		DeviceName:       "Mock NFC Reader",
		DeviceConnection: "mock:usb:001",
		IsOpen:           true,
		CallLog:          make([]string, 0),
	}
}

// Reopen marks the device open again, as a manager does when handing it out.
func (m *MockDevice) Reopen(connection string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.IsOpen = true
	if connection != "" {
		m.DeviceConnection = connection
	}
}

// Close simulates closing the device.
func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Close")

	if !m.IsOpen {
		return ErrDeviceClosed
	}

	m.IsOpen = false
	return m.CloseError
}

// String returns the simulated device name.
func (m *MockDevice) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DeviceName
}

// Connection returns the simulated connection string.
func (m *MockDevice) Connection() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DeviceConnection
}

// GetTags simulates detecting tags on the device.
func (m *MockDevice) GetTags() ([]Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "GetTags")

	if !m.IsOpen {
		return nil, fmt.Errorf("mock device: %w", ErrDeviceClosed)
	}

	if m.GetTagsFunc != nil {
		return m.GetTagsFunc()
	}

	if m.GetTagsError != nil {
		return nil, m.GetTagsError
	}

	tagsCopy := make([]Tag, len(m.Tags))
	copy(tagsCopy, m.Tags)
	return tagsCopy, nil
}

// SetTags sets the tags that will be returned by GetTags().
func (m *MockDevice) SetTags(tags []Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Tags = tags
}

// ClearTags removes all tags from the list returned by GetTags().
func (m *MockDevice) ClearTags() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Tags = make([]Tag, 0)
}

// GetCallLog returns a copy of the call log for verification.
func (m *MockDevice) GetCallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	logCopy := make([]string, len(m.CallLog))
	copy(logCopy, m.CallLog)
	return logCopy
}
