package nfc

import (
	"errors"
	"strings"
	"time"
)

// DeviceStatus represents the status of the NFC device.
type DeviceStatus struct {
	Connected   bool   `json:"connected"`
	Message     string `json:"message,omitempty"`
	Device      string `json:"device,omitempty"`
	CardPresent bool   `json:"cardPresent"`
	InCooldown  bool   `json:"inCooldown"`
}

// Constants for device recovery
const (
	MaxRetries          = 5
	BaseDelay           = 500 * time.Millisecond
	MaxReconnectTries   = 10
	ReconnectDelay      = time.Second * 2
	DeviceCheckInterval = time.Second * 2 // Interval to check for new devices
	DeviceEnumRetries   = 3               // Number of retries for device enumeration
)

// Sentinel errors for device operations
var (
	// ErrTimeout indicates a timeout occurred during device communication
	ErrTimeout = errors.New("device operation timed out")

	// ErrDeviceClosed indicates the device connection was closed
	ErrDeviceClosed = errors.New("device closed")

	// ErrIO indicates an input/output error with the device
	ErrIO = errors.New("device I/O error")

	// ErrNoDevice indicates no reader could be found
	ErrNoDevice = errors.New("no NFC devices found")
)

// IsTimeoutError reports whether err is a device timeout.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "operation timed out") ||
		strings.Contains(errStr, "timeout")
}

// IsDeviceClosedError reports whether the device went away.
func IsDeviceClosedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeviceClosed) {
		return true
	}
	return strings.Contains(err.Error(), "device closed")
}

// IsIOError reports whether err is a reader-level I/O failure that needs a reconnect.
func IsIOError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrIO) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "input / output error") ||
		strings.Contains(errStr, "input/output error") ||
		strings.Contains(errStr, "i/o error") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "operation not permitted")
}

// needsReconnect reports whether a GetTags error means the device must be reopened.
func needsReconnect(err error) bool {
	return IsIOError(err) || IsDeviceClosedError(err) || errors.Is(err, ErrNoDevice)
}
