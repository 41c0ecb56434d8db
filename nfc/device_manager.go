package nfc

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Recovery timings
const (
	DeviceErrorCooldownPeriod = 10 * time.Second
	MaxRetriesCooldownPeriod  = 30 * time.Second
)

// errReconnectAborted is returned when the stop channel closes during a reconnect.
var errReconnectAborted = errors.New("reconnection aborted by stop signal")

// DeviceManager handles device lifecycle, connection management, and reconnection logic.
// It maintains a connection to a single NFC device and handles recovery from errors.
type DeviceManager struct {
	manager    Manager
	device     Device
	devicePath string
	logger     *zap.Logger
	clock      Clock

	// Reconnection state
	retryCount    int
	inCooldown    bool
	cooldownUntil time.Time

	mu sync.RWMutex
}

// NewDeviceManager creates a new DeviceManager for managing an NFC device connection.
func NewDeviceManager(manager Manager, devicePath string, clock Clock, logger *zap.Logger) *DeviceManager {
	if clock == nil {
		clock = NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceManager{
		manager:    manager,
		devicePath: devicePath,
		clock:      clock,
		logger:     logger,
	}
}

// Device returns the current active device, or nil if not connected.
func (dm *DeviceManager) Device() Device {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.device
}

// HasDevice returns true if a device is currently connected.
func (dm *DeviceManager) HasDevice() bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.device != nil
}

// InCooldown returns true if the device manager is in a cooldown period.
// An expired cooldown is cleared on read.
func (dm *DeviceManager) InCooldown() bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.inCooldown && !dm.clock.Now().Before(dm.cooldownUntil) {
		dm.inCooldown = false
		dm.logger.Info("device cooldown ended")
	}
	return dm.inCooldown
}

// DevicePath returns the path of the device being managed.
func (dm *DeviceManager) DevicePath() string {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.devicePath
}

// TryConnect opens the configured device, or the first one the manager lists.
// It is a no-op while a device is connected.
func (dm *DeviceManager) TryConnect() error {
	dm.mu.RLock()
	connected := dm.device != nil
	path := dm.devicePath
	dm.mu.RUnlock()

	if connected {
		return nil
	}

	if path == "" {
		devices, err := dm.manager.ListDevices()
		if err != nil {
			return fmt.Errorf("error listing NFC devices: %w", err)
		}
		if len(devices) == 0 {
			return ErrNoDevice
		}
		path = devices[0]
		dm.logger.Debug("no device configured, trying first available", zap.String("device", path))
	}

	device, err := dm.manager.OpenDevice(path)
	if err != nil {
		return fmt.Errorf("failed to open device %s: %w", path, err)
	}

	dm.mu.Lock()
	dm.device = device
	dm.retryCount = 0
	dm.mu.Unlock()

	dm.logger.Info("connected to device",
		zap.String("device", device.String()),
		zap.String("connection", device.Connection()))
	return nil
}

// Reconnect closes the current device and retries TryConnect with linear backoff.
func (dm *DeviceManager) Reconnect(stop <-chan struct{}) error {
	dm.closeDevice()

	var lastErr error
	for attempt := 1; attempt <= MaxReconnectTries; attempt++ {
		err := dm.TryConnect()
		if err == nil {
			dm.logger.Info("reconnected", zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		dm.logger.Debug("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-stop:
			return errReconnectAborted
		case <-dm.clock.After(ReconnectDelay * time.Duration(attempt)):
		}
	}

	return fmt.Errorf("reconnect failed after %d attempts: %w", MaxReconnectTries, lastErr)
}

// Close closes the current device connection.
func (dm *DeviceManager) Close() {
	dm.closeDevice()
}

func (dm *DeviceManager) closeDevice() {
	dm.mu.Lock()
	device := dm.device
	dm.device = nil
	dm.mu.Unlock()

	if device == nil {
		return
	}
	if err := device.Close(); err != nil && !errors.Is(err, ErrDeviceClosed) {
		dm.logger.Debug("error closing device", zap.Error(err))
	}
}

// HandleError processes an error from polling the device and decides the recovery action.
// It returns true when the manager entered a cooldown.
func (dm *DeviceManager) HandleError(err error, stop <-chan struct{}) bool {
	dm.logger.Warn("device error", zap.Error(err))

	if IsTimeoutError(err) {
		dm.mu.Lock()
		dm.retryCount++
		retries := dm.retryCount
		dm.mu.Unlock()

		if retries <= MaxRetries {
			delay := time.Duration(math.Pow(2, float64(retries-1))) * BaseDelay
			select {
			case <-dm.clock.After(delay):
			case <-stop:
			}
			return false
		}
		dm.closeDevice()
		dm.enterCooldown(MaxRetriesCooldownPeriod)
		return true
	}

	if !needsReconnect(err) {
		return false
	}

	if rerr := dm.Reconnect(stop); rerr != nil {
		if errors.Is(rerr, errReconnectAborted) {
			return false
		}
		dm.logger.Warn("device reconnection failed", zap.Error(rerr))
		dm.enterCooldown(DeviceErrorCooldownPeriod)
		return true
	}
	return false
}

func (dm *DeviceManager) enterCooldown(d time.Duration) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.inCooldown {
		return
	}
	dm.inCooldown = true
	dm.retryCount = 0
	dm.cooldownUntil = dm.clock.Now().Add(d)
	dm.logger.Info("entering device cooldown", zap.Duration("period", d))
}

// ResetRetryCount resets the retry counter after a successful poll.
func (dm *DeviceManager) ResetRetryCount() {
	dm.mu.Lock()
	dm.retryCount = 0
	dm.mu.Unlock()
}
