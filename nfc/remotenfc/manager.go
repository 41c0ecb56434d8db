// Package remotenfc bridges readers that live on another machine, typically a phone,
// into the nfc.Manager boundary over a WebSocket.
package remotenfc

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nedpals/nfcv-agent/nfc"
	"github.com/nedpals/nfcv-agent/protocol"
	"go.uber.org/zap"
)

const (
	// DeviceTimeout is how long a remote may stay silent before it is dropped
	DeviceTimeout = 60 * time.Second
	// CleanupInterval is the period of the inactivity sweep
	CleanupInterval = 10 * time.Second
	// DefaultRequestTimeout bounds each connect, transceive or close request
	DefaultRequestTimeout = 3 * time.Second
	// DetectionBuffer is how many pushed detections wait for a consumer
	DetectionBuffer = 8
)

// ErrDeviceNotFound is returned for unknown device IDs.
var ErrDeviceNotFound = errors.New("remote device not found")

// Options configures a Manager.
type Options struct {
	InactivityTimeout time.Duration
	RequestTimeout    time.Duration
	Logger            *zap.Logger
}

// Manager implements nfc.Manager for remote readers registered over the bridge.
type Manager struct {
	devices           map[string]*Device // deviceID -> device
	mu                sync.RWMutex
	stopCleanup       chan struct{}
	inactivityTimeout time.Duration
	requestTimeout    time.Duration
	closed            bool
	changes           chan struct{}
	detections        chan nfc.DetectionEvent
	logger            *zap.Logger
}

// NewManager creates a remote manager and starts its inactivity sweep.
func NewManager(opts Options) *Manager {
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = DeviceTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	m := &Manager{
		devices:           make(map[string]*Device),
		inactivityTimeout: opts.InactivityTimeout,
		requestTimeout:    opts.RequestTimeout,
		stopCleanup:       make(chan struct{}),
		changes:           make(chan struct{}, 1),
		detections:        make(chan nfc.DetectionEvent, DetectionBuffer),
		logger:            opts.Logger,
	}

	go m.cleanupLoop()

	return m
}

// OpenDevice returns a registered remote by ID.
// Format: "remote:{deviceID}" or just "{deviceID}"
func (m *Manager) OpenDevice(deviceStr string) (nfc.Device, error) {
	deviceID := strings.TrimPrefix(deviceStr, nfc.ManagerTypeRemote+":")

	m.mu.RLock()
	defer m.mu.RUnlock()

	if deviceID == "" {
		ids := m.sortedIDs()
		if len(ids) == 0 {
			return nil, fmt.Errorf("no remote readers registered: %w", nfc.ErrNoDevice)
		}
		deviceID = ids[0]
	}

	device, exists := m.devices[deviceID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return device, nil
}

// ListDevices returns the IDs of registered remotes, sorted.
func (m *Manager) ListDevices() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedIDs(), nil
}

func (m *Manager) sortedIDs() []string {
	ids := make([]string, 0, len(m.devices))
	for id := range m.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DeviceChanges signals registrations and removals (implements nfc.DeviceChangeNotifier).
func (m *Manager) DeviceChanges() <-chan struct{} {
	return m.changes
}

func (m *Manager) notifyChange() {
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

// Detections delivers one event per tagDetected from any remote. Events are dropped
// while the buffer is full.
func (m *Manager) Detections() <-chan nfc.DetectionEvent {
	return m.detections
}

func (m *Manager) pushDetection(ev nfc.DetectionEvent) {
	select {
	case m.detections <- ev:
	default:
		m.logger.Warn("detection buffer full, dropping event",
			zap.String("uid", ev.Tag.UID()),
			zap.String("device", ev.Device))
	}
}

// RegisterDevice validates a registration and creates a device bound to conn.
func (m *Manager) RegisterDevice(req protocol.RegisterPayload, conn Conn) (*Device, error) {
	if req.DeviceName == "" {
		return nil, fmt.Errorf("device name is required")
	}
	switch req.Platform {
	case "android", "ios", "web":
	default:
		return nil, fmt.Errorf("invalid platform: %s (must be 'android', 'ios', or 'web')", req.Platform)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nfc.ErrDeviceClosed
	}
	deviceID := uuid.New().String()
	device := newDevice(deviceID, req, conn, m.requestTimeout, m.pushDetection, m.logger)
	m.devices[deviceID] = device
	m.mu.Unlock()

	m.logger.Info("remote reader registered",
		zap.String("id", deviceID),
		zap.String("name", req.DeviceName),
		zap.String("platform", req.Platform),
		zap.String("appVersion", req.AppVersion))
	m.notifyChange()

	return device, nil
}

// UnregisterDevice removes and closes a remote.
func (m *Manager) UnregisterDevice(deviceID string) error {
	m.mu.Lock()
	device, exists := m.devices[deviceID]
	delete(m.devices, deviceID)
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	device.shutdown()
	m.logger.Info("remote reader unregistered", zap.String("id", deviceID))
	m.notifyChange()
	return nil
}

// GetDevice retrieves a device by ID.
func (m *Manager) GetDevice(deviceID string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	device, exists := m.devices[deviceID]
	return device, exists
}

// DeviceCount returns the number of registered remotes.
func (m *Manager) DeviceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// Close stops the sweep and drops every remote.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	devices := m.devices
	m.devices = make(map[string]*Device)
	m.mu.Unlock()

	close(m.stopCleanup)
	for _, device := range devices {
		device.shutdown()
	}

	m.logger.Debug("remote manager closed")
	return nil
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupInactiveDevices(time.Now())
		case <-m.stopCleanup:
			return
		}
	}
}

// cleanupInactiveDevices removes devices that exceeded the inactivity timeout.
func (m *Manager) cleanupInactiveDevices(now time.Time) int {
	m.mu.Lock()
	var stale []*Device
	for id, device := range m.devices {
		if now.Sub(device.LastSeen()) > m.inactivityTimeout {
			stale = append(stale, device)
			delete(m.devices, id)
		}
	}
	m.mu.Unlock()

	for _, device := range stale {
		m.logger.Info("dropping inactive remote reader",
			zap.String("id", device.ID()),
			zap.Duration("idle", now.Sub(device.LastSeen())))
		device.shutdown()
	}
	if len(stale) > 0 {
		m.notifyChange()
	}
	return len(stale)
}
