package nfc

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// MultiManager aggregates multiple Manager implementations.
type MultiManager struct {
	managers         map[string]Manager // managerName -> Manager instance
	managerOrder     []string           // Ordered list of manager names (for fallback)
	mu               sync.RWMutex       // Protects managers map
	logger           *zap.Logger
	deviceChangeChan chan struct{} // Aggregated device change channel
	stopForward      chan struct{}
	stopOnce         sync.Once
}

// ManagerEntry represents a named manager for MultiManager initialization.
type ManagerEntry struct {
	Name    string
	Manager Manager
}

// NewMultiManager creates a new MultiManager with the given managers.
// Managers are tried in the order they are provided.
//
// Example:
//
//	mm := nfc.NewMultiManager(logger,
//	    nfc.ManagerEntry{Name: nfc.ManagerTypePCSC, Manager: nfc.NewPCSCManager(logger)},
//	    nfc.ManagerEntry{Name: nfc.ManagerTypeRemote, Manager: bridge},
//	)
func NewMultiManager(logger *zap.Logger, entries ...ManagerEntry) *MultiManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	mm := &MultiManager{
		managers:         make(map[string]Manager),
		managerOrder:     []string{},
		logger:           logger.Named("multi"),
		deviceChangeChan: make(chan struct{}, 1),
		stopForward:      make(chan struct{}),
	}

	for _, entry := range entries {
		if err := mm.AddManager(entry.Name, entry.Manager); err != nil {
			mm.logger.Warn("skipping manager entry", zap.String("name", entry.Name), zap.Error(err))
		}
	}

	return mm
}

// AddManager adds a manager with the given name (for dynamic registration).
// Managers are tried in the order they are added.
func (mm *MultiManager) AddManager(name string, manager Manager) error {
	if name == "" {
		return fmt.Errorf("manager name cannot be empty")
	}
	if manager == nil {
		return fmt.Errorf("manager cannot be nil")
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	if _, exists := mm.managers[name]; exists {
		return fmt.Errorf("manager with name '%s' already exists", name)
	}

	mm.managers[name] = manager
	mm.managerOrder = append(mm.managerOrder, name)
	mm.logger.Debug("manager registered", zap.String("name", name))

	if notifier, ok := manager.(DeviceChangeNotifier); ok {
		go mm.forwardDeviceChanges(notifier.DeviceChanges())
	}

	return nil
}

// GetManager retrieves a specific manager by name.
func (mm *MultiManager) GetManager(name string) (Manager, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	manager, exists := mm.managers[name]
	return manager, exists
}

func (mm *MultiManager) snapshot() (map[string]Manager, []string) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	managers := make(map[string]Manager, len(mm.managers))
	for k, v := range mm.managers {
		managers[k] = v
	}
	order := make([]string, len(mm.managerOrder))
	copy(order, mm.managerOrder)
	return managers, order
}

// OpenDevice opens a device using the appropriate manager.
// Device string format:
//   - "manager:deviceID" - explicit manager (e.g., "pcsc:ACS ACR1252 1S CL Reader PICC 0")
//   - "deviceID" or "" - try all managers in order
func (mm *MultiManager) OpenDevice(deviceStr string) (Device, error) {
	managers, order := mm.snapshot()
	if len(managers) == 0 {
		return nil, fmt.Errorf("no managers registered")
	}

	// Only a registered manager name counts as a prefix; libnfc connstrings contain colons too.
	if name, deviceID, ok := strings.Cut(deviceStr, ":"); ok {
		if manager, exists := managers[name]; exists {
			device, err := manager.OpenDevice(deviceID)
			if err != nil {
				return nil, fmt.Errorf("failed to open device '%s' with manager '%s': %w", deviceID, name, err)
			}
			return device, nil
		}
	}

	var lastErr error
	for _, name := range order {
		device, err := managers[name].OpenDevice(deviceStr)
		if err == nil {
			return device, nil
		}
		mm.logger.Debug("manager could not open device",
			zap.String("manager", name), zap.String("device", deviceStr), zap.Error(err))
		lastErr = err
	}

	return nil, fmt.Errorf("all managers failed to open device '%s': %w", deviceStr, lastErr)
}

// ListDevices aggregates device lists from all managers in registration order.
// Each device is prefixed with its manager name for disambiguation.
// Errors from individual managers are logged but do not fail the overall operation.
func (mm *MultiManager) ListDevices() ([]string, error) {
	managers, order := mm.snapshot()

	var allDevices []string
	for _, name := range order {
		devices, err := managers[name].ListDevices()
		if err != nil {
			mm.logger.Debug("manager failed to list devices", zap.String("manager", name), zap.Error(err))
			continue
		}
		for _, device := range devices {
			allDevices = append(allDevices, name+":"+device)
		}
	}

	return allDevices, nil
}

// GetManagerNames returns the names of all registered managers in order.
func (mm *MultiManager) GetManagerNames() []string {
	_, order := mm.snapshot()
	return order
}

// DeviceChanges implements DeviceChangeNotifier for the aggregated managers.
func (mm *MultiManager) DeviceChanges() <-chan struct{} {
	return mm.deviceChangeChan
}

func (mm *MultiManager) forwardDeviceChanges(ch <-chan struct{}) {
	for {
		select {
		case <-mm.stopForward:
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			select {
			case mm.deviceChangeChan <- struct{}{}:
			default:
			}
		}
	}
}

// Close stops change forwarding and closes every manager that holds resources.
func (mm *MultiManager) Close() error {
	mm.stopOnce.Do(func() { close(mm.stopForward) })

	managers, order := mm.snapshot()
	var errs []error
	for _, name := range order {
		if closer, ok := managers[name].(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
