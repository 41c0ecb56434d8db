package nfc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closedStop() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func TestDeviceManager_TryConnect(t *testing.T) {
	manager := NewMockManager()
	dm := NewDeviceManager(manager, "mock:usb:001", NewFakeClock(time.Now()), nil)

	require.NoError(t, dm.TryConnect())
	assert.True(t, dm.HasDevice())
	assert.Same(t, manager.MockDevice, dm.Device())

	require.NoError(t, dm.TryConnect())
	assert.Equal(t, []string{"OpenDevice(mock:usb:001)"}, manager.GetCallLog(), "connected manager must not reopen")
}

func TestDeviceManager_TryConnectFirstListed(t *testing.T) {
	manager := NewMockManager()
	manager.DevicesList = []string{"pcsc:reader-a", "pcsc:reader-b"}
	dm := NewDeviceManager(manager, "", nil, nil)

	require.NoError(t, dm.TryConnect())
	assert.Equal(t, []string{"ListDevices", "OpenDevice(pcsc:reader-a)"}, manager.GetCallLog())
}

func TestDeviceManager_TryConnectNoDevices(t *testing.T) {
	manager := NewMockManager()
	manager.DevicesList = nil
	dm := NewDeviceManager(manager, "", nil, nil)

	assert.ErrorIs(t, dm.TryConnect(), ErrNoDevice)
	assert.False(t, dm.HasDevice())
}

func TestDeviceManager_TryConnectOpenError(t *testing.T) {
	manager := NewMockManager()
	manager.OpenDeviceError = errors.New("busy")
	dm := NewDeviceManager(manager, "mock:usb:001", nil, nil)

	assert.ErrorContains(t, dm.TryConnect(), "busy")
	assert.False(t, dm.HasDevice())
}

func TestDeviceManager_HandleErrorReconnects(t *testing.T) {
	manager := NewMockManager()
	dm := NewDeviceManager(manager, "mock:usb:001", NewFakeClock(time.Now()), nil)
	require.NoError(t, dm.TryConnect())

	cooldown := dm.HandleError(ErrIO, make(chan struct{}))

	assert.False(t, cooldown)
	assert.True(t, dm.HasDevice())
	assert.Equal(t, []string{"OpenDevice(mock:usb:001)", "OpenDevice(mock:usb:001)"}, manager.GetCallLog())
	assert.Contains(t, manager.MockDevice.GetCallLog(), "Close")
}

func TestDeviceManager_HandleErrorIgnoresOtherErrors(t *testing.T) {
	manager := NewMockManager()
	dm := NewDeviceManager(manager, "mock:usb:001", nil, nil)
	require.NoError(t, dm.TryConnect())

	assert.False(t, dm.HandleError(errors.New("CRC mismatch"), closedStop()))
	assert.True(t, dm.HasDevice())
	assert.Len(t, manager.GetCallLog(), 1)
}

func TestDeviceManager_HandleErrorAbortedReconnect(t *testing.T) {
	manager := NewMockManager()
	dm := NewDeviceManager(manager, "mock:usb:001", NewFakeClock(time.Now()), nil)
	require.NoError(t, dm.TryConnect())
	manager.OpenDeviceError = errors.New("gone")

	assert.False(t, dm.HandleError(ErrDeviceClosed, closedStop()))
	assert.False(t, dm.HasDevice())
	assert.False(t, dm.InCooldown())
}

func TestDeviceManager_TimeoutsEnterCooldown(t *testing.T) {
	clock := NewFakeClock(time.Now())
	manager := NewMockManager()
	dm := NewDeviceManager(manager, "mock:usb:001", clock, nil)
	require.NoError(t, dm.TryConnect())

	for i := 0; i < MaxRetries; i++ {
		require.False(t, dm.HandleError(ErrTimeout, closedStop()), "retry %d", i+1)
	}
	assert.True(t, dm.HandleError(ErrTimeout, closedStop()))
	assert.True(t, dm.InCooldown())
	assert.False(t, dm.HasDevice())

	clock.Advance(MaxRetriesCooldownPeriod - time.Second)
	assert.True(t, dm.InCooldown())
	clock.Advance(time.Second)
	assert.False(t, dm.InCooldown())
}

func TestDeviceManager_ResetRetryCount(t *testing.T) {
	dm := NewDeviceManager(NewMockManager(), "mock:usb:001", NewFakeClock(time.Now()), nil)
	require.NoError(t, dm.TryConnect())

	for i := 0; i < MaxRetries; i++ {
		dm.HandleError(ErrTimeout, closedStop())
	}
	dm.ResetRetryCount()
	assert.False(t, dm.HandleError(ErrTimeout, closedStop()))
	assert.False(t, dm.InCooldown())
}
