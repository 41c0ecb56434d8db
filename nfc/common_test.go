package nfc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ebfe/scard"
	"github.com/stretchr/testify/assert"
)

func TestDeviceErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		timeout   bool
		io        bool
		closed    bool
		reconnect bool
	}{
		{name: "nil"},
		{name: "ErrTimeout", err: ErrTimeout, timeout: true},
		{name: "remote request timeout", err: NewTransportError("Transceive", fmt.Errorf("%w after 3s", ErrTimeout)), timeout: true},
		{name: "libnfc timeout text", err: errors.New("nfc_initiator_transceive_bytes: operation timed out"), timeout: true},
		{name: "ErrIO", err: ErrIO, io: true, reconnect: true},
		{name: "pcsc status change failure", err: fmt.Errorf("%w: status change: %v", ErrIO, scard.ErrCommError), io: true, reconnect: true},
		{name: "usb unplugged", err: errors.New("libusb: Input/output error"), io: true, reconnect: true},
		{name: "broken pipe", err: errors.New("write: broken pipe"), io: true, reconnect: true},
		{name: "ErrDeviceClosed", err: fmt.Errorf("%w: reader unavailable", ErrDeviceClosed), closed: true, reconnect: true},
		{name: "ErrNoDevice", err: ErrNoDevice, reconnect: true},
		{name: "bad status", err: NewBadStatusError("Read", 1)},
		{name: "unrelated", err: errors.New("CRC mismatch")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.timeout, IsTimeoutError(tt.err), "IsTimeoutError")
			assert.Equal(t, tt.io, IsIOError(tt.err), "IsIOError")
			assert.Equal(t, tt.closed, IsDeviceClosedError(tt.err), "IsDeviceClosedError")
			assert.Equal(t, tt.reconnect, needsReconnect(tt.err), "needsReconnect")
		})
	}
}
