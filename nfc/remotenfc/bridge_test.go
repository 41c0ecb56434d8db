package remotenfc

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nedpals/nfcv-agent/nfc"
	"github.com/nedpals/nfcv-agent/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testBridge struct {
	manager *Manager
	server  *httptest.Server
}

func newTestBridge(t *testing.T, opts Options) *testBridge {
	t.Helper()
	m := NewManager(opts)
	srv := httptest.NewServer(NewHandler(m, protocol.ServerInfo{Name: "test", Version: "dev"}, zap.NewNop()))
	t.Cleanup(func() {
		srv.Close()
		m.Close()
	})
	return &testBridge{manager: m, server: srv}
}

func (b *testBridge) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(b.server.URL, "http") + protocol.WebSocketPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeMessage(t *testing.T, conn *websocket.Conn, id, msgType string, payload interface{}) {
	t.Helper()
	msg, err := protocol.NewMessage(id, msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

func register(t *testing.T, b *testBridge) (*websocket.Conn, *Device) {
	t.Helper()
	conn := b.dial(t)
	writeMessage(t, conn, "reg-1", protocol.TypeRegister, protocol.RegisterPayload{
		DeviceName: "Pixel 8",
		Platform:   "android",
		AppVersion: "1.0.0",
	})

	var ack protocol.Message
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, protocol.TypeRegistered, ack.Type)
	assert.Equal(t, "reg-1", ack.ID)

	var p protocol.RegisteredPayload
	require.NoError(t, ack.Decode(&p))
	require.NotEmpty(t, p.DeviceID)
	assert.Equal(t, []string{"NfcV"}, p.ServerInfo.Technologies)

	device, ok := b.manager.GetDevice(p.DeviceID)
	require.True(t, ok)
	return conn, device
}

// presentTag reports a tag from the remote and returns the detection it produced.
func presentTag(t *testing.T, b *testBridge, conn *websocket.Conn, device *Device, techs ...string) nfc.Tag {
	t.Helper()
	writeMessage(t, conn, "", protocol.TypeTagDetected, protocol.TagDetectedPayload{
		UID:          "e0:04:01:50:12:34:56:78",
		Type:         nfc.CardTypeISO15693,
		Technologies: techs,
	})

	select {
	case ev := <-b.manager.Detections():
		assert.Equal(t, device.Connection(), ev.Device)
		assert.False(t, ev.DetectedAt.IsZero())
		return ev.Tag
	case <-time.After(time.Second):
		t.Fatal("tagDetected produced no detection event")
		return nil
	}
}

// respond answers requests from the agent until the connection closes.
func respond(conn *websocket.Conn, answer func(msg protocol.Message) (string, interface{})) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			var msg protocol.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			msgType, payload := answer(msg)
			if msgType == "" {
				continue
			}
			reply, _ := protocol.NewMessage(msg.ID, msgType, payload)
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}()
	return &wg
}

func TestBridge_RegisterAndList(t *testing.T) {
	b := newTestBridge(t, Options{})
	_, device := register(t, b)

	ids, err := b.manager.ListDevices()
	require.NoError(t, err)
	assert.Equal(t, []string{device.ID()}, ids)
	assert.Equal(t, "remote:"+device.ID(), device.Connection())
	assert.Equal(t, "Pixel 8 (android)", device.String())

	select {
	case <-b.manager.DeviceChanges():
	case <-time.After(time.Second):
		t.Fatal("expected a device change notification")
	}

	opened, err := b.manager.OpenDevice("")
	require.NoError(t, err)
	assert.Same(t, device, opened)
}

func TestBridge_RejectsInvalidRegistration(t *testing.T) {
	b := newTestBridge(t, Options{})
	conn := b.dial(t)
	writeMessage(t, conn, "reg-1", protocol.TypeRegister, protocol.RegisterPayload{
		DeviceName: "Toaster",
		Platform:   "symbian",
	})

	var reply protocol.Message
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, protocol.TypeError, reply.Type)

	var p protocol.ErrorPayload
	require.NoError(t, reply.Decode(&p))
	assert.Equal(t, protocol.ErrCodeInvalidPayload, p.Code)
	assert.Equal(t, 0, b.manager.DeviceCount())
}

func TestBridge_FirstMessageMustBeRegister(t *testing.T) {
	b := newTestBridge(t, Options{})
	conn := b.dial(t)
	writeMessage(t, conn, "", protocol.TypeHeartbeat, nil)

	var reply protocol.Message
	require.NoError(t, conn.ReadJSON(&reply))
	var p protocol.ErrorPayload
	require.NoError(t, reply.Decode(&p))
	assert.Equal(t, protocol.ErrCodeNotRegistered, p.Code)
}

func TestBridge_UnknownMessageType(t *testing.T) {
	b := newTestBridge(t, Options{})
	conn, _ := register(t, b)
	writeMessage(t, conn, "x-1", "formatDisk", nil)

	var reply protocol.Message
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "x-1", reply.ID)
	var p protocol.ErrorPayload
	require.NoError(t, reply.Decode(&p))
	assert.Equal(t, protocol.ErrCodeUnknownType, p.Code)
}

func TestBridge_Exchange(t *testing.T) {
	b := newTestBridge(t, Options{})
	conn, device := register(t, b)
	tag := presentTag(t, b, conn, device, "NfcV", "Ndef")
	assert.Equal(t, "E004015012345678", tag.UID())

	var mu sync.Mutex
	var seen []string
	respond(conn, func(msg protocol.Message) (string, interface{}) {
		mu.Lock()
		seen = append(seen, msg.Type)
		mu.Unlock()
		if msg.Type == protocol.TypeTransceive {
			var p protocol.TransceivePayload
			if err := msg.Decode(&p); err != nil || p.Frame != "022000" {
				return protocol.TypeError, protocol.ErrorPayload{Code: protocol.ErrCodeIO, Message: "bad frame"}
			}
			return protocol.TypeResponse, protocol.ResponsePayload{Frame: "0000010000"}
		}
		return protocol.TypeResponse, nil
	})

	out := nfc.NewSession().Exchange(tag)
	require.True(t, out.OK(), "unexpected error: %v", out.Err)
	assert.Equal(t, "65536", out.Decimal)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{protocol.TypeConnect, protocol.TypeTransceive, protocol.TypeClose}, seen)
}

func TestBridge_TagLostIsRemoval(t *testing.T) {
	b := newTestBridge(t, Options{})
	conn, device := register(t, b)
	tag := presentTag(t, b, conn, device, "NfcV")

	respond(conn, func(msg protocol.Message) (string, interface{}) {
		if msg.Type == protocol.TypeTransceive {
			return protocol.TypeError, protocol.ErrorPayload{Code: protocol.ErrCodeTagLost, Message: "tag was lost"}
		}
		return protocol.TypeResponse, nil
	})

	out := nfc.NewSession().Exchange(tag)
	assert.Equal(t, nfc.FailureTransport, out.Failure)
	assert.True(t, nfc.IsTagRemovedError(out.Err))
}

func TestBridge_RequestTimeout(t *testing.T) {
	b := newTestBridge(t, Options{RequestTimeout: 50 * time.Millisecond})
	conn, device := register(t, b)
	tag := presentTag(t, b, conn, device, "NfcV")

	respond(conn, func(msg protocol.Message) (string, interface{}) { return "", nil })

	vc, ok := tag.Vicinity()
	require.True(t, ok)
	err := vc.Connect()
	assert.True(t, nfc.IsTransportError(err))
	assert.True(t, errors.Is(err, nfc.ErrTimeout))
}

func TestBridge_NonVicinityTag(t *testing.T) {
	b := newTestBridge(t, Options{})
	conn, device := register(t, b)
	tag := presentTag(t, b, conn, device, "NfcA", "MifareClassic")

	_, ok := tag.Vicinity()
	assert.False(t, ok)

	out := nfc.NewSession().Exchange(tag)
	assert.Equal(t, nfc.FailureUnsupportedTag, out.Failure)
}

func TestBridge_TagRemoved(t *testing.T) {
	b := newTestBridge(t, Options{})
	conn, device := register(t, b)
	presentTag(t, b, conn, device, "NfcV")
	require.NotNil(t, device.Current())

	tags, err := device.GetTags()
	require.NoError(t, err)
	assert.Empty(t, tags, "remote tags arrive as detections, not through polling")

	writeMessage(t, conn, "", protocol.TypeTagRemoved, protocol.TagRemovedPayload{UID: "E004015012345678"})
	require.Eventually(t, func() bool { return device.Current() == nil }, time.Second, 5*time.Millisecond)
}

func TestBridge_RetapSameTagWithoutRemoval(t *testing.T) {
	b := newTestBridge(t, Options{})
	conn, device := register(t, b)

	var mu sync.Mutex
	connects := 0
	respond(conn, func(msg protocol.Message) (string, interface{}) {
		switch msg.Type {
		case protocol.TypeConnect:
			mu.Lock()
			connects++
			mu.Unlock()
		case protocol.TypeTransceive:
			return protocol.TypeResponse, protocol.ResponsePayload{Frame: "0000000007"}
		}
		return protocol.TypeResponse, nil
	})

	session := nfc.NewSession()
	for i := 0; i < 2; i++ {
		tag := presentTag(t, b, conn, device, "NfcV")
		out := session.Exchange(tag)
		require.True(t, out.OK(), "tap %d: %v", i+1, out.Err)
		assert.Equal(t, "7", out.Decimal)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, connects)
}

func TestBridge_ConnectTimeoutStillCloses(t *testing.T) {
	b := newTestBridge(t, Options{RequestTimeout: 100 * time.Millisecond})
	conn, device := register(t, b)
	tag := presentTag(t, b, conn, device, "NfcV")

	seen := make(chan string, 4)
	respond(conn, func(msg protocol.Message) (string, interface{}) {
		seen <- msg.Type
		if msg.Type == protocol.TypeConnect {
			time.Sleep(200 * time.Millisecond)
		}
		return protocol.TypeResponse, nil
	})

	out := nfc.NewSession().Exchange(tag)
	assert.Equal(t, nfc.FailureTransport, out.Failure)
	assert.ErrorIs(t, out.Err, nfc.ErrTimeout)

	for _, want := range []string{protocol.TypeConnect, protocol.TypeClose} {
		select {
		case got := <-seen:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("remote never received %s", want)
		}
	}
}

func TestBridge_DisconnectUnregisters(t *testing.T) {
	b := newTestBridge(t, Options{})
	conn, device := register(t, b)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return b.manager.DeviceCount() == 0 }, time.Second, 5*time.Millisecond)

	_, err := device.GetTags()
	assert.ErrorIs(t, err, nfc.ErrDeviceClosed)
}
