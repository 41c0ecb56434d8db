package remotenfc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nedpals/nfcv-agent/nfc"
	"github.com/nedpals/nfcv-agent/protocol"
	"go.uber.org/zap"
)

// Conn is the write side of a remote's socket. *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Device is a registered remote reader. It implements nfc.Device.
//
// Remotes push their detections: every tagDetected becomes one event on the Manager's
// Detections channel, even for the UID already in the field, because phones do not
// report removals reliably. GetTags therefore never returns tags, so a poll loop cannot
// derive a second event from the same tap. Exchanges are requests over the same socket,
// correlated by message ID.
type Device struct {
	id         string
	name       string
	platform   string
	appVersion string
	logger     *zap.Logger

	conn    Conn
	writeMu sync.Mutex
	detect  func(nfc.DetectionEvent)

	requestTimeout time.Duration
	pending        map[string]chan protocol.Message
	done           chan struct{}
	closeOnce      sync.Once

	mu       sync.RWMutex
	current  *Tag
	lastSeen time.Time
}

func newDevice(id string, req protocol.RegisterPayload, conn Conn, requestTimeout time.Duration, detect func(nfc.DetectionEvent), logger *zap.Logger) *Device {
	if detect == nil {
		detect = func(nfc.DetectionEvent) {}
	}
	return &Device{
		id:             id,
		name:           req.DeviceName,
		platform:       req.Platform,
		appVersion:     req.AppVersion,
		logger:         logger.With(zap.String("remote", id)),
		conn:           conn,
		detect:         detect,
		requestTimeout: requestTimeout,
		pending:        make(map[string]chan protocol.Message),
		done:           make(chan struct{}),
		lastSeen:       time.Now(),
	}
}

// ID returns the device ID assigned at registration.
func (d *Device) ID() string { return d.id }

// Platform returns the platform the remote registered with.
func (d *Device) Platform() string { return d.platform }

func (d *Device) String() string {
	return fmt.Sprintf("%s (%s)", d.name, d.platform)
}

func (d *Device) Connection() string {
	return nfc.ManagerTypeRemote + ":" + d.id
}

// DeviceType returns the device type identifier (implements nfc.DeviceInfoProvider)
func (d *Device) DeviceType() string {
	return nfc.ManagerTypeRemote
}

// SupportedTagTypes returns the list of supported tag types (implements nfc.DeviceInfoProvider)
func (d *Device) SupportedTagTypes() []string {
	return []string{nfc.CardTypeISO15693}
}

// Close releases the caller's handle. The socket belongs to the Manager and stays open.
func (d *Device) Close() error {
	return nil
}

// GetTags fails once the remote is gone and otherwise reports no tags; see Current.
func (d *Device) GetTags() ([]nfc.Tag, error) {
	if d.isClosed() {
		return nil, fmt.Errorf("remote %s: %w", d.id, nfc.ErrDeviceClosed)
	}
	return nil, nil
}

// Current returns the tag the remote last reported and has not removed, or nil.
func (d *Device) Current() *Tag {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// LastSeen returns when the remote last sent a message.
func (d *Device) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

func (d *Device) touch() {
	d.mu.Lock()
	d.lastSeen = time.Now()
	d.mu.Unlock()
}

func (d *Device) isClosed() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// shutdown closes the socket and fails requests still waiting for an answer.
func (d *Device) shutdown() {
	d.closeOnce.Do(func() {
		close(d.done)
		if err := d.conn.Close(); err != nil {
			d.logger.Debug("error closing remote socket", zap.Error(err))
		}
		d.mu.Lock()
		d.current = nil
		d.mu.Unlock()
	})
}

func (d *Device) send(msg protocol.Message) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.WriteJSON(msg)
}

func (d *Device) sendError(id, code, message string) {
	msg, err := protocol.NewMessage(id, protocol.TypeError, protocol.ErrorPayload{Code: code, Message: message})
	if err == nil {
		err = d.send(msg)
	}
	if err != nil {
		d.logger.Debug("failed to send error", zap.String("code", code), zap.Error(err))
	}
}

// handleMessage applies one message read from the socket.
func (d *Device) handleMessage(msg protocol.Message) error {
	d.touch()

	switch msg.Type {
	case protocol.TypeHeartbeat:
		return nil

	case protocol.TypeTagDetected:
		var p protocol.TagDetectedPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		uid, err := protocol.ParseUID(p.UID)
		if err != nil {
			return err
		}
		tag := &Tag{uid: uid, tagType: p.Type, technologies: p.Technologies, device: d}
		d.mu.Lock()
		d.current = tag
		d.mu.Unlock()
		d.logger.Info("remote tag detected",
			zap.String("uid", uid),
			zap.Strings("technologies", p.Technologies))
		d.detect(nfc.DetectionEvent{Tag: tag, Device: d.Connection(), DetectedAt: time.Now()})
		return nil

	case protocol.TypeTagRemoved:
		var p protocol.TagRemovedPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		uid, _ := protocol.ParseUID(p.UID)
		d.mu.Lock()
		if d.current != nil && (uid == "" || d.current.uid == uid) {
			d.current = nil
		}
		d.mu.Unlock()
		return nil

	case protocol.TypeResponse, protocol.TypeError:
		if msg.ID == "" {
			if msg.Type == protocol.TypeError {
				var p protocol.ErrorPayload
				_ = msg.Decode(&p)
				d.logger.Warn("remote reported error", zap.String("code", p.Code), zap.String("message", p.Message))
			}
			return nil
		}
		d.mu.Lock()
		ch, ok := d.pending[msg.ID]
		delete(d.pending, msg.ID)
		d.mu.Unlock()
		if !ok {
			d.logger.Debug("answer for unknown or expired request", zap.String("id", msg.ID))
			return nil
		}
		ch <- msg
		return nil

	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

// request sends a message and waits for the matching response or error.
// Every failure comes back as an *nfc.NFCError.
func (d *Device) request(op, msgType string, payload interface{}) (protocol.Message, error) {
	if d.isClosed() {
		return protocol.Message{}, nfc.NewTransportError(op, nfc.ErrDeviceClosed)
	}

	id := uuid.New().String()
	msg, err := protocol.NewMessage(id, msgType, payload)
	if err != nil {
		return protocol.Message{}, nfc.NewTransportError(op, err)
	}

	ch := make(chan protocol.Message, 1)
	d.mu.Lock()
	d.pending[id] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
	}()

	if err := d.send(msg); err != nil {
		return protocol.Message{}, nfc.NewTransportError(op, fmt.Errorf("%w: %v", nfc.ErrIO, err))
	}

	timer := time.NewTimer(d.requestTimeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		if reply.Type == protocol.TypeError {
			return protocol.Message{}, replyError(op, reply)
		}
		return reply, nil
	case <-timer.C:
		return protocol.Message{}, nfc.NewTransportError(op, fmt.Errorf("%w after %s", nfc.ErrTimeout, d.requestTimeout))
	case <-d.done:
		return protocol.Message{}, nfc.NewTransportError(op, nfc.ErrDeviceClosed)
	}
}

func replyError(op string, reply protocol.Message) error {
	var p protocol.ErrorPayload
	if err := reply.Decode(&p); err != nil {
		return nfc.NewTransportError(op, err)
	}
	cause := errors.New(p.Message)
	if p.Code == protocol.ErrCodeTagLost {
		return nfc.NewCardRemovedError(cause)
	}
	return nfc.NewTransportError(op, fmt.Errorf("%s: %w", p.Code, cause))
}
