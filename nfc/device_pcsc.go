package nfc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ebfe/scard"
	"go.uber.org/zap"
)

// pcscDevice implements Device using PC/SC via ebfe/scard.
//
// The device does not hold a card connection between polls. Each GetTags call reads the
// reader state without blocking; a newly presented card is identified once through a
// shared connection and cached until the reader's event counter changes.
type pcscDevice struct {
	ctx        pcscContext
	readerName string
	logger     *zap.Logger
	mu         sync.Mutex
	closed     bool

	// Card presence tracking from the upper 16 bits of EventState
	lastEventCount uint16
	current        *pcscTag
}

func newPCSCDevice(ctx pcscContext, readerName string, logger *zap.Logger) *pcscDevice {
	return &pcscDevice{
		ctx:        ctx,
		readerName: readerName,
		logger:     logger.With(zap.String("reader", readerName)),
	}
}

func (d *pcscDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDeviceClosed
	}
	d.closed = true
	d.current = nil
	return nil
}

func (d *pcscDevice) String() string {
	return d.readerName
}

func (d *pcscDevice) Connection() string {
	return "pcsc:" + d.readerName
}

// DeviceType returns the device type identifier (implements DeviceInfoProvider)
func (d *pcscDevice) DeviceType() string {
	return ManagerTypePCSC
}

// SupportedTagTypes returns the list of supported tag types (implements DeviceInfoProvider)
func (d *pcscDevice) SupportedTagTypes() []string {
	return []string{CardTypeISO15693}
}

// GetTags returns the card on the reader, if any.
func (d *pcscDevice) GetTags() ([]Tag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrDeviceClosed
	}

	states := []scard.ReaderState{
		{Reader: d.readerName, CurrentState: scard.StateUnaware},
	}
	if err := d.ctx.GetStatusChange(states, 0); err != nil {
		if errors.Is(err, scard.ErrReaderUnavailable) || errors.Is(err, scard.ErrUnknownReader) {
			return nil, fmt.Errorf("%w: %v", ErrDeviceClosed, err)
		}
		if errors.Is(err, scard.ErrTimeout) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: status change: %v", ErrIO, err)
	}

	eventState := states[0].EventState
	if eventState&scard.StateUnavailable != 0 {
		return nil, fmt.Errorf("%w: reader unavailable", ErrDeviceClosed)
	}
	if eventState&scard.StatePresent == 0 || eventState&scard.StateMute != 0 {
		d.current = nil
		return nil, nil
	}

	eventCount := uint16(eventState >> 16)
	if d.current != nil && eventCount == d.lastEventCount {
		return []Tag{d.current}, nil
	}

	tag, err := d.identify()
	if err != nil {
		if isCardRemovedPCSCError(err) {
			d.current = nil
			return nil, nil
		}
		return nil, err
	}
	d.lastEventCount = eventCount
	d.current = tag
	d.logger.Debug("card identified",
		zap.String("uid", tag.uid),
		zap.Stringer("type", tag.tagType),
		zap.String("atr", strings.ToUpper(hex.EncodeToString(tag.atr))))
	return []Tag{tag}, nil
}

// identify reads the ATR and UID through a short shared connection.
func (d *pcscDevice) identify() (*pcscTag, error) {
	card, err := d.ctx.Connect(d.readerName, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, err
	}
	defer card.Disconnect(scard.LeaveCard)

	status, err := card.Status()
	if err != nil {
		return nil, err
	}

	uid, err := readUID(card)
	if err != nil {
		return nil, err
	}

	return &pcscTag{
		ctx:        d.ctx,
		readerName: d.readerName,
		uid:        uid,
		atr:        append([]byte(nil), status.Atr...),
		tagType:    detectTagTypeFromATR(status.Atr),
	}, nil
}

// readUID retrieves the card UID using GET UID APDU
func readUID(card pcscCard) (string, error) {
	resp, err := card.Transmit(GetUIDAPDU())
	if err != nil {
		return "", fmt.Errorf("GET UID failed: %w", err)
	}

	parsed, err := ParseAPDUResponse(resp)
	if err != nil {
		return "", err
	}
	if !parsed.IsSuccess() {
		return "", parsed.Error()
	}

	return strings.ToUpper(hex.EncodeToString(parsed.Data)), nil
}

// pcscTag is a card seen on a PC/SC reader.
type pcscTag struct {
	ctx        pcscContext
	readerName string
	uid        string
	atr        []byte
	tagType    DetectedTagType
}

func (t *pcscTag) UID() string  { return t.uid }
func (t *pcscTag) Type() string { return t.tagType.String() }

// Vicinity returns a connection for ISO 15693 cards only.
func (t *pcscTag) Vicinity() (VicinityConn, bool) {
	if !t.tagType.IsVicinity() {
		return nil, false
	}
	return &pcscVicinityConn{ctx: t.ctx, readerName: t.readerName}, true
}

// pcscVicinityConn sends native ISO 15693 frames through the reader's direct transmit
// pseudo-APDU and strips the reader's status word from the answer.
type pcscVicinityConn struct {
	ctx        pcscContext
	readerName string
	card       pcscCard
	mu         sync.Mutex
}

func (c *pcscVicinityConn) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.card != nil {
		return nil
	}
	card, err := c.ctx.Connect(c.readerName, scard.ShareExclusive, scard.ProtocolAny)
	if err != nil {
		if isCardRemovedPCSCError(err) {
			return NewCardRemovedError(err)
		}
		return NewTransportError("Connect", err)
	}
	c.card = card
	return nil
}

func (c *pcscVicinityConn) Transceive(frame []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.card == nil {
		return nil, NewTransportError("Transceive", errors.New("connection not open"))
	}

	cmd := DirectTransmitAPDU(frame)
	if cmd == nil {
		return nil, NewTransportError("Transceive", fmt.Errorf("frame of %d bytes cannot be wrapped", len(frame)))
	}

	raw, err := c.card.Transmit(cmd)
	if err != nil {
		if isCardRemovedPCSCError(err) {
			return nil, NewCardRemovedError(err)
		}
		return nil, NewTransportError("Transceive", err)
	}

	resp, err := ParseAPDUResponse(raw)
	if err != nil {
		return nil, NewTransportError("Transceive", err)
	}
	if !resp.IsSuccess() {
		return nil, NewTransportError("Transceive", resp.Error())
	}
	return append([]byte(nil), resp.Data...), nil
}

func (c *pcscVicinityConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.card == nil {
		return nil
	}
	err := c.card.Disconnect(scard.LeaveCard)
	c.card = nil
	return err
}

// isCardRemovedPCSCError checks if a PC/SC error indicates the card was removed.
// Uses typed error checking first, with string matching fallback.
func isCardRemovedPCSCError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, scard.ErrRemovedCard) ||
		errors.Is(err, scard.ErrResetCard) ||
		errors.Is(err, scard.ErrNoSmartcard) ||
		errors.Is(err, scard.ErrUnpoweredCard) {
		return true
	}

	errLower := strings.ToLower(err.Error())
	return strings.Contains(errLower, "removed") ||
		strings.Contains(errLower, "unpowered") ||
		strings.Contains(errLower, "no smart card")
}
