package nfc

import (
	"errors"
	"testing"
	"time"

	"github.com/ebfe/scard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ATR of an ISO 15693 card behind a PC/SC part 3 reader (standard byte 0x0B).
var iso15693ATR = []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06, 0x0B, 0x00, 0x14, 0x00, 0x00, 0x00, 0x00, 0x71}

// ATR of a MIFARE Classic 1K card.
var classicATR = []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x6A}

type fakeSCardContext struct {
	readers     []string
	listErr     error
	eventState  scard.StateFlag
	statusErr   error
	connectErr  error
	card        *fakeSCardCard
	connects    []scard.ShareMode
	released    int
	statusCalls int
}

func (c *fakeSCardContext) ListReaders() ([]string, error) {
	return c.readers, c.listErr
}

func (c *fakeSCardContext) Connect(reader string, mode scard.ShareMode, proto scard.Protocol) (pcscCard, error) {
	c.connects = append(c.connects, mode)
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	c.card.connected++
	return c.card, nil
}

func (c *fakeSCardContext) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	c.statusCalls++
	if c.statusErr != nil {
		return c.statusErr
	}
	for i := range states {
		states[i].EventState = c.eventState
	}
	return nil
}

func (c *fakeSCardContext) Release() error {
	c.released++
	return nil
}

type fakeSCardCard struct {
	atr          []byte
	uid          []byte
	blockAnswer  []byte
	transmitErr  error
	transmitted  [][]byte
	connected    int
	disconnected int
}

func (c *fakeSCardCard) Transmit(cmd []byte) ([]byte, error) {
	c.transmitted = append(c.transmitted, append([]byte(nil), cmd...))
	if c.transmitErr != nil {
		return nil, c.transmitErr
	}
	if cmd[1] == INSGetUID {
		return append(append([]byte(nil), c.uid...), 0x90, 0x00), nil
	}
	return c.blockAnswer, nil
}

func (c *fakeSCardCard) Status() (*scard.CardStatus, error) {
	return &scard.CardStatus{Atr: c.atr}, nil
}

func (c *fakeSCardCard) Disconnect(d scard.Disposition) error {
	c.disconnected++
	return nil
}

func presentState(count uint16) scard.StateFlag {
	return scard.StatePresent | scard.StateFlag(uint32(count)<<16)
}

func newFakePCSC(atr []byte) (*fakeSCardContext, *pcscManager) {
	ctx := &fakeSCardContext{
		readers: []string{"ACS ACR1252 1S CL Reader PICC 0", "ACS ACR1252 1S CL Reader SAM 0"},
		card: &fakeSCardCard{
			atr:         atr,
			uid:         []byte{0xE0, 0x04, 0x01, 0x50, 0x12, 0x34, 0x56, 0x78},
			blockAnswer: []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x90, 0x00},
		},
	}
	mgr := newPCSCManagerWithContext(func() (pcscContext, error) { return ctx, nil }, zap.NewNop())
	return ctx, mgr
}

func TestPCSCManager_ListDevicesFiltersSAM(t *testing.T) {
	_, mgr := newFakePCSC(iso15693ATR)

	devices, err := mgr.ListDevices()
	require.NoError(t, err)
	assert.Equal(t, []string{"ACS ACR1252 1S CL Reader PICC 0"}, devices)
}

func TestPCSCManager_OpenDeviceDefaultsToFirstReader(t *testing.T) {
	_, mgr := newFakePCSC(iso15693ATR)

	dev, err := mgr.OpenDevice("")
	require.NoError(t, err)
	assert.Equal(t, "ACS ACR1252 1S CL Reader PICC 0", dev.String())
	assert.Equal(t, "pcsc:ACS ACR1252 1S CL Reader PICC 0", dev.Connection())
}

func TestPCSCManager_OpenDeviceNoReaders(t *testing.T) {
	ctx, mgr := newFakePCSC(iso15693ATR)
	ctx.readers = nil

	_, err := mgr.OpenDevice("")
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestPCSCManager_EstablishFailure(t *testing.T) {
	mgr := newPCSCManagerWithContext(func() (pcscContext, error) {
		return nil, errors.New("service not available")
	}, nil)

	_, err := mgr.ListDevices()
	assert.ErrorContains(t, err, "service not available")
}

func TestPCSCManager_Close(t *testing.T) {
	ctx, mgr := newFakePCSC(iso15693ATR)
	_, err := mgr.ListDevices()
	require.NoError(t, err)

	require.NoError(t, mgr.Close())
	assert.Equal(t, 1, ctx.released)
	require.NoError(t, mgr.Close())
	assert.Equal(t, 1, ctx.released)
}

func TestPCSCDevice_GetTagsEmptyReader(t *testing.T) {
	ctx, mgr := newFakePCSC(iso15693ATR)
	ctx.eventState = scard.StateEmpty

	dev, err := mgr.OpenDevice("")
	require.NoError(t, err)

	tags, err := dev.GetTags()
	require.NoError(t, err)
	assert.Empty(t, tags)
	assert.Empty(t, ctx.connects)
}

func TestPCSCDevice_GetTagsIdentifiesOncePerPresentation(t *testing.T) {
	ctx, mgr := newFakePCSC(iso15693ATR)
	ctx.eventState = presentState(3)

	dev, err := mgr.OpenDevice("")
	require.NoError(t, err)

	first, err := dev.GetTags()
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "E004015012345678", first[0].UID())
	assert.Equal(t, CardTypeISO15693, first[0].Type())
	assert.Equal(t, []scard.ShareMode{scard.ShareShared}, ctx.connects)
	assert.Equal(t, 1, ctx.card.disconnected)

	second, err := dev.GetTags()
	require.NoError(t, err)
	assert.Same(t, first[0], second[0])
	assert.Len(t, ctx.connects, 1, "same event counter must reuse the cached tag")

	ctx.eventState = presentState(5)
	third, err := dev.GetTags()
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.NotSame(t, first[0], third[0])
	assert.Len(t, ctx.connects, 2)
}

func TestPCSCDevice_GetTagsStatusErrors(t *testing.T) {
	ctx, mgr := newFakePCSC(iso15693ATR)
	dev, err := mgr.OpenDevice("")
	require.NoError(t, err)

	ctx.statusErr = scard.ErrReaderUnavailable
	_, err = dev.GetTags()
	assert.ErrorIs(t, err, ErrDeviceClosed)

	ctx.statusErr = errors.New("pipe closed")
	_, err = dev.GetTags()
	assert.ErrorIs(t, err, ErrIO)
	assert.True(t, needsReconnect(err))
}

func TestPCSCDevice_RemovedDuringIdentify(t *testing.T) {
	ctx, mgr := newFakePCSC(iso15693ATR)
	ctx.eventState = presentState(1)
	ctx.connectErr = scard.ErrRemovedCard

	dev, err := mgr.OpenDevice("")
	require.NoError(t, err)

	tags, err := dev.GetTags()
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestPCSCDevice_Closed(t *testing.T) {
	_, mgr := newFakePCSC(iso15693ATR)
	dev, err := mgr.OpenDevice("")
	require.NoError(t, err)

	require.NoError(t, dev.Close())
	assert.ErrorIs(t, dev.Close(), ErrDeviceClosed)
	_, err = dev.GetTags()
	assert.ErrorIs(t, err, ErrDeviceClosed)
}

func TestPCSCTag_ClassicHasNoVicinity(t *testing.T) {
	ctx, mgr := newFakePCSC(classicATR)
	ctx.eventState = presentState(1)
	ctx.card.uid = []byte{0x04, 0xA1, 0xB2, 0xC3}

	dev, err := mgr.OpenDevice("")
	require.NoError(t, err)
	tags, err := dev.GetTags()
	require.NoError(t, err)
	require.Len(t, tags, 1)

	assert.Equal(t, CardTypeMifareClassic1K, tags[0].Type())
	_, ok := tags[0].Vicinity()
	assert.False(t, ok)
}

func TestPCSCVicinityConn_Exchange(t *testing.T) {
	ctx, mgr := newFakePCSC(iso15693ATR)
	ctx.eventState = presentState(1)

	dev, err := mgr.OpenDevice("")
	require.NoError(t, err)
	tags, err := dev.GetTags()
	require.NoError(t, err)
	require.Len(t, tags, 1)

	out := NewSession().Exchange(tags[0])

	require.True(t, out.OK(), "unexpected error: %v", out.Err)
	assert.Equal(t, "65536", out.Decimal)
	assert.Equal(t, []scard.ShareMode{scard.ShareShared, scard.ShareExclusive}, ctx.connects)
	last := ctx.card.transmitted[len(ctx.card.transmitted)-1]
	assert.Equal(t, []byte{0xFF, 0x00, 0x00, 0x00, 0x03, 0x02, 0x20, 0x00}, last)
	assert.Equal(t, 2, ctx.card.disconnected)
}

func TestPCSCVicinityConn_ReaderStatusWordIsTransport(t *testing.T) {
	ctx, _ := newFakePCSC(iso15693ATR)
	ctx.card.blockAnswer = []byte{0x63, 0x00}
	conn := &pcscVicinityConn{ctx: ctx, readerName: "reader"}

	require.NoError(t, conn.Connect())
	_, err := conn.Transceive(ReadBlockCommand())
	assert.True(t, IsTransportError(err))
	assert.ErrorContains(t, err, "SW1=63")
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Equal(t, 1, ctx.card.disconnected)
}

func TestPCSCVicinityConn_RemovedCard(t *testing.T) {
	ctx, _ := newFakePCSC(iso15693ATR)
	ctx.card.transmitErr = scard.ErrRemovedCard
	conn := &pcscVicinityConn{ctx: ctx, readerName: "reader"}

	require.NoError(t, conn.Connect())
	_, err := conn.Transceive(ReadBlockCommand())
	assert.True(t, IsTagRemovedError(err))
	assert.Equal(t, FailureTransport, Classify(err))
}

func TestPCSCVicinityConn_TransceiveWithoutConnect(t *testing.T) {
	conn := &pcscVicinityConn{ctx: &fakeSCardContext{}, readerName: "reader"}

	_, err := conn.Transceive(ReadBlockCommand())
	assert.True(t, IsTransportError(err))
}

func TestIsCardRemovedPCSCError(t *testing.T) {
	assert.True(t, isCardRemovedPCSCError(scard.ErrRemovedCard))
	assert.True(t, isCardRemovedPCSCError(scard.ErrNoSmartcard))
	assert.True(t, isCardRemovedPCSCError(errors.New("card was removed")))
	assert.False(t, isCardRemovedPCSCError(errors.New("sharing violation")))
	assert.False(t, isCardRemovedPCSCError(nil))
}
