package nfc

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spyDecoder counts decoder invocations.
type spyDecoder struct {
	calls int
}

func (d *spyDecoder) decode(payload []byte) (*big.Int, error) {
	d.calls++
	return DecodePayload(payload)
}

func newSpySession() (*Session, *spyDecoder) {
	spy := &spyDecoder{}
	return NewSession(WithDecoder(spy.decode)), spy
}

func TestSession_Exchange_Success(t *testing.T) {
	session, spy := newSpySession()
	tag := NewMockVicinityTag("E004015000000001", 0x00, 0x00, 0x01, 0x00, 0x00)

	out := session.Exchange(tag)

	require.True(t, out.OK(), "unexpected error: %v", out.Err)
	assert.Equal(t, "65536", out.Decimal)
	assert.Equal(t, FailureNone, out.Failure)
	assert.Equal(t, "E004015000000001", out.UID)
	assert.Equal(t, CardTypeISO15693, out.TagType)
	assert.Equal(t, 1, spy.calls)
	assert.Equal(t, [][]byte{{0x02, 0x20, 0x00}}, tag.Conn.Sent)
	assert.Equal(t, []string{"Connect", "Transceive(02 20 00)", "Close"}, tag.Conn.GetCallLog())
}

func TestSession_Exchange_BadStatusSkipsDecoder(t *testing.T) {
	for _, status := range []byte{0x01, 0x0F, 0x80, 0xFF} {
		session, spy := newSpySession()
		tag := NewMockVicinityTag("E0", status, 0x00, 0x00, 0x00, 0x01)

		out := session.Exchange(tag)

		assert.False(t, out.OK())
		assert.Equal(t, FailureBadStatus, out.Failure, "status 0x%02X", status)
		assert.True(t, out.Failure.IsProtocol())
		assert.Nil(t, out.Value)
		assert.Zero(t, spy.calls, "decoder invoked for status 0x%02X", status)
		assert.Equal(t, 1, tag.Conn.Closes())
	}
}

func TestSession_Exchange_ShortResponseSkipsDecoder(t *testing.T) {
	for _, resp := range [][]byte{{}, {0x00}, {0x01}} {
		session, spy := newSpySession()
		tag := NewMockVicinityTag("E0", resp...)

		out := session.Exchange(tag)

		assert.Equal(t, FailureShortResponse, out.Failure, "response % X", resp)
		assert.Zero(t, spy.calls)
		assert.Equal(t, 1, tag.Conn.Closes())
	}
}

func TestSession_Exchange_TransportErrorClosesOnce(t *testing.T) {
	session, spy := newSpySession()
	tag := NewMockVicinityTag("E0")
	tag.Conn.TransceiveError = errors.New("tag moved away")

	out := session.Exchange(tag)

	assert.Equal(t, FailureTransport, out.Failure)
	assert.True(t, IsTransportError(out.Err))
	assert.ErrorIs(t, out.Err, ErrTransport)
	assert.Zero(t, spy.calls)
	assert.Equal(t, 1, tag.Conn.Closes())
}

func TestSession_Exchange_TagRemovedIsTransport(t *testing.T) {
	session := NewSession()
	tag := NewMockVicinityTag("E0")
	tag.Conn.TransceiveError = NewCardRemovedError(errors.New("card removed"))

	out := session.Exchange(tag)

	assert.Equal(t, FailureTransport, out.Failure)
	assert.True(t, IsTagRemovedError(out.Err))
}

func TestSession_Exchange_ConnectFailure(t *testing.T) {
	session, spy := newSpySession()
	tag := NewMockVicinityTag("E0", 0x00, 0x00, 0x00, 0x00, 0x01)
	tag.Conn.ConnectError = errors.New("no carrier")

	out := session.Exchange(tag)

	assert.Equal(t, FailureTransport, out.Failure)
	assert.Zero(t, spy.calls)
	assert.Equal(t, []string{"Connect", "Close"}, tag.Conn.GetCallLog(), "a failed connect is still released")
	assert.Equal(t, 1, tag.Conn.Closes())
}

func TestSession_Exchange_UnsupportedTag(t *testing.T) {
	session, spy := newSpySession()
	tag := NewMockTag("04A1B2C3")

	out := session.Exchange(tag)

	assert.Equal(t, FailureUnsupportedTag, out.Failure)
	assert.True(t, IsUnsupportedTagError(out.Err))
	assert.Contains(t, out.Err.Error(), CardTypeMifareClassic1K)
	assert.Zero(t, spy.calls)
}

func TestSession_Exchange_CloseErrorIgnored(t *testing.T) {
	session := NewSession()
	tag := NewMockVicinityTag("E0", 0x00, 0x00, 0x00, 0x00, 0x07)
	tag.Conn.CloseError = errors.New("already gone")

	out := session.Exchange(tag)

	require.True(t, out.OK())
	assert.Equal(t, "7", out.Decimal)
	assert.Equal(t, 1, tag.Conn.Closes())
}

func TestSession_Exchange_DecoderContractViolation(t *testing.T) {
	session := NewSession(WithDecoder(func(payload []byte) (*big.Int, error) {
		return DecodePayload(payload[:2])
	}))
	tag := NewMockVicinityTag("E0", 0x00, 0x00, 0x00, 0x00, 0x01)

	out := session.Exchange(tag)

	assert.Equal(t, FailureInternal, out.Failure)
	assert.True(t, IsInternalError(out.Err))
	assert.Equal(t, 1, tag.Conn.Closes())
}

func TestSession_Exchange_PanicIsContained(t *testing.T) {
	session := NewSession()
	tag := NewMockVicinityTag("E0")
	tag.Conn.TransceiveFunc = func([]byte) ([]byte, error) {
		panic("driver bug")
	}

	var out Outcome
	require.NotPanics(t, func() { out = session.Exchange(tag) })
	assert.Equal(t, FailureInternal, out.Failure)
	assert.Equal(t, 1, tag.Conn.Closes())
}

func TestSession_Exchange_States(t *testing.T) {
	tests := []struct {
		name string
		tag  *MockTag
		want []State
	}{
		{
			name: "success",
			tag:  NewMockVicinityTag("E0", 0x00, 0x00, 0x00, 0x00, 0x01),
			want: []State{StateIdle, StateConnecting, StateAwaitingResponse, StateDecoding, StateClosed},
		},
		{
			name: "bad status",
			tag:  NewMockVicinityTag("E0", 0x01, 0x00),
			want: []State{StateIdle, StateConnecting, StateAwaitingResponse, StateFailed, StateClosed},
		},
		{
			name: "unsupported",
			tag:  NewMockTag("04"),
			want: []State{StateIdle, StateFailed, StateClosed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []State
			session := NewSession(WithStateHook(func(_ string, st State) {
				got = append(got, st)
			}))
			session.Exchange(tt.tag)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSession_ConsecutiveExchangesAreIndependent(t *testing.T) {
	session := NewSession()

	failing := NewMockVicinityTag("E001", 0x01, 0x00)
	first := session.Exchange(failing)
	require.Equal(t, FailureBadStatus, first.Failure)

	ok := NewMockVicinityTag("E002", 0x00, 0x00, 0x00, 0x00, 0x05)
	second := session.Exchange(ok)
	require.True(t, second.OK())
	assert.Equal(t, "5", second.Decimal)
	assert.Equal(t, "E002", second.UID)

	third := session.Exchange(NewMockVicinityTag("E003", 0x00, 0xFF, 0xFF, 0xFF, 0xFF))
	require.True(t, third.OK())
	assert.Equal(t, "4294967295", third.Decimal)
	assert.Equal(t, "5", second.Decimal, "earlier outcome must not change")

	assert.Equal(t, 1, failing.Conn.Closes())
	assert.Equal(t, 1, ok.Conn.Closes())
}

func TestSession_Handle_CopiesEventMetadata(t *testing.T) {
	session := NewSession()
	at := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

	out := session.Handle(DetectionEvent{
		Tag:        NewMockVicinityTag("E0", 0x00, 0x00, 0x00, 0x00, 0x01),
		Device:     "pcsc:ACS ACR1252 1S CL Reader PICC 0",
		DetectedAt: at,
	})

	assert.Equal(t, "pcsc:ACS ACR1252 1S CL Reader PICC 0", out.Device)
	assert.Equal(t, at, out.DetectedAt)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, FailureNone, Classify(nil))
	assert.Equal(t, FailureTransport, Classify(errors.New("io")))
	assert.Equal(t, FailureBadStatus, Classify(NewBadStatusError("x", 1)))
	assert.Equal(t, FailureShortResponse, Classify(NewShortResponseError("x", 1, 5)))
	assert.Equal(t, FailureUnsupportedTag, Classify(NewUnsupportedTagError("")))
	assert.Equal(t, FailureInternal, Classify(NewInternalError("x", "y")))
	assert.Equal(t, FailureTransport, Classify(NewCardRemovedError(nil)))
}
