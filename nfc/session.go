package nfc

import (
	"fmt"
	"math/big"
	"time"

	"github.com/nedpals/nfcv-agent/logging"
	"go.uber.org/zap"
)

// State is a step of a single tag exchange.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingResponse
	StateDecoding
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateDecoding:
		return "decoding"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FailureKind classifies why an exchange produced no value.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTransport
	FailureBadStatus
	FailureShortResponse
	FailureUnsupportedTag
	FailureInternal
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTransport:
		return "transport"
	case FailureBadStatus:
		return "bad-status"
	case FailureShortResponse:
		return "short-response"
	case FailureUnsupportedTag:
		return "unsupported-tag"
	case FailureInternal:
		return "internal"
	default:
		return fmt.Sprintf("failure(%d)", int(k))
	}
}

// IsProtocol returns true for bad status and short response failures.
func (k FailureKind) IsProtocol() bool {
	return k == FailureBadStatus || k == FailureShortResponse
}

// Classify maps an error to its FailureKind. Errors that are not NFCErrors are
// transport failures, matching what a raw I/O error from a transport means.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	switch GetErrorCode(err) {
	case ErrCodeBadStatus:
		return FailureBadStatus
	case ErrCodeShortResponse:
		return FailureShortResponse
	case ErrCodeUnsupportedTag:
		return FailureUnsupportedTag
	case ErrCodeInternal:
		return FailureInternal
	default:
		return FailureTransport
	}
}

// DetectionEvent is a tag presented to a reader, queued for one exchange.
type DetectionEvent struct {
	Tag        Tag
	Device     string
	DetectedAt time.Time
}

// Outcome is the classified result of one exchange. Value is set exactly when Err is nil.
type Outcome struct {
	UID        string
	TagType    string
	Device     string
	DetectedAt time.Time
	Value      *big.Int
	Decimal    string
	Failure    FailureKind
	Err        error
}

// OK returns true if the exchange produced a value.
func (o Outcome) OK() bool {
	return o.Err == nil && o.Value != nil
}

// Decoder turns a validated payload into a value.
type Decoder func(payload []byte) (*big.Int, error)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger used for state transitions.
func WithLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDecoder replaces DecodePayload.
func WithDecoder(d Decoder) SessionOption {
	return func(s *Session) {
		if d != nil {
			s.decode = d
		}
	}
}

// WithStateHook registers fn to observe every state entered during an exchange.
func WithStateHook(fn func(uid string, state State)) SessionOption {
	return func(s *Session) {
		s.onState = fn
	}
}

// Session runs block read exchanges. It holds no per-exchange state, so one Session can
// serve every detection event; exchanges must not overlap (see NFCReader).
type Session struct {
	logger  *zap.Logger
	decode  Decoder
	onState func(uid string, state State)
	now     func() time.Time
}

// NewSession creates a Session.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		logger: zap.NewNop(),
		decode: DecodePayload,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle runs the exchange for a queued detection event.
func (s *Session) Handle(ev DetectionEvent) Outcome {
	out := s.Exchange(ev.Tag)
	out.Device = ev.Device
	if !ev.DetectedAt.IsZero() {
		out.DetectedAt = ev.DetectedAt
	}
	return out
}

// Exchange reads and decodes the payload block of tag.
//
// Once Connect has been attempted, the tag's vicinity connection is closed exactly once
// before Exchange returns, whether or not Connect succeeded. Failures never escape as panics; they are reported in the Outcome.
func (s *Session) Exchange(tag Tag) (out Outcome) {
	out.DetectedAt = s.now()
	if tag == nil {
		out.Err = NewInternalError("Exchange", "nil tag")
		out.Failure = FailureInternal
		return out
	}
	out.UID = tag.UID()
	out.TagType = tag.Type()
	log := s.logger.With(zap.String("uid", out.UID), zap.String("type", out.TagType))

	s.enter(log, out.UID, StateIdle)
	defer func() {
		if r := recover(); r != nil {
			log.Error("exchange panicked", zap.Any("panic", r))
			out.Value = nil
			out.Decimal = ""
			out.Err = NewInternalError("Exchange", "panic: %v", r)
			out.Failure = FailureInternal
			s.enter(log, out.UID, StateFailed)
			s.enter(log, out.UID, StateClosed)
		}
	}()

	conn, ok := tag.Vicinity()
	if !ok || conn == nil {
		return s.fail(log, out, NewUnsupportedTagError(out.TagType))
	}

	closed := false
	closeConn := func() {
		if closed {
			return
		}
		closed = true
		if err := conn.Close(); err != nil {
			log.Debug("close failed", zap.Error(err))
		}
	}
	defer closeConn()

	s.enter(log, out.UID, StateConnecting)
	if err := conn.Connect(); err != nil {
		closeConn()
		return s.fail(log, out, asExchangeError("Connect", err))
	}

	s.enter(log, out.UID, StateAwaitingResponse)
	resp, err := conn.Transceive(ReadBlockCommand())
	if err != nil {
		closeConn()
		return s.fail(log, out, asExchangeError("Transceive", err))
	}
	logging.RawBytes(log, "response received", resp)

	frame, err := ParseResponse(resp)
	if err != nil {
		closeConn()
		return s.fail(log, out, err)
	}

	s.enter(log, out.UID, StateDecoding)
	value, err := s.decode(frame.Payload)
	closeConn()
	if err != nil {
		return s.fail(log, out, asDecodeError(err))
	}

	out.Value = value
	out.Decimal = value.String()
	s.enter(log, out.UID, StateClosed)
	log.Info("block decoded", zap.String("value", out.Decimal))
	return out
}

func (s *Session) fail(log *zap.Logger, out Outcome, err error) Outcome {
	out.Err = err
	out.Failure = Classify(err)
	s.enter(log, out.UID, StateFailed)
	s.enter(log, out.UID, StateClosed)
	if out.Failure == FailureInternal {
		log.Error("exchange failed", zap.Stringer("failure", out.Failure), zap.Error(err))
	} else {
		log.Warn("exchange failed", zap.Stringer("failure", out.Failure), zap.Error(err))
	}
	return out
}

func (s *Session) enter(log *zap.Logger, uid string, st State) {
	log.Debug("state", zap.Stringer("state", st))
	if s.onState != nil {
		s.onState(uid, st)
	}
}

// asExchangeError keeps classified transport errors and wraps anything else.
func asExchangeError(op string, err error) error {
	if GetErrorCode(err) != 0 {
		return err
	}
	return NewTransportError(op, err)
}

// asDecodeError reports any decoder failure as a contract violation.
func asDecodeError(err error) error {
	if IsInternalError(err) {
		return err
	}
	return WrapError(ErrCodeInternal, "Decode", "decoder failed", err)
}
