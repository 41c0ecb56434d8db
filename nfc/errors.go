package nfc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific type of NFC error for programmatic handling.
type ErrorCode int

const (
	// Exchange failures (100-199)
	ErrCodeTransport ErrorCode = iota + 100
	ErrCodeBadStatus
	ErrCodeShortResponse
	ErrCodeUnsupportedTag
	ErrCodeInternal
	ErrCodeTagRemoved
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeTransport:
		return "transport"
	case ErrCodeBadStatus:
		return "bad-status"
	case ErrCodeShortResponse:
		return "short-response"
	case ErrCodeUnsupportedTag:
		return "unsupported-tag"
	case ErrCodeInternal:
		return "internal"
	case ErrCodeTagRemoved:
		return "tag-removed"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// NFCError provides structured error information for programmatic handling.
type NFCError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "Connect", "Transceive")
	TagUID  string // Optional: UID of tag involved
	Message string // Human-readable message
	Status  byte   // Tag status byte, set for ErrCodeBadStatus
	Cause   error  // Underlying error
}

func (e *NFCError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *NFCError) Unwrap() error {
	return e.Cause
}

func (e *NFCError) Is(target error) bool {
	if t, ok := target.(*NFCError); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is comparisons. Only the Code is compared.
var (
	ErrTransport      = &NFCError{Code: ErrCodeTransport, Message: "communication error"}
	ErrBadStatus      = &NFCError{Code: ErrCodeBadStatus, Message: "block read error"}
	ErrShortResponse  = &NFCError{Code: ErrCodeShortResponse, Message: "response too short"}
	ErrUnsupportedTag = &NFCError{Code: ErrCodeUnsupportedTag, Message: "technology not supported"}
	ErrInternal       = &NFCError{Code: ErrCodeInternal, Message: "internal error"}
	ErrTagRemoved     = &NFCError{Code: ErrCodeTagRemoved, Message: "tag removed during operation"}
)

// NewTransportError creates an error for a failed open/send/receive primitive.
func NewTransportError(op string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeTransport,
		Op:      op,
		Message: "communication error",
		Cause:   cause,
	}
}

// NewBadStatusError creates an error for a response carrying a non-zero status byte.
func NewBadStatusError(op string, status byte) *NFCError {
	return &NFCError{
		Code:    ErrCodeBadStatus,
		Op:      op,
		Message: fmt.Sprintf("block read error (status 0x%02X)", status),
		Status:  status,
	}
}

// NewShortResponseError creates an error for a response below the minimum length.
func NewShortResponseError(op string, got, want int) *NFCError {
	return &NFCError{
		Code:    ErrCodeShortResponse,
		Op:      op,
		Message: fmt.Sprintf("response too short: got %d bytes, want at least %d", got, want),
	}
}

// NewUnsupportedTagError creates an error for tags without a vicinity interface.
func NewUnsupportedTagError(tagType string) *NFCError {
	msg := "technology not supported"
	if tagType != "" {
		msg = fmt.Sprintf("technology not supported (%s)", tagType)
	}
	return &NFCError{
		Code:    ErrCodeUnsupportedTag,
		Op:      "Vicinity",
		Message: msg,
	}
}

// NewInternalError creates an error for a contract violation between components.
func NewInternalError(op, format string, args ...interface{}) *NFCError {
	return &NFCError{
		Code:    ErrCodeInternal,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewCardRemovedError creates an error for when a tag leaves the field mid-operation.
// It classifies as a transport failure.
func NewCardRemovedError(cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeTagRemoved,
		Op:      "Transceive",
		Message: "tag removed during operation",
		Cause:   cause,
	}
}

// WrapError wraps an existing error with NFC context.
func WrapError(code ErrorCode, op, message string, cause error) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// GetErrorCode extracts the ErrorCode from an error if it's an NFCError.
// Returns 0 if the error is not an NFCError.
func GetErrorCode(err error) ErrorCode {
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code
	}
	return 0
}

// IsTransportError reports whether err is a link-level failure, including tag removal.
func IsTransportError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrCodeTransport || code == ErrCodeTagRemoved
}

// IsProtocolError reports whether err is a bad status or short response.
func IsProtocolError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrCodeBadStatus || code == ErrCodeShortResponse
}

// IsUnsupportedTagError reports whether err says the tag has no vicinity interface.
func IsUnsupportedTagError(err error) bool {
	return GetErrorCode(err) == ErrCodeUnsupportedTag
}

// IsInternalError reports whether err is a contract violation.
func IsInternalError(err error) bool {
	return GetErrorCode(err) == ErrCodeInternal
}

// IsTagRemovedError checks if an error indicates the tag was removed.
func IsTagRemovedError(err error) bool {
	if err == nil {
		return false
	}
	if GetErrorCode(err) == ErrCodeTagRemoved {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "tag removed") ||
		strings.Contains(errStr, "tag lost") ||
		strings.Contains(errStr, "Target was removed")
}
