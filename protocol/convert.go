package protocol

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var validHex = regexp.MustCompile(`^[0-9A-F]+$`)

// ParseUID normalizes a UID from various formats to uppercase hex without separators.
// Supports: "E0:04:01:50", "e0040150", "E0 04 01 50", "E0-04-01-50"
func ParseUID(uid string) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("empty UID")
	}

	cleaned := strings.NewReplacer(":", "", " ", "", "-", "").Replace(uid)
	cleaned = strings.ToUpper(cleaned)

	if !validHex.MatchString(cleaned) {
		return "", fmt.Errorf("UID contains invalid characters: %s", uid)
	}
	if len(cleaned)%2 != 0 {
		return "", fmt.Errorf("UID has odd number of hex characters: %s", uid)
	}

	return cleaned, nil
}

// FormatFrame encodes a frame as uppercase hex.
func FormatFrame(frame []byte) string {
	return strings.ToUpper(hex.EncodeToString(frame))
}

// ParseFrame decodes a hex frame. Separators are not allowed; an empty string is an
// empty frame.
func ParseFrame(s string) ([]byte, error) {
	frame, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid frame %q: %w", s, err)
	}
	return frame, nil
}

// HasTechnology reports whether techs contains tech, ignoring case.
func HasTechnology(techs []string, tech string) bool {
	for _, t := range techs {
		if strings.EqualFold(t, tech) {
			return true
		}
	}
	return false
}
