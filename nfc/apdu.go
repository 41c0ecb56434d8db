package nfc

import (
	"errors"
	"fmt"
)

// APDU status words
const (
	SW1Success = 0x90
	SW2Success = 0x00
)

// PC/SC pseudo-APDU class and instructions (reader commands)
const (
	CLAPCSC      = 0xFF
	INSGetUID    = 0xCA // Get UID
	INSDirectCmd = 0x00 // Direct transmit (for wrapped commands)
)

// maxDirectPayload is the largest frame that fits the one-byte Lc of a short APDU.
const maxDirectPayload = 0xFF

// APDUResponse represents a parsed APDU response
type APDUResponse struct {
	Data []byte
	SW1  byte
	SW2  byte
}

// IsSuccess returns true if the response indicates success (SW1=90, SW2=00)
func (r APDUResponse) IsSuccess() bool {
	return r.SW1 == SW1Success && r.SW2 == SW2Success
}

// Error returns an error if the response is not successful
func (r APDUResponse) Error() error {
	if r.IsSuccess() {
		return nil
	}
	return fmt.Errorf("APDU error: SW1=%02X SW2=%02X", r.SW1, r.SW2)
}

// StatusWord returns the 2-byte status word as uint16
func (r APDUResponse) StatusWord() uint16 {
	return uint16(r.SW1)<<8 | uint16(r.SW2)
}

// ParseAPDUResponse parses a raw response into APDUResponse
func ParseAPDUResponse(raw []byte) (APDUResponse, error) {
	if len(raw) < 2 {
		return APDUResponse{}, errors.New("response too short")
	}
	return APDUResponse{
		Data: raw[:len(raw)-2],
		SW1:  raw[len(raw)-2],
		SW2:  raw[len(raw)-1],
	}, nil
}

// BuildAPDU constructs an APDU command
func BuildAPDU(cla, ins, p1, p2 byte, data []byte, le *byte) []byte {
	cmd := []byte{cla, ins, p1, p2}

	if len(data) > 0 {
		cmd = append(cmd, byte(len(data)))
		cmd = append(cmd, data...)
	}

	if le != nil {
		cmd = append(cmd, *le)
	}

	return cmd
}

// GetUIDAPDU returns the APDU for getting the card UID
func GetUIDAPDU() []byte {
	le := byte(0x00)
	return BuildAPDU(CLAPCSC, INSGetUID, 0x00, 0x00, nil, &le)
}

// DirectTransmitAPDU wraps a native tag frame for transparent transmission.
// FF 00 00 00 Lc [frame]. Returns nil for frames that do not fit a short APDU.
func DirectTransmitAPDU(frame []byte) []byte {
	if len(frame) == 0 || len(frame) > maxDirectPayload {
		return nil
	}
	return BuildAPDU(CLAPCSC, INSDirectCmd, 0x00, 0x00, frame, nil)
}
