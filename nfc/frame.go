package nfc

// ISO 15693 frame layout used by the block read exchange.
const (
	// StatusSuccess is the status byte returned by a tag that executed the command.
	StatusSuccess = 0x00

	// PayloadSize is the number of payload bytes decoded into a value.
	PayloadSize = 4

	// minResponseLen covers the status byte plus one payload byte. Anything shorter is
	// a short response regardless of the status value.
	minResponseLen = 2
)

// readBlockCommand is the raw "read single block" request sent to every tag.
// Flags 0x02 (high data rate), command 0x20, trailing 0x00. The frame carries no
// explicit block number; it is kept bit-exact because the tags answer it as is.
var readBlockCommand = [...]byte{0x02, 0x20, 0x00}

// ReadBlockCommand returns a copy of the command frame.
func ReadBlockCommand() []byte {
	cmd := make([]byte, len(readBlockCommand))
	copy(cmd, readBlockCommand[:])
	return cmd
}

// ResponseFrame is a tag answer split into status and payload.
type ResponseFrame struct {
	Status  byte
	Payload []byte
}

// IsSuccess returns true if the tag reported success.
func (r ResponseFrame) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// ParseResponse validates a raw tag answer.
//
// Responses of 0 or 1 bytes are short. A non-zero status is a bad status. A successful
// status with fewer than PayloadSize payload bytes is short as well, so a validated
// frame always satisfies the decoder's input contract.
func ParseResponse(raw []byte) (ResponseFrame, error) {
	if len(raw) < minResponseLen {
		return ResponseFrame{}, NewShortResponseError("ParseResponse", len(raw), 1+PayloadSize)
	}

	frame := ResponseFrame{
		Status:  raw[0],
		Payload: raw[1:],
	}
	if !frame.IsSuccess() {
		return frame, NewBadStatusError("ParseResponse", frame.Status)
	}
	if len(frame.Payload) < PayloadSize {
		return frame, NewShortResponseError("ParseResponse", len(raw), 1+PayloadSize)
	}
	return frame, nil
}
