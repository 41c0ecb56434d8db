package nfc

import "math/big"

// DecodeUnsigned interprets b as a big-endian unsigned integer of arbitrary width.
// An empty slice decodes to zero.
func DecodeUnsigned(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// DecodePayload converts the first PayloadSize bytes of payload into a value.
//
// Callers hand over the bytes following the status byte. Shorter input is a contract
// violation and yields an internal error instead of a truncated value.
func DecodePayload(payload []byte) (*big.Int, error) {
	if len(payload) < PayloadSize {
		return nil, NewInternalError("DecodePayload", "payload has %d bytes, need %d", len(payload), PayloadSize)
	}
	return DecodeUnsigned(payload[:PayloadSize]), nil
}

// DecodeDecimal is DecodePayload rendered in base 10 without leading zeros.
func DecodeDecimal(payload []byte) (string, error) {
	v, err := DecodePayload(payload)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}
