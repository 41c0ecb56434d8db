package nfc

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDecimal(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    string
	}{
		{"zero", []byte{0x00, 0x00, 0x00, 0x00}, "0"},
		{"one", []byte{0x00, 0x00, 0x00, 0x01}, "1"},
		{"max uint32", []byte{0xFF, 0xFF, 0xFF, 0xFF}, "4294967295"},
		{"big endian order", []byte{0x01, 0x02, 0x03, 0x04}, "16909060"},
		{"high bit set", []byte{0x80, 0x00, 0x00, 0x00}, "2147483648"},
		{"trailing bytes ignored", []byte{0x00, 0x00, 0x01, 0x00, 0xFF, 0xFF}, "256"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeDecimal(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeDecimal_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		{0x00, 0x00, 0x00, 0x00},
		{0x00, 0x00, 0x00, 0x0A},
		{0x12, 0x34, 0x56, 0x78},
		{0x7F, 0xFF, 0xFF, 0xFF},
		{0xDE, 0xAD, 0xBE, 0xEF},
		{0xFF, 0xFF, 0xFF, 0xFF},
	}

	for _, p := range payloads {
		s, err := DecodeDecimal(p)
		require.NoError(t, err)

		parsed, ok := new(big.Int).SetString(s, 10)
		require.True(t, ok, "decimal %q does not parse", s)

		direct := uint64(p[0])<<24 | uint64(p[1])<<16 | uint64(p[2])<<8 | uint64(p[3])
		assert.Equal(t, direct, parsed.Uint64(), "payload % X", p)
		if s != "0" {
			assert.NotEqual(t, byte('0'), s[0], "leading zero in %q", s)
		}
	}
}

func TestDecodePayload_ShortInput(t *testing.T) {
	for n := 0; n < PayloadSize; n++ {
		v, err := DecodePayload(make([]byte, n))
		assert.Nil(t, v)
		require.Error(t, err)
		assert.True(t, IsInternalError(err), "len %d: %v", n, err)
	}
}

func TestDecodeUnsigned_WiderThanMachineWord(t *testing.T) {
	b := []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	assert.Equal(t, "18446744073709551616", DecodeUnsigned(b).String())
	assert.Equal(t, "0", DecodeUnsigned(nil).String())
}
