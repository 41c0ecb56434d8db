package nfc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectTagTypeFromATR(t *testing.T) {
	tests := []struct {
		name string
		atr  []byte
		want DetectedTagType
	}{
		{
			name: "ISO 15693 part 3",
			atr:  []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06, 0x0B, 0x00, 0x14, 0x00, 0x00, 0x00, 0x00, 0x71},
			want: DetectedISO15693,
		},
		{
			name: "ISO 15693 part 1",
			atr:  []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06, 0x09, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			want: DetectedISO15693,
		},
		{
			name: "MIFARE Classic 1K",
			atr:  []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x6A},
			want: DetectedClassic1K,
		},
		{
			name: "ISO 14443A unnamed",
			atr:  []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06, 0x03, 0x00, 0x99, 0x00, 0x00, 0x00, 0x00, 0x00},
			want: DetectedISO14443A,
		},
		{
			name: "FeliCa",
			atr:  []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06, 0x11, 0x00, 0x3B, 0x00, 0x00, 0x00, 0x00, 0x00},
			want: DetectedFeliCa,
		},
		{
			name: "ISO 14443-4 without storage descriptor",
			atr:  []byte{0x3B, 0x81, 0x80, 0x01, 0x80, 0x80},
			want: DetectedUnknown,
		},
		{"empty", nil, DetectedUnknown},
		{"bad TS", []byte{0x00, 0x8F, 0x80}, DetectedUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectTagTypeFromATR(tt.atr)
			assert.Equal(t, tt.want, got, "got %s", got)
		})
	}
}

func TestDetectedTagType_IsVicinity(t *testing.T) {
	assert.True(t, DetectedISO15693.IsVicinity())
	assert.False(t, DetectedClassic1K.IsVicinity())
	assert.Equal(t, CardTypeISO15693, DetectedISO15693.String())
}
