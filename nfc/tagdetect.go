package nfc

// DetectedTagType represents detected tag type from the ATR
type DetectedTagType int

// Detected tag type constants for PC/SC detection
const (
	DetectedUnknown DetectedTagType = iota
	DetectedISO15693
	DetectedClassic1K
	DetectedClassic4K
	DetectedUltralight
	DetectedDESFire
	DetectedISO14443A
	DetectedISO14443B
	DetectedFeliCa
)

// PC/SC part 3 standard byte (SS) values found in contactless ATRs
const (
	atrStdISO14443APart1 = 0x01
	atrStdISO14443APart3 = 0x03
	atrStdISO14443BPart1 = 0x05
	atrStdISO14443BPart3 = 0x07
	atrStdISO15693Part1  = 0x09
	atrStdISO15693Part4  = 0x0C
	atrStdFeliCa         = 0x11
)

// Card name bytes (NN NN) for ISO 14443A cards
var atrCardNames = map[uint16]DetectedTagType{
	0x0001: DetectedClassic1K,
	0x0002: DetectedClassic4K,
	0x0003: DetectedUltralight,
	0x0026: DetectedDESFire,
}

// atrStorageCard is the parsed PC/SC part 3 storage card descriptor.
type atrStorageCard struct {
	Standard byte
	Name     uint16
}

// IsVicinity returns true for tags reachable through the ISO 15693 command set.
func (t DetectedTagType) IsVicinity() bool {
	return t == DetectedISO15693
}

func (t DetectedTagType) String() string {
	switch t {
	case DetectedISO15693:
		return CardTypeISO15693
	case DetectedClassic1K:
		return CardTypeMifareClassic1K
	case DetectedClassic4K:
		return CardTypeMifareClassic4K
	case DetectedUltralight:
		return CardTypeMifareUltralight
	case DetectedDESFire:
		return CardTypeDesfire
	case DetectedISO14443A:
		return "ISO 14443A"
	case DetectedISO14443B:
		return "ISO 14443B"
	case DetectedFeliCa:
		return "FeliCa"
	default:
		return CardTypeUnknown
	}
}

// detectTagTypeFromATR parses ATR and returns detected tag type
func detectTagTypeFromATR(atr []byte) DetectedTagType {
	card, ok := parseStorageCardATR(atr)
	if !ok {
		return DetectedUnknown
	}

	switch {
	case card.Standard >= atrStdISO15693Part1 && card.Standard <= atrStdISO15693Part4:
		return DetectedISO15693
	case card.Standard >= atrStdISO14443APart1 && card.Standard <= atrStdISO14443APart3:
		if t, ok := atrCardNames[card.Name]; ok {
			return t
		}
		return DetectedISO14443A
	case card.Standard >= atrStdISO14443BPart1 && card.Standard <= atrStdISO14443BPart3:
		return DetectedISO14443B
	case card.Standard == atrStdFeliCa:
		return DetectedFeliCa
	default:
		return DetectedUnknown
	}
}

// parseStorageCardATR finds the storage card descriptor in the historical bytes.
//
//	3B 8F 80 01 80 4F 0C A0 00 00 03 06 SS NN NN 00 00 00 00 TCK
//	            ^^ historical bytes start   ^^ standard, card name
func parseStorageCardATR(atr []byte) (atrStorageCard, bool) {
	histStart := findHistoricalBytesStart(atr)
	if histStart < 0 || histStart >= len(atr) {
		return atrStorageCard{}, false
	}

	histBytes := atr[histStart:]
	for i := 0; i+10 < len(histBytes); i++ {
		// Category indicator 80, application identifier tag 4F, RID A0 00 00 03 06
		if histBytes[i] == 0x80 &&
			histBytes[i+1] == 0x4F &&
			histBytes[i+3] == 0xA0 &&
			histBytes[i+4] == 0x00 &&
			histBytes[i+5] == 0x00 &&
			histBytes[i+6] == 0x03 &&
			histBytes[i+7] == 0x06 {
			return atrStorageCard{
				Standard: histBytes[i+8],
				Name:     uint16(histBytes[i+9])<<8 | uint16(histBytes[i+10]),
			}, true
		}
	}
	return atrStorageCard{}, false
}

// findHistoricalBytesStart finds the start of historical bytes in ATR
func findHistoricalBytesStart(atr []byte) int {
	if len(atr) < 2 {
		return -1
	}

	// TS (3B or 3F), T0 (lower nibble = number of historical bytes),
	// interface bytes chained through TDi, then historical bytes and TCK.
	ts := atr[0]
	if ts != 0x3B && ts != 0x3F {
		return -1
	}

	t0 := atr[1]
	if t0&0x0F == 0 {
		return -1
	}

	pos := 2
	td := t0
	for {
		if (td & 0x10) != 0 {
			pos++ // TAi present
		}
		if (td & 0x20) != 0 {
			pos++ // TBi present
		}
		if (td & 0x40) != 0 {
			pos++ // TCi present
		}
		if (td & 0x80) != 0 {
			if pos >= len(atr) {
				return -1
			}
			td = atr[pos] // TDi present, read it
			pos++
		} else {
			break
		}
	}

	if pos >= len(atr) {
		return -1
	}

	return pos
}
