package nfc

// Manager type constants for identifying different manager implementations
const (
	ManagerTypePCSC   = "pcsc"
	ManagerTypeLibNFC = "libnfc"
	ManagerTypeRemote = "remote"
)

// Card type constants for card type identification
const (
	CardTypeISO15693         = "ISO 15693"
	CardTypeMifareClassic1K  = "MIFARE Classic 1K"
	CardTypeMifareClassic4K  = "MIFARE Classic 4K"
	CardTypeMifareUltralight = "MIFARE Ultralight"
	CardTypeDesfire          = "DESFire"
	CardTypeType4            = "Type4"
	CardTypeUnknown          = "Unknown"
)

// TechnologyNfcV is the technology name remote readers use for vicinity tags.
const TechnologyNfcV = "NfcV"
