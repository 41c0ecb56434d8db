package nfc

// Device represents an NFC reader.
//
// A Device is obtained from a Manager and reports the tags currently in its field.
//
// Example:
//
//	manager := nfc.NewPCSCManager(logger)
//	device, err := manager.OpenDevice("")
//	defer device.Close()
type Device interface {
	Close() error
	String() string
	Connection() string
	GetTags() ([]Tag, error)
}

// DeviceInfoProvider is optionally implemented by devices that can describe themselves.
type DeviceInfoProvider interface {
	DeviceType() string
	SupportedTagTypes() []string
}
