package nfc

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"
	"go.uber.org/zap"
)

// libnfcManager implements Manager using libnfc and freefare libraries.
//
// libnfc exposes no ISO 15693 modulation, so readers opened through it only ever report
// tags of other families. They are still polled so that presenting such a tag produces
// the "technology not supported" notice.
type libnfcManager struct {
	logger *zap.Logger
}

// NewLibNFCManager creates a Manager backed by libnfc.
func NewLibNFCManager(logger *zap.Logger) Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &libnfcManager{logger: logger}
}

func (m *libnfcManager) OpenDevice(deviceStr string) (Device, error) {
	dev, err := nfc.Open(deviceStr)
	if err != nil {
		return nil, err
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("failed to initialize initiator mode: %w", err)
	}
	return &libnfcDevice{device: dev, logger: m.logger.With(zap.String("reader", dev.String()))}, nil
}

func (m *libnfcManager) ListDevices() ([]string, error) {
	var devices []string
	var err error
	for i := 0; i < DeviceEnumRetries; i++ {
		devices, err = nfc.ListDevices()
		if err == nil {
			return devices, nil
		}
		time.Sleep(time.Millisecond * 100)
	}
	return nil, fmt.Errorf("failed to list NFC devices after %d retries: %w", DeviceEnumRetries, err)
}

// libnfcDevice implements Device using an nfc.Device from libnfc.
type libnfcDevice struct {
	device nfc.Device
	logger *zap.Logger
	mu     sync.Mutex
}

func (d *libnfcDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.device.Close()
}

func (d *libnfcDevice) String() string {
	return d.device.String()
}

func (d *libnfcDevice) Connection() string {
	return "libnfc:" + d.device.Connection()
}

// DeviceType returns the device type identifier (implements DeviceInfoProvider)
func (d *libnfcDevice) DeviceType() string {
	return ManagerTypeLibNFC
}

// SupportedTagTypes returns nil; no tag on a libnfc reader has a vicinity interface.
func (d *libnfcDevice) SupportedTagTypes() []string {
	return nil
}

// GetTags polls for tags on the device.
// Freefare names the MIFARE family; remaining ISO14443A targets are reported by UID.
func (d *libnfcDevice) GetTags() ([]Tag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var found []Tag
	seen := make(map[string]bool)

	ffTags, ffErr := freefare.GetTags(d.device)
	if ffErr != nil {
		d.logger.Debug("freefare.GetTags failed", zap.Error(ffErr))
	}
	for _, ffTag := range ffTags {
		uid := strings.ToUpper(ffTag.UID())
		if seen[uid] {
			continue
		}
		seen[uid] = true
		found = append(found, &libnfcTag{uid: uid, tagType: freefareTypeName(ffTag.Type())})
	}

	modulation := nfc.Modulation{Type: nfc.ISO14443a, BaudRate: nfc.Nbr106}
	targets, listErr := d.device.InitiatorListPassiveTargets(modulation)
	if listErr != nil {
		if ffErr != nil && len(found) == 0 {
			return nil, fmt.Errorf("error from freefare (%v) AND passive targets (%w)", ffErr, listErr)
		}
		d.logger.Debug("listing passive targets failed", zap.Error(listErr))
		return found, nil
	}

	for _, target := range targets {
		isoA, ok := target.(*nfc.ISO14443aTarget)
		if !ok {
			continue
		}
		if isoA.UIDLen == 0 || int(isoA.UIDLen) > len(isoA.UID) {
			continue
		}
		uid := strings.ToUpper(hex.EncodeToString(isoA.UID[:isoA.UIDLen]))
		if seen[uid] {
			continue
		}
		seen[uid] = true
		found = append(found, &libnfcTag{uid: uid, tagType: iso14443aTypeName(isoA.Sak)})
	}

	return found, nil
}

// libnfcTag is a tag seen by a libnfc reader. It never has a vicinity interface.
type libnfcTag struct {
	uid     string
	tagType string
}

func (t *libnfcTag) UID() string  { return t.uid }
func (t *libnfcTag) Type() string { return t.tagType }

func (t *libnfcTag) Vicinity() (VicinityConn, bool) {
	return nil, false
}

func freefareTypeName(t int) string {
	switch t {
	case freefare.Classic1k:
		return CardTypeMifareClassic1K
	case freefare.Classic4k:
		return CardTypeMifareClassic4K
	case freefare.Ultralight, freefare.UltralightC:
		return CardTypeMifareUltralight
	case freefare.DESFire:
		return CardTypeDesfire
	default:
		return CardTypeUnknown
	}
}

// iso14443aTypeName names a target freefare did not recognise from its SAK.
func iso14443aTypeName(sak byte) string {
	if sak&0x20 != 0 {
		return CardTypeType4
	}
	return DetectedISO14443A.String()
}
