package remotenfc

import (
	"errors"
	"sync"

	"github.com/nedpals/nfcv-agent/nfc"
	"github.com/nedpals/nfcv-agent/protocol"
)

// Tag is a tag reported by a remote reader.
type Tag struct {
	uid          string
	tagType      string
	technologies []string
	device       *Device
}

// UID returns the tag's unique identifier.
func (t *Tag) UID() string {
	return t.uid
}

// Type returns the tag type the remote reported.
func (t *Tag) Type() string {
	if t.tagType == "" {
		return nfc.CardTypeUnknown
	}
	return t.tagType
}

// Technologies returns the technologies the remote reported.
func (t *Tag) Technologies() []string {
	return t.technologies
}

// Vicinity returns a connection when the remote lists NfcV among the tag's technologies.
func (t *Tag) Vicinity() (nfc.VicinityConn, bool) {
	if !protocol.HasTechnology(t.technologies, nfc.TechnologyNfcV) {
		return nil, false
	}
	return &vicinityConn{device: t.device, uid: t.uid}, true
}

// vicinityConn drives one exchange through connect, transceive and close requests.
type vicinityConn struct {
	device *Device
	uid    string
	mu     sync.Mutex
	// requested is set once a connect went out, answered or not: the remote may have
	// opened its handle even when the answer never arrived.
	requested bool
	connected bool
}

func (c *vicinityConn) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}
	c.requested = true
	if _, err := c.device.request("Connect", protocol.TypeConnect, protocol.TagRequestPayload{UID: c.uid}); err != nil {
		return err
	}
	c.connected = true
	return nil
}

func (c *vicinityConn) Transceive(frame []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, nfc.NewTransportError("Transceive", errors.New("connection not open"))
	}

	reply, err := c.device.request("Transceive", protocol.TypeTransceive, protocol.TransceivePayload{
		UID:   c.uid,
		Frame: protocol.FormatFrame(frame),
	})
	if err != nil {
		return nil, err
	}

	if len(reply.Payload) == 0 {
		return []byte{}, nil
	}
	var p protocol.ResponsePayload
	if err := reply.Decode(&p); err != nil {
		return nil, nfc.NewTransportError("Transceive", err)
	}
	resp, err := protocol.ParseFrame(p.Frame)
	if err != nil {
		return nil, nfc.NewTransportError("Transceive", err)
	}
	return resp, nil
}

func (c *vicinityConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.requested {
		return nil
	}
	c.requested = false
	c.connected = false
	_, err := c.device.request("Close", protocol.TypeClose, protocol.TagRequestPayload{UID: c.uid})
	return err
}
