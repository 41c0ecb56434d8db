package nfc

// Tag represents an NFC tag reported by a Device.
//
// A Tag is an identity plus, when the tag speaks ISO 15693, a way to open a vicinity
// connection to it. Tags found by readers that cannot talk to vicinity tags (or tags of
// another family) return ok == false from Vicinity.
//
// Example:
//
//	tags, _ := device.GetTags()
//	for _, tag := range tags {
//	    conn, ok := tag.Vicinity()
//	    if !ok {
//	        continue
//	    }
//	    _ = conn
//	}
type Tag interface {
	UID() string
	Type() string
	Vicinity() (VicinityConn, bool)
}

// VicinityConn is the byte-oriented request/response primitive over one tag.
//
// A VicinityConn is single use: Connect once, Transceive, Close once. Implementations
// return transport errors (see NewTransportError) from Connect and Transceive.
type VicinityConn interface {
	Connect() error
	Transceive(data []byte) ([]byte, error)
	Close() error
}
