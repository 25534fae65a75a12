package elmuds

// Transport is the text adapter as seen by the exchange engine. Every method
// may block for the duration of one adapter command; none of them is called
// concurrently by a Client.
type Transport interface {
	// SetTxIdentifier selects the CAN identifier used for transmission.
	SetTxIdentifier(id uint32) error
	// SetRxFilter limits reception to identifiers where rx&mask == id&mask.
	SetRxFilter(id, mask uint32) error
	// SetSniffMode switches monitoring of bus traffic on or off.
	SetSniffMode(enabled bool) error
	// SendFrame transmits data as one CAN frame and returns whatever text
	// the adapter answered, which may be empty.
	SendFrame(data []byte) (string, error)
	// ReceiveLine returns one buffered adapter line without blocking.
	ReceiveLine() (string, bool)
}
