package handlers

// DeliveryChannel selects how the transport should deliver a payload. Transports that only
// offer one delivery mode are free to treat every channel the same way.
type DeliveryChannel uint8

const (
	DeliveryChannel_ReliableOrdered DeliveryChannel = iota
	DeliveryChannel_Unreliable
)

func (c DeliveryChannel) String() string {
	switch c {
	case DeliveryChannel_ReliableOrdered:
		return "ReliableOrdered"
	case DeliveryChannel_Unreliable:
		return "Unreliable"
	}
	return "Unknown"
}

//
// Messages between a transport and the game server

type InboundMessage struct {
	ConnectionId uint32
	Data         []byte

	// Telemetry
	RecvTimestamp int64
}

type OutboundMessage struct {
	ConnectionId uint32
	Channel      DeliveryChannel
	Data         []byte
}

//
// Connection lifecycle

type ConnectionEventType uint8

const (
	ConnectionEventType_Opened ConnectionEventType = iota
	ConnectionEventType_Closed
)

type ConnectionEvent struct {
	ConnectionId uint32
	EventType    ConnectionEventType
	Timestamp    int64
	Reason       string
}

type CloseCommand struct {
	ConnectionId uint32
	Reason       string
}
