package handlers

// ConnectionHandler is the bundle of channels a transport uses to talk to the game server.
// Inbound traffic from every transport is funneled into the server's single queue; outbound
// traffic is routed back to the transport that owns the connection.
type ConnectionHandler struct {
	Name                string
	GetNextConnectionId func() (uint32, error)
	GetNowTimestamp     func() int64

	IncomingMessageChannel chan<- InboundMessage
	ConnectionEvents       chan<- ConnectionEvent

	OutgoingMessageChannel <-chan OutboundMessage
	OutgoingCloseRequests  <-chan CloseCommand
}

// ConnectionRejectedError is returned by GetNextConnectionId when the server will not take
// another connection. Transports deliver Payload, if any, before dropping the connection.
type ConnectionRejectedError struct {
	Reason  string
	Payload []byte
}

func (e *ConnectionRejectedError) Error() string {
	return "Connection rejected: " + e.Reason
}
