package transport

import (
	"context"
	"sync"

	"github.com/sessamekesh/netsync/pkg/handlers"
	"go.uber.org/zap"
)

type QueueFullError struct {
	Queue string
}

func (e *QueueFullError) Error() string {
	return "Queue is full: " + e.Queue
}

// loopbackServer connects in-process clients to a game server without touching the network.
// Used by tests and by bots that share a process with the server.
type loopbackServer struct {
	serverConnection *handlers.ConnectionHandler
	log              *zap.Logger

	mut_clients sync.RWMutex
	clients     map[uint32]*loopbackClient
}

func CreateLoopbackServer(serverConnection *handlers.ConnectionHandler, logger *zap.Logger) *loopbackServer {
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &loopbackServer{
		serverConnection: serverConnection,
		log:              logger.With(zap.String("handler", "Loopback")),
		clients:          make(map[uint32]*loopbackClient),
	}
}

func (l *loopbackServer) CreateClient() *loopbackClient {
	return &loopbackClient{server: l}
}

// Start routes server output to the loopback clients until ctx is cancelled.
func (l *loopbackServer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case closeRequest := <-l.serverConnection.OutgoingCloseRequests:
			l.mut_clients.RLock()
			client, has := l.clients[closeRequest.ConnectionId]
			l.mut_clients.RUnlock()
			if has {
				l.log.Info("Closing loopback connection at server request",
					zap.Uint32("connectionId", closeRequest.ConnectionId),
					zap.String("reason", closeRequest.Reason))
				client.disconnect(closeRequest.Reason)
			}
		case msg := <-l.serverConnection.OutgoingMessageChannel:
			l.mut_clients.RLock()
			client, has := l.clients[msg.ConnectionId]
			l.mut_clients.RUnlock()
			if !has {
				continue
			}
			if !client.deliver(msg.Data) {
				l.log.Warn("Loopback client queue full, dropping message", zap.Uint32("connectionId", msg.ConnectionId))
			}
		}
	}
}

type loopbackClient struct {
	server *loopbackServer

	mut_state    sync.Mutex
	connectionId uint32
	connected    bool
	incoming     chan []byte
}

func (c *loopbackClient) Connect(ctx context.Context, _ string, _ uint16) error {
	handler := c.server.serverConnection
	connectionId, err := handler.GetNextConnectionId()
	if err != nil {
		c.server.log.Warn("Refusing loopback connection", zap.Error(err))
		return err
	}

	c.mut_state.Lock()
	c.connectionId = connectionId
	c.connected = true
	c.incoming = make(chan []byte, 256)
	c.mut_state.Unlock()

	c.server.mut_clients.Lock()
	c.server.clients[connectionId] = c
	c.server.mut_clients.Unlock()

	select {
	case handler.ConnectionEvents <- handlers.ConnectionEvent{
		ConnectionId: connectionId,
		EventType:    handlers.ConnectionEventType_Opened,
		Timestamp:    handler.GetNowTimestamp(),
	}:
		return nil
	case <-ctx.Done():
		c.disconnect("Connect cancelled")
		return ctx.Err()
	}
}

func (c *loopbackClient) ConnectionId() uint32 {
	c.mut_state.Lock()
	defer c.mut_state.Unlock()
	return c.connectionId
}

func (c *loopbackClient) Send(data []byte, _ handlers.DeliveryChannel) error {
	c.mut_state.Lock()
	connected, connectionId := c.connected, c.connectionId
	c.mut_state.Unlock()
	if !connected {
		return &NotConnectedError{}
	}

	handler := c.server.serverConnection
	select {
	case handler.IncomingMessageChannel <- handlers.InboundMessage{
		ConnectionId:  connectionId,
		Data:          append([]byte(nil), data...),
		RecvTimestamp: handler.GetNowTimestamp(),
	}:
		return nil
	default:
		return &QueueFullError{Queue: "server inbound"}
	}
}

func (c *loopbackClient) Incoming() <-chan []byte {
	c.mut_state.Lock()
	defer c.mut_state.Unlock()
	return c.incoming
}

func (c *loopbackClient) Close() error {
	c.disconnect("Connection closed by client")
	return nil
}

func (c *loopbackClient) deliver(data []byte) bool {
	c.mut_state.Lock()
	defer c.mut_state.Unlock()

	if !c.connected {
		return true
	}
	select {
	case c.incoming <- data:
		return true
	default:
		return false
	}
}

func (c *loopbackClient) disconnect(reason string) {
	c.mut_state.Lock()
	if !c.connected {
		c.mut_state.Unlock()
		return
	}
	c.connected = false
	close(c.incoming)
	connectionId := c.connectionId
	c.mut_state.Unlock()

	c.server.mut_clients.Lock()
	delete(c.server.clients, connectionId)
	c.server.mut_clients.Unlock()

	handler := c.server.serverConnection
	handler.ConnectionEvents <- handlers.ConnectionEvent{
		ConnectionId: connectionId,
		EventType:    handlers.ConnectionEventType_Closed,
		Timestamp:    handler.GetNowTimestamp(),
		Reason:       reason,
	}
}
