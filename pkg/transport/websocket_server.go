package transport

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sessamekesh/netsync/pkg/handlers"
	"go.uber.org/zap"
)

type wsConnectionChannels struct {
	OutgoingMessages chan<- handlers.OutboundMessage
	CloseRequest     chan<- handlers.CloseCommand
}

type websocketServer struct {
	upgrader *websocket.Upgrader

	params WebsocketServerParams

	serverConnection *handlers.ConnectionHandler

	mut_connections sync.RWMutex
	connections     map[uint32]*wsConnectionChannels

	log *zap.Logger
}

type WebsocketServerParams struct {
	ListenAddress    string
	ListenEndpoint   string
	AllowAllHosts    bool
	AllowlistedHosts []string
	DenylistedHosts  []string

	MaxReadMessageSize   int64
	OutgoingBufferLength int

	Logger *zap.Logger
}

func checkOrigin(r *http.Request, params WebsocketServerParams) bool {
	origin := r.Header.Get("Origin")
	if slices.Contains(params.DenylistedHosts, origin) {
		return false
	}

	if params.AllowAllHosts {
		return true
	}

	return slices.Contains(params.AllowlistedHosts, origin)
}

func CreateWebsocketServer(serverConnection *handlers.ConnectionHandler, params WebsocketServerParams) (*websocketServer, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.ListenEndpoint == "" {
		params.ListenEndpoint = "/ws"
	}
	if params.MaxReadMessageSize <= 0 {
		params.MaxReadMessageSize = 16 * 1024
	}
	if params.OutgoingBufferLength <= 0 {
		params.OutgoingBufferLength = 64
	}

	return &websocketServer{
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(r, params)
			},
		},
		params:           params,
		serverConnection: serverConnection,

		connections: make(map[uint32]*wsConnectionChannels),

		log: logger.With(zap.String("handler", "WebSocket")),
	}, nil
}

// refuseConnection sends the server's rejection, if it carries one, and a close frame.
func (ws *websocketServer) refuseConnection(c *websocket.Conn, err error) {
	reason := "Connection refused"
	var rejected *handlers.ConnectionRejectedError
	if errors.As(err, &rejected) {
		reason = rejected.Reason
		if len(rejected.Payload) > 0 {
			c.SetWriteDeadline(time.Now().Add(time.Second))
			if writeErr := c.WriteMessage(websocket.BinaryMessage, rejected.Payload); writeErr != nil {
				ws.log.Debug("Failed to send rejection", zap.Error(writeErr))
			}
		}
	}
	c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason),
		time.Now().Add(time.Second))
}

var expectedCloseErrors = []int{websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived}

func (ws *websocketServer) onWsRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	log := ws.log.With(zap.String("remoteAddr", r.RemoteAddr))

	log.Info("New WebSocket request")
	c, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("Failed to upgrade HTTP request to WebSocket connection", zap.Error(err))
		return
	}
	defer c.Close()

	c.SetReadLimit(ws.params.MaxReadMessageSize)

	connectionId, err := ws.serverConnection.GetNextConnectionId()
	if err != nil {
		log.Warn("Refusing WebSocket connection", zap.Error(err))
		ws.refuseConnection(c, err)
		return
	}
	log = log.With(zap.Uint32("connectionId", connectionId))

	outgoingMessages := make(chan handlers.OutboundMessage, ws.params.OutgoingBufferLength)
	closeRequest := make(chan handlers.CloseCommand, 1)

	func() {
		ws.mut_connections.Lock()
		defer ws.mut_connections.Unlock()
		ws.connections[connectionId] = &wsConnectionChannels{
			OutgoingMessages: outgoingMessages,
			CloseRequest:     closeRequest,
		}
	}()

	closeReason := "Connection closed by client"
	defer func() {
		ws.mut_connections.Lock()
		delete(ws.connections, connectionId)
		ws.mut_connections.Unlock()

		ws.serverConnection.ConnectionEvents <- handlers.ConnectionEvent{
			ConnectionId: connectionId,
			EventType:    handlers.ConnectionEventType_Closed,
			Timestamp:    ws.serverConnection.GetNowTimestamp(),
			Reason:       closeReason,
		}
		log.Debug("Removed connection from WebSocket handler connections map")
	}()

	ws.serverConnection.ConnectionEvents <- handlers.ConnectionEvent{
		ConnectionId: connectionId,
		EventType:    handlers.ConnectionEventType_Opened,
		Timestamp:    ws.serverConnection.GetNowTimestamp(),
	}

	readerDone := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				c.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"),
					time.Now().Add(time.Second))
				c.Close()
				return
			case <-readerDone:
				return
			case cmd := <-closeRequest:
				log.Info("Closing connection at server request", zap.String("reason", cmd.Reason))
				c.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, cmd.Reason),
					time.Now().Add(time.Second))
				c.Close()
				return
			case msg := <-outgoingMessages:
				if err := c.WriteMessage(websocket.BinaryMessage, msg.Data); err != nil {
					log.Warn("Failed to write WebSocket message", zap.Error(err))
					c.Close()
					return
				}
			}
		}
	}()

readLoop:
	for {
		msgType, payload, msgErr := c.ReadMessage()
		if msgErr != nil {
			switch {
			case websocket.IsCloseError(msgErr, expectedCloseErrors...):
				log.Info("Received close request from client")
			case websocket.IsUnexpectedCloseError(msgErr, expectedCloseErrors...):
				log.Warn("Unexpected close from client", zap.Error(msgErr))
				closeReason = "Unexpected close from client"
			default:
				log.Info("WebSocket read loop ended", zap.Error(msgErr))
				closeReason = "Connection closed"
			}
			break readLoop
		}

		if msgType != websocket.BinaryMessage {
			log.Info("Received non-binary message, ignoring", zap.Int("size", len(payload)))
			continue
		}

		ws.serverConnection.IncomingMessageChannel <- handlers.InboundMessage{
			ConnectionId:  connectionId,
			RecvTimestamp: ws.serverConnection.GetNowTimestamp(),
			Data:          payload,
		}
	}

	close(readerDone)
	<-writerDone
}

// Handler serves WebSocket upgrades; connections live until ctx is cancelled.
func (ws *websocketServer) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ws.params.ListenEndpoint, func(w http.ResponseWriter, r *http.Request) {
		ws.onWsRequest(ctx, w, r)
	})
	return mux
}

func (ws *websocketServer) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    ws.params.ListenAddress,
		Handler: ws.Handler(ctx),
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()

		ws.log.Sugar().Infof("Starting WebSocket server at %s%s", ws.params.ListenAddress, ws.params.ListenEndpoint)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			ws.log.Error("Unexpected WebSocket server close!", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		<-ctx.Done()

		shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownRelease()
		ws.log.Info("Attempting to trigger shutdown of WebSocket server")

		if err := server.Shutdown(shutdownCtx); err != nil {
			ws.log.Error("Failed to gracefully shut down WebSocket server", zap.Error(err))
			return
		}
		ws.log.Info("Successfully shutdown WebSocket server")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ws.routeOutgoing(ctx)
	}()

	wg.Wait()

	ws.log.Info("All WebSocket server goroutines finished. Exiting gracefully!")
	return nil
}

func (ws *websocketServer) routeOutgoing(ctx context.Context) {
	ws.log.Info("Starting WebSocket outgoing message loop")

	for {
		select {
		case <-ctx.Done():
			return
		case closeRequest := <-ws.serverConnection.OutgoingCloseRequests:
			ws.handleCloseRequest(closeRequest)
		case msgRequest := <-ws.serverConnection.OutgoingMessageChannel:
			ws.handleOutgoingMessageRequest(msgRequest)
		}
	}
}

func (ws *websocketServer) handleCloseRequest(closeRequest handlers.CloseCommand) {
	ws.mut_connections.RLock()
	defer ws.mut_connections.RUnlock()

	route, has := ws.connections[closeRequest.ConnectionId]
	if !has {
		ws.log.Debug("Close request for unknown connection", zap.Uint32("connectionId", closeRequest.ConnectionId))
		return
	}

	select {
	case route.CloseRequest <- closeRequest:
	default:
	}
}

// A connection that cannot keep up loses messages instead of stalling every other client.
func (ws *websocketServer) handleOutgoingMessageRequest(msgRequest handlers.OutboundMessage) {
	ws.mut_connections.RLock()
	defer ws.mut_connections.RUnlock()

	route, has := ws.connections[msgRequest.ConnectionId]
	if !has {
		ws.log.Debug("Message for unknown connection", zap.Uint32("connectionId", msgRequest.ConnectionId))
		return
	}

	select {
	case route.OutgoingMessages <- msgRequest:
	default:
		ws.log.Warn("WebSocket connection outgoing queue full, dropping message",
			zap.Uint32("connectionId", msgRequest.ConnectionId),
			zap.Stringer("channel", msgRequest.Channel))
	}
}
