package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sessamekesh/netsync/pkg/handlers"
	"go.uber.org/zap"
)

type NotConnectedError struct{}

func (e *NotConnectedError) Error() string {
	return "Transport is not connected"
}

type WebsocketClientParams struct {
	Endpoint             string
	UseTLS               bool
	HandshakeTimeout     time.Duration
	IncomingBufferLength int

	Logger *zap.Logger
}

// websocketClient is the game client's side of a WebSocket session. Every delivery channel
// maps onto the same ordered stream.
type websocketClient struct {
	params WebsocketClientParams
	log    *zap.Logger
	dialer *websocket.Dialer

	mut_conn sync.Mutex
	conn     *websocket.Conn
	incoming chan []byte
	// Closed to stop the current read loop; readerDone is closed once it has returned.
	stopReading chan struct{}
	readerDone  chan struct{}
}

func CreateWebsocketClient(params WebsocketClientParams) *websocketClient {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.Endpoint == "" {
		params.Endpoint = "/ws"
	}
	if params.HandshakeTimeout <= 0 {
		params.HandshakeTimeout = 5 * time.Second
	}
	if params.IncomingBufferLength <= 0 {
		params.IncomingBufferLength = 256
	}

	return &websocketClient{
		params: params,
		log:    logger.With(zap.String("handler", "WebSocketClient")),
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: params.HandshakeTimeout,
		},
	}
}

func (c *websocketClient) serverUrl(address string, port uint16) string {
	scheme := "ws"
	if c.params.UseTLS {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(address, strconv.Itoa(int(port))),
		Path:   c.params.Endpoint,
	}
	return u.String()
}

// Connect dials the server. A dial that completes after ctx was cancelled is dropped, so a
// Close issued while connecting never leaves a live connection behind.
func (c *websocketClient) Connect(ctx context.Context, address string, port uint16) error {
	target := c.serverUrl(address, port)
	log := c.log.With(zap.String("url", target))

	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}

	return c.install(ctx, conn, log)
}

func (c *websocketClient) install(ctx context.Context, conn *websocket.Conn, log *zap.Logger) error {
	incoming := make(chan []byte, c.params.IncomingBufferLength)
	stopReading := make(chan struct{})
	readerDone := make(chan struct{})

	c.mut_conn.Lock()
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.mut_conn.Unlock()
		log.Info("Connect cancelled after dial, dropping connection")
		conn.Close()
		return ctxErr
	}
	c.closeLocked()
	c.conn = conn
	c.incoming = incoming
	c.stopReading = stopReading
	c.readerDone = readerDone
	c.mut_conn.Unlock()

	log.Info("Connected to game server")
	go c.readLoop(conn, incoming, stopReading, readerDone, log)
	return nil
}

func (c *websocketClient) readLoop(conn *websocket.Conn, incoming chan<- []byte, stopReading <-chan struct{}, readerDone chan<- struct{}, log *zap.Logger) {
	defer close(readerDone)
	defer close(incoming)

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, expectedCloseErrors...) {
				log.Warn("Unexpected close from server", zap.Error(err))
			} else {
				log.Info("Connection to server closed", zap.Error(err))
			}
			return
		}

		if msgType != websocket.BinaryMessage {
			log.Debug("Ignoring non-binary message from server", zap.Int("size", len(payload)))
			continue
		}

		select {
		case incoming <- payload:
		case <-stopReading:
			return
		}
	}
}

// Send writes one binary frame. The connection is only written from here, under mut_conn.
func (c *websocketClient) Send(data []byte, _ handlers.DeliveryChannel) error {
	c.mut_conn.Lock()
	defer c.mut_conn.Unlock()

	if c.conn == nil {
		return &NotConnectedError{}
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *websocketClient) Incoming() <-chan []byte {
	c.mut_conn.Lock()
	defer c.mut_conn.Unlock()
	return c.incoming
}

// Close ends the session and waits for the read loop to stop. Messages already buffered stay
// readable from Incoming until it is closed.
func (c *websocketClient) Close() error {
	c.mut_conn.Lock()
	defer c.mut_conn.Unlock()
	return c.closeLocked()
}

func (c *websocketClient) closeLocked() error {
	if c.conn == nil {
		return nil
	}

	conn, readerDone := c.conn, c.readerDone
	c.conn = nil
	close(c.stopReading)
	c.stopReading = nil
	c.readerDone = nil

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Client disconnect"),
		time.Now().Add(time.Second))
	err := conn.Close()
	<-readerDone
	return err
}
