package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hublink-io/hublink-go/pkg/status"
)

// closeWait bounds writing the close frame on Close.
const closeWait = time.Second

// WebSocket carries binary messages over a WebSocket tunnel to the hub.
// Send and Receive may run concurrently with each other.
type WebSocket struct {
	config ClientConfig
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	ka   *KeepAlive

	writeMu sync.Mutex
	readMu  sync.Mutex
}

// NewWebSocket creates a WebSocket transport for amqps_ws or mqtt_ws.
func NewWebSocket(config ClientConfig) (*WebSocket, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if !config.Protocol.IsWebSocket() {
		return nil, fmt.Errorf("%w: WebSocket transport cannot carry %s", ErrUnsupportedProtocol, config.Protocol)
	}

	return &WebSocket{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            proxyFunc(config.Proxy),
			TLSClientConfig:  NewClientTLSConfig(config.TLS),
			HandshakeTimeout: config.ConnectTimeout,
			Subprotocols:     []string{config.Protocol.Subprotocol()},
		},
	}, nil
}

// Open dials the endpoint. A rejected handshake is returned as a
// *status.CodeError carrying the HTTP status.
func (w *WebSocket) Open(ctx context.Context) error {
	w.mu.Lock()
	busy := w.conn != nil
	w.mu.Unlock()
	if busy {
		return ErrAlreadyConnected
	}

	conn, resp, err := w.dialer.DialContext(ctx, w.config.Endpoint, w.config.Header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			defer resp.Body.Close()
			ce := statusError(resp)
			ce.Err = err
			return ce
		}
		return err
	}
	conn.SetReadLimit(int64(w.config.MaxMessageSize))

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		conn.Close()
		return ErrAlreadyConnected
	}
	w.conn = conn
	if w.config.KeepAlive.Enabled() {
		w.startKeepAlive(conn)
	}
	return nil
}

func (w *WebSocket) startKeepAlive(conn *websocket.Conn) {
	writeWait := w.config.KeepAlive.PongTimeout
	if writeWait <= 0 {
		writeWait = DefaultPongTimeout
	}
	ka := NewKeepAlive(w.config.KeepAlive,
		func(seq uint32) error {
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], seq)
			return conn.WriteControl(websocket.PingMessage, buf[:], time.Now().Add(writeWait))
		},
		func() {
			// Unblocks readers and writers with a connection error.
			conn.UnderlyingConn().Close()
		},
	)
	conn.SetPongHandler(func(data string) error {
		if len(data) == 4 {
			ka.PongReceived(binary.BigEndian.Uint32([]byte(data)))
		}
		return nil
	})
	w.ka = ka
	ka.Start(context.Background())
}

func (w *WebSocket) current() *websocket.Conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

// Send writes payload as one binary message.
func (w *WebSocket) Send(ctx context.Context, payload []byte) error {
	conn := w.current()
	if conn == nil {
		return ErrNotConnected
	}
	if len(payload) > w.config.MaxMessageSize {
		return tooLarge(len(payload), w.config.MaxMessageSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return classifyWebSocket(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("send: %w", ctxErr)
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return fmt.Errorf("send: %w", context.DeadlineExceeded)
		}
		return classifyWebSocket(err)
	}
	return nil
}

// Receive reads the next data message. Cancelling ctx interrupts the read;
// the connection cannot be read from again after that.
func (w *WebSocket) Receive(ctx context.Context) ([]byte, error) {
	conn := w.current()
	if conn == nil {
		return nil, ErrNotConnected
	}

	w.readMu.Lock()
	defer w.readMu.Unlock()

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, classifyWebSocket(err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("receive: %w", ctxErr)
		}
		return nil, classifyWebSocket(err)
	}
	return data, nil
}

// Close sends a close frame and closes the connection. It is idempotent
// and the transport can be opened again afterwards.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	conn, ka := w.conn, w.ka
	w.conn, w.ka = nil, nil
	w.mu.Unlock()

	if ka != nil {
		ka.Stop()
	}
	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	return conn.Close()
}

// closeCodes maps WebSocket close codes to the HTTP status with the same
// meaning. Codes not listed mean the connection was lost.
var closeCodes = map[int]int{
	websocket.CloseUnsupportedData:   http.StatusBadRequest,
	websocket.ClosePolicyViolation:   http.StatusForbidden,
	websocket.CloseMessageTooBig:     http.StatusRequestEntityTooLarge,
	websocket.CloseInternalServerErr: http.StatusInternalServerError,
	websocket.CloseServiceRestart:    http.StatusServiceUnavailable,
	websocket.CloseTryAgainLater:     http.StatusServiceUnavailable,
}

// classifyWebSocket turns close frames into *status.CodeError or a
// connection-lost error. Other errors are returned unchanged.
func classifyWebSocket(err error) error {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return err
	}
	if code, ok := closeCodes[ce.Code]; ok {
		return &status.CodeError{Code: status.HTTPStatus(code, ce.Text), Err: err}
	}
	return fmt.Errorf("%w: %v", io.ErrUnexpectedEOF, err)
}
