package util

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ReconnectingSocket - A WebSocket that is dialed on first use, and redialed on
// the next send after the connection dropped
type ReconnectingSocket struct {
	dialer             websocket.Dialer
	url                string
	headers            map[string][]string
	logger             *Logger
	clientErrorTimeout time.Duration

	conn atomic.Pointer[websocket.Conn]

	// Guards writes to conn and skipConnectUntil
	mutex            sync.Mutex
	skipConnectUntil time.Time
}

var ErrorConnectRateLimited = errors.New("Skipping connection attempt because of previous 4XX error")

// NewReconnectingSocket - Initializes a new reconnecting WebSocket, without connecting yet
//
// After the server rejected a connection attempt with a 4xx status, further attempts
// are skipped until clientErrorTimeout has passed.
func NewReconnectingSocket(logger *Logger, dialer websocket.Dialer, url string, headers map[string][]string, clientErrorTimeout time.Duration) *ReconnectingSocket {
	return &ReconnectingSocket{
		dialer:             dialer,
		url:                url,
		headers:            headers,
		logger:             logger,
		clientErrorTimeout: clientErrorTimeout,
	}
}

func (w *ReconnectingSocket) Connected() bool {
	return w.conn.Load() != nil
}

// Send writes one binary message, connecting first if needed
func (w *ReconnectingSocket) Send(ctx context.Context, data []byte) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	conn := w.conn.Load()
	if conn == nil {
		var err error
		conn, err = w.connect(ctx)
		if err != nil {
			return err
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Time{})
	}
	err := conn.WriteMessage(websocket.BinaryMessage, data)
	if err != nil {
		w.closeConnection(conn)
		return err
	}
	return nil
}

// Close shuts down the connection, a later Send connects again
func (w *ReconnectingSocket) Close() {
	if conn := w.conn.Load(); conn != nil {
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		w.closeConnection(conn)
	}
}

// Caller must hold w.mutex
func (w *ReconnectingSocket) connect(ctx context.Context) (*websocket.Conn, error) {
	if time.Now().Before(w.skipConnectUntil) {
		return nil, ErrorConnectRateLimited
	}

	conn, response, err := w.dialer.DialContext(ctx, w.url, w.headers)
	if err != nil {
		if response != nil && response.StatusCode >= 400 && response.StatusCode < 500 {
			w.skipConnectUntil = time.Now().Add(w.clientErrorTimeout) // Delay reconnect when server responds with 4xx errors
		}
		w.logger.PrintWarning("Error starting websocket: %s", err)
		return nil, err
	}
	w.conn.Store(conn)

	// Reader goroutine, needed to process control frames and to notice when the server goes away
	go func() {
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				serverClosed := websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure) // The server shut down the websocket
				shutdown := errors.Is(err, net.ErrClosed)                                                                 // We closed the connection ourselves
				if !serverClosed && !shutdown {
					w.logger.PrintWarning("Error reading from websocket: %s", err)
				}
				w.closeConnection(conn)
				return
			}
		}
	}()

	return conn, nil
}

func (w *ReconnectingSocket) closeConnection(conn *websocket.Conn) {
	if w.conn.CompareAndSwap(conn, nil) {
		err := conn.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			w.logger.PrintWarning("Error closing websocket: %s", err)
		}
	}
}
