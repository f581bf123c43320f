// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transport

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"plotter-go/pkg/errors"
	"plotter-go/pkg/log"
)

const (
	wsWriteWait    = 10 * time.Second
	wsMaxMessage   = 4 * 1024
	wsDefaultRoute = "/ws"
)

// WebSocket is a Transport over one websocket connection. Each received
// text or binary message is a chunk of command text; a chunk that does not
// end in a newline is terminated with one. Each reply is one text message.
type WebSocket struct {
	conn    *websocket.Conn
	msg     []byte
	r       int
	wmu     sync.Mutex
	onClose func()
	closed  atomic.Bool
}

func newWebSocket(conn *websocket.Conn, onClose func()) *WebSocket {
	conn.SetReadLimit(wsMaxMessage)
	return &WebSocket{conn: conn, onClose: onClose}
}

// DialWebSocket connects to a websocket URL.
func DialWebSocket(ctx context.Context, url string) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.TransportError(errors.ErrTransportOpen, url, err)
	}
	return newWebSocket(conn, nil), nil
}

func (w *WebSocket) ReadByte() (byte, error) {
	for w.r >= len(w.msg) {
		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			if w.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			if websocket.IsUnexpectedCloseError(err) {
				return 0, io.EOF
			}
			return 0, errors.TransportError(errors.ErrTransportRead, w.conn.RemoteAddr().String(), err)
		}
		if n := len(msg); n > 0 && msg[n-1] != '\n' {
			msg = append(msg, '\n')
		}
		w.msg, w.r = msg, 0
	}
	c := w.msg[w.r]
	w.r++
	return c, nil
}

func (w *WebSocket) WriteLine(line string) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := w.conn.WriteMessage(websocket.TextMessage, []byte(line+"\n")); err != nil {
		return errors.TransportError(errors.ErrTransportWrite, w.conn.RemoteAddr().String(), err)
	}
	return nil
}

func (w *WebSocket) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.wmu.Lock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	w.wmu.Unlock()
	err := w.conn.Close()
	if w.onClose != nil {
		w.onClose()
	}
	return err
}

// WebSocketListener accepts websocket clients one at a time and presents
// them as a single Transport. While a client is attached further clients
// are refused with 503. When a client disconnects, ReadByte waits for the
// next one; replies go to the attached client.
type WebSocketListener struct {
	upgrader websocket.Upgrader
	conns    chan *WebSocket
	active   atomic.Bool
	cur      atomic.Pointer[WebSocket]
	done     chan struct{}
	doneOnce sync.Once
	log      *log.Logger
}

// NewWebSocketListener creates a listener. Use it as an http.Handler or
// call ListenAndServe.
func NewWebSocketListener() *WebSocketListener {
	return &WebSocketListener{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(chan *WebSocket, 1),
		done:  make(chan struct{}),
		log:   log.GetLogger("websocket"),
	}
}

// ServeHTTP upgrades the request if no other client is attached.
func (l *WebSocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !l.active.CompareAndSwap(false, true) {
		http.Error(w, "plotter busy", http.StatusServiceUnavailable)
		return
	}
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.active.Store(false)
		l.log.WithError(err).Warn("upgrade failed")
		return
	}
	l.log.WithField("remote", r.RemoteAddr).Info("client attached")
	ws := newWebSocket(conn, func() { l.active.Store(false) })
	select {
	case l.conns <- ws:
	case <-l.done:
		_ = ws.Close()
	}
}

// ListenAndServe serves the listener on addr under /ws until ctx is done.
func (l *WebSocketListener) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle(wsDefaultRoute, l)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	l.log.Info("listening on %s%s", addr, wsDefaultRoute)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.Close()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.TransportError(errors.ErrTransportOpen, addr, err)
	}
}

func (l *WebSocketListener) ReadByte() (byte, error) {
	for {
		ws := l.cur.Load()
		if ws == nil {
			select {
			case ws = <-l.conns:
				l.cur.Store(ws)
			case <-l.done:
				return 0, io.EOF
			}
		}
		c, err := ws.ReadByte()
		if err == nil {
			return c, nil
		}
		l.log.WithField("remote", ws.conn.RemoteAddr().String()).Info("client detached")
		l.cur.CompareAndSwap(ws, nil)
		_ = ws.Close()
		select {
		case <-l.done:
			return 0, io.EOF
		default:
		}
	}
}

// WriteLine sends line to the attached client. With no client attached
// the line is dropped.
func (l *WebSocketListener) WriteLine(line string) error {
	ws := l.cur.Load()
	if ws == nil {
		return nil
	}
	return ws.WriteLine(line)
}

// Close detaches the current client and makes ReadByte return io.EOF.
func (l *WebSocketListener) Close() error {
	l.doneOnce.Do(func() { close(l.done) })
	if ws := l.cur.Load(); ws != nil {
		return ws.Close()
	}
	return nil
}
