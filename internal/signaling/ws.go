package signaling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler runs one control session over an accepted stream. The
// stream is closed when the handler returns.
type StreamHandler func(ctx context.Context, stream io.ReadWriteCloser)

// Server accepts control streams over WebSocket at /ws. Unlike a one-shot
// pairing server it hands every authenticated connection to the handler in
// its own goroutine.
type Server struct {
	pin     string
	handler StreamHandler
	mux     *http.ServeMux

	listener net.Listener
	http     *http.Server
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	closed bool // no handler may join wg once set
	wg     sync.WaitGroup
}

// NewServer creates a signaling server. An empty pin disables the check.
func NewServer(pin string, handler StreamHandler) *Server {
	s := &Server{
		pin:     pin,
		handler: handler,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("/ws", s.handleWS)
	return s
}

// Handle registers an additional HTTP handler next to /ws (e.g. /metrics).
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start begins listening on addr and returns the bound address.
// Sessions inherit ctx.
func (s *Server) Start(ctx context.Context, addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WS server: %w", err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.http = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		_ = s.http.Serve(listener)
	}()

	return listener.Addr(), nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.pin != "" && r.URL.Query().Get("pin") != s.pin {
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "Server closed", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	stream := NewWebSocketStream(conn)
	defer stream.Close()

	s.handler(s.ctx, stream)
}

// Close stops accepting connections, cancels running sessions and waits for
// their handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	s.cancel()
	err := s.http.Close()
	s.wg.Wait()
	return err
}

// Dial connects to a signaling server and returns the control stream.
// The URL may carry the PIN as a query parameter, e.g.:
//
//	wss://example.devtunnels.ms/ws?pin=1234
func Dial(ctx context.Context, url string) (io.ReadWriteCloser, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return NewWebSocketStream(conn), nil
}

// ---------------------------------------------------------------------------
// Stream adapter
// ---------------------------------------------------------------------------

// wsStream presents a WebSocket connection as a byte stream. Every Write
// becomes one text message; on read, each message is terminated by a
// newline if the sender did not include one, so peers that send one bare
// JSON object per message are understood too.
type wsStream struct {
	conn *websocket.Conn

	rmu     sync.Mutex
	reader  io.Reader
	last    byte
	pending bool // a synthetic '\n' is owed to the reader

	wmu    sync.Mutex
	closed bool
}

// NewWebSocketStream wraps conn. The returned stream owns conn.
func NewWebSocketStream(conn *websocket.Conn) io.ReadWriteCloser {
	conn.SetReadLimit(MaxLineSize)
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	s.rmu.Lock()
	defer s.rmu.Unlock()

	for {
		if s.pending {
			s.pending = false
			s.last = '\n'
			p[0] = '\n'
			return 1, nil
		}

		if s.reader == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			s.reader = r
		}

		n, err := s.reader.Read(p)
		if n > 0 {
			s.last = p[n-1]
		}
		if errors.Is(err, io.EOF) {
			s.reader = nil
			s.pending = s.last != '\n'
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.closed {
		return 0, net.ErrClosed
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
