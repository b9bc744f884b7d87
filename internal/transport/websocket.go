// Package transport accepts WebSocket connections and feeds their frames to
// the relay dispatcher.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pumprelay/relay-server/internal/relay"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 64 << 10
)

// Options tunes per-connection behaviour.
type Options struct {
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// PingInterval is how often control pings are sent. A peer that misses
	// two intervals is dropped. Zero disables keepalive.
	PingInterval time.Duration
	// ReadLimit caps the size of an inbound frame.
	ReadLimit int64
}

// session is one accepted WebSocket connection.
type session struct {
	id      string
	conn    *websocket.Conn
	remote  string
	writeMu sync.Mutex
	timeout time.Duration
	closed  atomic.Bool
}

func newSession(conn *websocket.Conn, remote string, timeout time.Duration) *session {
	return &session{
		id:      uuid.NewString(),
		conn:    conn,
		remote:  remote,
		timeout: timeout,
	}
}

func (s *session) ID() string { return s.id }

func (s *session) Open() bool { return !s.closed.Load() }

// Send writes one text frame. A failed write closes the session.
func (s *session) Send(msg []byte) error {
	if s.closed.Load() {
		return net.ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		s.close()
		return err
	}
	return nil
}

func (s *session) ping() error {
	if s.closed.Load() {
		return net.ErrClosed
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.timeout))
}

func (s *session) close() {
	if s.closed.CompareAndSwap(false, true) {
		_ = s.conn.Close()
	}
}

// Server is an http.Handler that upgrades requests to WebSocket sessions.
type Server struct {
	dispatcher *relay.Dispatcher
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	opts       Options

	wg sync.WaitGroup

	sessionsMu   sync.Mutex
	shuttingDown bool
	sessions     map[*session]struct{}
}

// NewServer constructs a server that hands every frame to d.
func NewServer(d *relay.Dispatcher, logger *slog.Logger, opts Options) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	return &Server{
		dispatcher: d,
		logger:     logger,
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The device agent sends no Origin and dashboards may be served
			// from another host.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[*session]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the session until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.sessionsMu.Lock()
	if s.shuttingDown {
		s.sessionsMu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.sessionsMu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := newSession(conn, r.RemoteAddr, s.opts.WriteTimeout)
	if !s.addSession(sess) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(s.opts.WriteTimeout))
		sess.close()
		return
	}
	s.handleConn(sess)
}

// Close drops every open session and waits for their read loops to exit.
func (s *Server) Close() error {
	s.sessionsMu.Lock()
	if s.shuttingDown {
		s.sessionsMu.Unlock()
		return nil
	}
	s.shuttingDown = true
	for sess := range s.sessions {
		sess.close()
	}
	s.sessionsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return len(s.sessions)
}

// addSession tracks sess. It reports false once Close has started.
func (s *Server) addSession(sess *session) bool {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if s.shuttingDown {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) removeSession(sess *session) {
	s.sessionsMu.Lock()
	delete(s.sessions, sess)
	s.sessionsMu.Unlock()
}

func (s *Server) handleConn(sess *session) {
	ctx, cancel := context.WithCancel(context.Background())

	defer func() {
		cancel()
		sess.close()
		s.removeSession(sess)
		s.dispatcher.Disconnected(sess)
		s.logger.Info("websocket closed", "conn", sess.id, "remote", sess.remote)
	}()

	sess.conn.SetReadLimit(s.opts.ReadLimit)
	if s.opts.PingInterval > 0 {
		wait := 2 * s.opts.PingInterval
		_ = sess.conn.SetReadDeadline(time.Now().Add(wait))
		sess.conn.SetPongHandler(func(string) error {
			return sess.conn.SetReadDeadline(time.Now().Add(wait))
		})
		go s.keepalive(ctx, sess)
	}

	s.dispatcher.Connected(sess)
	s.logger.Info("websocket opened", "conn", sess.id, "remote", sess.remote)

	for {
		msgType, frame, err := sess.conn.ReadMessage()
		if err != nil {
			if !isNormalClose(err) {
				s.logger.Debug("websocket read error", "conn", sess.id, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		s.dispatcher.Dispatch(ctx, sess, frame)
		// Pongs are only processed inside ReadMessage; re-arm after the handler.
		if s.opts.PingInterval > 0 {
			_ = sess.conn.SetReadDeadline(time.Now().Add(2 * s.opts.PingInterval))
		}
	}
}

func (s *Server) keepalive(ctx context.Context, sess *session) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sess.ping(); err != nil {
				s.logger.Debug("websocket ping failed", "conn", sess.id, "error", err)
				sess.close()
				return
			}
		}
	}
}

func isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
