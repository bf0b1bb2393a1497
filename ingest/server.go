// Package ingest receives tracker frames from the tracker host over a local
// WebSocket and sends tracker commands back.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"go.evewatch.dev/evewatch/internal/types"
	"go.evewatch.dev/evewatch/overview"
)

// Frame and command types exchanged with the tracker host.
const (
	FrameUiStatus       = "eve_ui_status"
	CommandStartTracker = "start_tracker"
	CommandStopTracker  = "stop_tracker"
)

const (
	defaultPath      = "/ws"
	defaultReadLimit = 16 << 20
	pongWait         = 60 * time.Second
	pingPeriod       = 25 * time.Second
	writeWait        = 5 * time.Second
)

// ErrNoHost is returned by Send when no tracker host is connected.
var ErrNoHost = errors.New("ingest: no tracker host connected")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Command is sent to the tracker host.
type Command struct {
	Type string `json:"type"`
	PID  int    `json:"pid"`
}

// Handler receives every successfully parsed status frame.
type Handler func(status types.UiStatus)

// Config configures a Server.
type Config struct {
	Addr    string  // listen address, e.g. "127.0.0.1:47615"
	Path    string  // Default: "/ws"
	Handler Handler // required
	Logger  *slog.Logger
}

// Server is the WebSocket endpoint the tracker host connects to.
type Server struct {
	addr      string
	path      string
	handler   Handler
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	readLimit int64

	ctx    context.Context
	cancel context.CancelFunc
	srv    *http.Server
	ln     net.Listener

	mu    sync.Mutex
	hosts map[*hostConn]struct{}
	wg    sync.WaitGroup
}

// hostConn serializes writes to one connection.
type hostConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (h *hostConn) write(messageType int, data []byte) error {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	_ = h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return h.conn.WriteMessage(messageType, data)
}

// NewServer creates a Server. Call Start to listen.
func NewServer(cfg Config) *Server {
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    cfg.Addr,
		path:    cfg.Path,
		handler: cfg.Handler,
		logger:  cfg.Logger.With("component", "ingest"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 1024,
			// Only local tracker hosts and the overlay's own webview connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		readLimit: defaultReadLimit,
		ctx:       ctx,
		cancel:    cancel,
		hosts:     make(map[*hostConn]struct{}),
	}
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.Handle(s.path, s)
	s.srv = &http.Server{
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve", "error", err)
			s.cancel()
		}
	}()
	s.logger.Info("listening for tracker hosts", "addr", ln.Addr().String(), "path", s.path)
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Close stops the server and disconnects all hosts.
func (s *Server) Close() error {
	s.cancel()

	s.mu.Lock()
	for h := range s.hosts {
		_ = h.conn.Close()
	}
	s.mu.Unlock()

	var err error
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.srv.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

// Hosts returns the number of connected tracker hosts.
func (s *Server) Hosts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hosts)
}

// Send broadcasts a command to every connected tracker host.
func (s *Server) Send(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	s.mu.Lock()
	hosts := make([]*hostConn, 0, len(s.hosts))
	for h := range s.hosts {
		hosts = append(hosts, h)
	}
	s.mu.Unlock()

	if len(hosts) == 0 {
		return ErrNoHost
	}
	var errs []error
	for _, h := range hosts {
		if err := h.write(websocket.TextMessage, data); err != nil {
			errs = append(errs, fmt.Errorf("send %s to %s: %w", cmd.Type, h.conn.RemoteAddr(), err))
		}
	}
	return errors.Join(errs...)
}

// ServeHTTP upgrades the request and reads frames until the host disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade", "error", err)
		return
	}
	h := &hostConn{conn: conn}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.hosts[h] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()
	s.logger.Info("tracker host connected", "remote", conn.RemoteAddr().String())

	done := make(chan struct{})
	defer func() {
		close(done)
		s.mu.Lock()
		delete(s.hosts, h)
		s.mu.Unlock()
		_ = conn.Close()
		s.logger.Info("tracker host disconnected", "remote", conn.RemoteAddr().String())
		s.wg.Done()
	}()

	go s.pingLoop(h, done)

	conn.SetReadLimit(s.readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("read frame", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if s.ctx.Err() != nil {
			return
		}

		status, ok, err := decodeFrame(msg)
		if err != nil {
			s.logger.Warn("drop malformed frame", "error", err, "bytes", len(msg))
			continue
		}
		if ok && s.handler != nil {
			s.handler(status)
		}
	}
}

func (s *Server) pingLoop(h *hostConn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			h.wmu.Lock()
			err := h.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			h.wmu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// envelope is a typed frame; bare status objects are accepted too.
type envelope struct {
	Type    string              `json:"type"`
	Payload jsoniter.RawMessage `json:"payload"`
}

// decodeFrame returns the status carried by msg. ok is false for frame types
// that carry no status.
func decodeFrame(msg []byte) (status types.UiStatus, ok bool, err error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return types.UiStatus{}, false, fmt.Errorf("unmarshal frame: %w", err)
	}

	switch env.Type {
	case "":
		status, err = overview.ParseStatus(msg)
	case FrameUiStatus:
		if len(env.Payload) == 0 {
			return types.UiStatus{}, false, fmt.Errorf("%s frame without payload", env.Type)
		}
		status, err = overview.ParseStatus(env.Payload)
	default:
		return types.UiStatus{}, false, nil
	}
	if err != nil {
		return types.UiStatus{}, false, err
	}
	return status, true, nil
}
