// Package ws is the WebSocket transport. It upgrades HTTP requests with
// gobwas/ws, waits for readable sockets with epoll, reads frames on a bounded
// worker pool and hands them to a Handler. Outbound delivery implements
// engine.Notifier without ever blocking the caller.
package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/whisper/roulette/internal/config"
	apperrors "github.com/whisper/roulette/internal/errors"
	"github.com/whisper/roulette/internal/metrics"
	"github.com/whisper/roulette/internal/protocol"
)

// Handler receives connection events. Message is called from a worker
// goroutine, the others from the goroutine that observed the event.
type Handler interface {
	// Admit runs before the upgrade. An error refuses the request.
	Admit(ctx context.Context, address string) error
	// Open runs after the upgrade and before any frame is read. An error is
	// sent to the client and the connection is closed.
	Open(c *Connection) error
	Message(c *Connection, data []byte)
	Closed(id string)
}

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	WorkerPoolSize int           // max concurrent read workers
	MaxConnections int           // hard cap on live connections
	ReadTimeout    time.Duration // per-frame read deadline
	WriteTimeout   time.Duration // per-frame write deadline
	SendQueueSize  int           // outbound frames buffered per connection
	MaxFrameBytes  int64
	TrustProxy     bool // take the client address from X-Forwarded-For
	Heartbeat      HeartbeatConfig
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendQueueSize:  64,
		MaxFrameBytes:  64 << 10,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// ConfigFrom maps process configuration onto ServerConfig.
func ConfigFrom(cfg *config.Config) ServerConfig {
	sc := DefaultServerConfig()
	sc.WorkerPoolSize = cfg.WorkerPoolSize
	sc.MaxConnections = cfg.MaxConnections
	sc.ReadTimeout = cfg.ReadTimeout
	sc.WriteTimeout = cfg.WriteTimeout
	sc.SendQueueSize = cfg.SendQueueSize
	sc.TrustProxy = cfg.TrustProxy
	return sc
}

// Server owns every live connection.
type Server struct {
	config     ServerConfig
	handler    Handler
	epoll      *Epoll
	conns      *ConnectionManager
	workerPool chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	startedAt  time.Time
	logger     zerolog.Logger
}

func NewServer(cfg ServerConfig, handler Handler) *Server {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 1
	}
	return &Server{
		config:     cfg,
		handler:    handler,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, cfg.WorkerPoolSize),
		done:       make(chan struct{}),
		logger:     log.With().Str("component", "ws").Logger(),
	}
}

// SetHandler installs h. The engine needs the server as its notifier before
// the dispatcher exists, so the handler arrives after construction. Call it
// before Start.
func (s *Server) SetHandler(h Handler) {
	s.handler = h
}

// Start creates the epoll instance and starts the read loop and the
// heartbeat. It does not listen; mount HandleUpgrade on a router.
func (s *Server) Start() error {
	ep, err := NewEpoll()
	if err != nil {
		return err
	}
	s.epoll = ep
	s.startedAt = time.Now()

	go s.startEventLoop()
	StartHeartbeat(s, s.config.Heartbeat)

	s.logger.Info().Int("workers", s.config.WorkerPoolSize).
		Int("max_conns", s.config.MaxConnections).Msg("ws server started")
	return nil
}

// HandleUpgrade upgrades the request and registers the connection.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	address := ClientAddress(r, s.config.TrustProxy)
	if err := s.handler.Admit(r.Context(), address); err != nil {
		if retry, ok := apperrors.RetryAfter(err); ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Round(time.Second)/time.Second)))
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug().Err(err).Msg("upgrade failed")
		return
	}

	c := newConnection(uuid.New().String(), address, conn, s.config.SendQueueSize)
	s.conns.Add(c)
	metrics.Connections.Inc()
	go c.writeLoop(s.config.WriteTimeout, s.RemoveConnection)

	if err := s.handler.Open(c); err != nil {
		s.logger.Info().Str("conn", c.ID).Err(err).Msg("connection refused")
		if data, encErr := protocol.Encode(protocol.ErrorFrom(err)); encErr == nil {
			c.Enqueue(data)
		}
		c.CloseAfterFlush()
		return
	}

	if err := s.epoll.Add(conn); err != nil {
		s.logger.Error().Err(err).Str("conn", c.ID).Msg("epoll add failed")
		c.CloseAfterFlush()
		return
	}

	s.logger.Debug().Str("conn", c.ID).Int("total", s.conns.Count()).Msg("new connection")
}

// Health is the transport's share of the health report.
type Health struct {
	Connections int    `json:"connections"`
	Uptime      string `json:"uptime"`
}

func (s *Server) Health() Health {
	return Health{
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
}

// startEventLoop hands every readable socket to a worker, bounded by the
// worker pool semaphore.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if isEINTR(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error().Err(err).Msg("epoll wait failed")
			continue
		}

		for _, conn := range conns {
			conn := conn
			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
				s.epoll.Rearm(conn)
			}()
		}
	}
}

// handleConn reads one frame. Control frames are answered in place; a read
// error or close frame removes the connection.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}
	// Level-triggered epoll may report the same socket twice.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// Stale readiness. The heartbeat handles dead peers.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}
	_ = netConn.SetReadDeadline(time.Time{})
	c.Touch()

	if header.OpCode.IsControl() {
		s.handleControl(c, header, reader)
		return
	}

	if s.config.MaxFrameBytes > 0 && header.Length > s.config.MaxFrameBytes {
		s.logger.Warn().Str("conn", c.ID).Int64("length", header.Length).Msg("frame too large")
		s.RemoveConnection(c)
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}
	if len(data) == 0 {
		return
	}

	s.handler.Message(c, data)
}

// handleControl consumes a control frame's payload so the next frame starts
// at a header. Pings are answered with the same payload.
func (s *Server) handleControl(c *Connection, header ws.Header, payload io.Reader) {
	if header.Length > ws.MaxControlFramePayloadSize {
		s.RemoveConnection(c)
		return
	}
	body := make([]byte, header.Length)
	if _, err := io.ReadFull(payload, body); err != nil {
		s.RemoveConnection(c)
		return
	}

	switch header.OpCode {
	case ws.OpClose:
		s.RemoveConnection(c)
	case ws.OpPing:
		if err := c.WritePong(body); err != nil {
			s.logger.Debug().Str("conn", c.ID).Err(err).Msg("pong failed")
		}
	}
}

// RemoveConnection unregisters c and tells the handler. It is safe to call
// from several goroutines; only the first call has an effect.
func (s *Server) RemoveConnection(c *Connection) {
	if _, ok := s.conns.Remove(c.ID); !ok {
		return
	}
	if s.epoll != nil && c.Conn != nil {
		_ = s.epoll.Remove(c.Conn)
	}
	if !c.CloseAfterFlush() {
		// The writer is already finishing; make sure the socket goes too.
		_ = c.Close()
	}
	metrics.Connections.Dec()
	s.handler.Closed(c.ID)

	s.logger.Debug().Str("conn", c.ID).Int("total", s.conns.Count()).Msg("connection closed")
}

// Send implements engine.Notifier. A full send queue closes the connection.
func (s *Server) Send(id string, msg protocol.ServerMessage) {
	c := s.conns.Get(id)
	if c == nil {
		return
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("type", msg.MessageType()).Msg("encode failed")
		return
	}
	if !c.Enqueue(data) {
		s.logger.Warn().Str("conn", id).Str("type", msg.MessageType()).Msg("send queue full, dropping connection")
		go s.RemoveConnection(c)
	}
}

// Broadcast implements engine.Notifier.
func (s *Server) Broadcast(msg protocol.ServerMessage) {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("type", msg.MessageType()).Msg("encode failed")
		return
	}
	for _, c := range s.conns.All() {
		if !c.Enqueue(data) {
			go s.RemoveConnection(c)
		}
	}
}

// Close implements engine.Notifier. Frames already queued are flushed first.
func (s *Server) Close(id string) {
	if c := s.conns.Get(id); c != nil {
		c.CloseAfterFlush()
	}
}

func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the read loop and closes every connection.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("shutting down ws server")
		close(s.done)
		for _, c := range s.conns.All() {
			s.RemoveConnection(c)
		}
		if s.epoll != nil {
			_ = s.epoll.Close()
		}
		s.logger.Info().Msg("ws server stopped")
	})
}

// ClientAddress returns the remote host of r. Behind a trusted proxy the
// first X-Forwarded-For entry wins.
func ClientAddress(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if addr := strings.TrimSpace(first); addr != "" {
				return addr
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
