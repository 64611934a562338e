package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one WebSocket client. Outbound frames go through a bounded
// queue drained by a single writer goroutine, so Enqueue never blocks.
type Connection struct {
	ID        string
	Address   string   // source address used for blacklisting
	Conn      net.Conn // nil in tests that never write
	CreatedAt time.Time

	lastSeen   atomic.Int64 // unix nanos of the last frame read
	writeMu    sync.Mutex   // serializes frames from the writer and the heartbeat
	processing int32        // 1 while a worker is reading this connection

	mu      sync.Mutex
	send    chan []byte
	closing bool
}

func newConnection(id, address string, conn net.Conn, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = 64
	}
	now := time.Now()
	c := &Connection{
		ID:        id,
		Address:   address,
		Conn:      conn,
		CreatedAt: now,
		send:      make(chan []byte, queueSize),
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// Enqueue queues data for the writer. It reports false when the queue is
// full or the connection is already closing.
func (c *Connection) Enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// CloseAfterFlush stops accepting frames. The writer sends what is already
// queued and then closes the socket. It reports whether this call started
// the close.
func (c *Connection) CloseAfterFlush() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.closing = true
	close(c.send)
	return true
}

// Pending is the number of queued outbound frames.
func (c *Connection) Pending() int {
	return len(c.send)
}

func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// writeLoop drains the send queue until it is closed or a write fails, then
// closes the socket and calls done.
func (c *Connection) writeLoop(timeout time.Duration, done func(*Connection)) {
	defer done(c)
	defer c.Close()

	for data := range c.send {
		if timeout > 0 {
			_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
		}
		if err := c.WriteMessage(data); err != nil {
			c.CloseAfterFlush()
			return
		}
	}
}

// WriteMessage sends a text frame immediately, bypassing the queue.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// WritePong answers a client ping with its payload.
func (c *Connection) WritePong(payload []byte) error {
	if c.Conn == nil {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPongFrame(payload))
}

func (c *Connection) Close() error {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}

// ConnectionManager indexes live connections by id and by their socket.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection
	byConn map[net.Conn]*Connection
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byConn: make(map[net.Conn]*Connection),
	}
}

func (cm *ConnectionManager) Add(c *Connection) {
	cm.mu.Lock()
	cm.byID[c.ID] = c
	if c.Conn != nil {
		cm.byConn[c.Conn] = c
	}
	cm.mu.Unlock()
}

// Remove drops id from both indexes. It returns the connection and whether
// this call removed it, so concurrent removals clean up exactly once.
func (cm *ConnectionManager) Remove(id string) (*Connection, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	c, ok := cm.byID[id]
	if !ok {
		return nil, false
	}
	delete(cm.byID, id)
	if c.Conn != nil {
		delete(cm.byConn, c.Conn)
	}
	return c, true
}

func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byID[id]
}

func (cm *ConnectionManager) GetByConn(conn net.Conn) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byConn[conn]
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byID)
}

// All returns a snapshot safe to iterate without the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, c := range cm.byID {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()
	return conns
}
