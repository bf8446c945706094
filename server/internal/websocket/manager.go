package websocket

import (
	"sync"

	"github.com/bhandras/codetutor/server/internal/session"
)

// ConnectionManager tracks live websocket connections.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[session.ClientIdentity][]*ClientConnection
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[session.ClientIdentity][]*ClientConnection),
	}
}

// AddConnection registers a new connection
func (m *ConnectionManager) AddConnection(conn *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connections[conn.ClientID] = append(m.connections[conn.ClientID], conn)
}

// RemoveConnection removes a connection
func (m *ConnectionManager) RemoveConnection(conn *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns := m.connections[conn.ClientID]
	for i, c := range conns {
		if c == conn {
			m.connections[conn.ClientID] = append(conns[:i:i], conns[i+1:]...)
			break
		}
	}
	if len(m.connections[conn.ClientID]) == 0 {
		delete(m.connections, conn.ClientID)
	}
}

// GetConnectionCount returns the total number of active connections
func (m *ConnectionManager) GetConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, conns := range m.connections {
		count += len(conns)
	}
	return count
}

// GetClientCount returns the number of clients with active connections
func (m *ConnectionManager) GetClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.connections)
}

// CloseAll closes every tracked connection.
func (m *ConnectionManager) CloseAll() {
	m.mu.RLock()
	var all []*ClientConnection
	for _, conns := range m.connections {
		all = append(all, conns...)
	}
	m.mu.RUnlock()

	for _, conn := range all {
		conn.Close()
	}
}
