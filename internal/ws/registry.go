// Package ws serves live chat over WebSocket.
package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const sweepInterval = time.Minute

type entry struct {
	conn       *websocket.Conn
	lastActive time.Time
}

// Registry tracks open chat connections per user and tab.
type Registry struct {
	mu       sync.RWMutex
	active   map[string]map[string]*entry
	now      func() time.Time
	handlers sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[string]*entry),
		now:    time.Now,
	}
}

// Get returns the open connection for a user and tab.
func (m *Registry) Get(userID, tabID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.active[userID][tabID]; ok {
		return e.conn
	}
	return nil
}

// Count returns the number of open connections for a user.
func (m *Registry) Count(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[userID])
}

// Register adds a connection, closing any previous one for the same tab.
func (m *Registry) Register(userID, tabID string, conn *websocket.Conn) {
	m.mu.Lock()
	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*entry)
	}

	var replaced *websocket.Conn
	if existing, exists := m.active[userID][tabID]; exists && existing.conn != conn {
		replaced = existing.conn
	}

	m.active[userID][tabID] = &entry{conn: conn, lastActive: m.now()}
	m.mu.Unlock()
	slog.Debug("Chat connection registered", "user_id", userID, "tab_id", tabID)

	if replaced != nil {
		_ = replaced.Close(websocket.StatusNormalClosure, "chat replaced")
	}
}

// Touch marks conn as active now.
func (m *Registry) Touch(userID, tabID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.active[userID][tabID]; ok && e.conn == conn {
		e.lastActive = m.now()
	}
}

// Unregister removes conn if it is still the current one for the tab.
func (m *Registry) Unregister(userID, tabID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tabs, ok := m.active[userID]; ok {
		if current, exists := tabs[tabID]; exists && current.conn == conn {
			m.remove(userID, tabID)
			slog.Debug("Chat connection unregistered", "user_id", userID, "tab_id", tabID)
		}
	}
}

// remove deletes one entry. Callers hold m.mu.
func (m *Registry) remove(userID, tabID string) {
	tabs := m.active[userID]
	delete(tabs, tabID)
	if len(tabs) == 0 {
		delete(m.active, userID)
	}
}

// CloseUser closes every open connection of a user. Called on logout.
func (m *Registry) CloseUser(userID string) {
	m.mu.Lock()
	tabs := m.active[userID]
	delete(m.active, userID)
	m.mu.Unlock()

	closeAll(userID, tabs, websocket.StatusNormalClosure, "logged out")
}

// CloseAll closes every open connection. Called on shutdown, since
// http.Server.Shutdown does not wait for hijacked connections.
func (m *Registry) CloseAll() {
	m.mu.Lock()
	active := m.active
	m.active = make(map[string]map[string]*entry)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for userID, tabs := range active {
		wg.Add(1)
		go func(userID string, tabs map[string]*entry) {
			defer wg.Done()
			closeAll(userID, tabs, websocket.StatusGoingAway, "server shutting down")
		}(userID, tabs)
	}
	wg.Wait()
}

// Shutdown closes every connection and waits until all chat handlers have
// returned, or ctx is done.
func (m *Registry) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.CloseAll()
		m.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track counts a running chat handler; the returned func marks it done.
func (m *Registry) track() func() {
	m.handlers.Add(1)
	return m.handlers.Done
}

// closeAll closes tabs concurrently without holding the registry lock;
// each Close waits for the peer's close frame.
func closeAll(userID string, tabs map[string]*entry, code websocket.StatusCode, reason string) {
	var wg sync.WaitGroup
	for tab, e := range tabs {
		wg.Add(1)
		go func(tab string, conn *websocket.Conn) {
			defer wg.Done()
			_ = conn.Close(code, reason)
			slog.Info("Chat connection closed", "user_id", userID, "tab_id", tab, "reason", reason)
		}(tab, e.conn)
	}
	wg.Wait()
}

// Sweep closes connections that have been silent for longer than idle and
// returns how many were closed.
func (m *Registry) Sweep(idle time.Duration) int {
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	var stale []*websocket.Conn
	for userID, tabs := range m.active {
		for tabID, e := range tabs {
			if e.lastActive.Before(cutoff) {
				stale = append(stale, e.conn)
				m.remove(userID, tabID)
				slog.Info("Closing idle chat connection", "user_id", userID, "tab_id", tabID)
			}
		}
	}
	m.mu.Unlock()

	// Close blocks on the close handshake, so it runs outside the lock.
	for _, conn := range stale {
		_ = conn.Close(websocket.StatusGoingAway, "idle timeout")
	}
	return len(stale)
}

// StartIdleSweeper periodically closes connections idle for longer than
// idle until ctx is done.
func StartIdleSweeper(ctx context.Context, registry *Registry, idle time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Idle chat sweeper started", "interval", sweepInterval, "idle", idle)

		for {
			select {
			case <-ticker.C:
				if n := registry.Sweep(idle); n > 0 {
					slog.Info("Idle chat sweep completed", "closed", n)
				}
			case <-ctx.Done():
				slog.Info("Idle chat sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
