package cdpgateway

import (
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/neboloop/cdpgateway/internal/fleet"
)

// connCommandRateLimit and connCommandBurst bound how fast one client can
// push commands at a connection, grounded on the teacher's per-tunnel
// rate.Limiter in gateway/main.go (there keyed off a per-device requests-
// per-minute setting; here a flat budget since every client is equally
// trusted on loopback).
const (
	connCommandRateLimit = 600 // per minute
	connCommandBurst     = 100
)

type scopeKind int

const (
	scopeBrowser scopeKind = iota
	scopePage
)

// autoAttachSettings mirrors Target.setAutoAttach's stored intent.
type autoAttachSettings struct {
	enabled         bool
	waitForDebugger bool
	flatten         bool
}

// connection is a ClientConnection (spec §3): one accepted WebSocket, owned
// by exactly one read loop and guarded by a single writer lock so frames
// are never interleaved (spec §4.4.6).
type connection struct {
	id   string
	ws   *websocket.Conn
	gw   *Gateway
	host string // r.Host at upgrade time, used to build ws URLs in responses

	scope     scopeKind
	browserID fleet.BrowserID
	pageID    fleet.PageID

	writeMu sync.Mutex
	limiter *rate.Limiter

	mu               sync.Mutex
	discoverEnabled  bool
	autoAttach       autoAttachSettings
	attachedSessions map[string]fleet.PageID // sessionId -> pageId, browser-scope only
}

func (c *connection) sendRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *connection) sendJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// trackSession records a browser-scope session for later cleanup.
func (c *connection) trackSession(sessionID string, pageID fleet.PageID) {
	c.mu.Lock()
	if c.attachedSessions == nil {
		c.attachedSessions = make(map[string]fleet.PageID)
	}
	c.attachedSessions[sessionID] = pageID
	c.mu.Unlock()
}

func (c *connection) untrackSession(sessionID string) {
	c.mu.Lock()
	delete(c.attachedSessions, sessionID)
	c.mu.Unlock()
}

// isAttachedTo reports whether this connection already holds a session on
// pageID (used by setAutoAttach to skip pages it's already attached to).
func (c *connection) isAttachedTo(pageID fleet.PageID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.attachedSessions {
		if p == pageID {
			return true
		}
	}
	return false
}

// sessionsSnapshot copies the session table for close-time cleanup.
func (c *connection) sessionsSnapshot() map[string]fleet.PageID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]fleet.PageID, len(c.attachedSessions))
	for k, v := range c.attachedSessions {
		out[k] = v
	}
	return out
}
