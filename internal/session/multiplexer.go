package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neboloop/cdpgateway/internal/fleet"
	"github.com/neboloop/cdpgateway/internal/logging"
	"github.com/neboloop/cdpgateway/internal/surface"
)

// binding is SurfaceBinding: the single debugger attachment for one page,
// ref-counted by the sessions that reference it.
type binding struct {
	mu       sync.Mutex
	pageID   fleet.PageID
	handle   surface.BindingHandle
	sessions map[string]*Session
}

// Multiplexer is SessionMultiplexer (C3).
type Multiplexer struct {
	provider surface.Provider

	mu       sync.Mutex
	bindings map[fleet.PageID]*binding
	sessions map[string]*Session

	// seq is a single process-wide monotonic counter. Auto-attach used to
	// derive session ids from the wall clock in the source, which collides
	// when two attachments land in the same tick (spec §9 open question);
	// a shared atomic counter cannot collide.
	seq atomic.Int64

	readyTimeout time.Duration
}

// NewMultiplexer wires a Multiplexer against a Provider.
func NewMultiplexer(provider surface.Provider) *Multiplexer {
	return &Multiplexer{
		provider:     provider,
		bindings:     make(map[fleet.PageID]*binding),
		sessions:     make(map[string]*Session),
		readyTimeout: DefaultReadyTimeout,
	}
}

// AttachClient lazily ensures a SurfaceBinding exists for the page,
// acquiring the debugger attachment (and waiting for readiness) on first
// use, then registers a fresh session on it (spec §4.3, "attachClient").
func (mx *Multiplexer) AttachClient(ctx context.Context, pageHandle surface.PageHandle, pageID fleet.PageID, connectionID string, flatten bool, sendFn func([]byte) error) (string, error) {
	mx.mu.Lock()
	b, ok := mx.bindings[pageID]
	if !ok {
		b = &binding{pageID: pageID, sessions: make(map[string]*Session)}
		mx.bindings[pageID] = b
	}
	mx.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handle == nil {
		if err := awaitPageReady(ctx, mx.provider, pageHandle, mx.readyTimeout); err != nil {
			return "", err
		}
		h, err := mx.provider.AttachDebugger(ctx, pageHandle)
		if err != nil {
			mx.mu.Lock()
			delete(mx.bindings, pageID)
			mx.mu.Unlock()
			return "", fmt.Errorf("attach debugger: %w", err)
		}
		mx.mu.Lock()
		b.handle = h
		mx.mu.Unlock()
		mx.provider.SubscribeDebuggerEvents(context.Background(), h, func(evt surface.DebugEvent) {
			mx.onDebuggerEvent(pageID, evt.Method, evt.Params)
		})
	}

	sessID := ID{PageID: pageID, Seq: mx.seq.Add(1)}.String()
	sess := &Session{ID: sessID, PageID: pageID, ConnectionID: connectionID, Flatten: flatten, SendFn: sendFn}
	b.sessions[sessID] = sess

	mx.mu.Lock()
	mx.sessions[sessID] = sess
	mx.mu.Unlock()

	return sessID, nil
}

// DetachSession removes the session; if it was the last on its binding, the
// debugger attachment is released.
func (mx *Multiplexer) DetachSession(sessionID string) {
	mx.mu.Lock()
	sess, ok := mx.sessions[sessionID]
	if !ok {
		mx.mu.Unlock()
		return
	}
	delete(mx.sessions, sessionID)
	b := mx.bindings[sess.PageID]
	mx.mu.Unlock()
	if b == nil {
		return
	}

	b.mu.Lock()
	delete(b.sessions, sessionID)
	empty := len(b.sessions) == 0
	handle := b.handle
	b.mu.Unlock()

	if !empty {
		return
	}

	mx.mu.Lock()
	delete(mx.bindings, sess.PageID)
	mx.mu.Unlock()

	if handle != nil {
		if err := mx.provider.DetachDebugger(handle); err != nil {
			logging.Warnf("session: detach debugger for page %s: %v", sess.PageID, err)
		}
	}
}

// HasBinding reports whether pageID currently has a live debugger
// attachment, i.e. whether any client is attached to it. Used by the
// gateway's discovery payloads to report a real "attached" bit rather than
// the source's inverted heuristic (spec §9 open question).
func (mx *Multiplexer) HasBinding(pageID fleet.PageID) bool {
	mx.mu.Lock()
	defer mx.mu.Unlock()
	b, ok := mx.bindings[pageID]
	return ok && b.handle != nil
}

// RouteRequest parses a JSON-RPC-shaped request, forwards it to the
// session's debugger binding, and writes the framed response back to the
// originating client only (spec §4.3, "routeRequest").
func (mx *Multiplexer) RouteRequest(ctx context.Context, sessionID string, raw []byte) error {
	mx.mu.Lock()
	sess, ok := mx.sessions[sessionID]
	var b *binding
	if ok {
		b = mx.bindings[sess.PageID]
	}
	mx.mu.Unlock()
	if !ok {
		return fmt.Errorf("target not found: %s", sessionID)
	}
	if b == nil {
		return fmt.Errorf("target not found: %s", sess.PageID)
	}

	var req inboundRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("malformed request: %w", err)
	}

	result, cmdErr := mx.provider.SendDebuggerCommand(ctx, b.handle, req.Method, req.Params)

	var resp []byte
	if cmdErr != nil {
		resp = errorResponse(req.ID, CodeSurfaceUnavailable, cmdErr.Error())
	} else {
		resp = successResponse(req.ID, result)
	}

	framed, err := frame(sess, resp)
	if err != nil {
		return err
	}
	return sess.SendFn(framed)
}

// debugEventPayload is the wire shape of a raw CDP event.
type debugEventPayload struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// onDebuggerEvent broadcasts a debugger-originated event to every session
// on pageID, framed per-session (spec §4.3, invariant 4: identical content
// and order to every attached session).
func (mx *Multiplexer) onDebuggerEvent(pageID fleet.PageID, method string, params []byte) {
	mx.mu.Lock()
	b := mx.bindings[pageID]
	mx.mu.Unlock()
	if b == nil {
		return
	}

	b.mu.Lock()
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	msg, err := json.Marshal(debugEventPayload{Method: method, Params: params})
	if err != nil {
		logging.Errorf("session: marshal debugger event %s for page %s: %v", method, pageID, err)
		return
	}

	for _, sess := range sessions {
		framed, err := frame(sess, msg)
		if err != nil {
			logging.Errorf("session: frame event for session %s: %v", sess.ID, err)
			continue
		}
		if err := sess.SendFn(framed); err != nil {
			logging.Warnf("session: deliver event to session %s: %v", sess.ID, err)
		}
	}
}
