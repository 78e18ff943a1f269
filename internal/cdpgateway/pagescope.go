package cdpgateway

import (
	"context"
	"sync"

	"github.com/neboloop/cdpgateway/internal/logging"
)

// runPageScopeReadLoop serves one /devtools/page/{id} connection. Attaching
// the debugger binding can block on page readiness (spec §4.3.1), so the
// attach runs in the background while inbound reads are buffered; once
// attached, the buffer drains in arrival order before the loop starts
// routing reads directly (spec §9 design note: {attaching, ready} states).
func (gw *Gateway) runPageScopeReadLoop(conn *connection) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.startPingTicker(ctx, conn)

	handle, ok := gw.supervisor.PageHandle(conn.pageID)
	if !ok {
		return
	}

	var (
		bufMu     sync.Mutex
		buffered  [][]byte
		ready     bool
		sessionID string
	)

	go func() {
		id, err := gw.mux.AttachClient(ctx, handle, conn.pageID, conn.id, false, conn.sendRaw)
		if err != nil {
			logging.Warnf("cdpgateway: attach page %s: %v", conn.pageID, err)
			return
		}
		conn.trackSession(id, conn.pageID)

		bufMu.Lock()
		sessionID = id
		ready = true
		pending := buffered
		buffered = nil
		bufMu.Unlock()

		for _, raw := range pending {
			if err := gw.mux.RouteRequest(context.Background(), id, raw); err != nil {
				logging.Warnf("cdpgateway: route buffered request for session %s: %v", id, err)
			}
		}
	}()

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}

		if !conn.limiter.Allow() {
			logging.Debugf("cdpgateway: dropping request on page %s, rate limit exceeded", conn.pageID)
			continue
		}

		bufMu.Lock()
		if !ready {
			buffered = append(buffered, raw)
			bufMu.Unlock()
			continue
		}
		id := sessionID
		bufMu.Unlock()

		if err := gw.mux.RouteRequest(ctx, id, raw); err != nil {
			logging.Warnf("cdpgateway: route request for session %s: %v", id, err)
		}
	}
}
