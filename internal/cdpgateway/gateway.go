package cdpgateway

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/neboloop/cdpgateway/internal/events"
	"github.com/neboloop/cdpgateway/internal/fleet"
	"github.com/neboloop/cdpgateway/internal/httputil"
	"github.com/neboloop/cdpgateway/internal/logging"
	"github.com/neboloop/cdpgateway/internal/session"
	"github.com/neboloop/cdpgateway/internal/surface"
)

// Gateway is CdpGateway (C4). It owns no lifecycle state of its own beyond
// its live ClientConnections; browsers and pages live in FleetStore, and
// the connections registry only exists to serve the broadcast bridge
// (spec §4.4.5).
type Gateway struct {
	store      *fleet.Store
	supervisor *surface.Supervisor
	mux        *session.Multiplexer
	bus        *events.Subject

	testEndpointsEnabled bool
	commandsPerMinute    int
	commandBurst         int

	upgrader websocket.Upgrader

	connMu sync.RWMutex
	conns  map[string]*connection

	broadcastSub events.Subscription
}

// Options configures a Gateway.
type Options struct {
	// TestEndpointsEnabled gates /test/browser/* (spec §4.4.1, "MUST NOT be
	// served when that flag is absent").
	TestEndpointsEnabled bool

	// CommandsPerMinute and Burst bound each connection's command rate; zero
	// falls back to connCommandRateLimit/connCommandBurst.
	CommandsPerMinute int
	Burst             int
}

// New wires a Gateway over an existing FleetStore, SurfaceSupervisor,
// SessionMultiplexer and EventBus — all shared with the rest of the
// process (spec §5 "Shared resources").
func New(store *fleet.Store, supervisor *surface.Supervisor, mux *session.Multiplexer, bus *events.Subject, opts Options) *Gateway {
	cpm := opts.CommandsPerMinute
	if cpm == 0 {
		cpm = connCommandRateLimit
	}
	burst := opts.Burst
	if burst == 0 {
		burst = connCommandBurst
	}

	gw := &Gateway{
		store:                store,
		supervisor:           supervisor,
		mux:                  mux,
		bus:                  bus,
		testEndpointsEnabled: opts.TestEndpointsEnabled,
		commandsPerMinute:    cpm,
		commandBurst:         burst,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*connection),
	}
	gw.subscribeBroadcastBridge()
	return gw
}

// Router builds the chi mux serving the discovery HTTP and WebSocket
// surfaces (spec §4.4.1, §4.4.2).
func (gw *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/json/version", gw.handleJSONVersion)
	r.Get("/json/list", gw.handleJSONList)
	r.Get("/json/protocol", gw.handleJSONProtocol)
	r.Get("/devtools/browser/{browserId}/json/version", gw.handleBrowserJSONVersion)
	r.Get("/devtools/browser/{browserId}/json/list", gw.handleBrowserJSONList)

	if gw.testEndpointsEnabled {
		r.Post("/test/browser/create", gw.handleTestCreateBrowser)
		r.Delete("/test/browser/{browserId}", gw.handleTestDeleteBrowser)
	}

	r.Get("/devtools/browser", gw.handleWebSocket)
	r.Get("/devtools/browser/{browserId}", gw.handleWebSocket)
	r.Get("/devtools/page/{pageId}", gw.handleWebSocket)

	return r
}

// Close tears down the broadcast bridge subscription. Live connections are
// left to close on their own read-loop errors.
func (gw *Gateway) Close() {
	if gw.broadcastSub.Unsubscribe != nil {
		gw.broadcastSub.Unsubscribe()
	}
}

func (gw *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !isLoopbackRequest(r) {
		httputil.ErrorWithCode(w, http.StatusForbidden, "forbidden")
		return
	}

	path := r.URL.Path
	switch {
	case path == "/devtools/browser" || strings.HasPrefix(path, "/devtools/browser/"):
		gw.acceptBrowserScope(w, r, chi.URLParam(r, "browserId"))
	case strings.HasPrefix(path, "/devtools/page/"):
		gw.acceptPageScope(w, r, fleet.PageID(chi.URLParam(r, "pageId")))
	default:
		// spec §4.4.2 / S6: reject with no upgrade.
		httputil.NotFound(w, "no route for "+path)
	}
}

func (gw *Gateway) acceptBrowserScope(w http.ResponseWriter, r *http.Request, browserID string) {
	bid := fleet.BrowserID(browserID)
	if bid == "" {
		first, ok := gw.store.FirstBrowser()
		if !ok {
			httputil.ErrorWithCode(w, http.StatusServiceUnavailable, "no browsers")
			return
		}
		bid = first
	}
	if _, ok := gw.store.GetBrowser(bid); !ok {
		httputil.NotFound(w, "browser not found")
		return
	}

	ws, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := &connection{
		id: uuid.NewString(), ws: ws, gw: gw, host: r.Host, scope: scopeBrowser, browserID: bid,
		limiter: rate.NewLimiter(rate.Limit(gw.commandsPerMinute)/60, gw.commandBurst),
	}
	gw.registerConn(conn)
	defer gw.unregisterConn(conn)

	gw.runBrowserScopeReadLoop(conn)
}

func (gw *Gateway) acceptPageScope(w http.ResponseWriter, r *http.Request, pageID fleet.PageID) {
	page, ok := gw.store.GetPage(pageID)
	if !ok {
		httputil.NotFound(w, "page not found")
		return
	}

	ws, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := &connection{
		id: uuid.NewString(), ws: ws, gw: gw, host: r.Host, scope: scopePage, browserID: page.BrowserID, pageID: pageID,
		limiter: rate.NewLimiter(rate.Limit(gw.commandsPerMinute)/60, gw.commandBurst),
	}
	gw.registerConn(conn)
	defer gw.unregisterConn(conn)

	gw.runPageScopeReadLoop(conn)
}

func (gw *Gateway) registerConn(c *connection) {
	gw.connMu.Lock()
	gw.conns[c.id] = c
	gw.connMu.Unlock()
}

func (gw *Gateway) unregisterConn(c *connection) {
	for sessionID := range c.sessionsSnapshot() {
		gw.mux.DetachSession(sessionID)
	}
	gw.connMu.Lock()
	delete(gw.conns, c.id)
	gw.connMu.Unlock()
	_ = c.ws.Close()
}

func (gw *Gateway) browserScopeConns(browserID fleet.BrowserID) []*connection {
	gw.connMu.RLock()
	defer gw.connMu.RUnlock()
	var out []*connection
	for _, c := range gw.conns {
		if c.scope == scopeBrowser && c.browserID == browserID {
			out = append(out, c)
		}
	}
	return out
}

// pingInterval keeps idle connections from being reaped by intermediary
// proxies, matching the teacher's extension keep-alive ticker.
const pingInterval = 15 * time.Second

func (gw *Gateway) startPingTicker(ctx context.Context, conn *connection) {
	ticker := time.NewTicker(pingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				conn.writeMu.Lock()
				err := conn.ws.WriteMessage(websocket.PingMessage, nil)
				conn.writeMu.Unlock()
				if err != nil {
					logging.Debugf("cdpgateway: ping failed for %s: %v", conn.id, err)
					return
				}
			}
		}
	}()
}
