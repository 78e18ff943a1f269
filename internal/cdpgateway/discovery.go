package cdpgateway

import (
	"net/http"

	"github.com/neboloop/cdpgateway/internal/fleet"
	"github.com/neboloop/cdpgateway/internal/httputil"
	"github.com/neboloop/cdpgateway/internal/surface"
)

func writeJSON(w http.ResponseWriter, v any) {
	httputil.OkJSON(w, v)
}

func (gw *Gateway) version(r *http.Request, browserID fleet.BrowserID) versionBlock {
	block := versionBlock{
		Browser:         productName,
		ProtocolVersion: protocolVersion,
		UserAgent:       r.UserAgent(),
		V8Version:       v8Version,
		WebKitVersion:   webkitVersion,
	}

	target := browserID
	if target == "" {
		if first, ok := gw.store.FirstBrowser(); ok {
			target = first
		}
	}
	if target != "" {
		block.WebSocketDebuggerURL = "ws://" + r.Host + "/devtools/browser/" + string(target)
	}
	// spec §9 open question: with no browsers at all we omit the field
	// rather than pointing at a non-existent endpoint.
	return block
}

func (gw *Gateway) handleJSONVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, gw.version(r, ""))
}

func (gw *Gateway) handleBrowserJSONVersion(w http.ResponseWriter, r *http.Request) {
	bid := fleet.BrowserID(httputil.PathVar(r, "browserId"))
	if _, ok := gw.store.GetBrowser(bid); !ok {
		httputil.NotFound(w, "browser not found")
		return
	}
	writeJSON(w, gw.version(r, bid))
}

func (gw *Gateway) listEntries(r *http.Request, filter fleet.BrowserID) []listEntry {
	snap := gw.store.Snapshot()
	entries := make([]listEntry, 0, len(snap.Browsers)+len(snap.Pages))

	for id, b := range snap.Browsers {
		if filter != "" && id != filter {
			continue
		}
		browserWS, _ := b.Endpoints(r.Host)
		entries = append(entries, listEntry{
			ID: string(id), Type: "browser", Title: b.Name,
			Attached: true, WebSocketDebuggerURL: browserWS,
		})
	}
	for _, p := range snap.Pages {
		if filter != "" && p.BrowserID != filter {
			continue
		}
		entries = append(entries, listEntry{
			ID: string(p.PageID), Type: "page", Title: p.Title, URL: p.URL,
			Attached:             gw.mux.HasBinding(p.PageID),
			WebSocketDebuggerURL: p.WSEndpoint(r.Host),
			FaviconURL:           p.Favicon,
		})
	}
	return entries
}

func (gw *Gateway) handleJSONList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, gw.listEntries(r, ""))
}

func (gw *Gateway) handleBrowserJSONList(w http.ResponseWriter, r *http.Request) {
	bid := fleet.BrowserID(httputil.PathVar(r, "browserId"))
	if _, ok := gw.store.GetBrowser(bid); !ok {
		httputil.NotFound(w, "browser not found")
		return
	}
	writeJSON(w, gw.listEntries(r, bid))
}

// protocolDescriptor is a minimal /json/protocol document covering only the
// domains this gateway emulates (spec §4.4.1).
type protocolDescriptor struct {
	Version struct {
		Major string `json:"major"`
		Minor string `json:"minor"`
	} `json:"version"`
	Domains []protocolDomain `json:"domains"`
}

type protocolDomain struct {
	Domain   string             `json:"domain"`
	Commands []protocolCommand  `json:"commands"`
	Events   []protocolEventDoc `json:"events"`
}

type protocolCommand struct {
	Name string `json:"name"`
}

type protocolEventDoc struct {
	Name string `json:"name"`
}

func (gw *Gateway) handleJSONProtocol(w http.ResponseWriter, r *http.Request) {
	desc := protocolDescriptor{
		Domains: []protocolDomain{
			{
				Domain: "Target",
				Commands: []protocolCommand{
					{Name: "setDiscoverTargets"}, {Name: "createTarget"}, {Name: "closeTarget"},
					{Name: "getTargets"}, {Name: "getTargetInfo"}, {Name: "attachToTarget"},
					{Name: "detachFromTarget"}, {Name: "sendMessageToTarget"}, {Name: "setAutoAttach"},
					{Name: "getBrowserContexts"}, {Name: "createBrowserContext"}, {Name: "disposeBrowserContext"},
				},
				Events: []protocolEventDoc{
					{Name: "targetCreated"}, {Name: "targetDestroyed"},
					{Name: "attachedToTarget"}, {Name: "detachedFromTarget"},
					{Name: "receivedMessageFromTarget"},
				},
			},
			{
				Domain:   "Browser",
				Commands: []protocolCommand{{Name: "getVersion"}, {Name: "setDownloadBehavior"}},
			},
		},
	}
	desc.Version.Major = "1"
	desc.Version.Minor = "3"
	writeJSON(w, desc)
}

// testCreateBrowserRequest is the /test/browser/create request body.
type testCreateBrowserRequest struct {
	Name      string `json:"name"`
	UserAgent string `json:"userAgent"`
	HomeURL   string `json:"homeUrl"`
}

type testCreateBrowserResponse struct {
	BrowserID            string `json:"browserId"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

func (gw *Gateway) handleTestCreateBrowser(w http.ResponseWriter, r *http.Request) {
	var req testCreateBrowserRequest
	if err := httputil.Parse(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	rec, err := gw.supervisor.CreateBrowser(r.Context(), surface.BrowserOptions{
		Name: req.Name, UserAgent: req.UserAgent, HomeURL: req.HomeURL,
	})
	if err != nil {
		httputil.InternalError(w, err.Error())
		return
	}

	browserWS, _ := rec.Endpoints(r.Host)
	writeJSON(w, testCreateBrowserResponse{BrowserID: string(rec.BrowserID), WebSocketDebuggerURL: browserWS})
}

func (gw *Gateway) handleTestDeleteBrowser(w http.ResponseWriter, r *http.Request) {
	bid := fleet.BrowserID(httputil.PathVar(r, "browserId"))
	if _, ok := gw.store.GetBrowser(bid); !ok {
		httputil.NotFound(w, "browser not found")
		return
	}
	if err := gw.supervisor.DestroyBrowser(r.Context(), bid); err != nil {
		httputil.InternalError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
