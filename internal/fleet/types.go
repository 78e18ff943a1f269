package fleet

import "time"

// NavigationState mirrors a page's back/forward/loading state as reported
// by its Surface.
type NavigationState struct {
	CanGoBack    bool `json:"canGoBack"`
	CanGoForward bool `json:"canGoForward"`
	IsLoading    bool `json:"isLoading"`
}

// Thumbnail is the last-captured preview image for a page. The capture
// scheduler that populates it lives outside this subsystem (spec §1); the
// store only carries whatever it is told.
type Thumbnail struct {
	DataURL       string    `json:"dataUrl,omitempty"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt,omitempty"`
}

// BrowserRecord is the authoritative record of one browser and its ordered
// pages. Values returned from Snapshot are copies; mutating them has no
// effect on the store.
type BrowserRecord struct {
	BrowserID     BrowserID
	Name          string
	PartitionKey  string
	UserAgent     string
	CreatedAt     time.Time
	Pages         []PageID // insertion/reorder order, exposed as target-list order
	ActivePageID  PageID   // "" means no active page
}

// PageRecord is the authoritative record of one page.
type PageRecord struct {
	PageID          PageID
	BrowserID       BrowserID
	Title           string
	URL             string
	Favicon         string
	IsActive        bool
	NavigationState NavigationState
	Thumbnail       Thumbnail
}

// Endpoints returns the derived CDP endpoint URLs for a browser given a
// gateway's advertised host:port.
func (b BrowserRecord) Endpoints(hostPort string) (browserWS, pageWSTemplate string) {
	browserWS = "ws://" + hostPort + "/devtools/browser/" + string(b.BrowserID)
	pageWSTemplate = "ws://" + hostPort + "/devtools/page/{pageId}"
	return
}

// WSEndpoint returns the derived per-page CDP WebSocket endpoint.
func (p PageRecord) WSEndpoint(hostPort string) string {
	return "ws://" + hostPort + "/devtools/page/" + string(p.PageID)
}

// FleetState is a deep-immutable snapshot of the whole store, safe for
// callers to retain without holding any lock (§4.1 "Concurrency").
type FleetState struct {
	Browsers map[BrowserID]BrowserRecord
	Pages    map[PageID]PageRecord
}
