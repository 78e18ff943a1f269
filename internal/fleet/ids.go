package fleet

import "github.com/google/uuid"

// BrowserID uniquely and stably identifies a BrowserRecord for its lifetime.
type BrowserID string

// PageID uniquely and stably identifies a PageRecord for its lifetime.
type PageID string

// newBrowserID mirrors the teacher's page id shape (session.go's
// getTargetID: "page-<uuid8>") but for browsers.
func newBrowserID() BrowserID {
	return BrowserID("browser-" + uuid.New().String()[:8])
}

// newPageID allocates a fresh, stable page id. Truncated UUIDs are used
// instead of the full 36-character form because CDP target ids in the wild
// are short opaque strings and clients treat them as such.
func newPageID() PageID {
	return PageID("page-" + uuid.New().String()[:8])
}
