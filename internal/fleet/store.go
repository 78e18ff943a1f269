// Package fleet implements FleetStore (C1): the authoritative in-memory
// model of browsers and pages that backs CDP discovery. It is grounded on
// the teacher's internal/browser session/manager map bookkeeping, generalized
// into a single-writer, many-reader store with named, invariant-preserving
// operations.
package fleet

import (
	"sync"
	"time"

	"github.com/neboloop/cdpgateway/internal/logging"
)

// Store is a single-writer, many-reader database of browser and page
// records. All mutations run under one write lock; Snapshot returns a
// value-copy safe to read without any lock (spec §4.1 "Concurrency").
type Store struct {
	mu       sync.RWMutex
	browsers map[BrowserID]*BrowserRecord
	pages    map[PageID]*PageRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		browsers: make(map[BrowserID]*BrowserRecord),
		pages:    make(map[PageID]*PageRecord),
	}
}

// BrowserSpec describes a browser to be created.
type BrowserSpec struct {
	Name         string
	PartitionKey string
	UserAgent    string
}

// CreateBrowser allocates a fresh BrowserID, inserts an empty BrowserRecord
// and returns the id. The record has no pages and no active page until
// InsertPage/SetActivePage are called.
func (s *Store) CreateBrowser(spec BrowserSpec) BrowserID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := newBrowserID()
	s.browsers[id] = &BrowserRecord{
		BrowserID:    id,
		Name:         spec.Name,
		PartitionKey: spec.PartitionKey,
		UserAgent:    spec.UserAgent,
		CreatedAt:    time.Now(),
	}
	return id
}

// DeleteBrowser removes a browser and every page it owns. No-op if absent.
// Returns the ids of the pages that were removed, in the order they were
// removed (spec §8 S3 requires this order for cascaded targetDestroyed
// events).
func (s *Store) DeleteBrowser(id BrowserID) []PageID {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.browsers[id]
	if !ok {
		return nil
	}

	removed := make([]PageID, len(b.Pages))
	copy(removed, b.Pages)
	for _, pid := range removed {
		delete(s.pages, pid)
	}
	delete(s.browsers, id)
	return removed
}

// InsertPage appends pageInit as a new page in browserID, or inserts it
// immediately after afterPageID if given and present. If afterPageID is
// non-empty but not found in the browser, the page is appended and the
// fallback is logged (spec §4.1).
func (s *Store) InsertPage(browserID BrowserID, init PageRecord, afterPageID PageID) (PageID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.browsers[browserID]
	if !ok {
		return "", false
	}

	id := newPageID()
	init.PageID = id
	init.BrowserID = browserID
	s.pages[id] = &init

	if afterPageID == "" {
		b.Pages = append(b.Pages, id)
		return id, true
	}

	idx := indexOf(b.Pages, afterPageID)
	if idx < 0 {
		logging.Warnf("fleet: insertPage afterPageId %q not found in browser %q, appending", afterPageID, browserID)
		b.Pages = append(b.Pages, id)
		return id, true
	}

	b.Pages = append(b.Pages, "")
	copy(b.Pages[idx+2:], b.Pages[idx+1:])
	b.Pages[idx+1] = id
	return id, true
}

// RemovePage removes a page from its browser. If it was the active page,
// the successor is the page to its right, else the page to its left, else
// none (spec §8 S4). Returns the new active page id (possibly unchanged or
// empty) and whether the page existed.
func (s *Store) RemovePage(browserID BrowserID, pageID PageID) (newActive PageID, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.browsers[browserID]
	if !ok {
		return "", false
	}
	idx := indexOf(b.Pages, pageID)
	if idx < 0 {
		return b.ActivePageID, false
	}

	wasActive := b.ActivePageID == pageID
	b.Pages = append(b.Pages[:idx], b.Pages[idx+1:]...)
	delete(s.pages, pageID)

	if wasActive {
		switch {
		case idx < len(b.Pages):
			b.ActivePageID = b.Pages[idx] // page to the right, now at idx
		case idx-1 >= 0 && idx-1 < len(b.Pages):
			b.ActivePageID = b.Pages[idx-1] // page to the left
		default:
			b.ActivePageID = ""
		}
	}

	return b.ActivePageID, true
}

// SetActivePage updates the active pointer. Idempotent; setting it to the
// page already active changes nothing, and "" clears it. A non-empty
// pageID that is not in the browser is rejected.
func (s *Store) SetActivePage(browserID BrowserID, pageID PageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.browsers[browserID]
	if !ok {
		return false
	}
	if pageID != "" && indexOf(b.Pages, pageID) < 0 {
		return false
	}
	b.ActivePageID = pageID
	return true
}

// MutatePage applies fn to the stored PageRecord in place under the write
// lock, then re-syncs IsActive from the browser's active pointer. No-op if
// the page does not exist.
func (s *Store) MutatePage(pageID PageID, fn func(*PageRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pages[pageID]
	if !ok {
		return false
	}
	fn(p)
	if b, ok := s.browsers[p.BrowserID]; ok {
		p.IsActive = b.ActivePageID == pageID
	}
	return true
}

// GetBrowser returns a copy of a BrowserRecord.
func (s *Store) GetBrowser(id BrowserID) (BrowserRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.browsers[id]
	if !ok {
		return BrowserRecord{}, false
	}
	return copyBrowser(b), true
}

// GetPage returns a copy of a PageRecord.
func (s *Store) GetPage(id PageID) (PageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[id]
	if !ok {
		return PageRecord{}, false
	}
	return *p, true
}

// FirstBrowser returns the id of the earliest-created live browser, used by
// /json/version and the bare /devtools/browser alias. The teacher has no
// stable "first" concept either; creation order is found by a linear scan
// since the map itself carries no order.
func (s *Store) FirstBrowser() (BrowserID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var earliest *BrowserRecord
	for _, b := range s.browsers {
		if earliest == nil || b.CreatedAt.Before(earliest.CreatedAt) {
			earliest = b
		}
	}
	if earliest == nil {
		return "", false
	}
	return earliest.BrowserID, true
}

// Snapshot returns a deep-immutable copy of the whole store, suitable for
// broadcasting or for callers that must not race with writers.
func (s *Store) Snapshot() FleetState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := FleetState{
		Browsers: make(map[BrowserID]BrowserRecord, len(s.browsers)),
		Pages:    make(map[PageID]PageRecord, len(s.pages)),
	}
	for id, b := range s.browsers {
		out.Browsers[id] = copyBrowser(b)
	}
	for id, p := range s.pages {
		out.Pages[id] = *p
	}
	return out
}

func copyBrowser(b *BrowserRecord) BrowserRecord {
	cp := *b
	cp.Pages = append([]PageID(nil), b.Pages...)
	return cp
}

func indexOf(pages []PageID, id PageID) int {
	for i, p := range pages {
		if p == id {
			return i
		}
	}
	return -1
}
