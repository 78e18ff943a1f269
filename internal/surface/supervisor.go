package surface

import (
	"context"
	"fmt"
	"sync"

	"github.com/neboloop/cdpgateway/internal/events"
	"github.com/neboloop/cdpgateway/internal/fleet"
	"github.com/neboloop/cdpgateway/internal/logging"
)

// DefaultHomeURL is the "new tab" URL given to a browser's initial page,
// matching the teacher's convention of always landing a fresh profile on a
// known page rather than an empty context.
const DefaultHomeURL = "about:blank"

// Supervisor is SurfaceSupervisor (C2): it owns the concrete Provider
// handles behind every browser and page, and is the only component allowed
// to mutate FleetStore for lifecycle reasons (spec §4.2, §5 "Shared
// resources").
type Supervisor struct {
	mu sync.Mutex

	store    *fleet.Store
	provider Provider
	bus      *events.Subject

	partitions map[fleet.BrowserID]PartitionHandle
	handles    map[fleet.PageID]PageHandle
}

// NewSupervisor wires a Supervisor over an existing FleetStore, Provider and
// EventBus. All three are shared with other components (§5).
func NewSupervisor(store *fleet.Store, provider Provider, bus *events.Subject) *Supervisor {
	return &Supervisor{
		store:      store,
		provider:   provider,
		bus:        bus,
		partitions: make(map[fleet.BrowserID]PartitionHandle),
		handles:    make(map[fleet.PageID]PageHandle),
	}
}

// BrowserOptions configures a new browser.
type BrowserOptions struct {
	Name      string
	UserAgent string
	HomeURL   string // defaults to DefaultHomeURL
}

// CreateBrowser creates an isolated storage partition, instantiates a
// Surface, and then creates an initial page at HomeURL through the normal
// page-create path (spec §4.2).
func (sv *Supervisor) CreateBrowser(ctx context.Context, opts BrowserOptions) (fleet.BrowserRecord, error) {
	partitionKey := opts.Name
	if partitionKey == "" {
		partitionKey = fmt.Sprintf("anon-%p", &opts)
	}

	browserID := sv.store.CreateBrowser(fleet.BrowserSpec{
		Name:         opts.Name,
		PartitionKey: partitionKey,
		UserAgent:    opts.UserAgent,
	})

	partition, err := sv.provider.NewBrowserPartition(ctx, partitionKey)
	if err != nil {
		// Roll back the tentative record before returning (spec §4.2
		// "Failure semantics").
		sv.store.DeleteBrowser(browserID)
		return fleet.BrowserRecord{}, fmt.Errorf("create browser partition: %w", err)
	}

	sv.mu.Lock()
	sv.partitions[browserID] = partition
	sv.mu.Unlock()

	events.Emit(sv.bus, events.TopicBrowserCreated, events.BrowserCreated{BrowserID: string(browserID)})

	home := opts.HomeURL
	if home == "" {
		home = DefaultHomeURL
	}
	if _, err := sv.CreatePage(ctx, CreatePageOpts{BrowserID: browserID, URL: home, Activate: true}); err != nil {
		logging.Errorf("surface: initial page for browser %s failed: %v", browserID, err)
	}

	rec, _ := sv.store.GetBrowser(browserID)
	return rec, nil
}

// DestroyBrowser detaches any attached surface view, tears down all pages
// (each emitting fleet.pageDestroyed), removes the browser record, and
// emits fleet.browserDestroyed. Page removal order matches the browser's
// page order (spec §8 S3).
func (sv *Supervisor) DestroyBrowser(ctx context.Context, browserID fleet.BrowserID) error {
	pageIDs := sv.store.DeleteBrowser(browserID)

	sv.mu.Lock()
	for _, pid := range pageIDs {
		if handle, ok := sv.handles[pid]; ok {
			_ = sv.provider.DetachView(handle)
			_ = sv.provider.ClosePage(ctx, handle)
			delete(sv.handles, pid)
		}
	}
	delete(sv.partitions, browserID)
	sv.mu.Unlock()

	for _, pid := range pageIDs {
		events.Emit(sv.bus, events.TopicPageDestroyed, events.PageDestroyed{
			BrowserID: string(browserID), PageID: string(pid),
		})
	}
	events.Emit(sv.bus, events.TopicBrowserDestroyed, events.BrowserDestroyed{BrowserID: string(browserID)})
	return nil
}

// CreatePageOpts configures a new page.
type CreatePageOpts struct {
	BrowserID   fleet.BrowserID
	URL         string
	Activate    bool
	AfterPageID fleet.PageID
}

// CreatePage allocates a PageRecord first, then asks the Surface to create
// the underlying page. The view is attached before any navigation is
// started (spec §4.6 "Attach before navigate").
func (sv *Supervisor) CreatePage(ctx context.Context, opts CreatePageOpts) (fleet.PageRecord, error) {
	sv.mu.Lock()
	partition, ok := sv.partitions[opts.BrowserID]
	sv.mu.Unlock()
	if !ok {
		return fleet.PageRecord{}, fmt.Errorf("unknown browser: %s", opts.BrowserID)
	}

	initialURL := opts.URL
	if initialURL == "" {
		initialURL = DefaultHomeURL
	}

	pageID, ok := sv.store.InsertPage(opts.BrowserID, fleet.PageRecord{URL: "about:blank"}, opts.AfterPageID)
	if !ok {
		return fleet.PageRecord{}, fmt.Errorf("unknown browser: %s", opts.BrowserID)
	}

	handle, err := sv.provider.NewPage(ctx, partition, "")
	if err != nil {
		sv.store.RemovePage(opts.BrowserID, pageID)
		return fleet.PageRecord{}, fmt.Errorf("create page: %w", err)
	}

	sv.mu.Lock()
	sv.handles[pageID] = handle
	sv.mu.Unlock()

	if err := sv.provider.AttachView(handle); err != nil {
		logging.Warnf("surface: attach view for page %s: %v", pageID, err)
	}

	sv.watchPage(opts.BrowserID, pageID, handle)

	events.Emit(sv.bus, events.TopicPageCreated, events.PageCreated{
		BrowserID: string(opts.BrowserID), PageID: string(pageID), AfterPageID: string(opts.AfterPageID),
	})

	if opts.Activate {
		if sv.store.SetActivePage(opts.BrowserID, pageID) {
			events.Emit(sv.bus, events.TopicPageActivated, events.PageActivated{
				BrowserID: string(opts.BrowserID), PageID: string(pageID),
			})
		}
	}

	if initialURL != DefaultHomeURL {
		navErr := sv.provider.Navigate(ctx, handle, initialURL)
		events.Emit(sv.bus, events.TopicPageNavigated, events.PageNavigated{
			BrowserID: string(opts.BrowserID), PageID: string(pageID), URL: initialURL, Err: navErr,
		})
	}

	rec, _ := sv.store.GetPage(pageID)
	return rec, nil
}

// ClosePage instructs the Surface to close the page; on confirmation it
// removes the record and emits fleet.pageDestroyed. If the closed page was
// active, the successor selected by FleetStore is announced via
// fleet.pageActivated.
func (sv *Supervisor) ClosePage(ctx context.Context, browserID fleet.BrowserID, pageID fleet.PageID) error {
	sv.mu.Lock()
	handle, ok := sv.handles[pageID]
	sv.mu.Unlock()
	if !ok {
		return fmt.Errorf("target not found: %s", pageID)
	}

	before, _ := sv.store.GetBrowser(browserID)
	wasActive := before.ActivePageID == pageID

	if err := sv.provider.ClosePage(ctx, handle); err != nil {
		return fmt.Errorf("close page: %w", err)
	}

	newActive, ok := sv.store.RemovePage(browserID, pageID)
	if !ok {
		return fmt.Errorf("target not found: %s", pageID)
	}

	sv.mu.Lock()
	delete(sv.handles, pageID)
	sv.mu.Unlock()

	events.Emit(sv.bus, events.TopicPageDestroyed, events.PageDestroyed{
		BrowserID: string(browserID), PageID: string(pageID),
	})
	if wasActive {
		events.Emit(sv.bus, events.TopicPageActivated, events.PageActivated{
			BrowserID: string(browserID), PageID: string(newActive),
		})
	}
	return nil
}

// NavigatePage delegates to the Surface and mirrors the outcome via
// fleet.pageNavigated. It never bypasses FleetStore.
func (sv *Supervisor) NavigatePage(ctx context.Context, pageID fleet.PageID, url string) error {
	rec, ok := sv.store.GetPage(pageID)
	if !ok {
		return fmt.Errorf("target not found: %s", pageID)
	}
	sv.mu.Lock()
	handle, ok := sv.handles[pageID]
	sv.mu.Unlock()
	if !ok {
		return fmt.Errorf("target not found: %s", pageID)
	}

	navErr := sv.provider.Navigate(ctx, handle, url)
	sv.store.MutatePage(pageID, func(p *fleet.PageRecord) {
		if navErr == nil {
			p.URL = url
		}
	})
	events.Emit(sv.bus, events.TopicPageNavigated, events.PageNavigated{
		BrowserID: string(rec.BrowserID), PageID: string(pageID), URL: url, Err: navErr,
	})
	return navErr
}

// Reload, GoBack and GoForward delegate to the Surface without touching
// FleetStore beyond what the resulting page-event mirror does.
func (sv *Supervisor) Reload(ctx context.Context, pageID fleet.PageID) error {
	return sv.withHandle(pageID, func(h PageHandle) error { return sv.provider.Reload(ctx, h) })
}

func (sv *Supervisor) GoBack(ctx context.Context, pageID fleet.PageID) error {
	return sv.withHandle(pageID, func(h PageHandle) error { return sv.provider.Back(ctx, h) })
}

func (sv *Supervisor) GoForward(ctx context.Context, pageID fleet.PageID) error {
	return sv.withHandle(pageID, func(h PageHandle) error { return sv.provider.Forward(ctx, h) })
}

func (sv *Supervisor) withHandle(pageID fleet.PageID, fn func(PageHandle) error) error {
	sv.mu.Lock()
	handle, ok := sv.handles[pageID]
	sv.mu.Unlock()
	if !ok {
		return fmt.Errorf("target not found: %s", pageID)
	}
	return fn(handle)
}

// SelectPage activates a page within its browser.
func (sv *Supervisor) SelectPage(browserID fleet.BrowserID, pageID fleet.PageID) error {
	if !sv.store.SetActivePage(browserID, pageID) {
		return fmt.Errorf("target not found: %s", pageID)
	}
	events.Emit(sv.bus, events.TopicPageActivated, events.PageActivated{
		BrowserID: string(browserID), PageID: string(pageID),
	})
	return nil
}

// WindowOpenHandler handles an in-page popup request: the new page is
// inserted immediately after the parent and activated (spec §4.2).
func (sv *Supervisor) WindowOpenHandler(ctx context.Context, parentPageID fleet.PageID, url string) (fleet.PageID, error) {
	parent, ok := sv.store.GetPage(parentPageID)
	if !ok {
		return "", fmt.Errorf("target not found: %s", parentPageID)
	}
	rec, err := sv.CreatePage(ctx, CreatePageOpts{
		BrowserID: parent.BrowserID, URL: url, Activate: true, AfterPageID: parentPageID,
	})
	if err != nil {
		return "", err
	}
	return rec.PageID, nil
}

// PageHandle exposes the concrete Surface handle for a page, for
// SessionMultiplexer (C3) to attach a debugger binding against.
func (sv *Supervisor) PageHandle(pageID fleet.PageID) (PageHandle, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	h, ok := sv.handles[pageID]
	return h, ok
}

// Provider exposes the underlying engine so other components (the
// multiplexer) can drive it directly for a page they've already resolved a
// handle for.
func (sv *Supervisor) Provider() Provider { return sv.provider }

// watchPage mirrors Surface-reported title/favicon/navigation changes into
// FleetStore, generalizing the teacher's per-page listener registration in
// internal/browser/session.go's setupPageListeners.
func (sv *Supervisor) watchPage(browserID fleet.BrowserID, pageID fleet.PageID, handle PageHandle) {
	sv.provider.SubscribePageEvents(context.Background(), handle, func(evt PageEvent) {
		switch evt.Kind {
		case PageEventTitleChanged:
			sv.store.MutatePage(pageID, func(p *fleet.PageRecord) { p.Title = evt.Title })
			events.Emit(sv.bus, events.TopicPageTitleChanged, events.PageTitleChanged{
				BrowserID: string(browserID), PageID: string(pageID), Title: evt.Title,
			})
		case PageEventFaviconChanged:
			sv.store.MutatePage(pageID, func(p *fleet.PageRecord) { p.Favicon = evt.Icon })
			events.Emit(sv.bus, events.TopicPageFaviconChanged, events.PageFaviconChanged{
				BrowserID: string(browserID), PageID: string(pageID), Favicon: evt.Icon,
			})
		case PageEventNavigated:
			sv.store.MutatePage(pageID, func(p *fleet.PageRecord) {
				p.URL = evt.URL
				p.NavigationState.IsLoading = true
			})
		case PageEventLoadFinished:
			sv.store.MutatePage(pageID, func(p *fleet.PageRecord) { p.NavigationState.IsLoading = false })
		case PageEventLoadFailed:
			sv.store.MutatePage(pageID, func(p *fleet.PageRecord) { p.NavigationState.IsLoading = false })
		case PageEventPopup:
			if _, err := sv.WindowOpenHandler(context.Background(), pageID, evt.URL); err != nil {
				logging.Warnf("surface: popup from page %s failed: %v", pageID, err)
			}
		}
	})
}
