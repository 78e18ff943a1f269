package surface

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neboloop/cdpgateway/internal/events"
	"github.com/neboloop/cdpgateway/internal/fleet"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *fleet.Store, *events.Subject) {
	t.Helper()
	store := fleet.New()
	bus := events.NewSubject(events.WithSyncDelivery())
	t.Cleanup(func() { events.Complete(bus) })
	sv := NewSupervisor(store, NewMemSurface(0), bus)
	return sv, store, bus
}

func TestCreateBrowserRegistersPartitionAndInitialPage(t *testing.T) {
	sv, store, bus := newTestSupervisor(t)

	var mu sync.Mutex
	var created []events.BrowserCreated
	events.Subscribe(bus, events.TopicBrowserCreated, func(_ context.Context, e events.BrowserCreated) error {
		mu.Lock()
		created = append(created, e)
		mu.Unlock()
		return nil
	})

	rec, err := sv.CreateBrowser(context.Background(), BrowserOptions{Name: "default"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(created) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, string(rec.BrowserID), created[0].BrowserID)

	stored, ok := store.GetBrowser(rec.BrowserID)
	require.True(t, ok)
	require.Len(t, stored.Pages, 1)
	require.Equal(t, stored.Pages[0], stored.ActivePageID)
}

func TestCreatePageEmitsCreatedThenActivated(t *testing.T) {
	sv, _, bus := newTestSupervisor(t)

	var mu sync.Mutex
	var topics []string
	events.Subscribe(bus, events.TopicPageCreated, func(_ context.Context, e events.PageCreated) error {
		mu.Lock()
		topics = append(topics, events.TopicPageCreated)
		mu.Unlock()
		return nil
	})
	events.Subscribe(bus, events.TopicPageActivated, func(_ context.Context, e events.PageActivated) error {
		mu.Lock()
		topics = append(topics, events.TopicPageActivated)
		mu.Unlock()
		return nil
	})

	browser, err := sv.CreateBrowser(context.Background(), BrowserOptions{Name: "default"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(topics) >= 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	topics = nil
	mu.Unlock()

	_, err = sv.CreatePage(context.Background(), CreatePageOpts{BrowserID: browser.BrowserID, Activate: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(topics) >= 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{events.TopicPageCreated, events.TopicPageActivated}, topics)
}

func TestClosePageActivatesSuccessor(t *testing.T) {
	sv, store, _ := newTestSupervisor(t)

	browser, err := sv.CreateBrowser(context.Background(), BrowserOptions{Name: "default"})
	require.NoError(t, err)
	initial, _ := store.GetBrowser(browser.BrowserID)
	firstPage := initial.ActivePageID

	second, err := sv.CreatePage(context.Background(), CreatePageOpts{BrowserID: browser.BrowserID, Activate: true})
	require.NoError(t, err)

	require.NoError(t, sv.ClosePage(context.Background(), browser.BrowserID, second.PageID))

	after, ok := store.GetBrowser(browser.BrowserID)
	require.True(t, ok)
	require.Equal(t, firstPage, after.ActivePageID)
}

func TestDestroyBrowserEmitsPageDestroyedThenBrowserDestroyed(t *testing.T) {
	sv, _, bus := newTestSupervisor(t)

	var mu sync.Mutex
	var order []string
	events.Subscribe(bus, events.TopicPageDestroyed, func(_ context.Context, e events.PageDestroyed) error {
		mu.Lock()
		order = append(order, "page")
		mu.Unlock()
		return nil
	})
	events.Subscribe(bus, events.TopicBrowserDestroyed, func(_ context.Context, e events.BrowserDestroyed) error {
		mu.Lock()
		order = append(order, "browser")
		mu.Unlock()
		return nil
	})

	browser, err := sv.CreateBrowser(context.Background(), BrowserOptions{Name: "default"})
	require.NoError(t, err)
	_, err = sv.CreatePage(context.Background(), CreatePageOpts{BrowserID: browser.BrowserID})
	require.NoError(t, err)

	mu.Lock()
	order = nil
	mu.Unlock()

	require.NoError(t, sv.DestroyBrowser(context.Background(), browser.BrowserID))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) >= 3
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"page", "page", "browser"}, order)
}

func TestWindowOpenHandlerInsertsAfterParentAndActivates(t *testing.T) {
	sv, store, _ := newTestSupervisor(t)

	browser, err := sv.CreateBrowser(context.Background(), BrowserOptions{Name: "default"})
	require.NoError(t, err)
	rec, _ := store.GetBrowser(browser.BrowserID)
	parent := rec.ActivePageID

	popupID, err := sv.WindowOpenHandler(context.Background(), parent, "https://example.com")
	require.NoError(t, err)

	after, _ := store.GetBrowser(browser.BrowserID)
	require.Equal(t, []fleet.PageID{parent, popupID}, after.Pages)
	require.Equal(t, popupID, after.ActivePageID)
}

func TestCreateBrowserRollsBackOnPartitionFailure(t *testing.T) {
	store := fleet.New()
	bus := events.NewSubject(events.WithSyncDelivery())
	t.Cleanup(func() { events.Complete(bus) })
	sv := NewSupervisor(store, failingProvider{NewMemSurface(0)}, bus)

	_, err := sv.CreateBrowser(context.Background(), BrowserOptions{Name: "default"})
	require.Error(t, err)
	require.Empty(t, store.Snapshot().Browsers)
}

// failingProvider wraps a Provider and forces NewBrowserPartition to fail,
// used to exercise the rollback path.
type failingProvider struct {
	Provider
}

func (failingProvider) NewBrowserPartition(ctx context.Context, key string) (PartitionHandle, error) {
	return nil, errPartition
}

var errPartition = errNewPartition{}

type errNewPartition struct{}

func (errNewPartition) Error() string { return "partition unavailable" }

func TestNavigatePageMirrorsURLIntoStore(t *testing.T) {
	sv, store, _ := newTestSupervisor(t)

	browser, err := sv.CreateBrowser(context.Background(), BrowserOptions{Name: "default"})
	require.NoError(t, err)
	rec, _ := store.GetBrowser(browser.BrowserID)

	require.NoError(t, sv.NavigatePage(context.Background(), rec.ActivePageID, "https://example.com"))

	page, ok := store.GetPage(rec.ActivePageID)
	require.True(t, ok)
	require.Equal(t, "https://example.com", page.URL)

	require.Eventually(t, func() bool {
		p, _ := store.GetPage(rec.ActivePageID)
		return !p.NavigationState.IsLoading
	}, time.Second, 10*time.Millisecond)
}
