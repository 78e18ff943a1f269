package fleet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertPageOrderAndActiveFallback(t *testing.T) {
	s := New()
	b := s.CreateBrowser(BrowserSpec{Name: "default"})

	p1, ok := s.InsertPage(b, PageRecord{URL: "about:blank"}, "")
	require.True(t, ok)
	p2, ok := s.InsertPage(b, PageRecord{URL: "about:blank"}, "")
	require.True(t, ok)
	p3, ok := s.InsertPage(b, PageRecord{URL: "about:blank"}, "")
	require.True(t, ok)

	rec, ok := s.GetBrowser(b)
	require.True(t, ok)
	require.Equal(t, []PageID{p1, p2, p3}, rec.Pages)

	// S4.1: [P1,P2,P3] active=P2, close P2 -> active=P3
	require.True(t, s.SetActivePage(b, p2))
	newActive, ok := s.RemovePage(b, p2)
	require.True(t, ok)
	require.Equal(t, p3, newActive)
}

func TestRemovePageActiveFallsLeftThenNil(t *testing.T) {
	s := New()
	b := s.CreateBrowser(BrowserSpec{Name: "default"})
	p1, _ := s.InsertPage(b, PageRecord{}, "")
	p2, _ := s.InsertPage(b, PageRecord{}, "")

	// S4.2: [P1,P2] active=P2, close P2 -> active=P1
	require.True(t, s.SetActivePage(b, p2))
	newActive, ok := s.RemovePage(b, p2)
	require.True(t, ok)
	require.Equal(t, p1, newActive)

	// S4.3: [P1] active=P1, close P1 -> active=nil
	require.True(t, s.SetActivePage(b, p1))
	newActive, ok = s.RemovePage(b, p1)
	require.True(t, ok)
	require.Equal(t, PageID(""), newActive)
}

func TestInsertPageAfterUnknownFallsBackToAppend(t *testing.T) {
	s := New()
	b := s.CreateBrowser(BrowserSpec{Name: "default"})
	p1, _ := s.InsertPage(b, PageRecord{}, "")
	p2, ok := s.InsertPage(b, PageRecord{}, "does-not-exist")
	require.True(t, ok)

	rec, _ := s.GetBrowser(b)
	require.Equal(t, []PageID{p1, p2}, rec.Pages)
}

func TestInsertPageAfterInsertsBetween(t *testing.T) {
	s := New()
	b := s.CreateBrowser(BrowserSpec{Name: "default"})
	p1, _ := s.InsertPage(b, PageRecord{}, "")
	p3, _ := s.InsertPage(b, PageRecord{}, "")
	p2, ok := s.InsertPage(b, PageRecord{}, p1)
	require.True(t, ok)

	rec, _ := s.GetBrowser(b)
	require.Equal(t, []PageID{p1, p2, p3}, rec.Pages)
}

func TestDeleteBrowserCascadesInOrder(t *testing.T) {
	s := New()
	b := s.CreateBrowser(BrowserSpec{Name: "default"})
	p1, _ := s.InsertPage(b, PageRecord{}, "")
	p2, _ := s.InsertPage(b, PageRecord{}, "")
	p3, _ := s.InsertPage(b, PageRecord{}, "")

	removed := s.DeleteBrowser(b)
	require.Equal(t, []PageID{p1, p2, p3}, removed)

	_, ok := s.GetBrowser(b)
	require.False(t, ok)
	for _, p := range removed {
		_, ok := s.GetPage(p)
		require.False(t, ok)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	b := s.CreateBrowser(BrowserSpec{Name: "default"})
	s.InsertPage(b, PageRecord{Title: "one"}, "")

	snap := s.Snapshot()
	rec := snap.Browsers[b]
	rec.Pages = append(rec.Pages, "tampered")

	fresh, _ := s.GetBrowser(b)
	require.Len(t, fresh.Pages, 1)
}

func TestMutatePageSyncsIsActive(t *testing.T) {
	s := New()
	b := s.CreateBrowser(BrowserSpec{Name: "default"})
	p1, _ := s.InsertPage(b, PageRecord{}, "")
	require.True(t, s.SetActivePage(b, p1))

	ok := s.MutatePage(p1, func(p *PageRecord) {
		p.Title = "hello"
	})
	require.True(t, ok)

	rec, _ := s.GetPage(p1)
	require.Equal(t, "hello", rec.Title)
	require.True(t, rec.IsActive)
}
