// Package surface defines the narrow interface (§6.3) through which the
// gateway core consumes an embedded browser engine, and owns the concrete
// set of Browser/Page surfaces on behalf of SurfaceSupervisor (C2).
//
// The engine itself — the thing that actually renders a page and exposes a
// debugger channel — is an external collaborator (spec §1 "Out of scope").
// This package never imports one; MemSurface below is a deterministic fake
// used by tests and by default when no real engine is wired in, in the
// spirit of the teacher's own layering (internal/browser/session.go talks to
// a real browser only through the playwright.Browser/Page interfaces).
package surface

import "context"

// PartitionHandle is an opaque isolation namespace for one browser's storage.
type PartitionHandle any

// PageHandle is an opaque handle to one embedded page.
type PageHandle any

// BindingHandle is an opaque handle to an acquired debugger channel.
type BindingHandle any

// PageState is a poll snapshot of a page's user-visible state.
type PageState struct {
	URL          string
	Title        string
	Favicon      string
	Loading      bool
	CanGoBack    bool
	CanGoForward bool
}

// PageEventKind enumerates the push notifications a Surface can emit for a
// page outside of debugger events (navigation, title, favicon, load).
type PageEventKind int

const (
	PageEventNavigated PageEventKind = iota
	PageEventTitleChanged
	PageEventFaviconChanged
	PageEventLoadFinished
	PageEventLoadFailed
	PageEventClosed
	// PageEventPopup fires when the page asked to open another page
	// (window.open-equivalent); the event's URL carries the requested URL.
	PageEventPopup
)

// PageEvent is one push notification from a Surface for a specific page.
type PageEvent struct {
	Kind  PageEventKind
	URL   string
	Title string
	Icon  string
	Err   error
}

// DebugEvent is one CDP-shaped event pushed from a debugger binding:
// method plus raw JSON params.
type DebugEvent struct {
	Method string
	Params []byte
}

// AlreadyAttachedError is returned by AttachDebugger when a binding already
// exists for the page (each embedded page exposes a single-attachment
// debugger primitive — the entire reason SessionMultiplexer exists).
type AlreadyAttachedError struct{}

func (AlreadyAttachedError) Error() string { return "debugger already attached" }

// Provider is the abstract embedded-browser engine (spec §6.3). All
// operations that can fail return an error; blocking operations take a
// context.
type Provider interface {
	NewBrowserPartition(ctx context.Context, key string) (PartitionHandle, error)
	NewPage(ctx context.Context, browser PartitionHandle, url string) (PageHandle, error)
	AttachView(page PageHandle) error
	DetachView(page PageHandle) error
	Navigate(ctx context.Context, page PageHandle, url string) error
	Reload(ctx context.Context, page PageHandle) error
	Back(ctx context.Context, page PageHandle) error
	Forward(ctx context.Context, page PageHandle) error
	ClosePage(ctx context.Context, page PageHandle) error

	// AttachDebugger acquires the single debugger channel for page. It
	// fails with AlreadyAttachedError if a binding is already held.
	AttachDebugger(ctx context.Context, page PageHandle) (BindingHandle, error)
	DetachDebugger(binding BindingHandle) error
	SendDebuggerCommand(ctx context.Context, binding BindingHandle, method string, params []byte) (result []byte, err error)
	// SubscribeDebuggerEvents streams method+params for binding until the
	// context is cancelled or the binding is detached. Events are
	// delivered to handler in the order the engine emits them.
	SubscribeDebuggerEvents(ctx context.Context, binding BindingHandle, handler func(DebugEvent))

	PageState(page PageHandle) (PageState, error)
	// SubscribePageEvents streams PageEvents for page until ctx is done.
	SubscribePageEvents(ctx context.Context, page PageHandle, handler func(PageEvent))
}
