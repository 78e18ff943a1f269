package surface

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemSurface is a deterministic, in-process fake Provider. It simulates a
// page going through {fresh, loading, idle} exactly as a real embedded view
// would (spec Design Notes: "wait for WebContents to be ready"), and answers
// every CDP command with an echo of its method and params so end-to-end
// gateway tests can attach and exchange commands without a real browser
// engine.
type MemSurface struct {
	mu       sync.Mutex
	pages    map[PageHandle]*memPage
	bindings map[BindingHandle]*memPage
	settle   time.Duration // artificial settle delay before "idle"
}

type memPage struct {
	url          string
	title        string
	favicon      string
	loading      bool
	canGoBack    bool
	canGoForward bool
	closed       bool

	attached bool // debugger binding held

	pageSubs  []func(PageEvent)
	debugSubs []func(DebugEvent)
}

// NewMemSurface returns a MemSurface whose pages settle to idle after
// settle (use 0 in tests that don't care about timing).
func NewMemSurface(settle time.Duration) *MemSurface {
	return &MemSurface{
		pages:    make(map[PageHandle]*memPage),
		bindings: make(map[BindingHandle]*memPage),
		settle:   settle,
	}
}

func (m *MemSurface) NewBrowserPartition(ctx context.Context, key string) (PartitionHandle, error) {
	return "partition-" + key, nil
}

func (m *MemSurface) NewPage(ctx context.Context, browser PartitionHandle, url string) (PageHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle := PageHandle(uuid.NewString())
	page := &memPage{url: url, loading: url != "" && url != "about:blank"}
	m.pages[handle] = page

	if page.loading {
		go func() {
			time.Sleep(m.settle)
			m.mu.Lock()
			page.loading = false
			page.title = url
			subs := append([]func(PageEvent){}, page.pageSubs...)
			m.mu.Unlock()
			for _, sub := range subs {
				sub(PageEvent{Kind: PageEventLoadFinished, URL: url})
			}
		}()
	}
	return handle, nil
}

func (m *MemSurface) AttachView(page PageHandle) error { return nil }
func (m *MemSurface) DetachView(page PageHandle) error { return nil }

func (m *MemSurface) Navigate(ctx context.Context, page PageHandle, url string) error {
	m.mu.Lock()
	p, ok := m.pages[page]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown page")
	}
	p.url = url
	p.loading = true
	p.canGoBack = true
	subs := append([]func(PageEvent){}, p.pageSubs...)
	m.mu.Unlock()

	for _, sub := range subs {
		sub(PageEvent{Kind: PageEventNavigated, URL: url})
	}

	time.Sleep(m.settle)

	m.mu.Lock()
	p.loading = false
	subs = append([]func(PageEvent){}, p.pageSubs...)
	m.mu.Unlock()
	for _, sub := range subs {
		sub(PageEvent{Kind: PageEventLoadFinished, URL: url})
	}
	return nil
}

func (m *MemSurface) Reload(ctx context.Context, page PageHandle) error {
	m.mu.Lock()
	p, ok := m.pages[page]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown page")
	}
	url := p.url
	m.mu.Unlock()
	return m.Navigate(ctx, page, url)
}

func (m *MemSurface) Back(ctx context.Context, page PageHandle) error    { return nil }
func (m *MemSurface) Forward(ctx context.Context, page PageHandle) error { return nil }

func (m *MemSurface) ClosePage(ctx context.Context, page PageHandle) error {
	m.mu.Lock()
	p, ok := m.pages[page]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	p.closed = true
	subs := append([]func(PageEvent){}, p.pageSubs...)
	m.mu.Unlock()
	for _, sub := range subs {
		sub(PageEvent{Kind: PageEventClosed})
	}
	return nil
}

func (m *MemSurface) AttachDebugger(ctx context.Context, page PageHandle) (BindingHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pages[page]
	if !ok {
		return nil, fmt.Errorf("unknown page")
	}
	if p.attached {
		return nil, AlreadyAttachedError{}
	}
	p.attached = true
	binding := BindingHandle(uuid.NewString())
	m.bindings[binding] = p
	return binding, nil
}

func (m *MemSurface) DetachDebugger(binding BindingHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.bindings[binding]
	if !ok {
		return nil
	}
	p.attached = false
	p.debugSubs = nil
	delete(m.bindings, binding)
	return nil
}

// echoResult is the shape returned for every CDP command; MemSurface models
// no domain semantics — good enough for exercising the multiplexer.
type echoResult struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (m *MemSurface) SendDebuggerCommand(ctx context.Context, binding BindingHandle, method string, params []byte) ([]byte, error) {
	m.mu.Lock()
	_, ok := m.bindings[binding]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("binding not attached")
	}
	return json.Marshal(echoResult{Method: method, Params: params})
}

// SubscribeDebuggerEvents registers handler until the binding is detached;
// ctx is not consulted.
func (m *MemSurface) SubscribeDebuggerEvents(ctx context.Context, binding BindingHandle, handler func(DebugEvent)) {
	m.mu.Lock()
	p, ok := m.bindings[binding]
	if !ok {
		m.mu.Unlock()
		return
	}
	p.debugSubs = append(p.debugSubs, handler)
	m.mu.Unlock()
}

func (m *MemSurface) PageState(page PageHandle) (PageState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[page]
	if !ok {
		return PageState{}, fmt.Errorf("unknown page")
	}
	return PageState{
		URL: p.url, Title: p.title, Favicon: p.favicon,
		Loading: p.loading, CanGoBack: p.canGoBack, CanGoForward: p.canGoForward,
	}, nil
}

// SubscribePageEvents registers handler for the lifetime of the page; ctx is
// not consulted and handlers are never removed.
func (m *MemSurface) SubscribePageEvents(ctx context.Context, page PageHandle, handler func(PageEvent)) {
	m.mu.Lock()
	p, ok := m.pages[page]
	if !ok {
		m.mu.Unlock()
		return
	}
	p.pageSubs = append(p.pageSubs, handler)
	m.mu.Unlock()
}

// EmitDebugEvent lets tests simulate the engine pushing a debugger event,
// e.g. Page.frameStartedLoading, fanning it to every subscriber on binding.
func (m *MemSurface) EmitDebugEvent(page PageHandle, method string, params []byte) {
	m.mu.Lock()
	p, ok := m.pages[page]
	var subs []func(DebugEvent)
	if ok {
		subs = append(subs, p.debugSubs...)
	}
	m.mu.Unlock()
	for _, sub := range subs {
		sub(DebugEvent{Method: method, Params: params})
	}
}
