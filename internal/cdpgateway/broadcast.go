package cdpgateway

import (
	"context"

	"github.com/chromedp/cdproto"

	"github.com/neboloop/cdpgateway/internal/events"
	"github.com/neboloop/cdpgateway/internal/fleet"
)

// subscribeBroadcastBridge is the single site where fleet lifecycle events
// become Target.targetCreated/Destroyed traffic (spec §4.4.5, invariant 7:
// "no other component emits them").
func (gw *Gateway) subscribeBroadcastBridge() {
	created := events.Subscribe(gw.bus, events.TopicPageCreated, func(_ context.Context, e events.PageCreated) error {
		gw.broadcastTargetCreated(fleet.BrowserID(e.BrowserID), fleet.PageID(e.PageID))
		return nil
	})
	destroyed := events.Subscribe(gw.bus, events.TopicPageDestroyed, func(_ context.Context, e events.PageDestroyed) error {
		gw.broadcastTargetDestroyed(fleet.BrowserID(e.BrowserID), fleet.PageID(e.PageID))
		return nil
	})

	// Only the first Subscription's Unsubscribe is retained on gw; chain the
	// second so Close() tears down both.
	firstUnsub := created.Unsubscribe
	secondUnsub := destroyed.Unsubscribe
	created.Unsubscribe = func() {
		firstUnsub()
		secondUnsub()
	}
	gw.broadcastSub = created
}

func (gw *Gateway) broadcastTargetCreated(browserID fleet.BrowserID, pageID fleet.PageID) {
	page, ok := gw.store.GetPage(pageID)
	if !ok {
		return
	}
	info := targetInfo(page, gw.mux.HasBinding(pageID))
	for _, conn := range gw.browserScopeConns(browserID) {
		if !conn.discoverEnabled {
			continue
		}
		_ = conn.sendJSON(cdpEvent{Method: cdproto.EventTargetTargetCreated, Params: map[string]any{"targetInfo": info}})
	}
}

func (gw *Gateway) broadcastTargetDestroyed(browserID fleet.BrowserID, pageID fleet.PageID) {
	for _, conn := range gw.browserScopeConns(browserID) {
		if !conn.discoverEnabled {
			continue
		}
		_ = conn.sendJSON(cdpEvent{Method: cdproto.EventTargetTargetDestroyed, Params: map[string]any{"targetId": string(pageID)}})
	}
}

// targetInfo builds a CDP TargetInfo for a page. attached reflects whether
// a debugger is currently bound to it (spec §9 open question: we report
// real attachment state rather than mirroring the source's `!isActive`
// heuristic — see DESIGN.md).
func targetInfo(p fleet.PageRecord, attached bool) map[string]any {
	return map[string]any{
		"targetId":         string(p.PageID),
		"type":             "page",
		"title":            p.Title,
		"url":              p.URL,
		"attached":         attached,
		"browserContextId": string(p.BrowserID),
	}
}
