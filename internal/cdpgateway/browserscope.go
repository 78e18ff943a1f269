package cdpgateway

import (
	"context"
	"encoding/json"

	"github.com/chromedp/cdproto"
	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"

	"github.com/neboloop/cdpgateway/internal/fleet"
	"github.com/neboloop/cdpgateway/internal/logging"
	"github.com/neboloop/cdpgateway/internal/surface"
)

// runBrowserScopeReadLoop serves one /devtools/browser[/{id}] connection:
// read a command, dispatch it, write the response, then any events the
// dispatch produced — response-before-events, matching the teacher's
// handleCdpCommand in internal/browser/relay.go.
func (gw *Gateway) runBrowserScopeReadLoop(conn *connection) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.startPingTicker(ctx, conn)

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}

		var cmd cdpCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			logging.Debugf("cdpgateway: malformed browser-scope message from %s: %v", conn.id, err)
			continue
		}

		if !conn.limiter.Allow() {
			_ = conn.sendJSON(failure(cmd.ID, codeServerError, "rate limit exceeded"))
			continue
		}

		resp, postEvents := gw.handleBrowserMessage(ctx, conn, cmd, raw)
		if resp != nil {
			if err := conn.sendJSON(resp); err != nil {
				return
			}
		}
		for _, evt := range postEvents {
			_ = conn.sendJSON(evt)
		}
	}
}

func success(id json.Number, result any) *cdpResponse {
	return &cdpResponse{ID: id, Result: result}
}

func failure(id json.Number, code int, message string) *cdpResponse {
	return &cdpResponse{ID: id, Error: &cdpError{Code: code, Message: message}}
}

// handleBrowserMessage dispatches one browser-scope command (spec §4.4.3).
// Target.targetCreated/Destroyed are never emitted from here — the
// broadcast bridge is the single site for those (spec invariant 7).
func (gw *Gateway) handleBrowserMessage(ctx context.Context, conn *connection, cmd cdpCommand, raw []byte) (*cdpResponse, []cdpEvent) {
	switch cmd.Method {

	case string(cdpbrowser.CommandGetVersion):
		block := versionBlock{
			Browser:              productName,
			ProtocolVersion:      protocolVersion,
			V8Version:            v8Version,
			WebKitVersion:        webkitVersion,
			WebSocketDebuggerURL: "ws://" + conn.host + "/devtools/browser/" + string(conn.browserID),
		}
		return success(cmd.ID, block), nil

	case string(cdpbrowser.CommandSetDownloadBehavior):
		return success(cmd.ID, map[string]any{}), nil

	case string(target.CommandGetBrowserContexts):
		return success(cmd.ID, map[string]any{"browserContextIds": []string{}}), nil

	case string(target.CommandCreateBrowserContext):
		// One partition per browser; the browser id doubles as its only
		// context id (spec has no multi-context requirement).
		return success(cmd.ID, map[string]any{"browserContextId": string(conn.browserID)}), nil

	case string(target.CommandDisposeBrowserContext):
		return success(cmd.ID, map[string]any{}), nil

	case string(target.CommandSetDiscoverTargets):
		var params struct {
			Discover bool `json:"discover"`
		}
		_ = json.Unmarshal(cmd.Params, &params)

		conn.mu.Lock()
		wasEnabled := conn.discoverEnabled
		conn.discoverEnabled = params.Discover
		conn.mu.Unlock()

		var post []cdpEvent
		if params.Discover && !wasEnabled {
			for _, p := range gw.store.Snapshot().Pages {
				if p.BrowserID != conn.browserID {
					continue
				}
				post = append(post, cdpEvent{
					Method: cdproto.EventTargetTargetCreated,
					Params: map[string]any{"targetInfo": targetInfo(p, gw.mux.HasBinding(p.PageID))},
				})
			}
		}
		return success(cmd.ID, map[string]any{}), post

	case string(target.CommandCreateTarget):
		var params struct {
			URL string `json:"url"`
		}
		_ = json.Unmarshal(cmd.Params, &params)
		rec, err := gw.supervisor.CreatePage(ctx, surface.CreatePageOpts{
			BrowserID: conn.browserID, URL: params.URL, Activate: true,
		})
		if err != nil {
			return failure(cmd.ID, codeServerError, err.Error()), nil
		}
		return success(cmd.ID, map[string]any{"targetId": string(rec.PageID)}), nil

	case string(target.CommandCloseTarget):
		var params struct {
			TargetID string `json:"targetId"`
		}
		_ = json.Unmarshal(cmd.Params, &params)
		// Success/failure only; fleet.pageDestroyed (and the resulting
		// Target.targetDestroyed) come from the broadcast bridge, not here.
		err := gw.supervisor.ClosePage(ctx, conn.browserID, fleet.PageID(params.TargetID))
		return success(cmd.ID, map[string]any{"success": err == nil}), nil

	case string(target.CommandGetTargets):
		snap := gw.store.Snapshot()
		infos := make([]map[string]any, 0, len(snap.Pages))
		for _, p := range snap.Pages {
			if p.BrowserID != conn.browserID {
				continue
			}
			infos = append(infos, targetInfo(p, gw.mux.HasBinding(p.PageID)))
		}
		return success(cmd.ID, map[string]any{"targetInfos": infos}), nil

	case string(target.CommandGetTargetInfo):
		var params struct {
			TargetID string `json:"targetId"`
		}
		_ = json.Unmarshal(cmd.Params, &params)
		if params.TargetID == "" || params.TargetID == string(conn.browserID) {
			b, ok := gw.store.GetBrowser(conn.browserID)
			if !ok {
				return failure(cmd.ID, codeServerError, "target not found: "+string(conn.browserID)), nil
			}
			return success(cmd.ID, map[string]any{"targetInfo": map[string]any{
				"targetId": string(b.BrowserID), "type": "browser", "title": b.Name, "url": "", "attached": true,
			}}), nil
		}
		p, ok := gw.store.GetPage(fleet.PageID(params.TargetID))
		if !ok {
			return failure(cmd.ID, codeServerError, "target not found: "+params.TargetID), nil
		}
		return success(cmd.ID, map[string]any{"targetInfo": targetInfo(p, gw.mux.HasBinding(p.PageID))}), nil

	case string(target.CommandAttachToTarget):
		var params struct {
			TargetID string `json:"targetId"`
			Flatten  bool   `json:"flatten"`
		}
		_ = json.Unmarshal(cmd.Params, &params)
		pageID := fleet.PageID(params.TargetID)
		handle, ok := gw.supervisor.PageHandle(pageID)
		if !ok {
			return failure(cmd.ID, codeServerError, "target not found: "+params.TargetID), nil
		}
		sessionID, err := gw.mux.AttachClient(ctx, handle, pageID, conn.id, params.Flatten, conn.sendRaw)
		if err != nil {
			return failure(cmd.ID, codeServerError, err.Error()), nil
		}
		conn.trackSession(sessionID, pageID)

		p, _ := gw.store.GetPage(pageID)
		post := []cdpEvent{{
			Method: cdproto.EventTargetAttachedToTarget,
			Params: map[string]any{
				"sessionId": sessionID, "targetInfo": targetInfo(p, true), "waitingForDebugger": false,
			},
		}}
		return success(cmd.ID, map[string]any{"sessionId": sessionID}), post

	case string(target.CommandDetachFromTarget):
		var params struct {
			SessionID string `json:"sessionId"`
		}
		_ = json.Unmarshal(cmd.Params, &params)
		conn.untrackSession(params.SessionID)
		gw.mux.DetachSession(params.SessionID)

		conn.mu.Lock()
		discover := conn.discoverEnabled
		conn.mu.Unlock()

		var post []cdpEvent
		if discover {
			post = append(post, cdpEvent{
				Method: cdproto.EventTargetDetachedFromTarget,
				Params: map[string]any{"sessionId": params.SessionID},
			})
		}
		return success(cmd.ID, map[string]any{}), post

	case "Target.sendMessageToTarget":
		var params struct {
			Message   string `json:"message"`
			SessionID string `json:"sessionId"`
		}
		_ = json.Unmarshal(cmd.Params, &params)
		// Ack first, then route asynchronously — the inner response/event
		// travels to the client via the session's own SendFn, framed as
		// Target.receivedMessageFromTarget (spec §4.3.3).
		if err := conn.sendJSON(success(cmd.ID, map[string]any{})); err != nil {
			return nil, nil
		}
		go func() {
			if err := gw.mux.RouteRequest(context.Background(), params.SessionID, []byte(params.Message)); err != nil {
				logging.Warnf("cdpgateway: route message for session %s: %v", params.SessionID, err)
			}
		}()
		return nil, nil

	case string(target.CommandSetAutoAttach):
		var params struct {
			AutoAttach      bool `json:"autoAttach"`
			WaitForDebugger bool `json:"waitForDebugger"`
			Flatten         bool `json:"flatten"`
		}
		_ = json.Unmarshal(cmd.Params, &params)

		conn.mu.Lock()
		conn.autoAttach = autoAttachSettings{
			enabled: params.AutoAttach, waitForDebugger: params.WaitForDebugger, flatten: params.Flatten,
		}
		conn.mu.Unlock()

		var post []cdpEvent
		if params.AutoAttach {
			for _, p := range gw.store.Snapshot().Pages {
				if p.BrowserID != conn.browserID || conn.isAttachedTo(p.PageID) {
					continue
				}
				handle, ok := gw.supervisor.PageHandle(p.PageID)
				if !ok {
					continue
				}
				sessionID, err := gw.mux.AttachClient(ctx, handle, p.PageID, conn.id, params.Flatten, conn.sendRaw)
				if err != nil {
					logging.Warnf("cdpgateway: auto-attach page %s: %v", p.PageID, err)
					continue
				}
				conn.trackSession(sessionID, p.PageID)
				post = append(post, cdpEvent{
					Method: cdproto.EventTargetAttachedToTarget,
					Params: map[string]any{
						"sessionId": sessionID, "targetInfo": targetInfo(p, true),
						"waitingForDebugger": params.WaitForDebugger,
					},
				})
			}
		}
		return success(cmd.ID, map[string]any{}), post

	default:
		if cmd.SessionID != "" {
			// Flattened top-level command carrying its own sessionId
			// (spec §4.3.3): route directly, response travels through the
			// session's SendFn, nothing to write here.
			if err := gw.mux.RouteRequest(ctx, cmd.SessionID, raw); err != nil {
				logging.Warnf("cdpgateway: route flattened command %s: %v", cmd.Method, err)
			}
			return nil, nil
		}
		return failure(cmd.ID, codeMethodNotFound, "unknown method: "+cmd.Method), nil
	}
}
