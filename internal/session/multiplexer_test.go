package session_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neboloop/cdpgateway/internal/events"
	"github.com/neboloop/cdpgateway/internal/fleet"
	"github.com/neboloop/cdpgateway/internal/session"
	"github.com/neboloop/cdpgateway/internal/surface"
)

func newTestFixture(t *testing.T) (*fleet.Store, *surface.MemSurface, *surface.Supervisor, fleet.PageID) {
	t.Helper()
	store := fleet.New()
	bus := events.NewSubject(events.WithSyncDelivery())
	t.Cleanup(func() { events.Complete(bus) })
	mem := surface.NewMemSurface(0)
	sv := surface.NewSupervisor(store, mem, bus)

	browser, err := sv.CreateBrowser(context.Background(), surface.BrowserOptions{Name: "default"})
	require.NoError(t, err)
	rec, ok := store.GetBrowser(browser.BrowserID)
	require.True(t, ok)
	return store, mem, sv, rec.ActivePageID
}

func TestAttachClientRouteRequestFramesFlattened(t *testing.T) {
	_, mem, sv, pageID := newTestFixture(t)
	handle, ok := sv.PageHandle(pageID)
	require.True(t, ok)

	mx := session.NewMultiplexer(mem)

	var mu sync.Mutex
	var received [][]byte
	sendFn := func(b []byte) error {
		mu.Lock()
		received = append(received, b)
		mu.Unlock()
		return nil
	}

	sessID, err := mx.AttachClient(context.Background(), handle, pageID, "conn-1", true, sendFn)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sessID, string(pageID)+"-session-"))

	req := []byte(`{"id":11,"method":"Page.enable","params":{}}`)
	require.NoError(t, mx.RouteRequest(context.Background(), sessID, req))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)

	var env map[string]any
	require.NoError(t, json.Unmarshal(received[0], &env))
	require.Equal(t, "Target.receivedMessageFromTarget", env["method"])

	params := env["params"].(map[string]any)
	require.Equal(t, sessID, params["sessionId"])
	require.Equal(t, string(pageID), params["targetId"])

	inner := params["message"].(string)
	require.Contains(t, inner, `"id":11`)
	require.Contains(t, inner, `"result"`)
}

func TestRouteRequestNonFlattenedIsVerbatim(t *testing.T) {
	_, mem, sv, pageID := newTestFixture(t)
	handle, ok := sv.PageHandle(pageID)
	require.True(t, ok)

	mx := session.NewMultiplexer(mem)

	var mu sync.Mutex
	var received [][]byte
	sendFn := func(b []byte) error {
		mu.Lock()
		received = append(received, b)
		mu.Unlock()
		return nil
	}

	sessID, err := mx.AttachClient(context.Background(), handle, pageID, "conn-1", false, sendFn)
	require.NoError(t, err)

	require.NoError(t, mx.RouteRequest(context.Background(), sessID, []byte(`{"id":5,"method":"Page.enable"}`)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)

	var env map[string]any
	require.NoError(t, json.Unmarshal(received[0], &env))
	require.Equal(t, float64(5), env["id"])
	require.Contains(t, env, "result")
	require.NotContains(t, env, "params")
}

func TestOnDebuggerEventBroadcastsIdenticallyToAllSessions(t *testing.T) {
	_, mem, sv, pageID := newTestFixture(t)
	handle, ok := sv.PageHandle(pageID)
	require.True(t, ok)

	mx := session.NewMultiplexer(mem)

	var mu sync.Mutex
	var receivedA, receivedB [][]byte
	sendA := func(b []byte) error { mu.Lock(); receivedA = append(receivedA, b); mu.Unlock(); return nil }
	sendB := func(b []byte) error { mu.Lock(); receivedB = append(receivedB, b); mu.Unlock(); return nil }

	sessA, err := mx.AttachClient(context.Background(), handle, pageID, "connA", true, sendA)
	require.NoError(t, err)
	sessB, err := mx.AttachClient(context.Background(), handle, pageID, "connB", true, sendB)
	require.NoError(t, err)
	require.NotEqual(t, sessA, sessB)

	mem.EmitDebugEvent(handle, "Page.frameStartedLoading", nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(receivedA) == 1 && len(receivedB) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	var envA, envB map[string]any
	require.NoError(t, json.Unmarshal(receivedA[0], &envA))
	require.NoError(t, json.Unmarshal(receivedB[0], &envB))

	innerA := envA["params"].(map[string]any)["message"].(string)
	innerB := envB["params"].(map[string]any)["message"].(string)
	require.Contains(t, innerA, "Page.frameStartedLoading")
	require.Contains(t, innerB, "Page.frameStartedLoading")

	require.Equal(t, sessA, envA["params"].(map[string]any)["sessionId"])
	require.Equal(t, sessB, envB["params"].(map[string]any)["sessionId"])
}

func TestDetachSessionReleasesBindingOnLastSession(t *testing.T) {
	_, mem, sv, pageID := newTestFixture(t)
	handle, ok := sv.PageHandle(pageID)
	require.True(t, ok)

	mx := session.NewMultiplexer(mem)
	sendFn := func([]byte) error { return nil }

	sessID, err := mx.AttachClient(context.Background(), handle, pageID, "conn-1", true, sendFn)
	require.NoError(t, err)

	mx.DetachSession(sessID)

	binding, err := mem.AttachDebugger(context.Background(), handle)
	require.NoError(t, err)
	require.NotNil(t, binding)
}

func TestRouteRequestUnknownSessionErrors(t *testing.T) {
	_, mem, _, _ := newTestFixture(t)
	mx := session.NewMultiplexer(mem)
	err := mx.RouteRequest(context.Background(), "does-not-exist", []byte(`{"id":1,"method":"Page.enable"}`))
	require.Error(t, err)
}
