// Package session implements SessionMultiplexer (C3): the mapping from a
// page's single debugger attachment to zero or more client-owned sessions,
// and the framing rules that let several CDP clients share one page.
package session

import (
	"fmt"

	"github.com/neboloop/cdpgateway/internal/fleet"
)

// ID is a typed session identifier that serializes to
// "<pageId>-session-<seq>" but is never re-parsed inside the core (spec §9
// "Design Notes" — the source's sessionId.split('-session-')[0] pattern is
// exactly what this replaces).
type ID struct {
	PageID fleet.PageID
	Seq    int64
}

func (id ID) String() string {
	return fmt.Sprintf("%s-session-%d", id.PageID, id.Seq)
}

// Session is one client's channel onto a page's SurfaceBinding.
type Session struct {
	ID           string
	PageID       fleet.PageID
	ConnectionID string
	Flatten      bool
	SendFn       func([]byte) error
}
