// Package window enumerates and classifies top-level windows.
package window

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

// MaxTitleLength is the number of UTF-16 units of a title that are kept.
const MaxTitleLength = 127

// affinityNone is the display affinity of a window captured normally.
const affinityNone = 0

// Handle is an opaque top-level window handle.
type Handle uintptr

// String formats the handle in hex, the way Windows tools display it.
func (h Handle) String() string {
	return fmt.Sprintf("%#x", uintptr(h))
}

// ParseHandle parses a handle written in hex (0x prefix) or decimal.
func ParseHandle(s string) (Handle, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid window handle %q: %w", s, err)
	}
	if v == 0 {
		return 0, fmt.Errorf("invalid window handle %q: must be non-zero", s)
	}
	return Handle(v), nil
}

// Record describes one top-level window at the time of enumeration. The
// hidden flag is a snapshot and goes stale as soon as anything changes the
// window.
type Record struct {
	Handle Handle `json:"hwnd"`
	Title  string `json:"title"`
	PID    uint32 `json:"pid"`
	Hidden bool   `json:"hidden"`
}

// ByProcess groups records by owning process id, preserving order.
func ByProcess(records []Record) map[uint32][]Record {
	out := make(map[uint32][]Record)
	for _, r := range records {
		out[r.PID] = append(out[r.PID], r)
	}
	return out
}

// truncateTitle cuts s to at most max UTF-16 units without splitting a
// surrogate pair.
func truncateTitle(s string, max int) string {
	units := 0
	for i, r := range s {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if units+n > max {
			return s[:i]
		}
		units += n
	}
	return s
}
