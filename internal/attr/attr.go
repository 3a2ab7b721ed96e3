// Package attr holds the window-attribute logic executed by the payload
// inside a target process. It keeps no state between calls.
package attr

import (
	"github.com/invisiwind/invisiwind/internal/layout"
)

// Display affinity values.
const (
	AffinityNone               uint32 = 0x00
	AffinityExcludeFromCapture uint32 = 0x11
)

// Extended window style bits controlling taskbar presence.
const (
	StyleToolWindow uint32 = 0x00000080
	StyleAppWindow  uint32 = 0x00040000
)

// Entry point names exported by the payload.
const (
	EntrySetVisibility        = "SetVisibility"
	EntrySetTaskbarVisibility = "SetTaskbarVisibility"
)

// Window is the per-window OS surface the payload mutates.
type Window interface {
	SetDisplayAffinity(hwnd uintptr, affinity uint32) bool
	// ExStyle returns the extended style, or zero when it cannot be read.
	ExStyle(hwnd uintptr) uint32
	SetExStyle(hwnd uintptr, style uint32) bool
}

// Affinity returns the display affinity for the requested capture state.
func Affinity(hide bool) uint32 {
	if hide {
		return AffinityExcludeFromCapture
	}
	return AffinityNone
}

// TaskbarStyle returns style with the taskbar bits set for show. The app
// window and tool window bits are always left mutually exclusive.
func TaskbarStyle(style uint32, show bool) uint32 {
	if show {
		return (style | StyleAppWindow) &^ StyleToolWindow
	}
	return (style | StyleToolWindow) &^ StyleAppWindow
}

// SetVisibility excludes the window from capture when hide is true and
// restores normal capture otherwise.
func SetVisibility(w Window, hwnd uintptr, hide bool) bool {
	return w.SetDisplayAffinity(hwnd, Affinity(hide))
}

// SetTaskbarVisibility shows or hides the window's taskbar and app switcher
// entry. It fails when the current style cannot be read.
func SetTaskbarVisibility(w Window, hwnd uintptr, show bool) bool {
	style := w.ExStyle(hwnd)
	if style == 0 {
		return false
	}
	return w.SetExStyle(hwnd, TaskbarStyle(style, show))
}

// Dispatch decodes a call frame and runs the named entry point, returning the
// code the remote thread exits with.
func Dispatch(w Window, entry string, frame []byte) uint32 {
	f, err := layout.DecodeCallFrame(frame)
	if err != nil {
		return layout.ResultBadFrame
	}
	if f.Version != layout.ABIVersion {
		return layout.ResultVersionMismatch
	}

	hwnd := uintptr(f.Handle)
	var ok bool
	switch entry {
	case EntrySetVisibility:
		ok = SetVisibility(w, hwnd, f.Flag())
	case EntrySetTaskbarVisibility:
		ok = SetTaskbarVisibility(w, hwnd, f.Flag())
	default:
		return layout.ResultBadFrame
	}
	if ok {
		return layout.ResultTrue
	}
	return layout.ResultFalse
}
