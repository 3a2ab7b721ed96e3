//go:build windows

package main

import (
	"github.com/lxn/win"
	"golang.org/x/sys/windows"
)

var (
	user32                       = windows.NewLazySystemDLL("user32.dll")
	procSetWindowDisplayAffinity = user32.NewProc("SetWindowDisplayAffinity")
)

// user32Window applies attributes to windows of the hosting process.
type user32Window struct{}

func (user32Window) SetDisplayAffinity(hwnd uintptr, affinity uint32) bool {
	if !windows.IsWindow(windows.HWND(hwnd)) {
		return false
	}
	ret, _, _ := procSetWindowDisplayAffinity.Call(hwnd, uintptr(affinity))
	return ret != 0
}

func (user32Window) ExStyle(hwnd uintptr) uint32 {
	return uint32(win.GetWindowLong(win.HWND(hwnd), win.GWL_EXSTYLE))
}

func (w user32Window) SetExStyle(hwnd uintptr, style uint32) bool {
	win.SetWindowLong(win.HWND(hwnd), win.GWL_EXSTYLE, int32(style))
	// SetWindowLong returns the previous value, which may legitimately be
	// zero; reading back is the reliable success check.
	return w.ExStyle(hwnd) == style
}
