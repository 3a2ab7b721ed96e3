//go:build windows

package window

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// x/sys/windows has no wrapper for GetWindowDisplayAffinity.
var (
	user32                       = windows.NewLazySystemDLL("user32.dll")
	procGetWindowDisplayAffinity = user32.NewProc("GetWindowDisplayAffinity")
)

// syscall.NewCallback slots are never freed, so one callback serves every
// enumeration and enumMu serializes access to its output slice.
var (
	enumMu       sync.Mutex
	enumHandles  []Handle
	enumCallback = syscall.NewCallback(func(hwnd windows.HWND, _ uintptr) uintptr {
		enumHandles = append(enumHandles, Handle(hwnd))
		return 1
	})
)

type user32System struct{}

// NewSystem returns the System backed by user32 and dwmapi.
func NewSystem() System {
	return user32System{}
}

func (user32System) TopLevelWindows() ([]Handle, error) {
	enumMu.Lock()
	defer enumMu.Unlock()

	enumHandles = enumHandles[:0]
	if err := windows.EnumWindows(enumCallback, nil); err != nil {
		return nil, fmt.Errorf("EnumWindows failed: %w", err)
	}
	out := make([]Handle, len(enumHandles))
	copy(out, enumHandles)
	return out, nil
}

func (user32System) IsVisible(h Handle) bool {
	return windows.IsWindowVisible(windows.HWND(h))
}

func (user32System) IsCloaked(h Handle) (bool, error) {
	var cloaked uint32
	err := windows.DwmGetWindowAttribute(
		windows.HWND(h),
		uint32(windows.DWMWA_CLOAKED),
		unsafe.Pointer(&cloaked),
		uint32(unsafe.Sizeof(cloaked)),
	)
	if err != nil {
		return false, fmt.Errorf("DwmGetWindowAttribute(DWMWA_CLOAKED) failed: %w", err)
	}
	return cloaked != 0, nil
}

func (user32System) Title(h Handle, max int) (string, error) {
	buf := make([]uint16, max+1)
	n, err := windows.GetWindowText(windows.HWND(h), &buf[0], int32(len(buf)))
	if n == 0 {
		// An untitled window also returns zero, with no last error set.
		var errno syscall.Errno
		if err == nil || errors.Is(err, syscall.EINVAL) || (errors.As(err, &errno) && errno == 0) {
			return "", nil
		}
		return "", fmt.Errorf("GetWindowTextW failed: %w", err)
	}
	return windows.UTF16ToString(buf[:n]), nil
}

func (user32System) DisplayAffinity(h Handle) (uint32, error) {
	var affinity uint32
	ret, _, err := procGetWindowDisplayAffinity.Call(uintptr(h), uintptr(unsafe.Pointer(&affinity)))
	if ret == 0 {
		return 0, fmt.Errorf("GetWindowDisplayAffinity failed: %w", err)
	}
	return affinity, nil
}

func (user32System) ProcessID(h Handle) (uint32, error) {
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(windows.HWND(h), &pid); err != nil {
		return 0, fmt.Errorf("GetWindowThreadProcessId failed: %w", err)
	}
	return pid, nil
}
