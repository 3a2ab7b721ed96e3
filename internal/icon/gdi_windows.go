//go:build windows

package icon

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/invisiwind/invisiwind/internal/layout"
	"github.com/invisiwind/invisiwind/internal/window"
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	gdi32                   = windows.NewLazySystemDLL("gdi32.dll")
	procSendMessageTimeoutW = user32.NewProc("SendMessageTimeoutW")
	procGetClassLongPtrW    = user32.NewProc(classLongProc())
	procGetIconInfo         = user32.NewProc("GetIconInfo")
	procGetDC               = user32.NewProc("GetDC")
	procReleaseDC           = user32.NewProc("ReleaseDC")
	procGetObjectW          = gdi32.NewProc("GetObjectW")
	procGetDIBits           = gdi32.NewProc("GetDIBits")
	procDeleteObject        = gdi32.NewProc("DeleteObject")
)

const (
	wmGetIcon       = 0x007F
	iconSmall2      = 2
	gclpHIconSm     = -34
	smtoAbortIfHung = 0x0002
	dibRGBColors    = 0

	// hung windows are skipped rather than stalling enumeration
	getIconTimeoutMs = 200
)

// 32-bit user32 has no GetClassLongPtrW export; the header maps it to
// GetClassLongW.
func classLongProc() string {
	if layout.HostPtrSize == 8 {
		return "GetClassLongPtrW"
	}
	return "GetClassLongW"
}

type user32GDI struct{}

// NewGDI returns the GDI backed by user32 and gdi32.
func NewGDI() GDI {
	return user32GDI{}
}

func (user32GDI) WindowIcon(h window.Handle) uintptr {
	var result uintptr
	ret, _, _ := procSendMessageTimeoutW.Call(
		uintptr(h),
		wmGetIcon,
		iconSmall2,
		0,
		smtoAbortIfHung,
		getIconTimeoutMs,
		uintptr(unsafe.Pointer(&result)),
	)
	if ret == 0 {
		return 0
	}
	return result
}

func (user32GDI) ClassIcon(h window.Handle) uintptr {
	index := int32(gclpHIconSm)
	ret, _, _ := procGetClassLongPtrW.Call(uintptr(h), uintptr(index))
	return ret
}

func (user32GDI) IconInfo(icon uintptr) (layout.IconInfo, error) {
	buf := make([]byte, layout.IconInfoSize(layout.HostPtrSize))
	ret, _, err := procGetIconInfo.Call(icon, uintptr(unsafe.Pointer(&buf[0])))
	if ret == 0 {
		return layout.IconInfo{}, fmt.Errorf("GetIconInfo failed: %w", err)
	}
	return layout.DecodeIconInfo(buf, layout.HostPtrSize)
}

func (user32GDI) ScreenDC() (uintptr, error) {
	dc, _, err := procGetDC.Call(0)
	if dc == 0 {
		return 0, fmt.Errorf("GetDC failed: %w", err)
	}
	return dc, nil
}

func (user32GDI) ReleaseDC(dc uintptr) {
	procReleaseDC.Call(0, dc)
}

func (user32GDI) BitmapHeader(bitmap uintptr) (layout.Bitmap, error) {
	buf := make([]byte, layout.BitmapSize(layout.HostPtrSize))
	n, _, err := procGetObjectW.Call(bitmap, uintptr(len(buf)), uintptr(unsafe.Pointer(&buf[0])))
	if n == 0 {
		return layout.Bitmap{}, fmt.Errorf("GetObjectW failed: %w", err)
	}
	return layout.DecodeBitmap(buf[:n], layout.HostPtrSize)
}

func (user32GDI) DIBits(dc, bitmap uintptr, info []byte, height int, pix []byte) error {
	if len(pix) == 0 || len(info) < layout.BitmapInfoSize {
		return fmt.Errorf("GetDIBits: invalid buffers")
	}
	lines, _, err := procGetDIBits.Call(
		dc,
		bitmap,
		0,
		uintptr(height),
		uintptr(unsafe.Pointer(&pix[0])),
		uintptr(unsafe.Pointer(&info[0])),
		dibRGBColors,
	)
	if lines == 0 {
		return fmt.Errorf("GetDIBits failed: %w", err)
	}
	return nil
}

func (user32GDI) DeleteObject(obj uintptr) {
	procDeleteObject.Call(obj)
}
