//go:build !windows

package icon

import (
	"github.com/invisiwind/invisiwind/internal/errors"
	"github.com/invisiwind/invisiwind/internal/layout"
	"github.com/invisiwind/invisiwind/internal/window"
)

type unsupportedGDI struct{}

// NewGDI returns a GDI that finds no icons.
func NewGDI() GDI {
	return unsupportedGDI{}
}

func (unsupportedGDI) WindowIcon(window.Handle) uintptr { return 0 }
func (unsupportedGDI) ClassIcon(window.Handle) uintptr  { return 0 }

func (unsupportedGDI) IconInfo(uintptr) (layout.IconInfo, error) {
	return layout.IconInfo{}, errors.Unsupported("get_icon_info")
}

func (unsupportedGDI) ScreenDC() (uintptr, error) {
	return 0, errors.Unsupported("get_dc")
}

func (unsupportedGDI) ReleaseDC(uintptr) {}

func (unsupportedGDI) BitmapHeader(uintptr) (layout.Bitmap, error) {
	return layout.Bitmap{}, errors.Unsupported("get_bitmap")
}

func (unsupportedGDI) DIBits(uintptr, uintptr, []byte, int, []byte) error {
	return errors.Unsupported("get_dib_bits")
}

func (unsupportedGDI) DeleteObject(uintptr) {}
