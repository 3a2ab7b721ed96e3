// Package icon extracts the small icon of a window as an RGBA pixel buffer.
package icon

import (
	"image"
	"image/png"
	"io"

	"golang.org/x/image/draw"

	"github.com/invisiwind/invisiwind/internal/errors"
	"github.com/invisiwind/invisiwind/internal/layout"
	"github.com/invisiwind/invisiwind/internal/logger"
	"github.com/invisiwind/invisiwind/internal/window"
)

// Image is a decoded icon. Pix holds Width*Height RGBA pixels, row-major,
// top row first, with straight (non-premultiplied) alpha.
type Image struct {
	Width  int
	Height int
	Pix    []byte
}

// NRGBA wraps the pixels as an image.Image without copying.
func (img *Image) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    img.Pix,
		Stride: img.Width * 4,
		Rect:   image.Rect(0, 0, img.Width, img.Height),
	}
}

// Scaled returns the icon resized to size x size. A non-positive size or one
// equal to the current size returns the icon unchanged.
func (img *Image) Scaled(size int) image.Image {
	src := img.NRGBA()
	if size <= 0 || (size == img.Width && size == img.Height) {
		return src
	}
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// EncodePNG writes the icon, scaled to size when size > 0, as PNG.
func (img *Image) EncodePNG(w io.Writer, size int) error {
	return png.Encode(w, img.Scaled(size))
}

// GDI is the window-manager and graphics surface needed to read an icon.
// Handles returned by IconInfo are owned by the caller and must be deleted.
type GDI interface {
	// WindowIcon asks the window for its small icon; zero means none.
	WindowIcon(h window.Handle) uintptr
	// ClassIcon returns the small icon registered with the window class.
	ClassIcon(h window.Handle) uintptr
	IconInfo(icon uintptr) (layout.IconInfo, error)
	ScreenDC() (uintptr, error)
	ReleaseDC(dc uintptr)
	BitmapHeader(bitmap uintptr) (layout.Bitmap, error)
	// DIBits copies height rows of bitmap into pix using the BITMAPINFO in info.
	DIBits(dc, bitmap uintptr, info []byte, height int, pix []byte) error
	DeleteObject(obj uintptr)
}

// Extractor reads window icons through a GDI.
type Extractor struct {
	gdi GDI
}

// NewExtractor creates an extractor over gdi.
func NewExtractor(gdi GDI) *Extractor {
	return &Extractor{gdi: gdi}
}

// Extract returns the window's small icon. A window without an icon, or with
// a monochrome icon, yields (nil, nil).
func (e *Extractor) Extract(h window.Handle) (*Image, error) {
	log := logger.WithComponent("icon")

	hicon := e.gdi.WindowIcon(h)
	if hicon == 0 {
		hicon = e.gdi.ClassIcon(h)
	}
	if hicon == 0 {
		log.Debug().Str("hwnd", h.String()).Msg("Window has no icon")
		return nil, nil
	}

	info, err := e.gdi.IconInfo(hicon)
	if err != nil {
		return nil, e.fail(h, "get_icon_info", err)
	}
	defer func() {
		if info.Color != 0 {
			e.gdi.DeleteObject(info.Color)
		}
		if info.Mask != 0 {
			e.gdi.DeleteObject(info.Mask)
		}
	}()

	if info.Color == 0 {
		log.Debug().Str("hwnd", h.String()).Msg("Icon has no color bitmap")
		return nil, nil
	}

	dc, err := e.gdi.ScreenDC()
	if err != nil {
		return nil, e.fail(h, "get_dc", err)
	}
	defer e.gdi.ReleaseDC(dc)

	bm, err := e.gdi.BitmapHeader(info.Color)
	if err != nil {
		return nil, e.fail(h, "get_bitmap", err)
	}
	width, height := bm.Dimensions()

	bmi, err := layout.EncodeBitmapInfo(width, height)
	if err != nil {
		return nil, e.fail(h, "encode_bitmap_info", err)
	}
	size, err := layout.PixelBufferSize(width, height)
	if err != nil {
		return nil, e.fail(h, "size_pixel_buffer", err)
	}

	pix := make([]byte, size)
	if err := e.gdi.DIBits(dc, info.Color, bmi, height, pix); err != nil {
		return nil, e.fail(h, "get_dib_bits", err)
	}
	layout.SwapRedBlue(pix)
	layout.FixOpaqueAlpha(pix)

	return &Image{Width: width, Height: height, Pix: pix}, nil
}

func (e *Extractor) fail(h window.Handle, op string, err error) error {
	return errors.ForWindow(op, errors.KindAttributeQueryFailed, 0, uintptr(h), err)
}
