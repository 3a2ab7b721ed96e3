package layout

import (
	"fmt"
)

// MaxIconDimension bounds the width and height accepted from a bitmap header.
const MaxIconDimension = 4096

// Bitmap mirrors the fields of a GDI BITMAP structure that icon conversion
// needs.
type Bitmap struct {
	Type       int32
	Width      int32
	Height     int32
	WidthBytes int32
	Planes     uint16
	BitsPixel  uint16
	Bits       uint64
}

// BitmapSize returns sizeof(BITMAP) for the given pointer width.
func BitmapSize(ptr int) int {
	return alignUp(20, ptr) + ptr
}

// DecodeBitmap decodes a BITMAP as filled in by GetObject.
func DecodeBitmap(b []byte, ptr int) (Bitmap, error) {
	if err := checkPtrSize(ptr); err != nil {
		return Bitmap{}, err
	}
	if err := need(b, BitmapSize(ptr), "BITMAP"); err != nil {
		return Bitmap{}, err
	}
	bm := Bitmap{
		Type:       int32(le.Uint32(b[0:])),
		Width:      int32(le.Uint32(b[4:])),
		Height:     int32(le.Uint32(b[8:])),
		WidthBytes: int32(le.Uint32(b[12:])),
		Planes:     le.Uint16(b[16:]),
		BitsPixel:  le.Uint16(b[18:]),
		Bits:       readPtr(b, alignUp(20, ptr), ptr),
	}
	if bm.Width <= 0 || bm.Height == 0 {
		return bm, fmt.Errorf("layout: invalid bitmap dimensions %dx%d", bm.Width, bm.Height)
	}
	if bm.Width > MaxIconDimension || abs32(bm.Height) > MaxIconDimension {
		return bm, fmt.Errorf("layout: bitmap %dx%d exceeds %d", bm.Width, bm.Height, MaxIconDimension)
	}
	return bm, nil
}

// Dimensions returns the bitmap size with the height made positive.
func (bm Bitmap) Dimensions() (int, int) {
	return int(bm.Width), int(abs32(bm.Height))
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// IconInfo mirrors ICONINFO. Mask and Color are GDI bitmap handles owned by
// whoever called GetIconInfo.
type IconInfo struct {
	Icon     bool
	HotspotX uint32
	HotspotY uint32
	Mask     uintptr
	Color    uintptr
}

// IconInfoSize returns sizeof(ICONINFO) for the given pointer width.
func IconInfoSize(ptr int) int {
	return alignUp(12, ptr) + 2*ptr
}

// DecodeIconInfo decodes an ICONINFO as filled in by GetIconInfo.
func DecodeIconInfo(b []byte, ptr int) (IconInfo, error) {
	if err := checkPtrSize(ptr); err != nil {
		return IconInfo{}, err
	}
	if err := need(b, IconInfoSize(ptr), "ICONINFO"); err != nil {
		return IconInfo{}, err
	}
	off := alignUp(12, ptr)
	return IconInfo{
		Icon:     le.Uint32(b[0:]) != 0,
		HotspotX: le.Uint32(b[4:]),
		HotspotY: le.Uint32(b[8:]),
		Mask:     uintptr(readPtr(b, off, ptr)),
		Color:    uintptr(readPtr(b, off+ptr, ptr)),
	}, nil
}

const (
	bitmapInfoHeaderSize = 40
	biRGB                = 0
)

// BitmapInfoSize is the size of the BITMAPINFO buffer built by
// EncodeBitmapInfo: the header plus one RGBQUAD.
const BitmapInfoSize = bitmapInfoHeaderSize + 4

// EncodeBitmapInfo builds a BITMAPINFO requesting a 32 bits-per-pixel,
// uncompressed, top-down DIB of the given size.
func EncodeBitmapInfo(width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 || width > MaxIconDimension || height > MaxIconDimension {
		return nil, fmt.Errorf("layout: invalid DIB size %dx%d", width, height)
	}
	b := make([]byte, BitmapInfoSize)
	le.PutUint32(b[0:], bitmapInfoHeaderSize)
	le.PutUint32(b[4:], uint32(int32(width)))
	le.PutUint32(b[8:], uint32(-int32(height))) // negative height: top-down rows
	le.PutUint16(b[12:], 1)                      // planes
	le.PutUint16(b[14:], 32)                     // bit count
	le.PutUint32(b[16:], biRGB)
	return b, nil
}

// PixelBufferSize returns the byte size of a 32bpp buffer of the given size.
func PixelBufferSize(width, height int) (int, error) {
	if width <= 0 || height <= 0 || width > MaxIconDimension || height > MaxIconDimension {
		return 0, fmt.Errorf("layout: invalid pixel buffer size %dx%d", width, height)
	}
	return width * height * 4, nil
}

// SwapRedBlue converts BGRA pixels to RGBA in place.
func SwapRedBlue(pix []byte) {
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i], pix[i+2] = pix[i+2], pix[i]
	}
}

// FixOpaqueAlpha marks every pixel opaque when the alpha channel is entirely
// zero, which is how icons without an alpha channel come back from GetDIBits.
// It reports whether the buffer was changed.
func FixOpaqueAlpha(pix []byte) bool {
	for i := 3; i < len(pix); i += 4 {
		if pix[i] != 0 {
			return false
		}
	}
	for i := 3; i < len(pix); i += 4 {
		pix[i] = 0xff
	}
	return len(pix) >= 4
}
