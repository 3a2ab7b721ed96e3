// Package layout decodes and encodes the raw binary structures exchanged with
// the operating system and with the payload running inside a target process.
//
// Every decoder takes the pointer width explicitly and checks bounds before
// reading, so no structure is ever reinterpreted from an unchecked buffer.
package layout

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"unicode/utf16"
)

// HostPtrSize is the pointer width of the running binary in bytes.
const HostPtrSize = bits.UintSize / 8

// ErrShortBuffer is returned when a buffer is too small for the structure
// being decoded.
var ErrShortBuffer = errors.New("layout: buffer too small")

var le = binary.LittleEndian

func checkPtrSize(ptr int) error {
	if ptr != 4 && ptr != 8 {
		return fmt.Errorf("layout: unsupported pointer size %d", ptr)
	}
	return nil
}

func need(b []byte, n int, what string) error {
	if len(b) < n {
		return fmt.Errorf("%w: %s needs %d bytes, have %d", ErrShortBuffer, what, n, len(b))
	}
	return nil
}

func readPtr(b []byte, off, ptr int) uint64 {
	if ptr == 8 {
		return le.Uint64(b[off:])
	}
	return uint64(le.Uint32(b[off:]))
}

// alignUp rounds off up to a multiple of a.
func alignUp(off, a int) int {
	return (off + a - 1) &^ (a - 1)
}

// EncodeUTF16Z encodes s as a NUL-terminated little-endian UTF-16 string, the
// form wide-character OS entry points expect in a remote buffer.
func EncodeUTF16Z(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, (len(units)+1)*2)
	for i, u := range units {
		le.PutUint16(out[i*2:], u)
	}
	return out
}

// DecodeUTF16Z decodes a little-endian UTF-16 buffer up to the first NUL.
func DecodeUTF16Z(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := le.Uint16(b[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}
