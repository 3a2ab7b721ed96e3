package layout

import (
	"fmt"
)

// CallFrameSize is the encoded size of a CallFrame.
const CallFrameSize = 24

// CallFrameMagic tags every frame written into a target process ("IVWD").
const CallFrameMagic uint32 = 0x44575649

// ABIVersion is bumped whenever the frame layout or the meaning of an entry
// point changes. The payload refuses frames of any other version.
const ABIVersion uint32 = 1

// Result codes returned by payload entry points as the remote thread's exit
// code.
const (
	ResultFalse           uint32 = 0
	ResultTrue            uint32 = 1
	ResultBadFrame        uint32 = 0x49560001
	ResultVersionMismatch uint32 = 0x49560002
)

// CallFrame is the argument block passed to a payload entry point. It is
// copied into the target process and its address becomes the remote thread
// parameter.
//
//	offset  size  field
//	0       4     magic
//	4       4     ABI version
//	8       8     window handle
//	16      4     argument (0 or 1)
//	20      4     reserved, zero
type CallFrame struct {
	Version uint32
	Handle  uint64
	Arg     uint32
}

// NewCallFrame builds a frame for the current ABI version.
func NewCallFrame(handle uintptr, arg bool) CallFrame {
	f := CallFrame{Version: ABIVersion, Handle: uint64(handle)}
	if arg {
		f.Arg = 1
	}
	return f
}

// Encode serializes the frame.
func (f CallFrame) Encode() []byte {
	b := make([]byte, CallFrameSize)
	le.PutUint32(b[0:], CallFrameMagic)
	le.PutUint32(b[4:], f.Version)
	le.PutUint64(b[8:], f.Handle)
	le.PutUint32(b[16:], f.Arg)
	return b
}

// Flag returns the boolean argument carried by the frame.
func (f CallFrame) Flag() bool {
	return f.Arg != 0
}

// DecodeCallFrame parses a frame. The version is returned as found so the
// caller can report a mismatch distinctly from corruption.
func DecodeCallFrame(b []byte) (CallFrame, error) {
	if err := need(b, CallFrameSize, "call frame"); err != nil {
		return CallFrame{}, err
	}
	if magic := le.Uint32(b[0:]); magic != CallFrameMagic {
		return CallFrame{}, fmt.Errorf("layout: bad call frame magic %#x", magic)
	}
	f := CallFrame{
		Version: le.Uint32(b[4:]),
		Handle:  le.Uint64(b[8:]),
		Arg:     le.Uint32(b[16:]),
	}
	if f.Arg > 1 {
		return CallFrame{}, fmt.Errorf("layout: call frame argument %d out of range", f.Arg)
	}
	return f, nil
}
