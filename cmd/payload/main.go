//go:build windows

// Command payload is built as a c-shared library and loaded into a target
// process. Each exported entry point receives a pointer to a call frame and
// returns its result as the thread exit code.
//
//	GOARCH=amd64 go build -buildmode=c-shared -o invisiwind_payload64.dll ./cmd/payload
//	GOARCH=386   go build -buildmode=c-shared -o invisiwind_payload32.dll ./cmd/payload
package main

import "C"

import (
	"unsafe"

	"github.com/invisiwind/invisiwind/internal/attr"
	"github.com/invisiwind/invisiwind/internal/layout"
)

func frameBytes(frame unsafe.Pointer) []byte {
	if frame == nil {
		return nil
	}
	return unsafe.Slice((*byte)(frame), layout.CallFrameSize)
}

//export SetVisibility
func SetVisibility(frame unsafe.Pointer) uint32 {
	return attr.Dispatch(user32Window{}, attr.EntrySetVisibility, frameBytes(frame))
}

//export SetTaskbarVisibility
func SetTaskbarVisibility(frame unsafe.Pointer) uint32 {
	return attr.Dispatch(user32Window{}, attr.EntrySetTaskbarVisibility, frameBytes(frame))
}

func main() {}
