package layout

import (
	"bytes"
	"debug/pe"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	exportDirectorySize = 40
	maxExportNameLen    = 512
	maxExportCount      = 1 << 16
	nameChunk           = 64
)

// Offsets into the headers of a mapped image.
const (
	dosLfanewOffset  = 0x3c
	fileHeaderSize   = 20
	optMagicPE32     = 0x10b
	optMagicPE32Plus = 0x20b
	// NumberOfRvaAndSizes, followed by the data directories
	dirCountPE32     = 92
	dirCountPE32Plus = 108
)

// ErrNoExports is returned for images without an export directory.
var ErrNoExports = errors.New("layout: image has no export directory")

// Export is one named entry of a PE export table.
type Export struct {
	Name    string
	Ordinal uint16
	RVA     uint32
	// Forwarded is set when the entry points at another module's export
	// instead of code in this image.
	Forwarded bool
}

// ExportTable is the parsed export directory of one image.
type ExportTable struct {
	Machine uint16
	Exports map[string]Export
}

// Lookup returns the named export.
func (t *ExportTable) Lookup(name string) (Export, bool) {
	e, ok := t.Exports[name]
	return e, ok
}

// Image reads bytes at relative virtual addresses of a mapped image.
type Image interface {
	ReadRVA(rva uint32, n int) ([]byte, error)
}

// OpenExports parses the export table of the PE file at path.
func OpenExports(path string) (*ExportTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadExports(f)
}

// ReadExports parses the export table of a PE file.
func ReadExports(r io.ReaderAt) (*ExportTable, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("layout: parse PE: %w", err)
	}
	defer f.Close()

	var dir pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes > pe.IMAGE_DIRECTORY_ENTRY_EXPORT {
			dir = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_EXPORT]
		}
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes > pe.IMAGE_DIRECTORY_ENTRY_EXPORT {
			dir = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_EXPORT]
		}
	default:
		return nil, errors.New("layout: PE file has no optional header")
	}

	img, err := newSectionImage(f)
	if err != nil {
		return nil, err
	}
	exports, err := ParseExportDirectory(img, dir.VirtualAddress, dir.Size)
	if err != nil {
		return nil, err
	}
	return &ExportTable{Machine: f.FileHeader.Machine, Exports: exports}, nil
}

// ReadImageExports parses the export table of an image as the loader mapped
// it, starting from the DOS header at RVA 0.
func ReadImageExports(img Image) (*ExportTable, error) {
	dos, err := img.ReadRVA(0, dosLfanewOffset+4)
	if err != nil {
		return nil, fmt.Errorf("layout: read DOS header: %w", err)
	}
	if dos[0] != 'M' || dos[1] != 'Z' {
		return nil, errors.New("layout: image has no MZ signature")
	}
	nt := le.Uint32(dos[dosLfanewOffset:])

	hdr, err := img.ReadRVA(nt, 4+fileHeaderSize+2)
	if err != nil {
		return nil, fmt.Errorf("layout: read NT headers: %w", err)
	}
	if !bytes.Equal(hdr[:4], []byte("PE\x00\x00")) {
		return nil, errors.New("layout: image has no PE signature")
	}
	machine := le.Uint16(hdr[4:])
	optSize := uint32(le.Uint16(hdr[4+16:]))

	var dirCount uint32
	switch magic := le.Uint16(hdr[4+fileHeaderSize:]); magic {
	case optMagicPE32:
		dirCount = dirCountPE32
	case optMagicPE32Plus:
		dirCount = dirCountPE32Plus
	default:
		return nil, fmt.Errorf("layout: unknown optional header magic %#x", magic)
	}
	if optSize < dirCount+12 {
		return nil, ErrNoExports
	}

	d, err := img.ReadRVA(nt+4+fileHeaderSize+dirCount, 12)
	if err != nil {
		return nil, fmt.Errorf("layout: read data directories: %w", err)
	}
	if le.Uint32(d) <= pe.IMAGE_DIRECTORY_ENTRY_EXPORT {
		return nil, ErrNoExports
	}
	exports, err := ParseExportDirectory(img, le.Uint32(d[4:]), le.Uint32(d[8:]))
	if err != nil {
		return nil, err
	}
	return &ExportTable{Machine: machine, Exports: exports}, nil
}

// ParseExportDirectory walks the IMAGE_EXPORT_DIRECTORY at dirRVA and returns
// its named exports. Entries exported only by ordinal are skipped.
func ParseExportDirectory(img Image, dirRVA, dirSize uint32) (map[string]Export, error) {
	if dirRVA == 0 || dirSize == 0 {
		return nil, ErrNoExports
	}
	d, err := img.ReadRVA(dirRVA, exportDirectorySize)
	if err != nil {
		return nil, fmt.Errorf("layout: read export directory: %w", err)
	}

	ordinalBase := le.Uint32(d[16:])
	numFunctions := le.Uint32(d[20:])
	numNames := le.Uint32(d[24:])
	functionsRVA := le.Uint32(d[28:])
	namesRVA := le.Uint32(d[32:])
	ordinalsRVA := le.Uint32(d[36:])

	if numFunctions > maxExportCount || numNames > maxExportCount {
		return nil, fmt.Errorf("layout: export directory too large (%d functions, %d names)", numFunctions, numNames)
	}
	if numNames > numFunctions {
		return nil, fmt.Errorf("layout: export directory has %d names for %d functions", numNames, numFunctions)
	}

	exports := make(map[string]Export, numNames)
	if numNames == 0 {
		return exports, nil
	}

	functions, err := img.ReadRVA(functionsRVA, int(numFunctions)*4)
	if err != nil {
		return nil, fmt.Errorf("layout: read export functions: %w", err)
	}
	names, err := img.ReadRVA(namesRVA, int(numNames)*4)
	if err != nil {
		return nil, fmt.Errorf("layout: read export names: %w", err)
	}
	ordinals, err := img.ReadRVA(ordinalsRVA, int(numNames)*2)
	if err != nil {
		return nil, fmt.Errorf("layout: read export ordinals: %w", err)
	}

	for i := uint32(0); i < numNames; i++ {
		index := le.Uint16(ordinals[i*2:])
		if uint32(index) >= numFunctions {
			return nil, fmt.Errorf("layout: export ordinal index %d out of range", index)
		}
		name, err := readCString(img, le.Uint32(names[i*4:]))
		if err != nil {
			return nil, fmt.Errorf("layout: read export name %d: %w", i, err)
		}
		rva := le.Uint32(functions[uint32(index)*4:])
		exports[name] = Export{
			Name:      name,
			Ordinal:   uint16(ordinalBase + uint32(index)),
			RVA:       rva,
			Forwarded: rva >= dirRVA && rva < dirRVA+dirSize,
		}
	}
	return exports, nil
}

// readCString reads in chunks, dropping to single bytes where a chunk would
// run past the end of the image.
func readCString(img Image, rva uint32) (string, error) {
	buf := make([]byte, 0, 32)
	for len(buf) < maxExportNameLen {
		at := rva + uint32(len(buf))
		chunk, err := img.ReadRVA(at, nameChunk)
		if err != nil {
			if chunk, err = img.ReadRVA(at, 1); err != nil {
				return "", err
			}
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			return string(append(buf, chunk[:i]...)), nil
		}
		buf = append(buf, chunk...)
	}
	return "", fmt.Errorf("name exceeds %d bytes", maxExportNameLen)
}

type mappedSection struct {
	va   uint32
	size uint32
	data []byte
}

// sectionImage maps RVAs onto the raw section data of a PE file. Bytes past a
// section's raw data but inside its virtual size read as zero, as they would
// once the loader maps the image.
type sectionImage struct {
	sections []mappedSection
}

func newSectionImage(f *pe.File) (*sectionImage, error) {
	img := &sectionImage{}
	for _, s := range f.Sections {
		data, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("layout: read section %s: %w", s.Name, err)
		}
		size := s.VirtualSize
		if size == 0 {
			size = s.Size
		}
		img.sections = append(img.sections, mappedSection{va: s.VirtualAddress, size: size, data: data})
	}
	return img, nil
}

func (img *sectionImage) ReadRVA(rva uint32, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative read length %d", n)
	}
	for _, s := range img.sections {
		if rva < s.va || rva-s.va >= s.size {
			continue
		}
		off := uint64(rva - s.va)
		if off+uint64(n) > uint64(s.size) {
			return nil, fmt.Errorf("rva %#x+%d crosses the end of its section", rva, n)
		}
		out := make([]byte, n)
		if off < uint64(len(s.data)) {
			copy(out, s.data[off:])
		}
		return out, nil
	}
	return nil, fmt.Errorf("rva %#x is not inside any section", rva)
}
