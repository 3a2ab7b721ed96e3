package inject

import (
	"sync"

	"github.com/invisiwind/invisiwind/internal/layout"
)

// ExportReader parses the export table of an image file on disk. Only the
// payload's machine type is taken from it; entry point addresses come from
// the image mapped in the target.
type ExportReader interface {
	Exports(path string) (*layout.ExportTable, error)
}

// FileExports reads export tables straight from disk.
type FileExports struct{}

// Exports implements ExportReader.
func (FileExports) Exports(path string) (*layout.ExportTable, error) {
	return layout.OpenExports(path)
}

// cachedExports memoizes successful reads.
type cachedExports struct {
	next ExportReader

	mu     sync.Mutex
	tables map[string]*layout.ExportTable
}

func newCachedExports(next ExportReader) *cachedExports {
	return &cachedExports{next: next, tables: make(map[string]*layout.ExportTable)}
}

func (c *cachedExports) Exports(path string) (*layout.ExportTable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tables[path]; ok {
		return t, nil
	}
	t, err := c.next.Exports(path)
	if err != nil {
		return nil, err
	}
	c.tables[path] = t
	return t, nil
}

// remoteImage reads a module's image as it is mapped in the target.
type remoteImage struct {
	proc Process
	base uint64
}

func (r remoteImage) ReadRVA(rva uint32, n int) ([]byte, error) {
	return r.proc.ReadMemory(r.base+uint64(rva), n)
}

// residentExports parses the export table of module m from the target's
// memory.
func residentExports(proc Process, m Module) (*layout.ExportTable, error) {
	return layout.ReadImageExports(remoteImage{proc: proc, base: m.Base})
}
