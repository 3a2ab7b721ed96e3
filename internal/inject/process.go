package inject

import (
	"sync"

	"github.com/invisiwind/invisiwind/internal/errors"
)

// ProcessRef is an owned reference to a live process. Once Close is called,
// or once the process exits, every operation through it fails with a
// ProcessNotFound error.
type ProcessRef struct {
	pid  uint32
	proc Process

	mu     sync.Mutex
	closed bool
}

// PID returns the process id the reference was opened for.
func (r *ProcessRef) PID() uint32 {
	return r.pid
}

// Close releases the underlying handle. It is safe to call more than once.
func (r *ProcessRef) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.proc.Close()
}

// live returns the process if the reference is still valid.
func (r *ProcessRef) live(op string) (Process, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()

	if closed {
		return nil, errors.ForProcess(op, errors.KindProcessNotFound, r.pid, nil).
			WithContext("reason", "reference released")
	}
	if !r.proc.Alive() {
		return nil, errors.ForProcess(op, errors.KindProcessNotFound, r.pid, nil).
			WithContext("reason", "process exited")
	}
	return r.proc, nil
}

// classify wraps err from a step on proc. Errors the platform already
// classified pass through; otherwise a dead target becomes ProcessNotFound
// and anything else gets the fallback kind.
func classify(op string, pid uint32, proc Process, err error, fallback errors.Kind) error {
	if errors.KindOf(err) != errors.KindUnknown {
		return err
	}
	if proc != nil && !proc.Alive() {
		return errors.ForProcess(op, errors.KindProcessNotFound, pid, err)
	}
	return errors.ForProcess(op, fallback, pid, err)
}
