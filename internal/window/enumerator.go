package window

import (
	"github.com/invisiwind/invisiwind/internal/errors"
	"github.com/invisiwind/invisiwind/internal/logger"
)

// Enumerator walks top-level windows and keeps those worth showing to the
// user: visible, not cloaked, titled, and owned by a resolvable process.
type Enumerator struct {
	sys System
}

// NewEnumerator creates an enumerator over sys.
func NewEnumerator(sys System) *Enumerator {
	return &Enumerator{sys: sys}
}

// Enumerate returns a fresh snapshot. A failing query on one window skips
// only that window; the error return is reserved for failing to list windows
// at all.
func (e *Enumerator) Enumerate() ([]Record, error) {
	log := logger.WithComponent("window")

	handles, err := e.sys.TopLevelWindows()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(handles))
	for _, h := range handles {
		rec, ok, err := e.classify(h)
		if err != nil {
			log.Debug().
				Err(errors.ForWindow("classify_window", errors.KindAttributeQueryFailed, 0, uintptr(h), err)).
				Str("hwnd", h.String()).
				Msg("Skipping window")
			continue
		}
		if ok {
			records = append(records, rec)
		}
	}

	log.Debug().
		Int("top_level", len(handles)).
		Int("kept", len(records)).
		Msg("Enumerated windows")
	return records, nil
}

// classify applies the filters in order. ok is false for windows that are
// filtered out without an error.
func (e *Enumerator) classify(h Handle) (Record, bool, error) {
	if !e.sys.IsVisible(h) {
		return Record{}, false, nil
	}

	cloaked, err := e.sys.IsCloaked(h)
	if err != nil {
		return Record{}, false, err
	}
	if cloaked {
		return Record{}, false, nil
	}

	title, err := e.sys.Title(h, MaxTitleLength)
	if err != nil {
		return Record{}, false, err
	}
	title = truncateTitle(title, MaxTitleLength)
	if title == "" {
		return Record{}, false, nil
	}

	affinity, err := e.sys.DisplayAffinity(h)
	if err != nil {
		return Record{}, false, err
	}

	pid, err := e.sys.ProcessID(h)
	if err != nil {
		return Record{}, false, err
	}
	if pid == 0 {
		return Record{}, false, nil
	}

	return Record{
		Handle: h,
		Title:  title,
		PID:    pid,
		Hidden: affinity != affinityNone,
	}, true, nil
}
