package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/invisiwind/invisiwind/internal/config"
	"github.com/invisiwind/invisiwind/internal/errors"
	"github.com/invisiwind/invisiwind/internal/inject"
	"github.com/invisiwind/invisiwind/internal/process"
	"github.com/invisiwind/invisiwind/internal/visibility"
	"github.com/invisiwind/invisiwind/internal/window"
)

func newService(cfg *config.Config) *visibility.Service {
	return visibility.NewSystem(inject.Payloads{
		Dir:         cfg.Payload.Dir,
		Development: cfg.Payload.Development,
	})
}

func newFinder() *process.Finder {
	return process.NewFinder(process.NewSnapshotter())
}

func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// taskbarSetting decides the hideFromTaskbar argument of a Hide or Show.
// An explicit --taskbar flag wins. Otherwise the configured default applies:
// Hide hides the taskbar entry and Show restores it. Nil leaves the taskbar
// untouched.
func taskbarSetting(flags *pflag.FlagSet, hide, configured bool) (*bool, error) {
	if flags.Changed("taskbar") {
		v, err := flags.GetBool("taskbar")
		if err != nil {
			return nil, err
		}
		if !hide {
			// on show, --taskbar asks for the entry to be restored
			v = false
		}
		return &v, nil
	}
	if !configured {
		return nil, nil
	}
	v := hide
	return &v, nil
}

// selectWindows returns the windows owned by target, a pid or process name,
// or the single window when target is a handle given with --hwnd.
func selectWindows(records []window.Record, finder *process.Finder, target string, byHandle bool) ([]window.Record, error) {
	if byHandle {
		h, err := window.ParseHandle(target)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if rec.Handle == h {
				return []window.Record{rec}, nil
			}
		}
		return nil, fmt.Errorf("no top-level window with handle %s", h)
	}

	pids, err := finder.Resolve(target)
	if err != nil {
		return nil, err
	}
	owners := make(map[uint32]bool, len(pids))
	for _, pid := range pids {
		owners[pid] = true
	}

	var selected []window.Record
	for _, rec := range records {
		if owners[rec.PID] {
			selected = append(selected, rec)
		}
	}
	if len(selected) == 0 {
		return nil, errors.New("select_windows", errors.KindProcessNotFound, nil).
			WithContext("target", target).
			WithContext("reason", "process has no visible top-level windows")
	}
	return selected, nil
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// describe renders an error for the terminal, adding a hint for
// installation problems.
func describe(err error) string {
	msg := err.Error()
	if errors.IsConfiguration(err) {
		msg += "\n  hint: check that the payload DLLs are installed next to invisiwind.exe (or set payload.dir)"
	}
	if errors.IsAccessDenied(err) {
		msg += "\n  hint: the target may run elevated; try again from an administrator prompt"
	}
	return strings.TrimSpace(msg)
}

var stdout io.Writer = os.Stdout
