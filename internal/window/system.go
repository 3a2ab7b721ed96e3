package window

// System defines the window-manager queries the enumerator depends on.
// The Windows implementation talks to user32 and dwmapi; tests substitute a
// fake.
type System interface {
	// TopLevelWindows returns the handles of all top-level windows.
	TopLevelWindows() ([]Handle, error)

	// IsVisible reports the window's visible style.
	IsVisible(h Handle) bool

	// IsCloaked reports whether the compositor hides the window despite it
	// being visible, such as windows on another virtual desktop.
	IsCloaked(h Handle) (bool, error)

	// Title returns at most max UTF-16 units of the window title.
	Title(h Handle, max int) (string, error)

	// DisplayAffinity returns the window's capture display affinity.
	DisplayAffinity(h Handle) (uint32, error)

	// ProcessID returns the id of the process that owns the window.
	ProcessID(h Handle) (uint32, error)
}
