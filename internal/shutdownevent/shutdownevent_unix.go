//go:build !windows

package shutdownevent

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// On POSIX systems the event is a marker file in the system temp
// directory: present means signaled. The file carries the supervisor
// pid for the curious. State persists across observers and is visible
// to any process, which is exactly the manual-reset contract; children
// poll for the path named by SHUTDOWN_EVENT.
type fileEvent struct {
	path string
}

func create(name string) (platformEvent, error) {
	e := &fileEvent{path: EventPath(name)}
	// A leftover marker from a crashed run must not look signaled.
	if err := e.Reset(); err != nil {
		return nil, err
	}
	return e, nil
}

// EventPath maps an event name to its marker file path.
func EventPath(name string) string {
	// The name is generated from alphanumerics plus the fixed prefix;
	// the backslash in "Global\" is the only separator-ish byte.
	clean := strings.ReplaceAll(name, "\\", ".")
	return filepath.Join(os.TempDir(), clean)
}

func (e *fileEvent) Set() error {
	return os.WriteFile(e.path, []byte("svcwatchdog "+strconv.Itoa(os.Getpid())), 0o644)
}

func (e *fileEvent) Reset() error {
	err := os.Remove(e.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (e *fileEvent) Close() error {
	return e.Reset()
}

// IsSet reports whether the named event is signaled. This is the
// child-side primitive; it exists here for tests and for Go children
// that import the package.
func IsSet(name string) bool {
	_, err := os.Stat(EventPath(name))
	return err == nil
}
