//go:build windows

package shutdownevent

import (
	"golang.org/x/sys/windows"
)

// On Windows the event is a real named kernel event in the Global
// namespace, manual-reset and initially non-signaled. Children open it
// by the name exported via SHUTDOWN_EVENT and wait on the handle.
type winEvent struct {
	handle windows.Handle
}

func create(name string) (platformEvent, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	// manualReset=1, initialState=0
	handle, err := windows.CreateEvent(nil, 1, 0, namePtr)
	if err != nil {
		return nil, err
	}
	// CreateEvent may have opened a pre-existing event of the same
	// name; a stale signal must not look like a shutdown request.
	windows.ResetEvent(handle)
	return &winEvent{handle: handle}, nil
}

func (e *winEvent) Set() error {
	return windows.SetEvent(e.handle)
}

func (e *winEvent) Reset() error {
	return windows.ResetEvent(e.handle)
}

func (e *winEvent) Close() error {
	if e.handle == 0 {
		return nil
	}
	windows.ResetEvent(e.handle)
	err := windows.CloseHandle(e.handle)
	e.handle = 0
	return err
}

// IsSet reports whether the named event is signaled.
func IsSet(name string) bool {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return false
	}
	handle, err := windows.OpenEvent(windows.SYNCHRONIZE, false, namePtr)
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	status, err := windows.WaitForSingleObject(handle, 0)
	return err == nil && status == windows.WAIT_OBJECT_0
}
