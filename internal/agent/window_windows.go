//go:build windows

package agent

import (
	"context"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                   = windows.NewLazySystemDLL("user32.dll")
	procGetForegroundWindow  = user32.NewProc("GetForegroundWindow")
	procGetWindowTextLengthW = user32.NewProc("GetWindowTextLengthW")
	procGetWindowTextW       = user32.NewProc("GetWindowTextW")
)

func windowProvider() Capability[TextProvider] {
	for _, p := range []*windows.LazyProc{procGetForegroundWindow, procGetWindowTextLengthW, procGetWindowTextW} {
		if err := p.Find(); err != nil {
			return Unavailable[TextProvider]()
		}
	}
	return Available[TextProvider](TextFunc(foregroundWindowTitle))
}

// foregroundWindowTitle returns "" when no window has focus (locked
// workstation, secure desktop).
func foregroundWindowTitle(context.Context) (string, error) {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return "", nil
	}
	n, _, _ := procGetWindowTextLengthW.Call(hwnd)
	if n == 0 {
		return "", nil
	}
	buf := make([]uint16, n+1)
	copied, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if copied == 0 {
		return "", nil
	}
	return windows.UTF16ToString(buf[:copied]), nil
}
