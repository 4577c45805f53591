//go:build windows

package proc

import (
	"syscall"
	"time"
	"unsafe"
)

// StartTime reports the process creation time via GetProcessTimes.
func (platformHandler) StartTime(pid int) (time.Time, bool) {
	if pid <= 0 {
		return time.Time{}, false
	}
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return time.Time{}, false
	}
	defer func() { _ = syscall.CloseHandle(h) }()

	var creation, exit, kernel, user syscall.Filetime
	procGetTimes := kernel32.NewProc("GetProcessTimes")
	ret, _, _ := procGetTimes.Call(uintptr(h),
		uintptr(unsafe.Pointer(&creation)), uintptr(unsafe.Pointer(&exit)),
		uintptr(unsafe.Pointer(&kernel)), uintptr(unsafe.Pointer(&user)))
	if ret == 0 {
		return time.Time{}, false
	}
	// FILETIME is 100-ns intervals since 1601-01-01 UTC.
	const ticksPerSecond = 10000000
	const epochDiff = 11644473600
	ft := (uint64(creation.HighDateTime) << 32) | uint64(creation.LowDateTime)
	secs := int64(ft/ticksPerSecond) - epochDiff
	if secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}
