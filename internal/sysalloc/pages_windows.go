//go:build windows

package sysalloc

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// pageSize returns the size of an OS page.
func pageSize() uintptr {
	return uintptr(windows.Getpagesize())
}

// pageMap commits size bytes of fresh pages. size must be a multiple of
// the page size.
func pageMap(size uintptr) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, size,
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

// pageUnmap releases a mapping obtained from pageMap.
func pageUnmap(backing []byte) error {
	return windows.VirtualFree(uintptr(unsafe.Pointer(&backing[0])), 0, windows.MEM_RELEASE)
}
