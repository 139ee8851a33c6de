//go:build unix

package sysalloc

import (
	"golang.org/x/sys/unix"
)

// pageSize returns the size of an OS page.
func pageSize() uintptr {
	return uintptr(unix.Getpagesize())
}

// pageMap maps size bytes of fresh anonymous pages. size must be a
// multiple of the page size.
func pageMap(size uintptr) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
}

// pageUnmap returns a mapping obtained from pageMap to the OS.
func pageUnmap(backing []byte) error {
	return unix.Munmap(backing)
}
