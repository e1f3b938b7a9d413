//go:build unix

// Package mmfile provides platform-specific helpers for memory-mapping
// volume images and flushing dirty pages back to disk.
package mmfile

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Map maps the file at path into memory and returns its contents. With
// writable set, stores through the returned slice reach the file once
// Sync is called (MAP_SHARED).
func Map(path string, writable bool) ([]byte, func() error, error) {
	flag := os.O_RDONLY
	prot := unix.PROT_READ
	if writable {
		flag = os.O_RDWR
		prot |= unix.PROT_WRITE
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close() // safe before return; mapping keeps pages alive

	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := info.Size()
	if size == 0 {
		return []byte{}, func() error { return nil }, nil
	}
	if size > int64(^uint(0)>>1) {
		return nil, nil, fmt.Errorf("mmfile: file too large to map (%d bytes)", size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error {
		if data == nil {
			return nil
		}
		err := unix.Munmap(data)
		if errors.Is(err, unix.EINVAL) {
			// Treat double-unmap as no-op for callers.
			return nil
		}
		return err
	}
	return data, cleanup, nil
}

// Sync flushes the page-aligned span of a writable mapping covering
// [off, off+length) to its backing file.
func Sync(data []byte, off, length int) error {
	if length == 0 {
		return nil
	}
	page := unix.Getpagesize()
	start := off &^ (page - 1)
	end := (off + length + page - 1) &^ (page - 1)
	if end > len(data) {
		end = len(data)
	}
	if start >= end {
		return nil
	}
	return unix.Msync(data[start:end], unix.MS_SYNC)
}
