//go:build !unix

// Package mmfile provides platform-specific helpers for memory-mapping
// volume images and flushing dirty pages back to disk.
package mmfile

import "os"

// Map reads the entire file when mmap is not available. Writable mappings
// are not supported on this platform; callers fall back to read-only use.
func Map(path string, writable bool) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, func() error { return nil }, err
	}
	return data, func() error { return nil }, nil
}

// Sync is a no-op without a real mapping.
func Sync(data []byte, off, length int) error { return nil }
