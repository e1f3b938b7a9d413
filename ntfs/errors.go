package ntfs

import "errors"

// The mount path exposes a small closed set of error kinds. Callers match
// with errors.Is; every error carries wrapped context describing the step
// that failed.
var (
	// ErrInvalidFormat indicates a boot-sector or system-file structural
	// invariant was violated. Always fatal to the mount.
	ErrInvalidFormat = errors.New("ntfs: invalid on-disk structure")

	// ErrWouldLoseData indicates the volume is dirty or its journal holds
	// unreplayed records, and mounting read-write would discard them.
	// Read-only mounts (or force, for the dirty flag) proceed.
	ErrWouldLoseData = errors.New("ntfs: mounting would lose data")

	// ErrNoMemory indicates a bootstrap buffer exceeded its sanity cap.
	// On-disk sizes drive allocations here, so a hostile image must not be
	// able to request arbitrary amounts of memory.
	ErrNoMemory = errors.New("ntfs: allocation over sanity limit")

	// ErrUnsupported indicates an optional feature is unavailable, either
	// because its loader degraded at mount time or because the device
	// lacks the primitive (discard).
	ErrUnsupported = errors.New("ntfs: unsupported")

	// ErrNoSpace indicates no free run of the requested length exists.
	ErrNoSpace = errors.New("ntfs: no space")

	// ErrClosed indicates use after Close.
	ErrClosed = errors.New("ntfs: volume closed")
)
