package ntfs

import (
	"io"
	"log/slog"
)

// MountOptions controls a single Mount call. The identity and locale fields
// are not interpreted by the mount path; they are threaded through to the
// file-operation layer unchanged.
type MountOptions struct {
	// ReadOnly mounts without any write-back (no dirty-flag updates, no
	// mirror sync). A RAW volume (device smaller than the filesystem)
	// forces this on with a warning.
	ReadOnly bool

	// Force permits a read-write mount of a volume whose dirty flag is
	// still set from an unclean unmount.
	Force bool

	// Discard enables TRIM issuance on freed cluster ranges.
	Discard bool

	// DiscardGranularity is the smallest discard unit, in bytes. Zero
	// disables discard regardless of the Discard flag.
	DiscardGranularity uint32

	// Identity mapping applied by the file-operation layer.
	UID, GID uint32

	// Permission masks (inverted umask semantics) for files/directories.
	FileMask, DirMask uint32

	// NoHidden, ShowMeta and Prealloc are file-operation policies carried
	// through the volume untouched.
	NoHidden bool
	ShowMeta bool
	Prealloc bool

	// Locale names the codepage for 8-bit name conversion downstream.
	Locale string

	// Logger receives the mount-time warnings (RAW volume, bad blocks,
	// refusal reasons). Nil discards them.
	Logger *slog.Logger

	// Shared is the registry used to deduplicate upcase tables across
	// volumes. Nil uses the process-wide default.
	Shared *SharedTables
}

func (o *MountOptions) withDefaults() MountOptions {
	var out MountOptions
	if o != nil {
		out = *o
	}
	if out.Logger == nil {
		out.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if out.Shared == nil {
		out.Shared = defaultShared
	}
	return out
}
