package ntfs

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/joshuapare/ntfskit/internal/format"
)

// Volume is a mounted filesystem: validated geometry, both allocators, the
// decoded system tables and handles on every system file the engine keeps
// open. Constructed only by Mount; zero Volumes are not usable.
type Volume struct {
	mu     sync.Mutex
	closed bool

	// bootstrapped flips once Mount finishes; Close skips write-back for
	// partially constructed volumes it unwinds.
	bootstrapped bool

	dev  Device
	wdev WritableDevice // nil on read-only mounts
	g    *Geometry
	opts MountOptions
	log  *slog.Logger

	mft      *mft
	mftBmp   *Bitmap // record-slot bitmap ($MFT's $BITMAP)
	used     *Bitmap // cluster bitmap ($Bitmap's $DATA)
	mirror   *File
	recsMirr uint64 // records the mirror covers

	logFile  *File
	volFile  *File
	volInfo  format.VolumeInfo
	label    string
	bmpFile  *File
	defTable []format.AttrDefEntry

	upcase       []uint16
	upcaseShared bool
	shared       *SharedTables

	// reparseMax is $AttrDef's cap on reparse payloads (default when the
	// table carries no 0xC0 row).
	reparseMax uint64

	badClusters uint64

	// noDiscard latches after the device rejects a discard.
	noDiscard bool

	// NTFS 3.x extras; nil when the loader degraded or the volume is 1.x.
	secure  *File
	extend  *File
	objid   *File
	reparse *File
	quota   *File

	root *File
}

// Geometry returns the immutable volume geometry.
func (v *Volume) Geometry() *Geometry { return v.g }

// Label returns the decoded volume label (may be empty).
func (v *Volume) Label() string { return v.label }

// Version returns the on-disk NTFS version.
func (v *Volume) Version() (major, minor uint8) {
	return v.volInfo.MajorVer, v.volInfo.MinorVer
}

// Serial formats the volume serial number as a UUID-style identifier so
// callers get a stable printable form.
func (v *Volume) Serial() uuid.UUID {
	var raw [16]byte
	format.PutU64(raw[:], 0, v.g.SerialNumber)
	format.PutU64(raw[:], 8, v.g.SerialNumber)
	return uuid.UUID(raw)
}

// ReadOnly reports whether write-back is disabled (option or RAW degrade).
func (v *Volume) ReadOnly() bool { return v.wdev == nil }

// Dirty reports the persisted unclean-unmount bit as currently held.
func (v *Volume) Dirty() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.volInfo.Dirty()
}

// ClusterBitmap exposes the cluster allocator.
func (v *Volume) ClusterBitmap() *Bitmap { return v.used }

// RecordBitmap exposes the MFT record-slot allocator.
func (v *Volume) RecordBitmap() *Bitmap { return v.mftBmp }

// MFTRecords returns the table capacity in records.
func (v *Volume) MFTRecords() uint64 { return v.mft.Records() }

// MFTRecordsUsed returns the initialized-record watermark: the prefix of
// the table that has ever held records.
func (v *Volume) MFTRecordsUsed() uint64 { return v.mft.UsedRecords() }

// Upcase returns the active case-folding table (always 64K entries).
func (v *Volume) Upcase() []uint16 { return v.upcase }

// UpcaseChar folds one UTF-16 code unit.
func (v *Volume) UpcaseChar(c uint16) uint16 { return v.upcase[c] }

// Root returns the root directory's system-file handle.
func (v *Volume) Root() *File { return v.root }

// BadClusters returns the count of clusters $BadClus has taken out of use.
func (v *Volume) BadClusters() uint64 { return v.badClusters }

// AttrDef returns the $AttrDef row for an attribute type, if present.
func (v *Volume) AttrDef(typ uint32) (format.AttrDefEntry, bool) {
	for _, e := range v.defTable {
		if e.Type == typ {
			return e, true
		}
	}
	return format.AttrDefEntry{}, false
}

// MaxReparseSize returns the active cap on reparse-point payloads.
func (v *Volume) MaxReparseSize() uint64 { return v.reparseMax }

// NewRecord returns a copy of the pre-stamped empty FILE record.
func (v *Volume) NewRecord() []byte {
	rec := make([]byte, len(v.g.NewRecord))
	copy(rec, v.g.NewRecord)
	return rec
}

// LoadRecord loads an arbitrary MFT record (fixups verified). The sequence
// is not checked; callers resolving references pass their expected value to
// LoadRecordRef.
func (v *Volume) LoadRecord(n uint64) (*File, error) {
	if err := v.alive(); err != nil {
		return nil, err
	}
	return v.mft.LoadRecord(n, 0)
}

// LoadRecordRef loads a record and enforces the reference's sequence.
func (v *Volume) LoadRecordRef(n uint64, seq uint16) (*File, error) {
	if err := v.alive(); err != nil {
		return nil, err
	}
	return v.mft.LoadRecord(n, seq)
}

func (v *Volume) alive() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	return nil
}

// AllocateClusters reserves count contiguous clusters near hint.
func (v *Volume) AllocateClusters(count, hint uint64) (uint64, error) {
	if err := v.alive(); err != nil {
		return 0, err
	}
	if v.wdev == nil {
		return 0, fmt.Errorf("volume: read-only: %w", ErrUnsupported)
	}
	return v.used.Allocate(count, hint)
}

// FreeClusters returns a run to the free pool and, when enabled, forwards
// it to the device as a discard.
func (v *Volume) FreeClusters(start, count uint64) error {
	if err := v.alive(); err != nil {
		return err
	}
	if v.wdev == nil {
		return fmt.Errorf("volume: read-only: %w", ErrUnsupported)
	}
	if err := v.used.Free(start, count); err != nil {
		return err
	}
	if err := v.discardClusters(start, count); err != nil && !errors.Is(err, ErrUnsupported) {
		v.log.Warn("discard failed", "lcn", start, "clusters", count, "err", err)
	}
	return nil
}

// setVolumeFlags rewrites the VOLUME_INFORMATION flags inside the in-memory
// $Volume record and persists the record. The attribute view aliases the
// record buffer, so the edit lands in place.
func (v *Volume) setVolumeFlags(set, clear uint16) error {
	if v.wdev == nil {
		return fmt.Errorf("volume: read-only: %w", ErrUnsupported)
	}
	a, err := v.volFile.Attr(format.AttrVolInfo, "")
	if err != nil {
		return fmt.Errorf("volume: %w: %w", err, ErrInvalidFormat)
	}
	flags := v.volInfo.Flags&^clear | set
	format.PutU16(a.Raw, int(a.ValueOff)+format.VolInfoFlagsOffset, flags)
	if err := v.mft.WriteRecord(v.wdev, format.RecVol, v.volFile.rec, v.volFile.usn); err != nil {
		return err
	}
	v.volFile.usn++
	v.volInfo.Flags = flags
	return nil
}

// MarkDirty persists the unclean-state bit. Done once before the first
// metadata mutation; a crash afterwards leaves the flag for the next mount
// to see.
func (v *Volume) MarkDirty() error {
	if err := v.alive(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.volInfo.Dirty() {
		return nil
	}
	return v.setVolumeFlags(format.VolumeFlagDirty, 0)
}

// MarkClean clears the unclean-state bit after all metadata is durable.
func (v *Volume) MarkClean() error {
	if err := v.alive(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.wdev == nil {
		return fmt.Errorf("volume: read-only: %w", ErrUnsupported)
	}
	if !v.volInfo.Dirty() {
		return nil
	}
	if err := v.wdev.Sync(); err != nil {
		return fmt.Errorf("volume: sync before clean: %w", err)
	}
	return v.setVolumeFlags(0, format.VolumeFlagDirty)
}

// SyncMirror copies the first recsMirr MFT records, raw with their on-disk
// fixups, over the mirror's extents.
func (v *Volume) SyncMirror() error {
	if err := v.alive(); err != nil {
		return err
	}
	if v.wdev == nil {
		return fmt.Errorf("volume: read-only: %w", ErrUnsupported)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.syncMirrorLocked()
}

func (v *Volume) syncMirrorLocked() error {
	rec := make([]byte, v.g.RecordSize)
	for n := uint64(0); n < v.recsMirr; n++ {
		if err := v.mft.ReadRecordRaw(n, rec); err != nil {
			return fmt.Errorf("mirror: read record %d: %w", n, err)
		}
		err := runApply(v.mirror.runs, v.g.ClusterBits, n<<v.g.RecordBits, rec, func(chunk []byte, lbo uint64) error {
			_, werr := v.wdev.WriteAt(chunk, int64(lbo))
			return werr
		})
		if err != nil {
			return fmt.Errorf("mirror: write record %d: %w", n, err)
		}
	}
	return nil
}

// Sync flushes the cluster bitmap, the mirror and the device.
func (v *Volume) Sync() error {
	if err := v.alive(); err != nil {
		return err
	}
	if v.wdev == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	var errs []error
	if err := v.flushClusterBitmapLocked(); err != nil {
		errs = append(errs, err)
	}
	if err := v.syncMirrorLocked(); err != nil {
		errs = append(errs, err)
	}
	if err := v.wdev.Sync(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// flushClusterBitmapLocked writes the in-memory cluster bitmap back over
// $Bitmap's extents.
func (v *Volume) flushClusterBitmapLocked() error {
	data := v.used.Bytes()
	err := runApply(v.bmpFile.runs, v.g.ClusterBits, 0, data, func(chunk []byte, lbo uint64) error {
		_, werr := v.wdev.WriteAt(chunk, int64(lbo))
		return werr
	})
	if err != nil {
		return fmt.Errorf("bitmap: write back: %w", err)
	}
	return nil
}

// Close releases everything Mount acquired, in reverse order of
// acquisition: write-back first (mirror, bitmap, clean flag), then the
// shared upcase reference and the decoded tables, then the system-file
// handles, the volume-information holder last. Idempotent; errors from
// every step are joined.
func (v *Volume) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	var errs []error
	if v.wdev != nil && v.bootstrapped {
		if err := v.flushClusterBitmapLocked(); err != nil {
			errs = append(errs, err)
		}
		if err := v.syncMirrorLocked(); err != nil {
			errs = append(errs, err)
		}
		if v.volInfo.Dirty() {
			if err := v.wdev.Sync(); err != nil {
				errs = append(errs, err)
			} else if err := v.setVolumeFlags(0, format.VolumeFlagDirty); err != nil {
				errs = append(errs, err)
			}
		}
		if err := v.wdev.Sync(); err != nil {
			errs = append(errs, err)
		}
	}

	v.g.NewRecord = nil
	if v.upcase != nil {
		if v.upcaseShared {
			v.shared.Release(v.upcase)
		}
		v.upcase = nil
	}
	v.defTable = nil
	v.used = nil
	v.mftBmp = nil

	v.root = nil
	v.quota = nil
	v.reparse = nil
	v.objid = nil
	v.extend = nil
	v.secure = nil
	v.logFile = nil
	v.bmpFile = nil
	v.mirror = nil
	v.mft = nil
	v.volFile = nil

	if c, ok := v.dev.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
