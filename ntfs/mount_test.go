package ntfs

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/ntfskit/internal/format"
)

func mountImage(t *testing.T, img *MemDevice, opts *MountOptions) *Volume {
	t.Helper()
	v, err := Mount(img, opts)
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return v
}

func TestMount_OK(t *testing.T) {
	img := buildImage(t, defaultImage())
	v := mountImage(t, img, nil)

	assert.False(t, v.ReadOnly())
	assert.False(t, v.Dirty())
	assert.Equal(t, "Test", v.Label())
	major, minor := v.Version()
	assert.Equal(t, uint8(3), major)
	assert.Equal(t, uint8(1), minor)

	want := uuid.UUID{
		0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11,
		0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11,
	}
	assert.Equal(t, want, v.Serial())

	g := v.Geometry()
	assert.Equal(t, uint32(4096), g.ClusterSize)
	assert.Equal(t, uint64(tiClusters), g.Clusters)
	assert.Equal(t, uint32(tiRecordSize), g.RecordSize)

	// Cluster accounting per the layout table.
	assert.Equal(t, uint64(42), v.ClusterBitmap().Used())
	assert.Equal(t, uint64(21), v.ClusterBitmap().Zeroes())

	// MFT zone: first free run after the MFT's last cluster.
	zs, ze := v.ClusterBitmap().Zone()
	assert.Equal(t, uint64(11), zs)
	assert.Equal(t, uint64(16), ze)

	// Record slots 0-14 in use out of 16.
	assert.Equal(t, uint64(16), v.RecordBitmap().Size())
	assert.Equal(t, uint64(15), v.RecordBitmap().Used())

	// The whole table is initialized.
	assert.Equal(t, uint64(16), v.MFTRecords())
	assert.Equal(t, uint64(16), v.MFTRecordsUsed())

	// Mirror covers one whole cluster of records.
	assert.Equal(t, uint64(4), v.recsMirr)

	assert.Equal(t, uint64(0), v.BadClusters())

	require.NotNil(t, v.Root())
	assert.True(t, v.Root().Header().IsDir())
}

func TestMount_AttrDefTable(t *testing.T) {
	v := mountImage(t, buildImage(t, defaultImage()), nil)

	e, ok := v.AttrDef(format.AttrReparse)
	require.True(t, ok)
	assert.Equal(t, uint64(0x4000), e.MaxSz)
	assert.Equal(t, uint64(0x4000), v.MaxReparseSize())

	_, ok = v.AttrDef(format.AttrLoggedUtil)
	assert.True(t, ok, "last valid row survives")

	// The dirty-nibble row and everything after it is truncated away.
	_, ok = v.AttrDef(0x105)
	assert.False(t, ok)
}

func TestMount_AttrDefNonMonotonicTruncates(t *testing.T) {
	// Rows 0x10, 0x30, 0x20: the table keeps the ascending prefix and the
	// mount still succeeds.
	tbl := make([]byte, 3*format.AttrDefEntrySize)
	for i, typ := range []uint32{format.AttrStd, format.AttrName, format.AttrList} {
		format.PutU32(tbl, i*format.AttrDefEntrySize+format.AttrDefTypeOffset, typ)
	}
	o := defaultImage()
	o.attrdef = tbl
	v := mountImage(t, buildImage(t, o), nil)

	_, ok := v.AttrDef(format.AttrStd)
	assert.True(t, ok)
	_, ok = v.AttrDef(format.AttrName)
	assert.True(t, ok)
	_, ok = v.AttrDef(format.AttrList)
	assert.False(t, ok, "out-of-order row truncates the tail")

	// No 0xC0 row: the default reparse cap applies.
	assert.Equal(t, uint64(format.MaxReparseSize), v.MaxReparseSize())
}

func TestMount_Upcase(t *testing.T) {
	v := mountImage(t, buildImage(t, defaultImage()), nil)

	require.Len(t, v.Upcase(), format.UpcaseEntries)
	assert.Equal(t, uint16('A'), v.UpcaseChar('a'))
	assert.Equal(t, uint16('Z'), v.UpcaseChar('z'))
	assert.Equal(t, uint16('Q'), v.UpcaseChar('Q'))
	assert.Equal(t, uint16(0x3000), v.UpcaseChar(0x3000))
}

func TestMount_ExtendFamily(t *testing.T) {
	v := mountImage(t, buildImage(t, defaultImage()), nil)

	require.NotNil(t, v.secure)
	require.NotNil(t, v.extend)
	require.NotNil(t, v.objid)
	require.NotNil(t, v.reparse)
	require.NotNil(t, v.quota)

	id, ok := ObjectID(v.objid)
	require.True(t, ok)
	assert.Equal(t, "11223344-5566-7788-99aa-bbccddeeff00", id.String())

	_, ok = ObjectID(v.quota)
	assert.False(t, ok, "no $OBJECT_ID attribute")
}

func TestMount_V1VolumeSkipsExtendFamily(t *testing.T) {
	o := defaultImage()
	o.major, o.minor = 1, 2
	v := mountImage(t, buildImage(t, o), nil)

	assert.Nil(t, v.secure)
	assert.Nil(t, v.extend)
	assert.Nil(t, v.objid)
}

func TestMount_MFTWatermark(t *testing.T) {
	o := defaultImage()
	o.mutateRecord = func(n int, rec []byte) {
		if n == format.RecMFT {
			// Valid size covers the 15 written records; slot 15 was never
			// initialized.
			format.PutU64(rec, format.RecordHeaderSize+format.AttrNRValidOffset, 15*tiRecordSize)
		}
	}
	v := mountImage(t, buildImage(t, o), nil)

	assert.Equal(t, uint64(16), v.MFTRecords())
	assert.Equal(t, uint64(15), v.MFTRecordsUsed())
}

func TestMount_MFTAttributeListRejected(t *testing.T) {
	o := defaultImage()
	o.mutateRecord = func(n int, rec []byte) {
		if n == format.RecMFT {
			tAppendAttr(t, rec, tResAttr(format.AttrList, "", make([]byte, 0x20)))
		}
	}
	_, err := Mount(buildImage(t, o), nil)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestMount_LoadRecord(t *testing.T) {
	v := mountImage(t, buildImage(t, defaultImage()), nil)

	f, err := v.LoadRecord(format.RecVol)
	require.NoError(t, err)
	assert.Equal(t, uint64(format.RecVol), f.Num())

	// Slot 15 was never written.
	_, err = v.LoadRecord(15)
	require.Error(t, err)

	// Reference with a stale sequence.
	_, err = v.LoadRecordRef(format.RecVol, 99)
	require.Error(t, err)
	_, err = v.LoadRecordRef(format.RecVol, format.RecVol)
	require.NoError(t, err)
}

func TestMount_ReadOnlyOption(t *testing.T) {
	v := mountImage(t, buildImage(t, defaultImage()), &MountOptions{ReadOnly: true})

	assert.True(t, v.ReadOnly())
	_, err := v.AllocateClusters(1, 0)
	require.ErrorIs(t, err, ErrUnsupported)
	require.ErrorIs(t, v.MarkDirty(), ErrUnsupported)
	require.ErrorIs(t, v.SyncMirror(), ErrUnsupported)
}

// roDevice hides the write side of a MemDevice.
type roDevice struct{ m *MemDevice }

func (d roDevice) ReadAt(p []byte, off int64) (int, error) { return d.m.ReadAt(p, off) }
func (d roDevice) Size() int64                             { return d.m.Size() }
func (d roDevice) SectorSize() uint32                      { return d.m.SectorSize() }

func TestMount_NonWritableDeviceDegrades(t *testing.T) {
	img := buildImage(t, defaultImage())
	v, err := Mount(roDevice{img}, nil)
	require.NoError(t, err)
	defer v.Close()
	assert.True(t, v.ReadOnly())
}

func TestMount_RAWVolume(t *testing.T) {
	img := buildImage(t, defaultImage())
	// One cluster short of what the boot sector declares.
	short := NewMemDevice(img.Bytes()[:tiImageBytes-tiClusterSize], 512)

	v, err := Mount(short, nil)
	require.NoError(t, err)
	defer v.Close()
	assert.True(t, v.ReadOnly())
}

func TestMount_DirtyGate(t *testing.T) {
	o := defaultImage()
	o.dirty = true

	_, err := Mount(buildImage(t, o), nil)
	require.ErrorIs(t, err, ErrWouldLoseData)

	v := mountImage(t, buildImage(t, o), &MountOptions{Force: true})
	assert.True(t, v.Dirty())

	v2 := mountImage(t, buildImage(t, o), &MountOptions{ReadOnly: true})
	assert.True(t, v2.Dirty())
}

func TestMount_JournalGate(t *testing.T) {
	o := defaultImage()
	o.logContent = append(
		tRestartPage(t, restartOpts{lsn: 100, inUse: 0}),
		fillPage(defaultLogPageSize, 0xFF)...,
	)

	// An unreplayed journal refuses read-write, force or not.
	_, err := Mount(buildImage(t, o), nil)
	require.ErrorIs(t, err, ErrWouldLoseData)
	_, err = Mount(buildImage(t, o), &MountOptions{Force: true})
	require.ErrorIs(t, err, ErrWouldLoseData)

	v := mountImage(t, buildImage(t, o), &MountOptions{ReadOnly: true})
	assert.True(t, v.ReadOnly())
}

func TestMount_CorruptBootSector(t *testing.T) {
	o := defaultImage()
	o.mutateImage = func(b []byte) { b[format.BootSignatureOffset] = 'X' }

	shared := NewSharedTables()
	_, err := Mount(buildImage(t, o), &MountOptions{Shared: shared})
	require.ErrorIs(t, err, ErrInvalidFormat)
	assert.True(t, shared.Empty())
}

func TestMount_CorruptMFTRecord(t *testing.T) {
	o := defaultImage()
	o.mutateImage = func(b []byte) { b[tiMFTLCN*tiClusterSize] = 'X' }
	_, err := Mount(buildImage(t, o), nil)
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestMount_ShortClusterBitmap(t *testing.T) {
	o := defaultImage()
	o.mutateRecord = func(n int, rec []byte) {
		if n == format.RecBitmap {
			// Shrink the stream below one bit per cluster.
			format.PutU64(rec, format.RecordHeaderSize+format.AttrNRSizeOffset, 4)
		}
	}
	_, err := Mount(buildImage(t, o), nil)
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestMount_WrongUpcaseSize(t *testing.T) {
	o := defaultImage()
	o.mutateRecord = func(n int, rec []byte) {
		if n == format.RecUpCase {
			format.PutU64(rec, format.RecordHeaderSize+format.AttrNRSizeOffset, format.UpcaseSize-2)
		}
	}
	shared := NewSharedTables()
	_, err := Mount(buildImage(t, o), &MountOptions{Shared: shared})
	require.ErrorIs(t, err, ErrInvalidFormat)
	assert.True(t, shared.Empty(), "failed mount releases nothing it kept")
}

func TestMount_RootNotDirectory(t *testing.T) {
	o := defaultImage()
	o.mutateRecord = func(n int, rec []byte) {
		if n == format.RecRoot {
			format.PutU16(rec, format.RecordFlagsOffset, format.RecordFlagInUse)
		}
	}
	shared := NewSharedTables()
	_, err := Mount(buildImage(t, o), &MountOptions{Shared: shared})
	require.ErrorIs(t, err, ErrInvalidFormat)
	// The unwind released the upcase reference acquired two steps earlier.
	assert.True(t, shared.Empty())
}

func TestMount_SharedUpcaseAcrossVolumes(t *testing.T) {
	shared := NewSharedTables()
	v1 := mountImage(t, buildImage(t, defaultImage()), &MountOptions{Shared: shared})
	v2 := mountImage(t, buildImage(t, defaultImage()), &MountOptions{Shared: shared})

	require.Same(t, &v1.Upcase()[0], &v2.Upcase()[0], "identical tables share backing")
	assert.Equal(t, 2, shared.Refs(v1.Upcase()))

	tbl := v1.Upcase()
	require.NoError(t, v1.Close())
	assert.Equal(t, 1, shared.Refs(tbl))
	require.NoError(t, v2.Close())
	assert.True(t, shared.Empty())
}

func TestMount_PrivateUpcaseWhenRegistryFull(t *testing.T) {
	shared := NewSharedTables()
	var tables [][]uint16
	for i := 0; i < sharedSlots; i++ {
		tbl := []uint16{uint16(i)}
		stored, ok := shared.Acquire(tbl)
		require.True(t, ok)
		tables = append(tables, stored)
	}

	// Every slot is taken: the volume keeps a private copy.
	v := mountImage(t, buildImage(t, defaultImage()), &MountOptions{Shared: shared})
	require.Len(t, v.Upcase(), format.UpcaseEntries)
	assert.Equal(t, 0, shared.Refs(v.Upcase()))

	// Teardown leaves the registered tables untouched.
	require.NoError(t, v.Close())
	for _, tbl := range tables {
		assert.Equal(t, 1, shared.Refs(tbl))
	}
}

func TestVolume_MarkDirtyPersists(t *testing.T) {
	img := buildImage(t, defaultImage())
	v := mountImage(t, img, nil)

	require.NoError(t, v.MarkDirty())
	require.True(t, v.Dirty())

	// A crash here leaves the flag for the next mount to refuse.
	snap := NewMemDevice(append([]byte(nil), img.Bytes()...), 512)
	_, err := Mount(snap, nil)
	require.ErrorIs(t, err, ErrWouldLoseData)

	require.NoError(t, v.MarkClean())
	require.False(t, v.Dirty())

	snap = NewMemDevice(append([]byte(nil), img.Bytes()...), 512)
	v2, err := Mount(snap, nil)
	require.NoError(t, err)
	require.NoError(t, v2.Close())
}

func TestVolume_SyncMirror(t *testing.T) {
	img := buildImage(t, defaultImage())
	v := mountImage(t, img, nil)

	// MarkDirty rewrites the primary $Volume record only.
	require.NoError(t, v.MarkDirty())
	b := img.Bytes()
	primary := b[tiMFTLCN*tiClusterSize+format.RecVol*tiRecordSize:][:tiRecordSize]
	mirror := b[tiMirrLCN*tiClusterSize+format.RecVol*tiRecordSize:][:tiRecordSize]
	require.False(t, bytes.Equal(primary, mirror))

	require.NoError(t, v.SyncMirror())
	require.True(t, bytes.Equal(primary, mirror))
}

func TestVolume_CloseWritesBackAndCleans(t *testing.T) {
	img := buildImage(t, defaultImage())
	v, err := Mount(img, nil)
	require.NoError(t, err)

	require.NoError(t, v.MarkDirty())
	require.NoError(t, v.Close())

	// A clean unmount leaves a clean, consistent volume behind.
	v2, err := Mount(NewMemDevice(append([]byte(nil), img.Bytes()...), 512), nil)
	require.NoError(t, err)
	require.False(t, v2.Dirty())
	require.NoError(t, v2.Close())
}

func TestVolume_AllocateFreeDiscard(t *testing.T) {
	img := buildImage(t, defaultImage())
	v := mountImage(t, img, &MountOptions{Discard: true, DiscardGranularity: 4096})

	// The lowest free run sits right after the boot cluster.
	p, err := v.AllocateClusters(2, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), p)
	require.True(t, v.ClusterBitmap().IsUsed(p, 2))

	require.NoError(t, v.FreeClusters(p, 2))
	require.True(t, v.ClusterBitmap().IsFree(p, 2))
	require.Equal(t, [][2]int64{{1 << 12, 2 << 12}}, img.Discards)

	// A run that fits neither before nor inside the MFT zone lands past
	// the journal.
	p, err = v.AllocateClusters(13, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(50), p)
}

func TestVolume_DiscardUnsupportedLatches(t *testing.T) {
	img := buildImage(t, defaultImage())
	img.DiscardErr = ErrUnsupported
	v := mountImage(t, img, &MountOptions{Discard: true, DiscardGranularity: 4096})

	p, err := v.AllocateClusters(1, 0)
	require.NoError(t, err)
	require.NoError(t, v.FreeClusters(p, 1))
	assert.True(t, v.noDiscard)

	// Subsequent frees do not reach the device.
	img.DiscardErr = nil
	p, err = v.AllocateClusters(1, 0)
	require.NoError(t, err)
	require.NoError(t, v.FreeClusters(p, 1))
	assert.Empty(t, img.Discards)
}

func TestVolume_CloseIdempotent(t *testing.T) {
	v, err := Mount(buildImage(t, defaultImage()), nil)
	require.NoError(t, err)

	require.NoError(t, v.Close())
	require.NoError(t, v.Close())

	_, err = v.LoadRecord(0)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, v.MarkDirty(), ErrClosed)
	require.ErrorIs(t, v.Sync(), ErrClosed)
	_, err = v.AllocateClusters(1, 0)
	require.ErrorIs(t, err, ErrClosed)
}

func TestVolume_SyncFlushesBitmap(t *testing.T) {
	img := buildImage(t, defaultImage())
	v := mountImage(t, img, nil)

	p, err := v.AllocateClusters(3, 0)
	require.NoError(t, err)
	require.NoError(t, v.Sync())

	// The on-disk bitmap now shows the allocation.
	onDisk := img.Bytes()[tiBitmapLCN*tiClusterSize:][:len(tiBitmapBytes)]
	w, err := LoadBitmap(onDisk, tiClusters, true)
	require.NoError(t, err)
	require.True(t, w.IsUsed(p, 3))
}
