package ntfs

import (
	"fmt"
	"log/slog"

	"github.com/joshuapare/ntfskit/internal/format"
)

// Geometry is the validated shape of a volume: everything derived from the
// boot sector plus the device size. It is immutable after InitFromBoot.
type Geometry struct {
	SectorSize  uint32
	SectorBits  uint
	ClusterSize uint32
	ClusterBits uint
	ClusterMask uint64

	RecordSize uint32
	RecordBits uint
	IndexSize  uint32

	// Byte offsets of the primary MFT and its mirror.
	MFTOffset     uint64
	MFTMirrOffset uint64

	SerialNumber uint64

	// VolumeSize is sectors << SectorBits; Clusters is the addressable
	// cluster count (fits in 32 bits).
	VolumeSize uint64
	Clusters   uint64

	// AttrSizeTr is the resident/non-resident transition size for
	// attribute values.
	AttrSizeTr uint32

	// MaxBytesPerAttr is the largest attribute that fits a single record
	// after the header, the fixup array and the end marker.
	MaxBytesPerAttr uint32

	// MaxBytes / MaxBytesSparse bound normal and sparse file sizes.
	MaxBytes       uint64
	MaxBytesSparse uint64

	// ForceReadOnly is set when the device is smaller than the filesystem
	// (a RAW volume): reads may work, writes must not.
	ForceReadOnly bool

	// NewRecord is a pre-stamped empty FILE record: signature, fixup
	// header, attribute offset and end marker already in place. Record
	// creation copies it instead of re-deriving the layout.
	NewRecord []byte
}

// InitFromBoot validates the first sector against the device and derives the
// volume geometry. Every rejected condition wraps ErrInvalidFormat; the two
// degraded conditions (sector-size mismatch, RAW volume) warn and continue.
func InitFromBoot(sector []byte, devSectorSize uint32, devSize uint64, log *slog.Logger) (*Geometry, error) {
	b, err := format.ParseBootSector(sector)
	if err != nil {
		return nil, fmt.Errorf("geometry: %w: %w", err, ErrInvalidFormat)
	}

	// The low byte of bytes-per-sector must be zero: valid values are
	// 0x0200..0x1000 and a nonzero low byte means garbage, not geometry.
	bps := uint32(b.BytesPerSector)
	if bps&0xFF != 0 || bps < format.MinSectorSize || !format.IsPow2(uint64(bps)) {
		return nil, fmt.Errorf("geometry: bytes per sector %#x: %w", bps, ErrInvalidFormat)
	}

	spc := b.SectorsPerClusterCount()
	if spc == 0 || !format.IsPow2(uint64(spc)) {
		return nil, fmt.Errorf("geometry: sectors per cluster %#x: %w", b.SectorsPerCluster, ErrInvalidFormat)
	}

	sectors := b.SectorsPerVolume
	if sectors == 0 {
		return nil, fmt.Errorf("geometry: zero sectors: %w", ErrInvalidFormat)
	}
	if b.MFTCluster*uint64(spc) >= sectors || b.MFTMirrCluster*uint64(spc) >= sectors {
		return nil, fmt.Errorf("geometry: MFT cluster beyond volume: %w", ErrInvalidFormat)
	}

	if !format.SizeRawValid(b.RecordSizeRaw) {
		return nil, fmt.Errorf("geometry: record size code %d: %w", b.RecordSizeRaw, ErrInvalidFormat)
	}
	if !format.SizeRawValid(b.IndexSizeRaw) {
		return nil, fmt.Errorf("geometry: index size code %d: %w", b.IndexSizeRaw, ErrInvalidFormat)
	}

	g := &Geometry{
		SectorSize:   bps,
		SectorBits:   format.BitsOf(uint64(bps)),
		SerialNumber: b.SerialNumber,
	}

	fsSize := (sectors + 1) << g.SectorBits

	if bps != devSectorSize && devSectorSize != 0 {
		// Formatted with one sector size, presented with another. Reads
		// still line up, but the final partial device sector must count.
		log.Warn("filesystem and device sector sizes differ",
			"fs", bps, "device", devSectorSize)
		devSize += uint64(devSectorSize) - 1
	}

	g.ClusterSize = bps * spc
	g.ClusterBits = format.BitsOf(uint64(g.ClusterSize))
	g.ClusterMask = uint64(g.ClusterSize) - 1
	if g.ClusterSize < g.SectorSize {
		return nil, fmt.Errorf("geometry: cluster %d below sector %d: %w", g.ClusterSize, g.SectorSize, ErrInvalidFormat)
	}

	g.MFTOffset = b.MFTCluster << g.ClusterBits
	g.MFTMirrOffset = b.MFTMirrCluster << g.ClusterBits

	g.RecordSize = format.DecodeSizeBytes(b.RecordSizeRaw, g.ClusterBits)
	if g.RecordSize > format.MaxBytesPerRecord {
		return nil, fmt.Errorf("geometry: record size %d over %d: %w", g.RecordSize, format.MaxBytesPerRecord, ErrInvalidFormat)
	}
	g.RecordBits = format.BitsOf(uint64(g.RecordSize))
	g.IndexSize = format.DecodeSizeBytes(b.IndexSizeRaw, g.ClusterBits)

	g.AttrSizeTr = 5 * g.RecordSize >> 4
	g.MaxBytesPerAttr = g.RecordSize -
		uint32(format.QuadAlign(format.RecordFixupOffset1)) -
		uint32(format.QuadAlign(int(g.RecordSize>>format.SectorShift)*2)) -
		uint32(format.QuadAlign(format.AttrTypeSize))

	g.VolumeSize = sectors << g.SectorBits

	if devSize < fsSize {
		log.Warn("RAW volume: filesystem larger than device, mounting read-only",
			"fsBytes", fsSize, "deviceBytes", devSize)
		g.ForceReadOnly = true
	}

	clusters := g.VolumeSize >> g.ClusterBits
	if clusters>>32 != 0 {
		return nil, fmt.Errorf("geometry: %d clusters exceed 32-bit addressing: %w", clusters, ErrInvalidFormat)
	}
	g.Clusters = clusters

	g.MaxBytes = (clusters << g.ClusterBits) - 1
	g.MaxBytesSparse = (uint64(1) << (g.ClusterBits + 32)) - 1

	g.NewRecord = stampRecordTemplate(g.RecordSize)
	return g, nil
}

// stampRecordTemplate lays out an empty FILE record: signature, fixup array
// bounds, 8-byte-aligned attribute offset and the end marker.
func stampRecordTemplate(recordSize uint32) []byte {
	rec := make([]byte, recordSize)
	copy(rec, format.RecordSignature)
	format.PutU16(rec, format.RecordFixupOffOffset, format.RecordFixupOffset1)
	fn := uint16(format.FixupEndTag(int(recordSize)))
	format.PutU16(rec, format.RecordFixupNumOffset, fn)
	ao := uint16(format.QuadAlign(format.RecordFixupOffset1 + 2*int(fn)))
	format.PutU16(rec, format.RecordAttrOffOffset, ao)
	format.PutU32(rec, format.RecordUsedOffset, uint32(ao)+uint32(format.QuadAlign(format.AttrTypeSize)))
	format.PutU32(rec, format.RecordTotalOffset, recordSize)
	format.PutU32(rec, int(ao), format.AttrEnd)
	return rec
}
