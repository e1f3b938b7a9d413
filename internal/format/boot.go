package format

import (
	"bytes"
	"fmt"
)

// BootSector captures the raw boot-sector fields the mount path consumes.
// Size fields keep their on-disk encoding; the geometry layer derives byte
// sizes from them because record and index sizes depend on the cluster size.
type BootSector struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8 // dual encoded, see SectorsPerClusterCount
	SectorsPerVolume  uint64
	MFTCluster        uint64
	MFTMirrCluster    uint64
	RecordSizeRaw     int8 // dual encoded, see DecodeSizeBytes
	IndexSizeRaw      int8
	SerialNumber      uint64
}

// ParseBootSector validates and extracts key fields from the first sector.
// It checks only what can be judged from the raw bytes; cross-field geometry
// invariants live with the caller, which also knows the device sizes.
func ParseBootSector(b []byte) (BootSector, error) {
	if len(b) < BootSectorSize {
		return BootSector{}, fmt.Errorf("boot sector: %w", ErrTruncated)
	}
	if !bytes.Equal(b[BootSignatureOffset:BootSignatureOffset+BootSignatureSize], BootSignature) {
		return BootSector{}, fmt.Errorf("boot sector: %w", ErrSignatureMismatch)
	}
	// 0x55AA at 0x1FE is deliberately not checked: some imaging tools strip it.
	return BootSector{
		BytesPerSector:    ReadU16(b, BootBytesPerSector),
		SectorsPerCluster: b[BootSectorsPerCluster],
		SectorsPerVolume:  ReadU64(b, BootSectorsPerVolume),
		MFTCluster:        ReadU64(b, BootMFTCluster),
		MFTMirrCluster:    ReadU64(b, BootMFTMirrCluster),
		RecordSizeRaw:     int8(b[BootRecordSize]),
		IndexSizeRaw:      int8(b[BootIndexSize]),
		SerialNumber:      ReadU64(b, BootSerialNumber),
	}, nil
}

// SectorsPerClusterCount decodes the dual-encoded sectors-per-cluster byte:
// values up to 0x80 are a literal sector count, larger values are the
// negated log2 of the count (Windows 10 "large cluster" encoding).
func (bs BootSector) SectorsPerClusterCount() uint32 {
	if bs.SectorsPerCluster <= 0x80 {
		return uint32(bs.SectorsPerCluster)
	}
	return 1 << (0 - uint32(int32(int8(bs.SectorsPerCluster))))
}

// SizeRawValid reports whether a dual-encoded record/index size byte is
// internally consistent: negative encodings must decode to at least half a
// sector, non-negative ones must be a power-of-two cluster multiple.
func SizeRawValid(raw int8) bool {
	if raw < 0 {
		return MinSectorSize <= 2<<uint(-int32(raw))
	}
	return IsPow2(uint64(raw))
}

// DecodeSizeBytes turns a dual-encoded record/index size byte into a byte
// count: negative values are 2^-raw bytes, non-negative values are counted
// in clusters.
func DecodeSizeBytes(raw int8, clusterBits uint) uint32 {
	if raw < 0 {
		return 1 << uint(-int32(raw))
	}
	return uint32(raw) << clusterBits
}

// IsPow2 reports whether n is a non-zero power of two.
func IsPow2(n uint64) bool { return n != 0 && n&(n-1) == 0 }

// BitsOf returns log2(n) for a power-of-two n.
func BitsOf(n uint64) uint {
	var bits uint
	for n > 1 {
		n >>= 1
		bits++
	}
	return bits
}
