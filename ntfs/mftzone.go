package ntfs

import (
	"fmt"

	"github.com/joshuapare/ntfskit/internal/format"
)

// mftZoneLimit caps the MFT zone at 512 MB regardless of volume size.
const mftZoneLimit = 512 << 20

// refreshMFTZone reserves free clusters right after the MFT's last extent
// so the table can grow without fragmenting. The target is an eighth of the
// volume, capped at 512 MB; whatever contiguous space is actually free
// there becomes the zone. An already-set zone is left alone; no free space
// after the MFT just logs a notice.
func (v *Volume) refreshMFTZone() error {
	if v.used.ZoneLen() != 0 {
		return nil
	}

	zoneMax := v.used.Size() >> 3
	if limit := uint64(mftZoneLimit) >> v.g.ClusterBits; zoneMax > limit {
		zoneMax = limit
	}

	// Last cluster the MFT data occupies.
	mftBytes := v.mft.file.size
	vcn := (mftBytes + v.g.ClusterMask) >> v.g.ClusterBits
	if vcn == 0 {
		return fmt.Errorf("mft zone: empty table: %w", ErrInvalidFormat)
	}
	run, ok := findRunByVCN(v.mft.file.runs, vcn-1)
	if !ok || run.LCN == format.SparseLCN {
		return fmt.Errorf("mft zone: last MFT cluster unmapped: %w", ErrInvalidFormat)
	}
	after := run.LCN + (vcn - 1 - run.VCN) + 1

	start, zlen := v.used.FindFree(zoneMax, after)
	if zlen == 0 {
		v.log.Info("MFT zone unavailable")
		return nil
	}
	v.used.SetZone(start, start+zlen)
	return nil
}
