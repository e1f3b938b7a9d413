package format

import "fmt"

// VolumeInfo is the decoded VOLUME_INFORMATION value of $Volume.
type VolumeInfo struct {
	MajorVer uint8
	MinorVer uint8
	Flags    uint16
}

// Dirty reports the persisted unclean-unmount bit.
func (v VolumeInfo) Dirty() bool { return v.Flags&VolumeFlagDirty != 0 }

// IsV3 reports whether the volume carries the NTFS 3.x feature set
// ($Secure, $Extend and friends).
func (v VolumeInfo) IsV3() bool { return v.MajorVer >= 3 }

// ParseVolumeInfo decodes a resident VOLUME_INFORMATION value.
func ParseVolumeInfo(b []byte) (VolumeInfo, error) {
	if len(b) < VolInfoSize {
		return VolumeInfo{}, fmt.Errorf("volume info: %w", ErrTruncated)
	}
	return VolumeInfo{
		MajorVer: b[VolInfoMajorOffset],
		MinorVer: b[VolInfoMinorOffset],
		Flags:    ReadU16(b, VolInfoFlagsOffset),
	}, nil
}
