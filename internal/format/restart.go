package format

import (
	"bytes"
	"fmt"
)

// RestartPage is the decoded header of a $LogFile restart page plus the
// restart-area fields the replay gate consumes.
type RestartPage struct {
	Chkd       bool // CHKD signature: chkdsk already processed the log
	SysPage    uint32
	LogPage    uint32
	Major      uint16
	Minor      uint16
	CurrentLSN uint64
	Clients    uint16
	FreeList   uint16
	InUseList  uint16
	Flags      uint16
}

// Clean reports whether the restart page describes a fully checkpointed
// log: no client holds open transactions, or the clean-shutdown flag is set.
func (r RestartPage) Clean() bool {
	return r.InUseList == LogNoClient || r.Flags&RestartVolumeClean != 0
}

// IsRestartSignature reports whether b starts with RSTR or CHKD.
func IsRestartSignature(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	return bytes.Equal(b[:4], RestartSignature) || bytes.Equal(b[:4], RestartSignatureChkd)
}

// ParseRestartPage decodes a restart page. The page must already be free of
// fixups (ApplyFixups) when it came off the disk.
func ParseRestartPage(b []byte) (RestartPage, error) {
	if len(b) < RestartHeaderSize {
		return RestartPage{}, fmt.Errorf("restart page: %w", ErrTruncated)
	}
	if !IsRestartSignature(b) {
		return RestartPage{}, fmt.Errorf("restart page: %w", ErrSignatureMismatch)
	}
	r := RestartPage{
		Chkd:    bytes.Equal(b[:4], RestartSignatureChkd),
		SysPage: ReadU32(b, RestartSysPageOffset),
		LogPage: ReadU32(b, RestartLogPageOffset),
		Minor:   ReadU16(b, RestartMinorOffset),
		Major:   ReadU16(b, RestartMajorOffset),
	}
	if !IsPow2(uint64(r.SysPage)) || !IsPow2(uint64(r.LogPage)) {
		return RestartPage{}, fmt.Errorf("restart page: bad page sizes: %w", ErrSignatureMismatch)
	}
	raOff := int(ReadU16(b, RestartAreaOffOffset))
	if raOff&7 != 0 || raOff+RestartAreaMinSize > len(b) {
		return RestartPage{}, fmt.Errorf("restart page: restart area out of bounds: %w", ErrTruncated)
	}
	r.CurrentLSN = ReadU64(b, raOff+RestartAreaLSNOffset)
	r.Clients = ReadU16(b, raOff+RestartAreaClientsOffset)
	r.FreeList = ReadU16(b, raOff+RestartAreaFreeOffset)
	r.InUseList = ReadU16(b, raOff+RestartAreaInUseOffset)
	r.Flags = ReadU16(b, raOff+RestartAreaFlagsOffset)
	return r, nil
}

// PageEmpty reports whether a log page is pristine: all zeros (never
// written) or all 0xFF (freshly formatted).
func PageEmpty(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	fill := b[0]
	if fill != 0x00 && fill != 0xFF {
		return false
	}
	for _, c := range b {
		if c != fill {
			return false
		}
	}
	return true
}
