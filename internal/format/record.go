package format

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/ntfskit/internal/buf"
)

// RecordHeader captures the fixed header of a FILE record.
type RecordHeader struct {
	FixupOff   uint16
	FixupNum   uint16
	LSN        uint64
	Seq        uint16
	HardLinks  uint16
	AttrOff    uint16
	Flags      uint16
	Used       uint32
	Total      uint32
	NextAttrID uint16
}

// InUse reports whether the record holds a live file.
func (h RecordHeader) InUse() bool { return h.Flags&RecordFlagInUse != 0 }

// IsDir reports whether the record describes a directory.
func (h RecordHeader) IsDir() bool { return h.Flags&RecordFlagDir != 0 }

// ParseRecordHeader validates the FILE signature and header geometry of a
// raw MFT record. Fixups are NOT applied; call ApplyFixups first when the
// record came off the disk.
func ParseRecordHeader(b []byte) (RecordHeader, error) {
	if len(b) < RecordHeaderSize {
		return RecordHeader{}, fmt.Errorf("file record: %w", ErrTruncated)
	}
	if !bytes.Equal(b[:4], RecordSignature) {
		if bytes.Equal(b[:4], RecordSignatureBad) {
			return RecordHeader{}, fmt.Errorf("file record: BAAD: %w", ErrSignatureMismatch)
		}
		return RecordHeader{}, fmt.Errorf("file record: %w", ErrSignatureMismatch)
	}
	h := RecordHeader{
		FixupOff:   ReadU16(b, RecordFixupOffOffset),
		FixupNum:   ReadU16(b, RecordFixupNumOffset),
		LSN:        ReadU64(b, RecordLSNOffset),
		Seq:        ReadU16(b, RecordSeqOffset),
		HardLinks:  ReadU16(b, RecordHardLinksOffset),
		AttrOff:    ReadU16(b, RecordAttrOffOffset),
		Flags:      ReadU16(b, RecordFlagsOffset),
		Used:       ReadU32(b, RecordUsedOffset),
		Total:      ReadU32(b, RecordTotalOffset),
		NextAttrID: ReadU16(b, RecordNextAttrOffset),
	}
	if h.Total != 0 && int(h.Total) != len(b) {
		return RecordHeader{}, fmt.Errorf("file record: total %d != record size %d: %w",
			h.Total, len(b), ErrSignatureMismatch)
	}
	if h.Used > h.Total || int(h.AttrOff) >= len(b) || h.AttrOff&7 != 0 {
		return RecordHeader{}, fmt.Errorf("file record: bad header geometry: %w", ErrSignatureMismatch)
	}
	return h, nil
}

// ApplyFixups verifies and undoes the update-sequence protection of a
// multi-sector structure in place. The last two bytes of every 512-byte
// stride must equal the sequence tag; they are replaced with the saved
// original bytes from the fixup array.
func ApplyFixups(b []byte) error {
	if len(b) < RecordHeaderSize || len(b)&(MinSectorSize-1) != 0 {
		return fmt.Errorf("fixup: %w", ErrTruncated)
	}
	off := int(ReadU16(b, RecordFixupOffOffset))
	num := int(ReadU16(b, RecordFixupNumOffset))
	if num != FixupEndTag(len(b)) {
		return fmt.Errorf("fixup: count %d for %d bytes: %w", num, len(b), ErrFixup)
	}
	if !buf.Has(b, off, 2*num) {
		return fmt.Errorf("fixup: array out of bounds: %w", ErrFixup)
	}
	tag := ReadU16(b, off)
	for i := 1; i < num; i++ {
		end := i<<SectorShift - 2
		if ReadU16(b, end) != tag {
			return fmt.Errorf("fixup: stride %d tag mismatch: %w", i, ErrFixup)
		}
		PutU16(b, end, ReadU16(b, off+2*i))
	}
	return nil
}

// InsertFixups is the inverse of ApplyFixups: it stamps tag into the fixup
// slot and the end of every stride, saving the displaced bytes into the
// fixup array. Used when writing records (and by the test image builders).
func InsertFixups(b []byte, tag uint16) error {
	if len(b) < RecordHeaderSize || len(b)&(MinSectorSize-1) != 0 {
		return fmt.Errorf("fixup: %w", ErrTruncated)
	}
	off := int(ReadU16(b, RecordFixupOffOffset))
	num := int(ReadU16(b, RecordFixupNumOffset))
	if num != FixupEndTag(len(b)) || !buf.Has(b, off, 2*num) {
		return fmt.Errorf("fixup: bad array: %w", ErrFixup)
	}
	PutU16(b, off, tag)
	for i := 1; i < num; i++ {
		end := i<<SectorShift - 2
		PutU16(b, off+2*i, ReadU16(b, end))
		PutU16(b, end, tag)
	}
	return nil
}
