package ntfs

import (
	"fmt"

	"github.com/joshuapare/ntfskit/internal/format"
)

// maxAttrDefBytes caps the $AttrDef read. Windows writes 2560 bytes; the
// cap only has to stop a corrupt size field from driving the allocation.
const maxAttrDefBytes = 16 << 20

// loadAttrDef reads and validates the attribute-definition table. The first
// row must define $STANDARD_INFORMATION; rows must ascend strictly by type
// with a clear low nibble. The table is truncated at the first violation
// rather than rejected: everything before it is still trustworthy. An
// 0xC0 row overrides the default reparse payload cap.
func (v *Volume) loadAttrDef() error {
	f, err := v.mft.OpenSys(format.RecAttrDef)
	if err != nil {
		return fmt.Errorf("$AttrDef: %w", err)
	}
	if f.Size() < format.AttrDefEntrySize {
		return fmt.Errorf("$AttrDef: %d bytes: %w", f.Size(), ErrInvalidFormat)
	}
	raw, err := f.ReadAll(maxAttrDefBytes)
	if err != nil {
		return fmt.Errorf("$AttrDef: %w", err)
	}

	first, err := format.ParseAttrDefEntry(raw, 0)
	if err != nil {
		return fmt.Errorf("$AttrDef: %w: %w", err, ErrInvalidFormat)
	}
	if first.Type != format.AttrStd {
		return fmt.Errorf("$AttrDef: first entry type 0x%x: %w", first.Type, ErrInvalidFormat)
	}

	table := []format.AttrDefEntry{first}
	v.reparseMax = format.MaxReparseSize
	prev := first.Type
	for off := format.AttrDefEntrySize; off+format.AttrDefEntrySize <= len(raw); off += format.AttrDefEntrySize {
		e, err := format.ParseAttrDefEntry(raw, off)
		if err != nil {
			break
		}
		if e.Type&0xF != 0 || prev >= e.Type {
			break
		}
		if e.Type == format.AttrReparse {
			v.reparseMax = e.MaxSz
		}
		table = append(table, e)
		prev = e.Type
	}
	v.defTable = table
	return nil
}
