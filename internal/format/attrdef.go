package format

import "fmt"

// AttrDefEntry is one row of the $AttrDef table.
type AttrDefEntry struct {
	Type  uint32
	Flags uint32
	MinSz uint64
	MaxSz uint64
}

// ParseAttrDefEntry decodes the entry at offset off of the raw table.
func ParseAttrDefEntry(b []byte, off int) (AttrDefEntry, error) {
	if off < 0 || off+AttrDefEntrySize > len(b) {
		return AttrDefEntry{}, fmt.Errorf("attrdef entry at %d: %w", off, ErrTruncated)
	}
	return AttrDefEntry{
		Type:  ReadU32(b, off+AttrDefTypeOffset),
		Flags: ReadU32(b, off+AttrDefFlagsOffset),
		MinSz: ReadU64(b, off+AttrDefMinSzOffset),
		MaxSz: ReadU64(b, off+AttrDefMaxSzOffset),
	}, nil
}
