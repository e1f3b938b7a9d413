package format

import (
	"fmt"
	"unicode/utf16"

	"github.com/joshuapare/ntfskit/internal/buf"
)

// Attr is a decoded view of one attribute inside a FILE record. Raw always
// aliases the record buffer; nothing is copied.
type Attr struct {
	Type   uint32
	Size   uint32
	NonRes bool
	Flags  uint16
	ID     uint16
	Raw    []byte

	// Resident form.
	ValueLen uint32
	ValueOff uint16

	// Non-resident form.
	StartVCN  uint64
	EndVCN    uint64
	RunOff    uint16
	AllocSize uint64
	DataSize  uint64
	ValidSize uint64

	nameLen uint8
	nameOff uint16
}

// IsExt reports whether the attribute is compressed, encrypted or sparse.
// Extended attributes never carry the resident metadata the mount path reads.
func (a *Attr) IsExt() bool { return a.Flags&AttrFlagExtMask != 0 }

// Name decodes the attribute name (empty for the usual unnamed attributes).
func (a *Attr) Name() string {
	n := int(a.nameLen)
	if n == 0 {
		return ""
	}
	raw, ok := buf.Slice(a.Raw, int(a.nameOff), 2*n)
	if !ok {
		return ""
	}
	u := make([]uint16, n)
	for i := range u {
		u[i] = ReadU16(raw, 2*i)
	}
	return string(utf16.Decode(u))
}

// ResidentData returns the attribute value for resident attributes.
func (a *Attr) ResidentData() ([]byte, error) {
	if a.NonRes {
		return nil, fmt.Errorf("attr 0x%x: non-resident: %w", a.Type, ErrUnsupported)
	}
	v, ok := buf.Slice(a.Raw, int(a.ValueOff), int(a.ValueLen))
	if !ok {
		return nil, fmt.Errorf("attr 0x%x: value out of bounds: %w", a.Type, ErrTruncated)
	}
	return v, nil
}

// RunData returns the raw run-list bytes of a non-resident attribute.
func (a *Attr) RunData() ([]byte, error) {
	if !a.NonRes {
		return nil, fmt.Errorf("attr 0x%x: resident: %w", a.Type, ErrUnsupported)
	}
	if int(a.RunOff) > len(a.Raw) {
		return nil, fmt.Errorf("attr 0x%x: run offset out of bounds: %w", a.Type, ErrTruncated)
	}
	return a.Raw[a.RunOff:], nil
}

// parseAttr decodes one attribute header at the start of b.
func parseAttr(b []byte) (Attr, error) {
	if len(b) < AttrResHeaderSize {
		return Attr{}, fmt.Errorf("attr: %w", ErrTruncated)
	}
	a := Attr{
		Type:    ReadU32(b, AttrTypeOffset),
		Size:    ReadU32(b, AttrSizeOffset),
		NonRes:  b[AttrNonResOffset] != 0,
		Flags:   ReadU16(b, AttrFlagsOffset),
		ID:      ReadU16(b, AttrIDOffset),
		nameLen: b[AttrNameLenOffset],
		nameOff: ReadU16(b, AttrNameOffOffset),
	}
	if a.Size < AttrResHeaderSize || a.Size&7 != 0 || int(a.Size) > len(b) {
		return Attr{}, fmt.Errorf("attr 0x%x: bad size %d: %w", a.Type, a.Size, ErrTruncated)
	}
	a.Raw = b[:a.Size]
	if !a.NonRes {
		a.ValueLen = ReadU32(b, AttrResValueLenOffset)
		a.ValueOff = ReadU16(b, AttrResValueOffOffset)
		return a, nil
	}
	if a.Size < AttrNRHeaderSize {
		return Attr{}, fmt.Errorf("attr 0x%x: short non-resident header: %w", a.Type, ErrTruncated)
	}
	a.StartVCN = ReadU64(b, AttrNRStartVCNOffset)
	a.EndVCN = ReadU64(b, AttrNREndVCNOffset)
	a.RunOff = ReadU16(b, AttrNRRunOffOffset)
	a.AllocSize = ReadU64(b, AttrNRAllocOffset)
	a.DataSize = ReadU64(b, AttrNRSizeOffset)
	a.ValidSize = ReadU64(b, AttrNRValidOffset)
	return a, nil
}

// Attrs iterates the attributes of a fixed-up FILE record, in on-disk order,
// stopping at the 0xFFFFFFFF terminator.
func Attrs(rec []byte, hdr RecordHeader) ([]Attr, error) {
	var out []Attr
	off := int(hdr.AttrOff)
	limit := int(hdr.Used)
	if limit > len(rec) {
		limit = len(rec)
	}
	for {
		if off+AttrTypeSize > limit {
			return nil, fmt.Errorf("attrs: missing terminator: %w", ErrTruncated)
		}
		if ReadU32(rec, off) == AttrEnd {
			return out, nil
		}
		a, err := parseAttr(rec[off:limit])
		if err != nil {
			return nil, err
		}
		out = append(out, a)
		off += int(a.Size)
	}
}

// FindAttr returns the first attribute of the given type with the given
// name, or ErrNotFound.
func FindAttr(attrs []Attr, typ uint32, name string) (*Attr, error) {
	for i := range attrs {
		if attrs[i].Type == typ && attrs[i].Name() == name {
			return &attrs[i], nil
		}
	}
	return nil, fmt.Errorf("attr 0x%x %q: %w", typ, name, ErrNotFound)
}
