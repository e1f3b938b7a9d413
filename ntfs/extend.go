package ntfs

import (
	"fmt"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/joshuapare/ntfskit/internal/buf"
	"github.com/joshuapare/ntfskit/internal/format"
)

// extendScanLimit bounds the MFT scan that resolves $Extend children. The
// formatter places them immediately after the reserved records.
const extendScanLimit = 64

// securityInit loads $Secure and requires its "$SDS" descriptor stream.
// Security descriptors back every permission check, so a 3.x volume without
// them does not mount.
func (v *Volume) securityInit() error {
	f, err := v.mft.OpenSys(format.RecSecure)
	if err != nil {
		return fmt.Errorf("$Secure: %w", err)
	}
	if _, err := f.Attr(format.AttrData, "$SDS"); err != nil {
		return fmt.Errorf("$Secure: no $SDS stream: %w", ErrInvalidFormat)
	}
	v.secure = f
	return nil
}

// extendInit loads the $Extend directory. Its children carry optional
// features, so the caller degrades instead of failing.
func (v *Volume) extendInit() error {
	f, err := v.mft.OpenSys(format.RecExtend)
	if err != nil {
		return fmt.Errorf("$Extend: %w", err)
	}
	if !f.Header().IsDir() {
		return fmt.Errorf("$Extend: not a directory: %w", ErrInvalidFormat)
	}
	v.extend = f
	return nil
}

// reparseInit resolves $Extend\$Reparse.
func (v *Volume) reparseInit() error {
	f, err := v.findExtendChild("$Reparse")
	if err != nil {
		return err
	}
	v.reparse = f
	return nil
}

// objidInit resolves $Extend\$ObjId.
func (v *Volume) objidInit() error {
	f, err := v.findExtendChild("$ObjId")
	if err != nil {
		return err
	}
	v.objid = f
	return nil
}

// quotaInit resolves $Extend\$Quota.
func (v *Volume) quotaInit() error {
	f, err := v.findExtendChild("$Quota")
	if err != nil {
		return err
	}
	v.quota = f
	return nil
}

// findExtendChild scans the low MFT records for a file whose $FILE_NAME
// names it as a child of $Extend. The children sit right after the reserved
// records on every formatter, so the scan is short.
func (v *Volume) findExtendChild(name string) (*File, error) {
	limit := v.mft.Records()
	if limit > extendScanLimit {
		limit = extendScanLimit
	}
	for n := uint64(format.RecExtend + 1); n < limit; n++ {
		f, err := v.mft.LoadRecord(n, 0)
		if err != nil {
			continue
		}
		for i := range f.attrs {
			a := &f.attrs[i]
			if a.Type != format.AttrName || a.NonRes {
				continue
			}
			val, err := a.ResidentData()
			if err != nil {
				continue
			}
			parent, childName, ok := decodeFileName(val)
			if ok && parent == format.RecExtend && childName == name {
				return f, nil
			}
		}
	}
	return nil, fmt.Errorf("$Extend\\%s: %w", name, ErrUnsupported)
}

// decodeFileName extracts the parent record number and the name from a
// $FILE_NAME value.
func decodeFileName(val []byte) (parent uint64, name string, ok bool) {
	if !buf.Has(val, 0, format.FileNameHeaderMinSize) {
		return 0, "", false
	}
	n := int(val[format.FileNameLenOffset])
	raw, found := buf.Slice(val, format.FileNameNameOffset, 2*n)
	if !found {
		return 0, "", false
	}
	u := make([]uint16, n)
	for i := range u {
		u[i] = format.ReadU16(raw, 2*i)
	}
	parent = format.ReadU64(val, format.FileNameParentOffset) & format.RefRecordMask
	return parent, string(utf16.Decode(u)), true
}

// ObjectID returns a record's $OBJECT_ID as a canonical UUID. The on-disk
// GUID stores its first three groups little-endian.
func ObjectID(f *File) (uuid.UUID, bool) {
	a, err := f.Attr(format.AttrID, "")
	if err != nil || a.NonRes {
		return uuid.UUID{}, false
	}
	val, err := a.ResidentData()
	if err != nil || len(val) < 16 {
		return uuid.UUID{}, false
	}
	var g uuid.UUID
	g[0], g[1], g[2], g[3] = val[3], val[2], val[1], val[0]
	g[4], g[5] = val[5], val[4]
	g[6], g[7] = val[7], val[6]
	copy(g[8:], val[8:16])
	return g, true
}
