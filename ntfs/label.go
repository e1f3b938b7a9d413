package ntfs

import (
	"golang.org/x/text/encoding/unicode"

	"github.com/joshuapare/ntfskit/internal/format"
)

var utf16Dec = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

// loadLabel decodes $Volume's $VOLUME_NAME value. The label is best-effort
// everywhere Windows touches it, so a missing, non-resident or undecodable
// label leaves the field empty instead of failing the mount.
func (v *Volume) loadLabel() {
	a, err := v.volFile.Attr(format.AttrLabel, "")
	if err != nil || a.NonRes || a.IsExt() {
		return
	}
	raw, err := a.ResidentData()
	if err != nil {
		return
	}
	s, err := utf16Dec.Bytes(raw)
	if err != nil {
		return
	}
	v.label = string(s)
}
