package ntfs

import (
	"fmt"

	"github.com/joshuapare/ntfskit/internal/format"
)

// loadUpcase reads the case-folding table. The stream size is exact: 64K
// 16-bit entries, nothing more, nothing less. The normalized table is
// offered to the shared registry; when an identical table is already
// registered the volume adopts that copy and the fresh one is dropped.
func (v *Volume) loadUpcase() error {
	f, err := v.mft.OpenSys(format.RecUpCase)
	if err != nil {
		return fmt.Errorf("$UpCase: %w", err)
	}
	if f.Size() != format.UpcaseSize {
		return fmt.Errorf("$UpCase: %d bytes, want %d: %w", f.Size(), format.UpcaseSize, ErrInvalidFormat)
	}
	raw, err := f.ReadAll(format.UpcaseSize)
	if err != nil {
		return fmt.Errorf("$UpCase: %w", err)
	}

	tbl := make([]uint16, format.UpcaseEntries)
	for i := range tbl {
		tbl[i] = format.ReadU16(raw, 2*i)
	}

	stored, shared := v.shared.Acquire(tbl)
	v.upcase = stored
	v.upcaseShared = shared
	return nil
}
