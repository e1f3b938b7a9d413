package ntfs

import (
	"errors"
	"fmt"
)

// discardClusters forwards a freed cluster run to the device as a TRIM,
// aligned to the discard granularity: start rounds up, end rounds down, so
// only whole granules are issued. The allocator hint rewinds when the freed
// run abuts the lowest known free cluster.
//
// A device that rejects discards once is not asked again.
func (v *Volume) discardClusters(lcn, count uint64) error {
	if v.used != nil {
		v.used.TrimHint(lcn)
	}
	if v.noDiscard || !v.opts.Discard || v.opts.DiscardGranularity == 0 {
		return fmt.Errorf("discard: disabled: %w", ErrUnsupported)
	}
	d, ok := v.dev.(Discarder)
	if !ok {
		v.noDiscard = true
		return fmt.Errorf("discard: device has no discard: %w", ErrUnsupported)
	}

	gran := uint64(v.opts.DiscardGranularity)
	lbo := lcn << v.g.ClusterBits
	bytes := count << v.g.ClusterBits
	start := (lbo + gran - 1) &^ (gran - 1)
	end := (lbo + bytes) &^ (gran - 1)
	if start >= end {
		return nil
	}

	err := d.Discard(int64(start), int64(end-start))
	if errors.Is(err, ErrUnsupported) {
		v.noDiscard = true
	}
	return err
}
