package format

import "fmt"

// SparseLCN marks a run with no physical backing (a hole or an unwritten
// extent). Reads from sparse runs yield zeros.
const SparseLCN = ^uint64(0)

// Run is one extent of a non-resident attribute: Len clusters starting at
// VCN, backed by LCN (or SparseLCN).
type Run struct {
	VCN uint64
	LCN uint64
	Len uint64
}

// DecodeRuns decodes an on-disk run list. Each entry starts with a size
// nibble pair (high = LCN delta bytes, low = length bytes), followed by the
// little-endian length and the sign-extended LCN delta relative to the
// previous run. A zero LCN size means a sparse run. startVCN is the VCN of
// the first run (the attribute's starting VCN).
func DecodeRuns(b []byte, startVCN uint64) ([]Run, error) {
	var runs []Run
	vcn := startVCN
	lcn := int64(0)
	pos := 0
	for pos < len(b) && b[pos] != 0 {
		hdr := b[pos]
		lenSz := int(hdr & 0xF)
		lcnSz := int(hdr >> 4)
		pos++
		if lenSz == 0 || lenSz > 8 || lcnSz > 8 || pos+lenSz+lcnSz > len(b) {
			return nil, fmt.Errorf("run list: bad entry header 0x%02x at %d: %w", hdr, pos-1, ErrTruncated)
		}
		length := uint64(0)
		for i := lenSz - 1; i >= 0; i-- {
			length = length<<8 | uint64(b[pos+i])
		}
		pos += lenSz
		if length == 0 {
			return nil, fmt.Errorf("run list: zero-length run at %d: %w", pos, ErrTruncated)
		}
		r := Run{VCN: vcn, Len: length, LCN: SparseLCN}
		if lcnSz > 0 {
			delta := int64(0)
			for i := lcnSz - 1; i >= 0; i-- {
				delta = delta<<8 | int64(b[pos+i])
			}
			// Sign extend from the top byte of the encoded delta.
			shift := uint(64 - 8*lcnSz)
			delta = delta << shift >> shift
			lcn += delta
			if lcn < 0 {
				return nil, fmt.Errorf("run list: negative LCN at %d: %w", pos, ErrTruncated)
			}
			r.LCN = uint64(lcn)
			pos += lcnSz
		}
		runs = append(runs, r)
		vcn += length
	}
	return runs, nil
}

// RunsClusters sums the length of all runs.
func RunsClusters(runs []Run) uint64 {
	var n uint64
	for _, r := range runs {
		n += r.Len
	}
	return n
}

// EncodeRuns produces the on-disk encoding of runs (used by the mirror
// write-back path and the test image builders). Runs must be VCN-ordered.
func EncodeRuns(runs []Run) []byte {
	var out []byte
	lcn := int64(0)
	for _, r := range runs {
		lenSz := packedSize(int64(r.Len))
		if r.LCN == SparseLCN {
			out = append(out, byte(lenSz))
			out = appendLE(out, int64(r.Len), lenSz)
			continue
		}
		delta := int64(r.LCN) - lcn
		lcn = int64(r.LCN)
		lcnSz := packedSize(delta)
		out = append(out, byte(lcnSz<<4|lenSz))
		out = appendLE(out, int64(r.Len), lenSz)
		out = appendLE(out, delta, lcnSz)
	}
	return append(out, 0)
}

// packedSize returns the minimum number of bytes needed to hold v as a
// little-endian signed integer.
func packedSize(v int64) int {
	for n := 1; n < 8; n++ {
		shift := uint(64 - 8*n)
		if v<<shift>>shift == v {
			return n
		}
	}
	return 8
}

func appendLE(out []byte, v int64, n int) []byte {
	for i := 0; i < n; i++ {
		out = append(out, byte(v>>uint(8*i)))
	}
	return out
}
