package ntfs

import (
	"fmt"
	"math/bits"
	"sync"
)

// Bitmap is the window over a persistent bit vector: one bit per cluster or
// per MFT record slot. It keeps the full vector in memory, a running count
// of set bits, and a cached lower bound on the lowest free bit so repeated
// allocations do not rescan the head of the vector.
//
// Invariants: the used count always equals the number of ones among the
// first nbits; every bit below nextFree is set. Mutations are serialized by
// a per-bitmap mutex; Used/Zeroes snapshots may be stale under concurrency.
type Bitmap struct {
	mu       sync.Mutex
	words    []uint64
	nbits    uint64
	used     uint64
	nextFree uint64
	setTail  bool

	// Reserved zone [zoneBit, zoneEnd): general allocations skip it so the
	// MFT can grow contiguously.
	zoneBit uint64
	zoneEnd uint64
}

// NewBitmap returns an all-free bitmap of nbits bits. With setTail, bits
// past nbits in the final word are treated as implicitly used, so flushing
// the vector back to a partial final block never exposes phantom free bits.
func NewBitmap(nbits uint64, setTail bool) *Bitmap {
	w := &Bitmap{
		words:   make([]uint64, (nbits+63)/64),
		nbits:   nbits,
		setTail: setTail,
	}
	w.padTail()
	return w
}

// LoadBitmap builds a bitmap from its backing bytes. data must cover at
// least ceil(nbits/8) bytes; the used count is established by scanning.
func LoadBitmap(data []byte, nbits uint64, setTail bool) (*Bitmap, error) {
	need := (nbits + 7) / 8
	if uint64(len(data)) < need {
		return nil, fmt.Errorf("bitmap: %d bytes for %d bits: %w", len(data), nbits, ErrInvalidFormat)
	}
	w := NewBitmap(nbits, setTail)
	for i := uint64(0); i < need; i++ {
		w.words[i/8] |= uint64(data[i]) << (8 * (i % 8))
	}
	w.padTail()
	var used uint64
	for i, word := range w.words {
		if uint64(i) == uint64(len(w.words))-1 {
			word &= w.lastMask()
		}
		used += uint64(bits.OnesCount64(word))
	}
	w.used = used
	w.nextFree = w.scanNextFree(0)
	return w, nil
}

// Bytes serializes the vector for write-back to its backing store.
func (w *Bitmap) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]byte, (w.nbits+7)/8)
	for i := range out {
		out[i] = byte(w.words[i/8] >> (8 * (uint64(i) % 8)))
	}
	return out
}

// Size returns the number of addressable bits.
func (w *Bitmap) Size() uint64 { return w.nbits }

// Used returns a snapshot of the set-bit count.
func (w *Bitmap) Used() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.used
}

// Zeroes returns a snapshot of the free-bit count.
func (w *Bitmap) Zeroes() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nbits - w.used
}

// SetZone reserves [start, end) from general allocation. A zero-length
// zone clears the reservation.
func (w *Bitmap) SetZone(start, end uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.zoneBit, w.zoneEnd = start, end
}

// Zone returns the reserved range.
func (w *Bitmap) Zone() (start, end uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.zoneBit, w.zoneEnd
}

// ZoneLen returns the reserved range length.
func (w *Bitmap) ZoneLen() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.zoneEnd - w.zoneBit
}

// Allocate finds count contiguous free bits at or after hint, falling back
// to a scan from the lowest known free bit, marks them used and returns the
// starting position. The reserved zone is skipped while free space exists
// outside it; once it does not, the zone shrinks from its tail and the
// exposed bits become allocatable. Fails with ErrNoSpace only when no run
// of the requested length exists anywhere.
func (w *Bitmap) Allocate(count, hint uint64) (uint64, error) {
	if count == 0 {
		return 0, fmt.Errorf("bitmap: zero-length allocation: %w", ErrNoSpace)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if count > w.nbits-w.used {
		return 0, fmt.Errorf("bitmap: want %d, %d free: %w", count, w.nbits-w.used, ErrNoSpace)
	}
	start := hint
	if start > w.nbits {
		start = w.nbits
	}
	if start < w.nextFree {
		start = w.nextFree
	}
	p, ok := w.findRun(start, w.nbits, count)
	if !ok && start > w.nextFree {
		// Wrap: everything below nextFree is known used.
		p, ok = w.findRun(w.nextFree, start+count, count)
	}
	// Under pressure the reserved zone gives ground: shrink it from the
	// tail and rescan until a run appears or the zone is gone.
	for !ok && w.zoneEnd > w.zoneBit {
		zlen := w.zoneEnd - w.zoneBit
		trim := zlen >> 1
		if trim < count {
			trim = count
		}
		if trim >= zlen {
			w.zoneBit, w.zoneEnd = 0, 0
		} else {
			w.zoneEnd -= trim
		}
		p, ok = w.findRun(w.nextFree, w.nbits, count)
	}
	if !ok {
		return 0, fmt.Errorf("bitmap: no run of %d bits: %w", count, ErrNoSpace)
	}
	w.setRange(p, count)
	w.used += count
	if p <= w.nextFree {
		w.nextFree = w.scanNextFree(p + count)
	}
	return p, nil
}

// Free clears a previously allocated range and rewinds the free hint when
// the range precedes it. Clearing an already-free bit means the callers'
// accounting is corrupt, which is reported rather than masked.
func (w *Bitmap) Free(start, count uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if start+count > w.nbits || start+count < start {
		return fmt.Errorf("bitmap: free [%d,%d) beyond %d bits: %w", start, start+count, w.nbits, ErrInvalidFormat)
	}
	if !w.rangeSet(start, count) {
		return fmt.Errorf("bitmap: double free at [%d,%d): %w", start, start+count, ErrInvalidFormat)
	}
	w.clearRange(start, count)
	w.used -= count
	if start < w.nextFree {
		w.nextFree = start
	}
	return nil
}

// MarkUsed sets a range unconditionally, for bootstrap accounting.
func (w *Bitmap) MarkUsed(start, count uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if start+count > w.nbits || start+count < start {
		return fmt.Errorf("bitmap: mark [%d,%d) beyond %d bits: %w", start, start+count, w.nbits, ErrInvalidFormat)
	}
	for i := start; i < start+count; i++ {
		if w.words[i/64]&(1<<(i%64)) == 0 {
			w.words[i/64] |= 1 << (i % 64)
			w.used++
		}
	}
	if start <= w.nextFree {
		w.nextFree = w.scanNextFree(w.nextFree)
	}
	return nil
}

// IsUsed reports whether every bit of [start, start+count) is set.
func (w *Bitmap) IsUsed(start, count uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if start+count > w.nbits {
		return false
	}
	return w.rangeSet(start, count)
}

// IsFree reports whether every bit of [start, start+count) is clear.
func (w *Bitmap) IsFree(start, count uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if start+count > w.nbits {
		return false
	}
	for i := start; i < start+count; i++ {
		if w.words[i/64]&(1<<(i%64)) != 0 {
			return false
		}
	}
	return true
}

// FindFree returns the first free run at or after hint, capped to max bits.
// A zero length means nothing is free there. Used by the MFT-zone
// recomputation, which wants "as much as available up to the cap".
func (w *Bitmap) FindFree(max, hint uint64) (start, length uint64) {
	if max == 0 {
		return 0, 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	i := hint
	for i < w.nbits {
		if w.bitSet(i) {
			i++
			continue
		}
		j := i
		for j < w.nbits && j-i < max && !w.bitSet(j) {
			j++
		}
		return i, j - i
	}
	return 0, 0
}

// TrimHint rewinds the free hint to bit when the caller knows the range at
// bit was just returned to the free pool (discard path).
func (w *Bitmap) TrimHint(bit uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if bit < w.nextFree {
		w.nextFree = bit
	}
}

// ---- internals (callers hold w.mu) ----

func (w *Bitmap) lastMask() uint64 {
	if r := w.nbits % 64; r != 0 {
		return (uint64(1) << r) - 1
	}
	return ^uint64(0)
}

func (w *Bitmap) padTail() {
	if !w.setTail || len(w.words) == 0 {
		return
	}
	if r := w.nbits % 64; r != 0 {
		w.words[len(w.words)-1] |= ^((uint64(1) << r) - 1)
	}
}

func (w *Bitmap) bitSet(i uint64) bool {
	return w.words[i/64]&(1<<(i%64)) != 0
}

func (w *Bitmap) inZone(i uint64) bool {
	return i >= w.zoneBit && i < w.zoneEnd
}

func (w *Bitmap) setRange(start, count uint64) {
	for i := start; i < start+count; i++ {
		w.words[i/64] |= 1 << (i % 64)
	}
}

func (w *Bitmap) clearRange(start, count uint64) {
	for i := start; i < start+count; i++ {
		w.words[i/64] &^= 1 << (i % 64)
	}
}

func (w *Bitmap) rangeSet(start, count uint64) bool {
	for i := start; i < start+count; i++ {
		if !w.bitSet(i) {
			return false
		}
	}
	return true
}

// scanNextFree returns the lowest free bit at or after from (or nbits).
func (w *Bitmap) scanNextFree(from uint64) uint64 {
	i := from
	for i < w.nbits {
		if i%64 == 0 && w.words[i/64] == ^uint64(0) {
			i += 64
			continue
		}
		if !w.bitSet(i) {
			return i
		}
		i++
	}
	return w.nbits
}

// findRun locates count contiguous free bits in [from, limit), skipping the
// reserved zone.
func (w *Bitmap) findRun(from, limit, count uint64) (uint64, bool) {
	if limit > w.nbits {
		limit = w.nbits
	}
	if count > limit || from > limit-count {
		return 0, false
	}
	i := from
	for i <= limit-count {
		if w.inZone(i) {
			i = w.zoneEnd
			continue
		}
		if w.bitSet(i) {
			// Skip whole words of ones in the common fragmented case.
			if i%64 == 0 && w.words[i/64] == ^uint64(0) {
				i += 64
				continue
			}
			i++
			continue
		}
		j := i + 1
		for j < i+count && j < limit && !w.bitSet(j) && !w.inZone(j) {
			j++
		}
		if j-i >= count {
			return i, true
		}
		i = j
		if w.inZone(i) {
			i = w.zoneEnd
		} else if i < limit && w.bitSet(i) {
			i++
		}
	}
	return 0, false
}
