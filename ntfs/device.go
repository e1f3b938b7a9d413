package ntfs

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/joshuapare/ntfskit/internal/mmfile"
)

const (
	// dirtyRangeCapacity is the pre-allocated capacity for dirty ranges.
	// This reduces allocations during typical write-back workloads.
	dirtyRangeCapacity = 64

	// flushPageSize is the alignment unit for coalesced flushes.
	flushPageSize = 4096
)

// Device is the read side of a volume backing store. SectorSize reports the
// logical sector size of the underlying device; geometry validation compares
// it against the sector size recorded in the boot sector.
type Device interface {
	io.ReaderAt
	Size() int64
	SectorSize() uint32
}

// WritableDevice extends Device with write-back. Sync must not return until
// every completed WriteAt is durable.
type WritableDevice interface {
	Device
	io.WriterAt
	Sync() error
}

// Discarder is implemented by devices that can drop the backing for a byte
// range (TRIM). Ranges are advisory: a failed or unsupported discard never
// affects correctness.
type Discarder interface {
	Discard(off, length int64) error
}

// MemDevice is an in-memory Device for tests and image manipulation.
type MemDevice struct {
	mu     sync.RWMutex
	data   []byte
	sector uint32

	// DiscardErr, when set, is returned from Discard to exercise the
	// not-supported paths.
	DiscardErr error

	// Discards records the ranges passed to Discard.
	Discards [][2]int64
}

// NewMemDevice wraps data as a device with the given sector size.
func NewMemDevice(data []byte, sectorSize uint32) *MemDevice {
	return &MemDevice{data: data, sector: sectorSize}
}

func (d *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if off < 0 || off >= int64(len(d.data)) {
		return 0, io.EOF
	}
	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (d *MemDevice) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(d.data)) {
		return 0, fmt.Errorf("memdevice: write [%d,%d) beyond %d bytes", off, off+int64(len(p)), len(d.data))
	}
	copy(d.data[off:], p)
	return len(p), nil
}

func (d *MemDevice) Size() int64        { return int64(len(d.data)) }
func (d *MemDevice) SectorSize() uint32 { return d.sector }
func (d *MemDevice) Sync() error        { return nil }

// Discard zero-fills the range, which is what a deterministic-read-zero
// device would do.
func (d *MemDevice) Discard(off, length int64) error {
	if d.DiscardErr != nil {
		return d.DiscardErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Discards = append(d.Discards, [2]int64{off, length})
	end := off + length
	if end > int64(len(d.data)) {
		end = int64(len(d.data))
	}
	for i := off; i < end; i++ {
		d.data[i] = 0
	}
	return nil
}

// Bytes exposes the raw image, for test assertions.
func (d *MemDevice) Bytes() []byte { return d.data }

// byteRange is a dirty byte range in absolute device offsets.
type byteRange struct {
	off int64
	len int64
}

// FileDevice memory-maps a volume image file. Writes land in the mapping
// and are tracked as dirty ranges; Sync coalesces them into page-aligned
// runs and msyncs each one, so a mount that only touches the dirty flag and
// the mirror never flushes the whole image.
//
// Reads and writes may run concurrently; the dirty-range list is guarded
// separately from the mapping.
type FileDevice struct {
	f        *os.File
	data     []byte
	unmap    func() error
	sector   uint32
	writable bool

	mu     sync.Mutex
	ranges []byteRange
	closed bool
}

// OpenFileDevice maps path. With writable false the mapping is read-only
// and WriteAt fails. sectorSize zero defaults to 512.
func OpenFileDevice(path string, writable bool, sectorSize uint32) (*FileDevice, error) {
	if sectorSize == 0 {
		sectorSize = 512
	}
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", path, err)
	}
	data, unmap, err := mmfile.Map(path, writable)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("device: map %s: %w", path, err)
	}
	return &FileDevice{
		f:        f,
		data:     data,
		unmap:    unmap,
		sector:   sectorSize,
		writable: writable,
		ranges:   make([]byteRange, 0, dirtyRangeCapacity),
	}, nil
}

func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(d.data)) {
		return 0, io.EOF
	}
	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	if !d.writable {
		return 0, fmt.Errorf("device: read-only mapping: %w", ErrUnsupported)
	}
	if off < 0 || off+int64(len(p)) > int64(len(d.data)) {
		return 0, fmt.Errorf("device: write [%d,%d) beyond %d bytes", off, off+int64(len(p)), len(d.data))
	}
	copy(d.data[off:], p)
	d.mu.Lock()
	d.ranges = append(d.ranges, byteRange{off: off, len: int64(len(p))})
	d.mu.Unlock()
	return len(p), nil
}

func (d *FileDevice) Size() int64        { return int64(len(d.data)) }
func (d *FileDevice) SectorSize() uint32 { return d.sector }

// Sync flushes the tracked dirty ranges and then the file metadata.
func (d *FileDevice) Sync() error {
	if !d.writable {
		return nil
	}
	d.mu.Lock()
	ranges := d.ranges
	d.ranges = make([]byteRange, 0, dirtyRangeCapacity)
	d.mu.Unlock()

	for _, r := range coalesceRanges(ranges, int64(len(d.data))) {
		if err := mmfile.Sync(d.data, int(r.off), int(r.len)); err != nil {
			return fmt.Errorf("device: msync [%d,%d): %w", r.off, r.off+r.len, err)
		}
	}
	if err := d.f.Sync(); err != nil {
		return fmt.Errorf("device: fsync: %w", err)
	}
	return nil
}

// Close flushes, unmaps and closes the file. Idempotent.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	var first error
	if d.writable {
		if err := d.Sync(); err != nil && first == nil {
			first = err
		}
	}
	if err := d.unmap(); err != nil && first == nil {
		first = err
	}
	if err := d.f.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// coalesceRanges page-aligns, sorts and merges dirty ranges so overlapping
// writes flush once.
func coalesceRanges(ranges []byteRange, size int64) []byteRange {
	if len(ranges) == 0 {
		return nil
	}
	aligned := make([]byteRange, len(ranges))
	for i, r := range ranges {
		start := (r.off / flushPageSize) * flushPageSize
		end := r.off + r.len
		if rem := end % flushPageSize; rem != 0 {
			end += flushPageSize - rem
		}
		if end > size {
			end = size
		}
		aligned[i] = byteRange{off: start, len: end - start}
	}
	sort.Slice(aligned, func(i, j int) bool { return aligned[i].off < aligned[j].off })

	out := aligned[:1]
	for _, r := range aligned[1:] {
		last := &out[len(out)-1]
		if r.off <= last.off+last.len {
			if end := r.off + r.len; end > last.off+last.len {
				last.len = end - last.off
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
