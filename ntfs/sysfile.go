package ntfs

import (
	"fmt"
	"io"

	"github.com/joshuapare/ntfskit/internal/buf"
	"github.com/joshuapare/ntfskit/internal/format"
)

// File is a loaded MFT record together with the decoded view of its
// attributes and an io.ReaderAt over its unnamed $DATA stream. The mount
// path only ever loads whole system files; there is no lazy attribute
// resolution here.
type File struct {
	num   uint64
	rec   []byte // fixups already applied
	hdr   format.RecordHeader
	attrs []format.Attr
	usn   uint16 // update-sequence tag the record carried on disk

	// Unnamed $DATA stream.
	runs  []format.Run
	data  io.ReaderAt
	size  uint64
	valid uint64
}

// Num returns the MFT record number.
func (f *File) Num() uint64 { return f.num }

// Header returns the decoded record header.
func (f *File) Header() format.RecordHeader { return f.hdr }

// Record returns the fixed-up record buffer. Mutations must go through
// writeRecord to restore the update-sequence protection.
func (f *File) Record() []byte { return f.rec }

// Attrs returns the decoded attributes in on-disk order.
func (f *File) Attrs() []format.Attr { return f.attrs }

// Attr returns the first attribute of the given type and name.
func (f *File) Attr(typ uint32, name string) (*format.Attr, error) {
	return format.FindAttr(f.attrs, typ, name)
}

// Data returns a reader over the unnamed $DATA stream.
func (f *File) Data() io.ReaderAt { return f.data }

// Size returns the unnamed $DATA stream size in bytes.
func (f *File) Size() uint64 { return f.size }

// ValidSize returns the initialized prefix of the stream; bytes past it
// read as zero.
func (f *File) ValidSize() uint64 { return f.valid }

// Runs returns the stream's extents (nil for resident data).
func (f *File) Runs() []format.Run { return f.runs }

// ReadAll copies the whole unnamed $DATA stream, capped by limit to keep
// hostile on-disk sizes from driving allocations.
func (f *File) ReadAll(limit uint64) ([]byte, error) {
	if f.size > limit {
		return nil, fmt.Errorf("record %d: stream %d over cap %d: %w", f.num, f.size, limit, ErrNoMemory)
	}
	out := make([]byte, f.size)
	if f.size == 0 {
		return out, nil
	}
	if _, err := f.data.ReadAt(out, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("record %d: read stream: %w", f.num, err)
	}
	return out, nil
}

// sysSeq is the expected sequence number of a well-known record: equal to
// the record number, except $MFT itself which was created with sequence 1.
func sysSeq(n uint64) uint16 {
	if n == format.RecMFT {
		return 1
	}
	return uint16(n)
}

// newFileFromRecord verifies fixups, parses the header and attributes, and
// resolves the unnamed $DATA stream of a raw record image.
func newFileFromRecord(dev Device, g *Geometry, num uint64, raw []byte, wantSeq uint16) (*File, error) {
	usn := format.ReadU16(raw, int(format.ReadU16(raw, format.RecordFixupOffOffset)))
	if err := format.ApplyFixups(raw); err != nil {
		return nil, fmt.Errorf("record %d: %w: %w", num, err, ErrInvalidFormat)
	}
	hdr, err := format.ParseRecordHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w: %w", num, err, ErrInvalidFormat)
	}
	if !hdr.InUse() {
		return nil, fmt.Errorf("record %d: not in use: %w", num, ErrInvalidFormat)
	}
	if wantSeq != 0 && hdr.Seq != wantSeq {
		return nil, fmt.Errorf("record %d: sequence %d, want %d: %w", num, hdr.Seq, wantSeq, ErrInvalidFormat)
	}
	attrs, err := format.Attrs(raw, hdr)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w: %w", num, err, ErrInvalidFormat)
	}
	f := &File{num: num, rec: raw, hdr: hdr, attrs: attrs, usn: usn}
	if err := f.resolveData(dev, g); err != nil {
		return nil, err
	}
	return f, nil
}

// resolveData wires f.data to the unnamed $DATA stream. Records without one
// (directories) get an empty reader.
func (f *File) resolveData(dev Device, g *Geometry) error {
	a, err := f.Attr(format.AttrData, "")
	if err != nil {
		f.data = emptyReader{}
		return nil
	}
	if a.IsExt() {
		return fmt.Errorf("record %d: extended $DATA: %w", f.num, ErrUnsupported)
	}
	if !a.NonRes {
		v, err := a.ResidentData()
		if err != nil {
			return fmt.Errorf("record %d: %w: %w", f.num, err, ErrInvalidFormat)
		}
		f.size = uint64(len(v))
		f.valid = f.size
		f.data = byteReader(v)
		return nil
	}
	rd, err := a.RunData()
	if err != nil {
		return fmt.Errorf("record %d: %w: %w", f.num, err, ErrInvalidFormat)
	}
	runs, err := format.DecodeRuns(rd, a.StartVCN)
	if err != nil {
		return fmt.Errorf("record %d: %w: %w", f.num, err, ErrInvalidFormat)
	}
	f.runs = runs
	f.size = a.DataSize
	f.valid = a.ValidSize
	f.data = &runReader{dev: dev, g: g, runs: runs, size: a.DataSize, valid: a.ValidSize}
	return nil
}

// namedStreamRuns decodes the run list of a named $DATA stream (the
// bad-cluster file keeps its extents in "$Bad").
func (f *File) namedStreamRuns(name string) ([]format.Run, uint64, error) {
	a, err := f.Attr(format.AttrData, name)
	if err != nil {
		return nil, 0, err
	}
	if !a.NonRes {
		return nil, uint64(a.ValueLen), nil
	}
	rd, err := a.RunData()
	if err != nil {
		return nil, 0, fmt.Errorf("record %d: %w: %w", f.num, err, ErrInvalidFormat)
	}
	runs, err := format.DecodeRuns(rd, a.StartVCN)
	if err != nil {
		return nil, 0, fmt.Errorf("record %d: %w: %w", f.num, err, ErrInvalidFormat)
	}
	return runs, a.DataSize, nil
}

type emptyReader struct{}

func (emptyReader) ReadAt(p []byte, off int64) (int, error) { return 0, io.EOF }

type byteReader []byte

func (r byteReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(r)) {
		return 0, io.EOF
	}
	n := copy(p, r[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// runReader reads a non-resident stream through its run list. Sparse runs
// and the region past the valid size read as zeros; reads past the stream
// size return io.EOF.
type runReader struct {
	dev   Device
	g     *Geometry
	runs  []format.Run
	size  uint64
	valid uint64
}

func (r *runReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || uint64(off) >= r.size {
		return 0, io.EOF
	}
	want := len(p)
	if rem := r.size - uint64(off); uint64(want) > rem {
		want = int(rem)
	}
	done := 0
	for done < want {
		cur := uint64(off) + uint64(done)
		vcn := cur >> r.g.ClusterBits
		inCluster := cur & r.g.ClusterMask
		run, ok := findRunByVCN(r.runs, vcn)
		if !ok {
			return done, fmt.Errorf("stream: no run for vcn %d: %w", vcn, ErrInvalidFormat)
		}
		// Bytes left inside this run.
		runEnd := (run.VCN + run.Len) << r.g.ClusterBits
		chunk := want - done
		if rem := runEnd - cur; uint64(chunk) > rem {
			chunk = int(rem)
		}
		if run.LCN == format.SparseLCN || cur >= r.valid {
			for i := 0; i < chunk; i++ {
				p[done+i] = 0
			}
		} else {
			if v := r.valid - cur; uint64(chunk) > v {
				chunk = int(v)
			}
			lbo := (run.LCN+(vcn-run.VCN))<<r.g.ClusterBits + inCluster
			if _, err := r.dev.ReadAt(p[done:done+chunk], int64(lbo)); err != nil {
				return done, fmt.Errorf("stream: read lbo %d: %w", lbo, err)
			}
		}
		done += chunk
	}
	if done < len(p) {
		return done, io.EOF
	}
	return done, nil
}

func findRunByVCN(runs []format.Run, vcn uint64) (format.Run, bool) {
	for _, r := range runs {
		if vcn >= r.VCN && vcn < r.VCN+r.Len {
			return r, true
		}
	}
	return format.Run{}, false
}

// runApply walks len(p) bytes at stream offset off one physical extent at a
// time, handing each piece and its absolute device offset to fn. Records and
// bitmap blocks may straddle run boundaries, so a single contiguous I/O is
// never safe here. Sparse runs fail: callers moving raw metadata through
// this mapping must never hit an unallocated extent.
func runApply(runs []format.Run, clusterBits uint, off uint64, p []byte, fn func(chunk []byte, lbo uint64) error) error {
	mask := (uint64(1) << clusterBits) - 1
	for done := 0; done < len(p); {
		cur := off + uint64(done)
		vcn := cur >> clusterBits
		run, ok := findRunByVCN(runs, vcn)
		if !ok {
			return fmt.Errorf("stream: no run for vcn %d: %w", vcn, ErrInvalidFormat)
		}
		if run.LCN == format.SparseLCN {
			return fmt.Errorf("stream: sparse run at vcn %d: %w", vcn, ErrUnsupported)
		}
		chunk := len(p) - done
		if rem := (run.VCN+run.Len)<<clusterBits - cur; uint64(chunk) > rem {
			chunk = int(rem)
		}
		lbo := (run.LCN+(vcn-run.VCN))<<clusterBits + cur&mask
		if err := fn(p[done:done+chunk], lbo); err != nil {
			return err
		}
		done += chunk
	}
	return nil
}

// mft is the bootstrap handle over the primary MFT: record 0 plus a reader
// for every other record.
type mft struct {
	file *File
	dev  Device
	g    *Geometry
	used uint64 // initialized-record watermark (valid size in records)
}

// openMFT reads record 0 straight from the boot-sector MFT offset (the MFT
// describes itself, so nothing else can resolve it) and requires a
// non-resident unnamed $DATA stream held entirely in the base record. An
// aged table whose $DATA continues through $ATTRIBUTE_LIST extension
// records would leave the run list covering only the first extent, so that
// shape is refused up front rather than failing on a later record load.
func openMFT(dev Device, g *Geometry) (*mft, error) {
	raw := make([]byte, g.RecordSize)
	if _, err := dev.ReadAt(raw, int64(g.MFTOffset)); err != nil {
		return nil, fmt.Errorf("mft: read record 0: %w", err)
	}
	f, err := newFileFromRecord(dev, g, format.RecMFT, raw, sysSeq(format.RecMFT))
	if err != nil {
		return nil, err
	}
	if _, err := f.Attr(format.AttrList, ""); err == nil {
		return nil, fmt.Errorf("mft: attribute list extensions: %w", ErrUnsupported)
	}
	if len(f.runs) == 0 {
		return nil, fmt.Errorf("mft: resident $DATA: %w", ErrInvalidFormat)
	}
	if f.size>>g.RecordBits == 0 {
		return nil, fmt.Errorf("mft: empty table: %w", ErrInvalidFormat)
	}
	return &mft{file: f, dev: dev, g: g, used: f.valid >> g.RecordBits}, nil
}

// Records returns the number of records the table holds.
func (m *mft) Records() uint64 { return m.file.size >> m.g.RecordBits }

// UsedRecords returns the initialized-record watermark: slots past it have
// never been written and read back as zeros.
func (m *mft) UsedRecords() uint64 { return m.used }

// LoadRecord loads and verifies record n. wantSeq zero skips the sequence
// check (scans over possibly stale records).
func (m *mft) LoadRecord(n uint64, wantSeq uint16) (*File, error) {
	if n >= m.Records() {
		return nil, fmt.Errorf("mft: record %d of %d: %w", n, m.Records(), ErrInvalidFormat)
	}
	raw := make([]byte, m.g.RecordSize)
	if _, err := m.file.data.ReadAt(raw, int64(n<<m.g.RecordBits)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("mft: read record %d: %w", n, err)
	}
	return newFileFromRecord(m.dev, m.g, n, raw, wantSeq)
}

// OpenSys loads the well-known system record n with its fixed sequence.
func (m *mft) OpenSys(n uint64) (*File, error) {
	return m.LoadRecord(n, sysSeq(n))
}

// ReadRecordRaw reads record n with its on-disk fixups intact, extent by
// extent.
func (m *mft) ReadRecordRaw(n uint64, out []byte) error {
	return runApply(m.file.runs, m.g.ClusterBits, n<<m.g.RecordBits, out, func(chunk []byte, lbo uint64) error {
		_, err := m.dev.ReadAt(chunk, int64(lbo))
		return err
	})
}

// WriteRecord re-protects a fixed-up record buffer with the next update
// sequence number and writes it at record n's position.
func (m *mft) WriteRecord(dev WritableDevice, n uint64, rec []byte, usn uint16) error {
	out := make([]byte, len(rec))
	copy(out, rec)
	usn++
	if usn == 0 {
		usn = 1
	}
	if err := format.InsertFixups(out, usn); err != nil {
		return fmt.Errorf("mft: record %d: %w: %w", n, err, ErrInvalidFormat)
	}
	err := runApply(m.file.runs, m.g.ClusterBits, n<<m.g.RecordBits, out, func(chunk []byte, lbo uint64) error {
		_, werr := dev.WriteAt(chunk, int64(lbo))
		return werr
	})
	if err != nil {
		return fmt.Errorf("mft: write record %d: %w", n, err)
	}
	return nil
}

// recordBitmap loads the MFT's $BITMAP attribute, which tracks which record
// slots are in use.
func (m *mft) recordBitmap() (*Bitmap, error) {
	nbits := m.Records()
	a, err := m.file.Attr(format.AttrBitmap, "")
	if err != nil {
		return nil, fmt.Errorf("mft: no record bitmap: %w", ErrInvalidFormat)
	}
	var data []byte
	if a.NonRes {
		rd, err := a.RunData()
		if err != nil {
			return nil, fmt.Errorf("mft: %w: %w", err, ErrInvalidFormat)
		}
		runs, err := format.DecodeRuns(rd, a.StartVCN)
		if err != nil {
			return nil, fmt.Errorf("mft: %w: %w", err, ErrInvalidFormat)
		}
		r := &runReader{dev: m.dev, g: m.g, runs: runs, size: a.DataSize, valid: a.ValidSize}
		data = make([]byte, a.DataSize)
		if _, err := r.ReadAt(data, 0); err != nil && err != io.EOF {
			return nil, fmt.Errorf("mft: read record bitmap: %w", err)
		}
	} else {
		v, err := a.ResidentData()
		if err != nil {
			return nil, fmt.Errorf("mft: %w: %w", err, ErrInvalidFormat)
		}
		data = v
	}
	if !buf.Has(data, 0, int((nbits+7)/8)) {
		return nil, fmt.Errorf("mft: record bitmap %d bytes for %d records: %w", len(data), nbits, ErrInvalidFormat)
	}
	return LoadBitmap(data, nbits, true)
}
