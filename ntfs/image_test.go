package ntfs

import (
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/ntfskit/internal/format"
)

// Synthetic volume layout used by the end-to-end tests: 511 sectors of 512
// bytes, 4K clusters (63 whole ones), 1K records, 16 record slots.
//
//	cluster  use
//	-------  -------------------------------
//	      0  boot sector
//	    1-3  free
//	    4-7  $MFT (16 records)
//	      8  $MFTMirr (4 records)
//	      9  $Bitmap data
//	     10  $AttrDef data
//	  11-15  free (becomes the MFT zone)
//	  16-47  $UpCase data (128K)
//	  48-49  $LogFile data
//	  50-62  free
const (
	tiClusterSize = 4096
	tiRecordSize  = 1024
	tiClusters    = 63
	tiMFTLCN      = 4
	tiMirrLCN     = 8
	tiBitmapLCN   = 9
	tiAttrDefLCN  = 10
	tiUpcaseLCN   = 16
	tiLogLCN      = 48
	tiLogBytes    = 2 * tiClusterSize
	tiImageBytes  = 64 * tiClusterSize
)

// tiBitmapBytes marks the clusters the layout table occupies.
var tiBitmapBytes = []byte{0xF1, 0x07, 0xFF, 0xFF, 0xFF, 0xFF, 0x03, 0x00}

type imageOpts struct {
	major, minor uint8
	dirty        bool

	// logContent overwrites the default pristine (0xFF) journal.
	logContent []byte

	// attrdef overrides the default attribute-definition table.
	attrdef []byte

	// mutateRecord edits record n before fixups are inserted.
	mutateRecord func(n int, rec []byte)

	// mutateImage edits the final image bytes.
	mutateImage func(b []byte)
}

func defaultImage() imageOpts {
	return imageOpts{major: 3, minor: 1}
}

func utf16le(s string) []byte {
	u := utf16.Encode([]rune(s))
	b := make([]byte, 2*len(u))
	for i, c := range u {
		format.PutU16(b, 2*i, c)
	}
	return b
}

// tRecord stamps an empty in-use record.
func tRecord(seq, flags uint16) []byte {
	rec := stampRecordTemplate(tiRecordSize)
	format.PutU16(rec, format.RecordSeqOffset, seq)
	format.PutU16(rec, format.RecordFlagsOffset, format.RecordFlagInUse|flags)
	return rec
}

// tAppendAttr splices an encoded attribute in front of the terminator.
func tAppendAttr(t *testing.T, rec, attr []byte) {
	t.Helper()
	used := format.ReadU32(rec, format.RecordUsedOffset)
	term := int(used) - format.QuadAlign(format.AttrTypeSize)
	require.LessOrEqual(t, int(used)+len(attr), len(rec), "attribute overflows record")
	copy(rec[term:], attr)
	format.PutU32(rec, term+len(attr), format.AttrEnd)
	format.PutU32(rec, format.RecordUsedOffset, used+uint32(len(attr)))
}

// tResAttr encodes a resident attribute.
func tResAttr(typ uint32, name string, value []byte) []byte {
	nameRaw := utf16le(name)
	nameOff := format.AttrResHeaderSize
	valOff := format.QuadAlign(nameOff + len(nameRaw))
	size := format.QuadAlign(valOff + len(value))

	b := make([]byte, size)
	format.PutU32(b, format.AttrTypeOffset, typ)
	format.PutU32(b, format.AttrSizeOffset, uint32(size))
	b[format.AttrNameLenOffset] = byte(len(nameRaw) / 2)
	format.PutU16(b, format.AttrNameOffOffset, uint16(nameOff))
	format.PutU32(b, format.AttrResValueLenOffset, uint32(len(value)))
	format.PutU16(b, format.AttrResValueOffOffset, uint16(valOff))
	copy(b[nameOff:], nameRaw)
	copy(b[valOff:], value)
	return b
}

// tNonResAttr encodes a non-resident attribute over the given extents.
func tNonResAttr(typ uint32, name string, runs []format.Run, dataSize uint64) []byte {
	nameRaw := utf16le(name)
	nameOff := format.AttrNRHeaderSize
	runOff := format.QuadAlign(nameOff + len(nameRaw))
	rl := format.EncodeRuns(runs)
	size := format.QuadAlign(runOff + len(rl))

	clusters := format.RunsClusters(runs)
	b := make([]byte, size)
	format.PutU32(b, format.AttrTypeOffset, typ)
	format.PutU32(b, format.AttrSizeOffset, uint32(size))
	b[format.AttrNonResOffset] = 1
	b[format.AttrNameLenOffset] = byte(len(nameRaw) / 2)
	format.PutU16(b, format.AttrNameOffOffset, uint16(nameOff))
	format.PutU64(b, format.AttrNRStartVCNOffset, runs[0].VCN)
	format.PutU64(b, format.AttrNREndVCNOffset, runs[0].VCN+clusters-1)
	format.PutU16(b, format.AttrNRRunOffOffset, uint16(runOff))
	format.PutU64(b, format.AttrNRAllocOffset, clusters*tiClusterSize)
	format.PutU64(b, format.AttrNRSizeOffset, dataSize)
	format.PutU64(b, format.AttrNRValidOffset, dataSize)
	copy(b[nameOff:], nameRaw)
	copy(b[runOff:], rl)
	return b
}

// tFileNameValue encodes a minimal $FILE_NAME value pointing at a parent.
func tFileNameValue(parentRec uint64, parentSeq uint16, name string) []byte {
	nameRaw := utf16le(name)
	b := make([]byte, format.FileNameNameOffset+len(nameRaw))
	format.PutU64(b, format.FileNameParentOffset, parentRec|uint64(parentSeq)<<48)
	b[format.FileNameLenOffset] = byte(len(nameRaw) / 2)
	b[format.FileNameTypeOffset] = 3 // Win32+DOS
	copy(b[format.FileNameNameOffset:], nameRaw)
	return b
}

// tAttrDefBytes builds a $AttrDef table: the standard rows ascending in
// type, a 0xC0 row capping reparse payloads at 0x4000, and one trailing row
// with a dirty low nibble that the loader must truncate away.
func tAttrDefBytes() []byte {
	types := []uint32{
		0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0x80,
		0x90, 0xA0, 0xB0, 0xC0, 0xD0, 0xE0, 0x100,
		0x105, // invalid: truncation point
	}
	b := make([]byte, len(types)*format.AttrDefEntrySize)
	for i, typ := range types {
		off := i * format.AttrDefEntrySize
		format.PutU32(b, off+format.AttrDefTypeOffset, typ)
		if typ == format.AttrReparse {
			format.PutU64(b, off+format.AttrDefMaxSzOffset, 0x4000)
		}
	}
	return b
}

// tUpcaseBytes builds an ASCII-folding upcase table.
func tUpcaseBytes() []byte {
	b := make([]byte, format.UpcaseSize)
	for i := 0; i < format.UpcaseEntries; i++ {
		c := uint16(i)
		if c >= 'a' && c <= 'z' {
			c -= 0x20
		}
		format.PutU16(b, 2*i, c)
	}
	return b
}

// buildImage assembles a mountable volume image.
func buildImage(t *testing.T, o imageOpts) *MemDevice {
	t.Helper()

	img := make([]byte, tiImageBytes)
	copy(img, makeBootSector(t, defaultBoot()))

	recs := make([][]byte, 16)

	// 0: $MFT.
	rec := tRecord(1, 0)
	tAppendAttr(t, rec, tNonResAttr(format.AttrData, "",
		[]format.Run{{VCN: 0, LCN: tiMFTLCN, Len: 4}}, 16*tiRecordSize))
	// Record-slot bitmap: slots 0-14 in use, 15 free.
	tAppendAttr(t, rec, tResAttr(format.AttrBitmap, "", []byte{0xFF, 0x7F, 0, 0, 0, 0, 0, 0}))
	recs[0] = rec

	// 1: $MFTMirr.
	rec = tRecord(1, 0)
	tAppendAttr(t, rec, tNonResAttr(format.AttrData, "",
		[]format.Run{{VCN: 0, LCN: tiMirrLCN, Len: 1}}, tiClusterSize))
	recs[1] = rec

	// 2: $LogFile.
	rec = tRecord(2, 0)
	tAppendAttr(t, rec, tNonResAttr(format.AttrData, "",
		[]format.Run{{VCN: 0, LCN: tiLogLCN, Len: 2}}, tiLogBytes))
	recs[2] = rec

	// 3: $Volume.
	rec = tRecord(3, 0)
	tAppendAttr(t, rec, tResAttr(format.AttrLabel, "", utf16le("Test")))
	vi := make([]byte, format.VolInfoSize)
	vi[format.VolInfoMajorOffset] = o.major
	vi[format.VolInfoMinorOffset] = o.minor
	if o.dirty {
		format.PutU16(vi, format.VolInfoFlagsOffset, format.VolumeFlagDirty)
	}
	tAppendAttr(t, rec, tResAttr(format.AttrVolInfo, "", vi))
	recs[3] = rec

	// 4: $AttrDef.
	attrdef := o.attrdef
	if attrdef == nil {
		attrdef = tAttrDefBytes()
	}
	rec = tRecord(4, 0)
	tAppendAttr(t, rec, tNonResAttr(format.AttrData, "",
		[]format.Run{{VCN: 0, LCN: tiAttrDefLCN, Len: 1}}, uint64(len(attrdef))))
	recs[4] = rec

	// 5: root directory.
	recs[5] = tRecord(5, format.RecordFlagDir)

	// 6: $Bitmap.
	rec = tRecord(6, 0)
	tAppendAttr(t, rec, tNonResAttr(format.AttrData, "",
		[]format.Run{{VCN: 0, LCN: tiBitmapLCN, Len: 1}}, uint64(len(tiBitmapBytes))))
	recs[6] = rec

	// 7: $Boot.
	rec = tRecord(7, 0)
	tAppendAttr(t, rec, tNonResAttr(format.AttrData, "",
		[]format.Run{{VCN: 0, LCN: 0, Len: 1}}, tiClusterSize))
	recs[7] = rec

	// 8: $BadClus. The "$Bad" stream spans the volume as one hole.
	rec = tRecord(8, 0)
	tAppendAttr(t, rec, tResAttr(format.AttrData, "", nil))
	tAppendAttr(t, rec, tNonResAttr(format.AttrData, "$Bad",
		[]format.Run{{VCN: 0, LCN: format.SparseLCN, Len: tiClusters}}, tiClusters*tiClusterSize))
	recs[8] = rec

	// 9: $Secure.
	rec = tRecord(9, 0)
	tAppendAttr(t, rec, tResAttr(format.AttrData, "$SDS", []byte{1, 0, 0, 0}))
	recs[9] = rec

	// 10: $UpCase.
	rec = tRecord(10, 0)
	tAppendAttr(t, rec, tNonResAttr(format.AttrData, "",
		[]format.Run{{VCN: 0, LCN: tiUpcaseLCN, Len: 32}}, format.UpcaseSize))
	recs[10] = rec

	// 11: $Extend.
	recs[11] = tRecord(11, format.RecordFlagDir)

	// 12-14: $Extend children.
	for i, name := range []string{"$ObjId", "$Reparse", "$Quota"} {
		n := 12 + i
		rec = tRecord(uint16(n), 0)
		tAppendAttr(t, rec, tResAttr(format.AttrName, "",
			tFileNameValue(format.RecExtend, format.RecExtend, name)))
		if name == "$ObjId" {
			// Mixed-endian GUID: 11223344-5566-7788-99AA-BBCCDDEEFF00.
			tAppendAttr(t, rec, tResAttr(format.AttrID, "", []byte{
				0x44, 0x33, 0x22, 0x11, 0x66, 0x55, 0x88, 0x77,
				0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00,
			}))
		}
		recs[n] = rec
	}

	for n, r := range recs {
		if r == nil {
			continue
		}
		if o.mutateRecord != nil {
			o.mutateRecord(n, r)
		}
		require.NoError(t, format.InsertFixups(r, uint16(n)+1))
		copy(img[tiMFTLCN*tiClusterSize+n*tiRecordSize:], r)
	}

	// Mirror holds the first cluster of records.
	copy(img[tiMirrLCN*tiClusterSize:], img[tiMFTLCN*tiClusterSize:tiMFTLCN*tiClusterSize+tiClusterSize])

	copy(img[tiBitmapLCN*tiClusterSize:], tiBitmapBytes)
	copy(img[tiAttrDefLCN*tiClusterSize:], attrdef)
	copy(img[tiUpcaseLCN*tiClusterSize:], tUpcaseBytes())

	logOff := tiLogLCN * tiClusterSize
	if o.logContent != nil {
		copy(img[logOff:], o.logContent)
	} else {
		for i := 0; i < tiLogBytes; i++ {
			img[logOff+i] = 0xFF
		}
	}

	if o.mutateImage != nil {
		o.mutateImage(img)
	}
	return NewMemDevice(img, 512)
}
