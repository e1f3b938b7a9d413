// Package format houses low-level decoders for the NTFS on-disk format. The
// goal is to keep the parsing focused, allocation-free where possible, and
// independent from the public API so higher-level packages can orchestrate
// the data in a more ergonomic form.
package format

var (
	// BootSignature is the 8-byte OEM identifier at offset 0x03 of the boot
	// sector. The trailing spaces are part of the signature.
	BootSignature = []byte{'N', 'T', 'F', 'S', ' ', ' ', ' ', ' '}

	// RecordSignature identifies a FILE record in the MFT.
	RecordSignature = []byte{'F', 'I', 'L', 'E'}

	// RecordSignatureBad marks an MFT record that chkdsk has taken out of
	// service after an unrecoverable multi-sector transfer failure.
	RecordSignatureBad = []byte{'B', 'A', 'A', 'D'}

	// RestartSignature identifies a $LogFile restart page.
	RestartSignature = []byte{'R', 'S', 'T', 'R'}

	// RestartSignatureChkd replaces RSTR after chkdsk has processed the log.
	RestartSignatureChkd = []byte{'C', 'H', 'K', 'D'}
)

// Boot sector layout. The BIOS parameter block fields we do not interpret
// (media type, track geometry, hidden sectors) are listed for completeness.
//
//	Offset  Size  Description
//	------  ----  ----------------------------------------------------------
//	 0x000   3    x86 jump instruction
//	 0x003   8    "NTFS    " OEM signature
//	 0x00B   2    Bytes per sector (little-endian, low byte must be zero)
//	 0x00D   1    Sectors per cluster (signed dual encoding, see DecodeCount)
//	 0x015   1    Media descriptor
//	 0x018   2    Sectors per track
//	 0x01A   2    Number of heads
//	 0x01C   4    Hidden sectors
//	 0x028   8    Total sectors in volume
//	 0x030   8    LCN of $MFT
//	 0x038   8    LCN of $MFTMirr
//	 0x040   1    MFT record size (signed dual encoding)
//	 0x044   1    Index record size (signed dual encoding)
//	 0x048   8    Volume serial number
//	 0x050   4    Boot sector checksum (unused by Windows)
//	 0x1FE   2    0x55 0xAA (not validated: absent on some third-party tools)
const (
	BootSignatureOffset   = 0x003
	BootSignatureSize     = 8
	BootBytesPerSector    = 0x00B
	BootSectorsPerCluster = 0x00D
	BootMediaType         = 0x015
	BootSectorsPerVolume  = 0x028
	BootMFTCluster        = 0x030
	BootMFTMirrCluster    = 0x038
	BootRecordSize        = 0x040
	BootIndexSize         = 0x044
	BootSerialNumber      = 0x048
	BootChecksum          = 0x050
	BootMagicOffset       = 0x1FE

	// BootSectorSize is the number of bytes the boot-sector decoder needs.
	BootSectorSize = 512

	// MinSectorSize is the smallest sector size NTFS supports.
	MinSectorSize = 512

	// SectorShift is log2(MinSectorSize); fixup strides are in 512-byte units.
	SectorShift = 9

	// MaxBytesPerRecord bounds the MFT record size. Windows has never
	// formatted records larger than 4K; anything bigger is corruption.
	MaxBytesPerRecord = 4096
)

// Well-known MFT record numbers. The first 16 records are reserved for
// system files; every reference is a (record number, sequence number) pair
// where the sequence equals the record number, except $MFT whose sequence
// is 1.
const (
	RecMFT      = 0  // $MFT
	RecMirr     = 1  // $MFTMirr
	RecLog      = 2  // $LogFile
	RecVol      = 3  // $Volume
	RecAttrDef  = 4  // $AttrDef
	RecRoot     = 5  // . (root directory)
	RecBitmap   = 6  // $Bitmap
	RecBoot     = 7  // $Boot
	RecBadClust = 8  // $BadClus
	RecSecure   = 9  // $Secure (NTFS 3.0+)
	RecUpCase   = 10 // $UpCase
	RecExtend   = 11 // $Extend (NTFS 3.0+)

	// RecUser is the first record number available to regular files.
	RecUser = 16
)

// FILE record header layout (MFT_REC).
//
//	Offset  Size  Description
//	------  ----  ----------------------------------------------------------
//	 0x000   4    'F' 'I' 'L' 'E'
//	 0x004   2    Offset to the update sequence (fixup) array
//	 0x006   2    Fixup entries (1 + one per 512-byte stride)
//	 0x008   8    $LogFile sequence number
//	 0x010   2    Sequence number
//	 0x012   2    Hard link count
//	 0x014   2    Offset to the first attribute
//	 0x016   2    Flags (in use, directory)
//	 0x018   4    Bytes used in this record
//	 0x01C   4    Bytes allocated for this record
//	 0x020   8    Base record reference (0 for base records)
//	 0x028   2    Next attribute id
//	 0x02A   2    (reserved; fixup array lives here on pre-3.1 volumes)
const (
	RecordFixupOffOffset  = 0x004
	RecordFixupNumOffset  = 0x006
	RecordLSNOffset       = 0x008
	RecordSeqOffset       = 0x010
	RecordHardLinksOffset = 0x012
	RecordAttrOffOffset   = 0x014
	RecordFlagsOffset     = 0x016
	RecordUsedOffset      = 0x018
	RecordTotalOffset     = 0x01C
	RecordParentOffset    = 0x020
	RecordNextAttrOffset  = 0x028

	// RecordFixupOffset1 is where a freshly stamped record places its fixup
	// array (immediately after the fixed header fields).
	RecordFixupOffset1 = 0x02A

	RecordHeaderSize = 0x30
)

// FILE record flags.
const (
	RecordFlagInUse = 0x0001
	RecordFlagDir   = 0x0002
)

// Attribute type codes, ascending as they appear inside a record.
const (
	AttrStd         uint32 = 0x10 // $STANDARD_INFORMATION
	AttrList        uint32 = 0x20 // $ATTRIBUTE_LIST
	AttrName        uint32 = 0x30 // $FILE_NAME
	AttrID          uint32 = 0x40 // $OBJECT_ID
	AttrSecurity    uint32 = 0x50 // $SECURITY_DESCRIPTOR
	AttrLabel       uint32 = 0x60 // $VOLUME_NAME
	AttrVolInfo     uint32 = 0x70 // $VOLUME_INFORMATION
	AttrData        uint32 = 0x80 // $DATA
	AttrIndexRoot   uint32 = 0x90 // $INDEX_ROOT
	AttrIndexAlloc  uint32 = 0xA0 // $INDEX_ALLOCATION
	AttrBitmap      uint32 = 0xB0 // $BITMAP
	AttrReparse     uint32 = 0xC0 // $REPARSE_POINT
	AttrEAInfo      uint32 = 0xD0 // $EA_INFORMATION
	AttrEA          uint32 = 0xE0 // $EA
	AttrPropertySet uint32 = 0xF0
	AttrLoggedUtil  uint32 = 0x100 // $LOGGED_UTILITY_STREAM

	// AttrEnd terminates the attribute sequence within a record.
	AttrEnd uint32 = 0xFFFFFFFF

	// AttrTypeSize is the size of the type field alone; a record must have
	// room for at least the terminator after its attributes.
	AttrTypeSize = 4
)

// Attribute header layout (ATTRIB). The first 0x10 bytes are common; the
// rest depends on the resident flag at 0x08.
//
//	Offset  Size  Description
//	------  ----  ----------------------------------------------------------
//	 0x000   4    Type code
//	 0x004   4    Total size of this attribute (8-byte aligned)
//	 0x008   1    Non-resident flag
//	 0x009   1    Name length (UTF-16 code units)
//	 0x00A   2    Name offset
//	 0x00C   2    Flags (compressed/encrypted/sparse)
//	 0x00E   2    Attribute id
//
// Resident form:
//
//	 0x010   4    Value length
//	 0x014   2    Value offset
//	 0x016   1    Resident flags (indexed)
//	 0x017   1    (reserved)
//
// Non-resident form:
//
//	 0x010   8    Starting VCN
//	 0x018   8    Ending VCN
//	 0x020   2    Run-list offset
//	 0x022   2    Compression unit
//	 0x024   4    (reserved)
//	 0x028   8    Allocated size
//	 0x030   8    Real size
//	 0x038   8    Valid (initialized) size
//	 0x040   8    Total allocated (compressed attributes only)
const (
	AttrTypeOffset    = 0x000
	AttrSizeOffset    = 0x004
	AttrNonResOffset  = 0x008
	AttrNameLenOffset = 0x009
	AttrNameOffOffset = 0x00A
	AttrFlagsOffset   = 0x00C
	AttrIDOffset      = 0x00E

	AttrResValueLenOffset = 0x010
	AttrResValueOffOffset = 0x014
	AttrResFlagsOffset    = 0x016
	AttrResHeaderSize     = 0x018

	AttrNRStartVCNOffset = 0x010
	AttrNREndVCNOffset   = 0x018
	AttrNRRunOffOffset   = 0x020
	AttrNRCompUnitOffset = 0x022
	AttrNRAllocOffset    = 0x028
	AttrNRSizeOffset     = 0x030
	AttrNRValidOffset    = 0x038
	AttrNRTotalOffset    = 0x040
	AttrNRHeaderSize     = 0x040
	AttrNRHeaderSizeComp = 0x048
)

// Attribute flags at 0x0C. "Extended" attributes (compressed, encrypted or
// sparse) cannot hold the resident metadata the mount path consumes.
const (
	AttrFlagCompressed = 0x0001
	AttrFlagEncrypted  = 0x4000
	AttrFlagSparse     = 0x8000

	AttrFlagExtMask = AttrFlagCompressed | AttrFlagEncrypted | AttrFlagSparse
)

// $FILE_NAME value layout (ATTR_FILE_NAME). Only the fields needed to walk
// parent links are listed; timestamps and sizes are opaque here.
//
//	Offset  Size  Description
//	------  ----  ----------------------------------------------------------
//	 0x000   8    Parent directory reference (48-bit record + 16-bit seq)
//	 0x040   1    Name length (UTF-16 code units)
//	 0x041   1    Name type (DOS/Win32/POSIX)
//	 0x042   -    Name, UTF-16LE
const (
	FileNameParentOffset  = 0x000
	FileNameLenOffset     = 0x040
	FileNameTypeOffset    = 0x041
	FileNameNameOffset    = 0x042
	FileNameHeaderMinSize = 0x42

	// RefRecordMask extracts the record number from a file reference; the
	// top 16 bits are the sequence number.
	RefRecordMask = (uint64(1) << 48) - 1
)

// $AttrDef entry layout (ATTR_DEF_ENTRY). $AttrDef is a flat array of these,
// sorted by ascending type code and terminated by the file size.
//
//	Offset  Size  Description
//	------  ----  ----------------------------------------------------------
//	 0x000  0x80  Attribute name, UTF-16LE, zero padded
//	 0x080   4    Type code
//	 0x084   4    Display rule
//	 0x088   4    Collation rule
//	 0x08C   4    Flags
//	 0x090   8    Minimum value size
//	 0x098   8    Maximum value size
const (
	AttrDefNameOffset  = 0x000
	AttrDefNameSize    = 0x80
	AttrDefTypeOffset  = 0x080
	AttrDefFlagsOffset = 0x08C
	AttrDefMinSzOffset = 0x090
	AttrDefMaxSzOffset = 0x098

	AttrDefEntrySize = 0xA0
)

// VOLUME_INFORMATION layout (resident value of $Volume's 0x70 attribute).
//
//	Offset  Size  Description
//	------  ----  ----------------------------------------------------------
//	 0x000   8    (reserved)
//	 0x008   1    Major version
//	 0x009   1    Minor version
//	 0x00A   2    Flags
const (
	VolInfoMajorOffset = 0x008
	VolInfoMinorOffset = 0x009
	VolInfoFlagsOffset = 0x00A

	VolInfoSize = 12
)

// VOLUME_INFORMATION flags.
const (
	VolumeFlagDirty       = 0x0001
	VolumeFlagResizeLog   = 0x0002
	VolumeFlagUpgradeNext = 0x0004
	VolumeFlagMountedNT4  = 0x0008
	VolumeFlagModByChkdsk = 0x8000
)

// $LogFile restart page header (RESTART_HDR) plus the restart area it
// points to. Only the fields the replay gate consumes are listed.
//
//	Offset  Size  Description
//	------  ----  ----------------------------------------------------------
//	 0x000   4    'R' 'S' 'T' 'R' (or 'C' 'H' 'K' 'D')
//	 0x004   2    Fixup array offset
//	 0x006   2    Fixup entries
//	 0x008   8    chkdsk LSN
//	 0x010   4    System page size
//	 0x014   4    Log page size
//	 0x018   2    Restart area offset
//	 0x01A   2    Minor version
//	 0x01C   2    Major version
//
// Restart area (relative to the restart area offset):
//
//	 0x000   8    Current LSN
//	 0x008   2    Log client count
//	 0x00A   2    Free client list head
//	 0x00C   2    In-use client list head
//	 0x00E   2    Flags
const (
	RestartChkdskLSNOffset = 0x008
	RestartSysPageOffset   = 0x010
	RestartLogPageOffset   = 0x014
	RestartAreaOffOffset   = 0x018
	RestartMinorOffset     = 0x01A
	RestartMajorOffset     = 0x01C
	RestartHeaderSize      = 0x1E

	RestartAreaLSNOffset     = 0x000
	RestartAreaClientsOffset = 0x008
	RestartAreaFreeOffset    = 0x00A
	RestartAreaInUseOffset   = 0x00C
	RestartAreaFlagsOffset   = 0x00E
	RestartAreaMinSize       = 0x10

	// LogNoClient is the list terminator for the restart-area client lists.
	// An empty in-use list means every transaction was checkpointed.
	LogNoClient = 0xFFFF

	// RestartVolumeClean is set in the restart-area flags when the log was
	// shut down cleanly (Windows 8+ writes it; older versions rely on the
	// in-use list alone).
	RestartVolumeClean = 0x0002
)

// Upcase table: one uint16 per 16-bit code unit.
const (
	UpcaseEntries = 0x10000
	UpcaseSize    = UpcaseEntries * 2
)

// MaxReparseSize is the default cap on a reparse-point payload, used when
// $AttrDef carries no 0xC0 entry. Matches MAXIMUM_REPARSE_DATA_BUFFER_SIZE.
const MaxReparseSize = 16 * 1024

// FixupEndTag computes the number of 16-bit fixup entries protecting a
// multi-sector structure of the given byte size: one tag slot plus one slot
// per 512-byte stride.
func FixupEndTag(size int) int { return size>>SectorShift + 1 }

// QuadAlign rounds n up to the next 8-byte boundary.
func QuadAlign(n int) int { return (n + 7) &^ 7 }
