package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// --- small boot-sector builder (keeps tests readable) ---

type bootOpts struct {
	bps     uint16
	spc     uint8
	sectors uint64
	mftLCN  uint64
	mirrLCN uint64
	recRaw  int8
	idxRaw  int8
	serial  uint64
	// mutate raw sector for negative tests
	mutate func(b []byte)
}

func makeBoot(t *testing.T, o bootOpts) []byte {
	t.Helper()

	if o.bps == 0 {
		o.bps = 512
	}
	if o.spc == 0 {
		o.spc = 8
	}
	b := make([]byte, BootSectorSize)
	copy(b[BootSignatureOffset:], BootSignature)
	PutU16(b, BootBytesPerSector, o.bps)
	b[BootSectorsPerCluster] = o.spc
	PutU64(b, BootSectorsPerVolume, o.sectors)
	PutU64(b, BootMFTCluster, o.mftLCN)
	PutU64(b, BootMFTMirrCluster, o.mirrLCN)
	b[BootRecordSize] = byte(o.recRaw)
	b[BootIndexSize] = byte(o.idxRaw)
	PutU64(b, BootSerialNumber, o.serial)
	if o.mutate != nil {
		o.mutate(b)
	}
	return b
}

func TestParseBootSector_OK(t *testing.T) {
	b := makeBoot(t, bootOpts{
		sectors: 511,
		mftLCN:  4,
		mirrLCN: 8,
		recRaw:  -10,
		idxRaw:  -12,
		serial:  0xDEADBEEF12345678,
	})

	bs, err := ParseBootSector(b)
	require.NoError(t, err)
	require.Equal(t, uint16(512), bs.BytesPerSector)
	require.Equal(t, uint32(8), bs.SectorsPerClusterCount())
	require.Equal(t, uint64(511), bs.SectorsPerVolume)
	require.Equal(t, uint64(4), bs.MFTCluster)
	require.Equal(t, uint64(8), bs.MFTMirrCluster)
	require.Equal(t, int8(-10), bs.RecordSizeRaw)
	require.Equal(t, int8(-12), bs.IndexSizeRaw)
	require.Equal(t, uint64(0xDEADBEEF12345678), bs.SerialNumber)
}

func TestParseBootSector_BadSignature(t *testing.T) {
	b := makeBoot(t, bootOpts{mutate: func(b []byte) {
		b[BootSignatureOffset] = 'X'
	}})
	_, err := ParseBootSector(b)
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestParseBootSector_Short(t *testing.T) {
	_, err := ParseBootSector(make([]byte, 100))
	require.ErrorIs(t, err, ErrTruncated)
}

func TestSectorsPerClusterCount_DualEncoding(t *testing.T) {
	cases := []struct {
		raw  uint8
		want uint32
	}{
		{1, 1},
		{8, 8},
		{0x80, 0x80},
		// "Large cluster" encoding: 0xF1 = -15 -> 2^15 sectors.
		{0xF6, 1 << 10},
		{0xF1, 1 << 15},
	}
	for _, c := range cases {
		bs := BootSector{SectorsPerCluster: c.raw}
		require.Equal(t, c.want, bs.SectorsPerClusterCount(), "raw=%#x", c.raw)
	}
}

func TestSizeRawValid(t *testing.T) {
	// Negative encodings must decode to at least half a sector.
	require.True(t, SizeRawValid(-10))
	require.True(t, SizeRawValid(-12))
	require.True(t, SizeRawValid(-8))
	require.False(t, SizeRawValid(-7))
	require.False(t, SizeRawValid(-1))

	// Non-negative encodings count clusters and must be powers of two.
	require.True(t, SizeRawValid(1))
	require.True(t, SizeRawValid(2))
	require.True(t, SizeRawValid(4))
	require.False(t, SizeRawValid(0))
	require.False(t, SizeRawValid(3))
}

func TestDecodeSizeBytes(t *testing.T) {
	require.Equal(t, uint32(1024), DecodeSizeBytes(-10, 12))
	require.Equal(t, uint32(4096), DecodeSizeBytes(-12, 12))
	require.Equal(t, uint32(4096), DecodeSizeBytes(1, 12))
	require.Equal(t, uint32(8192), DecodeSizeBytes(2, 12))
}

func TestIsPow2(t *testing.T) {
	require.True(t, IsPow2(1))
	require.True(t, IsPow2(512))
	require.False(t, IsPow2(0))
	require.False(t, IsPow2(3))
	require.False(t, IsPow2(520))
}

func TestBitsOf(t *testing.T) {
	require.Equal(t, uint(9), BitsOf(512))
	require.Equal(t, uint(12), BitsOf(4096))
	require.Equal(t, uint(0), BitsOf(1))
}
