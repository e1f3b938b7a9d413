package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type restartOpts struct {
	chkd   bool
	lsn    uint64
	inUse  uint16
	flags  uint16
	mutate func(b []byte)
}

// makeRestart builds a 4K restart page, fixups inserted.
func makeRestart(t *testing.T, o restartOpts) []byte {
	t.Helper()

	const pageSize = 4096
	b := make([]byte, pageSize)
	sig := RestartSignature
	if o.chkd {
		sig = RestartSignatureChkd
	}
	copy(b, sig)
	fn := uint16(FixupEndTag(pageSize))
	PutU16(b, RecordFixupOffOffset, RestartHeaderSize)
	PutU16(b, RecordFixupNumOffset, fn)
	PutU32(b, RestartSysPageOffset, pageSize)
	PutU32(b, RestartLogPageOffset, pageSize)
	raOff := uint16(QuadAlign(RestartHeaderSize + 2*int(fn)))
	PutU16(b, RestartAreaOffOffset, raOff)
	PutU64(b, int(raOff)+RestartAreaLSNOffset, o.lsn)
	PutU16(b, int(raOff)+RestartAreaClientsOffset, 1)
	PutU16(b, int(raOff)+RestartAreaFreeOffset, LogNoClient)
	PutU16(b, int(raOff)+RestartAreaInUseOffset, o.inUse)
	PutU16(b, int(raOff)+RestartAreaFlagsOffset, o.flags)
	if o.mutate != nil {
		o.mutate(b)
	}
	require.NoError(t, InsertFixups(b, 3))
	return b
}

func TestParseRestartPage_Clean(t *testing.T) {
	b := makeRestart(t, restartOpts{lsn: 0x1000, inUse: LogNoClient})
	require.NoError(t, ApplyFixups(b))

	p, err := ParseRestartPage(b)
	require.NoError(t, err)
	require.False(t, p.Chkd)
	require.Equal(t, uint64(0x1000), p.CurrentLSN)
	require.True(t, p.Clean())
}

func TestParseRestartPage_OpenClient(t *testing.T) {
	b := makeRestart(t, restartOpts{lsn: 0x2000, inUse: 0})
	require.NoError(t, ApplyFixups(b))

	p, err := ParseRestartPage(b)
	require.NoError(t, err)
	require.False(t, p.Clean())
}

func TestParseRestartPage_CleanFlagOverridesClients(t *testing.T) {
	b := makeRestart(t, restartOpts{inUse: 0, flags: RestartVolumeClean})
	require.NoError(t, ApplyFixups(b))

	p, err := ParseRestartPage(b)
	require.NoError(t, err)
	require.True(t, p.Clean())
}

func TestParseRestartPage_Chkd(t *testing.T) {
	b := makeRestart(t, restartOpts{chkd: true, inUse: 0})
	require.NoError(t, ApplyFixups(b))

	p, err := ParseRestartPage(b)
	require.NoError(t, err)
	require.True(t, p.Chkd)
}

func TestParseRestartPage_BadPageSize(t *testing.T) {
	b := makeRestart(t, restartOpts{mutate: func(b []byte) {
		PutU32(b, RestartSysPageOffset, 4097)
	}})
	require.NoError(t, ApplyFixups(b))

	_, err := ParseRestartPage(b)
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestParseRestartPage_NotRestart(t *testing.T) {
	_, err := ParseRestartPage(make([]byte, 4096))
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestPageEmpty(t *testing.T) {
	require.True(t, PageEmpty(make([]byte, 512)))

	ff := make([]byte, 512)
	for i := range ff {
		ff[i] = 0xFF
	}
	require.True(t, PageEmpty(ff))

	ff[100] = 0
	require.False(t, PageEmpty(ff))
	require.True(t, PageEmpty(nil))
}
