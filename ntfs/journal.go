package ntfs

import (
	"fmt"
	"io"

	"github.com/joshuapare/ntfskit/internal/format"
)

// defaultLogPageSize is the system page size every Windows formatter has
// used for $LogFile; the restart page itself records the real value.
const defaultLogPageSize = 4096

// maxLogPageSize caps the declared page size before it drives a read.
const maxLogPageSize = 0x10000

// CheckJournal inspects the $LogFile restart pages and reports whether the
// log still holds transactions that were never checkpointed. It never
// replays: a true result gates read-write mounts (ErrWouldLoseData at the
// caller), read-only mounts proceed.
//
// A log is recognized as clean when:
//   - both restart pages are pristine (all 0x00 or all 0xFF, fresh format),
//   - the winning restart page carries the CHKD signature (chkdsk already
//     processed the log), or
//   - its in-use client list is empty or the clean-shutdown flag is set.
//
// Anything else, including a torn or unparseable restart page, needs replay.
func CheckJournal(log *File) (needsReplay bool, err error) {
	if log.Size() == 0 {
		return false, nil
	}
	first, err := readLogPage(log, 0, defaultLogPageSize)
	if err != nil {
		return false, err
	}

	pageSize := uint64(defaultLogPageSize)
	if format.IsRestartSignature(first) {
		if ps := format.ReadU32(first, format.RestartSysPageOffset); format.IsPow2(uint64(ps)) && ps <= maxLogPageSize {
			pageSize = uint64(ps)
			if uint64(len(first)) < pageSize {
				first, err = readLogPage(log, 0, pageSize)
				if err != nil {
					return false, err
				}
			}
			first = first[:pageSize]
		}
	}
	second, err := readLogPage(log, pageSize, pageSize)
	if err != nil {
		return false, err
	}

	p0, ok0 := decodeRestart(first)
	p1, ok1 := decodeRestart(second)

	switch {
	case !ok0 && !ok1:
		if format.PageEmpty(first) && format.PageEmpty(second) {
			return false, nil
		}
		// The log holds data but no readable restart page: only a replay
		// (or chkdsk) can tell what is in flight.
		return true, nil
	case ok0 && ok1:
		// Two valid pages: the one written last wins.
		if p1.CurrentLSN > p0.CurrentLSN {
			p0 = p1
		}
	case ok1:
		p0 = p1
	}

	if p0.Chkd {
		return false, nil
	}
	return !p0.Clean(), nil
}

// readLogPage reads up to n bytes at off, zero-padding past the log end so
// short logs still present whole pages.
func readLogPage(log *File, off, n uint64) ([]byte, error) {
	b := make([]byte, n)
	if off >= log.Size() {
		return b, nil
	}
	if _, err := log.Data().ReadAt(b, int64(off)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("journal: read page at %d: %w", off, err)
	}
	return b, nil
}

// decodeRestart undoes the fixup protection and parses one restart page.
// ok is false for pristine, torn or non-restart pages.
func decodeRestart(page []byte) (format.RestartPage, bool) {
	if !format.IsRestartSignature(page) {
		return format.RestartPage{}, false
	}
	cp := make([]byte, len(page))
	copy(cp, page)
	if err := format.ApplyFixups(cp); err != nil {
		return format.RestartPage{}, false
	}
	p, err := format.ParseRestartPage(cp)
	if err != nil {
		return format.RestartPage{}, false
	}
	return p, true
}
