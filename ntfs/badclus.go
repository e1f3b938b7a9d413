package ntfs

import (
	"fmt"

	"github.com/joshuapare/ntfskit/internal/format"
)

// loadBadClusters counts the clusters $BadClus has retired. The file's
// "$Bad" stream spans the whole volume; healthy regions are sparse runs and
// only mapped extents are actual bad blocks. The notice logs once no matter
// how many extents follow.
func (v *Volume) loadBadClusters() error {
	f, err := v.mft.OpenSys(format.RecBadClust)
	if err != nil {
		return fmt.Errorf("$BadClus: %w", err)
	}
	runs, _, err := f.namedStreamRuns("$Bad")
	if err != nil {
		// Pre-3.0 images keep the extents in the unnamed stream.
		runs = f.Runs()
	}
	for _, r := range runs {
		if r.LCN == format.SparseLCN {
			continue
		}
		if v.badClusters == 0 {
			v.log.Warn("volume contains bad blocks")
		}
		v.badClusters += r.Len
	}
	return nil
}
