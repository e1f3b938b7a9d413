package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatsCmd())
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <image>",
		Short: "Show allocation statistics",
		Long: `The stats command reports cluster and MFT record usage for an image.

Example:
  ntfsctl stats volume.img
  ntfsctl stats volume.img --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(args)
		},
	}
	return cmd
}

type allocStats struct {
	File            string  `json:"file"`
	Clusters        uint64  `json:"clusters"`
	ClustersUsed    uint64  `json:"clusters_used"`
	ClustersFree    uint64  `json:"clusters_free"`
	UsedPercent     float64 `json:"used_percent"`
	MFTRecords      uint64  `json:"mft_records"`
	MFTRecordsUsed  uint64  `json:"mft_records_used"`
	MFTZoneClusters uint64  `json:"mft_zone_clusters"`
	BadClusters     uint64  `json:"bad_clusters"`
}

func runStats(args []string) error {
	path := args[0]

	v, err := mountReadOnly(path)
	if err != nil {
		return fmt.Errorf("failed to mount %s: %w", path, err)
	}
	defer v.Close()

	used := v.ClusterBitmap()
	recs := v.RecordBitmap()
	s := allocStats{
		File:            path,
		Clusters:        used.Size(),
		ClustersUsed:    used.Used(),
		ClustersFree:    used.Zeroes(),
		MFTRecords:      recs.Size(),
		MFTRecordsUsed:  recs.Used(),
		MFTZoneClusters: used.ZoneLen(),
		BadClusters:     v.BadClusters(),
	}
	if s.Clusters > 0 {
		s.UsedPercent = 100 * float64(s.ClustersUsed) / float64(s.Clusters)
	}

	if jsonOut {
		return printJSON(s)
	}

	printInfo("\nAllocation:\n")
	printInfo("  Clusters: %d (%d used, %d free, %.1f%%)\n",
		s.Clusters, s.ClustersUsed, s.ClustersFree, s.UsedPercent)
	printInfo("  MFT records: %d (%d used)\n", s.MFTRecords, s.MFTRecordsUsed)
	printInfo("  MFT zone: %d clusters\n", s.MFTZoneClusters)
	if s.BadClusters > 0 {
		printInfo("  Bad clusters: %d\n", s.BadClusters)
	}
	return nil
}
