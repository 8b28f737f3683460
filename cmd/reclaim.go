package cmd

import (
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/upload/reclaim"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Run the stalled-request and retention sweeps once",
	Long: `Run one stalled sweep and, unless --skip_retention is given, one retention
sweep against the metadata database, then exit. Useful after an outage or
from a cron job when the server runs with --reclaim_enabled=false.`,
	Run: runReclaim,
}

func init() {
	rootCmd.AddCommand(reclaimCmd)

	f := reclaimCmd.Flags()
	addDBFlags(f)
	f.Duration("stalled_threshold", reclaim.DefaultStalledThreshold, "PROCESSING requests idle longer than this are reclaimed")
	f.Duration("retention", reclaim.DefaultRetention, "How long terminal requests are kept")
	f.Int("reclaim_batch_size", reclaim.DefaultBatchSize, "Requests loaded per sweep batch")
	f.Int("reclaim_concurrency", reclaim.DefaultConcurrency, "Requests reclaimed in parallel")
	f.Bool("skip_retention", false, "Only run the stalled sweep")
	viper.BindPFlags(f)
}

func runReclaim(cmd *cobra.Command, args []string) {
	fl := NewFlagLoader(cmd)
	ctx := cmd.Context()

	mdb, err := openDB(loadDBOpts(fl))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open metadata database")
	}
	defer mdb.Close()

	coord, err := newCoordinator(mdb, fl.Int("max_attempts"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create idempotency coordinator")
	}

	r, err := reclaim.New(reclaim.Config{
		Coordinator:      coord,
		Requests:         mdb,
		Files:            mdb,
		StalledThreshold: fl.Duration("stalled_threshold"),
		Retention:        fl.Duration("retention"),
		BatchSize:        fl.Int("reclaim_batch_size"),
		Concurrency:      fl.Int("reclaim_concurrency"),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create reclaimer")
	}

	stalled, err := r.SweepStalled(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("stalled sweep failed")
	}
	logger.Info().
		Int("scanned", stalled.Scanned).
		Int("failed", stalled.Failed).
		Int("resumed", stalled.Resumed).
		Int("rejected", stalled.Rejected).
		Int("errors", stalled.Errors).
		Msg("stalled sweep finished")

	if fl.Bool("skip_retention") {
		return
	}
	retained, err := r.SweepRetention(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("retention sweep failed")
	}
	logger.Info().
		Int("scanned", retained.Scanned).
		Int("deleted", retained.Deleted).
		Int("errors", retained.Errors).
		Msg("retention sweep finished")
}
