package cmd

import (
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending metadata schema migrations",
	Run: func(cmd *cobra.Command, args []string) {
		opts := loadDBOpts(NewFlagLoader(cmd))
		mdb, err := openDB(opts)
		if err != nil {
			logger.Fatal().Err(err).Str("driver", opts.Driver).Msg("failed to open metadata database")
		}
		defer mdb.Close()

		if err := mdb.Migrate(cmd.Context()); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Str("driver", opts.Driver).Msg("schema is up to date")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	addDBFlags(migrateCmd.Flags())
	viper.BindPFlags(migrateCmd.Flags())
}
