// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/env"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "uploader",
	Short: "Idempotent file upload service",
	Long: `Uploader accepts client file uploads keyed by (clientId, uploadId) and stores
each one exactly once in an S3-compatible object store, no matter how often
the client retries. Metadata lives in PostgreSQL, CockroachDB, MySQL or Vitess.`,
	SilenceUsage:      true,
	PersistentPreRunE: initializeProcess,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory searched first for uploader.yaml")
	pf.String("log_level", "info", "Log level (debug, info, warn, error)")
	pf.String("env", "", "Deployment environment: local, production or testing (default from UPLOADER_ENV)")
	cobra.CheckErr(viper.BindPFlags(pf))
}

// initializeProcess runs before every subcommand: config file, log level and
// deployment environment.
func initializeProcess(cmd *cobra.Command, _ []string) error {
	utils.LoadConfiguration("uploader", false)

	fl := NewFlagLoader(cmd)
	logger.SetLevelString(fl.String("log_level"))
	env.Set(fl.String("env"))
	return nil
}

// Execute runs the command selected by os.Args.
func Execute() error {
	return rootCmd.Execute()
}
