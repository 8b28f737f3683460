// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var (
	ConfigurationFileDirectory string
)

// LoadConfiguration merges <configFileName>.{yaml,toml,json,...} into viper from
// the --config_dir directory, the working directory, $HOME/.uploader and
// /etc/uploader, in that order. Environment variables override file values with
// dots replaced by underscores (db.driver -> DB_DRIVER).
func LoadConfiguration(configFileName string, required bool) bool {
	viper.SetConfigName(configFileName)
	if ConfigurationFileDirectory != "" {
		viper.AddConfigPath(ResolvePath(ConfigurationFileDirectory))
	}
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.uploader")
	viper.AddConfigPath("/etc/uploader/")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if required {
				log.Fatal().Msgf("config file not found: %s", configFileName)
			}
			log.Info().Msgf("config file not found: %s, using flags and environment", configFileName)
			return false
		}

		if required {
			log.Fatal().Err(err).Msgf("failed to load required config file: %s", configFileName)
		}
		log.Warn().Err(err).Msgf("failed to parse config file: %s", configFileName)
		return false
	}
	log.Info().Msgf("loaded config file: %s", viper.ConfigFileUsed())

	return true
}
