// Package cmd implements the uploader command line: the API server, schema
// migrations, one-shot reclaim sweeps and token issuing.
package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FlagLoader resolves a setting from an explicitly passed flag first and
// falls back to viper (UPLOADER_* env, then uploader.yaml, then the flag default).
type FlagLoader struct {
	flags *pflag.FlagSet
}

func NewFlagLoader(cmd *cobra.Command) *FlagLoader {
	return &FlagLoader{flags: cmd.Flags()}
}

func lookup[T any](fl *FlagLoader, name string, get func(string) (T, error), fallback func(string) T) T {
	if fl.flags.Changed(name) {
		if v, err := get(name); err == nil {
			return v
		}
	}
	return fallback(name)
}

func (fl *FlagLoader) String(name string) string {
	return lookup(fl, name, fl.flags.GetString, viper.GetString)
}

func (fl *FlagLoader) Int(name string) int {
	return lookup(fl, name, fl.flags.GetInt, viper.GetInt)
}

func (fl *FlagLoader) Int64(name string) int64 {
	return lookup(fl, name, fl.flags.GetInt64, viper.GetInt64)
}

func (fl *FlagLoader) Float64(name string) float64 {
	return lookup(fl, name, fl.flags.GetFloat64, viper.GetFloat64)
}

func (fl *FlagLoader) Bool(name string) bool {
	return lookup(fl, name, fl.flags.GetBool, viper.GetBool)
}

func (fl *FlagLoader) Duration(name string) time.Duration {
	return lookup(fl, name, fl.flags.GetDuration, viper.GetDuration)
}

// StringSlice accepts comma separated values on the command line and a YAML
// list or comma separated string from viper.
func (fl *FlagLoader) StringSlice(name string) []string {
	return lookup(fl, name, fl.flags.GetStringSlice, viper.GetStringSlice)
}
