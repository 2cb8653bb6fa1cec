/*
Copyright 2026 The Flux authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fluxcd/weakcache/internal/features"
	"github.com/fluxcd/weakcache/logger"
)

const (
	envPrefix  = "WEAKCACHE"
	flagConfig = "config"
)

type rootFlags struct {
	configFile    string
	loggerOptions logger.Options
	featureGates  features.FeatureGates
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "weakcache",
		Short: "Exercise a bounded LRU cache that holds its values through weak pointers",
		Long: `weakcache drives a bounded least recently used cache whose values can also
be reclaimed by the garbage collector, and reports how both eviction forces
affect the hit ratio.

Every flag can also be set in a config file (--config) or through an
environment variable named after the flag, e.g. WEAKCACHE_LOG_LEVEL=debug.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd.Flags(), flags.configFile)
		},
	}

	pfs := cmd.PersistentFlags()
	pfs.StringVar(&flags.configFile, flagConfig, "",
		"Path to a config file holding flag values, keyed by flag name.")
	flags.loggerOptions.BindFlags(pfs)
	flags.featureGates.BindFlags(pfs)

	cmd.AddCommand(newRunCommand(flags))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// loadConfig sets every flag that was not given on the command line from the
// environment or, failing that, from the config file.
func loadConfig(fs *pflag.FlagSet, configFile string) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == flagConfig || f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := fs.Set(f.Name, v.GetString(f.Name)); err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}
