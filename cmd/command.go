// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cloudshim/cloudshim/pkg/logger"
)

// ConfigDir is where loadConfiguration looks for cloudshim.{toml,yaml,json}.
var ConfigDir = "."

var rootCmd = &cobra.Command{
	Use:   "cloudshim",
	Short: "CloudShim - a local multi-cloud service emulator",
	Long: `CloudShim emulates object storage, item stores, queues, secrets and
functions behind the AWS, Azure and GCP wire dialects, backed by a single
local storage engine. Point your SDK at a listener and develop offline.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ConfigDir, "config_dir", ".", "Directory for configuration files")
}

// loadConfiguration reads the optional config file and binds CLOUDSHIM_*
// environment variables. Missing files are fine; malformed ones are not.
func loadConfiguration(name string) {
	viper.SetConfigName(name)
	viper.AddConfigPath(ConfigDir)
	viper.SetEnvPrefix("cloudshim")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logger.Fatal().Err(err).Str("config_dir", ConfigDir).Msg("failed to read configuration file")
		}
		return
	}
	logger.Info().Str("file", viper.ConfigFileUsed()).Msg("loaded configuration file")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
