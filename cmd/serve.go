// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cloudshim/cloudshim/pkg/debug"
	"github.com/cloudshim/cloudshim/pkg/dispatch"
	"github.com/cloudshim/cloudshim/pkg/dispatch/awsapi"
	"github.com/cloudshim/cloudshim/pkg/dispatch/azureapi"
	"github.com/cloudshim/cloudshim/pkg/dispatch/gcpapi"
	"github.com/cloudshim/cloudshim/pkg/engine"
	"github.com/cloudshim/cloudshim/pkg/logger"
	"github.com/cloudshim/cloudshim/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the emulator",
	Long: `Start the CloudShim emulator. One listener per vendor family:
- aws_listen speaks S3, DynamoDB, SQS, Secrets Manager and Lambda dialects
- azure_listen speaks the Blob and Queue storage dialects
- gcp_listen speaks the JSON storage and Secret Manager dialects

An empty listen address disables that family.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	defaults := types.DefaultServerConfig()
	f.String("data_dir", defaults.DataDir, "Directory for the metadata database and blob files")
	f.String("region", defaults.Region, "Region reported to clients")
	f.String("account_id", defaults.AccountID, "Account ID used in ARNs")
	f.String("aws_listen", defaults.AWSListen, "Listen address for the AWS dialect")
	f.String("azure_listen", defaults.AzureListen, "Listen address for the Azure dialect")
	f.String("gcp_listen", defaults.GCPListen, "Listen address for the GCP dialect")
	f.Bool("in_memory", false, "Keep all state in memory, nothing touches disk")
	f.Duration("reaper_interval", defaults.ReaperInterval, "Queue visibility reaper period")
	f.Int("debug_port", 0, "Debug HTTP port for pprof and readiness (0 disables)")
	f.String("log_level", "info", "Log level (debug, info, warn, error)")

	viper.BindPFlags(f)
}

func runServe(cmd *cobra.Command, args []string) {
	loadConfiguration("cloudshim")
	f := NewFlagLoader(cmd)

	if level, err := zerolog.ParseLevel(f.String("log_level")); err == nil && level != zerolog.NoLevel {
		logger.SetLevel(level)
	}

	cfg := types.ServerConfig{
		DataDir:        f.String("data_dir"),
		Region:         f.String("region"),
		AccountID:      f.String("account_id"),
		AWSListen:      f.String("aws_listen"),
		AzureListen:    f.String("azure_listen"),
		GCPListen:      f.String("gcp_listen"),
		InMemory:       f.Bool("in_memory"),
		ReaperInterval: f.Duration("reaper_interval"),
	}

	debug.SetNotReady()

	e, err := engine.New(cmd.Context(), cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize engine")
	}
	defer e.Close()
	e.Start(cmd.Context())

	if !cfg.InMemory {
		logger.Info().
			Str("data_dir", cfg.DataDir).
			Str("size", humanize.IBytes(dirSize(cfg.DataDir))).
			Msg("storage initialized")
	} else {
		logger.Info().Msg("storage initialized in memory")
	}

	srv := dispatch.NewServer(e, map[string]dispatch.Adapter{
		"aws":   awsapi.New(cfg),
		"azure": azureapi.New(cfg),
		"gcp":   gcpapi.New(cfg),
	})

	var debugServer *http.Server
	if port := f.Int("debug_port"); port > 0 {
		debugServer = startDebugServer(port)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	debug.SetReady()
	if err := srv.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited")
	}
	debug.SetNotReady()

	if debugServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		debugServer.Shutdown(shutdownCtx)
	}
}

func startDebugServer(port int) *http.Server {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           debug.GetMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("debug server up")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Msg("debug server exited")
		}
	}()
	return srv
}

// dirSize totals file sizes under root. Best effort, used for logging only.
func dirSize(root string) uint64 {
	var total uint64
	filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}
