// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"fmt"
	"time"
)

// ServerConfig is the emulator configuration, populated by the CLI layer
// from flags, environment, and config file.
type ServerConfig struct {
	// DataDir holds the metadata database and blob files.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Region    string `json:"region" mapstructure:"region"`
	AccountID string `json:"account_id" mapstructure:"account_id"`

	// Listen addresses, one per vendor family.
	AWSListen   string `json:"aws_listen" mapstructure:"aws_listen"`
	AzureListen string `json:"azure_listen" mapstructure:"azure_listen"`
	GCPListen   string `json:"gcp_listen" mapstructure:"gcp_listen"`

	// InMemory disables persistence: metadata in :memory:, blobs held
	// in process memory.
	InMemory bool `json:"in_memory" mapstructure:"in_memory"`

	// ReaperInterval is the queue visibility reaper period.
	ReaperInterval time.Duration `json:"reaper_interval" mapstructure:"reaper_interval"`
}

// DefaultServerConfig returns the configuration used when nothing is set.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		DataDir:        "./cloudshim-data",
		Region:         "us-east-1",
		AccountID:      "000000000000",
		AWSListen:      ":4566",
		AzureListen:    ":10000",
		GCPListen:      ":4443",
		ReaperInterval: time.Second,
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *ServerConfig) Validate() error {
	if !c.InMemory && c.DataDir == "" {
		return fmt.Errorf("data_dir is required unless in_memory is set")
	}
	if c.AWSListen == "" && c.AzureListen == "" && c.GCPListen == "" {
		return fmt.Errorf("at least one listen address is required")
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = time.Second
	}
	return nil
}
