// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package spi registers a detector for cards on native SPI buses
package spi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	sdcard "github.com/ZaparooProject/go-sdcard"
	"github.com/ZaparooProject/go-sdcard/detection"
	"github.com/ZaparooProject/go-sdcard/transport/spi"
)

// Config describes one SPI bus to check
type Config struct {
	// Additional metadata
	Metadata map[string]string `json:"metadata,omitempty"`
	// Device path (e.g., "/dev/spidev0.0")
	Device string `json:"device"`
	// Human-readable name
	Name string `json:"name,omitempty"`
	// GPIO chip select pin name (e.g., "GPIO25"); empty uses hardware CS
	CSPin string `json:"cs_pin,omitempty"`
}

const (
	envDevice = "SDCARD_SPI"
	envCSPin  = "SDCARD_SPI_CS"
)

// openFn and devicePattern are replaced in tests
var (
	openFn = func(cfg Config) (sdcard.Transport, error) {
		var opts []spi.Option
		if cfg.CSPin != "" {
			opts = append(opts, spi.WithChipSelect(cfg.CSPin))
		}
		return spi.New(cfg.Device, opts...)
	}
	devicePattern = "/dev/spidev*"
	configPaths   = func() []string {
		return []string{
			"sdcard-spi.json",
			".sdcard-spi.json",
			filepath.Join(os.Getenv("HOME"), ".config", "sdcard", "spi.json"),
			"/etc/sdcard/spi.json",
		}
	}
)

type detector struct{}

// New creates a new SPI detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return string(sdcard.TransportSPI)
}

// Detect checks every configured or discovered SPI bus for a card
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	configs := gatherConfigs()
	if len(configs) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	var devices []detection.DeviceInfo
	for _, cfg := range configs {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		if detection.IsPathIgnored(cfg.Device, opts.IgnorePaths) {
			continue
		}
		device := createDeviceInfo(cfg)
		if probe(ctx, cfg, &device, opts) {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// gatherConfigs merges the config file, the environment and /dev/spidev*
func gatherConfigs() []Config {
	var configs []Config
	configs = append(configs, loadConfigFile()...)
	if cfg := loadEnvConfig(); cfg != nil {
		configs = append(configs, *cfg)
	}
	if runtime.GOOS == "linux" {
		configs = append(configs, globDevices()...)
	}
	return deduplicateConfigs(configs)
}

func createDeviceInfo(cfg Config) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  string(sdcard.TransportSPI),
		Path:       cfg.Device,
		Name:       cfg.Name,
		Confidence: detection.Low,
		Metadata:   make(map[string]string),
	}
	for k, v := range cfg.Metadata {
		device.Metadata[k] = v
	}
	if cfg.CSPin != "" {
		device.Metadata["cs_pin"] = cfg.CSPin
	}
	if device.Name == "" {
		device.Name = "SPI bus " + filepath.Base(cfg.Device)
	}
	return device
}

// probe opens the bus and runs the card probe; a bus that fails is dropped
// unless the mode is Passive
func probe(ctx context.Context, cfg Config, device *detection.DeviceInfo, opts *detection.Options) bool {
	if opts.Mode == detection.Passive {
		return true
	}

	transport, err := openFn(cfg)
	if err != nil {
		sdcard.Debugf("detect: spi %s: %v", cfg.Device, err)
		return false
	}
	defer func() { _ = transport.Close() }()

	probeCtx, cancel := detection.ProbeContext(ctx, opts)
	defer cancel()

	meta, err := detection.ProbeCard(probeCtx, transport, opts.Mode)
	if err != nil {
		sdcard.Debugf("detect: spi %s: %v", cfg.Device, err)
		return false
	}
	for k, v := range meta {
		device.Metadata[k] = v
	}
	device.Confidence = detection.High
	return true
}

// loadConfigFile reads the first config file found. Both a list and a
// single object are accepted.
func loadConfigFile() []Config {
	for _, path := range configPaths() {
		// #nosec G304 -- paths are fixed locations, not user input
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var configs []Config
		if err := json.Unmarshal(data, &configs); err == nil {
			return configs
		}
		var cfg Config
		if err := json.Unmarshal(data, &cfg); err == nil && cfg.Device != "" {
			return []Config{cfg}
		}
		sdcard.Debugf("detect: ignoring malformed %s", path)
	}
	return nil
}

func loadEnvConfig() *Config {
	device := os.Getenv(envDevice)
	if device == "" {
		return nil
	}
	return &Config{
		Device: device,
		Name:   fmt.Sprintf("SPI bus from %s", envDevice),
		CSPin:  os.Getenv(envCSPin),
	}
}

func globDevices() []Config {
	matches, err := filepath.Glob(devicePattern)
	if err != nil {
		return nil
	}
	configs := make([]Config, 0, len(matches))
	for _, path := range matches {
		configs = append(configs, Config{Device: path})
	}
	return configs
}

// deduplicateConfigs keeps the first config per device path
func deduplicateConfigs(configs []Config) []Config {
	seen := make(map[string]bool)
	var unique []Config
	for _, cfg := range configs {
		if cfg.Device == "" || seen[cfg.Device] {
			continue
		}
		seen[cfg.Device] = true
		unique = append(unique, cfg)
	}
	return unique
}
