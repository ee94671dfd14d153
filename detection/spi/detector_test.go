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

//nolint:paralleltest // Tests mutate package-level hooks and environment
package spi

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdcard "github.com/ZaparooProject/go-sdcard"
	"github.com/ZaparooProject/go-sdcard/detection"
	virt "github.com/ZaparooProject/go-sdcard/internal/testing"
)

// isolate points every discovery source at a temp dir
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	origPattern, origPaths, origOpen := devicePattern, configPaths, openFn
	devicePattern = filepath.Join(dir, "spidev*")
	configPaths = func() []string { return []string{filepath.Join(dir, "spi.json")} }
	t.Setenv(envDevice, "")
	t.Setenv(envCSPin, "")

	t.Cleanup(func() {
		devicePattern, configPaths, openFn = origPattern, origPaths, origOpen
	})
	return dir
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, nil, 0o600))
}

func TestGatherConfigs_Sources(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spi.json"),
		[]byte(`[{"device":"/dev/spidev1.0","name":"Logger","cs_pin":"GPIO25"}]`), 0o600))
	t.Setenv(envDevice, "/dev/spidev2.0")
	t.Setenv(envCSPin, "GPIO8")
	touch(t, filepath.Join(dir, "spidev0.0"))

	configs := gatherConfigs()

	if len(configs) == 3 {
		assert.Equal(t, "/dev/spidev1.0", configs[0].Device)
		assert.Equal(t, "GPIO25", configs[0].CSPin)
		assert.Equal(t, "/dev/spidev2.0", configs[1].Device)
		assert.Equal(t, "GPIO8", configs[1].CSPin)
		assert.Equal(t, filepath.Join(dir, "spidev0.0"), configs[2].Device)
	} else {
		// Globbing only runs on Linux
		require.Len(t, configs, 2)
	}
}

func TestLoadConfigFile_SingleObject(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spi.json"),
		[]byte(`{"device":"/dev/spidev0.1"}`), 0o600))

	configs := loadConfigFile()

	require.Len(t, configs, 1)
	assert.Equal(t, "/dev/spidev0.1", configs[0].Device)
}

func TestLoadConfigFile_Malformed(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spi.json"), []byte(`{not json`), 0o600))

	assert.Empty(t, loadConfigFile())
}

func TestDeduplicateConfigs(t *testing.T) {
	configs := deduplicateConfigs([]Config{
		{Device: "/dev/spidev0.0", Name: "first"},
		{Device: ""},
		{Device: "/dev/spidev0.0", Name: "second"},
		{Device: "/dev/spidev0.1"},
	})

	require.Len(t, configs, 2)
	assert.Equal(t, "first", configs[0].Name)
}

func TestCreateDeviceInfo(t *testing.T) {
	device := createDeviceInfo(Config{
		Device:   "/dev/spidev0.0",
		CSPin:    "GPIO25",
		Metadata: map[string]string{"slot": "a"},
	})

	assert.Equal(t, "spi", device.Transport)
	assert.Equal(t, "SPI bus spidev0.0", device.Name)
	assert.Equal(t, "GPIO25", device.Metadata["cs_pin"])
	assert.Equal(t, "a", device.Metadata["slot"])
	assert.Equal(t, detection.Low, device.Confidence)
}

func TestDetect_ProbesCard(t *testing.T) {
	isolate(t)
	t.Setenv(envDevice, "/dev/spidev0.0")
	sim := virt.NewVirtualCard(virt.SDHCProfile())
	openFn = func(Config) (sdcard.Transport, error) { return sim, nil }

	devices, err := New().Detect(context.Background(), &detection.Options{Mode: detection.Safe})

	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, detection.High, devices[0].Confidence)
	assert.Equal(t, "high", devices[0].Metadata["capacity"])
}

func TestDetect_DropsBusWithoutCard(t *testing.T) {
	isolate(t)
	t.Setenv(envDevice, "/dev/spidev0.0")
	sim := virt.NewVirtualCard(virt.SDHCProfile())
	sim.InjectUnresponsive()
	openFn = func(Config) (sdcard.Transport, error) { return sim, nil }

	_, err := New().Detect(context.Background(), &detection.Options{Mode: detection.Safe})

	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
}

func TestDetect_OpenFailure(t *testing.T) {
	isolate(t)
	t.Setenv(envDevice, "/dev/spidev0.0")
	openFn = func(Config) (sdcard.Transport, error) { return nil, errors.New("permission denied") }

	_, err := New().Detect(context.Background(), &detection.Options{Mode: detection.Safe})

	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
}

func TestDetect_PassiveAndIgnored(t *testing.T) {
	isolate(t)
	t.Setenv(envDevice, "/dev/spidev0.0")
	openFn = func(Config) (sdcard.Transport, error) {
		t.Fatal("passive detection must not open the bus")
		return nil, nil
	}

	devices, err := New().Detect(context.Background(), &detection.Options{Mode: detection.Passive})
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, detection.Low, devices[0].Confidence)

	_, err = New().Detect(context.Background(), &detection.Options{
		Mode:        detection.Passive,
		IgnorePaths: []string{"/dev/spidev0.0"},
	})
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
}
