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

//nolint:paralleltest // Tests mutate package-level hooks
package buspirate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdcard "github.com/ZaparooProject/go-sdcard"
	"github.com/ZaparooProject/go-sdcard/detection"
	virt "github.com/ZaparooProject/go-sdcard/internal/testing"
)

func stubPorts(t *testing.T, ports []serialPort, open func(string) (sdcard.Transport, error)) *[]string {
	t.Helper()
	origList, origOpen := listPortsFn, openFn
	t.Cleanup(func() { listPortsFn, openFn = origList, origOpen })

	var opened []string
	listPortsFn = func() ([]serialPort, error) { return ports, nil }
	openFn = func(path string) (sdcard.Transport, error) {
		opened = append(opened, path)
		return open(path)
	}
	return &opened
}

var testPorts = []serialPort{
	{Path: "/dev/ttyACM0", VIDPID: "1209:7331", Product: "Bus Pirate 5", IsUSB: true},
	{Path: "/dev/ttyUSB0", VIDPID: "0403:6001", Product: "FT232R USB UART", IsUSB: true},
	{Path: "/dev/ttyS0"},
}

func cardTransport(string) (sdcard.Transport, error) {
	return virt.NewVirtualCard(virt.SDHCProfile()), nil
}

func TestIsLikelyBusPirate(t *testing.T) {
	assert.True(t, isLikelyBusPirate(&serialPort{VIDPID: "04d8:fb00"}))
	assert.True(t, isLikelyBusPirate(&serialPort{Product: "Bus Pirate v3.6"}))
	assert.False(t, isLikelyBusPirate(&serialPort{VIDPID: "0403:6001"}))
}

func TestDetect_SafeProbesOnlyBridges(t *testing.T) {
	opened := stubPorts(t, testPorts, cardTransport)

	devices, err := New().Detect(context.Background(), &detection.Options{Mode: detection.Safe})

	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/ttyACM0", devices[0].Path)
	assert.Equal(t, detection.High, devices[0].Confidence)
	assert.Equal(t, "1209:7331", devices[0].Metadata["vidpid"])
	assert.Equal(t, []string{"/dev/ttyACM0"}, *opened)
}

func TestDetect_FullProbesEveryUSBPort(t *testing.T) {
	opened := stubPorts(t, testPorts, cardTransport)

	devices, err := New().Detect(context.Background(), &detection.Options{Mode: detection.Full})

	require.NoError(t, err)
	assert.Len(t, devices, 2)
	assert.Equal(t, []string{"/dev/ttyACM0", "/dev/ttyUSB0"}, *opened)
}

func TestDetect_PassiveDoesNotOpen(t *testing.T) {
	opened := stubPorts(t, testPorts, cardTransport)

	devices, err := New().Detect(context.Background(), &detection.Options{Mode: detection.Passive})

	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, detection.Medium, devices[0].Confidence)
	assert.Empty(t, *opened)
}

func TestDetect_BlockedAndIgnored(t *testing.T) {
	opened := stubPorts(t, testPorts, cardTransport)

	_, err := New().Detect(context.Background(), &detection.Options{
		Mode:        detection.Full,
		Blocklist:   []string{"1209:7331"},
		IgnorePaths: []string{"/dev/ttyUSB0"},
	})

	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
	assert.Empty(t, *opened)
}

func TestDetect_BridgeWithoutCard(t *testing.T) {
	stubPorts(t, testPorts, func(string) (sdcard.Transport, error) {
		sim := virt.NewVirtualCard(virt.SDHCProfile())
		sim.InjectUnresponsive()
		return sim, nil
	})

	_, err := New().Detect(context.Background(), &detection.Options{Mode: detection.Safe})

	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
}

func TestDetect_EnumerationError(t *testing.T) {
	origList := listPortsFn
	t.Cleanup(func() { listPortsFn = origList })
	listPortsFn = func() ([]serialPort, error) { return nil, errors.New("no sysfs") }

	_, err := New().Detect(context.Background(), &detection.Options{Mode: detection.Safe})

	require.Error(t, err)
	assert.NotErrorIs(t, err, detection.ErrNoDevicesFound)
}
