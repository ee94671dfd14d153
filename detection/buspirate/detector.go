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

// Package buspirate registers a detector for cards behind a Bus Pirate
package buspirate

import (
	"context"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"

	sdcard "github.com/ZaparooProject/go-sdcard"
	"github.com/ZaparooProject/go-sdcard/detection"
	"github.com/ZaparooProject/go-sdcard/transport/buspirate"
)

// serialPort is the subset of enumerator.PortDetails the detector uses
type serialPort struct {
	Path         string
	VIDPID       string
	Product      string
	SerialNumber string
	IsUSB        bool
}

// knownBridges are USB IDs that only ship on Bus Pirates
var knownBridges = []string{
	"04D8:FB00", // Bus Pirate v4
	"1209:7331", // Bus Pirate 5 and 6
}

// Replaced in tests
var (
	listPortsFn = listPorts
	openFn      = func(path string) (sdcard.Transport, error) {
		return buspirate.New(path)
	}
)

type detector struct{}

// New creates a new Bus Pirate detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return string(sdcard.TransportBusPirate)
}

// Detect looks for Bus Pirates on the USB serial ports. Safe mode only
// probes ports that identify as a Bus Pirate; Full mode probes every USB
// serial port that is not blocklisted.
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := listPortsFn()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for i := range ports {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		port := &ports[i]
		if !port.IsUSB {
			continue
		}
		if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist) {
			continue
		}
		if detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
			continue
		}
		if device, ok := processPort(ctx, port, opts); ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func processPort(ctx context.Context, port *serialPort, opts *detection.Options) (detection.DeviceInfo, bool) {
	likely := isLikelyBusPirate(port)
	if !likely && opts.Mode != detection.Full {
		return detection.DeviceInfo{}, false
	}

	device := detection.DeviceInfo{
		Transport:  string(sdcard.TransportBusPirate),
		Path:       port.Path,
		Name:       port.Product,
		Confidence: detection.Low,
		Metadata:   make(map[string]string),
	}
	if device.Name == "" {
		device.Name = "Bus Pirate at " + port.Path
	}
	if port.VIDPID != "" {
		device.Metadata["vidpid"] = port.VIDPID
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	if likely {
		device.Confidence = detection.Medium
	}
	if opts.Mode == detection.Passive {
		return device, true
	}

	transport, err := openFn(port.Path)
	if err != nil {
		sdcard.Debugf("detect: buspirate %s: %v", port.Path, err)
		return detection.DeviceInfo{}, false
	}
	defer func() { _ = transport.Close() }()

	probeCtx, cancel := detection.ProbeContext(ctx, opts)
	defer cancel()

	meta, err := detection.ProbeCard(probeCtx, transport, opts.Mode)
	if err != nil {
		sdcard.Debugf("detect: buspirate %s: %v", port.Path, err)
		return detection.DeviceInfo{}, false
	}
	for k, v := range meta {
		device.Metadata[k] = v
	}
	device.Confidence = detection.High
	return device, true
}

func isLikelyBusPirate(port *serialPort) bool {
	upper := strings.ToUpper(port.VIDPID)
	for _, known := range knownBridges {
		if upper == known {
			return true
		}
	}
	return buspirate.IsBusPirate(port.Product)
}

func listPorts() ([]serialPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	ports := make([]serialPort, 0, len(details))
	for _, d := range details {
		port := serialPort{
			Path:         d.Name,
			Product:      d.Product,
			SerialNumber: d.SerialNumber,
			IsUSB:        d.IsUSB,
		}
		if d.VID != "" && d.PID != "" {
			port.VIDPID = strings.ToUpper(d.VID + ":" + d.PID)
		}
		ports = append(ports, port)
	}
	return ports, nil
}
