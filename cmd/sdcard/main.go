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

// Command sdcard reads and writes raw sectors on an SD card attached over
// SPI or through a Bus Pirate.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	sdcard "github.com/ZaparooProject/go-sdcard"
	"github.com/ZaparooProject/go-sdcard/detection"
	_ "github.com/ZaparooProject/go-sdcard/detection/buspirate"
	_ "github.com/ZaparooProject/go-sdcard/detection/spi"
	"github.com/ZaparooProject/go-sdcard/transport/buspirate"
	"github.com/ZaparooProject/go-sdcard/transport/spi"
)

const (
	flagDevice      = "device"
	flagTransport   = "transport"
	flagCS          = "cs"
	flagDebug       = "debug"
	flagLog         = "log"
	flagInitRetries = "init-retries"
)

// transportSpec names the bus a command should open
type transportSpec struct {
	kind   string
	device string
	csPin  string
}

// files holds the images read by write and produced by dump
var files = afero.NewOsFs()

// openTransport is replaced in tests
var openTransport = func(spec transportSpec) (sdcard.Transport, error) {
	switch strings.ToLower(spec.kind) {
	case string(sdcard.TransportSPI):
		var opts []spi.Option
		if spec.csPin != "" {
			opts = append(opts, spi.WithChipSelect(spec.csPin))
		}
		transport, err := spi.New(spec.device, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create SPI transport: %w", err)
		}
		return transport, nil
	case string(sdcard.TransportBusPirate):
		transport, err := buspirate.New(spec.device)
		if err != nil {
			return nil, fmt.Errorf("failed to create Bus Pirate transport: %w", err)
		}
		return transport, nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", spec.kind)
	}
}

// resolveTransport fills in the device from auto-detection when none was
// given on the command line
func resolveTransport(c *cli.Context) (transportSpec, error) {
	spec := transportSpec{
		kind:   c.String(flagTransport),
		device: c.String(flagDevice),
		csPin:  c.String(flagCS),
	}
	if spec.device != "" {
		return spec, nil
	}

	opts := detection.DefaultOptions()
	if c.IsSet(flagTransport) {
		opts.Transports = []string{spec.kind}
	}
	devices, err := detection.DetectAll(c.Context, &opts)
	if err != nil {
		return spec, fmt.Errorf("auto-detection failed: %w", err)
	}
	device := devices[0]
	sdcard.Debugf("using detected %s", device)
	spec.kind = device.Transport
	spec.device = device.Path
	if pin, ok := device.Metadata["cs_pin"]; ok && spec.csPin == "" {
		spec.csPin = pin
	}
	return spec, nil
}

// mount opens the transport and initializes the card
func mount(c *cli.Context, opts ...sdcard.DiskOption) (*sdcard.Disk, error) {
	spec, err := resolveTransport(c)
	if err != nil {
		return nil, err
	}
	transport, err := openTransport(spec)
	if err != nil {
		return nil, err
	}

	disk, err := sdcard.NewDisk(transport, opts...)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}

	if retries := c.Int(flagInitRetries); retries > 0 {
		config := sdcard.DefaultRetryConfig()
		config.MaxAttempts = retries
		_, err = sdcard.InitializeWithRetry(c.Context, disk, sdcard.Drive, config)
	} else {
		_, err = disk.Initialize(c.Context, sdcard.Drive)
	}
	if err != nil {
		_ = disk.Close()
		return nil, fmt.Errorf("failed to initialize card on %s: %w", spec.device, err)
	}
	return disk, nil
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "sdcard",
		Usage: "Raw sector access to SD cards over SPI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagDevice,
				Aliases: []string{"d"},
				Usage:   "SPI port or serial port (auto-detect if empty)",
			},
			&cli.StringFlag{
				Name:    flagTransport,
				Aliases: []string{"t"},
				Value:   string(sdcard.TransportSPI),
				Usage:   "transport: spi or buspirate",
			},
			&cli.StringFlag{
				Name:  flagCS,
				Usage: "GPIO pin driving chip select (spi only)",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				EnvVars: []string{"SDCARD_DEBUG"},
				Usage:   "enable debug output",
			},
			&cli.StringFlag{
				Name:  flagLog,
				Usage: "write a session log into `DIR`",
			},
			&cli.IntFlag{
				Name:  flagInitRetries,
				Usage: "retry card initialization up to `N` times",
			},
		},
		Before: func(c *cli.Context) error {
			// Keep stdout clean for dumps
			sdcard.SetDebugOutput(c.App.ErrWriter)
			if c.Bool(flagDebug) {
				sdcard.SetDebugEnabled(true)
			}
			if c.IsSet(flagLog) {
				path, err := sdcard.InitSessionLog(c.String(flagLog))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(c.App.ErrWriter, "Session log: %s\n", path)
			}
			return nil
		},
		After: func(*cli.Context) error {
			return sdcard.CloseSessionLog()
		},
		Commands: commands(),
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1) //nolint:gocritic // stop already ran
	}
}
