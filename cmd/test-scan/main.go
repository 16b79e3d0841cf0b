// Command test-scan is a manual test for discovery against real hardware.
// It scans once, prints what it saw, connects to the subwoofer if present,
// and optionally writes one volume frame.
//
// Usage:
//
//	go run ./cmd/test-scan [--duration 4s] [--volume -30]
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/chaz8081/svs-remote/internal/ble"
	"github.com/chaz8081/svs-remote/internal/logging"
	"github.com/chaz8081/svs-remote/internal/svs"
)

func main() {
	duration := flag.Duration("duration", ble.DefaultScanDuration, "scan window")
	volume := flag.Float64("volume", math.NaN(), "volume in dB to write after connecting")
	flag.Parse()

	logger := logging.New("debug", "text", os.Stderr)
	session := ble.NewSession(ble.NewTinyGoHost(), logger)

	adapters, err := session.ListAdapters()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Scanning on %s for %s...\n", adapters[0].ID(), *duration)

	ctx := context.Background()
	peripherals, err := session.Scan(ctx, adapters[0], *duration)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	for _, p := range peripherals {
		fmt.Printf("  %-17s %4d dBm  %q\n", p.Address, p.RSSI, p.Name)
	}

	link := ble.NewLinkManager(session, ble.LinkOptions{ScanDuration: *duration, ValidateOnConnect: true, Logger: logger})
	if err := link.DiscoverAndConnect(ctx); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer link.Close()
	fmt.Printf("Connected: %+v\n", link.Status())

	if !math.IsNaN(*volume) {
		controller := svs.NewController(link, svs.DefaultSettle, logger)
		if err := controller.SetVolume(ctx, *volume); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fmt.Printf("Volume set to %.1f dB\n", *volume)
	}

	fmt.Println("\nDone!")
}
