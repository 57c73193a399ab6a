package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/landrop-server/landrop-server/internal/connect"
	"github.com/landrop-server/landrop-server/internal/discovery"
	"github.com/landrop-server/landrop-server/internal/events"
	"github.com/landrop-server/landrop-server/internal/models"
	"github.com/landrop-server/landrop-server/internal/registry"
	"github.com/landrop-server/landrop-server/internal/transfer"
	"github.com/landrop-server/landrop-server/pkg/crypto"
)

// discoverWindow is how long we listen for beacons when the target is a
// connection key rather than an address.
const discoverWindow = 12 * time.Second

func main() {
	var to = flag.String("to", "", "target peer: IP address or connection key (XXXX-YYYY)")
	var pin = flag.String("pin", "", "PIN if the receiver requires one")
	var alias = flag.String("alias", "", "alias to present (default: hostname)")
	var verbose = flag.Bool("v", false, "debug logging")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	files := flag.Args()
	if *to == "" || len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: landrop-send -to <ip|key> [-pin PIN] file...")
		os.Exit(2)
	}

	self := selfDescription(*alias)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	device, err := resolveTarget(ctx, self, *to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sending %d file(s) to %s (%s)...\n", len(files), device.Alias, device.IPAddress)
	fmt.Println("Waiting for the receiver to accept...")

	sender := transfer.NewSender(self, transfer.WithProgress(func(fileName string, sent, total int64) {
		fmt.Printf("  %s (%d/%d bytes)\n", fileName, sent, total)
	}))

	result, err := sender.SendFiles(ctx, device, files, *pin)
	if err != nil {
		if transfer.IsRejected(err) {
			fmt.Fprintln(os.Stderr, "transfer rejected by the receiver")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Done: %d file(s), %d bytes in %s\n", result.Files, result.Bytes, result.Elapsed.Round(time.Millisecond))
}

// resolveTarget turns an address or connection key into a device. Keys
// need a short discovery window to hear the peer's beacon.
func resolveTarget(ctx context.Context, self models.SelfDescription, target string) (*models.Device, error) {
	devices := registry.NewDeviceRegistry()
	resolver := connect.NewResolver(self, devices)

	if ip := net.ParseIP(target); ip != nil {
		device, err := resolver.ByIP(ctx, target)
		if err != nil {
			return nil, err
		}
		if device == nil {
			return nil, fmt.Errorf("no peer answered at %s", target)
		}
		return device, nil
	}

	key := connect.NormalizeKey(target)
	if !connect.ValidKey(key) {
		return nil, fmt.Errorf("%q is neither an IP address nor a connection key", target)
	}

	announcer := discovery.NewAnnouncer(self, models.MulticastGroup, models.DefaultPort, models.AnnounceInterval)
	coordinator := discovery.NewCoordinator(announcer, devices, events.LogSink{}, time.Second, models.DeviceTimeout)
	if err := coordinator.Start(); err != nil {
		return nil, fmt.Errorf("start discovery: %w", err)
	}
	defer coordinator.Stop()

	deadline := time.After(discoverWindow)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("no peer with key %s found on this network", key)
		case <-ticker.C:
			if device := resolver.ByKey(key); device != nil {
				return device, nil
			}
		}
	}
}

func selfDescription(alias string) models.SelfDescription {
	if alias == "" {
		alias, _ = os.Hostname()
		if alias == "" {
			alias = "landrop-send"
		}
	}
	fingerprint, err := crypto.RandomFingerprint()
	if err != nil {
		fingerprint = crypto.Fingerprint(alias + time.Now().String())
	}
	return models.SelfDescription{
		Alias:       alias,
		Version:     models.ProtocolVersion,
		DeviceModel: "cli",
		DeviceType:  "headless",
		Fingerprint: fingerprint,
		Port:        models.DefaultPort,
		Protocol:    "http",
	}
}
