package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"issdecode/pkg/config"
	"issdecode/pkg/decode"
	"issdecode/pkg/imgio"
	"issdecode/pkg/registration"
	"issdecode/pkg/visualization"
)

func main() {
	// Parse command line arguments
	protocolName := flag.String("protocol", "ke", "Decoding protocol: ke (5 channels, registered) or chen (1 channel, pre-aligned)")
	configPath := flag.String("config", "issdecode.yaml", "Path to YAML configuration file")
	outputDir := flag.String("out", "decoded", "Directory for the output composite image")
	workers := flag.Int("workers", 0, "Number of cycles to process concurrently (0 = config value)")
	exportStack := flag.Bool("export-stack", false, "Export every aligned channel of the stack as TIFF")
	flag.Parse()

	// Positional arguments are the cycle directories, in acquisition order.
	cycleDirs := flag.Args()
	if len(cycleDirs) == 0 {
		fmt.Fprintln(os.Stderr, "error: no cycle directories provided")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *workers > 0 {
		cfg.Processing.Workers = *workers
	}

	protocol, err := buildProtocol(*protocolName, cfg)
	if err != nil {
		log.Fatalf("Invalid protocol: %v", err)
	}

	params := &decode.Params{
		Protocol:        protocol,
		Estimator:       registration.NewFeatureEstimator(),
		Method:          cfg.Processing.RegistrationMethod,
		Workers:         cfg.Processing.Workers,
		SaveDebugImages: cfg.Debug.Enabled,
		DebugDir:        cfg.Debug.Dir,
	}
	decoder := decode.NewDecoder(params)

	fmt.Printf("Decoding %d cycles with protocol %q...\n", len(cycleDirs), protocol.Name())
	startTime := time.Now()

	stack, composite, err := decoder.Decode(cycleDirs)
	if err != nil {
		log.Fatalf("Decoding failed: %v", err)
	}

	compositePath := filepath.Join(*outputDir, "composite.tif")
	if err := imgio.WriteTIFF(compositePath, composite); err != nil {
		log.Fatalf("Failed to write composite: %v", err)
	}

	fmt.Printf("\nDecoding completed in %.2f seconds\n", time.Since(startTime).Seconds())
	fmt.Printf("Cycles in stack: %d\n", len(stack))
	if len(stack) > 0 {
		fmt.Printf("Channels per cycle: %d\n", len(stack[0]))
		b := stack[0][0].Bounds()
		fmt.Printf("Reference frame: %dx%d\n", b.Dx(), b.Dy())
	}
	fmt.Printf("Composite image saved to: %s\n", compositePath)

	if *exportStack {
		var names []string
		for _, ch := range protocol.Channels() {
			if ch.Stacked {
				names = append(names, ch.Name)
			}
		}

		stackDir := filepath.Join(*outputDir, "stack")
		fmt.Printf("Exporting aligned stack to: %s\n", stackDir)
		exporter := visualization.NewExporter(stack, names)
		if err := exporter.SaveChannelSequence(stackDir); err != nil {
			log.Printf("Warning: failed to export stack: %v", err)
		}
	}
}

// buildProtocol maps a protocol name and configuration to a decode strategy.
func buildProtocol(name string, cfg *config.Config) (decode.Protocol, error) {
	switch name {
	case "ke":
		proto := decode.NewKeProtocol()
		proto.Merge = decode.MergePolicy(cfg.Merge.Policy)
		proto.MergeAlpha = cfg.Merge.Alpha
		proto.MergeBeta = cfg.Merge.Beta
		proto.CompositeForeground = cfg.Composite.ForegroundWeight
		proto.CompositeBackground = cfg.Composite.BackgroundWeight
		return proto, nil
	case "chen":
		return &decode.ChenProtocol{}, nil
	default:
		return nil, fmt.Errorf("unknown protocol %q (want ke or chen)", name)
	}
}
