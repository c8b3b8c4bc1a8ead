package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"histoquant/pkg/config"
	"histoquant/pkg/logging"
	"histoquant/pkg/metadata"
	"histoquant/pkg/pipeline"
)

const usage = `Usage:
  histoquant [flags] -metadata metadata.csv   quantify a cohort and compare conditions
  histoquant scan -dir images [-out metadata.csv]
  histoquant init-config [-config configs/histoquant.yaml]

Run "histoquant -h" for the quantification flags.
`

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "scan":
			runScan(os.Args[2:])
			return
		case "init-config":
			runInitConfig(os.Args[2:])
			return
		}
	}
	runQuantify()
}

// runQuantify runs the quantification pipeline
func runQuantify() {
	// Parse command line arguments
	configPath := flag.String("config", "configs/histoquant.yaml", "YAML configuration file (defaults are used if missing)")
	metadataPath := flag.String("metadata", "", "CSV table listing image_id, file_path, condition, stain, replicate")
	outputDir := flag.String("output", "", "Output directory (overrides output.dir)")
	workers := flag.Int("workers", 0, "Number of images processed concurrently (overrides processing.workers)")
	alpha := flag.Float64("alpha", 0, "Family-wise significance level (overrides statistics.alpha)")
	normalize := flag.Bool("normalize", true, "Apply min-max stretch and CLAHE to intensity stains")
	saveSegments := flag.Bool("save-segments", false, "Save one PNG per category and image")
	noCharts := flag.Bool("no-charts", false, "Skip the per-stain summary charts")
	database := flag.String("db", "", "SQLite database file (overrides output.database)")
	metricsFile := flag.String("metrics", "", "Prometheus textfile for run counters (overrides output.metricsFile)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides logging.level)")
	jsonLogs := flag.Bool("json-logs", false, "Write JSON log lines instead of console output")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	// Validate inputs
	if *metadataPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags override the configuration file
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["output"] {
		cfg.Output.Dir = *outputDir
	}
	if set["workers"] {
		cfg.Processing.Workers = *workers
	}
	if set["alpha"] {
		cfg.Statistics.Alpha = *alpha
	}
	if set["normalize"] {
		cfg.Processing.Normalize = *normalize
	}
	if set["save-segments"] {
		cfg.Output.SaveSegments = *saveSegments
	}
	if *noCharts {
		cfg.Output.Charts = false
	}
	if set["db"] {
		cfg.Output.Database = *database
	}
	if set["metrics"] {
		cfg.Output.MetricsFile = *metricsFile
	}
	if set["log-level"] {
		cfg.Logging.Level = *logLevel
	}
	if *jsonLogs {
		cfg.Logging.Console = false
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.Stderr(cfg.Logging.Level, cfg.Logging.Console)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p := pipeline.NewPipeline(pipeline.Params{MetadataPath: *metadataPath, Config: cfg}, logger)

	startTime := time.Now()
	summary, err := p.Process(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Run failed")
		os.Exit(1)
	}

	fmt.Printf("\nQuantified %d images in %.2f seconds\n", summary.Records, time.Since(startTime).Seconds())
	fmt.Printf("Stains processed: %v\n", summary.Stains)

	if len(summary.SkippedStains) > 0 {
		names := make([]string, 0, len(summary.SkippedStains))
		for s := range summary.SkippedStains {
			names = append(names, s)
		}
		sort.Strings(names)
		fmt.Println("\nSkipped stains:")
		for _, s := range names {
			fmt.Printf("- %s: %v\n", s, summary.SkippedStains[s])
		}
	}
	if len(summary.Failures) > 0 {
		fmt.Printf("\nSkipped images (%d):\n", len(summary.Failures))
		for _, f := range summary.Failures {
			fmt.Printf("- %v\n", f)
		}
	}

	fmt.Println("\nOutputs:")
	for _, path := range summary.Outputs {
		fmt.Printf("%s\n", path)
	}
}

// runScan writes a metadata table built from Condition-Stain-Replicate file names
func runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	dir := fs.String("dir", "", "Directory containing the images")
	out := fs.String("out", "", "Metadata CSV to write (default: <dir>/metadata.csv)")
	fs.Parse(args)

	if *dir == "" {
		fs.Usage()
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(*dir, "metadata.csv")
	}

	rows, skipped, err := metadata.Scan(*dir)
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}
	for _, name := range skipped {
		fmt.Printf("Warning: %s does not follow Condition-Stain-Replicate, skipped\n", name)
	}
	if len(rows) == 0 {
		log.Fatalf("No image in %s follows Condition-Stain-Replicate", *dir)
	}
	if err := metadata.Save(*out, rows); err != nil {
		log.Fatalf("Failed to write metadata: %v", err)
	}
	fmt.Printf("Wrote %d rows to %s\n", len(rows), *out)
}

// runInitConfig writes the default configuration file
func runInitConfig(args []string) {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	configPath := fs.String("config", "configs/histoquant.yaml", "Configuration file to create")
	force := fs.Bool("force", false, "Overwrite an existing file")
	fs.Parse(args)

	if _, err := os.Stat(*configPath); err == nil && !*force {
		log.Fatalf("%s already exists (use -force to overwrite)", *configPath)
	}
	if err := config.CreateDefaultConfigFile(*configPath); err != nil {
		log.Fatalf("Failed to create configuration: %v", err)
	}
	fmt.Printf("Default configuration written to %s\n", *configPath)
}
