package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"imgbatch/internal/compressor"
	"imgbatch/internal/config"
	"imgbatch/internal/logger"
	"imgbatch/internal/metadata"
	"imgbatch/internal/statistics"
	"imgbatch/internal/transform"
	"imgbatch/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	sourceDir string
	targetDir string
	verbose   bool
	quiet     bool
	port      int

	quality          int
	compressAll      bool
	stopOnError      bool
	reuseDecoded     bool
	preserveMetadata bool

	width  int
	height int

	format        string
	formatQuality int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "imgbatch",
	Short: "Batch compress, resize and convert images",
	Long: `imgbatch processes every JPEG/PNG image found directly inside a source
directory and writes the results into a target directory.

Features:
- Size-targeted JPEG recompression with an adaptive quality loop
- Small files copied verbatim, mode and mtime preserved
- Resize to fit a bounding box (Lanczos)
- Format conversion (jpg, png, gif, tif, bmp)
- Optional EXIF tag preservation through exiftool
- Structured logging and per-run statistics`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// compressCmd runs the adaptive quality loop over a directory.
var compressCmd = &cobra.Command{
	Use:   "compress",
	Short: "Recompress large images until they fit the size ceiling",
	Long: `Files larger than the eligibility threshold (or every file with --all) are
re-encoded as JPEG starting at --quality. While the result is above the size
ceiling, quality drops by the configured step and the file is encoded again.
Smaller files are copied unchanged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd)
	},
}

// resizeCmd fits every image inside a bounding box.
var resizeCmd = &cobra.Command{
	Use:   "resize",
	Short: "Resize images to fit inside --width x --height",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResize(cmd)
	},
}

// convertCmd re-encodes every image into another format.
var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert images to another format",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert(cmd)
	},
}

// inspectCmd shows header and EXIF information for a single file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show image metadata and whether compress would re-encode it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

// serveCmd starts the HTTP API server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API with a WebSocket progress stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	for _, c := range []*cobra.Command{compressCmd, resizeCmd, convertCmd} {
		c.Flags().StringVar(&sourceDir, "source", "", "source directory containing images")
		c.Flags().StringVar(&targetDir, "target", "", "target directory for processed images")
		c.Flags().BoolVar(&stopOnError, "stop-on-error", false, "abort the batch on the first failed file")
	}

	compressCmd.Flags().IntVarP(&quality, "quality", "q", 85, "initial JPEG quality (1-100)")
	compressCmd.Flags().BoolVar(&compressAll, "all", false, "recompress every file regardless of size")
	compressCmd.Flags().BoolVar(&reuseDecoded, "reuse-decoded", false, "decode each source once instead of on every retry")
	compressCmd.Flags().BoolVar(&preserveMetadata, "preserve-metadata", false, "copy EXIF tags onto recompressed files (needs exiftool)")

	resizeCmd.Flags().IntVar(&width, "width", 0, "maximum width in pixels (0 derives it from height)")
	resizeCmd.Flags().IntVar(&height, "height", 0, "maximum height in pixels (0 derives it from width)")

	convertCmd.Flags().StringVar(&format, "format", "", "output format: jpg, png, gif, tif, bmp")
	convertCmd.Flags().IntVar(&formatQuality, "quality", 0, "JPEG quality when converting to jpg (0 uses the encoder default)")

	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run web server on")

	rootCmd.AddCommand(compressCmd, resizeCmd, convertCmd, inspectCmd, serveCmd)
}

// runCompress executes the compression batch and prints its statistics.
func runCompress(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("quality") {
		cfg.Compression.Quality = quality
	}
	if compressAll {
		cfg.Compression.CompressAll = true
	}
	if reuseDecoded {
		cfg.Compression.ReuseDecoded = true
	}
	if preserveMetadata {
		cfg.Compression.PreserveMetadata = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := setupLogger(cfg)
	settings := cfg.CompressorSettings()

	comp, closePreserver := newCompressor(cfg, log)
	defer closePreserver()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := statistics.NewStatistics()
	job := compressor.Job{
		SourceDir:   cfg.SourceDirectory,
		TargetDir:   cfg.TargetDirectory,
		Quality:     cfg.Compression.Quality,
		CompressAll: cfg.Compression.CompressAll,
		Settings:    settings,
		Found:       stats.SetFilesFound,
		Observer: func(o compressor.Outcome) {
			compressor.Record(stats, o, settings.SizeCeiling)
		},
	}

	_, runErr := comp.Compress(ctx, job)
	return finish(stats, runErr, true)
}

// runResize executes the resize batch.
func runResize(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("width") || cmd.Flags().Changed("height") {
		cfg.Resize.Width, cfg.Resize.Height = width, height
	}

	log := setupLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := statistics.NewStatistics()
	_, runErr := transform.NewTransformer(log).Resize(ctx, transform.ResizeJob{
		Selection: selection(cfg, stats),
		Width:     cfg.Resize.Width,
		Height:    cfg.Resize.Height,
	})
	return finish(stats, runErr, false)
}

// runConvert executes the format conversion batch.
func runConvert(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if format != "" {
		cfg.Convert.Format = format
	}
	if cmd.Flags().Changed("quality") {
		cfg.Convert.Quality = formatQuality
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := setupLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := statistics.NewStatistics()
	_, runErr := transform.NewTransformer(log).Convert(ctx, transform.ConvertJob{
		Selection: selection(cfg, stats),
		Format:    cfg.Convert.Format,
		Quality:   cfg.Convert.Quality,
	})
	return finish(stats, runErr, false)
}

// runInspect prints what imgbatch sees in a single file.
func runInspect(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	info, err := metadata.Probe(filePath)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", filePath, err)
	}

	fmt.Printf("File:        %s\n", info.Path)
	fmt.Printf("Size:        %s (%d bytes)\n", statistics.FormatBytes(info.Size), info.Size)
	fmt.Printf("Format:      %s\n", info.Format)
	fmt.Printf("Dimensions:  %dx%d\n", info.Width, info.Height)
	fmt.Printf("Orientation: %d", info.Orientation)
	if info.Rotated() {
		fmt.Printf(" (displayed as %dx%d)", info.Height, info.Width)
	}
	fmt.Println()
	if info.HasEXIF {
		if info.Camera != "" {
			fmt.Printf("Camera:      %s\n", info.Camera)
		}
		if !info.Taken.IsZero() {
			fmt.Printf("Taken:       %s\n", info.Taken.Format("2006-01-02 15:04:05"))
		}
	} else {
		fmt.Println("EXIF:        none")
	}

	if info.Size > cfg.Compression.EligibilityThreshold {
		fmt.Printf("Compress:    re-encoded (larger than %s)\n", statistics.FormatBytes(cfg.Compression.EligibilityThreshold))
	} else {
		fmt.Printf("Compress:    copied unless --all (not larger than %s)\n", statistics.FormatBytes(cfg.Compression.EligibilityThreshold))
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}

	log := setupLogger(cfg)
	comp, closePreserver := newCompressor(cfg, log)
	defer closePreserver()
	server := web.NewServer(cfg, log, comp, transform.NewTransformer(log))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("imgbatch API listening on http://localhost:%d\n", port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped")
	return nil
}

// loadConfig loads configuration and applies the shared CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	if sourceDir != "" {
		cfg.SourceDirectory = sourceDir
	}
	if targetDir != "" {
		cfg.TargetDirectory = targetDir
	}
	if stopOnError {
		cfg.Processing.OnError = "abort"
	}

	if !dirExists(cfg.SourceDirectory) {
		return nil, fmt.Errorf("source directory does not exist: %s", cfg.SourceDirectory)
	}

	return cfg, nil
}

// newCompressor builds the compressor, attaching an exiftool preserver when
// metadata preservation is configured. The returned func releases exiftool.
func newCompressor(cfg *config.Config, log *logrus.Logger) (*compressor.DefaultCompressor, func()) {
	if !cfg.Compression.PreserveMetadata {
		return compressor.NewDefaultCompressor(log), func() {}
	}

	p, err := metadata.NewPreserver()
	if err != nil {
		log.WithError(err).Warn("exiftool unavailable, metadata will not be preserved")
		return compressor.NewDefaultCompressor(log), func() {}
	}
	log.Warn("Metadata is written after the size search, so preserved tags may push files over the size ceiling")
	return compressor.NewDefaultCompressor(log, compressor.WithMetadataPreserver(p)), func() { _ = p.Close() }
}

func selection(cfg *config.Config, stats *statistics.Statistics) transform.Selection {
	return transform.Selection{
		SourceDir:  cfg.SourceDirectory,
		TargetDir:  cfg.TargetDirectory,
		Extensions: cfg.Processing.Extensions,
		IgnoreCase: cfg.Processing.IgnoreCase,
		OnError:    cfg.Policy(),
		Found:      stats.SetFilesFound,
		Observer: func(r transform.Result) {
			transform.Record(stats, r)
		},
	}
}

// finish prints the run summary and turns per-file failures into a non-zero exit.
func finish(stats *statistics.Statistics, runErr error, breakdown bool) error {
	stats.Finalize()

	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
		if breakdown {
			fmt.Println("\n" + stats.GetQualityBreakdown())
		}
		if stats.GetFilesWithErrors() > 0 {
			fmt.Println("\n" + stats.GetErrorSummary())
		}
	}

	if runErr != nil {
		return runErr
	}
	if n := stats.GetFilesWithErrors(); n > 0 {
		return fmt.Errorf("%d file(s) failed", n)
	}
	return nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := cfg.LoggerConfig()
	loggerCfg.Console = !quiet

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists returns true if the given path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
