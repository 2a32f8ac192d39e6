package main

import (
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/framecast/agent/internal/capture"
	"github.com/framecast/agent/internal/config"
	"github.com/framecast/agent/internal/logging"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	version = "0.1.0"

	cfgFile      string
	flagFPS      int
	flagDisplay  int
	flagBackend  string
	flagOut      string
	flagDuration time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "framecast-agent",
	Short: "Framecast screen capture agent",
	Long:  `Framecast Agent - continuous screen capture for Windows, macOS, and Linux`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a continuous capture session",
	Run: func(cmd *cobra.Command, args []string) {
		runSession()
	},
}

var screenshotCmd = &cobra.Command{
	Use:   "screenshot",
	Short: "Capture a single frame and write it as PNG",
	Run: func(cmd *cobra.Command, args []string) {
		takeScreenshot()
	},
}

var displaysCmd = &cobra.Command{
	Use:   "displays",
	Short: "List attached displays",
	Run: func(cmd *cobra.Command, args []string) {
		listDisplays()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		showConfig()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Framecast Agent v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/framecast/framecast.yaml)")
	rootCmd.PersistentFlags().IntVar(&flagFPS, "fps", 0, "target frame rate (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagDisplay, "display", -1, "display index to capture (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "capture backend: auto, duplication, gdi, streaming, library")

	runCmd.Flags().DurationVar(&flagDuration, "duration", 0, "stop after this long (0 = run until interrupted)")
	screenshotCmd.Flags().StringVar(&flagOut, "out", "", "output PNG path")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(screenshotCmd)
	rootCmd.AddCommand(displaysCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the config file, applies flag overrides, validates, and
// initializes logging. Fatal validation problems end the process.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if flagFPS > 0 {
		cfg.FPS = flagFPS
	}
	if flagDisplay >= 0 {
		cfg.DisplayIndex = flagDisplay
	}
	if flagBackend != "" {
		cfg.Backend = flagBackend
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, nil)

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		for _, err := range result.Fatals {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}
		os.Exit(1)
	}
	return cfg
}

func captureConfig(cfg *config.Config) capture.Config {
	kind, _ := capture.ParseKind(cfg.Backend)
	return capture.Config{
		DisplayIndex: cfg.DisplayIndex,
		FPS:          uint32(cfg.FPS),
		Kind:         kind,
	}
}

func runSession() {
	cfg := loadConfig()
	log := logging.L("session")

	ccfg := captureConfig(cfg)
	backend, err := capture.New(ccfg)
	if err != nil {
		log.Error("failed to create capture backend", logging.KeyError, err)
		os.Exit(1)
	}

	var frames atomic.Int64
	var bytes atomic.Int64
	sink := func(f capture.Frame) error {
		frames.Add(1)
		bytes.Add(int64(len(f.Pixels)))
		return nil
	}

	if err := backend.Start(sink, ccfg.FPS); err != nil {
		log.Error("failed to start capture", logging.KeyError, err)
		os.Exit(1)
	}
	log.Info("capture session started",
		logging.KeyDisplay, ccfg.DisplayIndex,
		logging.KeyBackend, ccfg.Kind.String(),
		"fps", ccfg.FPS)

	// Periodic throughput report until a signal (or the duration) stops us.
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var timeout <-chan time.Time
	if flagDuration > 0 {
		timeout = time.After(flagDuration)
	}

	var lastFrames int64
	for {
		select {
		case <-ticker.C:
			total := frames.Load()
			log.Info("capture stats",
				"frames", total,
				"rate", float64(total-lastFrames)/5.0,
				"megabytes", bytes.Load()/(1024*1024))
			lastFrames = total
		case <-sigChan:
			log.Info("interrupted, stopping capture")
			stopAndExit(backend, log)
			return
		case <-timeout:
			log.Info("duration elapsed, stopping capture")
			stopAndExit(backend, log)
			return
		}
	}
}

func stopAndExit(backend capture.Backend, log *slog.Logger) {
	if err := backend.Stop(); err != nil {
		log.Error("stop failed", logging.KeyError, err)
		os.Exit(1)
	}
}

func takeScreenshot() {
	cfg := loadConfig()
	log := logging.L("screenshot")

	backend, err := capture.New(captureConfig(cfg))
	if err != nil {
		log.Error("failed to create capture backend", logging.KeyError, err)
		os.Exit(1)
	}

	start := time.Now()
	frame, err := backend.Screenshot()
	if err != nil {
		log.Error("screenshot failed", logging.KeyError, err)
		os.Exit(1)
	}

	out := flagOut
	if out == "" {
		out = filepath.Join(cfg.OutputDir,
			fmt.Sprintf("framecast-%s.png", time.Now().Format("20060102-150405")))
	}

	img := &image.RGBA{
		Pix:    frame.Pixels,
		Stride: int(frame.Stride),
		Rect:   image.Rect(0, 0, int(frame.Width), int(frame.Height)),
	}
	f, err := os.Create(out)
	if err != nil {
		log.Error("failed to create output file", logging.KeyError, err)
		os.Exit(1)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		log.Error("failed to encode png", logging.KeyError, err)
		os.Exit(1)
	}

	log.Info("screenshot written",
		"path", out,
		"width", frame.Width,
		"height", frame.Height,
		logging.KeyDurationMs, time.Since(start).Milliseconds())
	fmt.Println(out)
}

func listDisplays() {
	displays := capture.ListDisplays()
	if len(displays) == 0 {
		fmt.Println("No displays found.")
		return
	}
	for _, d := range displays {
		primary := ""
		if d.Primary() {
			primary = " (primary)"
		}
		fmt.Printf("%d: %dx%d at (%d,%d)%s\n", d.Index, d.Width, d.Height, d.X, d.Y, primary)
	}
}

func showConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(out)
}
