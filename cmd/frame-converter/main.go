package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"frame-converter-go/internal/compressor"
	"frame-converter-go/internal/config"
	"frame-converter-go/internal/converter"
	"frame-converter-go/internal/encoder"
	"frame-converter-go/internal/frames"
	"frame-converter-go/internal/logger"
	"frame-converter-go/internal/progress"
	"frame-converter-go/internal/scanner"
	"frame-converter-go/internal/statistics"
	"frame-converter-go/internal/web"
)

var (
	cfgFile string
	verbose bool
	quiet   bool

	inputMode    string
	outputDir    string
	outputName   string
	fps          float64
	loopCount    uint32
	formats      []string
	quality      int
	useLocal     bool
	useRemote    bool
	sizeMismatch string

	host string
	port int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "frame-converter",
	Short: "Convert frame sequences into animated WebP, APNG and GIF",
	Long: `frame-converter turns an ordered sequence of still images into animated
WebP, APNG and GIF files.

Features:
- Natural-order frame discovery with size validation
- Lossless WebP and APNG encoding, palette-quantized GIF
- Optional local or remote post-encode compression
- Pause (SIGUSR1) and cancel (Ctrl+C) while converting
- Local HTTP/WebSocket interface for graphical shells`,
	SilenceUsage: true,
}

// scanCmd probes frames without converting them.
var scanCmd = &cobra.Command{
	Use:   "scan <folder | files...>",
	Short: "Show frame count and dimensions without converting",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd, args)
	},
}

// convertCmd runs one conversion job in the foreground.
var convertCmd = &cobra.Command{
	Use:   "convert <folder | files...>",
	Short: "Convert a frame sequence into animated files",
	Long: `Convert a folder of frames, or an explicit list of frame files, into one
animated file per requested format.

Send SIGUSR1 to pause or resume the running job; press Ctrl+C to cancel it.
Formats that finished before cancellation are kept.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert(cmd, args)
	},
}

// serveCmd starts the local interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local HTTP/WebSocket interface",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	for _, cmd := range []*cobra.Command{scanCmd, convertCmd} {
		cmd.Flags().StringVar(&inputMode, "mode", "", "input mode: folder or file (default: folder for one directory argument)")
	}

	f := convertCmd.Flags()
	f.StringVarP(&outputDir, "output", "o", "", "output directory")
	f.StringVar(&outputName, "name", "", "output base name (default: derived from the first frame)")
	f.Float64Var(&fps, "fps", 0, "frames per second")
	f.Uint32Var(&loopCount, "loop", 0, "times to play the animation, 0 = forever")
	f.StringSliceVarP(&formats, "formats", "f", nil, "output formats: webp, apng, gif")
	f.IntVarP(&quality, "quality", "q", 0, "compression quality 1-100")
	f.BoolVar(&useLocal, "local", false, "compress outputs on this machine")
	f.BoolVar(&useRemote, "remote", false, "compress outputs with the remote service")
	f.StringVar(&sizeMismatch, "size-mismatch", "", "frames with other dimensions: pad or reject")

	serveCmd.Flags().StringVar(&host, "host", "", "interface to listen on")
	serveCmd.Flags().IntVar(&port, "port", 0, "port to run web server on")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(serveCmd)
}

// initConfig reports which config file will be used.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.frame-converter")
		viper.AddConfigPath("/etc/frame-converter")
	}

	if err := viper.ReadInConfig(); err == nil && !quiet {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	conv := &cfg.Conversion
	if flags.Changed("output") {
		conv.OutputDirectory = outputDir
	}
	if flags.Changed("fps") {
		conv.FPS = fps
	}
	if flags.Changed("loop") {
		conv.LoopCount = loopCount
	}
	if flags.Changed("formats") {
		conv.Formats = formats
	}
	if flags.Changed("quality") {
		conv.CompressionQuality = quality
	}
	if flags.Changed("local") {
		conv.UseLocalCompression = useLocal
	}
	if flags.Changed("size-mismatch") {
		conv.SizeMismatch = sizeMismatch
	}
	if flags.Changed("host") {
		cfg.Server.Host = host
	}
	if flags.Changed("port") {
		cfg.Server.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.Config{
		Level:   cfg.Logging.Level,
		Console: verbose,
		File: logger.FileConfig{
			Path:       cfg.Logging.FilePath,
			MaxSizeMB:  cfg.Logging.MaxSize,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAge,
			Compress:   cfg.Logging.Compress,
		},
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.New(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// buildController wires the conversion engine from configuration. The
// returned function stops the controller and releases the probe cache.
func buildController(cfg *config.Config, log *logrus.Logger) (*converter.Controller, func(), error) {
	cache, err := scanner.NewProbeCache(cfg.Scanner.CachePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open probe cache: %w", err)
	}

	policy, err := frames.ParseSizePolicy(cfg.Conversion.SizeMismatch)
	if err != nil {
		cache.Close()
		return nil, nil, err
	}

	var remote compressor.Compressor
	if r := cfg.Compression.Remote; r.Enabled {
		remote = compressor.NewRemoteCompressor(compressor.RemoteConfig{
			Endpoint: r.Endpoint,
			APIKey:   r.APIKey,
			Timeout:  r.Timeout,
		}, log)
	}

	ctrl := converter.New(converter.Options{
		Logger: log,
		Scanner: scanner.New(log, scanner.Options{
			Workers:    cfg.Scanner.Workers,
			Extensions: cfg.Scanner.SupportedExtensions,
			Cache:      cache,
		}),
		Encoders: encoder.New(encoder.Settings{
			APNGCompressionLevel: cfg.Encoder.APNGCompressionLevel,
			GIFDither:            cfg.Encoder.GIFDither,
		}),
		Local:      compressor.NewLocalCompressor(),
		Remote:     remote,
		Hub:        progress.NewHub(cfg.Progress.Buffer),
		Stats:      statistics.NewStatistics(),
		SizePolicy: policy,
	})

	cleanup := func() {
		ctrl.Close()
		if err := cache.Close(); err != nil {
			log.WithError(err).Warn("Failed to close probe cache")
		}
	}
	return ctrl, cleanup, nil
}

// resolveInput turns positional arguments into a mode and paths.
func resolveInput(args []string) (scanner.InputMode, string, []string, error) {
	mode := scanner.InputMode(inputMode)
	if mode == "" {
		mode = scanner.ModeFile
		if len(args) == 1 && dirExists(args[0]) {
			mode = scanner.ModeFolder
		}
	}

	switch mode {
	case scanner.ModeFolder:
		if len(args) != 1 {
			return "", "", nil, fmt.Errorf("folder mode takes exactly one directory")
		}
		return mode, args[0], nil, nil
	case scanner.ModeFile:
		return mode, "", args, nil
	default:
		return "", "", nil, fmt.Errorf("unknown input mode: %s (valid: folder, file)", mode)
	}
}

// runScan prints frame count and dimensions.
func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	mode, path, paths, err := resolveInput(args)
	if err != nil {
		return err
	}

	log := setupLogger(cfg)
	ctrl, cleanup, err := buildController(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := ctrl.Scan(cmd.Context(), mode, path, paths)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	printScan(res)
	return nil
}

// runConvert executes one job and prints its results.
func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	mode, path, paths, err := resolveInput(args)
	if err != nil {
		return err
	}

	log := setupLogger(cfg)
	ctrl, cleanup, err := buildController(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	req := converter.Request{
		InputMode:            mode,
		InputPath:            path,
		InputPaths:           paths,
		OutputDir:            cfg.Conversion.OutputDirectory,
		OutputName:           outputName,
		FPS:                  cfg.Conversion.FPS,
		LoopCount:            cfg.Conversion.LoopCount,
		UseLocalCompression:  cfg.Conversion.UseLocalCompression,
		UseRemoteCompression: useRemote,
		CompressionQuality:   cfg.Conversion.CompressionQuality,
	}
	for _, f := range cfg.Conversion.Formats {
		req.Formats = append(req.Formats, encoder.Format(f))
	}

	var renderDone chan struct{}
	if !quiet {
		events, unsubscribe := ctrl.Subscribe()
		defer unsubscribe()
		renderDone = make(chan struct{})
		go func() {
			defer close(renderDone)
			renderProgress(events)
		}()
	}

	job, err := ctrl.Start(context.Background(), req)
	if err != nil {
		return fmt.Errorf("conversion not started: %w", err)
	}

	stopSignals := handleSignals(ctrl, log)
	results := job.Wait()
	stopSignals()

	if renderDone != nil {
		select {
		case <-renderDone:
		case <-time.After(2 * time.Second):
		}
	}

	if !quiet {
		printResults(results)
		if verbose {
			fmt.Println("\n" + ctrl.Stats().GetSummary())
			fmt.Println(ctrl.Stats().GetFormatBreakdown())
		}
	}

	switch job.State() {
	case converter.StateCompleted:
		return nil
	case converter.StateCancelled:
		return errors.New("conversion cancelled")
	default:
		return errors.New("every format failed")
	}
}

// handleSignals maps Ctrl+C to Cancel and the pause signal to a pause toggle.
func handleSignals(ctrl *converter.Controller, log *logrus.Logger) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, append([]os.Signal{os.Interrupt, syscall.SIGTERM}, pauseSignals...)...)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigChan:
				if sig == os.Interrupt || sig == syscall.SIGTERM {
					if err := ctrl.Cancel(); err != nil {
						log.WithError(err).Debug("Cancel ignored")
					}
					continue
				}
				togglePause(ctrl, log)
			}
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

func togglePause(ctrl *converter.Controller, log *logrus.Logger) {
	var err error
	if ctrl.Status().State == converter.StatePaused {
		err = ctrl.Resume()
		if err == nil {
			printNotice("Resumed")
		}
	} else {
		err = ctrl.Pause()
		if err == nil {
			printNotice("Paused, send SIGUSR1 again to resume")
		}
	}
	if err != nil {
		log.WithError(err).Debug("Pause toggle ignored")
	}
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	ctrl, cleanup, err := buildController(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	server := web.NewServer(ctrl, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Addr()); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	if !quiet {
		fmt.Printf("Frame converter interface listening on http://%s\n", cfg.Server.Addr())
		fmt.Printf("Press Ctrl+C to stop the server\n\n")
	}

	select {
	case <-sigChan:
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	}

	if err := ctrl.Cancel(); err == nil {
		log.Info("Cancelled running conversion for shutdown")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
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
