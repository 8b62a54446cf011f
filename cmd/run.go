package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/skuscan/internal/config"
	"github.com/andresmejia3/skuscan/internal/controller"
	"github.com/andresmejia3/skuscan/internal/detector"
	"github.com/andresmejia3/skuscan/internal/display"
	"github.com/andresmejia3/skuscan/internal/logging"
	"github.com/andresmejia3/skuscan/internal/pipeline"
	"github.com/andresmejia3/skuscan/internal/sku"
	"github.com/andresmejia3/skuscan/internal/stats"
	"github.com/andresmejia3/skuscan/internal/store"
	"github.com/andresmejia3/skuscan/internal/utils"
	"github.com/andresmejia3/skuscan/internal/video"
	"github.com/andresmejia3/skuscan/internal/worker"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var runOpts Options

var runCmd = &cobra.Command{
	Use:         "run",
	Short:       "Detect SKUs in a video, interactively or headless",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRun(cmd.Context(), cmd.Flags(), runOpts)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.InputPath, "input", "i", "", "Path to video (optional in the dashboard, press o to pick one)")
	runCmd.Flags().StringVarP(&runOpts.ConfigPath, "config", "c", "", "YAML config file")
	runCmd.Flags().IntVarP(&runOpts.SkipFrames, "skip", "k", 5, "Run detection on every Kth frame")
	runCmd.Flags().IntVarP(&runOpts.QueueCapacity, "queue", "q", 10, "Frames buffered between decoding and detection")
	runCmd.Flags().StringVarP(&runOpts.Backend, "backend", "b", config.BackendPython, "Detector backend: python or onnx")
	runCmd.Flags().StringVarP(&runOpts.Model, "model", "m", "best.pt", "Model weights (.pt for python, .onnx for onnx)")
	runCmd.Flags().BoolVar(&runOpts.Headless, "headless", false, "Process --input without the dashboard and exit at end of stream")
	runCmd.Flags().BoolVar(&runOpts.Realtime, "realtime", true, "Decode at the video's native frame rate")
	runCmd.Flags().StringVarP(&runOpts.PreviewPath, "preview", "p", "", "Write the latest annotated frame to this JPEG file")
	runCmd.Flags().StringVar(&runOpts.LogFile, "log-file", "", "Write logs here while the dashboard is open")

	rootCmd.AddCommand(runCmd)
}

// loadRunConfig reads the config file (or defaults) and applies the flags the user set explicitly.
func loadRunConfig(flags *pflag.FlagSet, opts Options) (*config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return nil, err
		}
	}

	if flags.Changed("skip") {
		cfg.Pipeline.SkipFrames = opts.SkipFrames
	}
	if flags.Changed("queue") {
		cfg.Pipeline.QueueCapacity = opts.QueueCapacity
	}
	if flags.Changed("backend") {
		cfg.Detector.Backend = opts.Backend
	}
	if flags.Changed("model") {
		cfg.Detector.Model = opts.Model
	}
	if flags.Changed("realtime") {
		cfg.Pipeline.Realtime = opts.Realtime
	}
	if flags.Changed("preview") {
		cfg.Display.PreviewPath = opts.PreviewPath
	}
	if flags.Changed("log-file") {
		cfg.Log.File = opts.LogFile
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func validateRunFlags(opts *Options) error {
	if opts.Headless && opts.InputPath == "" {
		return fmt.Errorf("--headless requires --input")
	}
	if opts.InputPath == "" {
		return nil
	}
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			utils.ShowError("Input file does not exist", err, nil)
			return err
		}
		utils.ShowError("Unable to access input file", err, nil)
		return err
	}
	if info.IsDir() {
		err := fmt.Errorf("is a directory")
		utils.ShowError("Input path is a directory, expected a video file", err, nil)
		return err
	}
	return nil
}

// buildMapping layers the built-in table, the database catalogue and the config overrides.
func buildMapping(ctx context.Context, cfg *config.Config, db *store.Store) (sku.Mapping, error) {
	m := sku.Default()
	if db != nil {
		codes, err := db.SkuMap(ctx)
		if err != nil {
			return sku.Mapping{}, fmt.Errorf("loading SKU catalogue: %w", err)
		}
		fromDB, err := sku.FromMap(codes)
		if err != nil {
			return sku.Mapping{}, err
		}
		m = m.Merge(fromDB)
	}
	overrides, err := sku.FromMap(cfg.Skus)
	if err != nil {
		return sku.Mapping{}, err
	}
	return m.Merge(overrides), nil
}

func newDetector(ctx context.Context, cfg config.DetectorConfig) (detector.Backend, error) {
	switch cfg.Backend {
	case config.BackendONNX:
		return detector.NewONNX(detector.ONNXConfig{
			ModelPath:   cfg.Model,
			LibraryPath: cfg.LibraryPath,
			InputSize:   cfg.InputSize,
			Labels:      cfg.Labels,
			Confidence:  cfg.Confidence,
			IoU:         cfg.IoU,
		})
	default:
		return detector.NewPython(ctx, worker.Options{
			Python:      cfg.Python,
			Script:      cfg.Script,
			Model:       cfg.Model,
			Confidence:  cfg.Confidence,
			ReadTimeout: cfg.Timeout(),
		})
	}
}

// runRecorder stores run summaries. pgx connections are not safe for concurrent use.
type runRecorder struct {
	mu sync.Mutex
	db *store.Store
}

func (r *runRecorder) record(s controller.Summary) {
	videoID, err := utils.GenerateVideoID(s.VideoPath)
	if err != nil {
		log.Warn().Err(err).Msg("cannot identify video, run not recorded")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.db.RecordRun(context.Background(), store.RunRecord{
		RunID:           s.RunID,
		VideoID:         videoID,
		VideoPath:       s.VideoPath,
		StartedAt:       s.StartedAt,
		FinishedAt:      s.FinishedAt,
		FramesRead:      s.Stats.FramesRead,
		FramesDropped:   s.Stats.FramesDropped,
		FramesForwarded: s.Stats.FramesForwarded,
		DetectorErrors:  s.Stats.DetectorErrors,
	})
	if err != nil {
		log.Warn().Err(err).Str("run_id", s.RunID).Msg("failed to record run")
	}
}

func runRun(ctx context.Context, flags *pflag.FlagSet, opts Options) error {
	if err := validateRunFlags(&opts); err != nil {
		return err
	}
	cfg, err := loadRunConfig(flags, opts)
	if err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	// The dashboard owns the terminal, so logs go to a file or nowhere.
	var logOut io.Writer = os.Stderr
	if !opts.Headless {
		logOut = nil
		if cfg.Log.File != "" {
			f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("opening log file: %w", err)
			}
			defer f.Close()
			logOut = f
		}
	}
	logging.Init(cfg.Log.Level, logOut)

	db := DB
	if db == nil && cfg.Database.URL != "" {
		if db, err = store.New(ctx, cfg.Database.URL); err != nil {
			log.Warn().Err(err).Msg("database unavailable, using built-in SKU table")
			db = nil
		} else {
			defer db.Close(context.Background())
		}
	}

	mapping, err := buildMapping(ctx, cfg, db)
	if err != nil {
		utils.ShowError("Failed to load SKU table", err, nil)
		return err
	}
	log.Info().Strs("labels", mapping.Labels()).Msg("sku table loaded")

	if cfg.Detector.Backend == config.BackendONNX {
		defer detector.DestroyRuntime()
	}
	det, err := newDetector(ctx, cfg.Detector)
	if err != nil {
		utils.ShowError("Detector startup failed", err, nil)
		return err
	}
	defer func() {
		err := det.Close()
		if py, ok := det.(*detector.Python); ok && err != nil {
			utils.ShowError("Detector worker exited with an error", err, py.Command())
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	probe := stats.NewProbe(cfg.Stats.Interval(), nil)
	go probe.Run(ctx)

	preview := display.NewPreview(cfg.Display.Width, cfg.Display.Height, cfg.Display.PreviewPath)
	settings := controller.Settings{
		SkipFrames:    cfg.Pipeline.SkipFrames,
		QueueCapacity: cfg.Pipeline.QueueCapacity,
		IdleInterval:  cfg.Pipeline.IdleInterval(),
		StopTimeout:   cfg.Pipeline.StopTimeout(),
	}
	if db != nil {
		rec := &runRecorder{db: db}
		settings.OnFinish = rec.record
	}
	deps := pipeline.Deps{
		Opener:    video.FFmpegOpener{Realtime: cfg.Pipeline.Realtime},
		Detector:  det,
		FrameSink: preview,
		SnapSink:  display.NewSnapshotLogger(mapping),
	}
	ctrl := controller.New(settings, deps)

	ctrlDone := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(ctrlDone)
	}()
	// cancelling ctx makes the controller stop any active run before returning
	defer func() {
		cancel()
		<-ctrlDone
	}()

	if opts.InputPath != "" {
		if err := ctrl.SelectVideo(opts.InputPath); err != nil {
			return err
		}
	}

	if opts.Headless {
		return runHeadless(ctx, ctrl, opts.InputPath, probe)
	}

	prog := display.NewProgram(display.TUIOptions{
		Controls: ctrl,
		Mapping:  mapping,
		Preview:  preview,
		Stats:    probe,
	})
	go func() {
		<-ctx.Done()
		prog.Quit()
	}()
	if _, err := prog.Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// runHeadless starts one run and follows it with a progress bar until end of stream or Ctrl+C.
func runHeadless(ctx context.Context, ctrl *controller.Controller, input string, probe *stats.Probe) error {
	total := -1
	if info, err := video.Probe(ctx, input); err == nil && info.Frames > 0 {
		total = info.Frames
	}

	if err := ctrl.Start(); err != nil {
		var openErr *pipeline.SourceOpenError
		if errors.As(err, &openErr) {
			utils.ShowError("Failed to open video", openErr.Err, nil)
		}
		return err
	}
	st := ctrl.Status()
	if videoID, err := utils.GenerateVideoID(input); err == nil {
		fmt.Fprintf(os.Stderr, "📼 Processing Video ID: %s (run %s)\n", videoID[:12], st.RunID)
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🔍 Scanning"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	var shown uint64
	interrupted := false
loop:
	for {
		select {
		case <-ctx.Done():
			interrupted = true
			break loop
		case <-ticker.C:
			st = ctrl.Status()
			if read := st.Stats.FramesRead; read > shown {
				bar.Add(int(read - shown))
				shown = read
			}
			r := probe.Latest()
			bar.Describe(fmt.Sprintf("🔍 Scanning (CPU %.0f%% RAM %.0f%%)", r.CPUPercent, r.RAMPercent))
			if st.State == controller.Stopped {
				break loop
			}
		}
	}

	if interrupted {
		if err := ctrl.Stop(); err != nil && !errors.Is(err, controller.ErrClosed) {
			log.Warn().Err(err).Msg("stopping run")
		}
	}
	bar.Finish()
	st = ctrl.Status()
	fmt.Fprintf(os.Stderr, "\n🏁 Run Complete. Read %d frames, dropped %d, ran detection on %d (%d errors).\n",
		st.Stats.FramesRead, st.Stats.FramesDropped, st.Stats.FramesForwarded, st.Stats.DetectorErrors)
	return nil
}
