package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/screenmask/internal/api"
	"github.com/bryanchriswhite/screenmask/internal/capture"
	"github.com/bryanchriswhite/screenmask/internal/config"
	"github.com/bryanchriswhite/screenmask/internal/detect"
	"github.com/bryanchriswhite/screenmask/internal/display"
	"github.com/bryanchriswhite/screenmask/internal/logger"
	"github.com/bryanchriswhite/screenmask/internal/output"
	"github.com/bryanchriswhite/screenmask/internal/overlay"
	"github.com/bryanchriswhite/screenmask/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the screenmask server",
	Long: `Start the local HTTP server, the event emitter and the capture pipeline.

Monitoring is started per display through POST /api/monitoring/start once
the detection service reports ready. Mask updates are pushed to
/api/events; with --debug the raw frames and masks are previewed on /stream.`,
	Example: `  # Start server on the configured port
  screenmask serve

  # Start server on custom port
  screenmask serve --port 9090

  # Start with specific config file
  screenmask serve --config /path/to/config.yaml

  # Start with debug logging and the frame preview
  screenmask serve --log-level debug --debug`,
	RunE: runServe,
}

var serveDisplay int

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&serveDisplay, "display", "d", -1, "start monitoring this display once the detector is ready")
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	// Override port from flag if provided
	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}

	// Override log level from flag if provided
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			configMgr.SetLogLevel(level)
		}
	}

	if viper.IsSet("debug") {
		configMgr.SetDebug(viper.GetBool("debug"))
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, true)
	log := logger.WithComponent("serve")

	log.Info().
		Str("path", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Bool("debug", cfg.Debug).
		Msg("Configuration loaded")

	displays := display.NewEnumerator(nil)
	selector := capture.NewSelector()
	router := capture.NewPlatformRouter(selector)
	defer router.Close()

	detector, err := detect.NewHTTPDetector(cfg.Detector.Endpoint, time.Duration(cfg.Detector.TimeoutMs)*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to initialize detector: %w", err)
	}

	// Overlay events go through the latest-only emitter to the server's
	// websocket clients.
	events := output.NewEmitter(output.DefaultEmitInterval)
	overlayMgr := overlay.NewManager(events, func() string {
		return configMgr.Get().Monitoring.MosaicStyle
	})

	// Debug frames are paced separately so the preview never delays masks.
	stream := output.NewMJPEGOutput(output.Config{Width: cfg.Server.PreviewWidth})
	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start preview stream: %w", err)
	}
	defer stream.Stop()
	frames := output.NewEmitter(output.DefaultPreviewInterval)
	frames.AddSink(output.NewPreview(stream, overlayMgr, cfg.Server.PreviewWidth))

	orch := pipeline.New(pipeline.Options{
		Capturer:  router,
		Detector:  detector,
		Overlay:   overlayMgr,
		Settings:  pipeline.SettingsFromConfig(configMgr),
		FrameSink: output.FramePublisher{Emitter: frames},
	})

	server := api.NewServer(api.Options{
		Config:   configMgr,
		Displays: displays,
		Pipeline: orch,
		Detector: detector,
		Overlay:  overlayMgr,
		Selector: selector,
		Stream:   stream,
		Emitter:  events,
	})
	events.AddSink(server.Hub())

	events.Start()
	defer events.Stop()
	frames.Start()
	defer frames.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx, addr) }()

	log.Info().
		Str("api", "http://"+addr+"/api").
		Str("events", "ws://"+addr+"/api/events").
		Str("preview", "http://"+addr+"/").
		Msg("screenmask is running, press Ctrl+C to stop")

	if serveDisplay >= 0 {
		go autoStart(ctx, displays, detector, orch, serveDisplay)
	}

	err = <-errCh

	log.Info().Msg("Shutting down gracefully...")
	orch.Stop()
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// autoStart waits for the detector and then starts monitoring id.
func autoStart(ctx context.Context, displays *display.Enumerator, detector detect.Detector, orch *pipeline.Orchestrator, id int) {
	log := logger.WithComponent("serve")

	d, err := displays.Find(id)
	if err != nil {
		log.Error().Err(err).Int("display", id).Msg("Cannot start monitoring")
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for !detect.IsReady(detector) {
		log.Debug().Msg("Waiting for detector")
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	if err := orch.Start(d); err != nil {
		log.Error().Err(err).Int("display", id).Msg("Failed to start monitoring")
		return
	}
	log.Info().Str("display", d.String()).Msg("Monitoring started")
}
