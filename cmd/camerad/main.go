package main

import (
	"context"
	"fmt"
	"net/http"
	"net/smtp"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vrracer/camstream/internal/audit"
	"github.com/vrracer/camstream/internal/cameramanager"
	"github.com/vrracer/camstream/internal/capture"
	"github.com/vrracer/camstream/internal/config"
	"github.com/vrracer/camstream/internal/events"
	"github.com/vrracer/camstream/internal/frame"
	"github.com/vrracer/camstream/internal/httpapi"
	"github.com/vrracer/camstream/internal/logging"
	"github.com/vrracer/camstream/internal/motion"
	"github.com/vrracer/camstream/internal/recording"
	"github.com/vrracer/camstream/internal/signaling"
	"github.com/vrracer/camstream/internal/store"
	"github.com/vrracer/camstream/internal/token"
	"github.com/vrracer/camstream/internal/workerpool"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "camerad",
	Short: "Camera streaming server",
	Long:  `camerad - WebRTC/MJPEG camera streaming server with motion detection and recording`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the streaming server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("camerad v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/camstream/camstream.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) {
	if _, err := logging.Init(cfg.LogDir, cfg.LogFormat, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging in %s: %v (continuing with defaults)\n", cfg.LogDir, err)
	}
	log = logging.L("main")
}

// captureConfig builds a capture.Config for one sensor index from the
// shared camera settings in cfg.
func captureConfig(cfg *config.Config, sensorIndex int) capture.Config {
	width, height, err := config.ParseCameraSize(cfg.CameraSize)
	if err != nil {
		log.Error("invalid camera size, falling back to 1280x720", "error", err)
		width, height = 1280, 720
	}
	return capture.Config{
		SensorIndex:  sensorIndex,
		Width:        width,
		Height:       height,
		FPS:          cfg.CameraMaxFPS,
		BufferCount:  cfg.CameraBufferCount,
		SwapRB:       cfg.CameraSwapRB,
		ColorConvert: frame.ParseColorConvertMode(cfg.CameraColorConvert),
		TestPattern:  cfg.CameraTestPattern,
	}
}

func buildRecordingSinks(cfg *config.Config) (*recording.Uploader, *recording.Notifier) {
	var uploader *recording.Uploader
	if cfg.RecordingUploadProvider != "none" && cfg.RecordingUploadBucket != "" {
		uploader = recording.NewUploader(cfg.RecordingUploadProvider, cfg.RecordingUploadBucket)
	}

	var notifier *recording.Notifier
	if cfg.RecordingMailTo != "" && cfg.SMTPAddr != "" {
		var auth smtp.Auth
		if cfg.SMTPUser != "" {
			host, _, _ := strings.Cut(cfg.SMTPAddr, ":")
			auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, host)
		}
		notifier = recording.NewNotifier(cfg.SMTPAddr, cfg.SMTPFrom, cfg.RecordingMailTo, auth)
	}
	return uploader, notifier
}

// runServer wires every component in construction order Logger -> Store
// -> Token -> Manager -> Coordinator -> Router, then serves until a
// shutdown signal arrives, tearing down in the reverse order.
func runServer() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogging(cfg)

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = config.GetDataDir()
	}

	auditLogger, err := audit.NewLogger(dataDir, cfg.AuditMaxSizeMB, cfg.AuditMaxBackups)
	if err != nil {
		log.Error("failed to open audit log, continuing without it", "error", err)
	}

	seededAdmins := []store.SeededAdmin{
		{Name: "Admin_G", Password: cfg.AdminGPass},
		{Name: "Admin_D", Password: cfg.AdminDPass},
	}
	userStore, err := store.Open(dataDir, seededAdmins)
	if err != nil {
		log.Error("failed to open credential store", "error", err)
		os.Exit(1)
	}

	tokenAuthority, err := token.New(cfg.JWTSecret, time.Duration(cfg.JWTExpireMinutes)*time.Minute)
	if err != nil {
		log.Error("failed to initialize token authority", "error", err)
		os.Exit(1)
	}

	eventHub := events.NewHub()
	motionAnalyzer := motion.New(cfg.MotionSensitivity)

	motionTap := func(f *frame.Frame, framePeriod time.Duration) {
		before := motionAnalyzer.State().MotionDetected
		after := motionAnalyzer.Analyze(f, framePeriod)
		if after.MotionDetected != before {
			eventHub.Publish(events.TypeMotionChanged, map[string]bool{"motion": after.MotionDetected})
		}
	}

	primaryCfg := captureConfig(cfg, cfg.CameraRightIndex)
	secondaryCfg := captureConfig(cfg, cfg.CameraLeftIndex)
	manager := cameramanager.New(
		primaryCfg, secondaryCfg,
		[]capture.Option{capture.WithMotionTap(motionTap)},
		nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Start(ctx)

	pool := workerpool.New(cfg.MaxConcurrentRequests, cfg.RequestQueueSize)

	signalingEndpoint := signaling.NewEndpoint(manager, signaling.DefaultTrackConfig(), pool)
	signalingEndpoint.OnEvent(func(eventType, peerID string) {
		eventHub.Publish(eventType, map[string]string{"peerId": peerID})
	})

	uploader, notifier := buildRecordingSinks(cfg)
	recordingCoordinator := recording.New(recording.Config{
		Dir:            cfg.RecordingDir,
		RetentionDays:  cfg.RecordingRetentionDays,
		Relay:          manager.PrimaryRelay(),
		FPS:            cfg.CameraMaxFPS,
		BitrateBPS:     2_500_000,
		Uploader:       uploader,
		Notifier:       notifier,
		PositionSource: nil,
	})

	router := httpapi.NewRouter(&httpapi.Deps{
		Store:            userStore,
		Token:            tokenAuthority,
		Manager:          manager,
		Motion:           motionAnalyzer,
		Signaling:        signalingEndpoint,
		Recording:        recordingCoordinator,
		Audit:            auditLogger,
		Pool:             pool,
		Events:           eventHub,
		RecordingsDir:    cfg.RecordingDir,
		MJPEGQuality:     cfg.MJPEGQuality,
		RegistrationOpen: !cfg.RegisterRequiresAdmin,
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	auditLogger.Log(audit.EventServerStart, "", map[string]any{"version": version, "listenAddr": cfg.ListenAddr})
	log.Info("starting camerad", "version", version, "listenAddr", cfg.ListenAddr)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Error("server failed", "error", err)
	case <-sigChan:
		log.Info("shutting down camerad")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	_ = server.Shutdown(shutdownCtx)
	signalingEndpoint.CloseAll()
	manager.StopAll()
	pool.StopAccepting()
	pool.Drain(shutdownCtx)
	cancel()

	auditLogger.Log(audit.EventServerStop, "", map[string]any{"version": version})
	if err := auditLogger.Close(); err != nil {
		log.Error("failed to close audit log", "error", err)
	}
	if err := logging.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log files: %v\n", err)
	}
	log.Info("camerad stopped")
}
