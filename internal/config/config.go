package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/vrracer/camstream/internal/logging"
)

var log = logging.L("config")

// Config holds every process-start setting for the streaming server. Fields
// map directly to the environment variables in the external-interfaces
// contract; viper binds them automatically via AutomaticEnv.
type Config struct {
	// Token Authority (C6) — both are startup-fatal if absent.
	JWTSecret           string `mapstructure:"jwt_secret"`
	JWTExpireMinutes    int    `mapstructure:"jwt_expire_minutes"`

	// Seeded administrators (C5) — bootstrap passwords reset on every start.
	AdminGPass string `mapstructure:"admin_g_pass"`
	AdminDPass string `mapstructure:"admin_d_pass"`

	// Capture Configuration (C1)
	CameraSize         string `mapstructure:"camera_size"` // "WxH"
	CameraMaxFPS        int    `mapstructure:"camera_max_fps"`
	CameraPixelFormat   string `mapstructure:"camera_pixel_format"`
	CameraSwapRB        bool   `mapstructure:"camera_swap_rb"`
	CameraBufferCount   int    `mapstructure:"camera_buffer_count"`
	CameraQueue         int    `mapstructure:"camera_queue"`
	CameraColorConvert  string `mapstructure:"camera_color_convert"` // auto|none|rgb2bgr|rgba2bgr|bgra2bgr|yuv420
	CameraTestPattern   bool   `mapstructure:"camera_test_pattern"`
	CameraLeftIndex     int    `mapstructure:"camera_left_index"`
	CameraRightIndex    int    `mapstructure:"camera_right_index"`

	// Stream transport selection
	StreamBackend string `mapstructure:"stream_backend"` // python|external

	// Motion Analyzer (C2)
	MotionSensitivity int `mapstructure:"motion_sensitivity"`

	// Recording Coordinator (C8)
	RecordingDir            string `mapstructure:"recording_dir"`
	RecordingRetentionDays  int    `mapstructure:"recording_retention_days"`
	RecordingUploadProvider string `mapstructure:"recording_upload_provider"` // s3|azure|gcs|b2|none
	RecordingUploadBucket   string `mapstructure:"recording_upload_bucket"`
	RecordingMailTo         string `mapstructure:"recording_mail_to"`
	RecordingStorageMinMB   int    `mapstructure:"recording_storage_min_mb"`

	// Outbound mail (C8 notification sink) — only consulted when
	// RecordingMailTo is set.
	SMTPAddr     string `mapstructure:"smtp_addr"`
	SMTPFrom     string `mapstructure:"smtp_from"`
	SMTPUser     string `mapstructure:"smtp_user"`
	SMTPPassword string `mapstructure:"smtp_password"`

	// MJPEG Streamer (C10)
	MJPEGQuality int `mapstructure:"mjpeg_quality"`

	// Logging configuration (C11)
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogDir        string `mapstructure:"log_dir"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	// Concurrency limits for the HTTP worker pool
	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests"`
	RequestQueueSize      int `mapstructure:"request_queue_size"`

	// Audit log (privileged-operation trail, distinct from the access log)
	AuditMaxSizeMB  int `mapstructure:"audit_max_size_mb"`
	AuditMaxBackups int `mapstructure:"audit_max_backups"`

	// HTTP server bind address
	ListenAddr string `mapstructure:"listen_addr"`

	// Data directory: user store, key file
	DataDir string `mapstructure:"data_dir"`

	// Registration policy: the source defaults to public registration; set
	// true to require an admin-authenticated caller instead.
	RegisterRequiresAdmin bool `mapstructure:"register_requires_admin"`
}

func Default() *Config {
	return &Config{
		CameraSize:         "1280x720",
		CameraMaxFPS:       30,
		CameraPixelFormat:  "yuv420",
		CameraBufferCount:  4,
		CameraQueue:        2,
		CameraColorConvert: "auto",
		CameraLeftIndex:    0,
		CameraRightIndex:   1,

		StreamBackend: "python",

		MotionSensitivity: 5,

		RecordingDir:            "/var/lib/camstream/recordings",
		RecordingRetentionDays:  7,
		RecordingUploadProvider: "none",
		RecordingStorageMinMB:   500,

		MJPEGQuality: 85,

		LogLevel:      "info",
		LogFormat:     "text",
		LogDir:        "/var/log/camstream",
		LogMaxSizeMB:  50,
		LogMaxBackups: 5,

		MaxConcurrentRequests: 16,
		RequestQueueSize:      128,

		AuditMaxSizeMB:  50,
		AuditMaxBackups: 3,

		ListenAddr: ":8443",
		DataDir:    "/var/lib/camstream",
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("camstream")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	// Most env vars in the external-interfaces contract carry no common
	// prefix (JWT_SECRET, CAMERA_SIZE, STREAM_BACKEND); bind them explicitly
	// rather than relying on a single SetEnvPrefix.
	bindEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// Validate config: fatals block startup, warnings are logged and continue.
	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

func bindEnv() {
	pairs := map[string]string{
		"jwt_secret":                "JWT_SECRET",
		"jwt_expire_minutes":        "JWT_EXPIRE_MINUTES",
		"admin_g_pass":              "ADMIN_G_PASS",
		"admin_d_pass":              "ADMIN_D_PASS",
		"camera_size":               "CAMERA_SIZE",
		"camera_max_fps":            "CAMERA_MAX_FPS",
		"camera_pixel_format":       "CAMERA_PIXEL_FORMAT",
		"camera_swap_rb":            "CAMERA_SWAP_RB",
		"camera_buffer_count":       "CAMERA_BUFFER_COUNT",
		"camera_queue":              "CAMERA_QUEUE",
		"camera_color_convert":      "CAMERA_COLOR_CONVERT",
		"camera_test_pattern":       "CAMERA_TEST_PATTERN",
		"camera_left_index":         "CAMERA_LEFT_INDEX",
		"camera_right_index":        "CAMERA_RIGHT_INDEX",
		"stream_backend":            "STREAM_BACKEND",
		"recording_dir":             "RECORDING_DIR",
		"recording_retention_days":  "RECORDING_RETENTION_DAYS",
		"recording_upload_provider": "RECORDING_UPLOAD_PROVIDER",
		"recording_upload_bucket":   "RECORDING_UPLOAD_BUCKET",
		"recording_mail_to":         "RECORDING_MAIL_TO",
		"recording_storage_min_mb":  "RECORDING_STORAGE_MIN_MB",
		"smtp_addr":                 "SMTP_ADDR",
		"smtp_from":                 "SMTP_FROM",
		"smtp_user":                 "SMTP_USER",
		"smtp_password":             "SMTP_PASSWORD",
		"mjpeg_quality":             "MJPEG_QUALITY",
		"listen_addr":               "LISTEN_ADDR",
		"data_dir":                  "DATA_DIR",
		"register_requires_admin":   "REGISTER_REQUIRES_ADMIN",
		"motion_sensitivity":        "MOTION_SENSITIVITY",
	}
	for key, env := range pairs {
		_ = viper.BindEnv(key, env)
	}
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("camera_size", cfg.CameraSize)
	viper.Set("camera_max_fps", cfg.CameraMaxFPS)
	viper.Set("camera_pixel_format", cfg.CameraPixelFormat)
	viper.Set("stream_backend", cfg.StreamBackend)
	viper.Set("listen_addr", cfg.ListenAddr)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "camstream.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	// Restrict config file to owner-only access (may contain JWT_SECRET)
	return os.Chmod(cfgPath, 0600)
}

// GetDataDir returns the platform-specific data directory for the server,
// used when DataDir is left at its zero value.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "camstream", "data")
	case "darwin":
		return "/Library/Application Support/camstream/data"
	default:
		return "/var/lib/camstream"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "camstream")
	case "darwin":
		return "/Library/Application Support/camstream"
	default:
		return "/etc/camstream"
	}
}
