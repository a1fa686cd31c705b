package config

import (
	"fmt"
	"testing"
)

func TestValidateTieredMissingJWTSecretIsFatal(t *testing.T) {
	cfg := Default()
	cfg.JWTSecret = ""
	cfg.JWTExpireMinutes = 60

	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("expected fatal for missing JWT_SECRET")
	}
}

func TestValidateTieredMissingJWTExpiryIsFatal(t *testing.T) {
	cfg := Default()
	cfg.JWTSecret = "s3cr3t"
	cfg.JWTExpireMinutes = 0

	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("expected fatal for missing/zero JWT_EXPIRE_MINUTES")
	}
}

func TestValidateTieredControlCharsInSecretIsFatal(t *testing.T) {
	cfg := Default()
	cfg.JWTSecret = "bad\x00secret"
	cfg.JWTExpireMinutes = 60

	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("expected fatal for control characters in JWT_SECRET")
	}
}

func TestValidateTieredInvalidCameraSizeIsFatal(t *testing.T) {
	cfg := Default()
	cfg.JWTSecret = "s3cr3t"
	cfg.JWTExpireMinutes = 60
	cfg.CameraSize = "not-a-size"

	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("expected fatal for malformed CAMERA_SIZE")
	}
}

func TestValidateTieredFPSClampingIsWarning(t *testing.T) {
	cfg := validBaseConfig()
	cfg.CameraMaxFPS = -1

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped fps should be warning, not fatal: %v", result.Fatals)
	}
	if cfg.CameraMaxFPS != 0 {
		t.Fatalf("CameraMaxFPS = %d, want clamped to 0", cfg.CameraMaxFPS)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning for negative fps")
	}
}

func TestValidateTieredHighFPSClampingIsWarning(t *testing.T) {
	cfg := validBaseConfig()
	cfg.CameraMaxFPS = 500

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped fps should be warning, not fatal: %v", result.Fatals)
	}
	if cfg.CameraMaxFPS != 120 {
		t.Fatalf("CameraMaxFPS = %d, want clamped to 120", cfg.CameraMaxFPS)
	}
}

func TestValidateTieredUnknownColorConvertIsWarning(t *testing.T) {
	cfg := validBaseConfig()
	cfg.CameraColorConvert = "not-a-mode"

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("unknown color convert should be warning: %v", result.Fatals)
	}
	if cfg.CameraColorConvert != "auto" {
		t.Fatalf("CameraColorConvert = %q, want fallback to auto", cfg.CameraColorConvert)
	}
}

func TestValidateTieredBufferCountClamping(t *testing.T) {
	cfg := validBaseConfig()
	cfg.CameraBufferCount = 0

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped buffer count should be warning: %v", result.Fatals)
	}
	if cfg.CameraBufferCount != 1 {
		t.Fatalf("CameraBufferCount = %d, want clamped to 1", cfg.CameraBufferCount)
	}
}

func TestValidateTieredSameLeftRightIndexIsWarning(t *testing.T) {
	cfg := validBaseConfig()
	cfg.CameraLeftIndex = 2
	cfg.CameraRightIndex = 2

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("duplicate indices should be a warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning when left and right indices match")
	}
}

func TestValidateTieredUnknownStreamBackendIsWarning(t *testing.T) {
	cfg := validBaseConfig()
	cfg.StreamBackend = "carrier-pigeon"

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("unknown stream backend should be warning: %v", result.Fatals)
	}
	if cfg.StreamBackend != "python" {
		t.Fatalf("StreamBackend = %q, want fallback to python", cfg.StreamBackend)
	}
}

func TestValidateTieredMJPEGQualityClamping(t *testing.T) {
	cfg := validBaseConfig()
	cfg.MJPEGQuality = 150

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped mjpeg quality should be warning: %v", result.Fatals)
	}
	if cfg.MJPEGQuality != 85 {
		t.Fatalf("MJPEGQuality = %d, want clamped to 85", cfg.MJPEGQuality)
	}
}

func TestValidateTieredUnknownUploadProviderIsWarning(t *testing.T) {
	cfg := validBaseConfig()
	cfg.RecordingUploadProvider = "dropbox"

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("unknown upload provider should be warning: %v", result.Fatals)
	}
	if cfg.RecordingUploadProvider != "none" {
		t.Fatalf("RecordingUploadProvider = %q, want fallback to none", cfg.RecordingUploadProvider)
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := validBaseConfig()
	cfg.LogLevel = "verbose"

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("unknown log level should be warning: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning for unrecognized log level")
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := validBaseConfig()
	cfg.LogFormat = "xml"

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("invalid log format should be warning: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning for invalid log format")
	}
}

func TestValidateTieredConcurrencyClamping(t *testing.T) {
	cfg := validBaseConfig()
	cfg.MaxConcurrentRequests = 0
	cfg.RequestQueueSize = 0

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped concurrency should be warning: %v", result.Fatals)
	}
	if cfg.MaxConcurrentRequests != 1 || cfg.RequestQueueSize != 1 {
		t.Fatalf("expected clamping to 1, got MaxConcurrentRequests=%d RequestQueueSize=%d",
			cfg.MaxConcurrentRequests, cfg.RequestQueueSize)
	}
}

func TestHasFatals(t *testing.T) {
	r := &ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestValidateTieredValidConfigHasNoFatalsOrWarnings(t *testing.T) {
	cfg := validBaseConfig()

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("valid config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("valid config has warnings: %v", result.Warnings)
	}
}

func TestParseCameraSize(t *testing.T) {
	w, h, err := parseCameraSize("1280x720")
	if err != nil {
		t.Fatalf("parseCameraSize returned error: %v", err)
	}
	if w != 1280 || h != 720 {
		t.Fatalf("parseCameraSize = (%d, %d), want (1280, 720)", w, h)
	}

	if _, _, err := parseCameraSize("garbage"); err == nil {
		t.Fatal("expected error for malformed camera size")
	}
}

func validBaseConfig() *Config {
	cfg := Default()
	cfg.JWTSecret = "s3cr3t"
	cfg.JWTExpireMinutes = 60
	cfg.CameraLeftIndex = 0
	cfg.CameraRightIndex = 1
	return cfg
}
