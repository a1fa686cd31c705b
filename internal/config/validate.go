package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var cameraSizeRegex = regexp.MustCompile(`^\d+x\d+$`)

var validColorConvert = map[string]bool{
	"auto":     true,
	"none":     true,
	"rgb2bgr":  true,
	"rgba2bgr": true,
	"bgra2bgr": true,
	"yuv420":   true,
}

var validStreamBackend = map[string]bool{
	"python":   true,
	"external": true,
}

var validUploadProvider = map[string]bool{
	"s3":    true,
	"azure": true,
	"gcs":   true,
	"b2":    true,
	"none":  true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates fatal errors (which must block startup) from
// warnings (logged, but the clamped/defaulted value is used and the
// process continues).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r *ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

func (r *ValidationResult) fatalf(format string, args ...any) {
	r.Fatals = append(r.Fatals, fmt.Errorf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Errorf(format, args...))
}

// ValidateTiered checks the config for missing/invalid values. A fatal
// blocks startup outright (Token Authority secrets, malformed required
// fields); a warning is logged and the field is clamped to a safe default
// so the process can still come up.
func (c *Config) ValidateTiered() *ValidationResult {
	r := &ValidationResult{}

	// Token Authority (C6): missing secret or expiry is startup-fatal —
	// never fall back to a hard-coded default.
	if strings.TrimSpace(c.JWTSecret) == "" {
		r.fatalf("JWT_SECRET is required and must not be empty")
	}
	for _, ch := range c.JWTSecret {
		if unicode.IsControl(ch) {
			r.fatalf("JWT_SECRET contains control characters")
			break
		}
	}
	if c.JWTExpireMinutes <= 0 {
		r.fatalf("JWT_EXPIRE_MINUTES is required and must be a positive integer, got %d", c.JWTExpireMinutes)
	}

	if c.CameraSize != "" && !cameraSizeRegex.MatchString(c.CameraSize) {
		r.fatalf("CAMERA_SIZE %q is not in WxH form", c.CameraSize)
	}

	if c.CameraMaxFPS < 0 {
		r.warnf("CAMERA_MAX_FPS %d is negative, clamping to 0 (unpaced)", c.CameraMaxFPS)
		c.CameraMaxFPS = 0
	} else if c.CameraMaxFPS > 120 {
		r.warnf("CAMERA_MAX_FPS %d exceeds maximum 120, clamping", c.CameraMaxFPS)
		c.CameraMaxFPS = 120
	}

	if c.CameraColorConvert != "" && !validColorConvert[strings.ToLower(c.CameraColorConvert)] {
		r.warnf("CAMERA_COLOR_CONVERT %q is not recognized, falling back to auto", c.CameraColorConvert)
		c.CameraColorConvert = "auto"
	}

	if c.CameraBufferCount < 1 {
		r.warnf("CAMERA_BUFFER_COUNT %d is below minimum 1, clamping", c.CameraBufferCount)
		c.CameraBufferCount = 1
	} else if c.CameraBufferCount > 32 {
		r.warnf("CAMERA_BUFFER_COUNT %d exceeds maximum 32, clamping", c.CameraBufferCount)
		c.CameraBufferCount = 32
	}

	if c.CameraQueue < 1 {
		r.warnf("CAMERA_QUEUE %d is below minimum 1, clamping", c.CameraQueue)
		c.CameraQueue = 1
	}

	if c.CameraLeftIndex == c.CameraRightIndex {
		r.warnf("CAMERA_LEFT_INDEX and CAMERA_RIGHT_INDEX both %d; stereo sessions will read one sensor twice", c.CameraLeftIndex)
	}

	if c.StreamBackend != "" && !validStreamBackend[strings.ToLower(c.StreamBackend)] {
		r.warnf("STREAM_BACKEND %q is not valid (use python or external), falling back to python", c.StreamBackend)
		c.StreamBackend = "python"
	}

	if c.MotionSensitivity < 1 {
		r.warnf("motion_sensitivity %d is below minimum 1, clamping", c.MotionSensitivity)
		c.MotionSensitivity = 1
	} else if c.MotionSensitivity > 100 {
		r.warnf("motion_sensitivity %d exceeds maximum 100, clamping", c.MotionSensitivity)
		c.MotionSensitivity = 100
	}

	if c.RecordingRetentionDays < 1 {
		r.warnf("recording_retention_days %d is below minimum 1, clamping", c.RecordingRetentionDays)
		c.RecordingRetentionDays = 1
	}

	if c.RecordingUploadProvider != "" && !validUploadProvider[strings.ToLower(c.RecordingUploadProvider)] {
		r.warnf("recording_upload_provider %q is not recognized, disabling remote upload", c.RecordingUploadProvider)
		c.RecordingUploadProvider = "none"
	}

	if c.MJPEGQuality < 1 || c.MJPEGQuality > 100 {
		r.warnf("mjpeg_quality %d out of range 1-100, clamping to 85", c.MJPEGQuality)
		c.MJPEGQuality = 85
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.warnf("log_level %q is not valid (use debug, info, warn, error), falling back to info", c.LogLevel)
		c.LogLevel = "info"
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.warnf("log_format %q is not valid (use text or json), falling back to text", c.LogFormat)
		c.LogFormat = "text"
	}

	if c.MaxConcurrentRequests < 1 {
		r.warnf("max_concurrent_requests %d is below minimum 1, clamping", c.MaxConcurrentRequests)
		c.MaxConcurrentRequests = 1
	} else if c.MaxConcurrentRequests > 256 {
		r.warnf("max_concurrent_requests %d exceeds maximum 256, clamping", c.MaxConcurrentRequests)
		c.MaxConcurrentRequests = 256
	}

	if c.RequestQueueSize < 1 {
		r.warnf("request_queue_size %d is below minimum 1, clamping", c.RequestQueueSize)
		c.RequestQueueSize = 1
	}

	return r
}

// ParseCameraSize splits a validated "WxH" CameraSize into width, height
// for building a capture.Config.
func ParseCameraSize(size string) (int, int, error) {
	return parseCameraSize(size)
}

// parseCameraSize splits "WxH" into width, height. Validated already by
// ValidateTiered; callers still check the error since this may run before
// validation in tests.
func parseCameraSize(size string) (int, int, error) {
	parts := strings.SplitN(size, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("camera size %q is not in WxH form", size)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("camera size %q has non-numeric width: %w", size, err)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("camera size %q has non-numeric height: %w", size, err)
	}
	return w, h, nil
}
