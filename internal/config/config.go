package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the avatar conversation core.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	BackendBaseURL string
	BackendTimeout time.Duration

	StudentLevel string

	MicDevice        string
	MicSampleRate    int
	SilenceRMSFloor  float64
	MaxRecordingTime time.Duration

	FrameRate      int
	LipSyncGain    float64
	SmileInfluence float64
}

// Load reads environment variables and applies safe defaults. A .env file in
// the working directory is merged in first when present.
func Load() (Config, error) {
	// Existing environment always wins over .env entries.
	_ = godotenv.Load()

	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "profe"),
		AllowAnyOrigin:   false,
		BackendBaseURL:   envOrDefault("BACKEND_BASE_URL", "http://localhost:8000"),
		StudentLevel:     envOrDefault("STUDENT_LEVEL", "beginner"),
		MicDevice:        envOrDefault("MIC_DEVICE", "mock"),
		MicSampleRate:    16000,
		// Mean level below this is treated as a silent take.
		SilenceRMSFloor:  0.004,
		MaxRecordingTime: 30 * time.Second,
		FrameRate:        60,
		// Tuned so typical speech volume reaches near-full mouth opening.
		LipSyncGain:     2.8,
		SmileInfluence:  0.2,
		ShutdownTimeout: 15 * time.Second,
		BackendTimeout:  60 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BackendTimeout, err = durationFromEnv("BACKEND_TIMEOUT", cfg.BackendTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxRecordingTime, err = durationFromEnv("MIC_MAX_RECORDING_TIME", cfg.MaxRecordingTime)
	if err != nil {
		return Config{}, err
	}
	cfg.MicSampleRate, err = intFromEnv("MIC_SAMPLE_RATE", cfg.MicSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.FrameRate, err = intFromEnv("ANIMATOR_FRAME_RATE", cfg.FrameRate)
	if err != nil {
		return Config{}, err
	}
	cfg.LipSyncGain, err = floatFromEnv("ANIMATOR_LIPSYNC_GAIN", cfg.LipSyncGain)
	if err != nil {
		return Config{}, err
	}
	cfg.SmileInfluence, err = floatFromEnv("ANIMATOR_SMILE_INFLUENCE", cfg.SmileInfluence)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceRMSFloor, err = floatFromEnv("MIC_SILENCE_RMS_FLOOR", cfg.SilenceRMSFloor)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.BackendBaseURL = strings.TrimRight(strings.TrimSpace(cfg.BackendBaseURL), "/")
	if cfg.BackendBaseURL == "" {
		return Config{}, fmt.Errorf("BACKEND_BASE_URL must not be empty")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.StudentLevel)) {
	case "beginner":
		cfg.StudentLevel = "beginner"
	case "intermediate":
		cfg.StudentLevel = "intermediate"
	case "advanced":
		cfg.StudentLevel = "advanced"
	default:
		return Config{}, fmt.Errorf("STUDENT_LEVEL must be beginner, intermediate or advanced")
	}
	if cfg.MicSampleRate <= 0 {
		return Config{}, fmt.Errorf("MIC_SAMPLE_RATE must be positive")
	}
	if cfg.FrameRate <= 0 || cfg.FrameRate > 240 {
		return Config{}, fmt.Errorf("ANIMATOR_FRAME_RATE must be in 1..240")
	}
	if cfg.LipSyncGain <= 0 {
		return Config{}, fmt.Errorf("ANIMATOR_LIPSYNC_GAIN must be positive")
	}
	if cfg.SmileInfluence < 0 || cfg.SmileInfluence > 1 {
		return Config{}, fmt.Errorf("ANIMATOR_SMILE_INFLUENCE must be in [0,1]")
	}
	if cfg.SilenceRMSFloor < 0 || cfg.SilenceRMSFloor >= 1 {
		return Config{}, fmt.Errorf("MIC_SILENCE_RMS_FLOOR must be in [0,1)")
	}
	if cfg.MaxRecordingTime < time.Second {
		return Config{}, fmt.Errorf("MIC_MAX_RECORDING_TIME must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
