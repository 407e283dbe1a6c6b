// Package config loads the segment supervisor's configuration from
// environment variables, with an optional YAML overlay file for local
// development, following the layered struct-tag-default idiom used
// throughout the teacher repo's plugin configs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every environment-tunable documented in spec.md §6.
type Config struct {
	JITTranscodingEnabled bool `yaml:"jit_transcoding_enabled"`

	HLSSegmentSeconds float64 `yaml:"hls_segment_time"`
	HLSOutputDir      string  `yaml:"hls_output_dir"`
	VideoSourceDir    string  `yaml:"video_source_dir"`

	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`

	MaxHWProcesses          int    `yaml:"max_hw_processes"`
	HardwareEncodingEnabled bool   `yaml:"hardware_encoding_enabled"`
	HWAccelType             string `yaml:"hwaccel_type"` // "cuda", "qsv", or ""

	PreserveSegments       bool `yaml:"preserve_segments"`
	PreserveFFmpegPlaylist bool `yaml:"preserve_ffmpeg_playlist"`

	PauseThreshold       time.Duration `yaml:"transcoding_pause_threshold"`
	ViewerInactivity     time.Duration `yaml:"viewer_inactivity_threshold"`
	ViewerCheckInterval  time.Duration `yaml:"viewer_check_interval"`

	WebSupportedCodecs []string `yaml:"web_supported_codecs"`

	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the documented defaults (§4.1 target 6s, §4.8
// pause/inactivity thresholds).
func Default() Config {
	return Config{
		JITTranscodingEnabled:   true,
		HLSSegmentSeconds:       6.0,
		HLSOutputDir:            "./data/transcode",
		VideoSourceDir:          "./data/media",
		FFmpegPath:              "ffmpeg",
		FFprobePath:             "ffprobe",
		MaxHWProcesses:          2,
		HardwareEncodingEnabled: false,
		HWAccelType:             "",
		PreserveSegments:        false,
		PreserveFFmpegPlaylist:  false,
		PauseThreshold:          60 * time.Second,
		ViewerInactivity:        180 * time.Second,
		ViewerCheckInterval:     10 * time.Second,
		WebSupportedCodecs:      []string{"aac", "ac3", "mp3"},
		ListenAddr:              ":8080",
	}
}

// Load reads the default config, overlays an optional YAML file named
// by CONFIG_FILE, then overlays environment variables, matching the
// precedence the teacher's modulemanager config loader uses
// (defaults -> file -> env, narrowest wins).
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.HLSSegmentSeconds <= 0 {
		return cfg, fmt.Errorf("HLS_SEGMENT_TIME must be positive")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := boolEnv("JIT_TRANSCODING_ENABLED"); ok {
		c.JITTranscodingEnabled = v
	}
	if v, ok := floatEnv("HLS_SEGMENT_TIME"); ok {
		c.HLSSegmentSeconds = v
	}
	if v := os.Getenv("HLS_OUTPUT_DIR"); v != "" {
		c.HLSOutputDir = v
	}
	if v := os.Getenv("VIDEO_SOURCE_DIR"); v != "" {
		c.VideoSourceDir = v
	}
	if v := os.Getenv("FFMPEG_PATH"); v != "" {
		c.FFmpegPath = v
	}
	if v := os.Getenv("FFPROBE_PATH"); v != "" {
		c.FFprobePath = v
	}
	if v, ok := intEnv("MAX_HW_PROCESSES"); ok {
		c.MaxHWProcesses = v
	}
	if v, ok := boolEnv("HARDWARE_ENCODING_ENABLED"); ok {
		c.HardwareEncodingEnabled = v
	}
	if v := os.Getenv("HWACCEL_TYPE"); v != "" {
		c.HWAccelType = v
	}
	if v, ok := boolEnv("PRESERVE_SEGMENTS"); ok {
		c.PreserveSegments = v
	}
	if v, ok := boolEnv("PRESERVE_FFMPEG_PLAYLIST"); ok {
		c.PreserveFFmpegPlaylist = v
	}
	if v, ok := durationEnv("TRANSCODING_PAUSE_THRESHOLD"); ok {
		c.PauseThreshold = v
	}
	if v, ok := durationEnv("VIEWER_INACTIVITY_THRESHOLD"); ok {
		c.ViewerInactivity = v
	}
	if v, ok := durationEnv("VIEWER_CHECK_INTERVAL"); ok {
		c.ViewerCheckInterval = v
	}
	if v := os.Getenv("WEB_SUPPORTED_CODECS"); v != "" {
		c.WebSupportedCodecs = strings.Split(v, ",")
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
}

func boolEnv(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func intEnv(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func floatEnv(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func durationEnv(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	// Bare integers are treated as seconds, matching the teacher's env
	// parsing convention for *_THRESHOLD / *_INTERVAL variables.
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
