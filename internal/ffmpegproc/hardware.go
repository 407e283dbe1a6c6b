package ffmpegproc

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
)

// HWDetector probes the local ffmpeg binary's encoder list to decide
// which hardware accel types, if any, are actually usable, the way the
// teacher's hardware detector probes installed codecs rather than
// trusting config.
type HWDetector struct {
	FFmpegPath string
	logger     hclog.Logger
}

// NewHWDetector creates a HWDetector bound to the given ffmpeg binary.
func NewHWDetector(ffmpegPath string, logger hclog.Logger) *HWDetector {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &HWDetector{FFmpegPath: ffmpegPath, logger: logger.Named("hwdetect")}
}

// Detect runs `ffmpeg -hide_banner -encoders` and reports which of the
// supported hwaccel types ("cuda", "qsv") have a matching encoder
// present. Failure to run ffmpeg at all is reported as no hardware
// support rather than an error: the caller should fall back to
// software encoding.
func (d *HWDetector) Detect(ctx context.Context) map[string]bool {
	result := map[string]bool{"cuda": false, "qsv": false}

	cmd := exec.CommandContext(ctx, d.FFmpegPath, "-hide_banner", "-encoders")
	out, err := cmd.Output()
	if err != nil {
		d.logger.Warn("ffmpeg encoder probe failed, assuming no hardware support", "error", err)
		return result
	}

	text := string(out)
	result["cuda"] = strings.Contains(text, "h264_nvenc") || strings.Contains(text, "hevc_nvenc")
	result["qsv"] = strings.Contains(text, "h264_qsv") || strings.Contains(text, "hevc_qsv")
	return result
}

// ResourceAdvisor recommends how many concurrent software encodes the
// host can sustain, using gopsutil the way the teacher's system
// monitor samples CPU load to throttle background scanning.
type ResourceAdvisor struct {
	logger hclog.Logger
}

// NewResourceAdvisor creates a ResourceAdvisor.
func NewResourceAdvisor(logger hclog.Logger) *ResourceAdvisor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ResourceAdvisor{logger: logger.Named("resource-advisor")}
}

// MaxSoftwareSlots estimates a safe ceiling on concurrent software
// transcodes: one per two logical cores, reduced further if the
// 1-minute load average already exceeds the core count, with a floor
// of 1 so the supervisor never refuses every session.
func (r *ResourceAdvisor) MaxSoftwareSlots() int {
	cores, err := cpu.Counts(true)
	if err != nil || cores <= 0 {
		r.logger.Warn("cpu count unavailable, defaulting to 2 software slots", "error", err)
		return 2
	}

	slots := cores / 2
	if slots < 1 {
		slots = 1
	}

	avg, err := load.Avg()
	if err == nil && avg.Load1 > float64(cores) {
		slots = slots / 2
		if slots < 1 {
			slots = 1
		}
	}
	return slots
}

// ThreadsPerSession divides available cores across the concurrent
// software-encode budget MaxSoftwareSlots recommends, so N concurrent
// software sessions together stay within the host's real thread
// budget instead of each one defaulting to every core. Floors at 1.
func (r *ResourceAdvisor) ThreadsPerSession() int {
	cores, err := cpu.Counts(true)
	if err != nil || cores <= 0 {
		r.logger.Warn("cpu count unavailable, defaulting to 1 thread per software session", "error", err)
		return 1
	}

	slots := r.MaxSoftwareSlots()
	if slots < 1 {
		slots = 1
	}

	threads := cores / slots
	if threads < 1 {
		threads = 1
	}
	return threads
}

// pollInterval is how often a long-lived supervisor loop should
// re-sample resource advice; load averages shift gradually so there is
// no value in sampling faster than this.
const pollInterval = 30 * time.Second

// PollInterval returns the recommended resampling cadence.
func (r *ResourceAdvisor) PollInterval() time.Duration { return pollInterval }
