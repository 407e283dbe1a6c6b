// Package mediaprobe extracts the stream metadata the grid planner,
// sessions, and playlist builder need from a source file, shelling out
// to ffprobe the same way the teacher's ffmpeg package does.
package mediaprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/Apezdr/hls-prototype-sub001/internal/apperrors"
	"github.com/Apezdr/hls-prototype-sub001/internal/grid"
)

// Prober probes a source media file for the metadata grid.Planner and
// session construction need. It's a narrow interface so tests can
// stub it without shelling out.
type Prober interface {
	Probe(ctx context.Context, sourcePath string) (grid.MediaMeta, error)
}

// FFProbe shells out to ffprobe and parses its JSON stream report.
type FFProbe struct {
	BinPath string
	logger  hclog.Logger
}

// NewFFProbe creates an FFProbe using binPath (e.g. config.FFprobePath).
func NewFFProbe(binPath string, logger hclog.Logger) *FFProbe {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if binPath == "" {
		binPath = "ffprobe"
	}
	return &FFProbe{BinPath: binPath, logger: logger.Named("mediaprobe")}
}

type probeFormat struct {
	Duration string `json:"duration"`
}

type probeStream struct {
	CodecType      string `json:"codec_type"`
	CodecName      string `json:"codec_name"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	RFrameRate     string `json:"r_frame_rate"`
	SampleRate     string `json:"sample_rate"`
	Profile        string `json:"profile"`
	Level          int    `json:"level"`
	ColorTransfer  string `json:"color_transfer"`
	PixFmt         string `json:"pix_fmt"`
}

type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

// Probe runs ffprobe -show_format -show_streams on sourcePath and
// translates its output into a grid.MediaMeta.
func (p *FFProbe) Probe(ctx context.Context, sourcePath string) (grid.MediaMeta, error) {
	args := []string{
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		sourcePath,
	}
	cmd := exec.CommandContext(ctx, p.BinPath, args...)
	out, err := cmd.Output()
	if err != nil {
		return grid.MediaMeta{}, apperrors.NewProbeError("mediaprobe.probe", fmt.Errorf("ffprobe failed for %s: %w", sourcePath, err))
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return grid.MediaMeta{}, apperrors.NewProbeError("mediaprobe.probe", fmt.Errorf("parsing ffprobe output for %s: %w", sourcePath, err))
	}

	meta := grid.MediaMeta{
		AACFrameSize: 1024,
	}
	if d, err := strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64); err == nil {
		meta.DurationSeconds = d
	}

	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "video":
			meta.VideoCodec = s.CodecName
			meta.Width = s.Width
			meta.Height = s.Height
			meta.Profile = s.Profile
			meta.Level = strconv.Itoa(s.Level)
			meta.ColorTransfer = s.ColorTransfer
			meta.IsHDR = s.ColorTransfer == "smpte2084" || s.ColorTransfer == "smpte-st-2084" || s.ColorTransfer == "arib-std-b67"
			meta.Is10Bit = strings.Contains(s.PixFmt, "10")
			if fps, ok := parseRational(s.RFrameRate); ok {
				meta.VideoFPS = fps
			}
		case "audio":
			if meta.AudioCodec == "" {
				meta.AudioCodec = s.CodecName
			}
			if rate, err := strconv.Atoi(strings.TrimSpace(s.SampleRate)); err == nil && meta.AudioSampleRate == 0 {
				meta.AudioSampleRate = uint32(rate)
			}
		}
	}

	if meta.VideoFPS <= 0 {
		return grid.MediaMeta{}, apperrors.NewProbeError("mediaprobe.probe", fmt.Errorf("no usable video fps found for %s", sourcePath))
	}

	p.logger.Debug("probed media", "source", sourcePath, "duration", meta.DurationSeconds, "fps", meta.VideoFPS)
	return meta, nil
}

// parseRational parses ffprobe's "30000/1001" style rational rate
// strings into a float.
func parseRational(s string) (float64, bool) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v, true
		}
		return 0, false
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0, false
	}
	return num / den, true
}
