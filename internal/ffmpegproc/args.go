package ffmpegproc

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Apezdr/hls-prototype-sub001/internal/grid"
)

// ArgBuilder assembles ffmpeg argv for a single JIT transcode session.
// One session covers one variant's worth of segments from a given
// start point onward; ffmpeg's own HLS muxer then writes each segment
// file as the encoder reaches it.
type ArgBuilder struct {
	HWAccelType string // "cuda", "qsv", or "" for software

	// AllowedAudioCodecs is the configured codec allow-list consulted
	// when the requested audio codec isn't a passthrough match for the
	// source stream.
	AllowedAudioCodecs []string
	// PlatformDefaultAudioCodec is used when the requested codec is
	// neither a passthrough match nor in AllowedAudioCodecs.
	PlatformDefaultAudioCodec string

	// SoftwareThreads caps ffmpeg's own thread pool for a software
	// (non-hwaccel) session via `-threads`, so ResourceAdvisor's
	// concurrent-session budget holds in practice instead of every
	// session defaulting to every core. Zero leaves ffmpeg's default
	// (auto) untouched. Never applied to a hardware-accelerated video
	// session, whose parallelism is the device's, not the CPU's.
	SoftwareThreads int
}

// BuildParams collects everything Build needs to assemble one
// session's argv; the session owns resolving these from the grid,
// media metadata, and request.
type BuildParams struct {
	SourcePath string
	OutputDir  string
	Grid       *grid.Grid
	Meta       grid.MediaMeta
	Variant    Variant

	StartSegment         int
	AdjustedStartSeconds float64

	// SourceAudioCodec is the source stream's own codec, used for the
	// audio passthrough decision in §4.4.
	SourceAudioCodec string
}

// Build returns the ffmpeg argv (excluding the binary path itself),
// following the skeleton: accel hints, timestamp-preserving seek
// before input, input, stream selection, filter graph (video only),
// encoder args, forced keyframes, and the HLS muxer.
func (b ArgBuilder) Build(p BuildParams) []string {
	args := []string{"-hide_banner", "-nostats", "-loglevel", "warning"}

	usingHWAccel := p.Variant.Kind == KindVideo && p.Variant.HWAccel && b.HWAccelType != ""
	if usingHWAccel {
		args = append(args, hwaccelHints(b.HWAccelType)...)
	} else if b.SoftwareThreads > 0 {
		args = append(args, "-threads", strconv.Itoa(b.SoftwareThreads))
	}

	args = append(args, "-copyts", "-avoid_negative_ts", "disabled", "-start_at_zero")
	if p.AdjustedStartSeconds > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.6f", p.AdjustedStartSeconds))
	}
	args = append(args, "-i", p.SourcePath)

	segSec := p.Grid.SegmentSeconds()

	switch p.Variant.Kind {
	case KindVideo:
		args = append(args, "-sn", "-an")
		args = append(args, b.videoFilterAndEncodeArgs(p)...)
	case KindAudio:
		args = append(args, "-vn", "-sn")
		args = append(args, "-map", fmt.Sprintf("0:a:%d", p.Variant.AudioTrackIndex))
		args = append(args, b.audioEncodeArgs(p)...)
	}

	args = append(args, "-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%.6f)", segSec))

	args = append(args, hlsMuxerArgs(p, segSec)...)

	return args
}

// ExplicitParams configures a one-shot single-segment transcode for
// the explicit-offset route (§6): rather than letting the HLS muxer
// walk the whole grid, it seeks once, encodes exactly DurationSeconds,
// and writes straight to OutputPath.
type ExplicitParams struct {
	SourcePath      string
	OutputPath      string
	Meta            grid.MediaMeta
	Variant         Variant
	StartSeconds    float64
	DurationSeconds float64
	GOPFrames       uint32 // only consulted for video's -g/-keyint_min

	SourceAudioCodec string
}

// BuildExplicit returns the argv for the explicit-offset route. It
// reuses the same filter/encoder-selection logic as Build, just
// without the HLS muxer tail.
func (b ArgBuilder) BuildExplicit(p ExplicitParams) []string {
	args := []string{"-hide_banner", "-nostats", "-loglevel", "warning"}

	usingHWAccel := p.Variant.Kind == KindVideo && p.Variant.HWAccel && b.HWAccelType != ""
	if usingHWAccel {
		args = append(args, hwaccelHints(b.HWAccelType)...)
	} else if b.SoftwareThreads > 0 {
		args = append(args, "-threads", strconv.Itoa(b.SoftwareThreads))
	}

	args = append(args, "-copyts", "-avoid_negative_ts", "disabled", "-start_at_zero")
	if p.StartSeconds > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.6f", p.StartSeconds))
	}
	args = append(args, "-i", p.SourcePath, "-t", fmt.Sprintf("%.6f", p.DurationSeconds))

	bp := BuildParams{
		Variant:          p.Variant,
		Meta:             p.Meta,
		SourceAudioCodec: p.SourceAudioCodec,
		Grid:             &grid.Grid{GOPFrames: p.GOPFrames},
	}

	switch p.Variant.Kind {
	case KindVideo:
		args = append(args, "-sn", "-an")
		args = append(args, b.videoFilterAndEncodeArgs(bp)...)
	case KindAudio:
		args = append(args, "-vn", "-sn")
		args = append(args, "-map", fmt.Sprintf("0:a:%d", p.Variant.AudioTrackIndex))
		args = append(args, b.audioEncodeArgs(bp)...)
	}

	if p.Variant.FMP4 {
		args = append(args, "-f", "mp4", "-movflags", "frag_keyframe+empty_moov")
	} else {
		args = append(args, "-f", "mpegts")
	}
	args = append(args, p.OutputPath)
	return args
}

func hwaccelHints(accelType string) []string {
	switch accelType {
	case "cuda":
		return []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}
	case "qsv":
		return []string{"-hwaccel", "qsv", "-hwaccel_output_format", "qsv"}
	}
	return nil
}

// videoFilterAndEncodeArgs builds the scale/pad/HDR-tonemap filter
// graph ending in [outv], then the encoder args for it.
func (b ArgBuilder) videoFilterAndEncodeArgs(p BuildParams) []string {
	var filters []string
	if p.Variant.Width > 0 && p.Variant.Height > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", p.Variant.Width, p.Variant.Height))
		filters = append(filters, fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", p.Variant.Width, p.Variant.Height))
	}
	if p.Meta.IsHDR && p.Variant.IsSDR {
		filters = append(filters, "zscale=t=linear:npl=100", "tonemap=hable", "zscale=p=bt709:t=bt709:m=bt709", "format=yuv420p")
	}

	var args []string
	if len(filters) > 0 {
		graph := strings.Join(filters, ",") + "[outv]"
		args = append(args, "-filter_complex", graph, "-map", "[outv]")
	}

	codec := "libx264"
	if p.Variant.VideoCodec == "hevc" {
		codec = "libx265"
	}
	if p.Variant.HWAccel && b.HWAccelType != "" {
		switch b.HWAccelType {
		case "cuda":
			codec = "h264_nvenc"
			if p.Variant.VideoCodec == "hevc" {
				codec = "hevc_nvenc"
			}
		case "qsv":
			codec = "h264_qsv"
			if p.Variant.VideoCodec == "hevc" {
				codec = "hevc_qsv"
			}
		}
	} else {
		args = append(args, "-preset", "veryfast")
	}
	args = append(args, "-c:v", codec)

	if p.Variant.BitrateKbps > 0 {
		br := fmt.Sprintf("%dk", p.Variant.BitrateKbps)
		args = append(args, "-b:v", br, "-maxrate", br, "-bufsize", fmt.Sprintf("%dk", 2*p.Variant.BitrateKbps))
	}

	gop := strconv.FormatUint(uint64(p.Grid.GOPFrames), 10)
	args = append(args, "-g", gop, "-keyint_min", gop, "-sc_threshold", "0")

	return args
}

// audioEncodeArgs implements the §4.4 AudioSession codec decision:
// passthrough when the requested codec matches the source, otherwise
// the requested codec if allow-listed, otherwise the platform default;
// bitrate 384 kbps above stereo, else 128 kbps.
func (b ArgBuilder) audioEncodeArgs(p BuildParams) []string {
	requested := strings.ToLower(p.Variant.AudioCodec)
	source := strings.ToLower(p.SourceAudioCodec)

	var codec string
	switch {
	case requested != "" && requested == source:
		return []string{"-c:a", "copy"}
	case b.isAllowedAudioCodec(requested):
		codec = requested
	default:
		codec = b.PlatformDefaultAudioCodec
		if codec == "" {
			codec = "aac"
		}
	}

	bitrate := 128
	if p.Variant.Channels > 2 {
		bitrate = 384
	}
	return []string{"-c:a", codec, "-b:a", fmt.Sprintf("%dk", bitrate)}
}

func (b ArgBuilder) isAllowedAudioCodec(codec string) bool {
	if codec == "" {
		return false
	}
	for _, c := range b.AllowedAudioCodecs {
		if strings.EqualFold(c, codec) {
			return true
		}
	}
	return false
}

// hlsMuxerArgs builds the "-f hls ..." tail of the argv, writing
// numbered segments directly under outputDir and an ffmpeg-managed
// playlist alongside the supervisor's own placeholder.
func hlsMuxerArgs(p BuildParams, segSec float64) []string {
	ext := grid.Extension(p.Variant.FMP4)
	segmentPattern := filepath.Join(p.OutputDir, "%03d"+ext)
	ffmpegPlaylist := filepath.Join(p.OutputDir, "ffmpeg_playlist.m3u8")

	args := []string{
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%.6f", segSec),
		"-hls_playlist_type", "vod",
		"-hls_flags", "independent_segments",
		"-start_number", strconv.Itoa(p.StartSegment),
		"-hls_segment_filename", segmentPattern,
	}

	if p.Variant.FMP4 {
		args = append(args, "-hls_segment_type", "fmp4",
			"-hls_fmp4_init_filename", filepath.Join(p.OutputDir, "init.mp4"))
		if p.Variant.VideoCodec == "hevc" {
			args = append(args, "-tag:v", "hvc1")
		}
	}

	args = append(args, ffmpegPlaylist)
	return args
}
