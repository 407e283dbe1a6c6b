package ffmpegproc

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apezdr/hls-prototype-sub001/internal/grid"
)

func sampleGrid(t *testing.T) *grid.Grid {
	t.Helper()
	p := grid.NewPlanner(nil)
	g, err := p.Plan("vid", grid.MediaMeta{DurationSeconds: 60, VideoFPS: 25}, 6.0)
	require.NoError(t, err)
	return g
}

func TestBuildVideoArgsUsesHLSMuxer(t *testing.T) {
	g := sampleGrid(t)
	b := ArgBuilder{}
	v := Variant{Label: "1080p", Kind: KindVideo, VideoCodec: "h264", Width: 1920, Height: 1080, BitrateKbps: 5000}

	args := b.Build(BuildParams{SourcePath: "/src/movie.mkv", OutputDir: "/out/1080p", Grid: g, Variant: v, StartSegment: 3})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-copyts -avoid_negative_ts disabled -start_at_zero")
	assert.Contains(t, joined, "-i /src/movie.mkv")
	assert.Contains(t, joined, "-c:v libx264")
	assert.Contains(t, joined, "-f hls")
	assert.Contains(t, joined, "-start_number 3")
	assert.Contains(t, joined, "%03d.ts")
	assert.Contains(t, joined, "ffmpeg_playlist.m3u8")
	assert.Contains(t, joined, "-g "+strconv.Itoa(int(g.GOPFrames)))
	assert.Contains(t, joined, "-force_key_frames")
}

func TestBuildAudioPassthroughWhenCodecMatchesSource(t *testing.T) {
	g := sampleGrid(t)
	b := ArgBuilder{}
	v := Variant{Label: "audio_0_aac", Kind: KindAudio, AudioTrackIndex: 0, AudioCodec: "aac"}

	args := b.Build(BuildParams{SourcePath: "/src/movie.mkv", OutputDir: "/out/audio", Grid: g, Variant: v, SourceAudioCodec: "AAC"})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-map 0:a:0")
	assert.Contains(t, joined, "-c:a copy")
}

func TestBuildAudioTranscodesWhenNotPassthroughButAllowed(t *testing.T) {
	g := sampleGrid(t)
	b := ArgBuilder{AllowedAudioCodecs: []string{"aac", "ac3"}}
	v := Variant{Label: "audio_0_aac", Kind: KindAudio, AudioTrackIndex: 0, AudioCodec: "aac", Channels: 6}

	args := b.Build(BuildParams{SourcePath: "/src/movie.mkv", OutputDir: "/out/audio", Grid: g, Variant: v, SourceAudioCodec: "flac"})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-c:a aac")
	assert.Contains(t, joined, "-b:a 384k")
}

func TestBuildAudioFallsBackToPlatformDefault(t *testing.T) {
	g := sampleGrid(t)
	b := ArgBuilder{AllowedAudioCodecs: []string{"ac3"}, PlatformDefaultAudioCodec: "aac"}
	v := Variant{Label: "audio_0_opus", Kind: KindAudio, AudioTrackIndex: 0, AudioCodec: "opus", Channels: 2}

	args := b.Build(BuildParams{SourcePath: "/src/movie.mkv", OutputDir: "/out/audio", Grid: g, Variant: v, SourceAudioCodec: "flac"})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-c:a aac")
	assert.Contains(t, joined, "-b:a 128k")
}

func TestBuildFMP4AddsInitFilenameAndHvc1Tag(t *testing.T) {
	g := sampleGrid(t)
	b := ArgBuilder{}
	v := Variant{Label: "hevc", Kind: KindVideo, VideoCodec: "hevc", FMP4: true}

	args := b.Build(BuildParams{SourcePath: "/src/movie.mkv", OutputDir: "/out/hevc", Grid: g, Variant: v})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "%03d.m4s")
	assert.Contains(t, joined, "-hls_segment_type fmp4")
	assert.Contains(t, joined, "init.mp4")
	assert.Contains(t, joined, "-tag:v hvc1")
	assert.Contains(t, joined, "-c:v libx265")
}

func TestBuildHardwareAccelSwitchesEncoder(t *testing.T) {
	g := sampleGrid(t)
	b := ArgBuilder{HWAccelType: "cuda"}
	v := Variant{Label: "1080p", Kind: KindVideo, VideoCodec: "h264", HWAccel: true}

	args := b.Build(BuildParams{SourcePath: "/src/movie.mkv", OutputDir: "/out/1080p", Grid: g, Variant: v})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "h264_nvenc")
	assert.Contains(t, joined, "-hwaccel cuda")
}

func TestBuildAppliesSoftwareThreadsOnlyWithoutHWAccel(t *testing.T) {
	g := sampleGrid(t)
	v := Variant{Label: "1080p", Kind: KindVideo, VideoCodec: "h264"}

	sw := ArgBuilder{SoftwareThreads: 3}
	args := sw.Build(BuildParams{SourcePath: "/src/movie.mkv", OutputDir: "/out/1080p", Grid: g, Variant: v})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-threads 3")

	hw := ArgBuilder{HWAccelType: "cuda", SoftwareThreads: 3}
	hwVariant := v
	hwVariant.HWAccel = true
	hwArgs := hw.Build(BuildParams{SourcePath: "/src/movie.mkv", OutputDir: "/out/1080p", Grid: g, Variant: hwVariant})
	assert.NotContains(t, strings.Join(hwArgs, " "), "-threads")
}

func TestBuildSeeksToAdjustedStartBeforeInput(t *testing.T) {
	g := sampleGrid(t)
	b := ArgBuilder{}
	v := Variant{Label: "1080p", Kind: KindVideo, VideoCodec: "h264"}

	argsAtZero := b.Build(BuildParams{SourcePath: "/src/movie.mkv", OutputDir: "/out/1080p", Grid: g, Variant: v})
	assert.NotContains(t, argsAtZero, "-ss")

	argsLater := b.Build(BuildParams{SourcePath: "/src/movie.mkv", OutputDir: "/out/1080p", Grid: g, Variant: v, AdjustedStartSeconds: 12.0})
	ssIdx := -1
	iIdx := -1
	for i, a := range argsLater {
		if a == "-ss" {
			ssIdx = i
		}
		if a == "-i" {
			iIdx = i
		}
	}
	require.NotEqual(t, -1, ssIdx)
	require.NotEqual(t, -1, iIdx)
	assert.Less(t, ssIdx, iIdx)
}

func TestVideoHDRToSDRAddsTonemapFilter(t *testing.T) {
	g := sampleGrid(t)
	b := ArgBuilder{}
	v := Variant{Label: "1080p", Kind: KindVideo, VideoCodec: "h264", IsSDR: true, Width: 1920, Height: 1080}

	args := b.Build(BuildParams{SourcePath: "/src/movie.mkv", OutputDir: "/out/1080p", Grid: g, Variant: v, Meta: grid.MediaMeta{IsHDR: true}})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "tonemap=hable")
	assert.Contains(t, joined, "[outv]")
}

func TestBuildExplicitWritesOneShotFileWithoutMuxer(t *testing.T) {
	b := ArgBuilder{}
	v := Variant{Label: "1080p", Kind: KindVideo, VideoCodec: "h264", Width: 1920, Height: 1080}

	args := b.BuildExplicit(ExplicitParams{
		SourcePath:      "/src/movie.mkv",
		OutputPath:      "/out/1080p/explicit-12345.ts",
		Variant:         v,
		StartSeconds:    12.0,
		DurationSeconds: 6.0,
		GOPFrames:       150,
	})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-ss 12.000000")
	assert.Contains(t, joined, "-t 6.000000")
	assert.Contains(t, joined, "-f mpegts")
	assert.NotContains(t, joined, "-f hls")
	assert.NotContains(t, joined, "hls_segment_filename")
	assert.Equal(t, "/out/1080p/explicit-12345.ts", args[len(args)-1])
}

func TestBuildExplicitFMP4UsesFragmentedMP4Muxer(t *testing.T) {
	b := ArgBuilder{}
	v := Variant{Label: "hevc-1080p", Kind: KindVideo, VideoCodec: "hevc", FMP4: true}

	args := b.BuildExplicit(ExplicitParams{
		SourcePath:      "/src/movie.mkv",
		OutputPath:      "/out/hevc-1080p/explicit-0.m4s",
		Variant:         v,
		DurationSeconds: 6.0,
	})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-f mp4")
	assert.Contains(t, joined, "frag_keyframe+empty_moov")
}
