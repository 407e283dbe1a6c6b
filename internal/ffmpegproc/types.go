// Package ffmpegproc builds ffmpeg argv for JIT segment generation and
// manages the spawned child process: its stderr ring buffer, progress
// parsing, and graceful shutdown.
package ffmpegproc

// Kind distinguishes a video-only session's transcode from an
// audio-only one; the argv skeleton and output layout differ.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Variant describes one rendition the supervisor can transcode to.
type Variant struct {
	Label      string // e.g. "1080p", "720p"; for audio: audio_<trackIndex>_<codec>
	Kind       Kind
	Width      int
	Height     int
	VideoCodec string // "h264", "hevc"
	BitrateKbps int
	IsSDR      bool
	FMP4       bool // fragmented mp4 segments (hevc variants) vs .ts
	HWAccel    bool // attempt hardware encode for this variant (video only)

	AudioTrackIndex int    // source stream index, audio variants only
	AudioCodec      string // requested codec, e.g. "aac", "ac3"
	Channels        int
}
