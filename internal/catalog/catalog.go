// Package catalog holds the statically configured variant ladder the
// HTTP layer advertises in master.m3u8. Spec.md §1's Non-goals exclude
// ABR-ladder computation at runtime; this is a fixed list evaluated
// once at startup, in the spirit of the teacher's
// core/abr/generator.go rung table but without any per-request
// recomputation.
package catalog

import (
	"strconv"

	"github.com/Apezdr/hls-prototype-sub001/internal/ffmpegproc"
)

// Rung is one configured video rendition.
type Rung struct {
	Label       string
	Width       int
	Height      int
	VideoCodec  string
	BitrateKbps int
	HWAccel     bool
	FMP4        bool
}

// Catalog is the fixed set of video rungs and the audio-track shape
// every video is assumed to expose its primary audio under.
type Catalog struct {
	VideoRungs      []Rung
	AudioTrackIndex int
	AudioCodec      string // requested codec for the sole advertised audio track
}

// Default returns the standard ladder: three H.264 rungs (480p, 720p,
// 1080p) covering common device classes plus one HEVC 2160p rung with
// fMP4 segments, matching the teacher's "lowest bandwidth first" rung
// ordering.
func Default() Catalog {
	return Catalog{
		VideoRungs: []Rung{
			{Label: "480p", Width: 854, Height: 480, VideoCodec: "h264", BitrateKbps: 1400},
			{Label: "720p", Width: 1280, Height: 720, VideoCodec: "h264", BitrateKbps: 2800, HWAccel: true},
			{Label: "1080p", Width: 1920, Height: 1080, VideoCodec: "h264", BitrateKbps: 5000, HWAccel: true},
			{Label: "2160p", Width: 3840, Height: 2160, VideoCodec: "hevc", BitrateKbps: 12000, HWAccel: true, FMP4: true},
		},
		AudioTrackIndex: 0,
		AudioCodec:      "aac",
	}
}

// VariantFor resolves a video rung by label into the ffmpegproc
// Variant the supervisor needs, reporting ok=false for an
// unconfigured label.
func (c Catalog) VariantFor(label string) (ffmpegproc.Variant, bool) {
	for _, r := range c.VideoRungs {
		if r.Label == label {
			return ffmpegproc.Variant{
				Label:       r.Label,
				Kind:        ffmpegproc.KindVideo,
				Width:       r.Width,
				Height:      r.Height,
				VideoCodec:  r.VideoCodec,
				BitrateKbps: r.BitrateKbps,
				HWAccel:     r.HWAccel,
				FMP4:        r.FMP4,
			}, true
		}
	}
	return ffmpegproc.Variant{}, false
}

// AudioLabel is the sole advertised audio variant's label, in the
// `audio_<trackIndex>_<codec>` shape spec.md §3 requires.
func (c Catalog) AudioLabel() string {
	return AudioLabelFor(c.AudioTrackIndex, c.AudioCodec)
}

// AudioLabelFor formats a label for an arbitrary track/codec pair.
func AudioLabelFor(trackIndex int, codec string) string {
	return "audio_" + strconv.Itoa(trackIndex) + "_" + codec
}

// AudioVariant resolves the catalog's single audio track into the
// ffmpegproc Variant the supervisor needs.
func (c Catalog) AudioVariant() ffmpegproc.Variant {
	return ffmpegproc.Variant{
		Label:           c.AudioLabel(),
		Kind:            ffmpegproc.KindAudio,
		AudioTrackIndex: c.AudioTrackIndex,
		AudioCodec:      c.AudioCodec,
	}
}
