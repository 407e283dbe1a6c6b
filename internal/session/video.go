package session

import "github.com/Apezdr/hls-prototype-sub001/internal/ffmpegproc"

// NewVideoSession constructs a Session for a video variant, setting
// params.Variant.Kind to ffmpegproc.KindVideo.
func NewVideoSession(params Params, deps Deps) *Session {
	params.Variant.Kind = ffmpegproc.KindVideo
	return newSession(params, deps)
}
