package session

import "github.com/Apezdr/hls-prototype-sub001/internal/ffmpegproc"

// NewAudioSession constructs a Session for an audio track variant.
// Start() skips scale/pad/HDR handling and never acquires a hardware
// slot (§4.4 "Differences for AudioSession"); that branching lives in
// ArgBuilder and Session.Start, keyed off Variant.Kind.
func NewAudioSession(params Params, deps Deps) *Session {
	params.Variant.Kind = ffmpegproc.KindAudio
	params.Variant.HWAccel = false
	return newSession(params, deps)
}
