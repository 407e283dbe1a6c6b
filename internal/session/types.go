// Package session implements TranscoderSession: the lifecycle of one
// child transcoder process bound to a (videoId, variant label) pair,
// covering start/stop/pause, seek detection, and bounded waiting for
// segment readiness.
package session

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/Apezdr/hls-prototype-sub001/internal/ffmpegproc"
	"github.com/Apezdr/hls-prototype-sub001/internal/grid"
)

// State is a session's lifecycle stage.
type State string

const (
	Starting State = "starting"
	Running  State = "running"
	Paused   State = "paused"
	Finished State = "finished"
	Failed   State = "failed"
)

// seekAheadTolerance is how far past latestSegment a request must land
// before it counts as a forward seek rather than ordinary playback.
const seekAheadTolerance = 10

// hasSkippedAheadTolerance has the same value as the threshold behind
// ViewerTracker.hasSkippedAhead (§4.7). The viewer package declares its
// own constant; nothing in this package reads this one.
const hasSkippedAheadTolerance = 3

const (
	normalWaitCeiling = 9 * time.Second
	seekWaitCeiling   = 15 * time.Second
	stabilityWindow   = 200 * time.Millisecond
	pollInterval      = 50 * time.Millisecond

	nextSegmentConfirmWindow = 4 * time.Second
	nextSegmentConfirmPoll   = 500 * time.Millisecond

	stopGrace = 5 * time.Second
)

// PostProcessor adjusts a just-completed MPEG-TS segment in place,
// e.g. rewriting continuity counters after a restart. Implementations
// must be best-effort: any error is swallowed by the caller.
type PostProcessor interface {
	Process(videoID, label string, segmentIndex uint32, path string) error
}

// Deps bundles a session's external collaborators so construction
// doesn't require a dozen positional parameters.
type Deps struct {
	Logger       hclog.Logger
	FFmpegPath   string
	ArgBuilder   ffmpegproc.ArgBuilder
	HWPool       hwPool
	PostProcess  PostProcessor // nil disables post-processing

	PreserveSegments       bool
	PreserveFFmpegPlaylist bool
	HardwareEncoding       bool
}

// hwPool is the subset of hwpool.Pool a session needs; kept as an
// interface so tests can fake admission without a real pool.
type hwPool interface {
	Acquire() bool
	Release()
}

// Params describes one session's identity and inputs, fixed at
// construction and never mutated afterward.
type Params struct {
	VideoID    string
	SourcePath string
	OutputDir  string
	Grid       *grid.Grid
	Meta       grid.MediaMeta
	Variant    ffmpegproc.Variant
	// SourceAudioCodec is the source stream's own audio codec, used for
	// the audio passthrough decision; unused for video sessions.
	SourceAudioCodec string
}
