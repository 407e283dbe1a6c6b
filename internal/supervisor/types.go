// Package supervisor is the SessionRegistry: the central authority
// that resolves a segment request to an existing or freshly started
// TranscoderSession, detects seeks, and serializes per-(videoId,
// label) access while leaving independent keys fully parallel.
package supervisor

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/Apezdr/hls-prototype-sub001/internal/ffmpegproc"
	"github.com/Apezdr/hls-prototype-sub001/internal/grid"
	"github.com/Apezdr/hls-prototype-sub001/internal/hwpool"
	"github.com/Apezdr/hls-prototype-sub001/internal/mediaprobe"
	"github.com/Apezdr/hls-prototype-sub001/internal/playlist"
	"github.com/Apezdr/hls-prototype-sub001/internal/session"
	"github.com/Apezdr/hls-prototype-sub001/internal/statushub"
	"github.com/Apezdr/hls-prototype-sub001/internal/viewer"
)

// hwPool is the admission-gate subset of *hwpool.Pool the Supervisor
// threads through to each session it starts.
type hwPool interface {
	Acquire() bool
	Release()
}

// analyticsRecorder is the subset of *analytics.Store the Supervisor
// needs to log a session's lifecycle; kept as an interface so tests
// don't need a real database, and nil-safe so analytics remains
// optional per SPEC_FULL.md's component 13 (history for humans, never
// consulted to resume a run).
type analyticsRecorder interface {
	RecordStart(videoID, label string) (uint, error)
	RecordEnd(id uint, segmentsServed int, errMessage string) error
}

// statusPublisher is the subset of *statushub.Hub the Supervisor needs
// to broadcast lifecycle transitions to dashboard clients; nil-safe so
// the websocket hub remains optional per SPEC_FULL.md's component 14.
type statusPublisher interface {
	Publish(ev statushub.Event)
}

// Deps collects the Supervisor's collaborators. Every field is
// exported because main wires them from config; tests substitute
// fakes for Prober and the ffmpeg binary paths.
type Deps struct {
	Logger hclog.Logger

	GridPlanner     *grid.Planner
	PlaylistBuilder *playlist.Builder
	Viewer          *viewer.Tracker
	HWPool          hwPool
	Prober          mediaprobe.Prober
	PostProcess     session.PostProcessor

	ArgBuilder ffmpegproc.ArgBuilder
	FFmpegPath string

	// Analytics records session start/end history; nil disables it.
	Analytics analyticsRecorder

	// StatusHub broadcasts session lifecycle transitions to connected
	// dashboard clients; nil disables it.
	StatusHub statusPublisher

	TargetSegmentSeconds   float64
	BaseOutputDir          string
	HardwareEncoding       bool
	PreserveSegments       bool
	PreserveFFmpegPlaylist bool

	PauseThreshold   time.Duration
	ViewerInactivity time.Duration
}

// VariantRequest is everything a caller (the HTTP layer) knows about
// the variant being requested, before the grid or source metadata has
// been consulted.
type VariantRequest struct {
	VideoID    string
	Label      string
	SourcePath string
	Variant    ffmpegproc.Variant

	SourceAudioCodec string
}

// ExplicitOffset carries the query-string parameters that switch
// ensureSegment into the explicit-offset, one-shot route (§6).
type ExplicitOffset struct {
	RuntimeTicks             int64
	ActualSegmentLengthTicks int64
}

// Valid reports whether both ticks fields are present and positive,
// the condition under which the explicit-offset route activates.
func (e ExplicitOffset) Valid() bool {
	return e.RuntimeTicks > 0 && e.ActualSegmentLengthTicks > 0
}

type sessionKey struct {
	videoID string
	label   string
}

func keyOf(videoID, label string) sessionKey { return sessionKey{videoID, label} }

// ctxWaitTimeout bounds how long ensureSegment's caller-facing
// WaitForSegment call is allowed to block; it is independent of the
// ceilings session.WaitForSegment applies internally.
const ctxWaitTimeout = 20 * time.Second

// stopGraceExplicit bounds how long EnsureSegmentExplicit waits for a
// timed-out one-shot child to exit cleanly before moving on.
const stopGraceExplicit = 3 * time.Second

func withWaitTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, ctxWaitTimeout)
}
