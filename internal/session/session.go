package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/Apezdr/hls-prototype-sub001/internal/apperrors"
	"github.com/Apezdr/hls-prototype-sub001/internal/ffmpegproc"
	"github.com/Apezdr/hls-prototype-sub001/internal/grid"
	"github.com/Apezdr/hls-prototype-sub001/internal/sessionlock"
	"github.com/Apezdr/hls-prototype-sub001/internal/ticks"
)

// Session owns one child transcoder process for one (videoId, label)
// pair. VideoSession and AudioSession (video.go, audio.go) are thin
// constructors over this shared driver, dispatching on Variant.Kind
// the way the teacher's stream_encoder/shaka_stream_encoder pair does.
type Session struct {
	params Params
	deps   Deps
	logger hclog.Logger

	mu                        sync.Mutex
	state                     State
	startSegment              uint32
	adjustedStartTimestampSec float64
	errorMessage              string
	useHw                     bool
	process                   *ffmpegproc.Process

	latestSegment int32 // atomic; -1 sentinel before any progress

	cancel context.CancelFunc
}

func newSession(params Params, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = hclog.NewNullLogger()
	}
	return &Session{
		params:        params,
		deps:          deps,
		logger:        deps.Logger.Named("session").With("video_id", params.VideoID, "label", params.Variant.Label),
		state:         Starting,
		latestSegment: -1,
	}
}

// Key returns the (videoId, label) identity used by the Supervisor's
// session table.
func (s *Session) Key() (string, string) { return s.params.VideoID, s.params.Variant.Label }

// State returns the session's current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LatestSegment returns the highest segment index the session believes
// it has completed, or -1 if no progress has been observed yet.
func (s *Session) LatestSegment() int32 {
	return atomic.LoadInt32(&s.latestSegment)
}

// StartSegment returns the index Start() was invoked with.
func (s *Session) StartSegment() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startSegment
}

// OutputDir returns the directory this session writes segments to.
func (s *Session) OutputDir() string { return s.params.OutputDir }

// ErrorMessage returns the accumulated diagnostic text from a failed
// or failing child process.
func (s *Session) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorMessage
}

// Start spawns the child transcoder targeting requestedSegment,
// following the nine steps of spec §4.4.
func (s *Session) Start(ctx context.Context, requestedSegment uint32) error {
	s.mu.Lock()
	g := s.params.Grid
	if int(requestedSegment) >= len(g.Segments) {
		s.mu.Unlock()
		return apperrors.NewBadRequest("session.start", fmt.Errorf("requested segment %d beyond grid length %d", requestedSegment, len(g.Segments)))
	}

	s.startSegment = requestedSegment
	targetTs := ticks.ToSeconds(g.Segments[requestedSegment].StartTicks)
	s.adjustedStartTimestampSec = nearestSyncPoint(s.params.Meta, g, targetTs, s.params.Variant.Kind)

	if err := os.MkdirAll(s.params.OutputDir, 0o755); err != nil {
		s.state = Failed
		s.errorMessage = err.Error()
		s.mu.Unlock()
		return apperrors.NewIOError("session.start", err).WithKey(s.params.VideoID, s.params.Variant.Label)
	}

	useHw := s.params.Variant.Kind == ffmpegproc.KindVideo && s.deps.HardwareEncoding && s.params.Variant.HWAccel
	if useHw && s.deps.HWPool != nil {
		useHw = s.deps.HWPool.Acquire()
	}
	s.useHw = useHw
	variant := s.params.Variant
	variant.HWAccel = useHw

	args := s.deps.ArgBuilder.Build(ffmpegproc.BuildParams{
		SourcePath:           s.params.SourcePath,
		OutputDir:            s.params.OutputDir,
		Grid:                 g,
		Meta:                 s.params.Meta,
		Variant:              variant,
		StartSegment:         int(requestedSegment),
		AdjustedStartSeconds: s.adjustedStartTimestampSec,
		SourceAudioCodec:     s.params.SourceAudioCodec,
	})

	// The child must outlive the caller's request context; it is only
	// ever canceled by Stop/Pause, never by the request that started it.
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	proc, err := ffmpegproc.Start(runCtx, s.deps.FFmpegPath, args, s.logger)
	if err != nil {
		s.mu.Lock()
		s.state = Failed
		s.errorMessage = err.Error()
		if s.useHw && s.deps.HWPool != nil {
			s.deps.HWPool.Release()
			s.useHw = false
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.process = proc
	s.mu.Unlock()

	go s.watchProgress(proc)
	go s.watchExit(proc)

	if err := sessionlock.Touch(s.params.OutputDir); err != nil {
		s.logger.Warn("failed to touch session lock", "error", err)
	}

	s.mu.Lock()
	// watchExit, Stop or Pause may already have moved the session on if
	// the child exited quickly; only a still-Starting session becomes
	// Running.
	if s.state == Starting {
		s.state = Running
	}
	s.mu.Unlock()

	return nil
}

// watchProgress derives latestSegment from the child's time= progress
// tokens, matching §4.4 step 7's requirement to parse stderr directly
// rather than rely on a progress event.
func (s *Session) watchProgress(proc *ffmpegproc.Process) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-proc.Done():
			return
		case <-ticker.C:
			prog := proc.LastProgress()
			if prog.Seconds <= 0 && prog.Frame == 0 {
				continue
			}
			s.mu.Lock()
			processed := s.adjustedStartTimestampSec + prog.Seconds
			s.mu.Unlock()

			idx := s.params.Grid.SegmentIndexAt(processed) - 1
			if idx < 0 {
				idx = 0
			}
			for {
				cur := atomic.LoadInt32(&s.latestSegment)
				if int32(idx) <= cur {
					break
				}
				if atomic.CompareAndSwapInt32(&s.latestSegment, cur, int32(idx)) {
					break
				}
			}
		}
	}
}

func (s *Session) watchExit(proc *ffmpegproc.Process) {
	<-proc.Done()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Paused || s.state == Finished {
		// Stop()/Pause() already transitioned state before the child
		// actually exited; don't overwrite a clean shutdown.
		return
	}

	if proc.Err() == nil {
		s.state = Finished
	} else {
		s.state = Failed
		s.errorMessage = proc.Classify("session.watch_exit").Err.Error()
	}
	if s.useHw && s.deps.HWPool != nil {
		s.deps.HWPool.Release()
		s.useHw = false
	}
}

// DetectSeek implements §4.4's DetectSeek policy.
func (s *Session) DetectSeek(requested uint32) bool {
	s.mu.Lock()
	state := s.state
	latest := atomic.LoadInt32(&s.latestSegment)
	start := s.startSegment
	outputDir := s.params.OutputDir
	ext := grid.Extension(s.params.Variant.FMP4)
	s.mu.Unlock()

	if state == Failed {
		return true
	}
	if (state == Running || state == Starting) && int32(requested) > latest+seekAheadTolerance {
		return true
	}
	if requested < start {
		if !segmentExists(outputDir, requested, ext) {
			return true
		}
	}
	return false
}

// Pause stops the child without deleting any files, retaining the
// session object so a future request falls through to "no session ->
// start" rather than reusing a dead process.
func (s *Session) Pause() {
	s.mu.Lock()
	proc := s.process
	s.state = Paused
	s.mu.Unlock()

	if proc != nil {
		proc.Stop(stopGrace)
	}
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	if s.useHw && s.deps.HWPool != nil {
		s.deps.HWPool.Release()
		s.useHw = false
	}
	s.mu.Unlock()
}

// Stop terminates the child and, unless segment preservation is
// configured, deletes generated segment/playlist artifacts (never the
// placeholder playlist.m3u8).
func (s *Session) Stop() {
	s.mu.Lock()
	proc := s.process
	s.state = Finished
	outputDir := s.params.OutputDir
	preserve := s.deps.PreserveSegments
	s.mu.Unlock()

	if proc != nil {
		proc.Stop(stopGrace)
	}
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	if s.useHw && s.deps.HWPool != nil {
		s.deps.HWPool.Release()
		s.useHw = false
	}
	s.mu.Unlock()

	if !preserve {
		cleanupOutputDir(outputDir, s.deps.PreserveFFmpegPlaylist)
	}
}
