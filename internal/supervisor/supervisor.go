package supervisor

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/Apezdr/hls-prototype-sub001/internal/apperrors"
	"github.com/Apezdr/hls-prototype-sub001/internal/ffmpegproc"
	"github.com/Apezdr/hls-prototype-sub001/internal/grid"
	"github.com/Apezdr/hls-prototype-sub001/internal/playlist"
	"github.com/Apezdr/hls-prototype-sub001/internal/session"
	"github.com/Apezdr/hls-prototype-sub001/internal/statushub"
)

// Supervisor is the SessionRegistry of spec §4.6: it owns the session
// table and the viewer table exclusively, and serializes mutations to
// either per (videoId, label) key while independent keys proceed in
// parallel.
type Supervisor struct {
	deps   Deps
	logger hclog.Logger

	tableMu  sync.Mutex
	sessions map[sessionKey]*session.Session

	keyLocks sync.Map // sessionKey -> *sync.Mutex

	variantsMu sync.Mutex
	// knownVariants[videoID][lower(label)] = canonical label, populated
	// when a variant's playlist is first built.
	knownVariants map[string]map[string]string

	// analyticsIDs tracks the in-flight analytics.Store record ID for
	// each live session, protected by tableMu alongside sessions.
	analyticsIDs map[sessionKey]uint
}

// New constructs a Supervisor from its dependencies, defaulting any
// collaborator a caller omitted to a safe zero-behavior stand-in.
func New(deps Deps) *Supervisor {
	if deps.Logger == nil {
		deps.Logger = hclog.NewNullLogger()
	}
	if deps.TargetSegmentSeconds <= 0 {
		deps.TargetSegmentSeconds = 6.0
	}
	return &Supervisor{
		deps:          deps,
		logger:        deps.Logger.Named("supervisor"),
		sessions:      make(map[sessionKey]*session.Session),
		knownVariants: make(map[string]map[string]string),
		analyticsIDs:  make(map[sessionKey]uint),
	}
}

// recordSessionStart logs a new session's start to analytics, a
// no-op if no recorder was configured.
func (s *Supervisor) recordSessionStart(key sessionKey) {
	if s.deps.Analytics == nil {
		return
	}
	id, err := s.deps.Analytics.RecordStart(key.videoID, key.label)
	if err != nil {
		s.logger.Warn("analytics record-start failed", "video_id", key.videoID, "label", key.label, "error", err)
		return
	}
	s.tableMu.Lock()
	s.analyticsIDs[key] = id
	s.tableMu.Unlock()
}

// recordSessionEnd logs sess's terminal state to analytics, a no-op
// if no recorder was configured or the session was never recorded.
func (s *Supervisor) recordSessionEnd(key sessionKey, sess *session.Session) {
	if s.deps.Analytics == nil {
		return
	}
	s.tableMu.Lock()
	id, ok := s.analyticsIDs[key]
	if ok {
		delete(s.analyticsIDs, key)
	}
	s.tableMu.Unlock()
	if !ok {
		return
	}
	segmentsServed := 0
	if latest := sess.LatestSegment(); latest >= 0 {
		segmentsServed = int(latest) + 1
	}
	if err := s.deps.Analytics.RecordEnd(id, segmentsServed, sess.ErrorMessage()); err != nil {
		s.logger.Warn("analytics record-end failed", "video_id", key.videoID, "label", key.label, "error", err)
	}
}

// publishStatus broadcasts a lifecycle transition to the status hub, a
// no-op if none was configured.
func (s *Supervisor) publishStatus(key sessionKey, eventType, errMessage string) {
	if s.deps.StatusHub == nil {
		return
	}
	s.deps.StatusHub.Publish(statushub.Event{
		Type:    eventType,
		VideoID: key.videoID,
		Label:   key.label,
		Error:   errMessage,
	})
}

func (s *Supervisor) lockKey(k sessionKey) func() {
	v, _ := s.keyLocks.LoadOrStore(k, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// canonicalLabel normalizes a caller-supplied label against the
// per-video known-variants map built by EnsureVariantPlaylist,
// swapping in the canonical casing when only a case-insensitive match
// is found, per §4.6's tie-break rule.
func (s *Supervisor) canonicalLabel(videoID, label string) string {
	s.variantsMu.Lock()
	defer s.variantsMu.Unlock()

	byLower := s.knownVariants[videoID]
	if byLower == nil {
		return label
	}
	if canon, ok := byLower[label]; ok {
		return canon
	}
	if canon, ok := byLower[strings.ToLower(label)]; ok {
		if canon != label {
			s.logger.Warn("canonicalized variant label casing", "video_id", videoID, "requested", label, "canonical", canon)
		}
		return canon
	}
	return label
}

func (s *Supervisor) registerVariant(videoID, label string) {
	s.variantsMu.Lock()
	defer s.variantsMu.Unlock()
	if s.knownVariants[videoID] == nil {
		s.knownVariants[videoID] = make(map[string]string)
	}
	s.knownVariants[videoID][label] = label
	s.knownVariants[videoID][strings.ToLower(label)] = label
}

// EnsureVariantPlaylist resolves the grid for videoID (probing and
// planning on first use) and writes the variant's placeholder
// playlist, returning its path. Safe to call repeatedly; only the
// first call per (videoId, label) touches disk.
func (s *Supervisor) EnsureVariantPlaylist(ctx context.Context, req VariantRequest) (string, error) {
	meta, g, err := s.resolveGrid(ctx, req.VideoID, req.SourcePath)
	if err != nil {
		return "", err
	}

	outputDir := s.outputDirFor(req.VideoID, req.Label)
	opts := playlist.Options{
		FMP4:       req.Variant.FMP4,
		VideoRange: meta.VideoRange(),
		IsVideo:    req.Variant.Kind == ffmpegproc.KindVideo,
	}
	if err := s.deps.PlaylistBuilder.Ensure(req.VideoID, req.Label, g, outputDir, opts); err != nil {
		return "", err
	}

	s.registerVariant(req.VideoID, req.Label)
	return filepath.Join(outputDir, "playlist.m3u8"), nil
}

func (s *Supervisor) resolveGrid(ctx context.Context, videoID, sourcePath string) (grid.MediaMeta, *grid.Grid, error) {
	if s.deps.Prober == nil {
		return grid.MediaMeta{}, nil, apperrors.NewProbeError("supervisor.resolveGrid", apperrors.ErrVariantNotFound)
	}
	meta, err := s.deps.Prober.Probe(ctx, sourcePath)
	if err != nil {
		return grid.MediaMeta{}, nil, apperrors.NewProbeError("supervisor.resolveGrid", err).WithKey(videoID, "")
	}
	g, err := s.deps.GridPlanner.Plan(videoID, meta, s.deps.TargetSegmentSeconds)
	if err != nil {
		return grid.MediaMeta{}, nil, err
	}
	return meta, g, nil
}

// EnsureSegment resolves a segment request per §4.6: update the
// viewer, look up or (re)start the session, then wait for readiness.
func (s *Supervisor) EnsureSegment(ctx context.Context, req VariantRequest, requested uint32) (string, error) {
	label := s.canonicalLabel(req.VideoID, req.Label)
	req.Label = label

	s.deps.Viewer.Update(req.VideoID, label, requested)

	key := keyOf(req.VideoID, label)
	unlock := s.lockKey(key)
	defer unlock()

	meta, g, err := s.resolveGrid(ctx, req.VideoID, req.SourcePath)
	if err != nil {
		return "", err
	}
	if int(requested) >= len(g.Segments) {
		return "", apperrors.NewNotFound("supervisor.ensureSegment", apperrors.ErrSegmentOutOfRange).WithKey(req.VideoID, label)
	}

	sess := s.getSession(key)
	if sess != nil && sess.State() == session.Paused {
		// A paused session's child is gone: drop it without Stop() so
		// the files Pause() kept stay on disk, then start afresh below.
		s.recordSessionEnd(key, sess)
		s.deleteSession(key)
		sess = nil
	}
	if sess != nil && sess.DetectSeek(requested) {
		sess.Stop()
		s.recordSessionEnd(key, sess)
		s.publishStatus(key, "stopped", "")
		s.deleteSession(key)
		sess = nil
	}

	if sess == nil {
		sess = s.newSession(req, meta, g)
		s.putSession(key, sess)
		s.recordSessionStart(key)
		if err := sess.Start(ctx, requested); err != nil {
			// Left in Failed state per §4.6: the next request's
			// DetectSeek treats Failed like "not on disk", so it
			// restarts rather than reusing the corpse.
			s.recordSessionEnd(key, sess)
			s.publishStatus(key, "failed", err.Error())
			return "", err
		}
		s.publishStatus(key, "started", "")
	}

	waitCtx, cancel := withWaitTimeout(ctx)
	defer cancel()
	path, err := sess.WaitForSegment(waitCtx, requested)
	if err != nil {
		return "", err
	}
	return path, nil
}

func (s *Supervisor) newSession(req VariantRequest, meta grid.MediaMeta, g *grid.Grid) *session.Session {
	outputDir := s.outputDirFor(req.VideoID, req.Label)
	params := session.Params{
		VideoID:          req.VideoID,
		SourcePath:       req.SourcePath,
		OutputDir:        outputDir,
		Grid:             g,
		Meta:             meta,
		Variant:          req.Variant,
		SourceAudioCodec: req.SourceAudioCodec,
	}
	// Each session run gets its own correlation ID so its log lines can
	// be traced across start, seek-restart, and stop even though the
	// (videoId, label) key is reused by every run at that key.
	sessionLogger := s.deps.Logger.With("session_run_id", uuid.NewString())
	deps := session.Deps{
		Logger:                 sessionLogger,
		FFmpegPath:             s.deps.FFmpegPath,
		ArgBuilder:             s.deps.ArgBuilder,
		HWPool:                 s.deps.HWPool,
		PostProcess:            s.deps.PostProcess,
		PreserveSegments:       s.deps.PreserveSegments,
		PreserveFFmpegPlaylist: s.deps.PreserveFFmpegPlaylist,
		HardwareEncoding:       s.deps.HardwareEncoding,
	}
	if req.Variant.Kind == ffmpegproc.KindAudio {
		return session.NewAudioSession(params, deps)
	}
	return session.NewVideoSession(params, deps)
}

// StopSession stops and forgets the session for (videoId, label), if
// any.
func (s *Supervisor) StopSession(videoID, label string) {
	label = s.canonicalLabel(videoID, label)
	key := keyOf(videoID, label)
	unlock := s.lockKey(key)
	defer unlock()

	sess := s.getSession(key)
	if sess == nil {
		return
	}
	sess.Stop()
	s.recordSessionEnd(key, sess)
	s.publishStatus(key, "stopped", "")
	s.deleteSession(key)
}

func (s *Supervisor) getSession(k sessionKey) *session.Session {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	return s.sessions[k]
}

func (s *Supervisor) putSession(k sessionKey, sess *session.Session) {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	s.sessions[k] = sess
}

func (s *Supervisor) deleteSession(k sessionKey) {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	delete(s.sessions, k)
}

// PauseInactive implements the pause sweep (§4.8): every running
// session whose viewer is missing or stale past the pause threshold is
// paused, leaving the placeholder playlist untouched.
func (s *Supervisor) PauseInactive(now time.Time) {
	s.tableMu.Lock()
	snapshot := make(map[sessionKey]*session.Session, len(s.sessions))
	for k, v := range s.sessions {
		snapshot[k] = v
	}
	s.tableMu.Unlock()

	for k, sess := range snapshot {
		if sess.State() != session.Running && sess.State() != session.Starting {
			continue
		}
		v, ok := s.deps.Viewer.Get(k.videoID, k.label)
		stale := !ok || now.Sub(time.UnixMilli(v.LastAccessAtMs)) > s.deps.PauseThreshold
		if stale {
			sess.Pause()
			s.publishStatus(k, "paused", "")
		}
	}
}

// CleanupInactive implements the cleanup sweep (§4.8): every viewer
// entry idle past the inactivity threshold gets its session stopped
// and its viewer entry removed.
func (s *Supervisor) CleanupInactive(now time.Time) {
	for _, entry := range s.deps.Viewer.Snapshot() {
		if now.Sub(time.UnixMilli(entry.Viewer.LastAccessAtMs)) <= s.deps.ViewerInactivity {
			continue
		}
		s.StopSession(entry.VideoID, entry.Label)
		s.deps.Viewer.Remove(entry.VideoID, entry.Label)
	}
}
