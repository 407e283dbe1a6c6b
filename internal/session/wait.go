package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"

	"github.com/Apezdr/hls-prototype-sub001/internal/apperrors"
	"github.com/Apezdr/hls-prototype-sub001/internal/ffmpegproc"
	"github.com/Apezdr/hls-prototype-sub001/internal/grid"
	"github.com/Apezdr/hls-prototype-sub001/internal/sessionlock"
)

// WaitForSegment blocks until requested's segment file exists and has
// been stable on disk, per §4.4's bounded-wait protocol, then returns
// its path.
func (s *Session) WaitForSegment(ctx context.Context, requested uint32) (string, error) {
	s.mu.Lock()
	outputDir := s.params.OutputDir
	ext := grid.Extension(s.params.Variant.FMP4)
	s.mu.Unlock()

	path := segmentPath(outputDir, requested, ext)

	ceiling := normalWaitCeiling
	if int32(requested)-s.LatestSegment() > seekAheadTolerance {
		ceiling = seekWaitCeiling
	}

	failCheck := func() error {
		if s.State() == Failed {
			return apperrors.NewTranscodeFailed("session.wait_for_segment", fmt.Errorf("%s", s.ErrorMessage())).
				WithKey(s.params.VideoID, s.params.Variant.Label)
		}
		return nil
	}

	// watchOutputDir is best-effort: if the watcher can't be created (fd
	// exhaustion, missing dir), waitForStableFile just falls back to
	// polling at pollInterval, which remains the source of truth either
	// way — fsnotify only shortens the idle sleep between stat checks.
	watcher := watchOutputDir(outputDir, s.logger)
	if watcher != nil {
		defer watcher.Close()
	}

	stable, err := waitForStableFile(ctx, path, ceiling, stabilityWindow, pollInterval, failCheck, watcher)
	if err != nil {
		return "", err
	}
	if !stable {
		return "", apperrors.NewTimeout("session.wait_for_segment").WithKey(s.params.VideoID, s.params.Variant.Label)
	}

	if s.State() != Finished && int32(requested) < s.LatestSegment() {
		nextPath := segmentPath(outputDir, requested+1, ext)
		_, _ = waitForStableFile(ctx, nextPath, nextSegmentConfirmWindow, nextSegmentConfirmPoll, nextSegmentConfirmPoll/2, func() error { return nil }, watcher)
	}

	if err := sessionlock.Touch(outputDir); err != nil {
		s.logger.Warn("failed to refresh session lock", "error", err)
	}

	if s.deps.PostProcess != nil && ext == ".ts" {
		if err := s.deps.PostProcess.Process(s.params.VideoID, s.params.Variant.Label, requested, path); err != nil {
			s.logger.Warn("post-processing failed, serving unprocessed segment", "error", err)
		}
	}

	return path, nil
}

// segmentPath mirrors the playlist builder's zero-padded three-digit
// segment naming (§4.2).
func segmentPath(outputDir string, index uint32, ext string) string {
	return filepath.Join(outputDir, fmt.Sprintf("%03d%s", index, ext))
}

func segmentExists(outputDir string, index uint32, ext string) bool {
	_, err := os.Stat(segmentPath(outputDir, index, ext))
	return err == nil
}

// watchOutputDir opens a best-effort fsnotify watch on outputDir, used
// by waitForStableFile to wake on write instead of sleeping out the
// full poll interval. A nil return (watcher unavailable) is not an
// error: the caller still polls at pollInterval regardless.
func watchOutputDir(outputDir string, logger hclog.Logger) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fsnotify watcher unavailable, falling back to polling only", "error", err)
		return nil
	}
	if err := watcher.Add(outputDir); err != nil {
		logger.Warn("fsnotify watch add failed, falling back to polling only", "error", err, "dir", outputDir)
		watcher.Close()
		return nil
	}
	return watcher
}

// waitForStableFile polls path's size until it hasn't changed for
// window, or ceiling elapses. failCheck is consulted every poll and,
// if it returns a non-nil error, aborts the wait immediately. watcher,
// if non-nil, wakes the loop early on any write in path's directory so
// the stat check above runs sooner than the next scheduled poll;
// stability is still decided purely by the size comparison, never by
// the event itself.
func waitForStableFile(ctx context.Context, path string, ceiling, window, interval time.Duration, failCheck func() error, watcher *fsnotify.Watcher) (bool, error) {
	deadline := time.Now().Add(ceiling)
	var lastSize int64 = -1
	var lastChange time.Time

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if watcher != nil {
		events = watcher.Events
		watchErrs = watcher.Errors
	}

	for {
		if err := failCheck(); err != nil {
			return false, err
		}

		info, err := os.Stat(path)
		now := time.Now()
		if err == nil {
			if info.Size() != lastSize {
				lastSize = info.Size()
				lastChange = now
			} else if !lastChange.IsZero() && now.Sub(lastChange) >= window {
				return true, nil
			}
		}

		if now.After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-events:
		case <-watchErrs:
		case <-time.After(interval):
		}
	}
}

// nearestSyncPoint resolves the floor of targetTs to the nearest
// GOP boundary (video) or audio-frame boundary (audio), since
// MediaProbe as scoped does not enumerate keyframe timestamps.
func nearestSyncPoint(meta grid.MediaMeta, g *grid.Grid, targetTs float64, kind ffmpegproc.Kind) float64 {
	if kind == ffmpegproc.KindAudio {
		frameSize := meta.AACFrameSize
		if frameSize == 0 {
			frameSize = 1024
		}
		rate := meta.AudioSampleRate
		if rate == 0 {
			rate = 48000
		}
		frameDur := float64(frameSize) / float64(rate)
		if frameDur <= 0 {
			return targetTs
		}
		n := int64(targetTs / frameDur)
		return float64(n) * frameDur
	}

	if g.VideoFPS <= 0 || g.GOPFrames == 0 {
		return targetTs
	}
	gopDur := float64(g.GOPFrames) / g.VideoFPS
	n := int64(targetTs / gopDur)
	return float64(n) * gopDur
}

// cleanupOutputDir removes generated segments and the ffmpeg-managed
// playlist, per §4.4 Stop(). It never touches playlist.m3u8 or
// session.lock: the lock file's mtime age is the liveness signal §4.5
// uses to authorize slot reclamation, so Stop() ages it rather than
// erasing it.
func cleanupOutputDir(outputDir string, preserveFFmpegPlaylist bool) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == "playlist.m3u8" {
			continue
		}
		if name == "ffmpeg_playlist.m3u8" {
			if preserveFFmpegPlaylist {
				continue
			}
			_ = os.Remove(filepath.Join(outputDir, name))
			continue
		}
		if filepath.Ext(name) == ".ts" || filepath.Ext(name) == ".m4s" || name == "init.mp4" {
			_ = os.Remove(filepath.Join(outputDir, name))
		}
	}
}
