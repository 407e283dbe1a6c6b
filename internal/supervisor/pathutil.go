package supervisor

import (
	"path/filepath"
	"strings"
)

// sanitizeVideoID strips path separators and ".." traversal from a
// caller-supplied video identifier before it becomes a directory
// component, per §4.4's outputDir = baseOutput/sanitized(videoId)/label.
func sanitizeVideoID(videoID string) string {
	videoID = strings.ReplaceAll(videoID, "/", "_")
	videoID = strings.ReplaceAll(videoID, "\\", "_")
	videoID = strings.ReplaceAll(videoID, "..", "_")
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		videoID = "_"
	}
	return videoID
}

func (s *Supervisor) outputDirFor(videoID, label string) string {
	return filepath.Join(s.deps.BaseOutputDir, sanitizeVideoID(videoID), label)
}

// OutputDirFor exposes the (videoId, label) output directory to
// callers outside the package, e.g. the HTTP layer serving init.mp4
// directly once EnsureSegment has produced it as a side effect.
func (s *Supervisor) OutputDirFor(videoID, label string) string {
	return s.outputDirFor(videoID, s.canonicalLabel(videoID, label))
}
