// Package playlist renders the per-variant HLS media playlist once a
// grid has been computed, and guards against redundant regeneration
// while a session is live.
package playlist

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/Apezdr/hls-prototype-sub001/internal/apperrors"
	"github.com/Apezdr/hls-prototype-sub001/internal/grid"
)

// Options controls the handful of per-variant details the grid itself
// doesn't know about: file extension, segment naming, and HDR tagging.
type Options struct {
	FMP4       bool // true selects .m4s segment naming (fragmented variants)
	VideoRange string
	IsVideo    bool // false renders the audio-only .m3u8 shape (no VIDEO-RANGE line)
}

// Builder writes playlist.m3u8 files and remembers which (videoID,
// label) keys it has already written this run, so repeat callers for a
// live session are a no-op rather than a rewrite.
type Builder struct {
	logger hclog.Logger

	mu      sync.Mutex
	written map[string]struct{}
}

// NewBuilder creates a Builder.
func NewBuilder(logger hclog.Logger) *Builder {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Builder{
		logger:  logger.Named("playlist"),
		written: make(map[string]struct{}),
	}
}

func key(videoID, label string) string { return videoID + "/" + label }

// Ensure writes outputDir/playlist.m3u8 for (videoID, label) if it has
// not already been written this run. It is safe to call on every
// segment request; only the first call per key touches disk.
func (b *Builder) Ensure(videoID, label string, g *grid.Grid, outputDir string, opts Options) error {
	k := key(videoID, label)

	b.mu.Lock()
	if _, ok := b.written[k]; ok {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	text := Render(g, opts)
	path := filepath.Join(outputDir, "playlist.m3u8")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return apperrors.NewIOError("playlist.ensure", err).WithKey(videoID, label)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		return apperrors.NewIOError("playlist.ensure", err).WithKey(videoID, label)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apperrors.NewIOError("playlist.ensure", err).WithKey(videoID, label)
	}

	b.mu.Lock()
	b.written[k] = struct{}{}
	b.mu.Unlock()

	b.logger.Debug("wrote playlist", "video_id", videoID, "label", label, "segments", len(g.Segments))
	return nil
}

// Forget drops the write-once guard for a key, e.g. after StopSession
// so a future restart regenerates the playlist.
func (b *Builder) Forget(videoID, label string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.written, key(videoID, label))
}

// Render produces the .m3u8 text for g per spec.md §4.2. Tag order is
// EXTM3U, VERSION, VIDEO-RANGE (video variants only), TARGETDURATION,
// MEDIA-SEQUENCE, PLAYLIST-TYPE, then one EXTINF/segment pair per
// segment, closing with ENDLIST. Segment URIs carry runtimeTicks and
// actualSegmentLengthTicks query parameters so the explicit-offset
// route can serve a single segment without consulting the grid again.
func Render(g *grid.Grid, opts Options) string {
	var sb strings.Builder
	ext := grid.Extension(opts.FMP4)

	sb.WriteString("#EXTM3U\n")
	sb.WriteString("#EXT-X-VERSION:7\n")
	if opts.IsVideo {
		vr := opts.VideoRange
		if vr == "" {
			vr = "SDR"
		}
		fmt.Fprintf(&sb, "#EXT-X-VIDEO-RANGE:%s\n", vr)
	}
	fmt.Fprintf(&sb, "#EXT-X-TARGETDURATION:%d\n", int(math.Ceil(g.MaxSegmentSeconds())))
	sb.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	sb.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")

	for _, seg := range g.Segments {
		fmt.Fprintf(&sb, "#EXTINF:%.6f,\n", seg.DurationSeconds())
		fmt.Fprintf(&sb, "%03d%s?runtimeTicks=%d&actualSegmentLengthTicks=%d\n",
			seg.Index, ext, seg.StartTicks, seg.DurationTicks)
	}
	sb.WriteString("#EXT-X-ENDLIST\n")
	return sb.String()
}
