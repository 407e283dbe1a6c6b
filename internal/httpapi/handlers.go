package httpapi

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Apezdr/hls-prototype-sub001/internal/apperrors"
	"github.com/Apezdr/hls-prototype-sub001/internal/catalog"
	"github.com/Apezdr/hls-prototype-sub001/internal/ffmpegproc"
	"github.com/Apezdr/hls-prototype-sub001/internal/grid"
	"github.com/Apezdr/hls-prototype-sub001/internal/supervisor"
)

// MasterPlaylist handles GET /api/stream/:id/master.m3u8 (§6): it
// lists every configured video rung and the single advertised audio
// track, each pointing at its own variant-playlist URI. The variant
// list itself comes from the catalog, not the grid — building it
// doesn't require probing the source.
func (h *Handler) MasterPlaylist(c *gin.Context) {
	if h.jitGuard(c) {
		return
	}
	videoID := c.Param("id")

	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	sb.WriteString("#EXT-X-VERSION:7\n")

	audioLabel := h.catalog.AudioLabel()
	audioPathVariant := fmt.Sprintf("track_%d_%s", h.catalog.AudioTrackIndex, h.catalog.AudioCodec)
	fmt.Fprintf(&sb, "#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=\"audio\",NAME=\"%s\",DEFAULT=YES,URI=\"/api/stream/%s/audio/%s/playlist.m3u8\"\n",
		audioLabel, videoID, audioPathVariant)

	for _, rung := range h.catalog.VideoRungs {
		fmt.Fprintf(&sb, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,AUDIO=\"audio\"\n",
			rung.BitrateKbps*1000, rung.Width, rung.Height)
		fmt.Fprintf(&sb, "/api/stream/%s/%s/playlist.m3u8\n", videoID, rung.Label)
	}

	c.Data(http.StatusOK, "application/vnd.apple.mpegurl", []byte(sb.String()))
}

// VariantPlaylist handles GET /api/stream/:id/:variant/playlist.m3u8.
func (h *Handler) VariantPlaylist(c *gin.Context) {
	if h.jitGuard(c) {
		return
	}
	label := c.Param("variant")
	variant, ok := h.catalog.VariantFor(label)
	if !ok {
		writeError(c, apperrors.NewNotFound("httpapi.variantPlaylist", apperrors.ErrVariantNotFound).WithKey(c.Param("id"), label))
		return
	}
	h.ensurePlaylist(c, variant)
}

// AudioVariantPlaylist handles
// GET /api/stream/:id/audio/:audioVariant/playlist.m3u8.
func (h *Handler) AudioVariantPlaylist(c *gin.Context) {
	if h.jitGuard(c) {
		return
	}
	videoID := c.Param("id")
	trackIndex, codec, ok := parseAudioPathVariant(c.Param("audioVariant"))
	if !ok {
		writeError(c, apperrors.NewBadRequest("httpapi.audioVariantPlaylist", apperrors.ErrVariantNotFound).WithKey(videoID, c.Param("audioVariant")))
		return
	}
	if trackIndex != h.catalog.AudioTrackIndex {
		writeError(c, apperrors.NewNotFound("httpapi.audioVariantPlaylist", apperrors.ErrVariantNotFound).WithKey(videoID, c.Param("audioVariant")))
		return
	}
	variant := ffmpegproc.Variant{
		Label:           catalog.AudioLabelFor(trackIndex, codec),
		Kind:            ffmpegproc.KindAudio,
		AudioTrackIndex: trackIndex,
		AudioCodec:      codec,
	}
	h.ensurePlaylist(c, variant)
}

func (h *Handler) ensurePlaylist(c *gin.Context, variant ffmpegproc.Variant) {
	videoID := c.Param("id")
	sourcePath, err := h.sources.ResolveSource(videoID)
	if err != nil {
		writeError(c, apperrors.NewNotFound("httpapi.ensurePlaylist", err).WithKey(videoID, variant.Label))
		return
	}

	path, err := h.supervisor.EnsureVariantPlaylist(c.Request.Context(), supervisor.VariantRequest{
		VideoID:    videoID,
		Label:      variant.Label,
		SourcePath: sourcePath,
		Variant:    variant,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.File(path)
}

// InitSegment handles GET /api/stream/:id/:variant/init.mp4: if the
// init file is already on disk it is served directly; otherwise
// ensureSegment(requested=0) is triggered to produce it as a side
// effect, then the file is served.
func (h *Handler) InitSegment(c *gin.Context) {
	if h.jitGuard(c) {
		return
	}
	videoID := c.Param("id")
	label := c.Param("variant")
	variant, ok := h.catalog.VariantFor(label)
	if !ok {
		writeError(c, apperrors.NewNotFound("httpapi.initSegment", apperrors.ErrVariantNotFound).WithKey(videoID, label))
		return
	}

	initPath := filepath.Join(h.supervisor.OutputDirFor(videoID, label), "init.mp4")
	if _, err := os.Stat(initPath); err == nil {
		c.File(initPath)
		return
	}

	sourcePath, err := h.sources.ResolveSource(videoID)
	if err != nil {
		writeError(c, apperrors.NewNotFound("httpapi.initSegment", err).WithKey(videoID, label))
		return
	}

	req := supervisor.VariantRequest{VideoID: videoID, Label: label, SourcePath: sourcePath, Variant: variant}
	if _, err := h.supervisor.EnsureSegment(c.Request.Context(), req, 0); err != nil {
		writeError(c, err)
		return
	}

	c.File(initPath)
}

// Segment handles GET /api/stream/:id/:variant/:segment for video
// variants (`{nnn}.ts` or `{nnn}.m4s`), including the explicit-offset
// query-parameter form.
func (h *Handler) Segment(c *gin.Context) {
	if h.jitGuard(c) {
		return
	}
	videoID := c.Param("id")
	label := c.Param("variant")
	variant, ok := h.catalog.VariantFor(label)
	if !ok {
		writeError(c, apperrors.NewNotFound("httpapi.segment", apperrors.ErrVariantNotFound).WithKey(videoID, label))
		return
	}
	h.serveSegment(c, label, variant)
}

// AudioSegment handles
// GET /api/stream/:id/audio/:audioVariant/:segment, mirroring Segment
// for the single configured audio track.
func (h *Handler) AudioSegment(c *gin.Context) {
	if h.jitGuard(c) {
		return
	}
	videoID := c.Param("id")
	trackIndex, codec, ok := parseAudioPathVariant(c.Param("audioVariant"))
	if !ok {
		writeError(c, apperrors.NewBadRequest("httpapi.audioSegment", apperrors.ErrVariantNotFound).WithKey(videoID, c.Param("audioVariant")))
		return
	}
	if trackIndex != h.catalog.AudioTrackIndex {
		writeError(c, apperrors.NewNotFound("httpapi.audioSegment", apperrors.ErrVariantNotFound).WithKey(videoID, c.Param("audioVariant")))
		return
	}
	label := catalog.AudioLabelFor(trackIndex, codec)
	variant := ffmpegproc.Variant{
		Label:           label,
		Kind:            ffmpegproc.KindAudio,
		AudioTrackIndex: trackIndex,
		AudioCodec:      codec,
	}
	h.serveSegment(c, label, variant)
}

func (h *Handler) serveSegment(c *gin.Context, label string, variant ffmpegproc.Variant) {
	videoID := c.Param("id")
	segmentFile := c.Param("segment")
	requested, ext, err := parseSegmentFilename(segmentFile)
	if err != nil {
		writeError(c, apperrors.NewBadRequest("httpapi.segment", err).WithKey(videoID, label))
		return
	}
	variant.FMP4 = ext == ".m4s"

	sourcePath, err := h.sources.ResolveSource(videoID)
	if err != nil {
		writeError(c, apperrors.NewNotFound("httpapi.segment", err).WithKey(videoID, label))
		return
	}

	req := supervisor.VariantRequest{VideoID: videoID, Label: label, SourcePath: sourcePath, Variant: variant}

	offset := supervisor.ExplicitOffset{
		RuntimeTicks:             queryInt64(c, "runtimeTicks"),
		ActualSegmentLengthTicks: queryInt64(c, "actualSegmentLengthTicks"),
	}
	if offset.Valid() {
		path, err := h.supervisor.EnsureSegmentExplicit(c.Request.Context(), req, offset)
		if err != nil {
			writeError(c, err)
			return
		}
		c.File(path)
		return
	}

	path, err := h.supervisor.EnsureSegment(c.Request.Context(), req, requested)
	if err != nil {
		writeError(c, err)
		return
	}
	c.File(path)
}

// parseSegmentFilename splits "050.ts"/"050.m4s" into the requested
// segment index and extension.
func parseSegmentFilename(name string) (uint32, string, error) {
	ext := grid.Extension(strings.HasSuffix(name, ".m4s"))
	if !strings.HasSuffix(name, ".ts") && !strings.HasSuffix(name, ".m4s") {
		return 0, "", fmt.Errorf("unrecognized segment extension in %q", name)
	}
	stem := strings.TrimSuffix(strings.TrimSuffix(name, ".ts"), ".m4s")
	n, err := strconv.ParseUint(stem, 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("unparseable segment index in %q: %w", name, err)
	}
	return uint32(n), ext, nil
}

// parseAudioPathVariant splits the "track_{n}_{codec}" path segment
// spec.md §6 routes audio requests under into a track index and
// codec.
func parseAudioPathVariant(s string) (int, string, bool) {
	s = strings.TrimPrefix(s, "track_")
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	idx, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return idx, parts[1], true
}

func queryInt64(c *gin.Context, key string) int64 {
	v := c.Query(key)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
