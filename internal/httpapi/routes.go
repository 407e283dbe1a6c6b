// Package httpapi is the gin binding of spec.md §6's HTTP contract.
// Every handler does nothing but parse the path/query, call the
// Supervisor, and translate its typed errors into the status codes
// §6 and §7 specify, following the teacher's thin-handler idiom in
// internal/modules/transcodingmodule/api/*handlers.go.
package httpapi

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/Apezdr/hls-prototype-sub001/internal/apperrors"
	"github.com/Apezdr/hls-prototype-sub001/internal/catalog"
	"github.com/Apezdr/hls-prototype-sub001/internal/supervisor"
)

// SourceResolver maps a videoId to the source media file path on
// disk. The teacher repo resolves this through its media-library
// store; here it is a narrow collaborator so tests can stub it
// without a real filesystem layout.
type SourceResolver interface {
	ResolveSource(videoID string) (string, error)
}

// registry is the subset of *supervisor.Supervisor's method set the
// route layer calls, mirroring the teacher's TranscodingAPIService
// interface-in-front-of-the-concrete-service idiom so handlers can be
// tested against a fake.
type registry interface {
	EnsureVariantPlaylist(ctx context.Context, req supervisor.VariantRequest) (string, error)
	EnsureSegment(ctx context.Context, req supervisor.VariantRequest, requested uint32) (string, error)
	EnsureSegmentExplicit(ctx context.Context, req supervisor.VariantRequest, offset supervisor.ExplicitOffset) (string, error)
	OutputDirFor(videoID, label string) string
}

// Handler holds the collaborators every route needs. Status-hub
// broadcasting lives on the Supervisor (it owns every lifecycle
// transition worth announcing), not here: the HTTP layer only ever
// reads the Supervisor's result, it never originates a transition.
type Handler struct {
	logger     hclog.Logger
	supervisor registry
	sources    SourceResolver
	catalog    catalog.Catalog
	jitEnabled func() bool
}

// NewHandler constructs a Handler. jitEnabled is a func rather than a
// bool so cmd/jitserver can wire it straight to the live config value.
func NewHandler(sup registry, sources SourceResolver, cat catalog.Catalog, jitEnabled func() bool, logger hclog.Logger) *Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if jitEnabled == nil {
		jitEnabled = func() bool { return true }
	}
	return &Handler{
		logger:     logger.Named("httpapi"),
		supervisor: sup,
		sources:    sources,
		catalog:    cat,
		jitEnabled: jitEnabled,
	}
}

// RegisterRoutes wires the §6 route set onto router, matching the
// teacher's RegisterRoutes(router, handler) free-function shape.
func RegisterRoutes(router *gin.Engine, h *Handler) {
	stream := router.Group("/api/stream")
	{
		stream.GET("/:id/master.m3u8", h.MasterPlaylist)
		stream.GET("/:id/audio/:audioVariant/playlist.m3u8", h.AudioVariantPlaylist)
		stream.GET("/:id/audio/:audioVariant/:segment", h.AudioSegment)
		stream.GET("/:id/:variant/playlist.m3u8", h.VariantPlaylist)
		stream.GET("/:id/:variant/init.mp4", h.InitSegment)
		stream.GET("/:id/:variant/:segment", h.Segment)
	}
}

// jitGuard writes the §6/§7 disabled-feature response and reports
// true if JIT transcoding is turned off, short-circuiting the caller.
func (h *Handler) jitGuard(c *gin.Context) bool {
	if h.jitEnabled() {
		return false
	}
	writeError(c, apperrors.NewDisabledFeature("httpapi.guard"))
	return true
}
