// Command jitserver is the process entrypoint: it loads configuration,
// wires the segment supervisor and its collaborators, starts the
// pause/cleanup sweepers, and serves the §6 HTTP contract over gin,
// following the teacher's cmd/viewra graceful-shutdown wiring style.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Apezdr/hls-prototype-sub001/internal/analytics"
	"github.com/Apezdr/hls-prototype-sub001/internal/catalog"
	"github.com/Apezdr/hls-prototype-sub001/internal/config"
	"github.com/Apezdr/hls-prototype-sub001/internal/ffmpegproc"
	"github.com/Apezdr/hls-prototype-sub001/internal/grid"
	"github.com/Apezdr/hls-prototype-sub001/internal/httpapi"
	"github.com/Apezdr/hls-prototype-sub001/internal/hwpool"
	"github.com/Apezdr/hls-prototype-sub001/internal/mediaprobe"
	"github.com/Apezdr/hls-prototype-sub001/internal/playlist"
	"github.com/Apezdr/hls-prototype-sub001/internal/postprocess"
	"github.com/Apezdr/hls-prototype-sub001/internal/statushub"
	"github.com/Apezdr/hls-prototype-sub001/internal/supervisor"
	"github.com/Apezdr/hls-prototype-sub001/internal/sweeper"
	"github.com/Apezdr/hls-prototype-sub001/internal/viewer"
)

// fileSourceResolver resolves a videoId to a source file directly
// under the configured video source directory, trying each of a
// small set of common container extensions in turn. The spec scopes
// "source-file discovery" out of the supervisor's responsibilities
// (§1 Non-goals); a real deployment would replace this with its own
// media-library lookup.
type fileSourceResolver struct {
	sourceDir string
}

var sourceExtensions = []string{".mkv", ".mp4", ".m4v", ".ts"}

func (r fileSourceResolver) ResolveSource(videoID string) (string, error) {
	for _, ext := range sourceExtensions {
		candidate := filepath.Join(r.sourceDir, videoID+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no source file found for video %q under %s", videoID, r.sourceDir)
}

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "jitserver",
		Level: hclog.Info,
	})

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := gorm.Open(sqlite.Open(filepath.Join(cfg.HLSOutputDir, "analytics.db")), &gorm.Config{})
	if err != nil {
		logger.Warn("analytics database unavailable, session history will not be recorded", "error", err)
	}
	var analyticsStore *analytics.Store
	if err == nil {
		analyticsStore = analytics.NewStore(db, logger)
		if err := analyticsStore.Migrate(); err != nil {
			logger.Warn("analytics migration failed", "error", err)
		}
	}

	prober := mediaprobe.NewFFProbe(cfg.FFprobePath, logger)
	gridPlanner := grid.NewPlanner(logger)
	playlistBuilder := playlist.NewBuilder(logger)
	viewerTracker := viewer.NewTracker()
	hwPool := hwpool.New(cfg.MaxHWProcesses)
	postProcessor := postprocess.NewRewriter(logger)
	hub := statushub.NewHub(logger)

	// Trust but verify: HardwareEncodingEnabled/HWAccelType come from
	// config, but the encoder the admin asked for might not actually be
	// built into the local ffmpeg. Probe it once at startup rather than
	// discovering a hard failure on the first hardware session.
	hwAccelType := cfg.HWAccelType
	hardwareEncoding := cfg.HardwareEncodingEnabled
	if hardwareEncoding && hwAccelType != "" {
		detectCtx, detectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		detected := ffmpegproc.NewHWDetector(cfg.FFmpegPath, logger).Detect(detectCtx)
		detectCancel()
		if !detected[hwAccelType] {
			logger.Warn("configured hwaccel type not supported by local ffmpeg, falling back to software", "hwaccel_type", hwAccelType)
			hardwareEncoding = false
			hwAccelType = ""
		}
	}

	resourceAdvisor := ffmpegproc.NewResourceAdvisor(logger)

	argBuilder := ffmpegproc.ArgBuilder{
		HWAccelType:               hwAccelType,
		AllowedAudioCodecs:        cfg.WebSupportedCodecs,
		PlatformDefaultAudioCodec: "aac",
		SoftwareThreads:           resourceAdvisor.ThreadsPerSession(),
	}

	supDeps := supervisor.Deps{
		Logger:                 logger,
		GridPlanner:            gridPlanner,
		PlaylistBuilder:        playlistBuilder,
		Viewer:                 viewerTracker,
		HWPool:                 hwPool,
		Prober:                 prober,
		PostProcess:            postProcessor,
		ArgBuilder:             argBuilder,
		FFmpegPath:             cfg.FFmpegPath,
		TargetSegmentSeconds:   cfg.HLSSegmentSeconds,
		BaseOutputDir:          cfg.HLSOutputDir,
		HardwareEncoding:       hardwareEncoding,
		PreserveSegments:       cfg.PreserveSegments,
		PreserveFFmpegPlaylist: cfg.PreserveFFmpegPlaylist,
		PauseThreshold:         cfg.PauseThreshold,
		ViewerInactivity:       cfg.ViewerInactivity,
	}
	// Only set Analytics when a store was actually constructed: wrapping
	// a nil *analytics.Store in the interface field would make it
	// compare non-nil and panic on first use.
	if analyticsStore != nil {
		supDeps.Analytics = analyticsStore
	}
	supDeps.StatusHub = hub
	sup := supervisor.New(supDeps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweep := sweeper.New(sup, cfg.ViewerCheckInterval, cfg.ViewerInactivity, logger)
	go sweep.Run(ctx)

	jitEnabled := func() bool { return cfg.JITTranscodingEnabled }
	handler := httpapi.NewHandler(sup, fileSourceResolver{sourceDir: cfg.VideoSourceDir}, catalog.Default(), jitEnabled, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	httpapi.RegisterRoutes(router, handler)
	router.GET("/ws/status", hub.ServeWS)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // segment responses can legitimately take the full WaitForSegment ceiling
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down gracefully")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("starting jitserver", "addr", cfg.ListenAddr, "output_dir", cfg.HLSOutputDir)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("jitserver shutdown complete")
}
