package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Apezdr/hls-prototype-sub001/internal/apperrors"
	"github.com/Apezdr/hls-prototype-sub001/internal/ffmpegproc"
	"github.com/Apezdr/hls-prototype-sub001/internal/grid"
	"github.com/Apezdr/hls-prototype-sub001/internal/ticks"
)

// EnsureSegmentExplicit implements §6's explicit-offset route: rather
// than resuming or restarting a streaming session, it transcodes
// exactly one segment of ActualSegmentLengthTicks starting at
// RuntimeTicks into a dedicated one-shot file, bypassing the session
// table entirely.
func (s *Supervisor) EnsureSegmentExplicit(ctx context.Context, req VariantRequest, offset ExplicitOffset) (string, error) {
	label := s.canonicalLabel(req.VideoID, req.Label)
	req.Label = label

	key := keyOf(req.VideoID, label)
	unlock := s.lockKey(key)
	defer unlock()

	meta, g, err := s.resolveGrid(ctx, req.VideoID, req.SourcePath)
	if err != nil {
		return "", err
	}

	outputDir := s.outputDirFor(req.VideoID, label)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", apperrors.NewIOError("supervisor.ensureSegmentExplicit", err).WithKey(req.VideoID, label)
	}

	ext := grid.Extension(req.Variant.FMP4)
	outputPath := filepath.Join(outputDir, fmt.Sprintf("explicit-%d%s", offset.RuntimeTicks, ext))

	if _, err := os.Stat(outputPath); err == nil {
		return outputPath, nil
	}

	args := s.deps.ArgBuilder.BuildExplicit(ffmpegproc.ExplicitParams{
		SourcePath:       req.SourcePath,
		OutputPath:       outputPath,
		Meta:             meta,
		Variant:          req.Variant,
		StartSeconds:     ticks.ToSeconds(offset.RuntimeTicks),
		DurationSeconds:  ticks.ToSeconds(offset.ActualSegmentLengthTicks),
		GOPFrames:        g.GOPFrames,
		SourceAudioCodec: req.SourceAudioCodec,
	})

	waitCtx, cancel := withWaitTimeout(ctx)
	defer cancel()

	proc, err := ffmpegproc.Start(waitCtx, s.deps.FFmpegPath, args, s.logger)
	if err != nil {
		return "", apperrors.NewSpawnError("supervisor.ensureSegmentExplicit", err).WithKey(req.VideoID, label)
	}

	select {
	case <-proc.Done():
	case <-waitCtx.Done():
		proc.Stop(stopGraceExplicit)
		return "", apperrors.NewTimeout("supervisor.ensureSegmentExplicit")
	}

	if err := proc.Err(); err != nil {
		return "", apperrors.NewTranscodeFailed("supervisor.ensureSegmentExplicit", err).
			WithKey(req.VideoID, label).
			WithDetail("stderr", proc.ErrorMessage())
	}

	if s.deps.PostProcess != nil && ext == ".ts" {
		if err := s.deps.PostProcess.Process(req.VideoID, label, uint32(0), outputPath); err != nil {
			s.logger.Warn("post-process failed for explicit segment", "path", outputPath, "error", err)
		}
	}

	return outputPath, nil
}
