package grid

import (
	"fmt"
	"math"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/Apezdr/hls-prototype-sub001/internal/apperrors"
	"github.com/Apezdr/hls-prototype-sub001/internal/ticks"
)

const (
	defaultAACFrameSize = 1024
	defaultSampleRate   = 48000
	maxContinuedFractionTerms = 20
	maxConvergentDenominator  = 10000
	maxGOPMultiple            = 10

	defaultDurationSeconds = 7200.0
	maxDurationSeconds     = 86400.0
)

// Planner computes and caches grids, one writer many readers per
// videoID, via a compute-once-broadcast single-flight gate (spec.md §9
// "Grid caching").
type Planner struct {
	logger hclog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	done chan struct{}
	grid *Grid
	err  error
}

// NewPlanner creates a Planner.
func NewPlanner(logger hclog.Logger) *Planner {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Planner{
		logger:  logger.Named("grid-planner"),
		entries: make(map[string]*entry),
	}
}

// Plan computes (or returns the cached) Grid for videoID. Identical
// inputs are idempotent and deterministic; concurrent callers for the
// same videoID block on the single in-flight computation rather than
// racing.
func (p *Planner) Plan(videoID string, meta MediaMeta, targetSeconds float64) (*Grid, error) {
	p.mu.Lock()
	if e, ok := p.entries[videoID]; ok {
		p.mu.Unlock()
		<-e.done
		return e.grid, e.err
	}
	e := &entry{done: make(chan struct{})}
	p.entries[videoID] = e
	p.mu.Unlock()

	e.grid, e.err = computeGrid(videoID, meta, targetSeconds)
	close(e.done)

	if e.err != nil {
		p.logger.Error("grid computation failed", "video_id", videoID, "error", e.err)
		// Don't poison the cache on failure: a later retry (e.g. once
		// probing succeeds) should get a fresh attempt.
		p.mu.Lock()
		delete(p.entries, videoID)
		p.mu.Unlock()
	}
	return e.grid, e.err
}

// Invalidate drops a cached grid, forcing recomputation on next Plan.
func (p *Planner) Invalidate(videoID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, videoID)
}

// computeGrid is the pure function described in spec.md §4.1.
func computeGrid(videoID string, meta MediaMeta, targetSeconds float64) (*Grid, error) {
	fps := meta.VideoFPS
	if fps <= 0 {
		return nil, apperrors.NewProbeError("grid.plan", fmt.Errorf("video fps unknown for %s", videoID))
	}
	sampleRate := meta.AudioSampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}
	aacFrameSize := meta.AACFrameSize
	if aacFrameSize == 0 {
		aacFrameSize = defaultAACFrameSize
	}

	videoFrameDur := 1.0 / fps
	audioFrameDur := float64(aacFrameSize) / float64(sampleRate)

	gopFrames, approximate := searchGOPFrames(audioFrameDur, videoFrameDur, fps, targetSeconds)
	segSec := float64(gopFrames) / fps

	duration := meta.DurationSeconds
	if duration <= 0 {
		duration = defaultDurationSeconds
	}
	if duration > maxDurationSeconds {
		duration = maxDurationSeconds
	}

	totalTicks := ticks.FromSeconds(duration)
	segTicks := ticks.FromSeconds(segSec)
	if segTicks <= 0 {
		return nil, apperrors.NewProbeError("grid.plan", fmt.Errorf("computed non-positive segment duration for %s", videoID))
	}

	numSegments := int(math.Ceil(duration / segSec))
	if numSegments < 1 {
		numSegments = 1
	}

	segments := make([]SegmentDescriptor, 0, numSegments)
	var start int64
	for i := 0; i < numSegments; i++ {
		dur := segTicks
		if i == numSegments-1 {
			dur = totalTicks - start
		}
		segments = append(segments, SegmentDescriptor{
			Index:         uint32(i),
			StartTicks:    start,
			DurationTicks: dur,
		})
		start += dur
	}

	return &Grid{
		VideoID:              videoID,
		TargetSegmentSeconds: targetSeconds,
		GOPFrames:            gopFrames,
		Segments:             segments,
		VideoFPS:             fps,
		AudioSampleRate:      sampleRate,
		Approximate:          approximate,
	}, nil
}

// convergent is one term of a continued-fraction expansion:
// audioFrames/videoFrames approximating audioFrameDur/videoFrameDur.
type convergent struct {
	audioFrames int64
	videoFrames int64
}

// searchGOPFrames implements the convergent+multiple search of
// spec.md §4.1. It falls back to ceil(targetSeconds*fps) when no
// (convergent, multiple) pair satisfies the 1.5x ceiling.
func searchGOPFrames(audioFrameDur, videoFrameDur, fps, targetSeconds float64) (uint32, bool) {
	x := audioFrameDur / videoFrameDur
	convergents := continuedFractionConvergents(x, maxContinuedFractionTerms, maxConvergentDenominator)

	bestDiff := math.Inf(1)
	var bestGOP uint32
	found := false

	ceiling := 1.5 * targetSeconds
	for _, c := range convergents {
		if c.videoFrames <= 0 {
			continue
		}
		for m := int64(1); m <= maxGOPMultiple; m++ {
			candidateSeconds := float64(m*c.videoFrames) / fps
			if candidateSeconds > ceiling {
				break // candidateSeconds grows monotonically with m
			}
			diff := math.Abs(candidateSeconds - targetSeconds)
			if diff < bestDiff {
				bestDiff = diff
				bestGOP = uint32(m * c.videoFrames)
				found = true
			}
		}
	}

	if !found {
		return uint32(math.Ceil(targetSeconds * fps)), true
	}
	return bestGOP, false
}

// continuedFractionConvergents expands x via the standard continued
// fraction recurrence (h_k = a_k*h_{k-1}+h_{k-2}, same for k) up to
// maxTerms terms, keeping convergents whose denominator does not
// exceed maxDenominator.
func continuedFractionConvergents(x float64, maxTerms, maxDenominator int) []convergent {
	var out []convergent
	if x <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return out
	}

	// h_-2=0,h_-1=1 ; k_-2=1,k_-1=0 — standard convergent recurrence seed.
	hPrev2, hPrev1 := int64(0), int64(1)
	kPrev2, kPrev1 := int64(1), int64(0)

	remainder := x
	for term := 0; term < maxTerms; term++ {
		a := int64(math.Floor(remainder))
		h := a*hPrev1 + hPrev2
		k := a*kPrev1 + kPrev2

		if k > int64(maxDenominator) || k <= 0 {
			break
		}
		out = append(out, convergent{audioFrames: h, videoFrames: k})

		hPrev2, hPrev1 = hPrev1, h
		kPrev2, kPrev1 = kPrev1, k

		frac := remainder - float64(a)
		if frac < 1e-12 {
			break // exact rational, expansion terminates
		}
		remainder = 1.0 / frac
	}
	return out
}
