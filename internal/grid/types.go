// Package grid computes the deterministic, GOP-aligned segment grid a
// video's sessions and playlists are built from.
package grid

import "github.com/Apezdr/hls-prototype-sub001/internal/ticks"

// SegmentDescriptor describes one segment's position in the grid.
type SegmentDescriptor struct {
	Index         uint32
	StartTicks    int64
	DurationTicks int64
}

// DurationSeconds returns the segment's duration in seconds.
func (s SegmentDescriptor) DurationSeconds() float64 {
	return ticks.ToSeconds(s.DurationTicks)
}

// EndTicks returns the tick immediately after the segment ends.
func (s SegmentDescriptor) EndTicks() int64 {
	return s.StartTicks + s.DurationTicks
}

// Grid is the immutable, per-video segment layout. Once computed it is
// cached and never mutated; see Planner.
type Grid struct {
	VideoID              string
	TargetSegmentSeconds  float64
	GOPFrames             uint32
	Segments              []SegmentDescriptor
	VideoFPS              float64
	AudioSampleRate       uint32
	Approximate           bool // true when no aligned GOP/audio-frame pair was found
}

// SegmentSeconds returns the nominal (non-final) segment duration.
func (g *Grid) SegmentSeconds() float64 {
	if len(g.Segments) == 0 {
		return 0
	}
	return g.Segments[0].DurationSeconds()
}

// MaxSegmentSeconds returns the largest per-segment duration in the
// grid, used for #EXT-X-TARGETDURATION.
func (g *Grid) MaxSegmentSeconds() float64 {
	max := 0.0
	for _, s := range g.Segments {
		if d := s.DurationSeconds(); d > max {
			max = d
		}
	}
	return max
}

// SegmentIndexAt returns the index of the segment containing the given
// offset in seconds, using the grid's actual boundaries rather than a
// fixed divisor (segments may vary, with only the last one usually
// shorter). Offsets past the end clamp to the last segment's index+1
// (one past the grid), mirroring how a transcoder beyond EOF behaves.
func (g *Grid) SegmentIndexAt(seconds float64) int {
	t := ticks.FromSeconds(seconds)
	if len(g.Segments) == 0 {
		return 0
	}
	lo, hi := 0, len(g.Segments)-1
	if t < g.Segments[0].StartTicks {
		return 0
	}
	if t >= g.Segments[hi].EndTicks() {
		return hi + 1
	}
	for lo <= hi {
		mid := (lo + hi) / 2
		seg := g.Segments[mid]
		if t < seg.StartTicks {
			hi = mid - 1
		} else if t >= seg.EndTicks() {
			lo = mid + 1
		} else {
			return mid
		}
	}
	return lo
}

// MediaMeta is the subset of MediaProbe's output the grid, the
// sessions, and the playlist builder need. MediaProbe itself (codec
// selection, full stream enumeration) is an external collaborator per
// spec.md §1; this is the contract it must satisfy.
type MediaMeta struct {
	DurationSeconds float64 // 0/unknown triggers the spec's default/clamp rules
	VideoFPS        float64
	AudioSampleRate uint32
	AACFrameSize    uint32 // defaults to 1024 when zero

	VideoCodec string
	AudioCodec string
	Width      int
	Height     int

	IsHDR         bool
	ColorTransfer string // e.g. "smpte2084" (PQ), "arib-std-b67" (HLG), else SDR
	Is10Bit       bool
	Profile       string
	Level         string
}

// VideoRange derives the #EXT-X-VIDEO-RANGE value from color metadata.
func (m MediaMeta) VideoRange() string {
	switch m.ColorTransfer {
	case "smpte2084", "smpte-st-2084":
		return "PQ"
	case "arib-std-b67":
		return "HLG"
	default:
		return "SDR"
	}
}

// Extension returns the on-disk segment extension for this grid's
// codec strategy. Callers pass whether the variant uses fragmented MP4
// (e.g. HEVC); GridPlanner itself is extension-agnostic.
func Extension(fmp4 bool) string {
	if fmp4 {
		return ".m4s"
	}
	return ".ts"
}
