// Package postprocess implements the optional continuity-counter
// healer of spec.md §4.9: a best-effort MPEG-TS rewriter invoked after
// a segment is declared ready, smoothing the continuity-counter jump a
// restart-induced encoder reset leaves at segment boundaries.
//
// Parsing is hand-rolled 188-byte packet walking rather than a
// wrapping of a full demux library: the supervisor only ever touches
// four bits per packet (the continuity counter), and the PID/PAT/PMT
// bit layout is fixed by the MPEG-TS spec, the same ground truth a
// full demuxer would use internally.
package postprocess

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"
)

const packetSize = 188
const syncByte = 0x47

// defaultPMTPID matches ffmpeg's mpegts muxer default
// (mpegts_pmt_start_pid=0x1000), used when a segment's own PAT can't
// be located (e.g. a continuation segment with no PAT repeated in it).
const defaultPMTPID = 0x1000

// Rewriter tracks, per (videoId, label), the final continuity-counter
// value observed per PID in the most recently processed segment.
type Rewriter struct {
	logger hclog.Logger

	mu    sync.Mutex
	state map[string]map[uint16]uint8
}

// NewRewriter creates an empty Rewriter.
func NewRewriter(logger hclog.Logger) *Rewriter {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Rewriter{
		logger: logger.Named("postprocess"),
		state:  make(map[string]map[uint16]uint8),
	}
}

func stateKey(videoID, label string) string { return videoID + "/" + label }

// Process implements the session.PostProcessor contract. It never
// returns an error that should abort the caller's happy path per
// §4.9's "failure must never propagate past the PostProcessor
// boundary" rule; callers log the returned error and move on.
func (r *Rewriter) Process(videoID, label string, segmentIndex uint32, path string) error {
	if filepath.Ext(path) == ".m4s" {
		// processTsSegment is explicitly skipped on fMP4 segments.
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("postprocess: reading %s: %w", path, err)
	}
	if len(data) == 0 || len(data)%packetSize != 0 {
		return fmt.Errorf("postprocess: %s is not a whole number of %d-byte packets", path, packetSize)
	}

	k := stateKey(videoID, label)

	r.mu.Lock()
	prior, known := r.state[k]
	r.mu.Unlock()

	if segmentIndex == 0 || !known {
		final := extractFinalCC(data)
		r.mu.Lock()
		r.state[k] = final
		r.mu.Unlock()
		return nil
	}

	rewritten, newFinal, changed := rewriteSegment(data, prior)
	if changed {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, rewritten, 0o644); err != nil {
			return fmt.Errorf("postprocess: writing %s: %w", tmp, err)
		}
		if err := os.Rename(tmp, path); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("postprocess: replacing %s: %w", path, err)
		}
	}

	r.mu.Lock()
	merged := r.state[k]
	if merged == nil {
		merged = make(map[uint16]uint8)
	}
	for pid, cc := range newFinal {
		merged[pid] = cc
	}
	r.state[k] = merged
	r.mu.Unlock()

	return nil
}

// Forget drops stored PID state for (videoId, label), e.g. after a
// session restart whose new child's PID numbering cannot be assumed to
// line up with the old one's.
func (r *Rewriter) Forget(videoID, label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state, stateKey(videoID, label))
}

func pidOf(pkt []byte) uint16 {
	return (uint16(pkt[1]&0x1F) << 8) | uint16(pkt[2])
}

func ccOf(pkt []byte) uint8 {
	return pkt[3] & 0x0F
}

func setCC(pkt []byte, cc uint8) {
	pkt[3] = (pkt[3] & 0xF0) | (cc & 0x0F)
}

// payloadStart returns the offset of the payload within pkt, or -1 if
// the packet carries no payload (adaptation-field-only).
func payloadStart(pkt []byte) int {
	afc := (pkt[3] >> 4) & 0x3
	switch afc {
	case 0x1: // payload only
		return 4
	case 0x3: // adaptation field then payload
		adaptLen := int(pkt[4])
		start := 5 + adaptLen
		if start >= packetSize {
			return -1
		}
		return start
	default: // 0x0 reserved, 0x2 adaptation-field-only
		return -1
	}
}

// findPMTPID scans for this segment's own PAT to locate the program's
// PMT PID; falls back to ffmpeg's default PMT PID when no PAT is
// present, which is the common case for every segment after the
// first.
func findPMTPID(data []byte) uint16 {
	for i := 0; i+packetSize <= len(data); i += packetSize {
		pkt := data[i : i+packetSize]
		if pkt[0] != syncByte || pidOf(pkt) != 0 {
			continue
		}
		pusi := pkt[1]&0x40 != 0
		if !pusi {
			continue
		}
		start := payloadStart(pkt)
		if start < 0 || start >= len(pkt) {
			continue
		}
		payload := pkt[start:]
		if len(payload) < 1 {
			continue
		}
		pointer := int(payload[0])
		section := payload[1:]
		if pointer >= len(section) {
			continue
		}
		section = section[pointer:]
		if len(section) < 12 {
			continue
		}
		return (uint16(section[10]&0x1F) << 8) | uint16(section[11])
	}
	return defaultPMTPID
}

// extractFinalCC walks every packet in order and records the last
// continuity-counter value observed per PID, used to seed state on the
// first segment of a session.
func extractFinalCC(data []byte) map[uint16]uint8 {
	final := make(map[uint16]uint8)
	pmtPID := findPMTPID(data)
	for i := 0; i+packetSize <= len(data); i += packetSize {
		pkt := data[i : i+packetSize]
		if pkt[0] != syncByte {
			continue
		}
		pid := pidOf(pkt)
		if pid == 0 || pid == pmtPID {
			continue
		}
		final[pid] = ccOf(pkt)
	}
	return final
}

// rewriteSegment applies the §4.9 step-2 CC-healing formula to every
// packet whose PID has stored prior state, leaving PAT/PMT and
// never-before-seen PIDs untouched. It returns the rewritten bytes,
// the updated per-PID final CC map, and whether anything changed.
func rewriteSegment(data []byte, previousFinalCC map[uint16]uint8) ([]byte, map[uint16]uint8, bool) {
	out := make([]byte, len(data))
	copy(out, data)

	pmtPID := findPMTPID(data)
	firstCCInSegment := make(map[uint16]uint8)
	newFinal := make(map[uint16]uint8)
	changed := false

	for i := 0; i+packetSize <= len(out); i += packetSize {
		pkt := out[i : i+packetSize]
		if pkt[0] != syncByte {
			continue
		}
		pid := pidOf(pkt)
		if pid == 0 || pid == pmtPID {
			continue
		}

		cc := ccOf(pkt)
		prev, hasPrev := previousFinalCC[pid]
		if !hasPrev {
			// No healing reference for this PID yet; leave it be but
			// still track it so future segments can heal against it.
			newFinal[pid] = cc
			continue
		}

		first, seen := firstCCInSegment[pid]
		if !seen {
			firstCCInSegment[pid] = cc
			first = cc
		}
		diff := (int(cc) - int(first) + 16) % 16
		newCC := uint8((int(prev) + 1 + diff) % 16)
		if newCC != cc {
			setCC(pkt, newCC)
			changed = true
		}
		newFinal[pid] = newCC
	}

	return out, newFinal, changed
}
