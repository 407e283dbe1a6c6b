// Package viewer tracks last-access and last-requested-segment per
// (videoId, label), consulted by the supervisor and its sweepers.
package viewer

import (
	"sync"
	"time"
)

// hasSkippedAheadTolerance backs hasSkippedAhead (§4.7); kept private
// since it is internal-use-only per spec.
const hasSkippedAheadTolerance = 3

// Viewer is one (videoId, label)'s last-seen activity.
type Viewer struct {
	LastAccessAtMs       int64
	LastRequestedSegment uint32
}

// Tracker is the supervisor-owned viewer table.
type Tracker struct {
	mu    sync.Mutex
	table map[string]*Viewer
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{table: make(map[string]*Viewer)}
}

func key(videoID, label string) string { return videoID + "/" + label }

// Update records a request for (videoId, label) at segment, setting
// lastAccessAtMs to now.
func (t *Tracker) Update(videoID, label string, segment uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.table[key(videoID, label)] = &Viewer{
		LastAccessAtMs:       time.Now().UnixMilli(),
		LastRequestedSegment: segment,
	}
}

// Get returns the Viewer for (videoId, label), if any.
func (t *Tracker) Get(videoID, label string) (Viewer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.table[key(videoID, label)]
	if !ok {
		return Viewer{}, false
	}
	return *v, true
}

// Remove drops the viewer entry for (videoId, label).
func (t *Tracker) Remove(videoID, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.table, key(videoID, label))
}

// Entry pairs a (videoId, label) key with its Viewer, for sweepers
// that need to range over the whole table.
type Entry struct {
	VideoID string
	Label   string
	Viewer  Viewer
}

// Snapshot returns a point-in-time copy of every tracked entry.
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.table))
	for k, v := range t.table {
		videoID, label := splitKey(k)
		out = append(out, Entry{VideoID: videoID, Label: label, Viewer: *v})
	}
	return out
}

func splitKey(k string) (string, string) {
	for i := len(k) - 1; i >= 0; i-- {
		if k[i] == '/' {
			return k[:i], k[i+1:]
		}
	}
	return k, ""
}

// hasSkippedAhead reports whether requested jumps far enough past the
// viewer's last requested segment to count as a skip, internal-use
// only per §4.7 (not part of the public contract).
func hasSkippedAhead(v Viewer, requested uint32) bool {
	return int64(requested)-int64(v.LastRequestedSegment) > hasSkippedAheadTolerance
}
