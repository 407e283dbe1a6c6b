package ffmpegproc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgressLine(t *testing.T) {
	line := "frame=  150 fps= 25 q=28.0 size=     512kB time=00:00:06.00 bitrate= 698.0kbits/s speed=1.2x"
	prog, ok := parseProgress(line)
	require.True(t, ok)
	assert.Equal(t, int64(150), prog.Frame)
	assert.InDelta(t, 6.0, prog.Seconds, 0.001)
}

func TestParseProgressIgnoresUnrelatedLines(t *testing.T) {
	_, ok := parseProgress("Stream #0:0: Video: h264, yuv420p, 1920x1080")
	assert.False(t, ok)
}

func TestStartAndStopTrueProcess(t *testing.T) {
	// sleep is present on every POSIX system the tests run on; this
	// exercises spawn/stderr-consumption/Stop without depending on ffmpeg.
	proc, err := Start(context.Background(), "sh", []string{"-c", "echo frame=1 time=00:00:01.00 1>&2; sleep 5"}, nil)
	require.NoError(t, err)

	proc.Stop(200 * time.Millisecond)
	select {
	case <-proc.Done():
	case <-time.After(time.Second):
		t.Fatal("process did not exit after Stop")
	}
}

func TestErrorMessageAccumulatesMatchingLines(t *testing.T) {
	proc := &Process{}
	proc.recordLine("Stream mapping:")
	for _, line := range []string{"Error while opening decoder", "Unsupported codec id", "frame= 10"} {
		proc.recordLine(line)
		if errorKeywordsRe.MatchString(line) {
			proc.mu.Lock()
			proc.errorLines = append(proc.errorLines, line)
			proc.mu.Unlock()
		}
	}
	msg := proc.ErrorMessage()
	assert.Contains(t, msg, "Error while opening decoder")
	assert.Contains(t, msg, "Unsupported codec id")
	assert.NotContains(t, msg, "Stream mapping")
}

func TestStderrTailCappedByByteSize(t *testing.T) {
	proc := &Process{ring: nil}
	line := strings.Repeat("x", 100)
	lines := (stderrRingBytes / (len(line) + 1)) + 10
	for i := 0; i < lines; i++ {
		proc.recordLine(line)
	}

	tail := proc.StderrTail()
	assert.Less(t, len(tail), lines)

	total := 0
	for _, l := range tail {
		total += len(l) + 1
	}
	assert.LessOrEqual(t, total, stderrRingBytes)
}

func TestStderrTailCapsEvenWithOneOversizedLine(t *testing.T) {
	proc := &Process{ring: nil}
	proc.recordLine(strings.Repeat("y", stderrRingBytes*2))
	proc.recordLine("short")

	tail := proc.StderrTail()
	require.Len(t, tail, 1)
	assert.Equal(t, "short", tail[0])
}
