package ffmpegproc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/Apezdr/hls-prototype-sub001/internal/apperrors"
)

// stderrRingBytes bounds how much of ffmpeg's stderr we keep for
// diagnostics on failure by cumulative byte size rather than line
// count, so one pathologically long line can't balloon retained
// memory the way a fixed entry count would; ffmpeg is chatty and the
// tail is what matters.
const stderrRingBytes = 64 * 1024

var progressLineRe = regexp.MustCompile(`frame=\s*(\d+).*?time=(\d{2}):(\d{2}):(\d{2})\.(\d+)`)

// errorKeywordsRe flags stderr lines worth surfacing in a session's
// errorMessage even while the process is still running.
var errorKeywordsRe = regexp.MustCompile(`(?i)error|invalid|failed|cannot|unsupported`)

// Progress is the most recently observed encoder position.
type Progress struct {
	Frame   int64
	Seconds float64
}

// Process wraps a running ffmpeg child: its stderr ring buffer for
// postmortem diagnostics, a best-effort progress feed parsed from that
// same stream, and graceful shutdown.
type Process struct {
	cmd    *exec.Cmd
	logger hclog.Logger

	mu         sync.Mutex
	ring       []string
	ringBytes  int
	progress   Progress
	errorLines []string

	done     chan struct{}
	waitErr  error
}

// Start spawns binPath with args and begins consuming its stderr.
func Start(ctx context.Context, binPath string, args []string, logger hclog.Logger) (*Process, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	cmd := exec.CommandContext(ctx, binPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, apperrors.NewSpawnError("ffmpegproc.start", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, apperrors.NewSpawnError("ffmpegproc.start", err)
	}

	p := &Process{
		cmd:    cmd,
		logger: logger.Named("ffmpeg-process"),
		done:   make(chan struct{}),
	}

	go p.consumeStderr(stderr)
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

func (p *Process) consumeStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		p.recordLine(line)
		if prog, ok := parseProgress(line); ok {
			p.mu.Lock()
			p.progress = prog
			p.mu.Unlock()
		}
		if errorKeywordsRe.MatchString(line) {
			p.mu.Lock()
			p.errorLines = append(p.errorLines, line)
			p.mu.Unlock()
		}
	}
}

// recordLine appends line to the ring, then trims from the front until
// the cumulative byte size (line content plus one newline per entry)
// is back within stderrRingBytes.
func (p *Process) recordLine(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ring = append(p.ring, line)
	p.ringBytes += len(line) + 1
	for p.ringBytes > stderrRingBytes && len(p.ring) > 0 {
		p.ringBytes -= len(p.ring[0]) + 1
		p.ring = p.ring[1:]
	}
}

// parseProgress extracts frame/time fields from one ffmpeg stderr
// progress line, e.g. "frame=  120 fps=30 ... time=00:00:04.00 ...".
func parseProgress(line string) (Progress, bool) {
	m := progressLineRe.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	frame, _ := strconv.ParseInt(m[1], 10, 64)
	hh, _ := strconv.Atoi(m[2])
	mm, _ := strconv.Atoi(m[3])
	ss, _ := strconv.Atoi(m[4])
	frac, _ := strconv.ParseFloat("0."+m[5], 64)
	seconds := float64(hh*3600+mm*60+ss) + frac
	return Progress{Frame: frame, Seconds: seconds}, true
}

// ErrorMessage returns the accumulated stderr lines that matched the
// error-keyword heuristic, newline-joined.
func (p *Process) ErrorMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.errorLines, "\n")
}

// LastProgress returns the most recently observed encoder position.
func (p *Process) LastProgress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// StderrTail returns the last lines of stderr seen, most useful after
// the process has exited nonzero.
func (p *Process) StderrTail() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.ring))
	copy(out, p.ring)
	return out
}

// Done returns a channel closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns the process's exit error, valid only after Done is closed.
func (p *Process) Err() error { return p.waitErr }

// Stop asks the child to exit gracefully (SIGTERM), escalating to
// SIGKILL if it hasn't exited within the grace period.
func (p *Process) Stop(grace time.Duration) {
	if p.cmd.Process == nil {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
		return
	case <-time.After(grace):
	}
	_ = p.cmd.Process.Kill()
	<-p.done
}

// Classify maps a nonzero exit into a classified apperrors.Error: the
// keyword-filtered stderr lines when any matched the error heuristic,
// falling back to the raw exit error, with the full stderr tail
// attached as a diagnostic detail either way.
func (p *Process) Classify(op string) *apperrors.Error {
	if p.waitErr == nil {
		return nil
	}
	msg := p.ErrorMessage()
	if msg == "" {
		msg = p.waitErr.Error()
	}
	tail := strings.Join(p.StderrTail(), "\n")
	return apperrors.NewTranscodeFailed(op, fmt.Errorf("%s", msg)).WithDetail("stderr_tail", tail)
}
