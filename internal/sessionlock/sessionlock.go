// Package sessionlock maintains the on-disk liveness marker
// (session.lock) a session refreshes on start and on every served
// segment. The sweepers decide staleness from the viewer tracker, not
// from this file.
package sessionlock

import (
	"os"
	"path/filepath"
	"time"

	"github.com/Apezdr/hls-prototype-sub001/internal/apperrors"
)

const lockFileName = "session.lock"

// Touch updates outputDir/session.lock's mtime to now, creating it if
// absent; Age reports how long ago that happened.
func Touch(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return apperrors.NewIOError("sessionlock.touch", err)
	}
	path := filepath.Join(outputDir, lockFileName)
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		if !os.IsNotExist(err) {
			return apperrors.NewIOError("sessionlock.touch", err)
		}
		f, ferr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if ferr != nil {
			return apperrors.NewIOError("sessionlock.touch", ferr)
		}
		f.Close()
	}
	return nil
}

// Age returns how long it has been since the lock was last touched. It
// returns ok=false if the lock file does not exist.
func Age(outputDir string) (age time.Duration, ok bool) {
	path := filepath.Join(outputDir, lockFileName)
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return time.Since(info.ModTime()), true
}

// Remove deletes the lock file, if present, so a future Age check
// reports absence rather than a stale timestamp.
func Remove(outputDir string) error {
	path := filepath.Join(outputDir, lockFileName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperrors.NewIOError("sessionlock.remove", err)
	}
	return nil
}
