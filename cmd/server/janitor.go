package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"audiofetch/internal/credentials"
)

type sweepTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) sweepTicker

// janitor removes staged cookie files and per-request download directories
// that outlived a crashed or killed request.
type janitor struct {
	logger      *slog.Logger
	stagingDir  string
	downloadDir string
	interval    time.Duration
	maxAge      time.Duration
	now         func() time.Time
	newTicker   tickerFactory
}

func newJanitor(logger *slog.Logger, stagingDir, downloadDir string, interval, maxAge time.Duration) *janitor {
	return &janitor{
		logger:      logger,
		stagingDir:  stagingDir,
		downloadDir: downloadDir,
		interval:    interval,
		maxAge:      maxAge,
		now:         time.Now,
		newTicker: func(d time.Duration) sweepTicker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
	}
}

// Run sweeps once immediately, then on every tick until ctx is done.
func (j *janitor) Run(ctx context.Context) error {
	j.sweep()
	if j.interval <= 0 {
		return nil
	}
	ticker := j.newTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			j.sweep()
		}
	}
}

func (j *janitor) sweep() int {
	cutoff := j.now().Add(-j.maxAge)
	removed := j.sweepDir(j.stagingDir, cutoff, func(entry fs.DirEntry) bool {
		return !entry.IsDir() && strings.HasPrefix(entry.Name(), credentials.FilePrefix)
	})
	removed += j.sweepDir(j.downloadDir, cutoff, func(entry fs.DirEntry) bool {
		return entry.IsDir()
	})
	if removed > 0 {
		j.logger.Info("removed stale download artifacts", "count", removed)
	}
	return removed
}

func (j *janitor) sweepDir(dir string, cutoff time.Time, match func(fs.DirEntry) bool) int {
	if dir == "" {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			j.logger.Warn("failed to list directory", "dir", dir, "error", err)
		}
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if !match(entry) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("failed to remove stale artifact", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed
}
