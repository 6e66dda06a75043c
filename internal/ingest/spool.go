// Package ingest feeds the pipeline from a spool directory: device
// collectors (out of scope here) drop one JSON-encoded telemetry event per
// file, and this service submits them in arrival order. Processed files are
// renamed, not deleted, so a crash mid-batch never loses an event.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"nestwatch/internal/telemetry"
	logx "nestwatch/pkg/logx"
)

const (
	doneSuffix = ".done"
	errSuffix  = ".err"

	// rescanEvery catches files whose fsnotify events were missed.
	rescanEvery = 30 * time.Second
)

// Submitter is the pipeline-facing half of the collector boundary.
type Submitter interface {
	SubmitEvent(ctx context.Context, ev *telemetry.Event) error
}

type Service struct {
	dir string
	sub Submitter
	log logx.Logger
}

func New(dir string, sub Submitter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{dir: dir, sub: sub, log: log}
}

// Run blocks until ctx is done, watching the spool directory and submitting
// every *.json file it finds. Intended to run under the supervisor's
// restart wrapper.
func (s *Service) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watch spool dir: %w", err)
	}

	// Catch up on whatever was dropped while we were down.
	s.scan(ctx)

	ticker := time.NewTicker(rescanEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
			s.scan(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("spool watcher closed")
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !isSpoolFile(ev.Name) {
				continue
			}
			s.processFile(ctx, ev.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("spool watcher closed")
			}
			if err != nil {
				s.log.Warn("spool watch error", logx.Err(err))
			}
		}
	}
}

// scan submits all pending spool files, oldest first by name (collectors
// use sortable timestamped names).
func (s *Service) scan(ctx context.Context) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("spool scan failed", logx.Err(err))
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isSpoolFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		s.processFile(ctx, filepath.Join(s.dir, name))
	}
}

// processFile decodes and submits one spool file, then renames it aside.
// Undecodable files go to .err so they don't wedge the scan loop.
func (s *Service) processFile(ctx context.Context, path string) {
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("spool read failed", logx.String("file", path), logx.Err(err))
		}
		return
	}

	var ev telemetry.Event
	if err := json.Unmarshal(b, &ev); err != nil {
		s.log.Warn("spool file is not a telemetry event",
			logx.String("file", filepath.Base(path)), logx.Err(err))
		s.setAside(path, errSuffix)
		return
	}
	if err := ev.Validate(); err != nil {
		s.log.Warn("spool event invalid",
			logx.String("file", filepath.Base(path)), logx.Err(err))
		s.setAside(path, errSuffix)
		return
	}

	if err := s.sub.SubmitEvent(ctx, &ev); err != nil {
		// Persistence failures keep the file in place for the next scan.
		s.log.Error("event submission failed; will retry on next scan",
			logx.String("file", filepath.Base(path)), logx.Err(err))
		return
	}
	s.setAside(path, doneSuffix)
}

func (s *Service) setAside(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil && !os.IsNotExist(err) {
		s.log.Warn("spool rename failed", logx.String("file", path), logx.Err(err))
	}
}

func isSpoolFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".json")
}
