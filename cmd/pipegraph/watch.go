package main

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
	"github.com/ravi-parthasarathy/pipegraph/pkg/resource"
)

const watchDebounce = 100 * time.Millisecond

// watchAndRun re-runs g for every file written or created under input until
// ctx is cancelled. New directories are watched as they appear.
func watchAndRun(ctx context.Context, eng *pipeline.Engine, g *pipeline.Graph, fsys *resource.FS, input string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Join(fsys.Root(), filepath.FromSlash(input))
	if err := watchTree(w, dir); err != nil {
		return err
	}
	slog.Info("watching for changes", "dir", dir)

	dispatchEvents(ctx, w.Events, w.Errors, watchDebounce, func(path string) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := watchTree(w, path); err != nil {
				slog.Warn("watch directory", "dir", path, "error", err)
			}
		}
		rel, err := filepath.Rel(fsys.Root(), path)
		if err != nil {
			return
		}
		loc := filepath.ToSlash(rel)
		slog.Info("change detected", "path", loc)
		if _, err := eng.Run(ctx, g, loc); err != nil {
			slog.Error("re-run failed", "path", loc, "error", err)
		}
	})
	return nil
}

// watchTree adds dir and every directory below it to w.
func watchTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

// dispatchEvents collects write and create events and calls fn once per
// changed path after debounce has passed without further events. Pending
// paths are flushed in sorted order. It returns when ctx is done or events is
// closed; paths still pending when events closes are flushed first.
func dispatchEvents(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, debounce time.Duration, fn func(path string)) {
	pending := map[string]bool{}
	flush := func() {
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		slices.Sort(paths)
		clear(pending)
		for _, p := range paths {
			fn(p)
		}
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				flush()
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			pending[filepath.Clean(event.Name)] = true
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			flush()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}
