// Package watch reports package artifacts that drift from the manifest while
// the package directory is being worked on.
package watch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/forPelevin/sessionscribe/internal/domain/pack"
)

type Report struct {
	At    time.Time
	Stale []pack.Stale
	// Err is set when package.json itself cannot be read.
	Err error
}

type Watcher struct {
	root     string
	log      *slog.Logger
	debounce time.Duration
}

func New(root string, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Watcher{root: root, log: log, debounce: 250 * time.Millisecond}
}

// Run reports once on start and again after every burst of file changes
// until ctx is done.
func (w *Watcher) Run(ctx context.Context, report func(Report)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	slidesDir := filepath.Join(w.root, "slides")
	if info, err := os.Stat(slidesDir); err == nil && info.IsDir() {
		if err := fw.Add(slidesDir); err != nil {
			return fmt.Errorf("watch %s: %w", slidesDir, err)
		}
	}
	w.log.Info("watching package", "dir", w.root)

	report(w.check())

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
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ignored(ev) {
				continue
			}
			if ev.Has(fsnotify.Create) && ev.Name == slidesDir {
				if err := fw.Add(slidesDir); err != nil {
					w.log.Error("failed to watch slides directory", "error", err)
				}
			}
			w.log.Debug("package file changed", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			report(w.check())

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) check() Report {
	r := Report{At: time.Now()}
	pkg, err := pack.Read(w.root)
	if err != nil {
		r.Err = err
		return r
	}
	r.Stale = pack.Verify(pkg, w.root)
	return r
}

// ignored skips attribute-only changes and the temporary files Export renames into place.
func ignored(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return true
	}
	base := filepath.Base(ev.Name)
	return strings.HasPrefix(base, ".package-") || strings.HasSuffix(base, ".tmp")
}
