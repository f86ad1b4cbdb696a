package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/demo/eksdemo/internal/config"
	pkglog "github.com/demo/eksdemo/pkg/log"
)

// configWatcher reloads one config file after its writes settle.
type configWatcher struct {
	path   string
	opts   []config.Option
	fs     *fsnotify.Watcher
	settle time.Duration
	logger pkglog.Logger
}

// newConfigWatcher watches the directory holding path, since editors often
// replace the file rather than write it in place.
func newConfigWatcher(path string, opts []config.Option, logger pkglog.Logger) (*configWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		fs.Close()
		return nil, err
	}
	return &configWatcher{path: abs, opts: opts, fs: fs, settle: 200 * time.Millisecond, logger: logger}, nil
}

func (w *configWatcher) Close() error {
	return w.fs.Close()
}

// Watch emits every config that loads cleanly after a change. Configs that
// fail to load are logged and skipped. The channel closes when ctx ends or the
// watcher is closed.
func (w *configWatcher) Watch(ctx context.Context) <-chan config.Config {
	out := make(chan config.Config)
	go func() {
		defer close(out)
		timer := time.NewTimer(w.settle)
		timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.fs.Events:
				if !ok {
					return
				}
				if !w.concerns(ev) {
					continue
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.settle)
			case err, ok := <-w.fs.Errors:
				if !ok {
					return
				}
				w.logger.Warnw("config watch error", "path", w.path, "error", err)
			case <-timer.C:
				cfg, err := config.Load(w.opts...)
				if err != nil {
					w.logger.Warnw("config change ignored", "path", w.path, "error", err)
					continue
				}
				select {
				case out <- cfg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (w *configWatcher) concerns(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	return err == nil && abs == w.path
}
