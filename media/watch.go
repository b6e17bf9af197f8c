package media

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch runs p once, then again every time the input directory settles
// after a change. It returns when ctx is done. Fatal run errors are logged
// and do not stop the watch.
func Watch(ctx context.Context, p *Pipeline, debounce time.Duration, onRun func(*Report, error)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	run := func() {
		rep, err := p.Run(ctx)
		if err != nil && ctx.Err() == nil {
			p.log.Error("optimize run failed", zap.Error(err))
		}
		if onRun != nil {
			onRun(rep, err)
		}
	}

	// The first run creates the input dir when it is missing.
	run()
	if err := fw.Add(p.cfg.InputDir); err != nil {
		return fmt.Errorf("watch %s: %w", p.cfg.InputDir, err)
	}
	p.log.Info("watching for changes", zap.String("dir", p.cfg.InputDir))

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !IsSupported(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			p.log.Debug("change detected", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
			timer.Reset(debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			p.log.Warn("watcher error", zap.Error(err))
		case <-timer.C:
			run()
		}
	}
}
