// Package refresh invalidates the schedule cache on a cron schedule and
// when the schedule file is edited outside the process.
package refresh

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	appLog "cohortcal/internal/log"
)

// DefaultDebounce coalesces bursts of file events (editors and atomic
// renames emit several) into a single reload.
const DefaultDebounce = 500 * time.Millisecond

// Reloader is implemented by the service.
type Reloader interface {
	Reload()
}

// Options configures a Refresher. An empty CronSpec disables the periodic
// reload; an empty WatchPath disables the file watcher.
type Options struct {
	CronSpec  string
	WatchPath string
	Debounce  time.Duration
}

// Refresher runs the periodic and file-driven reloads.
type Refresher struct {
	target Reloader
	opts   Options

	cron *cron.Cron

	mu       sync.Mutex
	debounce *time.Timer
	done     chan struct{}
	wg       sync.WaitGroup
}

// New builds a Refresher for target.
func New(target Reloader, opts Options) *Refresher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Refresher{target: target, opts: opts, done: make(chan struct{})}
}

// ValidateSpec reports whether spec is a valid five-field cron expression.
func ValidateSpec(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid refresh cron %q: %w", spec, err)
	}
	return nil
}

// Start launches the cron scheduler and file watcher. Both stop when ctx
// is canceled or Stop is called.
func (r *Refresher) Start(ctx context.Context) error {
	if r.opts.CronSpec != "" {
		c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
		if _, err := c.AddFunc(r.opts.CronSpec, r.reload("cron")); err != nil {
			return fmt.Errorf("invalid refresh cron %q: %w", r.opts.CronSpec, err)
		}
		c.Start()
		r.cron = c
		appLog.Info("schedule refresh cron started", "spec", r.opts.CronSpec)
	}

	if r.opts.WatchPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			r.Stop()
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		// The directory is watched since atomic writes replace the file.
		dir := filepath.Dir(r.opts.WatchPath)
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			r.Stop()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		r.wg.Add(1)
		go r.watch(watcher)
		appLog.Info("schedule file watcher started", "path", r.opts.WatchPath)
	}

	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.done:
		}
	}()
	return nil
}

// Stop halts cron and the watcher. Safe to call more than once.
func (r *Refresher) Stop() {
	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		return
	default:
	}
	close(r.done)
	if r.debounce != nil {
		r.debounce.Stop()
	}
	r.mu.Unlock()

	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
	r.wg.Wait()
}

func (r *Refresher) reload(trigger string) func() {
	return func() {
		appLog.Debug("schedule cache invalidated", "trigger", trigger)
		r.target.Reload()
	}
}

func (r *Refresher) watch(watcher *fsnotify.Watcher) {
	defer r.wg.Done()
	defer watcher.Close()

	target := filepath.Clean(r.opts.WatchPath)
	fire := r.reload("file")
	for {
		select {
		case <-r.done:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			r.mu.Lock()
			select {
			case <-r.done:
			default:
				if r.debounce != nil {
					r.debounce.Stop()
				}
				r.debounce = time.AfterFunc(r.opts.Debounce, fire)
			}
			r.mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			appLog.Error("schedule file watcher error", err, "path", r.opts.WatchPath)
		}
	}
}
