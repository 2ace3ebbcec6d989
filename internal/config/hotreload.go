package config

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeSet describes what differs between two successfully loaded
// configurations, so callers (internal/outbound's supervisor) know whether
// a descriptor needs a fresh dial, a removal, or nothing at all.
type ChangeSet struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether the change set carries no differences.
func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// Diff compares two configurations' server maps by name, reporting
// additions, removals, and descriptor changes (deep-equal per descriptor).
func Diff(prev, curr *Config) ChangeSet {
	var cs ChangeSet
	if prev == nil || curr == nil {
		return cs
	}

	for name, desc := range curr.Servers {
		old, existed := prev.Servers[name]
		switch {
		case !existed:
			cs.Added = append(cs.Added, name)
		case !reflect.DeepEqual(old, desc):
			cs.Changed = append(cs.Changed, name)
		}
	}
	for name := range prev.Servers {
		if _, stillThere := curr.Servers[name]; !stillThere {
			cs.Removed = append(cs.Removed, name)
		}
	}

	sort.Strings(cs.Added)
	sort.Strings(cs.Removed)
	sort.Strings(cs.Changed)
	return cs
}

// Watcher watches a single mcp.json file for writes and reloads it,
// delivering the new Config and the ChangeSet against the previous
// successful load on Changes(). A reload that fails validation is logged
// and skipped; the watcher keeps serving the last good configuration.
type Watcher struct {
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	current *Config

	changes chan Update
	done    chan struct{}
}

// Update is one successful reload delivered on Watcher.Changes().
type Update struct {
	Config *Config
	Diff   ChangeSet
}

// NewWatcher starts watching path, which must already have loaded
// successfully via initial. The caller owns initial and passes it in so the
// watcher's first Diff is always against a known-good baseline.
func NewWatcher(path string, initial *Config, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create file watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	w := &Watcher{
		path:    path,
		logger:  logger.Named("config-watcher"),
		watcher: fsw,
		current: initial,
		changes: make(chan Update, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Changes returns the channel of successful reloads.
func (w *Watcher) Changes() <-chan Update {
	return w.changes
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Give the writer time to finish (editors often truncate then
			// write, which would otherwise race an empty-file read).
			time.Sleep(200 * time.Millisecond)
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	next, err := LoadFromFile(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous configuration", zap.Error(err))
		return
	}

	diff := Diff(w.current, next)
	if diff.Empty() {
		return
	}

	w.logger.Info("configuration reloaded",
		zap.Strings("added", diff.Added),
		zap.Strings("removed", diff.Removed),
		zap.Strings("changed", diff.Changed))

	w.current = next
	select {
	case w.changes <- Update{Config: next, Diff: diff}:
	default:
		// Previous update hasn't been consumed yet; drop rather than block
		// the watcher goroutine. w.current still advances, so the next
		// delivered diff is always against the latest load, never stale.
	}
}
