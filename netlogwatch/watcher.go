// Package netlogwatch watches a single filesystem path and delivers discrete
// change notifications, re-establishing the watch when the path is deleted or
// renamed and later recreated.
package netlogwatch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Kind is the kind of a change.
type Kind uint8

const (
	Unknown Kind = iota
	Created
	Modified
	Extended
	AttributeChanged
	Renamed
	Deleted
	LockChanged // not reported by every platform
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Extended:
		return "extended"
	case AttributeChanged:
		return "attribute-changed"
	case Renamed:
		return "renamed"
	case Deleted:
		return "deleted"
	case LockChanged:
		return "lock-changed"
	default:
		return "unknown"
	}
}

// Change is a single notification. Path is the watched path itself, or, when
// the watched path is a directory, the entry within it that changed.
type Change struct {
	Path string
	Kind Kind
	At   time.Time
}

func (c Change) String() string {
	return fmt.Sprintf("%s %s", c.Kind, c.Path)
}

// State of a watcher.
type State uint8

const (
	// StateWatching means the path is open and changes are delivered.
	StateWatching State = iota + 1

	// StateReopening means the path couldn't be opened. The watcher waits
	// for the path to be created again, and delivers nothing until then.
	StateReopening

	// StateStopped means the watcher was stopped, permanently.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateWatching:
		return "watching"
	case StateReopening:
		return "reopening"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

// Watcher delivers changes to a path. Callbacks are invoked one at a time, in
// arrival order, on a dedicated goroutine: a callback is never invoked before
// the previous one has returned.
type Watcher struct {
	path   string
	parent string
	logger zerolog.Logger
	fsw    *fsnotify.Watcher
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once

	mtx       sync.Mutex
	state     State
	callbacks []func(Change)

	sizes map[string]int64 // owned by the run goroutine
}

// Watch starts watching the path. If the path can't be opened, the watcher
// starts in the reopening state, and begins delivering changes only once the
// path is created. An error is returned only when the underlying notification
// mechanism is unavailable.
func Watch(path string, logger *zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}

	w := &Watcher{
		path:   abs,
		parent: filepath.Dir(abs),
		logger: zerolog.Nop(),
		fsw:    fsw,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		sizes:  map[string]int64{},
	}

	if logger != nil {
		w.logger = logger.With().Str("component", "watcher").Str("path", abs).Logger()
	}

	if err := fsw.Add(abs); err != nil {
		w.logger.Debug().Err(err).Msg("initial open failed")
		w.reopening()
	} else {
		w.setState(StateWatching)
	}

	go w.run()

	return w, nil
}

// Path returns the watched path, made absolute.
func (w *Watcher) Path() string {
	return w.path
}

// State returns the current state of the watcher.
func (w *Watcher) State() State {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.state
}

// OnChange registers a callback for every subsequent change. Any number of
// callbacks can be registered, and each one sees every change.
func (w *Watcher) OnChange(fn func(Change)) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Stop the watcher. No callback is invoked after Stop returns, except one
// that's already running. Stop is idempotent, and safe to call from a
// callback.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		w.mtx.Lock()
		w.state = StateStopped
		w.callbacks = nil
		w.mtx.Unlock()

		close(w.stop)
		w.fsw.Close()
	})
}

// Done is closed when the watcher's goroutine has exited after Stop.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) run() {
	defer close(w.done)

	for {
		select {
		case <-w.stop:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Debug().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	name := filepath.Clean(ev.Name)

	if w.State() == StateReopening {
		// Only the parent directory is watched: wait for the path to appear.
		if name != w.path || !ev.Has(fsnotify.Create) {
			return
		}
		if err := w.fsw.Add(w.path); err != nil {
			w.logger.Debug().Err(err).Msg("reopen after create failed")
			return
		}
		if w.parent != w.path {
			w.fsw.Remove(w.parent)
		}
		w.setState(StateWatching)
		w.logger.Debug().Msg("reopened")
		w.deliver(Change{Path: w.path, Kind: Created, At: now()})
		return
	}

	c := Change{Path: name, Kind: w.kind(name, ev.Op), At: now()}

	// The watched path itself is gone: the handle is closed, reopen it.
	if name == w.path && (c.Kind == Deleted || c.Kind == Renamed) {
		w.fsw.Remove(w.path)
		if err := w.fsw.Add(w.path); err != nil {
			w.logger.Debug().Err(err).Stringer("kind", c.Kind).Msg("path invalidated, waiting for it to be recreated")
			w.reopening()
		}
	}

	w.deliver(c)
}

// kind maps an fsnotify op to a change kind. Writes which grow a file are
// reported as extensions.
func (w *Watcher) kind(name string, op fsnotify.Op) Kind {
	switch {
	case op.Has(fsnotify.Remove):
		delete(w.sizes, name)
		return Deleted
	case op.Has(fsnotify.Rename):
		delete(w.sizes, name)
		return Renamed
	case op.Has(fsnotify.Create):
		w.sizes[name] = sizeOf(name)
		return Created
	case op.Has(fsnotify.Write):
		prev, known := w.sizes[name]
		size := sizeOf(name)
		w.sizes[name] = size
		if known && size > prev {
			return Extended
		}
		return Modified
	case op.Has(fsnotify.Chmod):
		return AttributeChanged
	default:
		return Unknown
	}
}

// reopening enters the reopening state by watching the parent directory for
// the creation of the path. If the parent can't be watched either, the
// watcher stays silent.
func (w *Watcher) reopening() {
	w.setState(StateReopening)
	if w.parent == w.path {
		return
	}
	if err := w.fsw.Add(w.parent); err != nil {
		w.logger.Debug().Err(err).Msg("parent directory unavailable")
	}
}

func (w *Watcher) setState(s State) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.state != StateStopped {
		w.state = s
	}
}

func (w *Watcher) deliver(c Change) {
	w.mtx.Lock()
	callbacks := append([]func(Change){}, w.callbacks...)
	w.mtx.Unlock()

	for _, fn := range callbacks {
		select {
		case <-w.stop:
			return
		default:
			fn(c)
		}
	}
}

func sizeOf(name string) int64 {
	fi, err := os.Stat(name)
	if err != nil {
		return -1
	}
	return fi.Size()
}

func now() time.Time { return time.Now().UTC() }
