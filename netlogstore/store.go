// Package netlogstore provides a directory-backed store of values, one file
// per value, which stays consistent with external changes to the directory.
package netlogstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/peterbourgon/netlog/internal/netlogpubsub"
	"github.com/peterbourgon/netlog/netlogbuf"
	"github.com/peterbourgon/netlog/netlogwatch"
	"github.com/rs/zerolog"
)

// StoreConfig collects the parameters of a store.
type StoreConfig[T any] struct {
	// Dir is the directory holding the files of the store. Required. It's
	// created if it doesn't exist.
	Dir string

	// Name returns the file name of a value. Required. Names must be plain
	// file names, without any path separators.
	Name func(T) string

	// Serializer encodes values to files. Default JSONSerializer.
	Serializer Serializer[T]

	// Capacity is the max number of values in a snapshot; older values are
	// still on disk, but not loaded. Zero, the default, means unbounded.
	Capacity int

	// NoWatch disables watching the directory for external changes. The
	// snapshot is then only reloaded explicitly, and after Store and Remove.
	NoWatch bool

	// OnError is called with every persistence failure. Failures are never
	// returned by Store, Remove, or Reload. Optional.
	OnError func(error)

	// Logger for diagnostics. Optional.
	Logger *zerolog.Logger

	// Metrics maintained by the store. Optional.
	Metrics *Metrics
}

// Store is a set of values persisted to a directory, one file per value. The
// store keeps a snapshot of the decoded values, newest first, and publishes an
// Update every time the snapshot is reloaded.
//
// Persistence is best-effort: write, delete, and read failures aren't returned
// to the caller, and a failed write is indistinguishable from one that hasn't
// happened yet. Use StoreConfig.OnError to observe failures.
type Store[T any] struct {
	dir      string
	name     func(T) string
	ser      Serializer[T]
	capacity int
	onError  func(error)
	logger   zerolog.Logger
	metrics  *Metrics
	watcher  *netlogwatch.Watcher
	broker   *netlogpubsub.Broker[Update[T]]

	reloadMtx sync.Mutex // serializes reloads

	mtx      sync.Mutex
	snapshot []T
}

// Open the store, creating its directory if necessary, and load the initial
// snapshot.
func Open[T any](cfg StoreConfig[T]) (*Store[T], error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("directory is required")
	}

	if cfg.Name == nil {
		return nil, fmt.Errorf("name function is required")
	}

	if cfg.Serializer == nil {
		cfg.Serializer = JSONSerializer[T]{}
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	s := &Store[T]{
		dir:      cfg.Dir,
		name:     cfg.Name,
		ser:      cfg.Serializer,
		capacity: cfg.Capacity,
		onError:  cfg.OnError,
		logger:   zerolog.Nop(),
		metrics:  cfg.Metrics,
		broker:   netlogpubsub.NewBroker[Update[T]](nil),
	}

	if cfg.Logger != nil {
		s.logger = cfg.Logger.With().Str("component", "store").Str("dir", cfg.Dir).Logger()
	}

	s.Reload()

	if !cfg.NoWatch {
		w, err := netlogwatch.Watch(cfg.Dir, cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("watch directory: %w", err)
		}
		w.OnChange(func(c netlogwatch.Change) {
			s.logger.Debug().Stringer("change", c).Msg("directory changed, reloading")
			s.Reload()
		})
		s.watcher = w
	}

	return s, nil
}

// Dir returns the directory of the store.
func (s *Store[T]) Dir() string {
	return s.dir
}

// Store writes the value to its file, replacing any existing file with the
// same name, and reloads the snapshot.
func (s *Store[T]) Store(v T) {
	path, err := s.path(v)
	if err != nil {
		s.report("store", err)
		return
	}

	data, err := s.ser.Encode(v)
	if err != nil {
		s.report("encode", err)
		return
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.report("store", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.report("store", err)
	}

	s.Reload()
}

// Remove deletes the file of the value, and reloads the snapshot.
func (s *Store[T]) Remove(v T) {
	path, err := s.path(v)
	if err != nil {
		s.report("remove", err)
		return
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.report("remove", err)
	}

	s.Reload()
}

// Snapshot returns the current values, newest first.
func (s *Store[T]) Snapshot() []T {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return append([]T(nil), s.snapshot...)
}

// Reload lists the directory, decodes every file in it, and replaces the
// snapshot with the result, ordered by file modification time, newest first.
// Files which can't be read or decoded are skipped. The resulting update is
// published to subscribers, and returned.
func (s *Store[T]) Reload() Update[T] {
	s.reloadMtx.Lock()
	defer s.reloadMtx.Unlock()

	next := s.load()

	s.mtx.Lock()
	prev := s.snapshot
	s.snapshot = next
	s.mtx.Unlock()

	u := Update[T]{
		Old:       prev,
		New:       next,
		Timestamp: time.Now().UTC(),
	}

	if s.metrics != nil {
		s.metrics.Reloads.Inc()
		s.metrics.Values.Set(float64(len(next)))
	}

	s.broker.Publish(u)

	return u
}

// Subscribe sends every subsequent update to ch, until the context is
// canceled. Sends don't block: if ch is full, the update is dropped.
func (s *Store[T]) Subscribe(ctx context.Context, ch chan<- Update[T]) (netlogpubsub.Stats, error) {
	return s.broker.Subscribe(ctx, nil, ch)
}

// Close stops watching the directory. Files are left in place.
func (s *Store[T]) Close() error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	return nil
}

func (s *Store[T]) load() []T {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.report("list", err)
		}
		return nil
	}

	type file struct {
		name    string
		modTime time.Time
	}

	files := make([]file, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue // removed since listing
		}
		files = append(files, file{name: e.Name(), modTime: fi.ModTime()})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].modTime.Equal(files[j].modTime) {
			return files[i].modTime.Before(files[j].modTime)
		}
		return files[i].name < files[j].name
	})

	buf := netlogbuf.New[T](s.capacity)
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(s.dir, f.name))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.report("read", err)
			}
			continue
		}

		v, err := s.ser.Decode(data)
		if err != nil {
			s.logger.Debug().Err(err).Str("file", f.name).Msg("skipping undecodable file")
			if s.metrics != nil {
				s.metrics.Errors.WithLabelValues("decode").Inc()
			}
			continue
		}

		buf.PushFront(v)
	}

	return buf.Slice()
}

func (s *Store[T]) path(v T) (string, error) {
	name := s.name(v)
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

func (s *Store[T]) report(op string, err error) {
	err = fmt.Errorf("%s: %w", op, err)
	s.logger.Debug().Err(err).Msg("persistence failure")
	if s.metrics != nil {
		s.metrics.Errors.WithLabelValues(op).Inc()
	}
	if s.onError != nil {
		s.onError(err)
	}
}
