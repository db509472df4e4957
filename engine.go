package netlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/peterbourgon/netlog/internal/netlogpubsub"
	"github.com/peterbourgon/netlog/netlogbuf"
	"github.com/rs/zerolog"
)

// DefaultCapacity is the default number of live records kept by an engine.
const DefaultCapacity = 50

// ErrNoPersister is returned by persistence operations on an engine without
// a configured persister.
var ErrNoPersister = errors.New("no persister configured")

// Persister is the durable side of an engine, typically a
// [github.com/peterbourgon/netlog/netlogstore.Store] of records. Store and
// Remove are best-effort.
type Persister interface {
	Store(Record)
	Remove(Record)
	Snapshot() []Record
}

// EngineConfig collects the optional parameters of an engine.
type EngineConfig struct {
	// Capacity is the max number of live records. Default DefaultCapacity.
	// A negative value means unbounded.
	Capacity int

	// TrailCapacity is the max number of diagnostic trail events. Zero or
	// less, the default, means unbounded.
	TrailCapacity int

	// Persister receives explicitly persisted records. Optional.
	Persister Persister

	// StaleAfter is how long a record may stay active before the sweep
	// finishes it with a TransportAbandoned outcome. Zero, the default,
	// disables the sweep.
	StaleAfter time.Duration

	// SweepInterval is how often the sweep runs. Default StaleAfter / 2,
	// min 100ms.
	SweepInterval time.Duration

	// Logger for diagnostics. Optional.
	Logger *zerolog.Logger

	// Metrics maintained by the engine. Optional.
	Metrics *Metrics
}

// Engine correlates raw lifecycle events into records. Events are queued by
// the Observer methods, which never block, and are applied one at a time by
// Run, which is the only writer of the live records and the trail.
//
// Engines are constructed once and shared by reference. They're safe for
// concurrent use.
type Engine struct {
	persister  Persister
	staleAfter time.Duration
	sweepEvery time.Duration
	logger     zerolog.Logger
	metrics    *Metrics
	inbox      *mailbox
	broker     *netlogpubsub.Broker[Record]
	running    atomic.Bool

	mtx     sync.Mutex
	records *netlogbuf.RingBuffer[*Record]
	trail   *netlogbuf.RingBuffer[TaskEvent]
}

var _ Observer = (*Engine)(nil)

// NewEngine returns a new engine. Call Run to start applying events.
func NewEngine(cfg EngineConfig) *Engine {
	capacity := cfg.Capacity
	switch {
	case capacity == 0:
		capacity = DefaultCapacity
	case capacity < 0:
		capacity = 0
	}

	sweepEvery := cfg.SweepInterval
	if sweepEvery <= 0 {
		sweepEvery = cfg.StaleAfter / 2
	}
	if sweepEvery < 100*time.Millisecond {
		sweepEvery = 100 * time.Millisecond
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "engine").Logger()
	}

	return &Engine{
		persister:  cfg.Persister,
		staleAfter: cfg.StaleAfter,
		sweepEvery: sweepEvery,
		logger:     logger,
		metrics:    cfg.Metrics,
		inbox:      newMailbox(),
		broker:     netlogpubsub.NewBroker[Record](nil),
		records:    netlogbuf.New[*Record](capacity),
		trail:      netlogbuf.New[TaskEvent](cfg.TrailCapacity),
	}
}

// Run applies queued events until the context is canceled. Only one call to
// Run may be active at a time. Events queued while Run isn't active are
// applied once it starts.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine already running")
	}
	defer e.running.Store(false)

	var sweep <-chan time.Time
	if e.staleAfter > 0 {
		ticker := time.NewTicker(e.sweepEvery)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-e.inbox.signal:
			for _, it := range e.inbox.drain() {
				e.handle(it)
			}

		case now := <-sweep:
			e.reap(now.UTC())
		}
	}
}

// Sync blocks until every event queued before the call has been applied, or
// the context is canceled. It requires Run to be active.
func (e *Engine) Sync(ctx context.Context) error {
	done := make(chan struct{})
	e.inbox.push(item{barrier: done})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Emit queues a raw event.
func (e *Engine) Emit(ev Event) {
	e.inbox.push(item{event: ev})
}

// OnStarted implements Observer.
func (e *Engine) OnStarted(id ID, req Request, at time.Time) {
	e.Emit(Event{Kind: EventStarted, ID: id, Request: req, At: at})
}

// OnResponse implements Observer.
func (e *Engine) OnResponse(id ID, req Request, resp Response, at time.Time) {
	e.Emit(Event{Kind: EventResponseReceived, ID: id, Request: req, Response: &resp, At: at})
}

// OnData implements Observer.
func (e *Engine) OnData(id ID, req Request, resp Response, chunk []byte, at time.Time) {
	e.Emit(Event{Kind: EventDataReceived, ID: id, Request: req, Response: &resp, Chunk: chunk, At: at})
}

// OnFinished implements Observer.
func (e *Engine) OnFinished(id ID, req Request, resp *Response, body []byte, fail *Outcome, at time.Time) {
	e.Emit(Event{Kind: EventFinished, ID: id, Request: req, Response: resp, Body: body, Error: fail, At: at})
}

// Clear queues the removal of all live records and trail events.
func (e *Engine) Clear() {
	e.inbox.push(item{clear: true})
}

// Records returns copies of the live records, newest first.
func (e *Engine) Records() []Record {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	out := make([]Record, 0, e.records.Len())
	e.records.Walk(func(r *Record) error {
		out = append(out, r.Clone())
		return nil
	})
	return out
}

// Record returns a copy of the live record with the given ID.
func (e *Engine) Record(id ID) (Record, bool) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	idx := e.records.Index(func(r *Record) bool { return r.ID == id })
	if idx < 0 {
		return Record{}, false
	}
	return e.records.At(idx).Clone(), true
}

// Events returns the diagnostic trail, newest first.
func (e *Engine) Events() []TaskEvent {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	return e.trail.Slice()
}

// Persist stores a snapshot of the record with the persister.
func (e *Engine) Persist(r Record) error {
	if e.persister == nil {
		return ErrNoPersister
	}
	e.persister.Store(r.Clone())
	return nil
}

// Unpersist removes the record from the persister.
func (e *Engine) Unpersist(r Record) error {
	if e.persister == nil {
		return ErrNoPersister
	}
	e.persister.Remove(r)
	return nil
}

// Persisted returns the current snapshot of persisted records, newest first.
func (e *Engine) Persisted() []Record {
	if e.persister == nil {
		return nil
	}
	return e.persister.Snapshot()
}

// Subscribe sends a copy of each record to ch every time the record changes,
// until the context is canceled. Sends don't block: if ch is full, the update
// is dropped and counted in the returned stats.
func (e *Engine) Subscribe(ctx context.Context, f RecordFilter, ch chan<- Record) (netlogpubsub.Stats, error) {
	if errs := f.Normalize(); len(errs) > 0 {
		return netlogpubsub.Stats{}, errors.Join(errs...)
	}
	return e.broker.Subscribe(ctx, f.Allow, ch)
}

// SubscribeStats returns the current stats of the subscription for ch.
func (e *Engine) SubscribeStats(ch chan<- Record) (netlogpubsub.Stats, error) {
	return e.broker.Stats(ch)
}

//
//
//

func (e *Engine) handle(it item) {
	switch {
	case it.barrier != nil:
		close(it.barrier)

	case it.clear:
		e.mtx.Lock()
		e.records.Clear()
		e.trail.Clear()
		e.mtx.Unlock()
		e.setLive(0)

	default:
		changed, ok := e.apply(it.event)
		if ok && e.broker.IsActive() {
			e.broker.Publish(changed)
		}
	}
}

// apply folds the event into the record it belongs to. It returns a copy of
// the changed record, and false if the event was dropped.
func (e *Engine) apply(ev Event) (Record, bool) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	idx := e.records.Index(func(r *Record) bool { return r.ID == ev.ID })

	var rec *Record
	if idx >= 0 {
		rec = e.records.At(idx)
	}

	switch ev.Kind {
	case EventStarted:
		rec = &Record{
			ID:        ev.ID,
			Request:   ev.Request,
			StartedAt: ev.At,
		}
		e.push(rec)
		e.trace(TaskStarted, ev, 0, nil)
		if e.metrics != nil {
			e.metrics.Started.Inc()
		}

	case EventResponseReceived:
		switch {
		case rec == nil:
			rec = &Record{
				ID:        ev.ID,
				Request:   ev.Request,
				Response:  ev.Response,
				StartedAt: ev.At,
			}
			e.push(rec)
		case rec.Terminal():
			return Record{}, false
		default:
			rec.Response = ev.Response
		}
		e.trace(TaskResponseReceived, ev, 0, nil)

	case EventDataReceived:
		switch {
		case rec == nil:
			rec = &Record{
				ID:        ev.ID,
				Request:   ev.Request,
				Response:  ev.Response,
				Body:      cloneBytes(ev.Chunk),
				StartedAt: ev.At,
			}
			e.push(rec)
		case rec.Terminal():
			return Record{}, false
		default:
			rec.Body = append(rec.Body, ev.Chunk...)
			if ev.Response != nil {
				rec.Response = ev.Response
			}
		}
		e.trace(TaskDataLoaded, ev, len(ev.Chunk), nil)

	case EventFinished:
		switch {
		case rec == nil:
			rec = &Record{
				ID:        ev.ID,
				Request:   ev.Request,
				StartedAt: ev.At,
			}
			e.push(rec)
		case rec.Terminal():
			e.logger.Debug().Str("id", string(ev.ID)).Msg("dropped duplicate finish")
			if e.metrics != nil {
				e.metrics.Duplicates.Inc()
			}
			return Record{}, false
		}
		e.finish(rec, ev)

	default:
		e.logger.Debug().Str("id", string(ev.ID)).Stringer("kind", ev.Kind).Msg("dropped unknown event kind")
		return Record{}, false
	}

	return rec.Clone(), true
}

// finish makes the record terminal. It must be called with the mutex held, on
// a record that isn't already terminal.
func (e *Engine) finish(rec *Record, ev Event) {
	rec.Request = ev.Request
	if ev.Response != nil {
		rec.Response = ev.Response
	}
	ev.Response = rec.Response // the trail and the outcome see the merged response

	switch {
	case ev.Body == nil:
		// keep what was accumulated
	case bytes.HasPrefix(ev.Body, rec.Body):
		rec.Body = append(rec.Body, ev.Body[len(rec.Body):]...)
	default:
		rec.Body = cloneBytes(ev.Body)
	}

	at := ev.At
	rec.CompletedAt = &at
	rec.Error = classify(rec.Response, ev.Error)

	kind := TaskFinishedOK
	if rec.Error != nil {
		kind = TaskFinishedError
	}
	e.trace(kind, ev, len(rec.Body), rec.Error)

	if e.metrics != nil {
		e.metrics.Finished.WithLabelValues(string(rec.Class())).Inc()
	}
}

// classify decides the outcome of a finished call. A transport failure wins
// over any response, a response is classified by its status, and a call that
// finished with neither is a transport failure of unknown kind.
func classify(resp *Response, fail *Outcome) *Outcome {
	switch {
	case fail != nil:
		return fail
	case resp == nil:
		return TransportOutcome(TransportUnknown, nil)
	default:
		return ClassifyStatus(resp.StatusCode)
	}
}

// push adds a new record, evicting any existing record with the same ID.
// It must be called with the mutex held.
func (e *Engine) push(rec *Record) {
	e.records.RemoveAll(func(r *Record) bool { return r.ID == rec.ID })
	if evicted, ok := e.records.PushFront(rec); ok {
		e.logger.Debug().Str("id", string(evicted.ID)).Msg("evicted oldest record")
	}
	e.setLive(e.records.Len())
}

// trace adds an event to the trail. It must be called with the mutex held.
func (e *Engine) trace(kind TaskKind, ev Event, n int, fail *Outcome) {
	te := TaskEvent{
		Kind:   kind,
		ID:     ev.ID,
		Method: ev.Request.Method,
		URL:    ev.Request.URL,
		Bytes:  n,
		Error:  fail,
		At:     ev.At,
	}
	if ev.Response != nil {
		te.StatusCode = ev.Response.StatusCode
	}
	e.trail.PushFront(te)
}

func (e *Engine) setLive(n int) {
	if e.metrics != nil {
		e.metrics.Live.Set(float64(n))
	}
}

// reap finishes records which have been active for longer than staleAfter.
// Calls aborted without ever reporting completion would otherwise stay active
// forever.
func (e *Engine) reap(now time.Time) {
	var reaped []Record

	func() {
		e.mtx.Lock()
		defer e.mtx.Unlock()

		e.records.Walk(func(rec *Record) error {
			if rec.Terminal() || now.Sub(rec.StartedAt) < e.staleAfter {
				return nil
			}
			e.finish(rec, Event{
				Kind:    EventFinished,
				ID:      rec.ID,
				Request: rec.Request,
				Error:   TransportOutcome(TransportAbandoned, nil),
				At:      now,
			})
			reaped = append(reaped, rec.Clone())
			return nil
		})
	}()

	for _, rec := range reaped {
		e.logger.Debug().Str("id", string(rec.ID)).Str("url", rec.Request.URL).Msg("reaped stale record")
		if e.metrics != nil {
			e.metrics.Reaped.Inc()
		}
		e.broker.Publish(rec)
	}
}

//
//
//

type item struct {
	event   Event
	barrier chan struct{}
	clear   bool
}

// mailbox is an unbounded queue with a wakeup signal. Pushes never block.
type mailbox struct {
	mtx    sync.Mutex
	queue  []item
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(it item) {
	m.mtx.Lock()
	m.queue = append(m.queue, it)
	m.mtx.Unlock()

	select {
	case m.signal <- struct{}{}:
	default: // already signaled
	}
}

func (m *mailbox) drain() []item {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	q := m.queue
	m.queue = nil
	return q
}
