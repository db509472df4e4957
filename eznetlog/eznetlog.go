// Package eznetlog wires an engine, a persisted record store, an instrumented
// HTTP client, and a web handler together, with reasonable defaults.
package eznetlog

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/peterbourgon/netlog"
	"github.com/peterbourgon/netlog/netloghttp"
	"github.com/peterbourgon/netlog/netlogstore"
	"github.com/peterbourgon/netlog/netlogweb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Config for a kit. All fields are optional.
type Config struct {
	// Dir holds persisted records. Default netlogstore.CacheDir of
	// netlogstore.KindNetwork.
	Dir string

	// Capacity of the live records. Default netlog.DefaultCapacity.
	Capacity int

	// StaleAfter enables the sweep of records that never finish.
	StaleAfter time.Duration

	// Filter decides which calls are recorded. Default http and https.
	Filter *netlog.Filter

	// NoWatch disables watching Dir for external changes.
	NoWatch bool

	// Logger for diagnostics.
	Logger *zerolog.Logger

	// Registerer receives engine and store metrics. If nil, no metrics
	// are maintained.
	Registerer prometheus.Registerer
}

// Kit is a ready-to-use set of netlog components.
type Kit struct {
	Engine    *netlog.Engine
	Store     *netlogstore.Store[netlog.Record]
	Transport *netloghttp.Transport
	Client    *http.Client
	Handler   http.Handler
}

// New constructs a kit. Call Run to start recording.
func New(cfg Config) (*Kit, error) {
	if cfg.Dir == "" {
		dir, err := netlogstore.CacheDir(netlogstore.KindNetwork)
		if err != nil {
			return nil, err
		}
		cfg.Dir = dir
	}

	var (
		engineMetrics *netlog.Metrics
		storeMetrics  *netlogstore.Metrics
	)
	if cfg.Registerer != nil {
		engineMetrics = netlog.NewMetrics(cfg.Registerer)
		storeMetrics = netlogstore.NewMetrics(cfg.Registerer, netlogstore.KindNetwork)
	}

	store, err := netlogstore.Open(netlogstore.StoreConfig[netlog.Record]{
		Dir:     cfg.Dir,
		Name:    netlog.RecordFileName,
		NoWatch: cfg.NoWatch,
		Logger:  cfg.Logger,
		Metrics: storeMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	engine := netlog.NewEngine(netlog.EngineConfig{
		Capacity:   cfg.Capacity,
		Persister:  store,
		StaleAfter: cfg.StaleAfter,
		Logger:     cfg.Logger,
		Metrics:    engineMetrics,
	})

	client := netloghttp.Wrap(nil, engine, cfg.Filter)

	return &Kit{
		Engine:    engine,
		Store:     store,
		Transport: client.Transport.(*netloghttp.Transport),
		Client:    client,
		Handler:   netlogweb.NewServer(engine, cfg.Logger),
	}, nil
}

// Run the engine until the context is canceled, then close the store.
func (k *Kit) Run(ctx context.Context) error {
	defer k.Store.Close()
	return k.Engine.Run(ctx)
}

// Instrument replaces the transport of http.DefaultClient with a transport
// that records to the kit's engine, so that every call made via the default
// client is recorded. If the default client is already instrumented, it's left
// as it is. It returns a function which restores the original transport.
func (k *Kit) Instrument() (restore func()) {
	orig := http.DefaultClient.Transport
	if _, ok := orig.(*netloghttp.Transport); ok {
		return func() {}
	}
	http.DefaultClient.Transport = &netloghttp.Transport{
		Next:           orig,
		Observer:       k.Engine,
		Filter:         k.Transport.Filter,
		MaxRequestBody: k.Transport.MaxRequestBody,
	}
	return func() { http.DefaultClient.Transport = orig }
}
