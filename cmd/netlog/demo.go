package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/netlog"
	"github.com/peterbourgon/netlog/eznetlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type demoConfig struct {
	*rootConfig

	listenAddr string
	interval   time.Duration
	capacity   int
	staleAfter time.Duration
	ignore     []string
}

func (cfg *demoConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "listen-addr" /* */, Value: ffval.NewValueDefault(&cfg.listenAddr, "localhost:8080") /*    */, Usage: "HTTP listen address"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "interval" /*    */, Value: ffval.NewValueDefault(&cfg.interval, 500*time.Millisecond) /* */, Usage: "time between generated calls"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "capacity" /*    */, Value: ffval.NewValueDefault(&cfg.capacity, netlog.DefaultCapacity) /* */, Usage: "max live records"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "stale-after" /* */, Value: ffval.NewValueDefault(&cfg.staleAfter, time.Minute) /*          */, Usage: "finish records that stay active this long (0 to disable)"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "ignore" /*      */, Value: ffval.NewUniqueList(&cfg.ignore) /*                           */, Usage: "URL prefix that isn't recorded (repeatable)", NoDefault: true})
}

func (cfg *demoConfig) Exec(ctx context.Context, args []string) error {
	dir, err := cfg.storeDir()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	kit, err := eznetlog.New(eznetlog.Config{
		Dir:        dir,
		Capacity:   cfg.capacity,
		StaleAfter: cfg.staleAfter,
		Filter:     &netlog.Filter{IgnorePrefixes: cfg.ignore},
		Logger:     &cfg.logger,
		Registerer: reg,
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	baseURL := "http://" + ln.Addr().String()

	mux := http.NewServeMux()
	mux.Handle("/", kit.Handler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /demo/{code}", handleDemo)

	cfg.logger.Info().Str("addr", baseURL).Str("dir", dir).Msg("listening")
	cfg.logger.Info().Str("filter", (&netlog.Filter{IgnorePrefixes: cfg.ignore}).String()).Msg("recording")

	var g run.Group

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return kit.Run(ctx)
		}, func(error) {
			cancel()
		})
	}

	{
		server := &http.Server{Handler: mux}
		g.Add(func() error {
			if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			server.Close()
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return cfg.generate(ctx, kit.Client, baseURL)
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	return g.Run()
}

var demoCodes = []int{200, 200, 200, 201, 204, 301, 404, 418, 429, 500, 503, 529}

// generate makes calls to the demo endpoint via the instrumented client.
func (cfg *demoConfig) generate(ctx context.Context, client *http.Client, baseURL string) error {
	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		code := demoCodes[rand.Intn(len(demoCodes))]
		delay := time.Duration(rand.Intn(250)) * time.Millisecond
		uri := fmt.Sprintf("%s/demo/%d?delay=%s", baseURL, code, delay)

		go func() {
			req, err := http.NewRequestWithContext(ctx, "GET", uri, nil)
			if err != nil {
				cfg.logger.Error().Err(err).Msg("create request")
				return
			}
			resp, err := client.Do(req)
			if err != nil {
				cfg.logger.Debug().Err(err).Str("uri", uri).Msg("demo call failed")
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			cfg.logger.Trace().Str("uri", uri).Int("code", resp.StatusCode).Msg("demo call")
		}()
	}
}

func handleDemo(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(r.PathValue("code"))
	if err != nil || code < 100 || code > 999 {
		code = http.StatusBadRequest
	}

	if delay, err := time.ParseDuration(r.URL.Query().Get("delay")); err == nil {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if code == http.StatusMovedPermanently {
		w.Header().Set("location", "/demo/200")
	}

	if code == http.StatusNoContent {
		w.WriteHeader(code)
		return
	}

	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"code":   code,
		"status": netlog.DescribeStatus(code),
		"at":     time.Now().UTC(),
	})
}
