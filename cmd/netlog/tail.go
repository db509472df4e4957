package main

import (
	"context"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/netlog"
	"github.com/peterbourgon/netlog/internal/netlogutil"
	"github.com/peterbourgon/netlog/netlogweb"
)

type tailConfig struct {
	*rootConfig

	uri           string
	sendBuf       int
	recvBuf       int
	statsInterval time.Duration
	retryInterval time.Duration
}

func (cfg *tailConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'u', LongName: "uri" /*            */, Value: ffval.NewValueDefault(&cfg.uri, "localhost:8080/stream") /* */, Usage: "stream URI of a netlog web server", Placeholder: "URI"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "send-buffer" /*    */, Value: ffval.NewValueDefault(&cfg.sendBuf, 100) /*                  */, Usage: "remote send buffer size"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "recv-buffer" /*    */, Value: ffval.NewValueDefault(&cfg.recvBuf, 100) /*                  */, Usage: "local receive buffer size"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "stats-interval" /* */, Value: ffval.NewValueDefault(&cfg.statsInterval, 10*time.Second) /* */, Usage: "stats reporting interval"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "retry-interval" /* */, Value: ffval.NewValueDefault(&cfg.retryInterval, 1*time.Second) /*  */, Usage: "connection retry interval"})
}

func (cfg *tailConfig) Exec(ctx context.Context, args []string) error {
	if strings.TrimSpace(cfg.uri) == "" {
		return fmt.Errorf("--uri is required")
	}

	if errs := cfg.filter.Normalize(); len(errs) > 0 {
		return fmt.Errorf("invalid filter: %s", netlogutil.JoinErrors(errs...))
	}

	lastRead := netlogutil.NewAtomic(time.Time{})
	client := &netlogweb.StreamClient{
		URI:           cfg.uri,
		SendBuffer:    cfg.sendBuf,
		RetryInterval: cfg.retryInterval,
		StatsInterval: cfg.statsInterval,
		Logger:        &cfg.logger,
		OnRead: func(ctx context.Context, eventType string, eventData []byte) {
			lastRead.Set(time.Now())
			if eventType == netlogweb.EventTypeInit {
				cfg.logger.Info().Str("uri", cfg.uri).Msg("stream connected")
			}
		},
	}

	cfg.logger.Info().Str("uri", cfg.uri).Stringer("filter", cfg.filter).Msg("tailing")

	records := make(chan netlog.Record, cfg.recvBuf)

	var g run.Group

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return client.Stream(ctx, cfg.filter, records)
		}, func(error) {
			cancel()
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			ticker := time.NewTicker(cfg.statsInterval)
			defer ticker.Stop()
			for {
				select {
				case rec := <-records:
					if err := cfg.writeLine(rec); err != nil {
						return err
					}
				case <-ticker.C:
					if t := lastRead.Get(); !t.IsZero() {
						cfg.logger.Debug().Str("since", netlogutil.HumanizeDuration(time.Since(t))).Msg("last stream event")
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	return g.Run()
}

func (cfg *tailConfig) writeLine(rec netlog.Record) error {
	switch cfg.output {
	case "json":
		return cfg.writeJSON(rec)
	case "yaml":
		if _, err := fmt.Fprintln(cfg.stdout, "---"); err != nil {
			return err
		}
		return cfg.writeYAML(rec)
	}
	_, err := fmt.Fprintf(cfg.stdout, "%s %s %s %s %s %s\n",
		rec.StartedAt.Local().Format("15:04:05.000"),
		rec.ID,
		rec.Request.Method,
		rec.Request.URL,
		status(rec),
		netlogutil.HumanizeDuration(rec.Duration()),
	)
	return err
}
