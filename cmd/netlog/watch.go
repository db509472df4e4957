package main

import (
	"context"
	"fmt"
	"syscall"

	"github.com/oklog/run"
	"github.com/peterbourgon/netlog"
	"github.com/peterbourgon/netlog/netlogstore"
)

type watchConfig struct {
	*rootConfig
}

func (cfg *watchConfig) Exec(ctx context.Context, args []string) error {
	store, err := cfg.openStore(true)
	if err != nil {
		return err
	}
	defer store.Close()

	cfg.logger.Info().Str("dir", store.Dir()).Int("records", len(store.Snapshot())).Msg("watching")

	var g run.Group

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			updates := make(chan netlogstore.Update[netlog.Record], 16)
			errc := make(chan error, 1)
			go func() {
				_, err := store.Subscribe(ctx, updates)
				errc <- err
			}()
			for {
				select {
				case u := <-updates:
					cfg.printUpdate(u)
				case err := <-errc:
					return err
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

func (cfg *watchConfig) printUpdate(u netlogstore.Update[netlog.Record]) {
	diff := u.Diff(func(r netlog.Record) string { return string(r.ID) })
	if diff.Empty() {
		cfg.logger.Debug().Int("records", len(u.New)).Msg("reload, no changes")
		return
	}

	ts := u.Timestamp.Local().Format("15:04:05.000")
	for _, e := range diff.Removed {
		fmt.Fprintf(cfg.stdout, "%s - %s\n", ts, e.Value.ID)
	}
	for _, e := range diff.Inserted {
		fmt.Fprintf(cfg.stdout, "%s + %s %s %s (%s)\n", ts, e.Value.ID, e.Value.Request.Method, e.Value.Request.URL, status(e.Value))
	}
	for _, m := range diff.Moved {
		fmt.Fprintf(cfg.stdout, "%s ~ %s %d→%d\n", ts, m.Value.ID, m.From, m.To)
	}
}
