package main

import (
	"context"
	"fmt"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/netlog"
	"github.com/peterbourgon/netlog/internal/netlogutil"
)

type listConfig struct {
	*rootConfig

	limit int
}

func (cfg *listConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'n', LongName: "limit", Value: ffval.NewValueDefault(&cfg.limit, 0), Usage: "max number of records to list (0 for all)"})
}

func (cfg *listConfig) Exec(ctx context.Context, args []string) error {
	if errs := cfg.filter.Normalize(); len(errs) > 0 {
		return fmt.Errorf("invalid filter: %s", netlogutil.JoinErrors(errs...))
	}

	store, err := cfg.openStore(false)
	if err != nil {
		return err
	}
	defer store.Close()

	cfg.logger.Debug().Stringer("filter", cfg.filter).Int("limit", cfg.limit).Msg("listing")

	var records []netlog.Record
	for _, r := range store.Snapshot() {
		if !cfg.filter.Allow(r) {
			continue
		}
		records = append(records, r)
		if cfg.limit > 0 && len(records) >= cfg.limit {
			break
		}
	}

	if records == nil {
		records = []netlog.Record{}
	}

	return cfg.writeRecords(records)
}
