package main

import (
	"context"
	"fmt"

	"github.com/peterbourgon/netlog"
)

type showConfig struct {
	*rootConfig
}

func (cfg *showConfig) Exec(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("exactly one record ID is required")
	}

	store, err := cfg.openStore(false)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, ok := findRecord(store.Snapshot(), netlog.ID(args[0]))
	if !ok {
		return fmt.Errorf("record %s not found in %s", args[0], store.Dir())
	}

	return cfg.writeRecord(rec)
}
