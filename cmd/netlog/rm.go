package main

import (
	"context"
	"fmt"

	"github.com/peterbourgon/netlog"
)

type removeConfig struct {
	*rootConfig
}

func (cfg *removeConfig) Exec(ctx context.Context, args []string) error {
	if len(args) <= 0 {
		return fmt.Errorf("at least one record ID is required")
	}

	store, err := cfg.openStore(false)
	if err != nil {
		return err
	}
	defer store.Close()

	var missing []string
	for _, id := range args {
		rec, ok := findRecord(store.Snapshot(), netlog.ID(id))
		if !ok {
			missing = append(missing, id)
			continue
		}
		store.Remove(rec)
		cfg.logger.Info().Str("id", id).Msg("removed")
	}

	if len(missing) > 0 {
		return fmt.Errorf("records not found: %v", missing)
	}

	return nil
}
