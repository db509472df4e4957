package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/netlog"
	"github.com/peterbourgon/netlog/internal/netlogutil"
	"github.com/peterbourgon/netlog/netlogstore"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type rootConfig struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configFile string
	logLevel   string
	dir        string
	kind       string
	output     string

	logger zerolog.Logger

	ids         []string
	query       string
	isActive    bool
	isFinished  bool
	minDuration time.Duration
	isSuccess   bool
	isErrored   bool

	filter netlog.RecordFilter
}

func (cfg *rootConfig) registerBaseFlags(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "config" /* */, Value: ffval.NewValue(&cfg.configFile) /*                                                       */, Usage: "config file, one flag per line" /*                   */, Placeholder: "FILE", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{ShortName: 'l', LongName: "log" /*    */, Value: ffval.NewEnum(&cfg.logLevel, "info", "i", "debug", "d", "trace", "t", "none", "n") /* */, Usage: "log level: i/info, d/debug, t/trace, n/none" /*      */, Placeholder: "LEVEL"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "dir" /*    */, Value: ffval.NewValue(&cfg.dir) /*                                                              */, Usage: "directory of persisted records (default: by --kind)" /* */, Placeholder: "DIR", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{ShortName: 'k', LongName: "kind" /*   */, Value: ffval.NewEnum(&cfg.kind, string(netlogstore.KindNetwork), string(netlogstore.KindFileSystem), string(netlogstore.KindDatabase)) /* */, Usage: "kind of persisted records, within the user cache dir", Placeholder: "KIND"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'o', LongName: "output" /* */, Value: ffval.NewEnum(&cfg.output, "text", "json", "yaml") /*                                    */, Usage: "output format: text, json, yaml" /*                  */, Placeholder: "FORMAT"})
}

func (cfg *rootConfig) registerFilterFlags(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'i', LongName: "id" /*       */, Value: ffval.NewUniqueList(&cfg.ids) /*     */, NoDefault: true, Usage: "record ID (repeatable)"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'q', LongName: "query" /*    */, Value: ffval.NewValue(&cfg.query) /*        */, NoDefault: true, Usage: "query expression", Placeholder: "REGEX"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'a', LongName: "active" /*   */, Value: ffval.NewValue(&cfg.isActive) /*     */, NoDefault: true, Usage: "only active records"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'f', LongName: "finished" /* */, Value: ffval.NewValue(&cfg.isFinished) /*   */, NoDefault: true, Usage: "only finished records"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'd', LongName: "duration" /* */, Value: ffval.NewValue(&cfg.minDuration) /*  */, NoDefault: true, Usage: "only finished records of at least this duration"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "success" /*  */, Value: ffval.NewValue(&cfg.isSuccess) /*    */, NoDefault: true, Usage: "only successful records"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "errored" /*  */, Value: ffval.NewValue(&cfg.isErrored) /*    */, NoDefault: true, Usage: "only errored records"})
}

func (cfg *rootConfig) storeDir() (string, error) {
	if cfg.dir != "" {
		return cfg.dir, nil
	}
	return netlogstore.CacheDir(netlogstore.Kind(cfg.kind))
}

// openStore opens the record store. Commands that only read or write once
// don't need to watch the directory.
func (cfg *rootConfig) openStore(watch bool) (*netlogstore.Store[netlog.Record], error) {
	dir, err := cfg.storeDir()
	if err != nil {
		return nil, err
	}

	cfg.logger.Debug().Str("dir", dir).Bool("watch", watch).Msg("opening store")

	store, err := netlogstore.Open(netlogstore.StoreConfig[netlog.Record]{
		Dir:     dir,
		Name:    netlog.RecordFileName,
		NoWatch: !watch,
		Logger:  &cfg.logger,
		OnError: func(err error) { cfg.logger.Warn().Err(err).Msg("store") },
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return store, nil
}

func (cfg *rootConfig) writeRecords(records []netlog.Record) error {
	switch cfg.output {
	case "json":
		return cfg.writeJSON(records)
	case "yaml":
		return cfg.writeYAML(records)
	}

	tw := tabwriter.NewWriter(cfg.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tSTARTED\tMETHOD\tURL\tSTATUS\tDURATION\tSIZE\n")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Request.Method,
			netlogutil.Truncate(r.Request.URL, 64),
			status(r),
			netlogutil.HumanizeDuration(r.Duration()),
			netlogutil.HumanizeBytes(len(r.Body)),
		)
	}
	return tw.Flush()
}

func (cfg *rootConfig) writeRecord(r netlog.Record) error {
	switch cfg.output {
	case "json":
		return cfg.writeJSON(r)
	case "yaml":
		return cfg.writeYAML(r)
	}

	tw := tabwriter.NewWriter(cfg.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", r.ID)
	fmt.Fprintf(tw, "Request\t%s %s\n", r.Request.Method, r.Request.URL)
	for _, h := range r.Request.Headers {
		fmt.Fprintf(tw, "\t%s: %s\n", h.Key, h.Value)
	}
	fmt.Fprintf(tw, "Started\t%s\n", r.StartedAt.Local().Format(time.RFC3339Nano))
	if r.CompletedAt != nil {
		fmt.Fprintf(tw, "Completed\t%s (%s)\n", r.CompletedAt.Local().Format(time.RFC3339Nano), netlogutil.HumanizeDuration(r.Duration()))
	}
	fmt.Fprintf(tw, "Status\t%s\n", status(r))
	if r.Response != nil {
		for _, h := range r.Response.Headers {
			fmt.Fprintf(tw, "\t%s: %s\n", h.Key, h.Value)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if pretty, ok := r.PrettyBody(); ok {
		fmt.Fprintf(cfg.stdout, "\n%s\n", pretty)
	} else if len(r.Body) > 0 {
		fmt.Fprintf(cfg.stdout, "\n%s\n", r.Body)
	}

	return nil
}

func (cfg *rootConfig) writeJSON(v any) error {
	enc := json.NewEncoder(cfg.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (cfg *rootConfig) writeYAML(v any) error {
	enc := yaml.NewEncoder(cfg.stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func status(r netlog.Record) string {
	switch {
	case r.Error != nil:
		return r.Error.Short()
	case r.Response != nil:
		return r.Status()
	case r.Terminal():
		return "done"
	default:
		return "pending"
	}
}

func findRecord(records []netlog.Record, id netlog.ID) (netlog.Record, bool) {
	for _, r := range records {
		if r.ID == id {
			return r, true
		}
	}
	return netlog.Record{}, false
}
