// netlog is a CLI tool for inspecting recorded network calls, both persisted
// to disk and streamed from a running netlog web server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/peterbourgon/netlog"
	"github.com/rs/zerolog"
)

func main() {
	var (
		ctx    = context.Background()
		stdin  = os.Stdin
		stdout = os.Stdout
		stderr = os.Stderr
		args   = os.Args[1:]
	)
	err := exec(ctx, stdin, stdout, stderr, args)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.As(err, &(run.SignalError{})):
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func exec(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) (err error) {
	rootConfig := &rootConfig{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}

	rootFlags := ff.NewFlagSet("netlog")
	rootConfig.registerBaseFlags(rootFlags)

	filterFlags := ff.NewFlagSet("filter").SetParent(rootFlags)
	rootConfig.registerFilterFlags(filterFlags)

	rootCommand := &ff.Command{
		Name:      "netlog",
		ShortHelp: "inspect recorded network calls",
		Flags:     rootFlags,
	}

	// Config for `netlog ls`.
	listConfig := &listConfig{rootConfig: rootConfig}
	listFlags := ff.NewFlagSet("ls").SetParent(filterFlags)
	listConfig.register(listFlags)
	listCommand := &ff.Command{
		Name:      "ls",
		ShortHelp: "list persisted records",
		LongHelp:  "List persisted records that match the provided filter flags, newest first.",
		Flags:     listFlags,
		Exec:      listConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, listCommand)

	// Config for `netlog show`.
	showConfig := &showConfig{rootConfig: rootConfig}
	showFlags := ff.NewFlagSet("show").SetParent(rootFlags)
	showCommand := &ff.Command{
		Name:      "show",
		Usage:     "netlog show [FLAGS] ID",
		ShortHelp: "show a single persisted record",
		Flags:     showFlags,
		Exec:      showConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, showCommand)

	// Config for `netlog rm`.
	removeConfig := &removeConfig{rootConfig: rootConfig}
	removeFlags := ff.NewFlagSet("rm").SetParent(rootFlags)
	removeCommand := &ff.Command{
		Name:      "rm",
		Usage:     "netlog rm [FLAGS] ID [ID ...]",
		ShortHelp: "delete persisted records",
		Flags:     removeFlags,
		Exec:      removeConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, removeCommand)

	// Config for `netlog watch`.
	watchConfig := &watchConfig{rootConfig: rootConfig}
	watchFlags := ff.NewFlagSet("watch").SetParent(rootFlags)
	watchCommand := &ff.Command{
		Name:      "watch",
		ShortHelp: "print changes to the persisted records as they happen",
		Flags:     watchFlags,
		Exec:      watchConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, watchCommand)

	// Config for `netlog tail`.
	tailConfig := &tailConfig{rootConfig: rootConfig}
	tailFlags := ff.NewFlagSet("tail").SetParent(filterFlags)
	tailConfig.register(tailFlags)
	tailCommand := &ff.Command{
		Name:      "tail",
		ShortHelp: "stream live records from a netlog web server",
		Flags:     tailFlags,
		Exec:      tailConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, tailCommand)

	// Config for `netlog demo`.
	demoConfig := &demoConfig{rootConfig: rootConfig}
	demoFlags := ff.NewFlagSet("demo").SetParent(rootFlags)
	demoConfig.register(demoFlags)
	demoCommand := &ff.Command{
		Name:      "demo",
		ShortHelp: "record a stream of generated calls, and serve them over HTTP",
		Flags:     demoFlags,
		Exec:      demoConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, demoCommand)

	// Print help when appropriate.
	showHelp := true
	defer func() {
		errHelp := errors.Is(err, ff.ErrHelp) || errors.Is(err, ff.ErrNoExec)
		if showHelp || errHelp {
			fmt.Fprintf(stderr, "\n%s\n", ffhelp.Command(rootCommand))
		}
		if errHelp {
			err = nil
		}
	}()

	// Initial parsing.
	if err := rootCommand.Parse(args,
		ff.WithEnvVarPrefix("NETLOG"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		return err
	}

	// Validation and set-up.
	{
		var level zerolog.Level
		switch rootConfig.logLevel {
		case "n", "none":
			level = zerolog.Disabled
		case "i", "info":
			level = zerolog.InfoLevel
		case "d", "debug":
			level = zerolog.DebugLevel
		case "t", "trace":
			level = zerolog.TraceLevel
		default:
			return fmt.Errorf("invalid log level %q", rootConfig.logLevel)
		}
		rootConfig.logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        stderr,
			TimeFormat: time.TimeOnly,
		}).Level(level).With().Timestamp().Logger()
	}

	{
		var minDuration *time.Duration
		if f, ok := filterFlags.GetFlag("duration"); ok && f.IsSet() {
			rootConfig.logger.Debug().Dur("duration", rootConfig.minDuration).Msg("using --duration")
			minDuration = &rootConfig.minDuration
		}

		var ids []netlog.ID
		for _, id := range rootConfig.ids {
			ids = append(ids, netlog.ID(id))
		}

		rootConfig.filter = netlog.RecordFilter{
			IDs:         ids,
			IsActive:    rootConfig.isActive,
			IsFinished:  rootConfig.isFinished,
			MinDuration: minDuration,
			IsSuccess:   rootConfig.isSuccess,
			IsErrored:   rootConfig.isErrored,
			Query:       rootConfig.query,
		}
	}

	// Run errors shouldn't show help by default.
	showHelp = false

	// Run the selected command.
	return rootCommand.Run(ctx)
}
