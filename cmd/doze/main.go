// Command doze is the CLI front-end named in spec.md §6: a worker runner
// and a job producer over the same App. No cobra/urfave-cli dependency is
// used — no subcommand-framework exemplar appears anywhere in the
// retrieved pack, so this follows the stdlib flag package with hand-rolled
// subcommand dispatch, recorded as the stdlib-justified exception in
// DESIGN.md.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/doze-run/doze"
	"github.com/doze-run/doze/connector"
	"github.com/doze-run/doze/registry"
	"github.com/doze-run/doze/worker"
)

// verbosity counts repeated -v flags (stackable verbosity, spec.md §6). -v
// is a global flag that can appear anywhere before or after the subcommand
// name, so it's stripped out of argv before subcommand-specific flag
// parsing ever sees it.
type verbosity int

func splitVerbosity(argv []string) (verbosity, []string) {
	var v verbosity
	rest := make([]string, 0, len(argv))
	for _, a := range argv {
		if a == "-v" || a == "--v" {
			v++
			continue
		}
		rest = append(rest, a)
	}
	return v, rest
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: doze <worker|defer|migrate> [flags]")
		os.Exit(2)
	}

	verbose, argv := splitVerbosity(os.Args[1:])
	if len(argv) < 1 {
		fmt.Fprintln(os.Stderr, "usage: doze <worker|defer|migrate> [flags]")
		os.Exit(2)
	}
	cmd := argv[0]
	args := argv[1:]

	logger := newLogger(verbose)

	cfg := doze.ConfigFromEnv()
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DOZE_DATABASE_URL must be set")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to database")
	}
	defer pool.Close()

	conn := connector.NewPgx(pool)
	reg := registry.New()
	registerDemoTasks(reg)
	app := doze.NewApp(conn, reg, logger)

	var cmdErr error
	switch cmd {
	case "worker":
		cmdErr = runWorker(app, args)
	case "defer":
		cmdErr = runDefer(app, args)
	case "migrate":
		cmdErr = app.Migrate(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}

	if cmdErr != nil {
		if errors.Is(cmdErr, doze.ErrAlreadyEnqueued) {
			os.Exit(1)
		}
		logger.Error().Err(cmdErr).Msg("command failed")
		os.Exit(1)
	}
}

func newLogger(v verbosity) zerolog.Logger {
	level := zerolog.InfoLevel
	switch {
	case v >= 2:
		level = zerolog.TraceLevel
	case v == 1:
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}

func runWorker(app *doze.App, args []string) error {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	name := fs.String("name", "", "worker instance name (for logging only)")
	queuesFlag := fs.String("queues", "", "comma-separated queue list; empty means all queues")
	concurrency := fs.Int("concurrency", 1, "number of fetch/dispatch loops")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var queues []string
	if *queuesFlag != "" {
		queues = strings.Split(*queuesFlag, ",")
	}

	p, err := worker.NewPool(app, *concurrency, queues...)
	if err != nil {
		return err
	}
	logger := app.Logger().With().Str("worker_name", *name).Str("pool_id", p.ID).Logger()

	// First SIGINT/SIGTERM is the soft signal: stop fetching, let the
	// in-flight job finish. Second is the hard signal: cancel runCtx, which
	// propagates to the in-flight task (spec.md §4.4's two-stage shutdown).
	runCtx, cancelRun := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("soft shutdown requested, draining in-flight jobs")
		p.Stop()
		<-sigCh
		logger.Warn().Msg("hard shutdown requested, cancelling in-flight jobs")
		cancelRun()
	}()
	defer signal.Stop(sigCh)

	logger.Info().Strs("queues", queues).Msg("worker starting")
	return p.Run(runCtx)
}

func runDefer(app *doze.App, args []string) error {
	fs := flag.NewFlagSet("defer", flag.ExitOnError)
	lock := fs.String("lock", "", "mutual-exclusion lock key")
	queueingLock := fs.String("queueing-lock", "", "queueing lock key")
	ignoreAlready := fs.Bool("ignore-already-enqueued", false, "exit 0 on AlreadyEnqueued")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("doze: defer requires a task name")
	}
	taskName := rest[0]

	payload := map[string]any{}
	for _, kv := range rest[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("doze: invalid payload argument %q, want key=value", kv)
		}
		payload[k] = parseScalar(v)
	}

	var opts []doze.JobOption
	if *lock != "" {
		opts = append(opts, doze.WithLock(*lock))
	}
	if *queueingLock != "" {
		opts = append(opts, doze.WithQueueingLock(*queueingLock))
	}

	id, err := app.Defer(context.Background(), taskName, payload, opts...)
	if err != nil {
		if errors.Is(err, doze.ErrAlreadyEnqueued) && *ignoreAlready {
			return nil
		}
		return err
	}
	fmt.Printf("deferred job %d\n", id)
	return nil
}

func parseScalar(v string) any {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	var raw json.RawMessage
	if json.Unmarshal([]byte(v), &raw) == nil {
		return raw
	}
	return v
}
