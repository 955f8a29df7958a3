// Package main provides lockctl, a command line tool that exercises
// resource locks against the configured lock store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/resource-lock/internal/bootstrap"
	"github.com/kneutral-org/resource-lock/internal/config"
	"github.com/kneutral-org/resource-lock/internal/jobs"
	"github.com/kneutral-org/resource-lock/internal/lock"
	"github.com/kneutral-org/resource-lock/internal/logging"
	"github.com/kneutral-org/resource-lock/internal/orders"
)

const serviceName = "lockctl"

// Exit codes.
const (
	exitSuccess = 0
	exitFailure = 1
	exitInvalid = 2
)

const usage = `usage: lockctl <command> [flags]

commands:
  process-order [--crash] [order-id]   process an order under order_<id>
  long-task                            run the import job, refreshing its lease per row
  blocking-test --hold|--non-blocking|--blocking|--retry
                                       contend for demo_blocking_lock
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr, nil)
	stop()
	os.Exit(code)
}

// run executes one command. A nil manager is built from the environment.
func run(ctx context.Context, args []string, out io.Writer, manager *lock.Manager) int {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return exitInvalid
	}

	cfg := config.Load()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).
		Level(logging.ParseLevel(cfg.LogLevel)).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()

	if manager == nil {
		if err := cfg.Validate(); err != nil {
			logger.Error().Err(err).Msg("invalid configuration")
			return exitInvalid
		}
		store, err := bootstrap.OpenStore(ctx, cfg, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to open lock store")
			return exitFailure
		}
		defer func() { _ = store.Close() }()
		manager = bootstrap.NewManager(store, cfg, logger)
	}

	switch args[0] {
	case "process-order":
		return processOrder(ctx, args[1:], out, manager, logger)
	case "long-task":
		return longTask(ctx, args[1:], out, manager, logger)
	case "blocking-test":
		return blockingTest(ctx, args[1:], out, manager, logger)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return exitSuccess
	default:
		fmt.Fprintf(out, "unknown command %q\n\n%s", args[0], usage)
		return exitInvalid
	}
}

func processOrder(ctx context.Context, args []string, out io.Writer, manager *lock.Manager, logger zerolog.Logger) int {
	fs := flag.NewFlagSet("process-order", flag.ContinueOnError)
	fs.SetOutput(out)
	crash := fs.Bool("crash", false, "simulate a crash during processing")
	work := fs.Duration("work-duration", orders.DefaultWorkDuration, "simulated processing time")
	if err := fs.Parse(args); err != nil {
		return exitInvalid
	}

	orderID := int64(1)
	if fs.NArg() > 0 {
		id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
		if err != nil {
			fmt.Fprintf(out, "invalid order id %q\n", fs.Arg(0))
			return exitInvalid
		}
		orderID = id
	}

	fmt.Fprintf(out, "Processing order #%d\n", orderID)
	if *crash {
		fmt.Fprintln(out, "Simulating a crash during processing.")
	}

	processor := orders.NewProcessor(manager, orders.WithLogger(logger), orders.WithWorkDuration(*work))
	if err := processor.Process(ctx, orderID, *crash); err != nil {
		fmt.Fprintf(out, "An error occurred while processing order %d: %v\n", orderID, err)
		if heldAndReleased(err) {
			fmt.Fprintf(out, "The lock %s has been released.\n", orders.ResourceName(orderID))
		}
		return exitFailure
	}

	fmt.Fprintf(out, "Order %d processed successfully.\n", orderID)
	return exitSuccess
}

// heldAndReleased reports whether a failed Process held the order lock and
// gave it back: it was not busy, not stuck on the store, and not canceled
// before acquisition.
func heldAndReleased(err error) bool {
	return !errors.Is(err, orders.ErrAlreadyProcessing) &&
		!errors.Is(err, lock.ErrStoreUnavailable) &&
		!errors.Is(err, lock.ErrAcquisitionCanceled)
}

func longTask(ctx context.Context, args []string, out io.Writer, manager *lock.Manager, logger zerolog.Logger) int {
	fs := flag.NewFlagSet("long-task", flag.ContinueOnError)
	fs.SetOutput(out)
	rows := fs.Int("rows", jobs.DefaultImportRows, "number of rows to import")
	rowDuration := fs.Duration("row-duration", jobs.DefaultImportRowDuration, "time spent on each row")
	if err := fs.Parse(args); err != nil {
		return exitInvalid
	}

	fmt.Fprintf(out, "Starting long-running import job with a %s lock TTL\n", jobs.ImportTTL)
	job := jobs.NewImportJob(manager,
		jobs.WithImportLogger(logger),
		jobs.WithRows(*rows),
		jobs.WithRowDuration(*rowDuration),
	)
	if err := job.Run(ctx); err != nil {
		fmt.Fprintf(out, "Import job failed: %v\n", err)
		return exitFailure
	}

	fmt.Fprintln(out, "Long-running import job finished successfully.")
	return exitSuccess
}

func blockingTest(ctx context.Context, args []string, out io.Writer, manager *lock.Manager, logger zerolog.Logger) int {
	fs := flag.NewFlagSet("blocking-test", flag.ContinueOnError)
	fs.SetOutput(out)
	hold := fs.Bool("hold", false, "acquire the lock and hold it")
	nonBlocking := fs.Bool("non-blocking", false, "attempt to acquire the lock without waiting")
	blocking := fs.Bool("blocking", false, "attempt to acquire the lock and wait for it")
	retry := fs.Bool("retry", false, "attempt to acquire the lock with a retry loop")
	holdDuration := fs.Duration("hold-duration", jobs.DefaultHoldDuration, "how long --hold keeps the lock")
	retries := fs.Int("retries", jobs.DefaultRetries, "retries made by --retry")
	retryDelay := fs.Duration("retry-delay", jobs.DefaultRetryDelay, "pause between --retry attempts")
	if err := fs.Parse(args); err != nil {
		return exitInvalid
	}

	var mode jobs.Mode
	switch {
	case *hold:
		mode = jobs.ModeHold
	case *nonBlocking:
		mode = jobs.ModeNonBlocking
	case *blocking:
		mode = jobs.ModeBlocking
	case *retry:
		mode = jobs.ModeRetry
	default:
		fmt.Fprintln(out, "You must choose a mode. Use --hold, --non-blocking, --blocking, or --retry.")
		return exitInvalid
	}

	demo := jobs.NewBlockingDemo(manager,
		jobs.WithBlockingLogger(logger),
		jobs.WithHoldDuration(*holdDuration),
		jobs.WithRetryPolicy(lock.FixedRetry(*retries, *retryDelay)),
	)

	fmt.Fprintf(out, "Mode: %s\n", mode)
	outcome, err := demo.Run(ctx, mode)
	switch {
	case errors.Is(err, jobs.ErrUnknownMode):
		fmt.Fprintln(out, err)
		return exitInvalid
	case err != nil:
		fmt.Fprintf(out, "Could not acquire lock: %v\n", err)
		return exitFailure
	case !outcome.Acquired:
		fmt.Fprintln(out, "Could not acquire lock. The resource is busy.")
	case mode == jobs.ModeRetry:
		fmt.Fprintf(out, "Lock acquired after %d retries.\n", outcome.Retries)
	case mode == jobs.ModeBlocking:
		fmt.Fprintf(out, "Lock acquired after waiting %s.\n", outcome.Waited.Round(time.Millisecond))
	default:
		fmt.Fprintln(out, "Done.")
	}
	return exitSuccess
}
