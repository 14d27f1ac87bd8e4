package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/conorfennell/memorymaster/internal/cardstore"
	"github.com/conorfennell/memorymaster/internal/clock"
	"github.com/conorfennell/memorymaster/internal/config"
	"github.com/conorfennell/memorymaster/internal/gitsource"
	"github.com/conorfennell/memorymaster/internal/history"
	"github.com/conorfennell/memorymaster/internal/importer"
	"github.com/conorfennell/memorymaster/internal/logger"
	"github.com/conorfennell/memorymaster/internal/review"
	"github.com/conorfennell/memorymaster/internal/stats"
	"github.com/conorfennell/memorymaster/internal/storage"
	"github.com/conorfennell/memorymaster/internal/storage/redis"
	"github.com/conorfennell/memorymaster/internal/storage/sqlite"
)

const usage = `usage: memorymaster [global flags] <command> [args]

commands:
  seed                                   create the sample decks in an empty store
  deck create|list|update|delete         manage decks
  card add|list|edit|delete              manage cards
  import <deck> <dir or git url>         add cards from markdown files
  due <deck> [--new]                     list cards due for review
  review <deck> <card> <quality>         grade one card (quality 0-5)
  study <deck>                           run an interactive study session
  stats [--deck id] [--range week]       show statistics and achievements
  settings show|set                      view or change study settings
  migrate --target redis|sqlite          copy everything to another backend

global flags:
`

// app holds the services every command works with.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	clock   clock.Clock
	backend storage.Backend
	cards   *cardstore.Store
	history *history.Log
	review  *review.Service
	stats   *stats.Engine
	in      io.Reader
	out     io.Writer
}

func openBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.Backend {
	case "redis":
		return redis.Open(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	default:
		return sqlite.Open(cfg.SQLite.Path)
	}
}

func newApp(cfg *config.Config, log *logger.Logger, backend storage.Backend, clk clock.Clock, in io.Reader, out io.Writer) *app {
	cards := cardstore.New(backend, clk, log)
	hist := history.New(backend)
	return &app{
		cfg:     cfg,
		log:     log,
		clock:   clk,
		backend: backend,
		cards:   cards,
		history: hist,
		review:  review.New(cards, hist, clk, log),
		stats:   stats.New(cards, hist, clk),
		in:      in,
		out:     out,
	}
}

func (a *app) importer() *importer.Importer {
	return importer.New(a.cards, gitsource.New(a.log, nil), a.cfg.Import.CacheDir, a.log)
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	root := pflag.NewFlagSet("memorymaster", pflag.ContinueOnError)
	root.SetOutput(errOut)
	root.SetInterspersed(false)
	root.Usage = func() {
		fmt.Fprint(errOut, usage)
		root.PrintDefaults()
	}
	config.RegisterFlags(root)
	if err := root.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if root.NArg() == 0 {
		root.Usage()
		return 2
	}

	cfg, err := config.Load("", root)
	if err != nil {
		fmt.Fprintf(errOut, "memorymaster: %v\n", err)
		return 1
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(errOut, "memorymaster: %v\n", err)
		return 1
	}
	defer log.Sync()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		log.Error("failed to open storage", "backend", cfg.Backend, "error", err)
		return 1
	}
	defer backend.Close()

	a := newApp(cfg, log, backend, clock.System{}, in, out)
	if err := a.dispatch(ctx, root.Args()); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(errOut, "memorymaster: %v\n", err)
			return 2
		}
		log.Error("command failed", "command", root.Arg(0), "error", err)
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
