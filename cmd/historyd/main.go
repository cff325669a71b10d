// Command historyd is a small demo host for the history backend: it does
// not speak IRC, it only exercises add/request/tick/mode-del/capability the
// way a real messaging server's channel-history hooks would, so the module
// is runnable outside of its test suite.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/irchistory/memhistory/internal/backend"
	"github.com/irchistory/memhistory/internal/config"
	"github.com/irchistory/memhistory/internal/env"
	"github.com/irchistory/memhistory/internal/logstore"
)

// demoChannels stands in for the set of channels the host already knows
// about at startup, registered via SetLimit before persistence is loaded.
var demoChannels = []string{"#general", "#ops"}

type program struct {
	cfg          config.Config
	baseDir      string
	tickInterval time.Duration
}

func (p *program) registerFlags(fs *flag.FlagSet) {
	p.cfg.RegisterFlags(fs)

	fs.StringVar(&p.baseDir, "base-dir",
		env.GetWithFallback("HISTORY_BASE_DIR", "."),
		"Permanent-data root the directory flag is resolved against. Defaults to $HISTORY_BASE_DIR.")

	fs.DurationVar(&p.tickInterval, "tick-interval",
		env.MustGetDuration("HISTORY_TICK_INTERVAL", backend.TickInterval),
		"Interval between cleaner ticks. Defaults to $HISTORY_TICK_INTERVAL or the spec-recommended pacing.")
}

func (p *program) run(ctx context.Context, logger *slog.Logger) error {
	if err := p.cfg.PostTest(p.baseDir); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	b, err := backend.New(p.cfg, p.baseDir, logger)
	if err != nil {
		return err
	}

	for _, name := range demoChannels {
		b.SetLimit(name, logstore.DefaultMaxLines, logstore.DefaultMaxTime)
		b.SetPersistEligible(name, p.cfg.Persist)
	}

	if err := b.LoadPersistence(ctx, func(name string) bool {
		for _, c := range demoChannels {
			if c == name {
				return true
			}
		}

		return false
	}); err != nil {
		return fmt.Errorf("loading persistence: %w", err)
	}

	logger.Info("Capability advertised", slog.String("value", backend.Capability(p.cfg.Persist)))

	b.Add("#general", nil, "hello, world")
	b.Add("#general", []logstore.Tag{{Name: "foo", Value: "bar"}}, "tagged message")
	b.Add("#ops", nil, "deploy starting")

	if res := b.Request("#general", logstore.Filter{LastLines: 10}); res != nil {
		logger.Info("Replay", slog.String("object", res.Name), slog.Int("lines", len(res.Lines)))
	}

	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()

	awaitTick := func() error {
		select {
		case <-ticker.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := awaitTick(); err != nil {
		return fmt.Errorf("waiting for cleaner tick: %w", err)
	}

	b.Tick()

	b.OnModeCharDel("#ops", 'P')

	if err := awaitTick(); err != nil {
		return fmt.Errorf("waiting for cleaner tick: %w", err)
	}

	b.Tick()

	logger.Info("Statistics", b.Stats.Attrs()...)

	return nil
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	fs.Usage = func() {
		w := fs.Output()

		fmt.Fprintf(w, "Usage: %s [flags]\n\n", os.Args[0])
		fmt.Fprintln(w, "Demo host for the channel message-history backend.\n\nFlags:")
		fs.PrintDefaults()
	}

	debug := fs.Bool("debug", false, "Enable debug logging.")

	var logLevel slog.LevelVar

	logHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: &logLevel,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	var p program
	p.registerFlags(fs)

	fs.Parse(os.Args[1:])

	if *debug {
		logLevel.Set(slog.LevelDebug)
	}

	logBuildInfo(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.run(ctx, logger); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
