package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/sync/errgroup"

	"github.com/ParthKolekar/DCHub/internal/config"
	"github.com/ParthKolekar/DCHub/internal/httpapi"
	"github.com/ParthKolekar/DCHub/internal/store"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// parseArgs splits the command line into --key=value configuration
// overrides and positional subcommand arguments.
func parseArgs(args []string) (overrides map[string]string, positional []string) {
	overrides = map[string]string{}
	for _, arg := range args {
		if !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
			continue
		}
		key, value, ok := strings.Cut(arg[2:], "=")
		if !ok {
			value = "yes"
		}
		overrides[strings.ToLower(key)] = value
	}
	return overrides, positional
}

// loadConfig resolves the configuration: built-in defaults, then the config
// file, then DCHUB_* environment variables, then command line overrides.
func loadConfig(overrides map[string]string) *config.Config {
	cfg := config.Default()
	if cf, ok := overrides["configfile"]; ok {
		cfg.ConfigFile = cf
	}
	if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("config file does not exist, using defaults", "path", cfg.ConfigFile)
		} else {
			slog.Warn("error loading config file", "path", cfg.ConfigFile, "err", err)
		}
	}
	if err := envconfig.Process("dchub", cfg); err != nil {
		slog.Warn("error reading environment configuration", "err", err)
	}
	for key, value := range overrides {
		if err := cfg.Set(key, value); err != nil {
			slog.Warn("ignoring command line option", "key", key, "err", err)
		}
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	} else if l, err := parseLevel(cfg.LogLevel); err == nil {
		level = l
	}
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Error("cannot open log file, logging to stderr", "path", cfg.LogFile, "err", err)
		} else {
			out = f
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
}

func run(args []string) int {
	overrides, positional := parseArgs(args)
	cfg := loadConfig(overrides)
	if RunCLI(positional, cfg.HistoryDB) {
		return 0
	}
	setupLogging(cfg)
	slog.Info("starting hub", "version", hubVersion, "name", cfg.Name)

	if cfg.PidFile != "" {
		if err := os.WriteFile(cfg.PidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			slog.Warn("cannot write pid file", "path", cfg.PidFile, "err", err)
		}
	}

	var recorder *historyRecorder
	if cfg.HistoryDB != "" {
		st, err := store.Open(cfg.HistoryDB)
		if err != nil {
			slog.Error("open history store", "err", err)
			return 1
		}
		recorder = newHistoryRecorder(st)
		defer func() {
			if err := recorder.Close(); err != nil {
				slog.Error("close history store", "err", err)
			}
		}()
	}

	hub := newHub(cfg, nil)
	hub.recorder = recorder

	// The events channel survives reloads, so the signal goroutine holds
	// the channel rather than the hub.
	events := hub.events
	watchSignals(events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		for {
			if err := hub.mainloop(); err != nil {
				return fmt.Errorf("hub: %w", err)
			}
			if !hub.reloadonexit {
				return nil
			}
			hub = reloadHub(hub, overrides)
		}
	})

	if cfg.HTTPAddr != "" {
		api := httpapi.New(snapshotSource{events: events})
		addr := cfg.HTTPAddr
		g.Go(func() error {
			slog.Info("http api listening", "addr", addr)
			return api.Run(ctx, addr)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("fatal error", "err", err)
		return 1
	}
	slog.Info("hub stopped")
	return 0
}

// watchSignals registers the process signal handlers and routes them to
// hub events: SIGHUP requests a reload, everything else an orderly stop.
func watchSignals(events chan<- hubEvent) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
		syscall.SIGABRT, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGHUP)
	go routeSignals(sigCh, events)
}

func routeSignals(sigCh <-chan os.Signal, events chan<- hubEvent) {
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			events <- hubEvent{kind: evReload}
			continue
		}
		slog.Info("received signal, shutting down", "signal", sig.String())
		events <- hubEvent{kind: evStop}
	}
}

// reloadHub builds a replacement hub carrying the old one's sessions. If
// anything goes wrong the old hub continues as if the reload never
// happened.
func reloadHub(old *Hub, overrides map[string]string) (next *Hub) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("error reloading hub, continuing with current instance", "err", r)
			next = old
			next.handlereloaderror()
		}
	}()
	cfg := loadConfig(overrides)
	next = newHub(cfg, old.persistentState())
	next.recorder = old.recorder
	slog.Info("hub reloaded")
	return next
}
