package main

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/ParthKolekar/DCHub/internal/config"
)

func TestRouteSignals(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	events := make(chan hubEvent, 1)
	go routeSignals(sigCh, events)
	defer close(sigCh)

	stops := []os.Signal{
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
		syscall.SIGABRT, syscall.SIGUSR1, syscall.SIGUSR2,
	}
	for _, sig := range stops {
		sigCh <- sig
		select {
		case ev := <-events:
			if ev.kind != evStop {
				t.Fatalf("expected stop event for %v, got %v", sig, ev.kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("no event for %v", sig)
		}
	}

	sigCh <- syscall.SIGHUP
	select {
	case ev := <-events:
		if ev.kind != evReload {
			t.Fatalf("expected reload event for SIGHUP, got %v", ev.kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event for SIGHUP")
	}
}

func TestUserSignalShutsDownHub(t *testing.T) {
	saved := builtinBots
	builtinBots = nil
	t.Cleanup(func() { builtinBots = saved })

	cfg := config.Default()
	cfg.JoinFloodTime = 0
	dir := t.TempDir()
	cfg.AccountsFile = dir + "/accounts"
	cfg.WelcomeFile = dir + "/welcome"
	cfg.UserCommandsFile = dir + "/usercommands"
	cfg.PidFile = dir + "/hub.pid"
	cfg.Bindings = []config.Binding{{IP: "127.0.0.1", Port: 0}}
	if err := os.WriteFile(cfg.PidFile, []byte("1"), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	h := newHub(cfg, nil)
	watchSignals(h.events)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.mainloop()
	}()

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("hub did not stop on SIGUSR1")
	}
	if _, err := os.Stat(cfg.PidFile); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed at shutdown")
	}
}
