package main

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ParthKolekar/DCHub/internal/config"
)

// startTestHub runs a full hub on a loopback port and returns its address.
func startTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	saved := builtinBots
	builtinBots = nil
	t.Cleanup(func() { builtinBots = saved })

	cfg := config.Default()
	cfg.JoinFloodTime = 0
	cfg.MaxUsers = 10
	dir := t.TempDir()
	cfg.AccountsFile = dir + "/accounts"
	cfg.WelcomeFile = dir + "/welcome"
	cfg.UserCommandsFile = dir + "/usercommands"
	cfg.Bindings = []config.Binding{{IP: "127.0.0.1", Port: 0}}

	h := newHub(cfg, nil)
	if err := h.setuplisteners(); err != nil {
		t.Fatalf("setuplisteners: %v", err)
	}
	addr := h.listeners[0].Addr().String()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.mainloop()
	}()
	t.Cleanup(func() {
		h.events <- hubEvent{kind: evStop}
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("hub did not shut down")
		}
	})
	return h, addr
}

// readUntil reads frames from conn until the wanted substring shows up.
func readUntil(t *testing.T, conn net.Conn, want string) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var b strings.Builder
	buf := make([]byte, 4096)
	for {
		if strings.Contains(b.String(), want) {
			return b.String()
		}
		n, err := conn.Read(buf)
		if n > 0 {
			b.Write(buf[:n])
		}
		if err != nil {
			t.Fatalf("waiting for %q, got %q (err: %v)", want, b.String(), err)
		}
	}
}

func dialHub(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn net.Conn, frames string) {
	t.Helper()
	if _, err := conn.Write([]byte(frames)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestEndToEndLogin(t *testing.T) {
	_, addr := startTestHub(t)
	conn := dialHub(t, addr)

	greeting := readUntil(t, conn, "$HubName ")
	if !strings.Contains(greeting, "$Lock "+lockString) {
		t.Fatalf("expected lock in greeting, got %q", greeting)
	}

	send(t, conn, "$Key abc|$ValidateNick Eve|")
	readUntil(t, conn, "$Hello Eve|")

	send(t, conn, "$MyINFO $ALL Eve testing$ $56Kbps\x01$$4096$|")
	out := readUntil(t, conn, "<Welcome> ")
	if !strings.Contains(out, "$MyINFO $ALL Eve testing$ $56Kbps\x01$$4096$|") {
		t.Fatalf("expected MyINFO echo, got %q", out)
	}

	send(t, conn, "$GetNickList|")
	readUntil(t, conn, "$NickList Eve$$|")
}

func TestEndToEndChatBetweenClients(t *testing.T) {
	_, addr := startTestHub(t)

	login := func(nick string) net.Conn {
		conn := dialHub(t, addr)
		readUntil(t, conn, "$HubName ")
		send(t, conn, fmt.Sprintf("$ValidateNick %s|", nick))
		readUntil(t, conn, fmt.Sprintf("$Hello %s|", nick))
		send(t, conn, fmt.Sprintf("$MyINFO $ALL %s e2e$ $56Kbps\x01$$0$|", nick))
		readUntil(t, conn, "<Welcome> ")
		return conn
	}
	alice := login("Alice")
	bob := login("Bob")

	// Bob's login reaches Alice before any chat.
	readUntil(t, alice, "$MyINFO $ALL Bob ")

	send(t, alice, "<Alice> hi everyone|")
	readUntil(t, bob, "<Alice> hi everyone|")
	readUntil(t, alice, "<Alice> hi everyone|")

	send(t, bob, "$To: Alice From: Bob $<Bob> hello in private|")
	out := readUntil(t, alice, "$To: Alice From: Bob $<Bob> hello in private|")
	if strings.Contains(out, "$To: Bob") {
		t.Fatalf("private message leaked, got %q", out)
	}
}

func TestEndToEndDisconnectBroadcastsQuit(t *testing.T) {
	_, addr := startTestHub(t)

	conn := dialHub(t, addr)
	readUntil(t, conn, "$HubName ")
	send(t, conn, "$ValidateNick Alice|$MyINFO $ALL Alice e2e$ $56Kbps\x01$$0$|")
	readUntil(t, conn, "<Welcome> ")

	other := dialHub(t, addr)
	readUntil(t, other, "$HubName ")
	send(t, other, "$ValidateNick Bob|$MyINFO $ALL Bob e2e$ $56Kbps\x01$$0$|")
	readUntil(t, other, "<Welcome> ")

	other.Close()
	readUntil(t, conn, "$Quit Bob|")
}
