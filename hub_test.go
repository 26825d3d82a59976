package main

import (
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/ParthKolekar/DCHub/internal/config"
)

// newTestHub builds a hub with no bots, no collaborator files, and the join
// flood check disabled. Individual tests tighten what they need.
func newTestHub(t *testing.T) *Hub {
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
	return newHub(cfg, nil)
}

// addTestClient registers a pipe-backed session without starting the I/O
// goroutines, so tests can inspect the outgoing buffer directly.
func addTestClient(t *testing.T, h *Hub, ip string) *User {
	t.Helper()
	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})
	u := newClientUser(h.nextID(), c1)
	u.ip = ip
	u.idstring = ip + ":0/"
	h.setuplimits(u)
	h.sockets[u.id] = u
	return u
}

func loginTestUser(t *testing.T, h *Hub, u *User, nick string) {
	t.Helper()
	h.processcommand(u, "$ValidateNick "+nick)
	h.processcommand(u, fmt.Sprintf("$MyINFO $ALL %s testing$ $56Kbps\x01$user@example.com$1000$", nick))
	if !u.loggedin {
		t.Fatalf("expected %s to be logged in", nick)
	}
}

func sent(u *User) string {
	return string(u.outgoing)
}

func TestLoginFlow(t *testing.T) {
	h := newTestHub(t)
	u := addTestClient(t, h, "10.0.0.1")

	h.processcommand(u, "$ValidateNick Bob")
	if _, ok := h.nicks["Bob"]; !ok {
		t.Fatalf("expected Bob in nick directory after ValidateNick")
	}
	if _, ok := h.users["Bob"]; ok {
		t.Fatalf("Bob must not be logged in before MyINFO")
	}
	if !strings.Contains(sent(u), "$Hello Bob|") {
		t.Fatalf("expected $Hello after ValidateNick, got %q", sent(u))
	}
	if u.validcommands["ValidateNick"] {
		t.Fatalf("ValidateNick must not be reusable after acceptance")
	}

	h.processcommand(u, "$MyINFO $ALL Bob here$ $56Kbps\x01$a@b$2048$")
	if !u.loggedin {
		t.Fatalf("expected Bob logged in after MyINFO")
	}
	if _, ok := h.users["Bob"]; !ok {
		t.Fatalf("expected Bob in user directory")
	}
	out := sent(u)
	if !strings.Contains(out, "$MyINFO $ALL Bob here$ $56Kbps\x01$a@b$2048$|") {
		t.Fatalf("expected MyINFO echo, got %q", out)
	}
	if !strings.Contains(out, "<Welcome> ") {
		t.Fatalf("expected welcome banner, got %q", out)
	}
	if u.sharesize != 2048 {
		t.Fatalf("expected sharesize 2048, got %d", u.sharesize)
	}
}

func TestLoginStateMachineRejectsEarlyCommands(t *testing.T) {
	h := newTestHub(t)
	u := addTestClient(t, h, "10.0.0.2")

	// MyINFO before ValidateNick is a privilege violation and is ignored.
	h.processcommand(u, "$MyINFO $ALL Eve x$ $56Kbps\x01$$0$")
	if u.loggedin {
		t.Fatalf("user must not log in before ValidateNick")
	}
	if len(h.users) != 0 {
		t.Fatalf("expected empty user directory, got %d entries", len(h.users))
	}
}

func TestDirectoryInvariants(t *testing.T) {
	h := newTestHub(t)
	h.accounts["Op1"] = &Account{Nick: "Op1", Password: "secret", Op: true}

	a := addTestClient(t, h, "10.0.0.1")
	loginTestUser(t, h, a, "Alice")
	b := addTestClient(t, h, "10.0.0.2")
	loginTestUser(t, h, b, "Bob")
	o := addTestClient(t, h, "10.0.0.3")
	h.processcommand(o, "$ValidateNick Op1")
	h.processcommand(o, "$MyPass secret")
	h.processcommand(o, "$MyINFO $ALL Op1 boss$ $DSL\x08$$500$")

	check := func() {
		t.Helper()
		for nick := range h.ops {
			if _, ok := h.users[nick]; !ok {
				t.Fatalf("op %s not in users", nick)
			}
		}
		for nick, u := range h.users {
			if _, ok := h.nicks[nick]; !ok {
				t.Fatalf("user %s not in nicks", nick)
			}
			if _, ok := h.sockets[u.id]; !ok && !u.isBot() {
				t.Fatalf("user %s not in sockets", nick)
			}
		}
	}
	check()
	if len(h.ops) != 1 || len(h.users) != 3 {
		t.Fatalf("expected 1 op and 3 users, got %d/%d", len(h.ops), len(h.users))
	}

	h.removeuser(b)
	check()
	h.removeuser(h.users["Op1"])
	check()
	if len(h.ops) != 0 {
		t.Fatalf("expected no ops after removal, got %d", len(h.ops))
	}
	if !strings.Contains(sent(a), "$Quit Bob|") {
		t.Fatalf("expected Quit broadcast for Bob, got %q", sent(a))
	}
}

func TestSessionScopedRemoval(t *testing.T) {
	h := newTestHub(t)
	u1 := addTestClient(t, h, "10.0.0.1")
	loginTestUser(t, h, u1, "Bob")
	h.removeuser(u1)

	u2 := addTestClient(t, h, "10.0.0.2")
	loginTestUser(t, h, u2, "Bob")

	// A stale teardown of the first session must not evict the second.
	h.removeuser(u1)
	if _, ok := h.users["Bob"]; !ok {
		t.Fatalf("second Bob session was removed by stale teardown")
	}
	if h.nicks["Bob"] != u2 {
		t.Fatalf("nick slot does not belong to the second session")
	}
}

func TestDuplicateNick(t *testing.T) {
	h := newTestHub(t)
	u1 := addTestClient(t, h, "10.0.0.1")
	loginTestUser(t, h, u1, "Bob")

	// Same IP: the old session is presumed dead and replaced.
	u2 := addTestClient(t, h, "10.0.0.1")
	h.processcommand(u2, "$ValidateNick Bob")
	if h.nicks["Bob"] != u2 {
		t.Fatalf("expected new session to own the nick")
	}
	if _, ok := h.sockets[u1.id]; ok {
		t.Fatalf("expected old session to be removed")
	}

	// Different IP: the new session is denied, the old one pinged.
	loginTestUser(t, h, u2, "Bob")
	u3 := addTestClient(t, h, "10.0.0.9")
	h.processcommand(u3, "$ValidateNick Bob")
	if !strings.Contains(sent(u3), "$ValidateDenide|") {
		t.Fatalf("expected ValidateDenide, got %q", sent(u3))
	}
	if h.nicks["Bob"] != u2 {
		t.Fatalf("nick owner must not change on denied login")
	}
}

func TestBadNickRejected(t *testing.T) {
	h := newTestHub(t)
	for _, nick := range []string{"", "has space", "do$lar", "a<b", strings.Repeat("x", 26)} {
		u := addTestClient(t, h, "10.0.0.5")
		h.processcommand(u, "$ValidateNick "+nick)
		if !strings.Contains(sent(u), "$ValidateDenide|") {
			t.Fatalf("nick %q: expected ValidateDenide, got %q", nick, sent(u))
		}
	}
}

func TestHubFull(t *testing.T) {
	h := newTestHub(t)
	h.cfg.MaxUsers = 1
	u1 := addTestClient(t, h, "10.0.0.1")
	loginTestUser(t, h, u1, "Alice")

	u2 := addTestClient(t, h, "10.0.0.2")
	h.processcommand(u2, "$ValidateNick Bob")
	h.processcommand(u2, "$MyINFO $ALL Bob x$ $56Kbps\x01$$0$")
	if u2.loggedin {
		t.Fatalf("login must fail when the hub is full")
	}
	if !strings.Contains(sent(u2), "$HubIsFull|") {
		t.Fatalf("expected $HubIsFull, got %q", sent(u2))
	}
	if !u2.ignoremessages {
		t.Fatalf("rejected user must be flagged to ignore messages")
	}
}

func TestHubFullRedirect(t *testing.T) {
	h := newTestHub(t)
	h.cfg.MaxUsers = 0
	h.cfg.HubRedirectWhenFull = "other.hub.example.com"
	u := addTestClient(t, h, "10.0.0.2")
	h.processcommand(u, "$ValidateNick Bob")
	h.processcommand(u, "$MyINFO $ALL Bob x$ $56Kbps\x01$$0$")
	if !strings.Contains(sent(u), "$ForceMove other.hub.example.com|") {
		t.Fatalf("expected redirect, got %q", sent(u))
	}
}

func TestJoinFlood(t *testing.T) {
	h := newTestHub(t)
	h.cfg.JoinFloodTime = 60
	u1 := addTestClient(t, h, "10.0.0.7")
	if err := h.joinfloodcheck(u1, u1.ip); err != nil {
		t.Fatalf("first join must pass, got %v", err)
	}
	u2 := addTestClient(t, h, "10.0.0.7")
	if err := h.joinfloodcheck(u2, u2.ip); err == nil {
		t.Fatalf("second join within the window must be rejected")
	}
	if _, ok := h.sockets[u2.id]; ok {
		t.Fatalf("rejected session must be removed")
	}
}

func TestAccountLogin(t *testing.T) {
	h := newTestHub(t)
	h.accounts["Op1"] = &Account{Nick: "Op1", Password: "secret", Op: true}

	u := addTestClient(t, h, "10.0.0.1")
	h.processcommand(u, "$ValidateNick Op1")
	if !strings.Contains(sent(u), "$GetPass|") {
		t.Fatalf("expected GetPass for registered nick, got %q", sent(u))
	}
	if _, ok := h.nicks["Op1"]; ok {
		t.Fatalf("registered nick must not enter directory before password")
	}

	h.processcommand(u, "$MyPass wrong")
	if !strings.Contains(sent(u), "$BadPass|") {
		t.Fatalf("expected BadPass, got %q", sent(u))
	}
	if !u.ignoremessages {
		t.Fatalf("failed password must flag the session for removal")
	}

	u2 := addTestClient(t, h, "10.0.0.2")
	h.processcommand(u2, "$ValidateNick Op1")
	h.processcommand(u2, "$MyPass secret")
	out := sent(u2)
	if !strings.Contains(out, "$LogedIn Op1|") {
		t.Fatalf("expected LogedIn for op account, got %q", out)
	}
	if !strings.Contains(out, "$Hello Op1|") {
		t.Fatalf("expected Hello after password, got %q", out)
	}
	h.processcommand(u2, "$MyINFO $ALL Op1 boss$ $DSL\x08$$500$")
	if _, ok := h.ops["Op1"]; !ok {
		t.Fatalf("expected Op1 in op directory")
	}
	if !u2.validcommands["Kick"] {
		t.Fatalf("op must have the operator command set")
	}
	if !strings.Contains(sent(u2), "$OpList Op1$$|") {
		t.Fatalf("expected OpList broadcast, got %q", sent(u2))
	}
}

func TestEmptyPasswordAccount(t *testing.T) {
	h := newTestHub(t)
	h.accounts["Guest"] = &Account{Nick: "Guest"}
	u := addTestClient(t, h, "10.0.0.1")
	h.processcommand(u, "$ValidateNick Guest")
	if strings.Contains(sent(u), "$GetPass|") {
		t.Fatalf("passwordless account must skip GetPass")
	}
	if !strings.Contains(sent(u), "$Hello Guest|") {
		t.Fatalf("expected Hello, got %q", sent(u))
	}
	if h.nicks["Guest"] != u {
		t.Fatalf("expected Guest in nick directory")
	}
}

func TestFrameReassembly(t *testing.T) {
	h := newTestHub(t)
	u := addTestClient(t, h, "10.0.0.1")

	feed := func(chunk string) {
		h.handleEvent(hubEvent{kind: evData, userID: u.id, data: []byte(chunk)})
	}
	feed("$Validate")
	if len(u.incoming) != 1 || u.incoming[0] != "$Validate" {
		t.Fatalf("expected open partial, got %q", u.incoming)
	}
	feed("Nick Bob|$Ver")
	if len(u.incoming) != 2 || u.incoming[0] != "$ValidateNick Bob" {
		t.Fatalf("expected one complete frame, got %q", u.incoming)
	}
	feed("sion 1.0091|")
	if len(u.incoming) != 3 || u.incoming[1] != "$Version 1.0091" || u.incoming[2] != "" {
		t.Fatalf("expected two complete frames and empty partial, got %q", u.incoming)
	}
	if len(u.commandtimes) != 2 {
		t.Fatalf("expected 2 command timestamps, got %d", len(u.commandtimes))
	}

	h.processcommands()
	if len(u.incoming) != 1 {
		t.Fatalf("expected drained queue, got %q", u.incoming)
	}
	if h.nicks["Bob"] != u {
		t.Fatalf("expected frames to be dispatched in order")
	}
	if u.version != "1.0091" {
		t.Fatalf("expected version recorded, got %q", u.version)
	}
}

func TestReloadCarriesSessions(t *testing.T) {
	h := newTestHub(t)
	u := addTestClient(t, h, "10.0.0.1")
	loginTestUser(t, h, u, "Bob")
	u.incoming = append(u.incoming, "")
	u.incoming[0] = "$GetNickList"

	h.reloadonexit = true
	h2 := newHub(h.cfg, h.persistentState())
	if h2.nicks["Bob"] != u || h2.users["Bob"] != u {
		t.Fatalf("expected session carried across reload")
	}
	if h2.nextSessionID != h.nextSessionID {
		t.Fatalf("expected session counter carried, got %d vs %d", h2.nextSessionID, h.nextSessionID)
	}
	if h2.events != h.events {
		t.Fatalf("expected events channel carried across reload")
	}
	// The queued frame survives and is processed by the new instance.
	h2.processcommands()
	if !strings.Contains(sent(u), "$NickList Bob$$|") {
		t.Fatalf("expected queued frame processed after reload, got %q", sent(u))
	}
}
