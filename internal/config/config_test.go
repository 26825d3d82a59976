package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf")
	writeFile(t, path, `
# main hub settings
[dchub]
name = Test Hub
port = 4111
maxusers = 42
debug = yes
unknownkey = whatever

[dchub-userlimits]
maxmessagesize = 200
bogus = 5

[dchub-loglevels]
badcommand = warn

[dchub-bindings]
extra = 127.0.0.1:4112
`)
	cfg := Default()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Name != "Test Hub" || cfg.Port != 4111 || cfg.MaxUsers != 42 {
		t.Fatalf("expected file values applied, got %+v", cfg)
	}
	if !cfg.Debug {
		t.Fatalf("expected debug enabled")
	}
	if cfg.UserLimits["maxmessagesize"] != 200 {
		t.Fatalf("expected limit override, got %d", cfg.UserLimits["maxmessagesize"])
	}
	if _, ok := cfg.UserLimits["bogus"]; ok {
		t.Fatalf("unknown limits must be ignored")
	}
	if cfg.LogLevels["badcommand"] != "warn" {
		t.Fatalf("expected log level override")
	}
	if len(cfg.Bindings) != 1 || cfg.Bindings[0].Port != 4112 {
		t.Fatalf("expected extra binding, got %+v", cfg.Bindings)
	}
}

func TestSaveKeepsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf")
	writeFile(t, path, `# hand-written header comment
[dchub]
; the public name
name = Old Name
port = 411
`)
	cfg := Default()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	cfg.Name = "New Name"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "hand-written header comment") {
		t.Fatalf("expected comments preserved, got:\n%s", content)
	}
	if !strings.Contains(content, "New Name") {
		t.Fatalf("expected new value written, got:\n%s", content)
	}
	if _, err := os.Stat(path + ".old"); !os.IsNotExist(err) {
		t.Fatalf("expected rotation file cleaned up")
	}
}

func TestSetUnknownKey(t *testing.T) {
	cfg := Default()
	if err := cfg.Set("nosuchoption", "1"); err == nil {
		t.Fatalf("expected error for unknown option")
	}
	if err := cfg.Set("port", "notanumber"); err == nil {
		t.Fatalf("expected error for bad value")
	}
}

func TestTruthy(t *testing.T) {
	for _, v := range []string{"yes", "y", "true", "1", "Yep"} {
		if !truthy(v) {
			t.Fatalf("expected %q to be truthy", v)
		}
	}
	for _, v := range []string{"no", "0", "false", ""} {
		if truthy(v) {
			t.Fatalf("expected %q to be falsy", v)
		}
	}
}

func TestLoadAccounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts")
	writeFile(t, path, `[dchub-accounts]
Admin = secret|y|massmessage
Guest = |n|
`)
	accounts, err := LoadAccounts(path)
	if err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}
	admin := accounts["Admin"]
	if admin == nil || !admin.Op || admin.Password != "secret" || admin.Args != "massmessage" {
		t.Fatalf("unexpected admin account: %+v", admin)
	}
	guest := accounts["Guest"]
	if guest == nil || guest.Op || guest.Password != "" {
		t.Fatalf("unexpected guest account: %+v", guest)
	}
}

func TestSaveAccountsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts")
	writeFile(t, path, `# registered users
[dchub-accounts]
Old = gone|n|
`)
	accounts := map[string]*Account{
		"Admin": {Nick: "Admin", Password: "pw", Op: true, Args: "x"},
	}
	if err := SaveAccounts(path, accounts); err != nil {
		t.Fatalf("SaveAccounts: %v", err)
	}
	loaded, err := LoadAccounts(path)
	if err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}
	if _, ok := loaded["Old"]; ok {
		t.Fatalf("removed account must be deleted from the file")
	}
	if loaded["Admin"] == nil || !loaded["Admin"].Op {
		t.Fatalf("expected Admin round-tripped, got %+v", loaded["Admin"])
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "registered users") {
		t.Fatalf("expected comments preserved")
	}
}

func TestLoadUserCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usercommands")
	writeFile(t, path, `[dchub-usercommands]
Rules = 1 1.5 1 3 <%[mynick]> !rules|
`)
	commands, err := LoadUserCommands(path)
	if err != nil {
		t.Fatalf("LoadUserCommands: %v", err)
	}
	uc := commands["Rules"]
	if uc == nil {
		t.Fatalf("expected Rules command loaded")
	}
	if uc.Permission != 1 || uc.Position != 1.5 || uc.Type != 1 || uc.Context != 3 {
		t.Fatalf("unexpected fields: %+v", uc)
	}
	if !strings.HasPrefix(uc.Command, "$UserCommand 1 3 ") {
		t.Fatalf("expected rendered frame, got %q", uc.Command)
	}
	if !strings.Contains(uc.Command, "&#124;") {
		t.Fatalf("expected | escaped, got %q", uc.Command)
	}
}
