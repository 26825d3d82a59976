package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/ini.v1"
)

// Account is one registered nick. Ops get the operator command set at
// login; Args is a free-form field consulted by user-command permissions.
type Account struct {
	Nick     string
	Password string
	Op       bool
	Args     string
}

// LoadAccounts reads the [dchub-accounts] section. Each value has the form
// password|opflag|args, with the op flag truthy when it starts with y, t,
// or 1.
func LoadAccounts(path string) (map[string]*Account, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load accounts file: %w", err)
	}
	accounts := make(map[string]*Account)
	sec, err := f.GetSection("dchub-accounts")
	if err != nil {
		return accounts, nil
	}
	for nick, value := range sec.KeysHash() {
		parts := strings.SplitN(value, "|", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("account %q: value is not password|opflag|args", nick)
		}
		accounts[nick] = &Account{
			Nick:     nick,
			Password: parts[0],
			Op:       truthy(parts[1]),
			Args:     parts[2],
		}
	}
	return accounts, nil
}

// SaveAccounts rewrites the accounts file atomically, preserving comments
// from the existing file.
func SaveAccounts(path string, accounts map[string]*Account) error {
	f, err := ini.Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read existing accounts: %w", err)
		}
		f = ini.Empty()
	}
	sec := f.Section("dchub-accounts")
	for _, key := range sec.KeyStrings() {
		if _, ok := accounts[key]; !ok {
			sec.DeleteKey(key)
		}
	}
	for nick, acct := range accounts {
		op := "n"
		if acct.Op {
			op = "y"
		}
		sec.Key(nick).SetValue(acct.Password + "|" + op + "|" + acct.Args)
	}
	return atomicReplace(path, func(tmp string) error {
		return f.SaveTo(tmp)
	})
}

// LoadWelcome reads the raw welcome banner text.
func LoadWelcome(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("load welcome file: %w", err)
	}
	return string(data), nil
}
