// Package config loads and rewrites the hub's INI-shaped collaborator files:
// the main configuration, the accounts file, and the usercommands file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// Permission bits for user commands.
const (
	PermRegular     = 1 // any logged-in user
	PermOp          = 2 // operators only
	PermAccountArgs = 4 // account must name the command in its args field
	PermExcludeBots = 8 // suppressed unless a bot with that name is loaded
)

// Binding is one ip:port listen address from [dchub-bindings].
type Binding struct {
	IP   string
	Port int
}

// Config holds every hub setting from the [dchub] section, plus the
// per-user limits, per-class log levels, and extra listen bindings.
// Environment variables (DCHUB_*) overlay the scalar fields.
type Config struct {
	Port                int    `envconfig:"PORT"`
	IP                  string `envconfig:"IP"`
	Name                string `envconfig:"NAME"`
	Debug               bool   `envconfig:"DEBUG"`
	LogLevel            string `envconfig:"LOGLEVEL"`
	LogFile             string `envconfig:"LOGFILE"`
	MaxUsers            int    `envconfig:"MAXUSERS"`
	JoinFloodTime       int    `envconfig:"JOINFLOODTIME"`
	HubRedirectWhenFull string `envconfig:"HUBREDIRECTWHENFULL"`
	HandleSlashMe       bool   `envconfig:"HANDLESLASHME"`
	NotifySpammers      bool   `envconfig:"NOTIFYSPAMMERS"`
	BufferSize          int    `envconfig:"BUFFERSIZE"`
	PidFile             string `envconfig:"PIDFILE"`
	HTTPAddr            string `envconfig:"HTTPADDR"`
	HistoryDB           string `envconfig:"HISTORYDB"`
	ConfigFile          string `envconfig:"CONFIGFILE"`
	AccountsFile        string `envconfig:"ACCOUNTSFILE"`
	WelcomeFile         string `envconfig:"WELCOMEFILE"`
	UserCommandsFile    string `envconfig:"USERCOMMANDSFILE"`

	Bindings   []Binding         `ignored:"true"`
	UserLimits map[string]int    `ignored:"true"`
	LogLevels  map[string]string `ignored:"true"`
}

// DefaultUserLimits are the per-user limits every connection starts with.
func DefaultUserLimits() map[string]int {
	return map[string]int{
		"maxcommandsize":              25000,
		"maxqueuedcommands":           20,
		"maxcommandspertimeperiod":    20,
		"maxdescriptionlength":        50,
		"maxtaglength":                50,
		"maxnicklength":               25,
		"maxemaillength":              50,
		"minsharesize":                0,
		"maxmessagesize":              500,
		"maxnewlinespermessage":       5,
		"maxcharacterspertimeperiod":  1000,
		"maxmessagespertimeperiod":    10,
		"maxnewlinespertimeperiod":    10,
		"maxsearchespertimeperiod":    10,
		"maxsearchsize":               500,
		"maxmyinfopertimeperiod":      3,
		"pingtime":                    300,
		"timeperiod":                  60,
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:             411,
		IP:               "",
		Name:             "go-dchub",
		Debug:            false,
		LogLevel:         "info",
		MaxUsers:         500,
		JoinFloodTime:    60,
		BufferSize:       1024,
		ConfigFile:       "conf",
		AccountsFile:     "accounts",
		WelcomeFile:      "welcome",
		UserCommandsFile: "usercommands",
		UserLimits:       DefaultUserLimits(),
		LogLevels:        map[string]string{},
	}
}

// truthy mirrors the file format's boolean convention: the value is true
// when its first character is one of y, t, or 1.
func truthy(v string) bool {
	if v == "" {
		return false
	}
	switch strings.ToLower(v[:1]) {
	case "y", "t", "1":
		return true
	}
	return false
}

// Set applies one key=value option to the configuration. Both the [dchub]
// section and --key=value command line arguments route through here, so the
// two surfaces always recognize the same keys.
func (c *Config) Set(key, value string) error {
	var err error
	switch key {
	case "port":
		c.Port, err = strconv.Atoi(value)
	case "ip":
		c.IP = value
	case "name":
		c.Name = value
	case "debug":
		c.Debug = truthy(value)
	case "loglevel":
		c.LogLevel = value
	case "logfile":
		c.LogFile = value
	case "maxusers":
		c.MaxUsers, err = strconv.Atoi(value)
	case "joinfloodtime":
		c.JoinFloodTime, err = strconv.Atoi(value)
	case "hubredirectwhenfull":
		c.HubRedirectWhenFull = value
	case "handleslashme":
		c.HandleSlashMe = truthy(value)
	case "notifyspammers":
		c.NotifySpammers = truthy(value)
	case "buffersize":
		c.BufferSize, err = strconv.Atoi(value)
	case "pidfile":
		c.PidFile = value
	case "httpaddr":
		c.HTTPAddr = value
	case "historydb":
		c.HistoryDB = value
	case "configfile":
		c.ConfigFile = value
	case "accountsfile":
		c.AccountsFile = value
	case "welcomefile":
		c.WelcomeFile = value
	case "usercommandsfile":
		c.UserCommandsFile = value
	default:
		return fmt.Errorf("unknown configuration option %q", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value %q for option %q: %w", value, key, err)
	}
	return nil
}

// LoadFile merges the INI configuration file into c. Unknown keys and
// unparsable values produce warnings, never errors; a missing file is an
// error so the caller can decide how loud to be about it.
func (c *Config) LoadFile(path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}
	if sec, err := f.GetSection("dchub"); err == nil {
		for key, value := range sec.KeysHash() {
			if err := c.Set(key, value); err != nil {
				slog.Warn("invalid configuration option", "key", key, "err", err)
			}
		}
	}
	if sec, err := f.GetSection("dchub-userlimits"); err == nil {
		for key, value := range sec.KeysHash() {
			if _, ok := c.UserLimits[key]; !ok {
				slog.Warn("unknown user limit", "key", key)
				continue
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				slog.Warn("invalid user limit value", "key", key, "value", value)
				continue
			}
			c.UserLimits[key] = n
		}
	}
	if sec, err := f.GetSection("dchub-loglevels"); err == nil {
		for key, value := range sec.KeysHash() {
			c.LogLevels[key] = value
		}
	}
	if sec, err := f.GetSection("dchub-bindings"); err == nil {
		for key, value := range sec.KeysHash() {
			b, err := parseBinding(value)
			if err != nil {
				slog.Warn("invalid binding", "key", key, "value", value)
				continue
			}
			c.Bindings = append(c.Bindings, b)
		}
	}
	return nil
}

func parseBinding(v string) (Binding, error) {
	host, portstr, ok := strings.Cut(v, ":")
	if !ok {
		return Binding{}, fmt.Errorf("binding %q is not ip:port", v)
	}
	port, err := strconv.Atoi(portstr)
	if err != nil {
		return Binding{}, fmt.Errorf("binding port %q: %w", portstr, err)
	}
	return Binding{IP: host, Port: port}, nil
}

// Save writes the configuration back to path, preserving the comments and
// key ordering of the existing file. The write is atomic: the new content
// goes to path.new, the original is renamed to path.old, path.new takes the
// original's place, and path.old is deleted.
func (c *Config) Save(path string) error {
	f, err := ini.Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read existing config: %w", err)
		}
		f = ini.Empty()
	}
	sec := f.Section("dchub")
	for key, value := range c.scalarValues() {
		sec.Key(key).SetValue(value)
	}
	limits := f.Section("dchub-userlimits")
	keys := make([]string, 0, len(c.UserLimits))
	for key := range c.UserLimits {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		limits.Key(key).SetValue(strconv.Itoa(c.UserLimits[key]))
	}
	return atomicReplace(path, func(tmp string) error {
		return f.SaveTo(tmp)
	})
}

func (c *Config) scalarValues() map[string]string {
	return map[string]string{
		"port":                strconv.Itoa(c.Port),
		"ip":                  c.IP,
		"name":                c.Name,
		"debug":               boolValue(c.Debug),
		"loglevel":            c.LogLevel,
		"maxusers":            strconv.Itoa(c.MaxUsers),
		"joinfloodtime":       strconv.Itoa(c.JoinFloodTime),
		"hubredirectwhenfull": c.HubRedirectWhenFull,
		"handleslashme":       boolValue(c.HandleSlashMe),
		"notifyspammers":      boolValue(c.NotifySpammers),
		"buffersize":          strconv.Itoa(c.BufferSize),
	}
}

func boolValue(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// atomicReplace writes via write to path.new, rotates the original to
// path.old, moves path.new into place, and removes path.old.
func atomicReplace(path string, write func(tmp string) error) error {
	tmp := path + ".new"
	if err := write(tmp); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	old := path + ".old"
	replaced := false
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, old); err != nil {
			return fmt.Errorf("rotate %s: %w", path, err)
		}
		replaced = true
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("install %s: %w", path, err)
	}
	if replaced {
		if err := os.Remove(old); err != nil {
			return fmt.Errorf("remove %s: %w", old, err)
		}
	}
	return nil
}
