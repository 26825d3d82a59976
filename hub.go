package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ParthKolekar/DCHub/internal/config"
	"github.com/ParthKolekar/DCHub/internal/httpapi"
	"github.com/ParthKolekar/DCHub/internal/store"
)

// Account and UserCommand come from the collaborator file loaders.
type Account = config.Account
type UserCommand = config.UserCommand

var (
	validUserCommands = []string{
		"_ChatMessage", "_PrivateMessage", "MyINFO", "GetINFO",
		"GetNickList", "Search", "SR", "ConnectToMe", "RevConnectToMe",
		"UserIP",
	}
	validOpCommands = []string{"OpForceMove", "Kick", "Close", "ReloadBots"}
)

// Hub is the directory and broadcast core. Every field is owned by the loop
// goroutine; the only outside contact points are the events channel and the
// per-connection reader/writer goroutines, which never touch hub state.
type Hub struct {
	cfg *config.Config
	log *slog.Logger

	sockets      map[uint64]*User
	nicks        map[string]*User
	users        map[string]*User
	ops          map[string]*User
	bots         map[string]*User
	accounts     map[string]*Account
	usercommands map[string]*UserCommand

	// joinTimes rejects rapid re-joins. Keys are IPs at socket admission
	// and nicks at login; entries expire after joinfloodtime.
	joinTimes *cache.Cache

	welcome   string
	listeners []net.Listener
	events    chan hubEvent
	dispatch  *dispatchTable
	recorder  *historyRecorder

	levels map[string]slog.Level

	stop          bool
	reloadonexit  bool
	nextSessionID uint64
	starttime     time.Time
}

// PersistentState is everything that survives a hot reload: live sessions,
// the directories that index them, the admission history, and the I/O
// plumbing the session goroutines are already attached to. Bots are
// excluded; the reload re-runs the registry.
type PersistentState struct {
	Sockets       map[uint64]*User
	Nicks         map[string]*User
	Users         map[string]*User
	Ops           map[string]*User
	JoinTimes     *cache.Cache
	Listeners     []net.Listener
	Events        chan hubEvent
	NextSessionID uint64
	StartTime     time.Time
	Recorder      *historyRecorder
}

// newHub builds a hub from configuration. With a nil state this is a cold
// start; otherwise the prior instance's sessions and buffers are adopted
// unchanged, so connected clients never observe the reload. Collaborator
// files (accounts, welcome, usercommands) are re-read either way.
func newHub(cfg *config.Config, state *PersistentState) *Hub {
	h := &Hub{
		cfg:          cfg,
		log:          slog.Default(),
		sockets:      map[uint64]*User{},
		nicks:        map[string]*User{},
		users:        map[string]*User{},
		ops:          map[string]*User{},
		bots:         map[string]*User{},
		accounts:     map[string]*Account{},
		usercommands: map[string]*UserCommand{},
		dispatch:     newDispatchTable(),
		levels:       logClassLevels(cfg.LogLevels),
		starttime:    time.Now(),
	}
	if state != nil {
		h.sockets = state.Sockets
		h.nicks = state.Nicks
		h.users = state.Users
		h.ops = state.Ops
		h.joinTimes = state.JoinTimes
		h.listeners = state.Listeners
		h.events = state.Events
		h.nextSessionID = state.NextSessionID
		h.starttime = state.StartTime
		h.recorder = state.Recorder
	} else {
		floodTTL := time.Duration(cfg.JoinFloodTime) * time.Second
		h.joinTimes = cache.New(floodTTL, floodTTL)
		h.events = make(chan hubEvent, 256)
	}
	h.loadaccounts()
	h.loadwelcome()
	h.loadusercommands()
	h.loadbots()
	return h
}

// persistentState captures the state handed to the replacement instance.
func (h *Hub) persistentState() *PersistentState {
	return &PersistentState{
		Sockets:       h.sockets,
		Nicks:         h.nicks,
		Users:         h.users,
		Ops:           h.ops,
		JoinTimes:     h.joinTimes,
		Listeners:     h.listeners,
		Events:        h.events,
		NextSessionID: h.nextSessionID,
		StartTime:     h.starttime,
		Recorder:      h.recorder,
	}
}

// handlereloaderror puts the hub back into running shape after a failed
// reload attempt.
func (h *Hub) handlereloaderror() {
	h.stop = false
	h.reloadonexit = false
	h.loadbots()
}

func (h *Hub) nextID() uint64 {
	h.nextSessionID++
	return h.nextSessionID
}

// logAt logs at the configured level for a message class, so operators can
// re-level chatty classes (datareceived, badcommand, ...) from the config
// file.
func (h *Hub) logAt(class, msg string, args ...any) {
	level, ok := h.levels[class]
	if !ok {
		level = slog.LevelDebug
	}
	h.log.Log(context.Background(), level, msg, args...)
}

func defaultLogClassLevels() map[string]slog.Level {
	return map[string]slog.Level{
		"datasent":       slog.LevelDebug,
		"datareceived":   slog.LevelDebug,
		"newconnection":  slog.LevelDebug,
		"useradderror":   slog.LevelDebug,
		"userdisconnect": slog.LevelDebug,
		"socketerror":    slog.LevelDebug,
		"loading":        slog.LevelDebug,
		"loadingdebug":   slog.LevelDebug,
		"loadfileerror":  slog.LevelError,
		"missingfile":    slog.LevelWarn,
		"boterror":       slog.LevelWarn,
		"userlogin":      slog.LevelDebug,
		"hubstatus":      slog.LevelInfo,
		"userremove":     slog.LevelDebug,
		"duplicatelogin": slog.LevelWarn,
		"commanderror":   slog.LevelDebug,
		"userloginerror": slog.LevelWarn,
		"badcommand":     slog.LevelDebug,
		"execchange":     slog.LevelDebug,
	}
}

func logClassLevels(overrides map[string]string) map[string]slog.Level {
	levels := defaultLogClassLevels()
	for class, value := range overrides {
		if _, ok := levels[class]; !ok {
			slog.Warn("unknown log class", "class", class)
			continue
		}
		level, err := parseLevel(value)
		if err != nil {
			slog.Warn("invalid log level", "class", class, "value", value)
			continue
		}
		levels[class] = level
	}
	return levels
}

func parseLevel(v string) (slog.Level, error) {
	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	switch {
	case n < 20:
		return slog.LevelDebug, nil
	case n < 30:
		return slog.LevelInfo, nil
	case n < 40:
		return slog.LevelWarn, nil
	default:
		return slog.LevelError, nil
	}
}

// setuplimits gives a user the hub's default limits.
func (h *Hub) setuplimits(u *User) {
	u.limits = make(map[string]int, len(h.cfg.UserLimits))
	for k, v := range h.cfg.UserLimits {
		u.limits[k] = v
	}
}

func (h *Hub) timeperiod(u *User) time.Duration {
	return time.Duration(u.limits["timeperiod"]) * time.Second
}

// adduser admits a freshly accepted connection. The session is registered
// and its I/O goroutines started before the admission checks run, so a
// rejection frame can still be flushed before the session is dropped.
func (h *Hub) adduser(u *User) {
	h.setuplimits(u)
	h.sockets[u.id] = u
	h.startIO(u)
	metricConnections.Inc()
	if h.ishubfull() {
		if h.cfg.HubRedirectWhenFull != "" {
			h.giveHubFullRedirect(u)
		} else {
			h.giveHubIsFull(u)
		}
		h.logAt("useradderror", "hub is full, rejecting connection", "from", u.idstring)
		return
	}
	if err := h.joinfloodcheck(u, u.ip); err != nil {
		h.logAt("useradderror", "join flood, rejecting connection", "from", u.idstring)
		return
	}
	h.logAt("newconnection", "new user connection", "from", u.idstring)
	h.giveLock(u)
	h.giveHubName(u)
}

func (h *Hub) ishubfull() bool {
	return len(h.users) >= h.cfg.MaxUsers
}

var (
	errJoinFlood = errors.New("join flood detected")
	errHubFull   = errors.New("hub is full")
)

// joinfloodcheck rejects a key (ip or nick) that joined within the flood
// window, removing the offending session.
func (h *Hub) joinfloodcheck(u *User, key string) error {
	if key == "" || h.cfg.JoinFloodTime <= 0 {
		return nil
	}
	if _, found := h.joinTimes.Get(key); found {
		h.removeuser(u)
		return errJoinFlood
	}
	h.joinTimes.Set(key, time.Now(), cache.DefaultExpiration)
	return nil
}

// loginuser promotes a nick-validated user into the logged-in directory and
// runs the presence broadcasts. Called on the first accepted MyINFO.
func (h *Hub) loginuser(u *User) error {
	if h.ishubfull() {
		if h.cfg.HubRedirectWhenFull != "" {
			h.giveHubFullRedirect(u)
		} else {
			h.giveHubIsFull(u)
		}
		return errHubFull
	}
	if err := h.joinfloodcheck(u, u.nick); err != nil {
		return err
	}
	u.validcommands = commandSet(validUserCommands...)
	h.users[u.nick] = u
	u.loggedin = true
	metricLoggedIn.Set(float64(len(h.users)))
	h.logAt("userlogin", "user logged in", "user", u.idstring)
	h.recorder.recordEvent(u.nick, store.EventJoin)
	h.giveHelloNewUser(u)
	h.giveMyINFO(u, u.supportsExt("NoGetINFO"))
	if !u.supportsExt("NoHello") && u.givenicklist {
		u.givenicklist = false
		h.giveNickList(u)
	}
	if acct, ok := h.accounts[u.nick]; ok {
		u.account = acct
		if acct.Op {
			for _, name := range validOpCommands {
				u.validcommands[name] = true
			}
			h.ops[u.nick] = u
			u.op = true
			h.giveOpList(nil)
		}
	}
	if len(h.ops) > 0 && !u.op {
		h.giveOpList(u)
	}
	h.giveWelcomeMessage(u)
	h.giveUserCommands(u)
	return nil
}

// removeuser detaches a user from every directory. Deletions are scoped by
// session id: an index slot already taken over by a newer session is left
// alone.
func (h *Hub) removeuser(u *User) {
	h.logAt("userremove", "removing user", "user", u.idstring)
	if cur, ok := h.sockets[u.id]; ok && cur == u {
		delete(h.sockets, u.id)
	}
	if err := u.close(); err != nil {
		h.logAt("socketerror", "error closing connection", "user", u.idstring, "err", err)
	}
	if u.writer != nil {
		u.writer.shutdown()
	}
	if cur, ok := h.bots[u.nick]; ok && cur == u {
		delete(h.bots, u.nick)
	}
	if cur, ok := h.nicks[u.nick]; ok && cur == u {
		delete(h.nicks, u.nick)
	}
	if cur, ok := h.users[u.nick]; ok && cur == u {
		delete(h.users, u.nick)
		metricLoggedIn.Set(float64(len(h.users)))
		h.recorder.recordEvent(u.nick, store.EventQuit)
		h.giveQuit(u)
	}
	if cur, ok := h.ops[u.nick]; ok && cur == u {
		delete(h.ops, u.nick)
	}
	u.loggedin = false
	u.op = false
}

// loadaccounts reads the accounts file into the directory.
func (h *Hub) loadaccounts() {
	if _, err := os.Stat(h.cfg.AccountsFile); err != nil {
		h.logAt("missingfile", "accounts file does not exist", "path", h.cfg.AccountsFile)
		return
	}
	accounts, err := config.LoadAccounts(h.cfg.AccountsFile)
	if err != nil {
		h.logAt("loadfileerror", "error loading accounts", "err", err)
		return
	}
	h.accounts = accounts
	h.logAt("loading", "loaded accounts", "count", len(accounts))
}

// loadwelcome reads the welcome banner file.
func (h *Hub) loadwelcome() {
	if _, err := os.Stat(h.cfg.WelcomeFile); err != nil {
		h.logAt("missingfile", "welcome file does not exist", "path", h.cfg.WelcomeFile)
		return
	}
	welcome, err := config.LoadWelcome(h.cfg.WelcomeFile)
	if err != nil {
		h.logAt("loadfileerror", "error loading welcome message", "err", err)
		return
	}
	h.welcome = welcome
}

// loadusercommands reads the usercommands file into the directory.
func (h *Hub) loadusercommands() {
	if _, err := os.Stat(h.cfg.UserCommandsFile); err != nil {
		h.logAt("missingfile", "usercommands file does not exist", "path", h.cfg.UserCommandsFile)
		return
	}
	commands, err := config.LoadUserCommands(h.cfg.UserCommandsFile)
	if err != nil {
		h.logAt("loadfileerror", "error loading user commands", "err", err)
		return
	}
	h.usercommands = commands
	h.logAt("loading", "loaded user commands", "count", len(commands))
}

// loadbots tears down any loaded bots and re-runs the built-in registry.
func (h *Hub) loadbots() {
	h.unloadbots()
	opsAdded := false
	for _, factory := range builtinBots {
		bot := factory()
		bu := newBotUser(h.nextID(), bot)
		if err := bot.Start(h); err != nil {
			h.logAt("boterror", "error starting bot", "bot", bu.idstring, "err", err)
			continue
		}
		h.bots[bu.nick] = bu
		if !bot.Visible() {
			continue
		}
		if prior, ok := h.nicks[bu.nick]; ok {
			// A user picked the bot's name; the bot wins.
			h.removeuser(prior)
		}
		h.nicks[bu.nick] = bu
		h.users[bu.nick] = bu
		if bu.op {
			opsAdded = true
			h.ops[bu.nick] = bu
		}
		h.logAt("userlogin", "bot logged in", "bot", bu.idstring)
		h.giveHelloNewUser(bu)
		h.giveMyINFO(bu, false)
	}
	h.logAt("loading", "loaded bots", "count", len(h.bots))
	if opsAdded {
		h.giveOpList(nil)
	}
}

// unloadbots removes bot users and clears their dispatch hooks.
func (h *Hub) unloadbots() {
	for _, bu := range h.bots {
		h.removeuser(bu)
	}
	h.dispatch.resetHooks()
}

// getusercommand renders one user command if the user's permissions admit
// it, else the empty string.
func (h *Hub) getusercommand(u *User, uc *UserCommand) string {
	name, _, _ := strings.Cut(uc.Name, "$")
	if uc.Permission&config.PermExcludeBots != 0 {
		if _, ok := h.bots[name]; !ok {
			return ""
		}
	}
	if uc.Permission&config.PermAccountArgs != 0 {
		acct, ok := h.accounts[u.nick]
		if !ok || !strings.Contains(acct.Args, name) {
			return ""
		}
	}
	if uc.Permission&config.PermOp != 0 {
		if _, ok := h.ops[u.nick]; !ok {
			return ""
		}
	}
	if uc.Permission&config.PermRegular != 0 {
		if _, ok := h.users[u.nick]; !ok {
			return ""
		}
	}
	return uc.Command
}

// getusercommands renders the full menu for a user: a clear frame followed
// by every command the user may see, in position order.
func (h *Hub) getusercommands(u *User) string {
	commands := make([]*UserCommand, 0, len(h.usercommands))
	for _, uc := range h.usercommands {
		commands = append(commands, uc)
	}
	sort.Slice(commands, func(i, j int) bool {
		return commands[i].Position < commands[j].Position
	})
	var b strings.Builder
	b.WriteString("$UserCommand 255 7 |")
	for _, uc := range commands {
		b.WriteString(h.getusercommand(u, uc))
	}
	return b.String()
}

// snapshot builds the HTTP API view from the logged-in directory.
func (h *Hub) snapshot() httpapi.Snapshot {
	snap := httpapi.Snapshot{
		Name:        h.cfg.Name,
		Connections: len(h.sockets),
		Ops:         len(h.ops),
		Bots:        len(h.bots),
	}
	for _, u := range h.users {
		snap.Users = append(snap.Users, httpapi.UserInfo{
			Nick:      u.nick,
			IP:        u.ip,
			Op:        u.op,
			Bot:       u.isBot(),
			ShareSize: u.sharesize,
		})
	}
	sort.Slice(snap.Users, func(i, j int) bool {
		return snap.Users[i].Nick < snap.Users[j].Nick
	})
	return snap
}
