package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parsed argument types, one per frame kind.

type chatArgs struct {
	nick    string
	message string
}

type pmArgs struct {
	sentto   string
	sentfrom string
	nick     string
	message  string
}

type nickArgs struct {
	nick string
}

type keyArgs struct {
	key string
}

type versionArgs struct {
	version string
}

type passArgs struct {
	password string
}

type supportsArgs struct {
	supports []string
}

type ctmArgs struct {
	nick string
	ip   string
	port string
}

type rctmArgs struct {
	sender   string
	receiver string
}

type forceMoveArgs struct {
	nick    string
	where   string
	message string
}

type myinfoArgs struct {
	nick        string
	description string
	tag         string
	speed       string
	speedclass  byte
	email       string
	sharesize   int64
}

type searchArgs struct {
	host           string
	sizerestricted string
	isminimumsize  string
	size           int64
	datatype       int
	pattern        string
}

type srArgs struct {
	nick       string
	path       string
	filesize   int64
	freeslots  int
	totalslots int
	hubname    string
	hubhost    string
	requestor  string
}

func registerCommands(d *dispatchTable) {
	d.register("_ChatMessage", &command{parse: parseChatMessage, check: checkChatMessage, got: gotChatMessage, bad: badChatMessage})
	d.register("_PrivateMessage", &command{parse: parsePrivateMessage, check: checkPrivateMessage, got: gotPrivateMessage})
	d.register("Close", &command{parse: parseClose, check: checkClose, got: gotClose})
	d.register("ConnectToMe", &command{parse: parseConnectToMe, check: checkConnectToMe, got: gotConnectToMe})
	d.register("GetNickList", &command{parse: parseNoArgs, check: checkGetNickList, got: gotGetNickList})
	d.register("GetINFO", &command{parse: parseGetINFO, check: checkGetINFO, got: gotGetINFO})
	d.register("Key", &command{parse: parseKey, got: gotKey})
	d.register("Kick", &command{parse: parseNick, check: checkKick, got: gotKick})
	d.register("MyINFO", &command{parse: parseMyINFO, check: checkMyINFO, got: gotMyINFO, bad: badMyINFO})
	d.register("MyPass", &command{parse: parseMyPass, check: checkMyPass, got: gotMyPass, bad: badMyPass})
	d.register("OpForceMove", &command{parse: parseOpForceMove, check: checkOpForceMove, got: gotOpForceMove})
	d.register("ReloadBots", &command{parse: parseReloadBots})
	d.register("RevConnectToMe", &command{parse: parseRevConnectToMe, check: checkRevConnectToMe, got: gotRevConnectToMe})
	d.register("Search", &command{parse: parseSearch, check: checkSearch, got: gotSearch})
	d.register("SR", &command{parse: parseSR, check: checkSR, got: gotSR})
	d.register("Supports", &command{parse: parseSupports, check: checkSupports, got: gotSupports})
	d.register("UserIP", &command{parse: parseNick, check: checkUserIP, got: gotUserIP})
	d.register("ValidateNick", &command{parse: parseNick, check: checkValidateNick, got: gotValidateNick, bad: badValidateNick})
	d.register("Version", &command{parse: parseVersion, got: gotVersion})
}

// Shared trivial parsers.

func parseNoArgs(h *Hub, u *User, args string) (any, error) {
	return nickArgs{}, nil
}

func parseNick(h *Hub, u *User, args string) (any, error) {
	return nickArgs{nick: args}, nil
}

func truncate(s string, limit int) string {
	if limit >= 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

// pruneTimes drops entries older than the cutoff, in place.
func pruneTimes(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// Chat messages

func parseChatMessage(h *Hub, u *User, args string) (any, error) {
	nick, message, ok := strings.Cut(args[1:], "> ")
	if !ok {
		return nil, errors.New("malformed chat line")
	}
	return chatArgs{nick: nick, message: message}, nil
}

func checkChatMessage(h *Hub, u *User, parsed any) (any, error) {
	a := parsed.(chatArgs)
	if a.nick != u.nick {
		return nil, errors.New("bad nick")
	}
	size := len(a.message)
	if size > u.limits["maxmessagesize"] {
		return nil, errors.New("above maximum size")
	}
	newlines := strings.Count(a.message, "\n")
	if cr := strings.Count(a.message, "\r"); cr > newlines {
		newlines = cr
	}
	if newlines > u.limits["maxnewlinespermessage"] {
		return nil, errors.New("too many newlines")
	}
	now := time.Now()
	cutoff := now.Add(-h.timeperiod(u))
	kept := u.recentmessages[:0]
	for _, m := range u.recentmessages {
		if m.t.After(cutoff) {
			kept = append(kept, m)
		}
	}
	u.recentmessages = kept
	if len(u.recentmessages) >= u.limits["maxmessagespertimeperiod"] {
		return nil, errors.New("too many messages within time period")
	}
	chars := size
	lines := newlines
	for _, m := range u.recentmessages {
		chars += m.size
		lines += m.newlines
	}
	if chars >= u.limits["maxcharacterspertimeperiod"] {
		return nil, errors.New("too many characters within time period")
	}
	if lines >= u.limits["maxnewlinespertimeperiod"] {
		return nil, errors.New("too many newlines within time period")
	}
	u.recentmessages = append(u.recentmessages, chatSample{t: now, size: size, newlines: newlines, text: a.message})
	return nil, nil
}

func gotChatMessage(h *Hub, u *User, parsed any) {
	a := parsed.(chatArgs)
	h.giveChatMessage(u, a.message)
}

func badChatMessage(h *Hub, u *User, args string, parsed any) {
	if h.cfg.NotifySpammers && parsed != nil {
		h.giveSpamNotification(u)
	}
}

// Private messages

func parsePrivateMessage(h *Hub, u *User, args string) (any, error) {
	sentto, rest, ok := strings.Cut(args, " From: ")
	if !ok {
		return nil, errors.New("missing From")
	}
	parts := strings.SplitN(rest, " ", 3)
	if len(parts) != 3 {
		return nil, errors.New("malformed private message")
	}
	nick := parts[1]
	if len(nick) < 3 || nick[:2] != "$<" || nick[len(nick)-1] != '>' {
		return nil, errors.New("malformed sender tag")
	}
	return pmArgs{
		sentto:   sentto,
		sentfrom: parts[0],
		nick:     nick[2 : len(nick)-1],
		message:  parts[2],
	}, nil
}

func checkPrivateMessage(h *Hub, u *User, parsed any) (any, error) {
	a := parsed.(pmArgs)
	if a.sentfrom != u.nick {
		return nil, errors.New("bad sent from")
	}
	if _, ok := h.users[a.sentto]; !ok {
		return nil, errors.New("bad sent to")
	}
	return nil, nil
}

func gotPrivateMessage(h *Hub, u *User, parsed any) {
	a := parsed.(pmArgs)
	h.givePrivateMessage(u, h.users[a.sentto], a.message)
}

// Close

func parseClose(h *Hub, u *User, args string) (any, error) {
	return nickArgs{nick: args}, nil
}

func checkClose(h *Hub, u *User, parsed any) (any, error) {
	a := parsed.(nickArgs)
	if _, ok := h.users[a.nick]; !ok {
		return nil, errors.New("bad nick")
	}
	return nil, nil
}

func gotClose(h *Hub, u *User, parsed any) {
	a := parsed.(nickArgs)
	h.removeuser(h.users[a.nick])
}

// ConnectToMe

func parseConnectToMe(h *Hub, u *User, args string) (any, error) {
	nick, host, ok := strings.Cut(args, " ")
	if !ok {
		return nil, errors.New("missing host")
	}
	ip, port, ok := strings.Cut(host, ":")
	if !ok {
		return nil, errors.New("missing port")
	}
	return ctmArgs{nick: nick, ip: ip, port: port}, nil
}

func checkConnectToMe(h *Hub, u *User, parsed any) (any, error) {
	a := parsed.(ctmArgs)
	if _, ok := h.users[a.nick]; !ok {
		return nil, errors.New("bad nick")
	}
	return nil, nil
}

func gotConnectToMe(h *Hub, u *User, parsed any) {
	a := parsed.(ctmArgs)
	h.giveConnectToMe(h.users[a.nick], a.ip, a.port)
}

// GetNickList

func checkGetNickList(h *Hub, u *User, parsed any) (any, error) {
	if u.loggedin {
		return nil, nil
	}
	// Before login, remember the request and answer it after MyINFO.
	u.givenicklist = true
	return nil, errSilentDrop
}

func gotGetNickList(h *Hub, u *User, parsed any) {
	h.giveNickList(u)
	if len(h.ops) > 0 {
		h.giveOpList(u)
	}
}

// GetINFO

func parseGetINFO(h *Hub, u *User, args string) (any, error) {
	parts := strings.Split(args, " ")
	return nickArgs{nick: parts[len(parts)-1]}, nil
}

func checkGetINFO(h *Hub, u *User, parsed any) (any, error) {
	a := parsed.(nickArgs)
	if _, ok := h.users[a.nick]; !ok {
		return nil, errors.New("bad nick")
	}
	return nil, nil
}

func gotGetINFO(h *Hub, u *User, parsed any) {
	a := parsed.(nickArgs)
	h.giveMyINFO(h.users[a.nick], false)
}

// Key

func parseKey(h *Hub, u *User, args string) (any, error) {
	return keyArgs{key: args}, nil
}

func gotKey(h *Hub, u *User, parsed any) {
	u.key = parsed.(keyArgs).key
}

// Kick

func checkKick(h *Hub, u *User, parsed any) (any, error) {
	a := parsed.(nickArgs)
	if _, ok := h.nicks[a.nick]; !ok {
		return nil, errors.New("bad nick")
	}
	return nil, nil
}

func gotKick(h *Hub, u *User, parsed any) {
	a := parsed.(nickArgs)
	h.removeuser(h.nicks[a.nick])
}

// MyINFO

func parseMyINFO(h *Hub, u *User, args string) (any, error) {
	parts := strings.SplitN(args, " ", 3)
	if len(parts) != 3 || parts[0] != "$ALL" {
		return nil, errors.New("bad format, no $ALL")
	}
	nick, rest := parts[1], parts[2]
	fields := strings.SplitN(rest, "$", 6)
	if len(fields) != 6 {
		return nil, errors.New("bad format, missing fields")
	}
	description, speed, email := fields[0], fields[2], fields[3]
	var tag string
	if strings.HasSuffix(description, ">") {
		if x := strings.LastIndexByte(description, '<'); x != -1 {
			tag = description[x:]
			description = description[:x]
		}
	}
	if speed == "" {
		return nil, errors.New("missing speed class")
	}
	speedclass := speed[len(speed)-1]
	speed = speed[:len(speed)-1]
	sharesize, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad share size: %w", err)
	}
	return myinfoArgs{
		nick:        nick,
		description: description,
		tag:         tag,
		speed:       speed,
		speedclass:  speedclass,
		email:       email,
		sharesize:   sharesize,
	}, nil
}

func checkMyINFO(h *Hub, u *User, parsed any) (any, error) {
	a := parsed.(myinfoArgs)
	if a.nick != u.nick {
		return nil, errors.New("nick doesn't match")
	}
	if containsBadChar(a.description+a.tag+a.email+a.speed, &badChar) {
		return nil, errors.New("bad character")
	}
	if a.sharesize < int64(u.limits["minsharesize"]) {
		return nil, errors.New("share size too low")
	}
	now := time.Now()
	u.myinfotimes = pruneTimes(u.myinfotimes, now.Add(-h.timeperiod(u)))
	if len(u.myinfotimes) >= u.limits["maxmyinfopertimeperiod"] {
		return nil, errors.New("too many MyINFOs within time period")
	}
	u.myinfotimes = append(u.myinfotimes, now)
	return nil, nil
}

func gotMyINFO(h *Hub, u *User, parsed any) {
	a := parsed.(myinfoArgs)
	u.description = a.description
	u.tag = a.tag
	u.speed = a.speed
	u.speedclass = a.speedclass
	u.email = a.email
	u.sharesize = a.sharesize
	h.formatUserMyINFO(u)
	if !u.loggedin {
		if err := h.loginuser(u); err != nil {
			h.logAt("userloginerror", "error logging in user", "user", u.idstring, "err", err)
		}
		return
	}
	h.giveMyINFO(u, false)
}

func badMyINFO(h *Hub, u *User, args string, parsed any) {
	if !u.loggedin {
		h.removeuser(u)
	}
}

// formatUserMyINFO refreshes the user's broadcast frame. The broadcast may
// truncate the description, tag, or email, but the user keeps the full
// values internally.
func (h *Hub) formatUserMyINFO(u *User) {
	tag := u.tag
	if max := u.limits["maxtaglength"]; max > 0 && len(tag) > max {
		tag = tag[:max-1] + ">"
	}
	u.myinfo = formatMyINFO(u.nick,
		truncate(u.description, u.limits["maxdescriptionlength"]), tag,
		u.speed, u.speedclass,
		truncate(u.email, u.limits["maxemaillength"]), u.sharesize)
}

// MyPass

func parseMyPass(h *Hub, u *User, args string) (any, error) {
	return passArgs{password: args}, nil
}

func checkMyPass(h *Hub, u *User, parsed any) (any, error) {
	a := parsed.(passArgs)
	acct, ok := h.accounts[u.nick]
	if !ok || a.password != acct.Password {
		return nil, errors.New("bad pass")
	}
	if other, ok := h.nicks[u.nick]; ok && other != u {
		h.logAt("duplicatelogin", "duplicate correct login, removing current user",
			"current", other.idstring, "new", u.idstring)
		h.removeuser(other)
	}
	return nil, nil
}

func gotMyPass(h *Hub, u *User, parsed any) {
	h.completeMyPass(u)
}

// completeMyPass admits a password-checked (or passwordless) account holder
// into the nick directory.
func (h *Hub) completeMyPass(u *User) {
	h.nicks[u.nick] = u
	if acct, ok := h.accounts[u.nick]; ok && acct.Op {
		h.giveLogedIn(u)
	}
	h.giveHello(u)
	u.validcommands = commandSet("Version", "GetNickList", "MyINFO")
}

func badMyPass(h *Hub, u *User, args string, parsed any) {
	h.giveBadPass(u)
	u.ignoremessages = true
}

// OpForceMove

func parseOpForceMove(h *Hub, u *User, args string) (any, error) {
	parts := strings.SplitN(args, "$", 4)
	if len(parts) != 4 {
		return nil, errors.New("bad format")
	}
	nick, ok1 := strings.CutPrefix(parts[1], "Who:")
	where, ok2 := strings.CutPrefix(parts[2], "Where:")
	message, ok3 := strings.CutPrefix(parts[3], "Msg:")
	if !ok1 || !ok2 || !ok3 {
		return nil, errors.New("bad format")
	}
	return forceMoveArgs{nick: nick, where: where, message: message}, nil
}

func checkOpForceMove(h *Hub, u *User, parsed any) (any, error) {
	a := parsed.(forceMoveArgs)
	if _, ok := h.users[a.nick]; !ok {
		return nil, errors.New("bad nick")
	}
	return nil, nil
}

func gotOpForceMove(h *Hub, u *User, parsed any) {
	a := parsed.(forceMoveArgs)
	h.giveForceMove(h.users[a.nick], u, a.where, a.message)
}

// ReloadBots: a hub extension, ops only. Handled entirely in parse since
// there is nothing to validate or answer.

func parseReloadBots(h *Hub, u *User, args string) (any, error) {
	h.loadbots()
	return nil, nil
}

// RevConnectToMe

func parseRevConnectToMe(h *Hub, u *User, args string) (any, error) {
	sender, receiver, ok := strings.Cut(args, " ")
	if !ok {
		return nil, errors.New("missing receiver")
	}
	return rctmArgs{sender: sender, receiver: receiver}, nil
}

func checkRevConnectToMe(h *Hub, u *User, parsed any) (any, error) {
	a := parsed.(rctmArgs)
	if a.sender != u.nick {
		return nil, errors.New("bad sender")
	}
	if _, ok := h.users[a.receiver]; !ok {
		return nil, errors.New("bad receiver")
	}
	return nil, nil
}

func gotRevConnectToMe(h *Hub, u *User, parsed any) {
	a := parsed.(rctmArgs)
	h.giveRevConnectToMe(u, h.users[a.receiver])
}

// Search

func parseSearch(h *Hub, u *User, args string) (any, error) {
	if len(args) > u.limits["maxsearchsize"] {
		return nil, fmt.Errorf("search string too large (%d bytes)", len(args))
	}
	host, searchstring, ok := strings.Cut(args, " ")
	if !ok {
		return nil, errors.New("missing search string")
	}
	parts := strings.SplitN(searchstring, "?", 5)
	if len(parts) != 5 {
		return nil, errors.New("bad search format")
	}
	size, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad size: %w", err)
	}
	datatype, err := strconv.Atoi(parts[3])
	if err != nil {
		return nil, fmt.Errorf("bad datatype: %w", err)
	}
	return searchArgs{
		host:           host,
		sizerestricted: parts[0],
		isminimumsize:  parts[1],
		size:           size,
		datatype:       datatype,
		pattern:        parts[4],
	}, nil
}

func checkSearch(h *Hub, u *User, parsed any) (any, error) {
	a := parsed.(searchArgs)
	if strings.HasPrefix(a.host, "Hub:") {
		if a.host[4:] != u.nick {
			return nil, errors.New("bad nick")
		}
	} else {
		ip, port, ok := strings.Cut(a.host, ":")
		if !ok {
			return nil, errors.New("bad host")
		}
		if _, err := strconv.Atoi(port); err != nil {
			return nil, errors.New("bad port")
		}
		octets := strings.SplitN(ip, ".", 4)
		for _, octet := range octets {
			if _, err := strconv.Atoi(octet); err != nil {
				return nil, errors.New("bad ip")
			}
		}
	}
	if a.datatype < 0 || a.datatype > 9 {
		return nil, errors.New("bad datatype")
	}
	if containsAny(a.pattern, badSearchChars) {
		return nil, errors.New("bad search pattern character")
	}
	if a.sizerestricted != "F" && a.sizerestricted != "T" {
		return nil, errors.New("bad size restricted")
	}
	if a.isminimumsize != "F" && a.isminimumsize != "T" {
		return nil, errors.New("bad is minimum size")
	}
	now := time.Now()
	u.searchtimes = pruneTimes(u.searchtimes, now.Add(-h.timeperiod(u)))
	if len(u.searchtimes) >= u.limits["maxsearchespertimeperiod"] {
		return nil, errors.New("too many searches within time period")
	}
	u.searchtimes = append(u.searchtimes, now)
	return nil, nil
}

func gotSearch(h *Hub, u *User, parsed any) {
	a := parsed.(searchArgs)
	h.giveSearch(a.host, a.sizerestricted, a.isminimumsize, a.size, a.datatype, a.pattern)
}

// SR

func parseSR(h *Hub, u *User, args string) (any, error) {
	parts := strings.Split(args, "\x05")
	if len(parts) < 3 || len(parts) > 4 {
		return nil, errors.New("bad split")
	}
	nick, path, ok := strings.Cut(parts[0], " ")
	if !ok {
		return nil, errors.New("missing path")
	}
	a := srArgs{nick: nick, path: path}
	if len(parts) == 4 {
		sizefield, rest, ok := strings.Cut(parts[1], " ")
		if !ok {
			return nil, errors.New("missing slots")
		}
		free, total, ok := strings.Cut(rest, "/")
		if !ok {
			return nil, errors.New("bad slots")
		}
		var err error
		if a.filesize, err = strconv.ParseInt(sizefield, 10, 64); err != nil {
			return nil, fmt.Errorf("bad file size: %w", err)
		}
		if a.freeslots, err = strconv.Atoi(free); err != nil {
			return nil, fmt.Errorf("bad free slots: %w", err)
		}
		if a.totalslots, err = strconv.Atoi(total); err != nil {
			return nil, fmt.Errorf("bad total slots: %w", err)
		}
		parts = append(parts[:1], parts[2:]...)
	}
	hubparts := strings.Split(parts[1], " ")
	hubhost := hubparts[len(hubparts)-1]
	if len(hubhost) < 2 || hubhost[0] != '(' || hubhost[len(hubhost)-1] != ')' {
		return nil, errors.New("bad hubhost")
	}
	a.hubname = strings.Join(hubparts[:len(hubparts)-1], " ")
	a.hubhost = hubhost[1 : len(hubhost)-1]
	a.requestor = parts[2]
	return a, nil
}

func checkSR(h *Hub, u *User, parsed any) (any, error) {
	a := parsed.(srArgs)
	if a.nick != u.nick {
		return nil, errors.New("bad nick")
	}
	if _, port, ok := strings.Cut(a.hubhost, ":"); ok {
		if _, err := strconv.Atoi(port); err != nil {
			return nil, errors.New("bad hub port")
		}
	}
	if _, ok := h.users[a.requestor]; !ok {
		return nil, errors.New("bad requestor")
	}
	return nil, nil
}

func gotSR(h *Hub, u *User, parsed any) {
	a := parsed.(srArgs)
	h.giveSR(h.users[a.requestor], u, a.path, a.filesize, a.freeslots, a.totalslots, a.hubname, a.hubhost)
}

// Supports

func parseSupports(h *Hub, u *User, args string) (any, error) {
	return supportsArgs{supports: strings.Fields(args)}, nil
}

func checkSupports(h *Hub, u *User, parsed any) (any, error) {
	a := parsed.(supportsArgs)
	known := make([]string, 0, len(a.supports))
	for _, feature := range a.supports {
		for _, s := range hubSupports {
			if feature == s {
				known = append(known, feature)
				break
			}
		}
	}
	return supportsArgs{supports: known}, nil
}

func gotSupports(h *Hub, u *User, parsed any) {
	u.supports = parsed.(supportsArgs).supports
	h.giveSupports(u)
}

// UserIP

func checkUserIP(h *Hub, u *User, parsed any) (any, error) {
	a := parsed.(nickArgs)
	if _, ok := h.nicks[a.nick]; !ok {
		return nil, errors.New("bad nick")
	}
	if !u.op && a.nick != u.nick {
		// Common enough that it is not worth logging.
		return nil, errSilentDrop
	}
	return nil, nil
}

func gotUserIP(h *Hub, u *User, parsed any) {
	a := parsed.(nickArgs)
	h.giveUserIP(u, h.nicks[a.nick])
}

// ValidateNick

func checkValidateNick(h *Hub, u *User, parsed any) (any, error) {
	a := parsed.(nickArgs)
	if a.nick == "" {
		return nil, errors.New("empty nick")
	}
	if len(a.nick) > u.limits["maxnicklength"] {
		return nil, errors.New("nick too long")
	}
	if other, ok := h.nicks[a.nick]; ok {
		if _, registered := h.accounts[a.nick]; !registered {
			if other.ip == u.ip {
				h.logAt("duplicatelogin", "duplicate login and IPs match, removing currently logged in user",
					"current", other.idstring, "new", u.idstring)
				h.removeuser(other)
			} else {
				h.giveEmptyCommand(other)
				return nil, errors.New("nick already in use")
			}
		}
	} else if containsAny(a.nick, badNickChars) {
		return nil, errors.New("bad nick character")
	}
	return nil, nil
}

func gotValidateNick(h *Hub, u *User, parsed any) {
	a := parsed.(nickArgs)
	u.nick = a.nick
	u.idstring += a.nick
	if acct, ok := h.accounts[a.nick]; ok {
		if acct.Password == "" {
			h.completeMyPass(u)
			return
		}
		h.giveGetPass(u)
		u.validcommands = commandSet("MyPass")
		return
	}
	h.nicks[a.nick] = u
	h.giveHello(u)
	u.validcommands = commandSet("Version", "GetNickList", "MyINFO")
}

func badValidateNick(h *Hub, u *User, args string, parsed any) {
	h.giveValidateDenide(u)
}

// Version

func parseVersion(h *Hub, u *User, args string) (any, error) {
	return versionArgs{version: args}, nil
}

func gotVersion(h *Hub, u *User, parsed any) {
	u.version = parsed.(versionArgs).version
}
