package main

import (
	"net"
	"strconv"
	"time"
)

// chatSample records one accepted chat message for the sliding flood
// windows: when it arrived, how many bytes and newlines it carried.
type chatSample struct {
	t        time.Time
	size     int
	newlines int
	text     string
}

// User is any participant in the hub: a socket-backed client or an
// in-process bot. Bots have a nil conn and a non-nil bot handler; on the
// wire the two are indistinguishable.
type User struct {
	// id is a monotonically increasing session id. Directory removal
	// compares ids so that a later login that reused an index slot is
	// never deleted by its predecessor's teardown.
	id       uint64
	idstring string

	conn   net.Conn
	writer *connWriter
	bot    Bot

	ip   string
	port string

	nick        string
	version     string
	description string
	tag         string
	speed       string
	speedclass  byte
	email       string
	sharesize   int64
	key         string
	myinfo      string
	supports    []string
	account     *Account

	validcommands map[string]bool
	limits        map[string]int

	// Sliding flood windows, pruned lazily against the timeperiod limit.
	recentmessages []chatSample
	searchtimes    []time.Time
	myinfotimes    []time.Time
	commandtimes   []time.Time

	// incoming always holds at least one element; the last element is the
	// open partial frame. outgoing is the unsent byte buffer; writeBusy is
	// set while a chunk is in the connection writer's hands.
	incoming  []string
	outgoing  []byte
	writeBusy bool

	loggedin       bool
	op             bool
	ignoremessages bool
	givenicklist   bool

	lastcommandtime time.Time
	starttime       time.Time
}

func newUser(id uint64) *User {
	now := time.Now()
	return &User{
		id:              id,
		speed:           "56Kbps",
		speedclass:      1,
		validcommands:   map[string]bool{},
		limits:          map[string]int{},
		incoming:        []string{""},
		lastcommandtime: now,
		starttime:       now,
	}
}

// newClientUser wraps an accepted connection.
func newClientUser(id uint64, conn net.Conn) *User {
	u := newUser(id)
	u.conn = conn
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		u.ip = addr.IP.String()
		u.port = strconv.Itoa(addr.Port)
	}
	u.idstring = u.ip + ":" + u.port + "/"
	u.validcommands = commandSet("Key", "Supports", "ValidateNick")
	u.myinfo = formatMyINFO("", "", "", u.speed, u.speedclass, "", 0)
	return u
}

// newBotUser wraps an in-process bot. Bots never receive raw bytes, so
// ignoremessages stays set for their whole lifetime.
func newBotUser(id uint64, bot Bot) *User {
	u := newUser(id)
	u.bot = bot
	u.nick = bot.Nick()
	u.idstring = "bot/" + u.nick
	u.ignoremessages = true
	u.op = bot.Op()
	u.myinfo = formatMyINFO(u.nick, "", "", u.speed, u.speedclass, "", 0)
	return u
}

func (u *User) isBot() bool {
	return u.bot != nil
}

// supportsExt reports whether the client advertised the extension token.
func (u *User) supportsExt(name string) bool {
	for _, s := range u.supports {
		if s == name {
			return true
		}
	}
	return false
}

// sendMessage appends a frame (or several) to the user's outgoing buffer.
// Nothing is buffered once the user is flagged to ignore messages, and bots
// have no byte transport at all.
func (u *User) sendMessage(message string) {
	if u.ignoremessages || u.conn == nil {
		return
	}
	u.outgoing = append(u.outgoing, message...)
	u.lastcommandtime = time.Now()
}

// close shuts the transport down. Safe to call for bots and repeatedly.
func (u *User) close() error {
	if u.conn == nil {
		return nil
	}
	return u.conn.Close()
}

func commandSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}
