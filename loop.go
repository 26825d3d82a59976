package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ParthKolekar/DCHub/internal/config"
	"github.com/ParthKolekar/DCHub/internal/httpapi"
)

type eventKind int

const (
	evAccept eventKind = iota
	evData
	evReadErr
	evDrained
	evWriteErr
	evStop
	evReload
	evSnapshot
)

// hubEvent is the only way anything reaches the loop goroutine: accepted
// connections, raw reads, writer completions, signals, and snapshot
// requests all funnel through the one channel.
type hubEvent struct {
	kind   eventKind
	conn   net.Conn
	userID uint64
	data   []byte
	err    error
	reply  chan httpapi.Snapshot
}

const writeTimeout = 30 * time.Second

// connWriter owns the write side of one connection. It takes one chunk at a
// time from the loop and reports back when the chunk is on the wire, so the
// loop never blocks on a slow client.
type connWriter struct {
	conn   net.Conn
	userID uint64
	ch     chan []byte
	events chan<- hubEvent
	once   sync.Once
}

func newConnWriter(conn net.Conn, userID uint64, events chan<- hubEvent) *connWriter {
	return &connWriter{
		conn:   conn,
		userID: userID,
		ch:     make(chan []byte, 1),
		events: events,
	}
}

func (w *connWriter) run() {
	for chunk := range w.ch {
		w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		n, err := w.conn.Write(chunk)
		metricBytesSent.Add(float64(n))
		if err != nil {
			w.events <- hubEvent{kind: evWriteErr, userID: w.userID, err: err}
			return
		}
		w.events <- hubEvent{kind: evDrained, userID: w.userID}
	}
}

// shutdown stops the writer goroutine. Safe to call repeatedly.
func (w *connWriter) shutdown() {
	w.once.Do(func() { close(w.ch) })
}

// startIO attaches the reader and writer goroutines to a new connection.
func (h *Hub) startIO(u *User) {
	if u.conn == nil {
		return
	}
	u.writer = newConnWriter(u.conn, u.id, h.events)
	go u.writer.run()
	go readLoop(u.conn, u.id, h.cfg.BufferSize, h.events)
}

func readLoop(conn net.Conn, userID uint64, bufsize int, events chan<- hubEvent) {
	buf := make([]byte, bufsize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			events <- hubEvent{kind: evData, userID: userID, data: data}
		}
		if err != nil {
			events <- hubEvent{kind: evReadErr, userID: userID, err: err}
			return
		}
	}
}

// setuplisteners binds every configured address. Any bind failure is fatal:
// a hub listening on half its addresses is worse than one that refuses to
// start.
func (h *Hub) setuplisteners() error {
	bindings := h.cfg.Bindings
	if len(bindings) == 0 {
		bindings = []config.Binding{{IP: h.cfg.IP, Port: h.cfg.Port}}
	}
	for _, b := range bindings {
		addr := net.JoinHostPort(b.IP, strconv.Itoa(b.Port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, open := range h.listeners {
				open.Close()
			}
			h.listeners = nil
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
		h.logAt("hubstatus", "listening", "addr", ln.Addr().String())
		h.listeners = append(h.listeners, ln)
	}
	for _, ln := range h.listeners {
		go acceptLoop(ln, h.events)
	}
	return nil
}

func acceptLoop(ln net.Listener, events chan<- hubEvent) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		events <- hubEvent{kind: evAccept, conn: conn}
	}
}

// mainloop runs until a stop or reload is requested. It drains pending
// events, processes each user's queued frames, and pumps outgoing buffers,
// waking at least once a second for the time-based work.
func (h *Hub) mainloop() error {
	if len(h.listeners) == 0 {
		if err := h.setuplisteners(); err != nil {
			return err
		}
	} else {
		// Reload: the listeners and their accept goroutines survive,
		// feeding the same events channel.
		h.logAt("hubstatus", "resuming with inherited listeners", "count", len(h.listeners))
	}
	h.logAt("hubstatus", "starting main loop", "name", h.cfg.Name)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for !h.stop {
		select {
		case ev := <-h.events:
			h.handleEvent(ev)
			h.drainEvents()
		case <-ticker.C:
		}
		h.processcommands()
		h.pumpWrites()
	}
	h.cleanup()
	return nil
}

func (h *Hub) drainEvents() {
	for {
		select {
		case ev := <-h.events:
			h.handleEvent(ev)
		default:
			return
		}
	}
}

func (h *Hub) handleEvent(ev hubEvent) {
	switch ev.kind {
	case evAccept:
		h.adduser(newClientUser(h.nextID(), ev.conn))
	case evData:
		u, ok := h.sockets[ev.userID]
		if !ok {
			return
		}
		h.logAt("datareceived", "data received", "user", u.idstring, "bytes", len(ev.data))
		// The first part completes the open partial frame; the last part
		// is the new open partial.
		parts := strings.Split(string(ev.data), "|")
		last := len(u.incoming) - 1
		u.incoming[last] = u.incoming[last] + parts[0]
		u.incoming = append(u.incoming, parts[1:]...)
		now := time.Now()
		for i := 1; i < len(parts); i++ {
			u.commandtimes = append(u.commandtimes, now)
		}
	case evReadErr:
		u, ok := h.sockets[ev.userID]
		if !ok {
			return
		}
		if errors.Is(ev.err, net.ErrClosed) {
			return
		}
		h.logAt("userdisconnect", "client disconnected", "user", u.idstring, "err", ev.err)
		h.removeuser(u)
	case evDrained:
		u, ok := h.sockets[ev.userID]
		if !ok {
			return
		}
		u.writeBusy = false
	case evWriteErr:
		u, ok := h.sockets[ev.userID]
		if !ok {
			return
		}
		h.logAt("socketerror", "removing connection due to error sending data", "user", u.idstring, "err", ev.err)
		h.removeuser(u)
	case evStop:
		h.stop = true
	case evReload:
		h.logAt("hubstatus", "reloading hub")
		h.reloadonexit = true
		h.stop = true
	case evSnapshot:
		ev.reply <- h.snapshot()
	}
}

// processcommands advances every session: flush-and-drop ignored sessions,
// shed queue floods, skip command-rate violators for a tick, process the
// completed frames, and keep idle connections alive.
func (h *Hub) processcommands() {
	now := time.Now()
	users := make([]*User, 0, len(h.sockets))
	for _, u := range h.sockets {
		users = append(users, u)
	}
	for _, u := range users {
		if h.sockets[u.id] != u {
			// Removed by an earlier iteration.
			continue
		}
		if u.ignoremessages {
			if len(u.outgoing) == 0 && !u.writeBusy {
				h.removeuser(u)
			}
			continue
		}
		if len(u.incoming) > 1 {
			if max := u.limits["maxqueuedcommands"]; len(u.incoming)-1 > max {
				h.logAt("badcommand", "user has more than the max number of queued commands",
					"queued", len(u.incoming), "max", max, "user", u.idstring)
				dropped := len(u.incoming) - 1 - max
				metricFramesDropped.Add(float64(dropped))
				u.incoming = u.incoming[dropped:]
			}
			u.lastcommandtime = now
			u.commandtimes = pruneTimes(u.commandtimes, now.Add(-h.timeperiod(u)))
			if len(u.commandtimes) > u.limits["maxcommandspertimeperiod"] {
				continue
			}
			for len(u.incoming) > 1 && !u.ignoremessages {
				command := u.incoming[0]
				u.incoming = u.incoming[1:]
				h.processcommand(u, command)
				if h.sockets[u.id] != u {
					break
				}
			}
		} else if u.lastcommandtime.Before(now.Add(-time.Duration(u.limits["pingtime"]) * time.Second)) {
			h.giveEmptyCommand(u)
		}
	}
}

// pumpWrites hands each user's buffered bytes to its connection writer,
// one chunk at a time.
func (h *Hub) pumpWrites() {
	for _, u := range h.sockets {
		if u.writeBusy || len(u.outgoing) == 0 || u.writer == nil {
			continue
		}
		chunk := u.outgoing
		u.outgoing = nil
		u.writeBusy = true
		h.logAt("datasent", "sending data", "user", u.idstring, "bytes", len(chunk))
		select {
		case u.writer.ch <- chunk:
		default:
			// Writer already has a chunk in flight; put it back.
			u.outgoing = chunk
			u.writeBusy = false
		}
	}
}

// cleanup tears the hub down. On a reload the sessions and listeners are
// left alone for the next instance to adopt.
func (h *Hub) cleanup() {
	if h.reloadonexit {
		return
	}
	h.logAt("hubstatus", "shutting down")
	for _, ln := range h.listeners {
		ln.Close()
	}
	h.listeners = nil
	for _, u := range h.sockets {
		h.removeuser(u)
	}
	h.unloadbots()
	if h.cfg.PidFile != "" {
		os.Remove(h.cfg.PidFile)
	}
}

// snapshotSource answers HTTP API snapshot requests over the events
// channel. It holds only the channel, which survives reloads, so the API
// server never sees a hub instance directly.
type snapshotSource struct {
	events chan<- hubEvent
}

func (s snapshotSource) Snapshot(ctx context.Context) (httpapi.Snapshot, error) {
	reply := make(chan httpapi.Snapshot, 1)
	select {
	case s.events <- hubEvent{kind: evSnapshot, reply: reply}:
	case <-ctx.Done():
		return httpapi.Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return httpapi.Snapshot{}, ctx.Err()
	}
}
