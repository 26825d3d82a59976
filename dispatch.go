package main

import (
	"errors"
	"fmt"
)

// errSilentDrop is returned by a check function when a frame must be
// discarded without any reply or error logging (rate-limited searches,
// chat floods already handled, ...).
var errSilentDrop = errors.New("silently dropped")

// command bundles the four phases of handling one frame type. parse turns
// the raw argument string into a typed value or fails; check validates the
// parsed value against hub state and may rewrite it (a nil result reuses
// the parsed value); got applies the accepted frame; bad answers a frame
// that failed parse or check. Any phase may be nil.
type command struct {
	parse func(h *Hub, u *User, args string) (any, error)
	check func(h *Hub, u *User, parsed any) (any, error)
	got   func(h *Hub, u *User, parsed any)
	bad   func(h *Hub, u *User, args string, parsed any)
}

type hookFunc func(u *User, args string)

// dispatchTable maps frame names to their handlers, plus the hook bus that
// bots use to observe or replace handling without owning the table.
type dispatchTable struct {
	commands map[string]*command
	before   map[string][]hookFunc
	after    map[string][]hookFunc
	replaced map[string]*command
}

func newDispatchTable() *dispatchTable {
	d := &dispatchTable{
		commands: map[string]*command{},
		before:   map[string][]hookFunc{},
		after:    map[string][]hookFunc{},
		replaced: map[string]*command{},
	}
	registerCommands(d)
	return d
}

func (d *dispatchTable) register(name string, c *command) {
	d.commands[name] = c
}

// execBefore runs fn before the named command's own handling.
func (d *dispatchTable) execBefore(name string, fn hookFunc) {
	d.before[name] = append(d.before[name], fn)
}

// execAfter runs fn after the named command has been handled.
func (d *dispatchTable) execAfter(name string, fn hookFunc) {
	d.after[name] = append(d.after[name], fn)
}

// replace swaps in a different handler for the named command. The original
// is kept so resetHooks can restore it. Replacing twice is an error: two
// bots fighting over one command has no sane winner.
func (d *dispatchTable) replace(name string, c *command) error {
	if _, ok := d.replaced[name]; ok {
		return fmt.Errorf("command %q is already replaced", name)
	}
	d.replaced[name] = d.commands[name]
	d.commands[name] = c
	return nil
}

// resetHooks drops every hook and restores replaced handlers. Runs when
// bots are unloaded.
func (d *dispatchTable) resetHooks() {
	d.before = map[string][]hookFunc{}
	d.after = map[string][]hookFunc{}
	for name, orig := range d.replaced {
		if orig == nil {
			delete(d.commands, name)
		} else {
			d.commands[name] = orig
		}
	}
	d.replaced = map[string]*command{}
}

// processcommand takes one complete frame through the pipeline: reject
// malformed frames, resolve the handler, verify the user may issue it, then
// parse, check, and apply.
func (h *Hub) processcommand(u *User, raw string) {
	if raw == "" {
		return
	}
	h.logAt("datareceived", "received command", "user", u.idstring, "command", raw)
	if badCommand(u, raw) {
		h.logAt("badcommand", "bad command", "user", u.idstring, "size", len(raw))
		metricFramesDropped.Inc()
		return
	}
	name, args := commandType(raw)
	if name == "" {
		h.logAt("commanderror", "unrecognized command", "user", u.idstring)
		return
	}
	c, ok := h.dispatch.commands[name]
	if !ok {
		h.logAt("commanderror", "unhandled command", "user", u.idstring, "name", name)
		return
	}
	if !u.validcommands[name] {
		h.logAt("commanderror", "command not valid for user", "user", u.idstring, "name", name)
		return
	}
	metricFrames.Inc()
	for _, fn := range h.dispatch.before[name] {
		fn(u, args)
	}

	var parsed any
	if c.parse != nil {
		var err error
		parsed, err = c.parse(h, u, args)
		if err != nil {
			h.logAt("commanderror", "error parsing command", "user", u.idstring, "name", name, "err", err)
			if c.bad != nil {
				c.bad(h, u, args, nil)
			}
			return
		}
		if parsed == nil {
			// Parse consumed the frame entirely.
			for _, fn := range h.dispatch.after[name] {
				fn(u, args)
			}
			return
		}
	}
	if c.check != nil {
		checked, err := c.check(h, u, parsed)
		if err != nil {
			if !errors.Is(err, errSilentDrop) {
				h.logAt("commanderror", "command failed checks", "user", u.idstring, "name", name, "err", err)
				if c.bad != nil {
					c.bad(h, u, args, parsed)
				}
			}
			return
		}
		if checked != nil {
			parsed = checked
		}
	}
	if c.got != nil {
		c.got(h, u, parsed)
	}
	for _, fn := range h.dispatch.after[name] {
		fn(u, args)
	}
}
