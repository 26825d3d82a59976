package main

import (
	"fmt"
	"strings"
	"time"
)

// Bot is an in-process pseudo-user. Visible bots enter the nick and user
// directories like any client and are indistinguishable on the wire; private
// messages addressed to a bot are delivered to ProcessCommand instead of
// being serialized.
type Bot interface {
	Nick() string
	Visible() bool
	Op() bool
	Start(h *Hub) error
	ProcessCommand(from *User, message string)
}

// builtinBots is the compiled-in bot registry. ReloadBots re-runs it.
var builtinBots = []func() Bot{
	func() Bot { return &HubStatusBot{} },
}

// HubStatusBot answers private messages with hub statistics. It also hooks
// the chat dispatch to keep a running line count.
type HubStatusBot struct {
	hub       *Hub
	chatLines int
}

func (b *HubStatusBot) Nick() string  { return "HubStatus" }
func (b *HubStatusBot) Visible() bool { return true }
func (b *HubStatusBot) Op() bool      { return true }

func (b *HubStatusBot) Start(h *Hub) error {
	b.hub = h
	h.dispatch.execAfter("_ChatMessage", func(u *User, args string) {
		b.chatLines++
	})
	return nil
}

func (b *HubStatusBot) ProcessCommand(from *User, message string) {
	self := b.hub.bots[b.Nick()]
	if self == nil {
		return
	}
	word, _, _ := strings.Cut(strings.TrimSpace(message), " ")
	switch word {
	case "status":
		uptime := time.Since(b.hub.starttime).Round(time.Second)
		reply := fmt.Sprintf("uptime %s, %d users (%d ops), %d chat lines",
			uptime, len(b.hub.users), len(b.hub.ops), b.chatLines)
		b.hub.givePrivateMessage(self, from, reply)
	default:
		b.hub.givePrivateMessage(self, from, "commands: status")
	}
}
