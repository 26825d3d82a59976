package main

import (
	"fmt"
	"strings"
)

// broadcast queues a frame for every logged-in user.
func (h *Hub) broadcast(message string) {
	for _, u := range h.users {
		u.sendMessage(message)
	}
	metricBroadcastFrames.Inc()
}

// formatChat renders a chat line, rewriting /me and +me actions when the
// hub is configured to handle them.
func (h *Hub) formatChat(nick, message string) string {
	if h.cfg.HandleSlashMe && (strings.HasPrefix(message, "/me") || strings.HasPrefix(message, "+me")) {
		return fmt.Sprintf("* %s%s|", nick, message[3:])
	}
	return fmt.Sprintf("<%s> %s|", nick, message)
}

// giveChatMessage sends a chat message from the user to the entire hub.
func (h *Hub) giveChatMessage(u *User, message string) {
	h.broadcast(h.formatChat(u.nick, message))
	h.recorder.recordChat(u.nick, message)
}

// giveEmptyCommand sends an empty command, used as a keep-alive.
func (h *Hub) giveEmptyCommand(u *User) {
	u.sendMessage("|")
}

// givePrivateMessage delivers a private message from sender to receiver.
// Messages from a client to a bot are handed to the bot instead of being
// serialized.
func (h *Hub) givePrivateMessage(sender, receiver *User, message string) {
	if receiver.isBot() && !sender.isBot() {
		receiver.bot.ProcessCommand(sender, message)
		return
	}
	receiver.sendMessage(fmt.Sprintf("$To: %s From: %s $%s",
		receiver.nick, sender.nick, h.formatChat(sender.nick, message)))
}

// giveSpamNotification tells the user their message violated flood limits.
func (h *Hub) giveSpamNotification(u *User) {
	u.sendMessage("<Hub-Security> Your message was dropped because it violates our spam/flood limits.|")
}

// giveWelcomeMessage sends the post-login banner.
func (h *Hub) giveWelcomeMessage(u *User) {
	u.sendMessage("<Hub-Security> This hub is powered by go-dchub.|")
	u.sendMessage(fmt.Sprintf("<User-Details> %s [ %s ] |", u.nick, u.ip))
	u.sendMessage(fmt.Sprintf("<Welcome> %s|", h.welcome))
}

func (h *Hub) giveBadPass(u *User) {
	u.sendMessage("$BadPass|")
}

// giveConnectToMe relays a connection request to the receiver.
func (h *Hub) giveConnectToMe(receiver *User, ip, port string) {
	receiver.sendMessage(fmt.Sprintf("$ConnectToMe %s %s:%s|", receiver.nick, ip, port))
}

// giveForceMove redirects the victim elsewhere, with a private message
// explaining why, and ignores anything else they say.
func (h *Hub) giveForceMove(victim, op *User, where, message string) {
	victim.sendMessage(fmt.Sprintf(
		"$ForceMove %s|$To: %s From: %s $<%s> You are being redirected to %s because: %s|",
		where, victim.nick, op.nick, op.nick, where, message))
	victim.ignoremessages = true
}

func (h *Hub) giveGetPass(u *User) {
	u.sendMessage("$GetPass|")
}

// giveHello confirms to the user that they are through the nick stage.
func (h *Hub) giveHello(u *User) {
	u.sendMessage(fmt.Sprintf("$Hello %s|", u.nick))
}

// giveHelloNewUser announces a fresh login to every logged-in user that
// has not opted out via NoHello.
func (h *Hub) giveHelloNewUser(u *User) {
	message := fmt.Sprintf("$Hello %s|", u.nick)
	for _, client := range h.users {
		if client != u && !client.supportsExt("NoHello") {
			client.sendMessage(message)
		}
	}
}

// giveHubIsFull rejects the user and ignores them afterwards.
func (h *Hub) giveHubIsFull(u *User) {
	u.sendMessage("$HubIsFull|")
	u.ignoremessages = true
}

// giveHubFullRedirect points the user at the fallback hub and ignores them
// afterwards.
func (h *Hub) giveHubFullRedirect(u *User) {
	u.sendMessage(fmt.Sprintf("$ForceMove %s|", h.cfg.HubRedirectWhenFull))
	u.ignoremessages = true
}

// giveLogedIn tells a password-checked op their password was accepted. The
// misspelling is the protocol's.
func (h *Hub) giveLogedIn(u *User) {
	u.sendMessage(fmt.Sprintf("$LogedIn %s|", u.nick))
}

func (h *Hub) giveLock(u *User) {
	u.sendMessage(fmt.Sprintf("$Lock %s Pk=%s|", lockString, privateKeyString))
}

// giveHubName sends the hub name to one user, or to everyone when it has
// changed (nil user).
func (h *Hub) giveHubName(u *User) {
	message := fmt.Sprintf("$HubName %s|", h.cfg.Name)
	if u == nil {
		h.broadcast(message)
		return
	}
	u.sendMessage(message)
}

// giveMyINFO broadcasts the client's MyINFO to the hub. With newuser set,
// the client is first sent the MyINFO of every logged-in user.
func (h *Hub) giveMyINFO(client *User, newuser bool) {
	if newuser {
		var b strings.Builder
		for _, u := range h.users {
			b.WriteString(u.myinfo)
		}
		client.sendMessage(b.String())
	}
	h.broadcast(client.myinfo)
}

// giveNickList sends the logged-in nick list to the user.
func (h *Hub) giveNickList(u *User) {
	nicks := make([]string, 0, len(h.users))
	for nick := range h.users {
		nicks = append(nicks, nick)
	}
	u.sendMessage(fmt.Sprintf("$NickList %s$$|", strings.Join(nicks, "$$")))
}

// giveOpList sends the op list to one user, or to everyone when it has
// changed (nil user).
func (h *Hub) giveOpList(u *User) {
	message := "$OpList |"
	if len(h.ops) > 0 {
		nicks := make([]string, 0, len(h.ops))
		for nick := range h.ops {
			nicks = append(nicks, nick)
		}
		message = fmt.Sprintf("$OpList %s$$|", strings.Join(nicks, "$$"))
	}
	if u == nil {
		h.broadcast(message)
		return
	}
	u.sendMessage(message)
}

// giveQuit announces a departure to the hub.
func (h *Hub) giveQuit(u *User) {
	h.broadcast(fmt.Sprintf("$Quit %s|", u.nick))
}

// giveRevConnectToMe relays a passive connection request to the receiver.
func (h *Hub) giveRevConnectToMe(sender, receiver *User) {
	receiver.sendMessage(fmt.Sprintf("$RevConnectToMe %s %s|", sender.nick, receiver.nick))
}

// giveSearch relays a search to the entire hub.
func (h *Hub) giveSearch(host, sizerestricted, isminimumsize string, size int64, datatype int, pattern string) {
	h.broadcast(fmt.Sprintf("$Search %s %s?%s?%d?%d?%s|",
		host, sizerestricted, isminimumsize, size, datatype, pattern))
}

// giveSR relays a search result from resulter to searcher.
func (h *Hub) giveSR(searcher, resulter *User, path string, filesize int64, freeslots, totalslots int, hubname, hubhost string) {
	searcher.sendMessage(fmt.Sprintf("$SR %s %s\x05%d %d/%d\x05%s (%s)|",
		resulter.nick, path, filesize, freeslots, totalslots, hubname, hubhost))
}

// giveSupports advertises the hub's extension tokens.
func (h *Hub) giveSupports(u *User) {
	u.sendMessage(fmt.Sprintf("$Supports %s|", strings.Join(hubSupports, " ")))
}

// giveUserCommands sends the user the full command menu, if their client
// asked for it.
func (h *Hub) giveUserCommands(u *User) {
	if u.supportsExt("UserCommand") {
		u.sendMessage(h.getusercommands(u))
	}
}

// giveUserIP answers a UserIP query.
func (h *Hub) giveUserIP(requestor, requestee *User) {
	requestor.sendMessage(fmt.Sprintf("$UserIP %s %s|", requestee.nick, requestee.ip))
}

func (h *Hub) giveValidateDenide(u *User) {
	u.sendMessage("$ValidateDenide|")
}
