package main

import (
	"fmt"
	"strings"
)

// Wire-protocol constants.
const (
	// lockString is sent in the $Lock handshake. Clients echo an opaque
	// $Key in response, which the hub stores but never inspects.
	lockString = "EXTENDEDPROTOCOLABCABCABCABCABCABC"

	hubVersion = "1.0"
)

// privateKeyString is the Pk= value in the $Lock frame.
var privateKeyString = fmt.Sprintf("go-dchub-%s--", hubVersion)

// hubSupports are the extension tokens the hub advertises in $Supports.
var hubSupports = []string{"NoGetINFO", "NoHello", "UserCommand", "UserIP2"}

// badNickChars may not appear in a nickname.
const badNickChars = "$<>% \t\n\r"

// badSearchChars may not appear in a search pattern. The protocol nominally
// restricts search patterns much further, but DC++ does not follow that, so
// only the field separator is enforced.
const badSearchChars = " "

// badChar marks the control bytes no command may carry: 0x01-0x08, 0x0B,
// 0x0C, 0x0E-0x1F, and 0x7F. badSRChar is the same set minus 0x05, which
// $SR uses as a field separator.
var badChar, badSRChar [256]bool

func init() {
	for i := 1; i <= 8; i++ {
		badChar[i] = true
	}
	badChar[0x0B] = true
	badChar[0x0C] = true
	for i := 0x0E; i <= 0x1F; i++ {
		badChar[i] = true
	}
	badChar[0x7F] = true

	badSRChar = badChar
	badSRChar[0x05] = false
}

// containsBadChar reports whether s carries any byte marked in table.
func containsBadChar(s string, table *[256]bool) bool {
	for i := 0; i < len(s); i++ {
		if table[s[i]] {
			return true
		}
	}
	return false
}

// containsAny reports whether any byte of chars appears in s.
func containsAny(s, chars string) bool {
	return strings.ContainsAny(s, chars)
}

// commandType splits a raw frame into its handler name and argument string.
// Chat lines (leading '<') map to _ChatMessage with the whole line as the
// argument; $To: is rewritten to _PrivateMessage. Anything that starts with
// neither '<' nor '$' is unrecognized and maps to the empty name.
func commandType(command string) (name, args string) {
	if command[0] != '$' {
		if command[0] == '<' {
			return "_ChatMessage", command
		}
		return "", ""
	}
	name, args, ok := strings.Cut(command, " ")
	if !ok {
		args = ""
	}
	name = name[1:]
	if name == "To:" {
		return "_PrivateMessage", args
	}
	return name, args
}

// badCommand reports whether a frame must be rejected before dispatch: too
// long for the user's limit, or carrying forbidden control bytes. $Key
// bypasses the character check entirely, $MyINFO tolerates exactly one bad
// byte (the speed class), and $SR permits 0x05 as its separator.
func badCommand(u *User, command string) bool {
	if len(command) > u.limits["maxcommandsize"] {
		return true
	}
	if strings.HasPrefix(command, "$Key ") {
		return false
	}
	if strings.HasPrefix(command, "$MyINFO $ALL ") {
		seen := false
		for i := 0; i < len(command); i++ {
			if badChar[command[i]] {
				if seen {
					return true
				}
				seen = true
			}
		}
		return false
	}
	table := &badChar
	if strings.HasPrefix(command, "$SR ") {
		table = &badSRChar
	}
	return containsBadChar(command, table)
}

// formatMyINFO renders the broadcast self-description frame.
func formatMyINFO(nick, description, tag, speed string, speedclass byte, email string, sharesize int64) string {
	return fmt.Sprintf("$MyINFO $ALL %s %s%s$ $%s%c$%s$%d$|",
		nick, description, tag, speed, speedclass, email, sharesize)
}
