package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/ParthKolekar/DCHub/internal/store"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("go-dchub %s\n", hubVersion)
		return true
	case "history":
		return cliHistory(args[1:], dbPath)
	default:
		return false
	}
}

func cliHistory(args []string, dbPath string) bool {
	if dbPath == "" {
		fmt.Fprintln(os.Stderr, "no history database configured (set historydb)")
		os.Exit(1)
	}
	limit := 50
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid limit %q\n", args[0])
			os.Exit(1)
		}
		limit = n
	}
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	msgs, err := st.RecentMessages(context.Background(), limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(msgs) == 0 {
		fmt.Println("No messages found.")
		return true
	}
	for _, m := range msgs {
		fmt.Printf("%s <%s> %s\n", m.TS.Format("2006-01-02 15:04:05"), m.Nick, m.Message)
	}
	return true
}
