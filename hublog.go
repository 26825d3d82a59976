package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/ParthKolekar/DCHub/internal/store"
)

type historyKind int

const (
	historyChat historyKind = iota
	historyEvent
)

type historyRecord struct {
	kind    historyKind
	nick    string
	payload string
	ts      time.Time
}

// historyRecorder persists chat lines and join/quit events to the SQLite
// store without ever blocking the hub loop: records are handed off over a
// buffered channel and dropped if the writer falls behind.
type historyRecorder struct {
	st   *store.Store
	ch   chan historyRecord
	done chan struct{}
}

func newHistoryRecorder(st *store.Store) *historyRecorder {
	r := &historyRecorder{
		st:   st,
		ch:   make(chan historyRecord, 256),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *historyRecorder) run() {
	defer close(r.done)
	ctx := context.Background()
	for rec := range r.ch {
		var err error
		switch rec.kind {
		case historyChat:
			err = r.st.InsertMessage(ctx, rec.nick, rec.payload, rec.ts)
		case historyEvent:
			err = r.st.InsertEvent(ctx, rec.nick, rec.payload, rec.ts)
		}
		if err != nil {
			slog.Warn("error writing history", "err", err)
		}
	}
}

// recordChat saves a chat line. Safe on a nil recorder.
func (r *historyRecorder) recordChat(nick, message string) {
	if r == nil {
		return
	}
	select {
	case r.ch <- historyRecord{kind: historyChat, nick: nick, payload: message, ts: time.Now()}:
	default:
	}
}

// recordEvent saves a join or quit. Safe on a nil recorder.
func (r *historyRecorder) recordEvent(nick, kind string) {
	if r == nil {
		return
	}
	select {
	case r.ch <- historyRecord{kind: historyEvent, nick: nick, payload: kind, ts: time.Now()}:
	default:
	}
}

// Close stops the writer after draining queued records.
func (r *historyRecorder) Close() error {
	if r == nil {
		return nil
	}
	close(r.ch)
	<-r.done
	return r.st.Close()
}
