package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/pipec/internal/events"
)

const eventsKeepAlive = 15 * time.Second

// eventStream writes build and cache events in text/event-stream framing.
// It remembers the last id sent so a replayed event is not sent twice.
type eventStream struct {
	w      http.ResponseWriter
	lastID int64
}

func (es *eventStream) send(ev events.Event) error {
	if ev.ID <= es.lastID {
		return nil
	}
	if _, err := fmt.Fprintf(es.w, "id: %d\n", ev.ID); err != nil {
		return err
	}
	if ev.Type != "" {
		if _, err := fmt.Fprintf(es.w, "event: %s\n", ev.Type); err != nil {
			return err
		}
	}
	// Payloads are single-line JSON.
	if _, err := fmt.Fprintf(es.w, "data: %s\n\n", ev.Data); err != nil {
		return err
	}
	es.lastID = ev.ID
	return nil
}

func (es *eventStream) comment(text string) error {
	_, err := fmt.Fprintf(es.w, ": %s\n\n", text)
	return err
}

// handleEvents handles GET /v1/events. A reconnecting monitor sends
// Last-Event-ID and first receives the buffered builds it missed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	if _, ok := w.(http.Flusher); !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	// Builds can be minutes apart; the stream must outlive the write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before the snapshot so nothing published in between is lost.
	ch, cancel := s.events.Subscribe()
	defer cancel()

	es := &eventStream{w: w, lastID: parseLastEventID(r.Header.Get("Last-Event-ID"))}
	for _, ev := range s.events.SnapshotSince(es.lastID) {
		if es.send(ev) != nil {
			return
		}
	}
	if rc.Flush() != nil {
		return
	}

	tick := time.NewTicker(eventsKeepAlive)
	defer tick.Stop()
	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			err = es.send(ev)
		case <-tick.C:
			err = es.comment("keep-alive")
		}
		if err != nil || rc.Flush() != nil {
			return
		}
	}
}

// parseLastEventID treats a missing or malformed header as "from the start".
func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
