package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vadiminshakov/pandamarket/internal/domain"
	"go.uber.org/zap"
)

const heartbeatInterval = 20 * time.Second

// handleEventStream replays journaled events after Last-Event-ID and then
// follows live events. The SSE id is the journal sequence.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "event journal not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// subscribe before the catch-up read so nothing committed in between is missed
	var live chan domain.Event
	if s.Live != nil {
		live = s.Live.Subscribe()
		defer s.Live.Unsubscribe(live)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	lastSeq := parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id"))
	send := func(event domain.Event) error {
		if event.Sequence <= lastSeq {
			return nil
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "id: %d\n", event.Sequence)
		fmt.Fprintf(w, "event: %s\n", event.Type)
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		lastSeq = event.Sequence
		return nil
	}
	catchUp := func() error {
		events, err := s.Events.EventsAfter(lastSeq)
		if err != nil {
			return err
		}
		for _, event := range events {
			if err := send(event); err != nil {
				return err
			}
		}
		return nil
	}

	if err := catchUp(); err != nil {
		http.Error(w, "failed to load events", http.StatusInternalServerError)
		s.logger.Error("event stream initial load", zap.Error(err))
		return
	}
	if lastSeq == 0 {
		fmt.Fprintf(w, "event: no_data\n")
		fmt.Fprintf(w, "data: {}\n\n")
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case event, ok := <-live:
			if !ok {
				return
			}
			// a gap is either a snapshot record or events dropped for a slow subscriber
			if event.Sequence > lastSeq+1 {
				if err := catchUp(); err != nil {
					s.logger.Warn("event stream catch up", zap.Error(err))
				}
			}
			if err := send(event); err != nil {
				s.logger.Warn("event stream send", zap.Error(err))
			}
		}
	}
}
