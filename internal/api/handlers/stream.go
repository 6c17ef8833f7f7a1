package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"escalarm/internal/escalation"
)

// Stream handles GET /v1/alarms/stream. It sends the live set as a
// server-sent "snapshot" event after every change, starting with the current
// set, until the client goes away or the scheduler closes.
func (h *AlarmHandler) Stream(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the headers go out so a client that has seen them
	// cannot miss a change.
	snapshots, unsubscribe := h.service.Subscribe()
	defer unsubscribe()

	rc := http.NewResponseController(w)
	// Streams outlive any server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.WarnContext(r.Context(), "event stream flush unsupported", "error", err)
		return
	}

	ping := time.NewTicker(h.streamPing)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case alarms, ok := <-snapshots:
			if !ok {
				return
			}
			if err := h.writeSnapshot(w, alarms); err != nil {
				h.logger.DebugContext(r.Context(), "event stream write failed", "error", err)
				return
			}
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (h *AlarmHandler) writeSnapshot(w http.ResponseWriter, alarms []escalation.Alarm) error {
	now := h.clock.Now()
	views := make([]AlarmView, 0, len(alarms))
	for _, a := range alarms {
		views = append(views, viewAt(a, now))
	}
	payload, err := json.Marshal(views)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload)
	return err
}
