package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// keepAliveEvery is how many quiet ticks pass before a comment line is sent
// so proxies keep the connection open.
const keepAliveEvery = 15

// handleJobStream pushes the (optionally ?state= filtered) job list as
// server-sent "jobs" events whenever it changes.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	state := strings.TrimSpace(r.URL.Query().Get("state"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var last []byte
	quiet := 0
	push := func() error {
		payload, err := json.Marshal(filterJobs(s.svc.Jobs(), state))
		if err != nil {
			return err
		}
		if last != nil && bytes.Equal(payload, last) {
			quiet++
			if quiet < keepAliveEvery {
				return nil
			}
			quiet = 0
			_, err = fmt.Fprint(w, ": keep-alive\n\n")
		} else {
			last, quiet = payload, 0
			_, err = fmt.Fprintf(w, "event: jobs\ndata: %s\n\n", payload)
		}
		if err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := push(); err != nil {
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := push(); err != nil {
				return
			}
		}
	}
}
