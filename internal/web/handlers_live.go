package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/fluent/internal/core"
	"github.com/JonMunkholm/fluent/internal/logging"
	appmw "github.com/JonMunkholm/fluent/internal/web/middleware"
)

// LiveEvent is the data of a "snapshot" event on a live stream.
type LiveEvent struct {
	ID        uuid.UUID      `json:"id"`
	Entity    core.Entity    `json:"entity"`
	State     string         `json:"state"`
	Loading   bool           `json:"loading"`
	Rows      []core.Row     `json:"rows"`
	FetchedAt *time.Time     `json:"fetched_at,omitempty"`
	Version   uint64         `json:"version"`
	Error     *ErrorResponse `json:"error,omitempty"`
}

func newLiveEvent(snap core.Snapshot) LiveEvent {
	ev := LiveEvent{
		ID:      snap.ID,
		Entity:  snap.Entity,
		State:   snap.State.String(),
		Loading: snap.IsLoading(),
		Rows:    nonNil(snap.Rows),
		Version: snap.Version,
	}
	if !snap.FetchedAt.IsZero() {
		at := snap.FetchedAt
		ev.FetchedAt = &at
	}
	if snap.Err != nil {
		resp := newErrorResponse(snap.Err)
		ev.Error = &resp
	}
	return ev
}

// handleLive streams a live result as server-sent events.
//
// Every change of the result is sent as a "snapshot" event carrying the full
// row set. A new error (failed fetch, dropped subscription) is also sent as
// an "error" event; rows already delivered stay valid. The stream ends, and
// the result is closed, when the client disconnects or the server shuts down.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	entity := core.Entity(chi.URLParam(r, "entity"))

	d, err := parseDescriptor(entity, r.URL.Query())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.streams.Acquire(); err != nil {
		w.Header().Set("Retry-After", "5")
		s.respondError(w, r, err)
		return
	}
	defer s.streams.Release()

	ctx := WithRequestMetadata(r.Context(), r)
	res, err := s.layer.Open(ctx, d.Live(true))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer res.Close()

	appmw.AddLogFields(r.Context(), "result", res.ID())
	logger := logging.WithFields(ctx, "entity", entity, "result", res.ID())
	logger.Info("live stream opened")
	defer logger.Info("live stream closed")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := &eventStream{w: w, rc: http.NewResponseController(w)}
	if err := stream.flush(); err != nil {
		logger.Warn("streaming not supported", "error", err)
		return
	}

	if err := stream.snapshot(res.Snapshot()); err != nil {
		return
	}

	heartbeat := time.NewTicker(s.cfg.Realtime.StreamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case _, ok := <-res.Updates():
			if !ok {
				return
			}
			if err := stream.snapshot(res.Snapshot()); err != nil {
				logger.Debug("live stream write failed", "error", err)
				return
			}
		case <-heartbeat.C:
			if err := stream.comment("ping"); err != nil {
				return
			}
		}
	}
}

// eventStream writes server-sent events and tracks the last error sent.
type eventStream struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	lastErr string
}

func (e *eventStream) snapshot(snap core.Snapshot) error {
	ev := newLiveEvent(snap)

	if ev.Error != nil && snap.Err.Error() != e.lastErr {
		e.lastErr = snap.Err.Error()
		if err := e.event(snap.Version, "error", ev.Error); err != nil {
			return err
		}
	} else if ev.Error == nil {
		e.lastErr = ""
	}

	return e.event(snap.Version, "snapshot", ev)
}

func (e *eventStream) event(id uint64, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(e.w, "id: %d\nevent: %s\ndata: %s\n\n", id, name, data); err != nil {
		return err
	}
	return e.flush()
}

func (e *eventStream) comment(text string) error {
	if _, err := fmt.Fprintf(e.w, ": %s\n\n", text); err != nil {
		return err
	}
	return e.flush()
}

func (e *eventStream) flush() error {
	return e.rc.Flush()
}
