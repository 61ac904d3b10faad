package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

func (h *Handlers) getStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"streams": h.rm.Streams()})
}

func (h *Handlers) getStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sid")
	for _, s := range h.rm.Streams() {
		if s.ID == id {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeError(w, models.ErrNotFound("stream not found: "+id))
}

// createStream builds a stream from a StreamAttributes body.
func (h *Handlers) createStream(w http.ResponseWriter, r *http.Request) {
	var attrs models.StreamAttributes
	if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
		writeError(w, models.ErrInvalidArgument("invalid JSON: "+err.Error()))
		return
	}
	s, err := h.host.Create(&attrs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Info())
}

// streamCommand runs open, start, stop or close on a hosted stream.
func (h *Handlers) streamCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sid")
	s, ok := h.host.Get(id)
	if !ok {
		writeError(w, models.ErrNotFound("stream not found: "+id))
		return
	}

	var err error
	switch cmd := chi.URLParam(r, "cmd"); cmd {
	case "open":
		err = s.Open()
	case "start":
		err = s.Start()
	case "stop":
		err = s.Stop()
	case "close":
		err = h.host.Remove(id)
	default:
		writeError(w, models.ErrInvalidArgument("unknown stream command: "+cmd))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

func (h *Handlers) deleteStream(w http.ResponseWriter, r *http.Request) {
	if err := h.host.Remove(chi.URLParam(r, "sid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
