package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

type cardBody struct {
	State string `json:"state"`
}

func (h *Handlers) getInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.info)
}

func (h *Handlers) getCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cardBody{State: h.rm.CardState().String()})
}

// setCard injects a card transition, as if the state node had changed.
func (h *Handlers) setCard(w http.ResponseWriter, r *http.Request) {
	var req cardBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.ErrInvalidArgument("invalid JSON: "+err.Error()))
		return
	}
	var state models.CardStatus
	switch strings.ToLower(req.State) {
	case "offline":
		state = models.CardStatusOffline
	case "online":
		state = models.CardStatusOnline
	default:
		writeError(w, models.ErrInvalidArgument(`state must be "offline" or "online"`))
		return
	}
	if err := h.rm.SSRHandler(state); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, cardBody{State: h.rm.CardState().String()})
}
