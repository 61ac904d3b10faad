// Package api implements the debug and control HTTP API of the daemon.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	rm     ResourceManager
	events EventBus
	host   *StreamHost
	info   Info
}

// ResourceManager is the part of rm.Manager the handlers use.
type ResourceManager interface {
	CardState() models.CardStatus
	SSRHandler(state models.CardStatus) error
	Streams() []models.StreamInfo
}

// EventBus is the interface for subscribing to card events.
type EventBus interface {
	Subscribe(id string) <-chan models.CardEvent
	Unsubscribe(id string)
	Last() (models.CardEvent, bool)
}

// Info is reported by GET /api/info.
type Info struct {
	Version   string `json:"version"`
	Backend   string `json:"backend"`
	SoundCard uint   `json:"sound_card"`
	StateNode string `json:"state_node,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Errno   int    `json:"errno"`
}

// writeError writes err as {error, message, errno}. errno is negative,
// as returned by the stream API.
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: "INTERNAL", Message: err.Error(), Errno: models.Errno(err)}
	var halErr *models.Error
	if errors.As(err, &halErr) {
		body.Error = halErr.Code
	}
	writeJSON(w, models.HTTPStatus(err), body)
}
