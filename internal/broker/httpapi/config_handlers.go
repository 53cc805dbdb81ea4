package httpapi

import (
	"net/http"
	"time"

	"github.com/brokkr-io/brokkr/internal/broker/events"
	"github.com/brokkr-io/brokkr/internal/protocol"
)

// reloadConfig re-reads the config file and environment, applying only the
// hot-reloadable fields in place (spec's ambient config layer) without
// restarting the process.
func (h *handlers) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Config.Reload(r.Context()); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	h.d.Bus.Publish(events.Event{Type: events.ConfigReloaded})
	writeJSON(w, http.StatusOK, protocol.ConfigReloadResponse{Reloaded: true, Timestamp: time.Now().UTC()})
}
