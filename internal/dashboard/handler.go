package dashboard

import (
	"encoding/json"
	"log"
	"time"

	msync "github.com/steveyegge/modelsync/internal/sync"
)

// Handler turns synchronizer cycle outcomes into dashboard messages. It
// satisfies the daemon's Publisher interface.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

// PublishReport broadcasts a committed cycle followed by fresh statistics.
func (h *Handler) PublishReport(report *msync.Report) {
	dataJSON, err := json.Marshal(report)
	if err != nil {
		h.logger.Printf("Failed to marshal report: %v", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeCycleComplete,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
	h.broadcastStats()
}

// PublishError broadcasts a failed cycle.
func (h *Handler) PublishError(revision string, err error) {
	data := CycleFailedData{
		Revision:  revision,
		Error:     err.Error(),
		Retryable: msync.IsRetryable(err),
	}
	dataJSON, mErr := json.Marshal(data)
	if mErr != nil {
		h.logger.Printf("Failed to marshal failure: %v", mErr)
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeCycleFailed,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

func (h *Handler) broadcastStats() {
	if h.server.source == nil {
		return
	}
	h.server.Broadcast(h.server.statsMessage())
}
