package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	discussionSvc "conversa/internal/domain/services/discussion"
	"conversa/internal/handler/sse"
)

// ChangesHandler streams message collection changes as server-sent events
type ChangesHandler struct {
	views  discussionSvc.ViewService
	config *sse.Config
	logger *slog.Logger
}

// NewChangesHandler creates a new change stream handler
func NewChangesHandler(views discussionSvc.ViewService, config *sse.Config, logger *slog.Logger) *ChangesHandler {
	if config == nil {
		config = sse.DefaultConfig()
	}
	return &ChangesHandler{
		views:  views,
		config: config,
		logger: logger,
	}
}

// StreamChanges emits one "change" event per mutation until the client leaves
// GET /api/changes
func (h *ChangesHandler) StreamChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	changes, err := h.views.Changes(ctx)
	if err != nil {
		handleError(w, r, err)
		return
	}

	streamID := uuid.NewString()
	writer, err := sse.NewWriter(w, streamID)
	if err != nil {
		h.logger.Error("stream setup failed", "error", err)
		return
	}

	keepAlive := sse.NewTickerKeepAlive(h.config.KeepAliveInterval)
	stopped := keepAlive.Start(writer, h.logger)
	defer keepAlive.Stop()

	h.logger.Debug("change stream opened", "stream_id", streamID)
	defer h.logger.Debug("change stream closed", "stream_id", streamID)

	for {
		select {
		case notice, ok := <-changes:
			if !ok {
				return
			}
			if err := writer.WriteEvent("change", notice.Version, notice); err != nil {
				h.logger.Debug("change stream write failed", "stream_id", streamID, "error", err)
				return
			}
		case <-stopped:
			return
		case <-ctx.Done():
			return
		}
	}
}
