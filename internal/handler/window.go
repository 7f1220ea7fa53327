package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"conversa/internal/domain"
	discussionSvc "conversa/internal/domain/services/discussion"
	"conversa/internal/httputil"
)

// WindowHandler serves windows over the mirrored discussion
type WindowHandler struct {
	views  discussionSvc.ViewService
	logger *slog.Logger
}

// NewWindowHandler creates a new window handler
func NewWindowHandler(views discussionSvc.ViewService, logger *slog.Logger) *WindowHandler {
	return &WindowHandler{
		views:  views,
		logger: logger,
	}
}

// GetWindow renders the window described by the query string
// GET /api/window?view=&mode=&policy=&start=&end=&offset=&anchor=&author=&since=&hide_local=&detail=
func (h *WindowHandler) GetWindow(w http.ResponseWriter, r *http.Request) {
	req, err := parseWindowQuery(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	h.render(w, r, req)
}

// PostWindow renders the window described by a JSON body
// POST /api/window
func (h *WindowHandler) PostWindow(w http.ResponseWriter, r *http.Request) {
	var req discussionSvc.WindowRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	h.render(w, r, &req)
}

func (h *WindowHandler) render(w http.ResponseWriter, r *http.Request, req *discussionSvc.WindowRequest) {
	page, err := h.views.Window(r.Context(), req)
	if err != nil {
		h.logger.Debug("window failed",
			"view_id", req.ViewID,
			"error", err,
			"request_id", httputil.GetRequestID(r),
		)
		handleError(w, r, err)
		return
	}
	httputil.RespondJSON(w, r, http.StatusOK, page)
}

// GetMessage returns the full representation of one message
// GET /api/messages/{id}
func (h *WindowHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httputil.RespondError(w, r, http.StatusBadRequest, "Message ID is required")
		return
	}

	msg, err := h.views.Message(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	httputil.RespondJSON(w, r, http.StatusOK, msg)
}

// GetIdeas returns the idea tree in display order
// GET /api/ideas
func (h *WindowHandler) GetIdeas(w http.ResponseWriter, r *http.Request) {
	items, err := h.views.IdeaTree(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	httputil.RespondJSON(w, r, http.StatusOK, items)
}

// HealthCheck reports liveness
func (h *WindowHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// parseWindowQuery maps query parameters onto a WindowRequest.
// Range checks are left to the view service.
func parseWindowQuery(r *http.Request) (*discussionSvc.WindowRequest, error) {
	q := r.URL.Query()
	req := &discussionSvc.WindowRequest{
		ViewID:   q.Get("view"),
		Mode:     strings.ToLower(q.Get("mode")),
		Policy:   strings.ToLower(q.Get("policy")),
		AnchorID: q.Get("anchor"),
		AuthorID: q.Get("author"),
	}

	var err error
	if req.Start, err = httputil.QueryInt(r, "start"); err != nil {
		return nil, invalid(err)
	}
	if req.End, err = httputil.QueryInt(r, "end"); err != nil {
		return nil, invalid(err)
	}
	if req.Offset, err = httputil.QueryInt(r, "offset"); err != nil {
		return nil, invalid(err)
	}
	if req.Since, err = httputil.QueryTime(r, "since"); err != nil {
		return nil, invalid(err)
	}
	if req.HideLocal, err = httputil.QueryBool(r, "hide_local"); err != nil {
		return nil, invalid(err)
	}
	if req.Detail, err = httputil.QueryBool(r, "detail"); err != nil {
		return nil, invalid(err)
	}
	return req, nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrValidation, err)
}
