package handler

import (
	"context"
	"errors"
	"net/http"

	"conversa/internal/domain"
	"conversa/internal/httputil"
)

// handleError converts domain errors to problem responses
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteProblem(w, problemFor(r, err))
}

func problemFor(r *http.Request, err error) *httputil.Problem {
	var fetchErr *domain.FetchError

	switch {
	case errors.Is(err, domain.ErrValidation):
		return httputil.NewProblem(r, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return httputil.NewProblem(r, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrStaleGeneration):
		return httputil.NewProblem(r, http.StatusConflict, "superseded by a newer request for the same view")
	case errors.As(err, &fetchErr):
		p := httputil.NewProblem(r, http.StatusBadGateway, err.Error())
		p.Source = fetchErr.Source
		return p
	case errors.Is(err, domain.ErrCollectionUnavailable):
		return httputil.NewProblem(r, http.StatusBadGateway, err.Error())
	case errors.Is(err, domain.ErrClosed):
		return httputil.NewProblem(r, http.StatusServiceUnavailable, "shutting down")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return httputil.NewProblem(r, http.StatusServiceUnavailable, "request cancelled")
	default:
		return httputil.NewProblem(r, http.StatusInternalServerError, "internal server error")
	}
}
