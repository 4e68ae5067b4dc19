package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/revive/internal/api/request"
	"github.com/edvin/revive/internal/api/response"
	"github.com/edvin/revive/internal/core"
	"github.com/edvin/revive/internal/policy"
)

// macParam reads and normalises the {mac} URL parameter. It writes a 400
// and returns false when the parameter is not a hardware address.
func macParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	mac, err := request.RequireMAC(chi.URLParam(r, "mac"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return mac, true
}

// writeServiceError maps command-surface errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		response.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, policy.ErrUnknownCategory), errors.Is(err, policy.ErrInvalidWindow):
		response.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		response.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
