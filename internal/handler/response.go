package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/omnidesk/console-server/internal/errors"
	"github.com/omnidesk/console-server/internal/httputil"
	"github.com/omnidesk/console-server/internal/middleware"
	"github.com/omnidesk/console-server/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// writeError logs unexpected failures before rendering the AppError shape.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.GetCode(err)
	if httputil.StatusFromCode(code) >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("code", string(code)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	httputil.WriteError(w, err)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.ValidationError("Request body too large")
		}
		if errors.Is(err, io.EOF) {
			return apperrors.ValidationError("Request body is required")
		}
		return apperrors.ValidationError("Invalid request body").WithCause(err)
	}
	return nil
}

// requireTenant writes 401 and returns nil when the auth middleware did not run.
func requireTenant(w http.ResponseWriter, r *http.Request) *model.Tenant {
	tenant := middleware.GetTenant(r.Context())
	if tenant == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Unauthorized"))
	}
	return tenant
}
