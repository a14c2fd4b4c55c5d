package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/nikhilbhutani/agroplatform/internal/apperr"
	"github.com/nikhilbhutani/agroplatform/internal/auth"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps err to its HTTP status. Only the public message leaves the
// process; unexpected causes are logged with the request id.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == apperr.KindUnexpected {
		slog.Error("request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	}
	if apperr.Is(err, apperr.KindRateLimited) {
		w.Header().Set("Retry-After", "60")
	}
	writeJSON(w, apperr.HTTPStatus(err), map[string]string{"error": apperr.PublicMessage(err)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is empty")
		}
		return apperr.Validation("invalid request body")
	}
	return nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid " + name)
	}
	return id, nil
}

// callerTenant returns the authenticated caller's tenant. Platform accounts
// carry none and cannot use tenant-scoped routes.
func callerTenant(r *http.Request) (*auth.Claims, uuid.UUID, error) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		return nil, uuid.Nil, apperr.Authentication("missing access token")
	}
	id := claims.Tenant()
	if id == uuid.Nil {
		return nil, uuid.Nil, apperr.Authorization("this route requires a tenant account")
	}
	return claims, id, nil
}
