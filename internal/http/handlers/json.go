package handlers

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/dropDatabas3/idcore/internal/http/errors"
)

const maxJSONBody = 64 << 10 // 64KB

// WriteJSON: respuesta JSON estándar.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readJSON decodifica de forma tolerante (no falla por campos desconocidos).
// Escribe el error y devuelve false si el body no sirve.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		errors.WriteError(w, errors.ErrInvalidJSON.WithDetail("Content-Type debe ser application/json"))
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case stderrors.As(err, &tooLarge):
			errors.WriteError(w, errors.ErrBodyTooLarge)
		case err == io.EOF:
			errors.WriteError(w, errors.ErrInvalidJSON.WithDetail("body vacío"))
		default:
			errors.WriteError(w, errors.ErrInvalidJSON)
		}
		return false
	}
	return true
}
