// Package handlers traduce HTTP ↔ servicios: decodifica, delega y escribe la
// respuesta. Sin lógica de negocio acá.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	httperrors "github.com/revclaw/revclaw/internal/http/errors"
)

const maxBodyBytes = 1 << 20 // 1MB

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// readJSON decodifica el body con límite de tamaño y campos estrictos no:
// campos desconocidos se ignoran, igual que hace el resto del ecosistema.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer io.Copy(io.Discard, r.Body) //nolint:errcheck

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return httperrors.ErrInvalidJSON.WithDetail(err.Error())
	}
	return nil
}
