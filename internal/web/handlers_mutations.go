package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/fluent/internal/core"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// UpdateRequest is the body of POST /api/{entity}/update.
type UpdateRequest struct {
	Changes map[string]any `json:"changes"`
	Match   map[string]any `json:"match"`
}

// DecryptRequest is the body of POST /api/decrypt.
type DecryptRequest struct {
	Value string `json:"value"`
}

var errBadBody = errors.New("malformed request body")

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	entity := core.Entity(chi.URLParam(r, "entity"))

	var req UpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondErrorStatus(w, r, err, http.StatusBadRequest)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	if err := s.layer.Mutate(ctx, entity, plainValues(req.Changes), req.Match); err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	ctx := WithRequestMetadata(r.Context(), r)
	if err := s.gdpr.RecordConsent(ctx, chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "consent recorded"})
}

func (s *Server) handleErase(w http.ResponseWriter, r *http.Request) {
	ctx := WithRequestMetadata(r.Context(), r)
	if err := s.gdpr.EraseCustomerData(ctx, chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "erased"})
}

// handleDecrypt never fails on bad input: undecryptable values come back
// masked.
func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	var req DecryptRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondErrorStatus(w, r, err, http.StatusBadRequest)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	writeJSON(w, r, http.StatusOK, DecryptRequest{Value: s.gdpr.DecryptField(ctx, req.Value)})
}

// decodeBody reads a JSON body, keeping numbers exact.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

// plainValues converts top-level json.Number values to int64 or float64 so
// backends store native numbers.
func plainValues(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				v = i
			} else if f, err := n.Float64(); err == nil {
				v = f
			}
		}
		out[k] = v
	}
	return out
}
