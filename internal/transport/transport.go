// Package transport exposes the rendezvous service over HTTP: a REST
// handler per operation plus a WebSocket stream for message retrieval,
// wired with gorilla/mux the way the teacher's chat server wires its own
// handlers.
package transport

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dayandersen/brongnal/internal/bundle"
	"github.com/dayandersen/brongnal/internal/service"
	"github.com/dayandersen/brongnal/internal/x3dherr"
)

// writeJSON encodes data as the response body, logging (not failing) on a
// write error since headers are already committed by the time Encode runs.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("ERROR: failed to encode JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusForError maps an x3dherr.Kind to the HTTP status the wire
// protocol promises for it. An error with no recognized kind maps to 500.
func statusForError(err error) int {
	var kerr *x3dherr.Error
	if !errors.As(err, &kerr) {
		return http.StatusInternalServerError
	}
	switch kerr.Kind {
	case x3dherr.BadEncoding:
		return http.StatusBadRequest
	case x3dherr.BadSignature:
		return http.StatusUnauthorized
	case x3dherr.UnknownIdentity, x3dherr.UnknownOTK:
		return http.StatusNotFound
	case x3dherr.BadCiphertext:
		return http.StatusBadRequest
	case x3dherr.Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Handlers bundles the Service the REST and WebSocket endpoints call into.
type Handlers struct {
	Svc *service.Service
}

// New constructs a Handlers over svc.
func New(svc *service.Service) *Handlers {
	return &Handlers{Svc: svc}
}

// registerBundleRequest is the wire shape for RegisterPreKeyBundle.
type registerBundleRequest struct {
	Identity    string              `json:"identity"`
	IdentityKey []byte              `json:"identity_key"`
	SPK         bundle.SignedPreKey `json:"spk"`
}

// RegisterPreKeyBundle handles POST /v1/bundles/{identity}/spk.
func (h *Handlers) RegisterPreKeyBundle(w http.ResponseWriter, r *http.Request) {
	var req registerBundleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, x3dherr.New("transport.RegisterPreKeyBundle", x3dherr.BadEncoding, err))
		return
	}
	if len(req.IdentityKey) != ed25519.PublicKeySize {
		writeError(w, x3dherr.New("transport.RegisterPreKeyBundle", x3dherr.BadEncoding, errors.New("identity_key must be 32 bytes")))
		return
	}
	err := h.Svc.RegisterPreKeyBundle(r.Context(), req.Identity, ed25519.PublicKey(req.IdentityKey), req.SPK)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// publishOTKRequest is the wire shape for PublishOTKBundle.
type publishOTKRequest struct {
	Identity    string                 `json:"identity"`
	IdentityKey []byte                `json:"identity_key"`
	Batch       bundle.OneTimePreKeys `json:"batch"`
}

// PublishOTKBundle handles POST /v1/bundles/{identity}/otk.
func (h *Handlers) PublishOTKBundle(w http.ResponseWriter, r *http.Request) {
	var req publishOTKRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, x3dherr.New("transport.PublishOTKBundle", x3dherr.BadEncoding, err))
		return
	}
	if len(req.IdentityKey) != ed25519.PublicKeySize {
		writeError(w, x3dherr.New("transport.PublishOTKBundle", x3dherr.BadEncoding, errors.New("identity_key must be 32 bytes")))
		return
	}
	err := h.Svc.PublishOTKBundle(r.Context(), req.Identity, ed25519.PublicKey(req.IdentityKey), req.Batch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// FetchPreKeyBundle handles GET /v1/bundles/{identity}.
func (h *Handlers) FetchPreKeyBundle(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["identity"]
	b, err := h.Svc.FetchPreKeyBundle(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// sendMessageRequest is the wire shape for SendMessage.
type sendMessageRequest struct {
	Recipient string                `json:"recipient"`
	Initial   bundle.InitialMessage `json:"initial"`
}

// sendMessageResponse reports the ID assigned to the message, so a sender can
// correlate this send with whatever the recipient later streams out.
type sendMessageResponse struct {
	ID uuid.UUID `json:"id"`
}

// SendMessage handles POST /v1/messages.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, x3dherr.New("transport.SendMessage", x3dherr.BadEncoding, err))
		return
	}
	id, err := h.Svc.SendMessage(r.Context(), req.Recipient, req.Initial)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sendMessageResponse{ID: id})
}

// HealthCheck is the Consul and load-balancer liveness probe.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
