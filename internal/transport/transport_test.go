package transport

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayandersen/brongnal/internal/bundle"
	"github.com/dayandersen/brongnal/internal/crypto"
	"github.com/dayandersen/brongnal/internal/rendezvouslog"
	"github.com/dayandersen/brongnal/internal/router"
	"github.com/dayandersen/brongnal/internal/service"
	"github.com/dayandersen/brongnal/internal/store"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	svc := service.New(store.NewMemoryStore(), router.NewMemoryRouter(), rendezvouslog.New("[test] "))
	return NewRouter(New(svc), []string{"http://localhost:3000"})
}

func TestRegisterThenFetchBundleRoundTrip(t *testing.T) {
	h := newTestHandler(t)

	ik, ikSecret, err := crypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	spkPub, _, err := crypto.GenerateDHKeyPair()
	require.NoError(t, err)
	spk := bundle.SignSPK(ikSecret, spkPub)

	body, err := json.Marshal(map[string]interface{}{
		"identity":     "bob",
		"identity_key": []byte(ik),
		"spk":          spk,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/bundles/bob/spk", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/bundles/bob", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got bundle.PreKeyBundle
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, ed25519.PublicKey(ik), got.IdentityKey)
	assert.Equal(t, spkPub, got.SPK.PreKey)
	assert.Nil(t, got.OTK)
}

func TestFetchBundleUnknownIdentityReturnsNotFound(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/bundles/nobody", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterBundleRejectsMalformedBody(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/bundles/bob/spk", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageAcceptsInitialMessage(t *testing.T) {
	h := newTestHandler(t)

	body, err := json.Marshal(map[string]interface{}{
		"recipient": "bob",
		"initial":   bundle.InitialMessage{Ciphertext: []byte("hi")},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, uuid.Nil, resp.ID)
}

func TestHealthCheckReportsOK(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
