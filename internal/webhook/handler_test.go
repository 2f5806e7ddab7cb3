package webhook

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/kudipay/kudipay/internal/gateway"
)

const testSecret = "sk_test_webhook"

func newTestRouter(t *testing.T) (chi.Router, webhookFixture) {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(f.svc, testSecret, nil)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r, f
}

func deliver(r http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(gateway.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestReceiveValidEvent(t *testing.T) {
	r, f := newTestRouter(t)
	body := chargeBody("ref-200", 120_000, f.owner.ID.String(), f.owner.Email)

	rec := deliver(r, body, gateway.Sign(testSecret, body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"received":true}`, rec.Body.String())
	require.Len(t, f.repo.postings, 1)
}

func TestReceiveMissingSignature(t *testing.T) {
	r, f := newTestRouter(t)
	body := chargeBody("ref-201", 120_000, f.owner.ID.String(), f.owner.Email)

	rec := deliver(r, body, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, f.repo.postings)
}

func TestReceiveTamperedBody(t *testing.T) {
	r, f := newTestRouter(t)
	body := chargeBody("ref-202", 120_000, f.owner.ID.String(), f.owner.Email)
	signature := gateway.Sign(testSecret, body)
	tampered := bytes.Replace(body, []byte("120000"), []byte("920000"), 1)

	rec := deliver(r, tampered, signature)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, f.repo.postings)
}

func TestReceiveMalformedPayload(t *testing.T) {
	r, _ := newTestRouter(t)
	body := []byte(`{"event":""}`)

	rec := deliver(r, body, gateway.Sign(testSecret, body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
