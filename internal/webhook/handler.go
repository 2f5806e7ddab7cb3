package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kudipay/kudipay/internal/gateway"
	"github.com/kudipay/kudipay/internal/platform/httpx"
)

// maxBodyBytes caps webhook payloads; real gateway events are a few KB.
const maxBodyBytes = 1 << 20

// Handler terminates gateway webhook deliveries. The signature is computed
// over the raw body, so it is verified before any JSON parsing.
type Handler struct {
	service *Service
	secret  string
	logger  *slog.Logger
}

// NewHandler constructs the Handler.
func NewHandler(service *Service, secret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, secret: secret, logger: logger}
}

// MountRoutes registers the webhook route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/webhooks/gateway", h.receive)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "unreadable request body")
		return
	}

	signature := r.Header.Get(gateway.SignatureHeader)
	if !gateway.VerifySignature(h.secret, body, signature) {
		h.logger.Warn("webhook signature rejected", slog.String("remote", r.RemoteAddr))
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid webhook signature")
		return
	}

	if err := h.service.Process(r.Context(), body); err != nil {
		if errors.Is(err, ErrBadPayload) {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed event payload")
			return
		}
		// A 5xx makes the gateway redeliver; dedup keeps the retry safe.
		h.logger.Error("webhook processing failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"received": true})
}
