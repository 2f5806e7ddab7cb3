package wallet

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kudipay/kudipay/internal/platform/httpx"
	"github.com/kudipay/kudipay/internal/shared"
)

// Handler serves the wallet read endpoints and funding initialization.
type Handler struct {
	service  *Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler constructs the Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, validate: validator.New(), logger: logger}
}

// MountRoutes registers the wallet routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/wallet/balance", h.balance)
	r.Get("/wallet/entries", h.entries)
	r.Post("/wallet/fund", h.fund)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	balance, err := h.service.Balance(r.Context(), userID)
	if err != nil {
		status, title := shared.HTTPStatus(err)
		httpx.Problem(w, status, title, "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"balance":   balance,
		"formatted": shared.FormatMinor(h.service.currency, balance),
	})
}

func (h *Handler) entries(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	entries, err := h.service.Entries(r.Context(), userID, limit, offset)
	if err != nil {
		status, title := shared.HTTPStatus(err)
		httpx.Problem(w, status, title, "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries, "limit": limit, "offset": offset})
}

type fundRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

func (h *Handler) fund(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	var req fundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "amount must be a positive integer in minor units")
		return
	}
	intent, err := h.service.InitiateFunding(r.Context(), userID, req.Amount)
	if err != nil {
		status, title := shared.HTTPStatus(err)
		httpx.Problem(w, status, title, "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"reference":         intent.Reference,
		"authorization_url": intent.AuthorizationURL,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
