package transfer

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kudipay/kudipay/internal/platform/httpx"
	"github.com/kudipay/kudipay/internal/shared"
)

// Handler wires P2P transfer endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers HTTP routes for transfers.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/transfers", h.handleSend)
	r.Get("/transfers/{reference}", h.handleGet)
}

type sendRequest struct {
	Recipient string `json:"recipient" validate:"required"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Reference string `json:"reference"`
}

type sendResponse struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	var req sendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	t, err := h.service.Send(r.Context(), SendInput{
		SenderID:  userID,
		Recipient: req.Recipient,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
	if err != nil {
		if errors.Is(err, shared.ErrDuplicateInProgress) {
			httpx.JSON(w, http.StatusOK, sendResponse{Success: true, Reference: t.Reference, Status: string(t.Status)})
			return
		}
		h.logger.Warn("transfer failed",
			slog.String("reference", t.Reference),
			slog.Any("error", err))
		status, title := shared.HTTPStatus(err)
		httpx.Problem(w, status, title, "")
		return
	}
	httpx.JSON(w, http.StatusOK, sendResponse{Success: true, Reference: t.Reference, Status: string(t.Status)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	t, err := h.service.Get(r.Context(), chi.URLParam(r, "reference"))
	if err != nil || t.SenderID != userID {
		httpx.Problem(w, http.StatusNotFound, "Not found", "")
		return
	}
	httpx.JSON(w, http.StatusOK, sendResponse{
		Success:   t.Status == StatusCompleted,
		Reference: t.Reference,
		Status:    string(t.Status),
	})
}
