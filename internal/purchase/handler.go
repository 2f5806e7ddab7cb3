package purchase

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kudipay/kudipay/internal/platform/httpx"
	"github.com/kudipay/kudipay/internal/shared"
)

// Handler wires purchase endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers HTTP routes for purchases.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/purchases/airtime", h.handleAirtime)
	r.Post("/purchases/data", h.handleData)
	r.Get("/purchases/{reference}", h.handleGet)
}

type purchaseRequest struct {
	Phone     string `json:"phone" validate:"required"`
	Provider  string `json:"provider" validate:"required"`
	PlanCode  string `json:"plan_code"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Reference string `json:"reference"`
}

type purchaseResponse struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

func (h *Handler) handleAirtime(w http.ResponseWriter, r *http.Request) {
	h.handleBuy(w, r, KindAirtime)
}

func (h *Handler) handleData(w http.ResponseWriter, r *http.Request) {
	h.handleBuy(w, r, KindData)
}

func (h *Handler) handleBuy(w http.ResponseWriter, r *http.Request, kind Kind) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	var req purchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	p, err := h.service.Buy(r.Context(), BuyInput{
		UserID:    userID,
		Kind:      kind,
		Phone:     req.Phone,
		Provider:  req.Provider,
		PlanCode:  req.PlanCode,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
	if err != nil {
		if errors.Is(err, shared.ErrDuplicateInProgress) {
			httpx.JSON(w, http.StatusOK, purchaseResponse{Success: true, Reference: p.Reference, Status: string(p.Status)})
			return
		}
		h.logger.Warn("purchase failed",
			slog.String("kind", string(kind)),
			slog.String("reference", p.Reference),
			slog.Any("error", err))
		status, title := shared.HTTPStatus(err)
		httpx.Problem(w, status, title, "")
		return
	}
	httpx.JSON(w, http.StatusOK, purchaseResponse{Success: true, Reference: p.Reference, Status: string(p.Status)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	p, err := h.service.Get(r.Context(), chi.URLParam(r, "reference"))
	if err != nil || p.UserID != userID {
		httpx.Problem(w, http.StatusNotFound, "Not found", "")
		return
	}
	httpx.JSON(w, http.StatusOK, purchaseResponse{
		Success:   p.Status == StatusSuccessful,
		Reference: p.Reference,
		Status:    string(p.Status),
	})
}
