package withdrawal

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kudipay/kudipay/internal/platform/httpx"
	"github.com/kudipay/kudipay/internal/shared"
)

// Handler wires withdrawal endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers HTTP routes for withdrawals.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/withdrawals", h.handleWithdraw)
	r.Get("/withdrawals/{reference}", h.handleGet)
}

type withdrawRequest struct {
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	BankCode      string `json:"bank_code" validate:"required"`
	AccountNumber string `json:"account_number" validate:"required,len=10,numeric"`
	AccountName   string `json:"account_name"`
	Reference     string `json:"reference"`
}

type withdrawResponse struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	var req withdrawRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	wd, err := h.service.Withdraw(r.Context(), WithdrawInput{
		UserID:        userID,
		Amount:        req.Amount,
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
		Reference:     req.Reference,
	})
	if err != nil {
		if errors.Is(err, shared.ErrDuplicateInProgress) {
			httpx.JSON(w, http.StatusOK, withdrawResponse{Success: true, Reference: wd.Reference, Status: string(wd.Status)})
			return
		}
		h.logger.Warn("withdrawal failed",
			slog.String("reference", wd.Reference),
			slog.Any("error", err))
		status, title := shared.HTTPStatus(err)
		httpx.Problem(w, status, title, "")
		return
	}
	httpx.JSON(w, http.StatusOK, withdrawResponse{Success: true, Reference: wd.Reference, Status: string(wd.Status)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	wd, err := h.service.Get(r.Context(), chi.URLParam(r, "reference"))
	if err != nil || wd.UserID != userID {
		httpx.Problem(w, http.StatusNotFound, "Not found", "")
		return
	}
	httpx.JSON(w, http.StatusOK, withdrawResponse{
		Success:   wd.Status == StatusSuccessful,
		Reference: wd.Reference,
		Status:    string(wd.Status),
	})
}
