package reconciliation

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kudipay/kudipay/internal/platform/httpx"
)

// Handler exposes the operator endpoints for reconciliation runs.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs the Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// MountRoutes registers the reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/admin/reconciliation/runs", h.trigger)
	r.Get("/admin/reconciliation/runs", h.list)
	r.Get("/admin/reconciliation/runs/{day}", h.get)
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	// Default to yesterday: the gateway's report for the current day is
	// still moving.
	day := time.Now().UTC().AddDate(0, 0, -1)
	if raw := r.URL.Query().Get("day"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "day must be YYYY-MM-DD")
			return
		}
		day = parsed
	}
	run, err := h.service.Run(r.Context(), day)
	if err != nil {
		h.logger.Error("reconciliation run failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Reconciliation failed", "a settlement source was unreachable")
		return
	}
	httpx.JSON(w, http.StatusOK, run)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit := 30
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	runs, err := h.service.Latest(r.Context(), limit)
	if err != nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	day, err := time.Parse("2006-01-02", chi.URLParam(r, "day"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "day must be YYYY-MM-DD")
		return
	}
	run, err := h.service.ForDay(r.Context(), day)
	if errors.Is(err, ErrRunNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not found", "no run recorded for that day")
		return
	}
	if err != nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, run)
}
