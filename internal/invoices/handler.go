package invoices

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-admin/meridian/internal/audit"
	"github.com/meridian-admin/meridian/internal/platform/httpx"
	"github.com/meridian-admin/meridian/internal/rbac"
	"github.com/meridian-admin/meridian/internal/shared"
)

// Handler exposes invoice endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	recorder *audit.Recorder
	rbac     rbac.Middleware
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, recorder *audit.Recorder, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, recorder: recorder, rbac: rbac}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require("invoices", "read"))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require("invoices", "write"))
		r.Post("/", h.create)
		r.Post("/{id}/status", h.transition)
	})
}

type pagedResponse struct {
	Items []Invoice `json:"items"`
	Total int       `json:"total"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, offset = shared.LimitOffset(limit, offset)
	items, total, err := h.service.List(r.Context(), Status(q.Get("status")), limit, offset)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []Invoice{}
	}
	httpx.JSON(w, http.StatusOK, pagedResponse{Items: items, Total: total})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	actor, _ := shared.ActorFromContext(r.Context())
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	inv, err := h.service.Create(r.Context(), actor.UserID, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.LogAuditWithPerformance(r.Context(), audit.Entry{
		UserID:       actor.UserID,
		Action:       "invoices.create",
		ResourceType: "invoice",
		ResourceID:   strconv.FormatInt(inv.ID, 10),
		NewValues:    map[string]any{"number": inv.Number, "amountCents": inv.AmountCents, "status": inv.Status},
		Method:       r.Method,
		Endpoint:     r.URL.Path,
		Success:      true,
		StatusCode:   http.StatusCreated,
		ResponseTime: time.Since(start),
		IP:           actor.IP,
		UserAgent:    actor.UserAgent,
	})
	httpx.JSON(w, http.StatusCreated, inv)
}

type transitionRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	before, after, err := h.service.Transition(r.Context(), id, req.Status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.LogAudit(r.Context(), audit.Entry{
		UserID:       actor.UserID,
		Action:       fmt.Sprintf("invoices.%s", after.Status),
		ResourceType: "invoice",
		ResourceID:   strconv.FormatInt(after.ID, 10),
		OldValues:    map[string]any{"status": before.Status},
		NewValues:    map[string]any{"status": after.Status},
		Method:       r.Method,
		Endpoint:     r.URL.Path,
		Success:      true,
		StatusCode:   http.StatusOK,
		IP:           actor.IP,
		UserAgent:    actor.UserAgent,
	})
	httpx.JSON(w, http.StatusOK, after)
}
