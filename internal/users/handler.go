package users

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-admin/meridian/internal/audit"
	"github.com/meridian-admin/meridian/internal/platform/httpx"
	"github.com/meridian-admin/meridian/internal/rbac"
	"github.com/meridian-admin/meridian/internal/shared"
)

// Handler exposes account management endpoints.
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

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require("users", "read"))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require("users", "manage"))
		r.Post("/", h.create)
		r.Patch("/{id}", h.update)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []User{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

type createRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"isAdmin"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	user, err := h.service.Create(r.Context(), CreateInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		IsAdmin:  req.IsAdmin,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logAudit(r, "users.create", user.ID, nil, map[string]any{"email": user.Email, "isAdmin": user.IsAdmin})
	httpx.JSON(w, http.StatusCreated, user)
}

type updateRequest struct {
	Name       *string `json:"name"`
	IsActive   *bool   `json:"isActive"`
	IsAdmin    *bool   `json:"isAdmin"`
	MFAEnabled *bool   `json:"mfaEnabled"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	before, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Update(r.Context(), id, UpdateInput{
		Name:       req.Name,
		IsActive:   req.IsActive,
		IsAdmin:    req.IsAdmin,
		MFAEnabled: req.MFAEnabled,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logAudit(r, "users.update", user.ID,
		map[string]any{"isActive": before.IsActive, "isAdmin": before.IsAdmin, "mfaEnabled": before.MFAEnabled},
		map[string]any{"isActive": user.IsActive, "isAdmin": user.IsAdmin, "mfaEnabled": user.MFAEnabled})
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) logAudit(r *http.Request, action string, targetID int64, oldValues, newValues map[string]any) {
	actor, _ := shared.ActorFromContext(r.Context())
	h.recorder.LogAudit(r.Context(), audit.Entry{
		UserID:       actor.UserID,
		Action:       action,
		ResourceType: "user",
		ResourceID:   strconv.FormatInt(targetID, 10),
		OldValues:    oldValues,
		NewValues:    newValues,
		Method:       r.Method,
		Endpoint:     r.URL.Path,
		Success:      true,
		IP:           actor.IP,
		UserAgent:    actor.UserAgent,
	})
}
