package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/meridian-admin/meridian/internal/platform/httpx"
	"github.com/meridian-admin/meridian/internal/shared"
)

const listRateLimit = 30

// Handler exposes read access to audit data plus event resolution.
type Handler struct {
	logger   *slog.Logger
	recorder *Recorder
	guard    func(http.Handler) http.Handler
}

// NewHandler builds a Handler. guard is the permission middleware applied to
// every route.
func NewHandler(logger *slog.Logger, recorder *Recorder, guard func(http.Handler) http.Handler) *Handler {
	return &Handler{logger: logger, recorder: recorder, guard: guard}
}

// MountRoutes registers audit routes. Listings are rate limited per actor.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(listRateLimit, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Group(func(r chi.Router) {
		if h.guard != nil {
			r.Use(h.guard)
		}
		r.With(limiter).Get("/security-events", h.listSecurityEvents)
		r.With(limiter).Get("/audit-logs", h.listAuditLogs)
		r.Post("/security-events/{id}/resolve", h.resolveSecurityEvent)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor, ok := shared.ActorFromContext(r.Context()); ok && actor.UserID > 0 {
		return "user:" + strconv.FormatInt(actor.UserID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

type pagedResponse struct {
	Items any `json:"items"`
	Total int `json:"total"`
}

func (h *Handler) listSecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := EventFilters{
		EventType: strings.TrimSpace(q.Get("eventType")),
		Severity:  Severity(strings.TrimSpace(q.Get("severity"))),
	}
	if v := q.Get("userId"); v != "" {
		filters.UserID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("unresolved"); v != "" {
		unresolved := v == "true" || v == "1"
		filters.Unresolved = &unresolved
	}
	filters.From, filters.To = timeRange(q.Get("from"), q.Get("to"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	events, total, err := h.recorder.SecurityEvents(r.Context(), filters, limit, offset)
	if err != nil {
		h.logger.Error("list security events", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if events == nil {
		events = []SecurityEvent{}
	}
	httpx.JSON(w, http.StatusOK, pagedResponse{Items: events, Total: total})
}

func (h *Handler) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := EntryFilters{
		Action:       strings.TrimSpace(q.Get("action")),
		ResourceType: strings.TrimSpace(q.Get("resourceType")),
	}
	if v := q.Get("userId"); v != "" {
		filters.UserID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("success"); v != "" {
		success := v == "true" || v == "1"
		filters.Success = &success
	}
	filters.From, filters.To = timeRange(q.Get("from"), q.Get("to"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	entries, total, err := h.recorder.AuditLogs(r.Context(), filters, limit, offset)
	if err != nil {
		h.logger.Error("list audit logs", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	httpx.JSON(w, http.StatusOK, pagedResponse{Items: entries, Total: total})
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

func (h *Handler) resolveSecurityEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid event id")
		return
	}
	var req resolveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Resolution) == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "resolution is required")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.recorder.ResolveSecurityEvent(r.Context(), id, actor.UserID, strings.TrimSpace(req.Resolution)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func timeRange(fromRaw, toRaw string) (time.Time, time.Time) {
	var from, to time.Time
	if fromRaw != "" {
		from, _ = time.Parse(time.RFC3339, fromRaw)
	}
	if toRaw != "" {
		to, _ = time.Parse(time.RFC3339, toRaw)
	}
	return from, to
}
