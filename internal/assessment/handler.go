package assessment

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/meridian-admin/meridian/internal/audit"
	"github.com/meridian-admin/meridian/internal/compliance"
	"github.com/meridian-admin/meridian/internal/platform/httpx"
)

const runRateLimit = 5

// Handler exposes the security dashboard and on-demand assessment runs.
type Handler struct {
	logger     *slog.Logger
	engine     *Engine
	store      Store
	events     EventStats
	compliance *compliance.Reporter
	guard      func(http.Handler) http.Handler
	clock      func() time.Time
}

// NewHandler builds a Handler. guard is the permission middleware applied to
// every route.
func NewHandler(logger *slog.Logger, engine *Engine, store Store, events EventStats, reporter *compliance.Reporter, guard func(http.Handler) http.Handler) *Handler {
	return &Handler{
		logger:     logger,
		engine:     engine,
		store:      store,
		events:     events,
		compliance: reporter,
		guard:      guard,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// MountRoutes registers dashboard and assessment routes. On-demand runs are
// rate limited since each one fans out aggregate queries.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.LimitByIP(runRateLimit, time.Minute)
	r.Group(func(r chi.Router) {
		if h.guard != nil {
			r.Use(h.guard)
		}
		r.Get("/dashboard", h.dashboard)
		r.Get("/assessments", h.listAssessments)
		r.With(limiter).Post("/assessments/run", h.runAssessment)
		r.Get("/compliance/report", h.complianceReport)
		r.Get("/compliance/frameworks", h.complianceFrameworks)
	})
}

type dashboardResponse struct {
	Assessment       *Assessment       `json:"assessment,omitempty"`
	OpenCritical     int               `json:"openCritical"`
	OpenHigh         int               `json:"openHigh"`
	EventsLast24h    int               `json:"eventsLast24h"`
	AuditLast24h     int               `json:"auditLast24h"`
	ComplianceStatus map[string]string `json:"complianceStatus,omitempty"`
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.clock()
	resp := dashboardResponse{}

	latest, err := h.store.Latest(ctx)
	switch {
	case err == nil:
		resp.Assessment = &latest
		resp.ComplianceStatus = latest.ComplianceStatus
	case errors.Is(err, ErrNotFound):
		// No stored run yet; the dashboard still shows live counts.
	default:
		httpx.RespondError(w, err)
		return
	}

	weekAgo := now.AddDate(0, 0, -7)
	if resp.OpenCritical, err = h.events.CountUnresolvedBySeverity(ctx, audit.SeverityCritical, weekAgo); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if resp.OpenHigh, err = h.events.CountUnresolvedBySeverity(ctx, audit.SeverityHigh, weekAgo); err != nil {
		httpx.RespondError(w, err)
		return
	}
	dayAgo := now.Add(-24 * time.Hour)
	if resp.EventsLast24h, err = h.events.CountEventsSince(ctx, dayAgo); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if resp.AuditLast24h, err = h.events.CountEntriesSince(ctx, dayAgo); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) listAssessments(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.store.List(r.Context(), limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if results == nil {
		results = []Assessment{}
	}
	httpx.JSON(w, http.StatusOK, results)
}

func (h *Handler) runAssessment(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Perform(r.Context())
	if err != nil {
		h.logger.Error("on-demand assessment failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) complianceReport(w http.ResponseWriter, r *http.Request) {
	from, to, err := reportWindow(r, h.clock())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	report, err := h.compliance.GenerateReport(r.Context(), from, to)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) complianceFrameworks(w http.ResponseWriter, r *http.Request) {
	from, to, err := reportWindow(r, h.clock())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	reports, err := h.compliance.FrameworkReports(r.Context(), from, to)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, reports)
}

// reportWindow parses from/to query params, defaulting to the trailing 30 days.
func reportWindow(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	from := now.AddDate(0, 0, -30)
	to := now
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid from timestamp")
		}
		from = parsed
	}
	if raw := q.Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid to timestamp")
		}
		to = parsed
	}
	return from, to, nil
}
