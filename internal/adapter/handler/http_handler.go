package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/dropspot/internal/auth"
	"github.com/rl1809/dropspot/internal/config"
	"github.com/rl1809/dropspot/internal/core/domain"
	"github.com/rl1809/dropspot/internal/core/service"
)

const maxBodyBytes = 1 << 20

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HTTPHandler struct {
	drops    *service.DropService
	waitlist *service.WaitlistService
	claims   *service.ClaimService
	verifier *auth.Verifier
	clock    service.Clock
	checks   map[string]Pinger
	logger   *slog.Logger
}

// NewHTTPHandler wires the HTTP surface. checks are pinged by /health/ready.
func NewHTTPHandler(
	drops *service.DropService,
	waitlist *service.WaitlistService,
	claims *service.ClaimService,
	verifier *auth.Verifier,
	clock service.Clock,
	checks map[string]Pinger,
	logger *slog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		drops:    drops,
		waitlist: waitlist,
		claims:   claims,
		verifier: verifier,
		clock:    clock,
		checks:   checks,
		logger:   logger.With(slog.String("component", "http")),
	}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(observe(h.logger))

	r.Get("/health", h.HealthCheck)
	r.Get("/health/ready", h.ReadyCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate(false))
		r.Get("/drops", h.ListDrops)
		r.Get("/drops/{id}", h.GetDrop)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate(true))
		r.Post("/drops/{id}/join", h.Join)
		r.Post("/drops/{id}/leave", h.Leave)
		r.Post("/drops/{id}/claim", h.Claim)
		r.Get("/drops/{id}/waitlist/me", h.WaitlistPosition)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.authenticate(true), requireAdmin)
		r.Get("/drops", h.AdminListDrops)
		r.Post("/drops", h.CreateDrop)
		r.Put("/drops/{id}", h.UpdateDrop)
		r.Delete("/drops/{id}", h.DeleteDrop)
		r.Get("/drops/{id}/claims", h.ListClaims)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, domain.CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, domain.CodeValidation, "method not allowed")
	})
	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": config.Version})
}

func (h *HTTPHandler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", slog.String("check", name), slog.Any("error", err))
			results[name] = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "fail"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": results})
}

func callerID(r *http.Request) string {
	id, _ := auth.FromContext(r.Context())
	return id.UserID
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err)
	}
	return nil
}

func (h *HTTPHandler) ListDrops(w http.ResponseWriter, r *http.Request) {
	filter, err := service.ParseDropFilter(r.URL.Query().Get("phase"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	drops, err := h.drops.ListDrops(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	ids := make([]string, len(drops))
	for i, d := range drops {
		ids[i] = d.ID
	}
	statuses, err := h.waitlist.Statuses(r.Context(), callerID(r), ids)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	now := h.clock.Now()
	items := make([]dropResponse, len(drops))
	for i, d := range drops {
		items[i] = toDropResponse(d, now)
		items[i].WaitlistStatus = string(statuses[d.ID])
	}
	writeJSON(w, http.StatusOK, listResponse[dropResponse]{Items: items, Total: len(items)})
}

func (h *HTTPHandler) GetDrop(w http.ResponseWriter, r *http.Request) {
	dropID := chi.URLParam(r, "id")
	drop, err := h.drops.GetDrop(r.Context(), dropID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := toDropResponse(drop, h.clock.Now())
	if user := callerID(r); user != "" {
		statuses, err := h.waitlist.Statuses(r.Context(), user, []string{drop.ID})
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		resp.WaitlistStatus = string(statuses[drop.ID])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) Join(w http.ResponseWriter, r *http.Request) {
	result, err := h.waitlist.Join(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, membershipResponse{Status: result.Status, AlreadyJoined: result.AlreadyJoined})
}

func (h *HTTPHandler) Leave(w http.ResponseWriter, r *http.Request) {
	result, err := h.waitlist.Leave(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, membershipResponse{Status: result.Status, AlreadyJoined: result.AlreadyJoined})
}

func (h *HTTPHandler) Claim(w http.ResponseWriter, r *http.Request) {
	claim, err := h.claims.Claim(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{ClaimCode: claim.ClaimCode, ClaimedAt: claim.ClaimedAt})
}

func (h *HTTPHandler) WaitlistPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.waitlist.Position(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

func (h *HTTPHandler) AdminListDrops(w http.ResponseWriter, r *http.Request) {
	drops, err := h.drops.ListAllDrops(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	now := h.clock.Now()
	items := make([]dropResponse, len(drops))
	for i, d := range drops {
		items[i] = toDropResponse(d, now)
	}
	writeJSON(w, http.StatusOK, listResponse[dropResponse]{Items: items, Total: len(items)})
}

func (h *HTTPHandler) CreateDrop(w http.ResponseWriter, r *http.Request) {
	var req dropRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	drop, err := h.drops.CreateDrop(r.Context(), req.spec())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDropResponse(drop, h.clock.Now()))
}

func (h *HTTPHandler) UpdateDrop(w http.ResponseWriter, r *http.Request) {
	var req dropRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	drop, err := h.drops.UpdateDrop(r.Context(), chi.URLParam(r, "id"), req.patch())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDropResponse(drop, h.clock.Now()))
}

func (h *HTTPHandler) DeleteDrop(w http.ResponseWriter, r *http.Request) {
	if err := h.drops.DeleteDrop(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := h.drops.ListClaims(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	items := make([]claimRecordResponse, len(claims))
	for i, c := range claims {
		items[i] = claimRecordResponse{UserID: c.UserID, ClaimCode: c.ClaimCode, ClaimedAt: c.ClaimedAt}
	}
	writeJSON(w, http.StatusOK, listResponse[claimRecordResponse]{Items: items, Total: len(items)})
}
