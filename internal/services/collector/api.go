package collector

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/logger"
	"github.com/LeonardoBeccarini/agrosmart/internal/metrics"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/messages"
)

const maxBodyBytes = 64 << 10

// API is the collector's HTTP surface.
type API struct {
	svc      *Service
	cfg      config.CollectorConfig
	health   *Health
	gatherer prometheus.Gatherer
	log      *zap.Logger
	router   chi.Router
}

func NewAPI(svc *Service, cfg config.CollectorConfig, h *Health, g prometheus.Gatherer, log *zap.Logger) *API {
	a := &API{svc: svc, cfg: cfg, health: h, gatherer: g, log: logger.OrNop(log), router: chi.NewRouter()}
	a.setupMiddleware()
	a.setupRoutes()
	return a
}

func (a *API) Handler() http.Handler { return a.router }

func (a *API) setupMiddleware() {
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.RealIP)
	a.router.Use(a.requestLogger)
	a.router.Use(middleware.Recoverer)
	if a.cfg.HTTP.RequestTimeout > 0 {
		a.router.Use(middleware.Timeout(a.cfg.HTTP.RequestTimeout))
	}

	a.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Device-ID"},
		MaxAge:         300,
	}))
}

func (a *API) setupRoutes() {
	r := a.router
	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	if a.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(a.gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/sensors", a.handleIngest)
		r.Get("/sensors", a.handleLatest)
		r.Get("/constants", a.handleConstants)
		r.Get("/health", a.handleHealthz)

		r.Get("/mode", a.handleGetMode)
		r.Post("/mode", a.handleSetMode)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", a.handleListDevices)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetDevice)
				r.Get("/mode", a.handleGetMode)
				r.Post("/mode", a.handleSetMode)
				r.Get("/recommendation", a.handleRecommendation)
			})
		})
	})
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// ========== Views ==========

type deviceView struct {
	entities.ModeState
	ConnectionStatus string  `json:"connection_status"` // connected | link_down | stale | no_data
	AgeSeconds       float64 `json:"age_sec,omitempty"`
}

func (a *API) view(st entities.ModeState) deviceView {
	v := deviceView{ModeState: st}
	switch {
	case st.Snapshot == nil:
		v.ConnectionStatus = "no_data"
		return v
	case !a.svc.Fresh(st):
		v.ConnectionStatus = "stale"
	case !st.Snapshot.LinkConnected:
		v.ConnectionStatus = "link_down"
	default:
		v.ConnectionStatus = "connected"
	}
	v.AgeSeconds = a.svc.now().Sub(st.ReceivedAt).Seconds()
	return v
}

type ingestResponse struct {
	Status         string                   `json:"status"`
	ReceiptID      string                   `json:"receipt_id"`
	DeviceID       string                   `json:"device_id"`
	Mode           entities.Mode            `json:"mode"`
	Recommendation *entities.Recommendation `json:"recommendation,omitempty"`
	Declined       string                   `json:"declined,omitempty"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type modeResponse struct {
	DeviceID string        `json:"device_id,omitempty"`
	Scope    string        `json:"scope"` // device | global
	Mode     entities.Mode `json:"mode"`
}

// ========== Handlers ==========

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	var p messages.TelemetryPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&p); err != nil {
		a.svc.countRejected("bad_json")
		a.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	snap, err := p.Snapshot()
	if err != nil {
		a.svc.countRejected("invalid_snapshot")
		a.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	id := a.deviceID(p.DeviceID, r)
	st, err := a.svc.Ingest(r.Context(), id, snap, "http")
	if err != nil {
		if errors.Is(err, messages.ErrInvalidSnapshot) {
			a.respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		a.log.Error("collector: ingest failed", zap.String("device_id", id), zap.Error(err))
		a.respondError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	a.respondJSON(w, http.StatusOK, ingestResponse{
		Status:         "ok",
		ReceiptID:      uuid.NewString(),
		DeviceID:       st.DeviceID,
		Mode:           st.Mode,
		Recommendation: st.Recommendation,
		Declined:       st.Declined,
	})
}

func (a *API) handleLatest(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("device")
	if id == "" {
		id = a.cfg.DefaultDeviceID
	}
	st, err := a.svc.Store().Get(id)
	if err != nil || st.Snapshot == nil {
		a.respondError(w, http.StatusNotFound, "no data for device "+id)
		return
	}
	a.respondJSON(w, http.StatusOK, a.view(st))
}

func (a *API) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	list := a.svc.Store().List()
	out := make([]deviceView, 0, len(list))
	for _, st := range list {
		out = append(out, a.view(st))
	}
	a.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": out,
		"total":   len(out),
	})
}

func (a *API) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Store().Get(chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, http.StatusNotFound, "device not found")
		return
	}
	a.respondJSON(w, http.StatusOK, a.view(st))
}

// handleGetMode serves both /api/mode[?device=] and /api/devices/{id}/mode.
func (a *API) handleGetMode(w http.ResponseWriter, r *http.Request) {
	id := a.modeTarget(r)
	mode, err := a.svc.Mode(id)
	if err != nil {
		a.respondError(w, http.StatusNotFound, "device not found")
		return
	}
	a.respondJSON(w, http.StatusOK, modeResponse{DeviceID: id, Scope: scope(id), Mode: mode})
}

func (a *API) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	mode, err := entities.ParseMode(strings.ToLower(strings.TrimSpace(req.Mode)))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := a.modeTarget(r)
	if id == "" {
		if err := a.svc.SetGlobalMode(r.Context(), mode); err != nil {
			a.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		a.respondJSON(w, http.StatusOK, modeResponse{Scope: "global", Mode: mode})
		return
	}

	st, err := a.svc.SetMode(r.Context(), id, mode)
	if err != nil {
		if errors.Is(err, ErrUnknownDevice) {
			a.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		a.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.respondJSON(w, http.StatusOK, a.view(st))
}

func (a *API) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	rec, err := a.svc.Recommendation(chi.URLParam(r, "id"))
	switch {
	case err == nil:
		a.respondJSON(w, http.StatusOK, rec)
	case errors.Is(err, ErrUnknownDevice):
		a.respondError(w, http.StatusNotFound, "device not found")
	default:
		a.respondJSON(w, http.StatusConflict, map[string]string{
			"error":  err.Error(),
			"reason": DeclineReason(err),
		})
	}
}

func (a *API) handleConstants(w http.ResponseWriter, _ *http.Request) {
	d := a.cfg.Decision
	a.respondJSON(w, http.StatusOK, map[string]interface{}{
		"thresholds": map[string]float64{
			"water_critical":       a.cfg.Thresholds.WaterCritical,
			"irrigation_threshold": a.cfg.Thresholds.IrrigationThreshold,
			"heat_threshold":       a.cfg.Thresholds.HeatThreshold,
		},
		"sample_interval_sec":    a.cfg.SampleInterval.Seconds(),
		"max_snapshot_age_sec":   d.MaxSnapshotAge.Seconds(),
		"target_moisture":        d.TargetMoisture,
		"max_irrigation_minutes": d.MaxIrrigationMinutes,
		"rain_pause_minutes":     d.RainPauseMinutes,
		"cooling_minutes":        d.CoolingMinutes,
		"default_mode":           a.svc.Store().DefaultMode(),
	})
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	a.respondJSON(w, http.StatusOK, a.health.Report())
}

func (a *API) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	ready := a.health.Report().Ready
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	a.respondJSON(w, code, map[string]bool{"ready": ready})
}

// ========== Helper functions ==========

// deviceID prefers the payload, then the X-Device-ID header, then the default.
func (a *API) deviceID(fromPayload string, r *http.Request) string {
	if id := strings.TrimSpace(fromPayload); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.Header.Get("X-Device-ID")); id != "" {
		return id
	}
	return a.cfg.DefaultDeviceID
}

func (a *API) modeTarget(r *http.Request) string {
	if id := chi.URLParam(r, "id"); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("device"))
}

func scope(id string) string {
	if id == "" {
		return "global"
	}
	return "device"
}

func (a *API) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		a.log.Error("failed to marshal response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

func (a *API) respondError(w http.ResponseWriter, status int, message string) {
	a.respondJSON(w, status, map[string]string{"error": message})
}
