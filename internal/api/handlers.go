package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"plantwatch-backend/internal/monitor"
)

const defaultHistoryHours = 24

// HistorianPuller pulls the newest historian row for a machine into ingest.
type HistorianPuller interface {
	Pull(ctx context.Context, machineID string) (monitor.IngestResult, error)
}

// StreamServer upgrades a request into a plant event subscription.
type StreamServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, plantID string)
}

// Check is a named dependency probe reported by /healthz.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

type Handler struct {
	Engine    *monitor.Engine
	Historian HistorianPuller
	Stream    StreamServer
	Checks    []Check
	Timeout   time.Duration
	log       *zap.Logger
}

func NewHandler(engine *monitor.Engine, historian HistorianPuller, stream StreamServer, timeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handler{Engine: engine, Historian: historian, Stream: stream, Timeout: timeout, log: logger}
}

// Router builds the chi router. The websocket route sits outside the timeout
// middleware since its connection outlives any request deadline.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	if h.Stream != nil {
		r.Get("/ws/plants/{plantId}", h.handleStream)
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(h.Timeout))
		h.RegisterRoutes(r)
	})
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/plants", h.handleCreatePlant)
	r.Route("/plants/{plantId}", func(r chi.Router) {
		r.Get("/", h.handlePlantGet)
		r.Post("/machines", h.handleMachineRegister)
		r.Post("/diagnostics", h.handleDiagnostics)
		r.Get("/alerts", h.handleAlertsList)
		r.Get("/downtime", h.handleDowntimeList)
	})
	r.Route("/machines/{machineId}", func(r chi.Router) {
		r.Get("/", h.handleMachineGet)
		r.Put("/status", h.handleMachineStatus)
		r.Post("/readings", h.handleIngest)
		r.Get("/readings/latest", h.handleLatestReadings)
		r.Get("/readings/history", h.handleReadingHistory)
		r.Post("/simulate", h.handleSimulate)
		r.Post("/reset", h.handleReset)
		r.Post("/historian/pull", h.handleHistorianPull)
	})
	r.Route("/alerts/{alertId}", func(r chi.Router) {
		r.Get("/", h.handleAlertGet)
		r.Post("/acknowledge", h.handleAlertTransition(h.Engine.AcknowledgeAlert))
		r.Post("/resolve", h.handleAlertTransition(h.Engine.ResolveAlert))
		r.Post("/dismiss", h.handleAlertTransition(h.Engine.DismissAlert))
	})
	r.Route("/downtime/{eventId}", func(r chi.Router) {
		r.Get("/", h.handleDowntimeGet)
		r.Get("/cost", h.handleDowntimeCost)
		r.Post("/repair", h.handleRepair)
	})
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := map[string]string{}
	for _, c := range h.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := c.Probe(ctx)
		cancel()
		if err != nil {
			checks[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	plantID := chi.URLParam(r, "plantId")
	if _, err := h.Engine.GetPlant(r.Context(), plantID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Stream.ServeWS(w, r, plantID)
}

func (h *Handler) handleCreatePlant(w http.ResponseWriter, r *http.Request) {
	var req monitor.PlantInput
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	plant, err := h.Engine.CreatePlant(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, plant)
}

func (h *Handler) handlePlantGet(w http.ResponseWriter, r *http.Request) {
	plant, err := h.Engine.GetPlant(r.Context(), chi.URLParam(r, "plantId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plant)
}

func (h *Handler) handleMachineRegister(w http.ResponseWriter, r *http.Request) {
	var req monitor.MachineInput
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	machine, err := h.Engine.RegisterMachine(r.Context(), chi.URLParam(r, "plantId"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, machine)
}

func (h *Handler) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	diag, err := h.Engine.RunDiagnostics(r.Context(), chi.URLParam(r, "plantId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diag)
}

func (h *Handler) handleAlertsList(w http.ResponseWriter, r *http.Request) {
	status := monitor.AlertStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	alerts, err := h.Engine.ListAlerts(r.Context(), chi.URLParam(r, "plantId"), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (h *Handler) handleDowntimeList(w http.ResponseWriter, r *http.Request) {
	status := monitor.DowntimeStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	events, err := h.Engine.ListDowntime(r.Context(), chi.URLParam(r, "plantId"), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"downtime": events})
}

func (h *Handler) handleMachineGet(w http.ResponseWriter, r *http.Request) {
	machine, err := h.Engine.GetMachine(r.Context(), chi.URLParam(r, "machineId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, machine)
}

func (h *Handler) handleMachineStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status monitor.MachineStatus `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	machine, err := h.Engine.SetMachineStatus(r.Context(), chi.URLParam(r, "machineId"), req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, machine)
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Readings []monitor.ReadingInput `json:"readings"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	result, err := h.Engine.Ingest(r.Context(), chi.URLParam(r, "machineId"), req.Readings)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleLatestReadings(w http.ResponseWriter, r *http.Request) {
	readings, err := h.Engine.GetLatestReadings(r.Context(), chi.URLParam(r, "machineId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": readings})
}

func (h *Handler) handleReadingHistory(w http.ResponseWriter, r *http.Request) {
	hours := defaultHistoryHours
	if raw := strings.TrimSpace(r.URL.Query().Get("hours")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, &monitor.ValidationError{
				Message: "invalid history window",
				Details: []monitor.ErrorDetail{{Field: "hours", Problem: "not_integer", Hint: "Use a whole number of hours"}},
			})
			return
		}
		hours = parsed
	}
	readings, err := h.Engine.GetReadingHistory(r.Context(), chi.URLParam(r, "machineId"), r.URL.Query().Get("sensor_type"), hours)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": readings, "hours": hours})
}

func (h *Handler) handleSimulate(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.Simulate(r.Context(), chi.URLParam(r, "machineId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SensorType string `json:"sensor_type"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.SensorType == "" {
		req.SensorType = r.URL.Query().Get("sensor_type")
	}
	result, err := h.Engine.Reset(r.Context(), chi.URLParam(r, "machineId"), req.SensorType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleHistorianPull(w http.ResponseWriter, r *http.Request) {
	if h.Historian == nil {
		h.writeError(w, r, &monitor.ValidationError{
			Message: "historian is not configured",
			Details: []monitor.ErrorDetail{{Field: "historian", Problem: "not configured", Hint: "set HISTORIAN_TYPE and HISTORIAN_MAPPING_PATH"}},
		})
		return
	}
	result, err := h.Historian.Pull(r.Context(), chi.URLParam(r, "machineId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAlertGet(w http.ResponseWriter, r *http.Request) {
	alert, err := h.Engine.GetAlert(r.Context(), chi.URLParam(r, "alertId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleAlertTransition(fn func(context.Context, string) (monitor.AlertUpdate, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		update, err := fn(r.Context(), chi.URLParam(r, "alertId"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, update)
	}
}

func (h *Handler) handleDowntimeGet(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Engine.GetDowntime(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *Handler) handleDowntimeCost(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.Engine.CostAnalysis(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (h *Handler) handleRepair(w http.ResponseWriter, r *http.Request) {
	var req monitor.RepairInput
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	result, err := h.Engine.SubmitRepair(r.Context(), chi.URLParam(r, "eventId"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
