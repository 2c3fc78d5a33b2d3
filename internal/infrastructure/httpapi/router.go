package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"FreshnessTracker/internal/domain"
	"FreshnessTracker/internal/metrics"
	"FreshnessTracker/internal/ports"
	"FreshnessTracker/internal/usecase"
	"FreshnessTracker/pkg/logger"
)

// SimulationControl is the command side of the simulation.
type SimulationControl interface {
	Start(stage domain.Stage) error
	Stop(stage domain.Stage) error
	Status() usecase.Status
}

// Sampler answers ad-hoc reading requests.
type Sampler interface {
	Sample(stage domain.Stage, patch domain.PatchID, at time.Time) (domain.Sample, error)
}

// Deps wires the router. History, WebSocket and Metrics are optional.
type Deps struct {
	Simulation     SimulationControl
	Sampler        Sampler
	History        ports.ReadingHistory
	WebSocket      http.HandlerFunc
	Metrics        *metrics.Recorder
	AllowedOrigins []string
	Logger         *slog.Logger
	Now            func() time.Time
}

type api struct {
	sim     SimulationControl
	sampler Sampler
	history ports.ReadingHistory
	logger  *slog.Logger
	now     func() time.Time
}

// NewRouter builds the HTTP surface with CORS and access logging applied.
func NewRouter(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	a := &api{sim: deps.Simulation, sampler: deps.Sampler, history: deps.History, logger: log, now: now}

	r := mux.NewRouter()
	if deps.Metrics != nil {
		r.Use(routeMetrics(deps.Metrics))
		r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/health", a.health).Methods(http.MethodGet)
	r.HandleFunc("/start/{stage}", a.start).Methods(http.MethodPost)
	r.HandleFunc("/stop/{stage}", a.stop).Methods(http.MethodPost)
	r.HandleFunc("/api/status", a.status).Methods(http.MethodGet)
	r.HandleFunc("/api/history", a.historyPoints).Methods(http.MethodGet)
	r.HandleFunc("/api/summary", a.summary).Methods(http.MethodGet)
	r.HandleFunc("/api/summary/patches", a.patchAverages).Methods(http.MethodGet)
	r.HandleFunc("/api/sample", a.sample).Methods(http.MethodGet)
	if deps.WebSocket != nil {
		r.HandleFunc("/ws", deps.WebSocket).Methods(http.MethodGet)
	}

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return handlers.LoggingHandler(logger.Writer(log, "access", slog.LevelDebug), cors(r))
}

func routeMetrics(rec *metrics.Recorder) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			route := "unmatched"
			if cur := mux.CurrentRoute(req); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			rec.WrapHandler(route, next).ServeHTTP(w, req)
		})
	}
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": string(a.sim.Status().State)})
}

func (a *api) start(w http.ResponseWriter, r *http.Request) {
	stage, err := domain.ParseStage(mux.Vars(r)["stage"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.sim.Start(stage); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, usecase.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		a.logger.Error("start failed", "stage", stage, "error", err)
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started", "phase": string(stage)})
}

func (a *api) stop(w http.ResponseWriter, r *http.Request) {
	stage, err := domain.ParseStage(mux.Vars(r)["stage"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.sim.Stop(stage); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "phase": string(stage)})
}

func (a *api) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sim.Status())
}

func (a *api) historyPoints(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusServiceUnavailable, errNoHistory)
		return
	}

	q := r.URL.Query()
	if q.Get("patch_id") == "" || q.Get("phase") == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing patch_id or phase"))
		return
	}
	patch, err := parsePatch(q.Get("patch_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stage, err := domain.ParseStage(q.Get("phase"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	points, err := a.history.History(r.Context(), patch, stage)
	if err != nil {
		a.logger.Error("history query failed", "patch_id", patch, "stage", stage, "error", err)
		writeError(w, http.StatusInternalServerError, errQueryFailed)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (a *api) summary(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusServiceUnavailable, errNoHistory)
		return
	}
	out, err := a.history.Summary(r.Context())
	if err != nil {
		a.logger.Error("summary query failed", "error", err)
		writeError(w, http.StatusInternalServerError, errQueryFailed)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) patchAverages(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusServiceUnavailable, errNoHistory)
		return
	}

	var stage domain.Stage
	if raw := r.URL.Query().Get("phase"); raw != "" {
		parsed, err := domain.ParseStage(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		stage = parsed
	}

	out, err := a.history.PatchAverages(r.Context(), stage)
	if err != nil {
		a.logger.Error("patch averages query failed", "stage", stage, "error", err)
		writeError(w, http.StatusInternalServerError, errQueryFailed)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) sample(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stage, err := domain.ParseStage(q.Get("phase"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	patch := domain.PatchID(1)
	if raw := q.Get("patch_id"); raw != "" {
		if patch, err = parsePatch(raw); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	s, err := a.sampler.Sample(stage, patch, a.now())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInvalidPatch) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Payload())
}

var (
	errNoHistory   = errors.New("history store not configured")
	errQueryFailed = errors.New("database query failed")
)

func parsePatch(raw string) (domain.PatchID, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("patch_id must be a positive integer")
	}
	return domain.PatchID(n), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
