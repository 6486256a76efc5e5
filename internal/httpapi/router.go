// Package httpapi exposes a running simulation over read-only HTTP
// endpoints: the snapshot series, per-agent compartments, the run clock,
// Prometheus metrics and a health probe.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/signalsfoundry/sehir-simulator/internal/logging"
	"github.com/signalsfoundry/sehir-simulator/model"
	"github.com/signalsfoundry/sehir-simulator/timectrl"
)

// Simulation is the observer surface the router reads from. *core.Engine
// satisfies it.
type Simulation interface {
	StepCount() int
	Size() int
	Snapshots() []model.Snapshot
	Latest() model.Snapshot
	Snapshot(step int) (model.Snapshot, bool)
	Agents() []model.AgentView
	Agent(id model.NodeID) (model.AgentView, bool)
}

// Options configures the router.
type Options struct {
	// AllowedOrigins defaults to "*".
	AllowedOrigins []string
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	// Clock is served at /v1/clock when non-nil.
	Clock  timectrl.SimClock
	Logger logging.Logger
	RunID  string
}

type agentResponse struct {
	Node  model.NodeID      `json:"node"`
	State model.Compartment `json:"state"`
	Color string            `json:"color"`
}

type clockResponse struct {
	Tick    int       `json:"tick"`
	SimTime time.Time `json:"sim_time"`
	Step    int       `json:"step"`
}

type statusResponse struct {
	Status     string `json:"status"`
	RunID      string `json:"run_id,omitempty"`
	Step       int    `json:"step"`
	Population int    `json:"population"`
}

// NewRouter builds the HTTP handler for sim.
func NewRouter(sim Simulation, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	h := &handler{sim: sim, clock: opts.Clock, log: log, runID: opts.RunID}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(requestLogger(log))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	router.Get("/healthz", h.health)
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics)
	}

	router.Route("/v1", func(r chi.Router) {
		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/", h.listSnapshots)
			r.Get("/latest", h.latestSnapshot)
			r.Get("/{step}", h.getSnapshot)
		})
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.listAgents)
			r.Get("/{nodeID}", h.getAgent)
		})
		if h.clock != nil {
			r.Get("/clock", h.getClock)
		}
	})

	return router
}

type handler struct {
	sim   Simulation
	clock timectrl.SimClock
	log   logging.Logger
	runID string
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, r, http.StatusOK, statusResponse{
		Status:     "ok",
		RunID:      h.runID,
		Step:       h.sim.StepCount(),
		Population: h.sim.Size(),
	})
}

func (h *handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, r, http.StatusOK, h.sim.Snapshots())
}

func (h *handler) latestSnapshot(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, r, http.StatusOK, h.sim.Latest())
}

func (h *handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	step, err := strconv.Atoi(chi.URLParam(r, "step"))
	if err != nil || step < 0 {
		h.respondError(w, r, http.StatusBadRequest, "step must be a non-negative integer")
		return
	}
	snap, ok := h.sim.Snapshot(step)
	if !ok {
		h.respondError(w, r, http.StatusNotFound, "no snapshot for step "+strconv.Itoa(step))
		return
	}
	h.respondJSON(w, r, http.StatusOK, snap)
}

func (h *handler) listAgents(w http.ResponseWriter, r *http.Request) {
	views := h.sim.Agents()

	var filter *model.Compartment
	if raw := r.URL.Query().Get("state"); raw != "" {
		c, err := model.ParseCompartment(raw)
		if err != nil {
			h.respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		filter = &c
	}

	out := make([]agentResponse, 0, len(views))
	for _, v := range views {
		if filter != nil && v.State != *filter {
			continue
		}
		out = append(out, toAgentResponse(v))
	}
	h.respondJSON(w, r, http.StatusOK, out)
}

func (h *handler) getAgent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "nodeID"))
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "nodeID must be an integer")
		return
	}
	v, ok := h.sim.Agent(model.NodeID(id))
	if !ok {
		h.respondError(w, r, http.StatusNotFound, "unknown node "+strconv.Itoa(id))
		return
	}
	h.respondJSON(w, r, http.StatusOK, toAgentResponse(v))
}

func (h *handler) getClock(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, r, http.StatusOK, clockResponse{
		Tick:    h.clock.Ticks(),
		SimTime: h.clock.Now(),
		Step:    h.sim.StepCount(),
	})
}

func toAgentResponse(v model.AgentView) agentResponse {
	return agentResponse{Node: v.Node, State: v.State, Color: v.State.Color()}
}

func (h *handler) respondJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.FromContext(r.Context(), h.log).Warn(r.Context(), "encode response", logging.Err(err))
	}
}

func (h *handler) respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.respondJSON(w, r, status, map[string]any{
		"error":   true,
		"message": message,
		"code":    status,
	})
}

// requestLogger scopes a logger tagged with the request id to the request
// context and logs each request once it completes.
func requestLogger(log logging.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := log.With(logging.String("request_id", chimiddleware.GetReqID(r.Context())))
			r = r.WithContext(logging.ContextWithLogger(r.Context(), reqLog))

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			reqLog.Debug(r.Context(), "http request",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", ww.Status()),
				logging.Int("bytes", ww.BytesWritten()),
				logging.Duration("duration", time.Since(start)),
			)
		})
	}
}
