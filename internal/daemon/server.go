package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"chainwatch/internal/chain"
	cwerrors "chainwatch/internal/errors"
	"chainwatch/internal/version"
	"chainwatch/internal/webhooks"
)

// Handler returns the daemon's HTTP routes.
func (d *Daemon) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(d.instrument)

	// Unauthenticated
	r.Get("/health", d.handleHealth)
	r.Method(http.MethodGet, "/metrics", d.app.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(d.withAuth)

		r.Get("/status", d.handleStatus)
		r.Get("/chain", d.handleChain)
		r.Get("/chain/text", d.handleChainText)
		r.Get("/diagnostics", d.handleDiagnostics)
		r.Get("/participants", d.handleParticipants)
		r.Get("/participants/{ref}", d.handleParticipant)
		r.Get("/sweeps", d.handleSweeps)
		r.Post("/sweep", d.handleSweep)
		r.Get("/webhooks/deliveries", d.handleDeliveries)
	})
	return r
}

// instrument records request counts and latencies by route pattern.
func (d *Daemon) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		d.app.Metrics.ObserveHTTP(r.Method, route, status, time.Since(start))
		d.logger.Debug("HTTP request",
			"method", r.Method,
			"route", route,
			"status", status,
			"requestId", chimiddleware.GetReqID(r.Context()),
		)
	})
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks"`
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	d.mu.RLock()
	started, lastErr := d.startedAt, d.lastError
	d.mu.RUnlock()

	resp := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Uptime:  formatDuration(time.Since(started)),
		Checks:  map[string]string{"database": "ok", "sweep": "ok"},
	}
	status := http.StatusOK
	if err := d.app.DB.Conn().PingContext(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if lastErr != "" {
		if resp.Status == "healthy" {
			resp.Status = "degraded"
		}
		resp.Checks["sweep"] = lastErr
	}
	d.writeJSON(w, status, resp)
}

// APIResponse wraps error responses.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    APIMeta   `json:"meta"`
}

// APIError represents an API error
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// APIMeta contains response metadata
type APIMeta struct {
	RequestID     string `json:"requestId,omitempty"`
	DaemonVersion string `json:"daemonVersion"`
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	d.writeJSON(w, http.StatusOK, d.State())
}

func (d *Daemon) handleChain(w http.ResponseWriter, r *http.Request) {
	view, err := d.app.Engine.View(r.Context())
	if err != nil {
		d.writeErr(w, r, err)
		return
	}
	d.writeJSON(w, http.StatusOK, view)
}

func (d *Daemon) handleChainText(w http.ResponseWriter, r *http.Request) {
	view, err := d.app.Engine.View(r.Context())
	if err != nil {
		d.writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(view.Text + "\n"))
}

// DiagnosticsResponse lists the advice for the current chain.
type DiagnosticsResponse struct {
	Notices []chain.Notice `json:"notices"`
	Text    string         `json:"text"`
}

func (d *Daemon) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	view, err := d.app.Engine.View(r.Context())
	if err != nil {
		d.writeErr(w, r, err)
		return
	}
	notices := view.Notices
	if notices == nil {
		notices = []chain.Notice{}
	}
	d.writeJSON(w, http.StatusOK, DiagnosticsResponse{
		Notices: notices,
		Text:    chain.FormatNotices(notices),
	})
}

func (d *Daemon) handleParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := d.app.Engine.Participants(r.Context())
	if err != nil {
		d.writeErr(w, r, err)
		return
	}
	d.writeJSON(w, http.StatusOK, map[string]any{"participants": participants})
}

func (d *Daemon) handleParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := d.app.Engine.Lookup(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		d.writeErr(w, r, err)
		return
	}
	d.writeJSON(w, http.StatusOK, p)
}

func (d *Daemon) handleSweeps(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	records, err := d.app.Sweeps.Recent(r.Context(), limit)
	if err != nil {
		d.writeErr(w, r, err)
		return
	}
	d.writeJSON(w, http.StatusOK, map[string]any{"sweeps": records})
}

func (d *Daemon) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := d.runSweep(r.Context())
	if err != nil {
		d.writeErr(w, r, err)
		return
	}
	d.writeJSON(w, http.StatusOK, report)
}

func (d *Daemon) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	opts := webhooks.ListDeliveriesOptions{
		WebhookID: r.URL.Query().Get("webhook"),
		Limit:     queryInt(r, "limit", 50),
	}
	for _, s := range r.URL.Query()["status"] {
		opts.Status = append(opts.Status, webhooks.DeliveryStatus(s))
	}
	resp, err := d.app.Webhooks.ListDeliveries(r.Context(), opts)
	if err != nil {
		d.writeErr(w, r, err)
		return
	}
	d.writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// writeJSON writes a JSON response
func (d *Daemon) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		d.logger.Warn("Failed to encode JSON response", "error", err.Error())
	}
}

// writeErr maps err's code to an HTTP status.
func (d *Daemon) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := cwerrors.CodeOf(err)
	switch code {
	case cwerrors.ParticipantNotFound:
		status = http.StatusNotFound
	case cwerrors.BudgetExceeded:
		status = http.StatusServiceUnavailable
	case cwerrors.AnchorMissing, cwerrors.ConfigInvalid:
		status = http.StatusConflict
	case "":
		code = cwerrors.InternalError
	}

	apiErr := &APIError{Code: string(code), Message: err.Error()}
	var cwErr *cwerrors.Error
	if errors.As(err, &cwErr) {
		apiErr.Message = cwErr.Message
		apiErr.Details = cwErr.Details
	}
	d.writeError(w, r, status, apiErr)
}

// writeError writes an error response
func (d *Daemon) writeError(w http.ResponseWriter, r *http.Request, status int, apiErr *APIError) {
	d.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   apiErr,
		Meta: APIMeta{
			RequestID:     chimiddleware.GetReqID(r.Context()),
			DaemonVersion: version.Version,
		},
	})
}
