package reports

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/beacon/internal/modules/alignment"
	"github.com/aristath/beacon/internal/modules/analysis"
)

// Handlers serves rendered artifacts for persisted analysis runs.
type Handlers struct {
	service *Service
	repo    *analysis.Repository
	engine  *alignment.Engine
	log     zerolog.Logger
}

// NewHandlers creates the report handlers.
func NewHandlers(service *Service, repo *analysis.Repository, engine *alignment.Engine, log zerolog.Logger) *Handlers {
	return &Handlers{
		service: service,
		repo:    repo,
		engine:  engine,
		log:     log.With().Str("handler", "reports").Logger(),
	}
}

// RegisterRoutes registers all report routes.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/reports/{id}", func(r chi.Router) {
		r.Get("/chart.png", h.HandleChart)
		r.Get("/summary.csv", h.HandleSummaryCSV)
	})
}

// HandleChart re-aligns the stored request and renders the fund-vs-index
// chart for one analysis run.
func (h *Handlers) HandleChart(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}

	pair, nav, err := analysis.AlignmentRows(h.engine, rec.Request)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "Failed to rebuild aligned series: "+err.Error())
		return
	}

	title := rec.FundName
	if title == "" {
		title = "Fund"
	}
	if rec.IndexName != "" {
		title += " vs " + rec.IndexName
	}

	img, err := h.service.RenderChart(title, pair, nav)
	if err != nil {
		h.log.Error().Err(err).Str("id", rec.ID).Msg("Failed to render chart")
		h.writeError(w, http.StatusInternalServerError, "Failed to render chart")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(img); err != nil {
		h.log.Error().Err(err).Msg("Failed to write chart response")
	}
}

// HandleSummaryCSV renders the metrics dictionary of one analysis run
// as a downloadable CSV.
func (h *Handlers) HandleSummaryCSV(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}

	metrics, ok := metricsFrom(rec.Envelope.Data)
	if !ok {
		h.writeError(w, http.StatusUnprocessableEntity, "Analysis "+rec.ID+" carries no metrics")
		return
	}

	out, err := h.service.RenderSummaryCSV(metrics)
	if err != nil {
		h.log.Error().Err(err).Str("id", rec.ID).Msg("Failed to render summary CSV")
		h.writeError(w, http.StatusInternalServerError, "Failed to render summary")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="summary.csv"`)
	if _, err := w.Write(out); err != nil {
		h.log.Error().Err(err).Msg("Failed to write CSV response")
	}
}

func (h *Handlers) loadRecord(w http.ResponseWriter, r *http.Request) (*analysis.Record, bool) {
	id := chi.URLParam(r, "id")

	rec, err := h.repo.GetByID(id)
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(w, http.StatusNotFound, "Analysis not found: "+id)
		return nil, false
	}
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("Failed to load analysis")
		h.writeError(w, http.StatusInternalServerError, "Failed to load analysis")
		return nil, false
	}
	return rec, true
}

// metricsFrom digs the metrics dictionary out of a persisted envelope.
// The payload has been through JSON, so it is a generic map by now.
func metricsFrom(data any) (map[string]any, bool) {
	payload, ok := data.(map[string]any)
	if !ok {
		return nil, false
	}
	metrics, ok := payload["metrics"].(map[string]any)
	return metrics, ok
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
