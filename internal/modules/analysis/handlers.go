package analysis

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/beacon/internal/cache"
	"github.com/aristath/beacon/internal/domain"
	"github.com/aristath/beacon/internal/envelope"
	"github.com/aristath/beacon/internal/events"
	"github.com/aristath/beacon/internal/modules/alignment"
	"github.com/aristath/beacon/internal/telemetry"
)

// DatasetResolver loads stored series referenced by id in a Request.
// Implemented by the datasets repository.
type DatasetResolver interface {
	FundRecords(id string) ([]domain.FundRecord, error)
	PricePoints(id string) ([]domain.PricePoint, error)
}

// defaultCacheTTL bounds how long a computed envelope is reusable when
// the configuration does not say otherwise.
const defaultCacheTTL = time.Hour

// Handlers provides the HTTP surface of the analysis module.
type Handlers struct {
	orchestrator *Orchestrator
	repo         *Repository
	store        cache.Store
	resolver     DatasetResolver
	bus          *events.Bus
	metrics      *telemetry.Metrics
	cacheTTL     time.Duration
	log          zerolog.Logger
}

// NewHandlers creates the analysis handlers. A non-positive cacheTTL
// falls back to the default.
func NewHandlers(
	orchestrator *Orchestrator,
	repo *Repository,
	store cache.Store,
	resolver DatasetResolver,
	bus *events.Bus,
	metrics *telemetry.Metrics,
	cacheTTL time.Duration,
	log zerolog.Logger,
) *Handlers {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Handlers{
		orchestrator: orchestrator,
		repo:         repo,
		store:        store,
		resolver:     resolver,
		bus:          bus,
		metrics:      metrics,
		cacheTTL:     cacheTTL,
		log:          log.With().Str("handler", "analysis").Logger(),
	}
}

// RegisterRoutes registers all analysis routes.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/analysis", func(r chi.Router) {
		r.Post("/pme", h.HandleComputePME)
		r.Post("/alignment", h.HandleAlignmentPreview)
		r.Get("/", h.HandleList)
		r.Get("/{id}", h.HandleGet)
	})
}

// HandleComputePME runs one full PME analysis: resolve dataset
// references, check the cache, compute, persist and broadcast.
func (h *Handlers) HandleComputePME(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.resolveDatasets(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key, err := cache.Fingerprint("analysis", req)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to fingerprint request")
		return
	}

	var env envelope.Envelope
	if err := cache.GetTyped(r.Context(), h.store, key, &env); err == nil {
		h.metrics.RecordCache(true)
		if env.Metadata == nil {
			env.Metadata = map[string]any{}
		}
		env.Metadata["cache"] = "hit"
		h.writeJSON(w, statusForEnvelope(env), envelope.SanitizeForJSON(env))
		return
	}
	h.metrics.RecordCache(false)

	h.bus.Publish(events.TypeAnalysisStarted, map[string]any{
		"fingerprint": key,
		"fund_name":   req.FundName,
		"method":      req.Options.Method,
	})

	start := time.Now()
	env = h.orchestrator.ComputePMEMetrics(req)

	status := StatusOf(env)
	h.metrics.RecordAnalysis(methodOf(req), status, time.Since(start).Seconds())

	id, err := h.repo.Save(key, req, env)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to persist analysis run")
	} else {
		env.Metadata["analysis_id"] = id
	}

	eventType := events.TypeAnalysisCompleted
	if !env.Success {
		eventType = events.TypeAnalysisFailed
	}
	h.bus.Publish(eventType, map[string]any{
		"id":        id,
		"method":    methodOf(req),
		"status":    status,
		"fund_name": req.FundName,
	})

	if env.Success {
		if err := cache.SetTyped(r.Context(), h.store, key, env, h.cacheTTL); err != nil {
			h.log.Warn().Err(err).Msg("Failed to cache analysis result")
		}
	}

	h.writeJSON(w, statusForEnvelope(env), envelope.SanitizeForJSON(env))
}

// HandleAlignmentPreview aligns the two series and returns the aligned
// pair plus fill diagnostics without computing any metrics.
func (h *Handlers) HandleAlignmentPreview(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.resolveDatasets(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	env := h.orchestrator.PreviewAlignment(req)
	h.writeJSON(w, statusForEnvelope(env), envelope.SanitizeForJSON(env))
}

// HandleGet returns one persisted analysis run.
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.repo.GetByID(id)
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(w, http.StatusNotFound, "Analysis not found: "+id)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("Failed to load analysis")
		h.writeError(w, http.StatusInternalServerError, "Failed to load analysis")
		return
	}
	h.writeJSON(w, http.StatusOK, envelope.SanitizeForJSON(rec))
}

// HandleList returns recent analysis runs, newest first.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := h.repo.List(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list analyses")
		h.writeError(w, http.StatusInternalServerError, "Failed to list analyses")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"analyses": envelope.SanitizeForJSON(records),
		"count":    len(records),
	})
}

// resolveDatasets swaps dataset references for their stored rows. The
// references are cleared afterwards so that inline and by-id requests
// with identical data share one cache fingerprint.
func (h *Handlers) resolveDatasets(req *Request) error {
	if req.FundDatasetID != "" {
		records, err := h.resolver.FundRecords(req.FundDatasetID)
		if err != nil {
			return errors.New("failed to resolve fund dataset " + req.FundDatasetID + ": " + err.Error())
		}
		req.Fund = records
		req.FundDatasetID = ""
	}
	if req.IndexDatasetID != "" {
		points, err := h.resolver.PricePoints(req.IndexDatasetID)
		if err != nil {
			return errors.New("failed to resolve index dataset " + req.IndexDatasetID + ": " + err.Error())
		}
		req.Index = points
		req.IndexDatasetID = ""
	}
	return nil
}

// statusForEnvelope maps an envelope onto an HTTP status: partial
// results are still 200s, failures map by the first error's category.
func statusForEnvelope(env envelope.Envelope) int {
	if env.Success {
		return http.StatusOK
	}
	if len(env.Errors) == 0 {
		return http.StatusInternalServerError
	}
	switch env.Errors[0].Category {
	case envelope.CategoryValidation, envelope.CategoryAlignment:
		return http.StatusBadRequest
	case envelope.CategoryCalculation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func methodOf(req Request) string {
	if req.Options.Method == "" {
		return MethodKaplanSchoar
	}
	return req.Options.Method
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// AlignmentRows exposes a stored request's series re-aligned for
// charting: the aligned pair plus a filled NAV column when the fund
// reported NAVs. Used by the reports module.
func AlignmentRows(engine *alignment.Engine, req Request) (*alignment.AlignedPair, []float64, error) {
	strategy, err := alignment.ParseStrategy(req.Options.MissingStrategy)
	if err != nil {
		return nil, nil, err
	}

	records := sortedRecords(req.Fund)
	fund := domain.FundSeries(records)
	index := domain.IndexSeries(req.Index)

	pair, err := engine.Align(fund, index, strategy)
	if err != nil {
		return nil, nil, err
	}

	nav := domain.NAVSeries(records)
	if nav.Len() < 2 {
		return pair, nil, nil
	}
	navValues, err := engine.Reindex(nav, pair.Dates, alignment.ForwardFill)
	if err != nil {
		return pair, nil, nil
	}
	return pair, navValues, nil
}
