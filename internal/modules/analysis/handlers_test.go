package analysis

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/beacon/internal/cache"
	"github.com/aristath/beacon/internal/domain"
	"github.com/aristath/beacon/internal/envelope"
	"github.com/aristath/beacon/internal/events"
	"github.com/aristath/beacon/internal/telemetry"
)

// stubResolver serves a single fund/index dataset pair by fixed ids.
type stubResolver struct {
	fund  []domain.FundRecord
	index []domain.PricePoint
}

func (s *stubResolver) FundRecords(id string) ([]domain.FundRecord, error) {
	if id != "fund-1" {
		return nil, errors.New("no such dataset")
	}
	return s.fund, nil
}

func (s *stubResolver) PricePoints(id string) ([]domain.PricePoint, error) {
	if id != "index-1" {
		return nil, errors.New("no such dataset")
	}
	return s.index, nil
}

func setupHandlers(t *testing.T) (*Handlers, chi.Router) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(Schema)
	require.NoError(t, err)

	fixture := quarterlyRequest()
	h := NewHandlers(
		newOrchestrator(),
		NewRepository(db),
		cache.NewMemoryStore(),
		&stubResolver{fund: fixture.Fund, index: fixture.Index},
		events.NewBus(zerolog.Nop()),
		telemetry.New(),
		0,
		zerolog.Nop(),
	)

	r := chi.NewRouter()
	r.Route("/api", h.RegisterRoutes)
	return h, r
}

func postJSON(t *testing.T, r chi.Router, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	return body
}

func TestHandleComputePME(t *testing.T) {
	_, r := setupHandlers(t)

	w := postJSON(t, r, "/api/analysis/pme", quarterlyRequest())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])

	meta, ok := body["metadata"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, meta["analysis_id"], "successful runs are persisted")
	assert.Nil(t, meta["cache"])

	payload, ok := body["data"].(map[string]any)
	require.True(t, ok)
	metrics, ok := payload["metrics"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, metrics, KeyKSPME)
	assert.Contains(t, metrics, KeyFundIRR)
}

func TestHandleComputePME_CacheHit(t *testing.T) {
	_, r := setupHandlers(t)

	first := postJSON(t, r, "/api/analysis/pme", quarterlyRequest())
	require.Equal(t, http.StatusOK, first.Code)

	second := postJSON(t, r, "/api/analysis/pme", quarterlyRequest())
	require.Equal(t, http.StatusOK, second.Code)

	meta, ok := decodeBody(t, second)["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hit", meta["cache"])
}

func TestHandleComputePME_DatasetReferences(t *testing.T) {
	_, r := setupHandlers(t)

	// Inline series and the equivalent dataset references must share a
	// fingerprint, so the second call is a cache hit.
	inline := postJSON(t, r, "/api/analysis/pme", quarterlyRequest())
	require.Equal(t, http.StatusOK, inline.Code)

	byID := postJSON(t, r, "/api/analysis/pme", Request{
		FundDatasetID:  "fund-1",
		IndexDatasetID: "index-1",
	})
	require.Equal(t, http.StatusOK, byID.Code, byID.Body.String())

	meta, ok := decodeBody(t, byID)["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hit", meta["cache"])
}

func TestHandleComputePME_UnknownDataset(t *testing.T) {
	_, r := setupHandlers(t)

	w := postJSON(t, r, "/api/analysis/pme", Request{FundDatasetID: "missing"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleComputePME_BadBody(t *testing.T) {
	_, r := setupHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/api/analysis/pme", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleComputePME_ValidationFailureMapsTo400(t *testing.T) {
	_, r := setupHandlers(t)

	req := quarterlyRequest()
	req.Options.Method = "pme_ultra"
	w := postJSON(t, r, "/api/analysis/pme", req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
}

func TestHandleAlignmentPreview(t *testing.T) {
	_, r := setupHandlers(t)

	w := postJSON(t, r, "/api/analysis/alignment", quarterlyRequest())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	payload, ok := decodeBody(t, w)["data"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, payload, "dates")
	assert.Contains(t, payload, "summary")
}

func TestHandleGetAndList(t *testing.T) {
	_, r := setupHandlers(t)

	w := postJSON(t, r, "/api/analysis/pme", quarterlyRequest())
	require.Equal(t, http.StatusOK, w.Code)
	meta := decodeBody(t, w)["metadata"].(map[string]any)
	id, _ := meta["analysis_id"].(string)
	require.NotEmpty(t, id)

	get := httptest.NewRequest(http.MethodGet, "/api/analysis/"+id, nil)
	gw := httptest.NewRecorder()
	r.ServeHTTP(gw, get)
	require.Equal(t, http.StatusOK, gw.Code)
	rec := decodeBody(t, gw)
	assert.Equal(t, id, rec["id"])

	list := httptest.NewRequest(http.MethodGet, "/api/analysis/", nil)
	lw := httptest.NewRecorder()
	r.ServeHTTP(lw, list)
	require.Equal(t, http.StatusOK, lw.Code)
	body := decodeBody(t, lw)
	assert.Equal(t, float64(1), body["count"])
}

func TestHandleGet_NotFound(t *testing.T) {
	_, r := setupHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/nope", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewHandlers_CacheTTL(t *testing.T) {
	fixture := quarterlyRequest()
	resolver := &stubResolver{fund: fixture.Fund, index: fixture.Index}

	h := NewHandlers(newOrchestrator(), nil, cache.NewMemoryStore(), resolver,
		events.NewBus(zerolog.Nop()), telemetry.New(), 15*time.Minute, zerolog.Nop())
	assert.Equal(t, 15*time.Minute, h.cacheTTL)

	h = NewHandlers(newOrchestrator(), nil, cache.NewMemoryStore(), resolver,
		events.NewBus(zerolog.Nop()), telemetry.New(), 0, zerolog.Nop())
	assert.Equal(t, defaultCacheTTL, h.cacheTTL)
}

func TestStatusForEnvelope(t *testing.T) {
	c := envelope.NewCollector()
	assert.Equal(t, http.StatusOK, statusForEnvelope(c.ToEnvelope(nil)))

	c.AddValidationError("bad", "nope", nil)
	assert.Equal(t, http.StatusBadRequest, statusForEnvelope(c.ToEnvelope(nil)))

	calc := envelope.NewCollector()
	calc.AddCalculationError("diverged", "no convergence", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, statusForEnvelope(calc.ToEnvelope(nil)))

	sys := envelope.NewCollector()
	sys.AddSystemError("boom", "boom", nil)
	assert.Equal(t, http.StatusInternalServerError, statusForEnvelope(sys.ToEnvelope(nil)))
}
