package datasets

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/beacon/internal/events"
)

const fundCSV = "Date,Cash Flow,NAV\n2022-01-03,-1000000,1000000\n2022-04-01,500000,900000\n"

func setupRouter(t *testing.T) chi.Router {
	t.Helper()
	h := NewHandlers(setupRepo(t), NewClassifier(), events.NewBus(zerolog.Nop()), zerolog.Nop())
	r := chi.NewRouter()
	r.Route("/api", h.RegisterRoutes)
	return r
}

func uploadRaw(t *testing.T, r chi.Router, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "text/csv")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	return body
}

func TestHandleUploadFund_RawBody(t *testing.T) {
	r := setupRouter(t)

	w := uploadRaw(t, r, "/api/datasets/fund?name=Fund+IV", fundCSV)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	ds := decode(t, w)
	assert.Equal(t, "Fund IV", ds["name"])
	assert.Equal(t, KindFund, ds["kind"])
	assert.Equal(t, float64(2), ds["rows"])
	assert.NotEmpty(t, ds["id"])
}

func TestHandleUploadFund_Multipart(t *testing.T) {
	r := setupRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "fund-iv.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(fundCSV))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/datasets/fund", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ds := decode(t, w)
	assert.Equal(t, "fund-iv.csv", ds["name"], "filename becomes the name when none is given")
}

func TestHandleUploadFund_Errors(t *testing.T) {
	r := setupRouter(t)

	t.Run("missing name", func(t *testing.T) {
		w := uploadRaw(t, r, "/api/datasets/fund", fundCSV)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unparseable csv", func(t *testing.T) {
		w := uploadRaw(t, r, "/api/datasets/fund?name=bad", "notes,stuff\n1,2\n")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("duplicate dates", func(t *testing.T) {
		dup := "date,cashflow\n2022-01-03,100\n2022-01-03,200\n"
		w := uploadRaw(t, r, "/api/datasets/fund?name=dup", dup)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode(t, w)["error"], "duplicate")
	})
}

func TestHandleUploadIndex(t *testing.T) {
	r := setupRouter(t)

	csv := "Date,Close\n2022-01-03,4000\n2022-01-04,4010\n"
	w := uploadRaw(t, r, "/api/datasets/index?name=SPX", csv)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, KindIndex, decode(t, w)["kind"])
}

func TestHandleListGetRowsDelete(t *testing.T) {
	r := setupRouter(t)

	created := decode(t, uploadRaw(t, r, "/api/datasets/fund?name=Fund+IV", fundCSV))
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	list := httptest.NewRecorder()
	r.ServeHTTP(list, httptest.NewRequest(http.MethodGet, "/api/datasets/", nil))
	require.Equal(t, http.StatusOK, list.Code)
	assert.Equal(t, float64(1), decode(t, list)["count"])

	get := httptest.NewRecorder()
	r.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/api/datasets/"+id, nil))
	require.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, "Fund IV", decode(t, get)["name"])

	rows := httptest.NewRecorder()
	r.ServeHTTP(rows, httptest.NewRequest(http.MethodGet, "/api/datasets/"+id+"/rows", nil))
	require.Equal(t, http.StatusOK, rows.Code)
	body := decode(t, rows)
	loaded, ok := body["rows"].([]any)
	require.True(t, ok)
	assert.Len(t, loaded, 2)

	del := httptest.NewRecorder()
	r.ServeHTTP(del, httptest.NewRequest(http.MethodDelete, "/api/datasets/"+id, nil))
	require.Equal(t, http.StatusOK, del.Code)

	gone := httptest.NewRecorder()
	r.ServeHTTP(gone, httptest.NewRequest(http.MethodGet, "/api/datasets/"+id, nil))
	assert.Equal(t, http.StatusNotFound, gone.Code)
}

func TestHandleGet_NotFound(t *testing.T) {
	r := setupRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/datasets/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
