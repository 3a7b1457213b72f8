package datasets

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/beacon/internal/events"
)

// maxUploadBytes bounds one CSV upload.
const maxUploadBytes = 32 << 20

// Handlers provides the HTTP surface of the datasets module.
type Handlers struct {
	repo       *Repository
	classifier Classifier
	bus        *events.Bus
	log        zerolog.Logger
}

// NewHandlers creates the dataset handlers.
func NewHandlers(repo *Repository, classifier Classifier, bus *events.Bus, log zerolog.Logger) *Handlers {
	return &Handlers{
		repo:       repo,
		classifier: classifier,
		bus:        bus,
		log:        log.With().Str("handler", "datasets").Logger(),
	}
}

// RegisterRoutes registers all dataset routes.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/datasets", func(r chi.Router) {
		r.Post("/fund", h.HandleUploadFund)
		r.Post("/index", h.HandleUploadIndex)
		r.Get("/", h.HandleList)
		r.Get("/{id}", h.HandleGet)
		r.Get("/{id}/rows", h.HandleGetRows)
		r.Delete("/{id}", h.HandleDelete)
	})
}

// HandleUploadFund stores a fund CSV: date, cash flow and optional NAV
// columns, recognized by header name.
func (h *Handlers) HandleUploadFund(w http.ResponseWriter, r *http.Request) {
	name, body, err := h.uploadBody(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer body.Close()

	records, err := ParseFundCSV(body, h.classifier)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ds, err := h.repo.CreateFund(name, records)
	if err != nil {
		h.writeCreateError(w, err)
		return
	}

	h.publishUploaded(ds)
	h.writeJSON(w, http.StatusCreated, ds)
}

// HandleUploadIndex stores an index CSV: date plus price or level.
func (h *Handlers) HandleUploadIndex(w http.ResponseWriter, r *http.Request) {
	name, body, err := h.uploadBody(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer body.Close()

	points, err := ParseIndexCSV(body, h.classifier)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ds, err := h.repo.CreateIndex(name, points)
	if err != nil {
		h.writeCreateError(w, err)
		return
	}

	h.publishUploaded(ds)
	h.writeJSON(w, http.StatusCreated, ds)
}

// HandleList returns all datasets, newest first.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	all, err := h.repo.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list datasets")
		h.writeError(w, http.StatusInternalServerError, "Failed to list datasets")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"datasets": all,
		"count":    len(all),
	})
}

// HandleGet returns one dataset's metadata.
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ds, err := h.repo.Get(id)
	if errors.Is(err, ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "Dataset not found: "+id)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("Failed to load dataset")
		h.writeError(w, http.StatusInternalServerError, "Failed to load dataset")
		return
	}
	h.writeJSON(w, http.StatusOK, ds)
}

// HandleGetRows returns the stored rows of a dataset, shaped by its
// kind.
func (h *Handlers) HandleGetRows(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ds, err := h.repo.Get(id)
	if errors.Is(err, ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "Dataset not found: "+id)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("Failed to load dataset")
		h.writeError(w, http.StatusInternalServerError, "Failed to load dataset")
		return
	}

	var rows any
	switch ds.Kind {
	case KindFund:
		rows, err = h.repo.FundRecords(id)
	case KindIndex:
		rows, err = h.repo.PricePoints(id)
	}
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("Failed to load dataset rows")
		h.writeError(w, http.StatusInternalServerError, "Failed to load dataset rows")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"dataset": ds,
		"rows":    rows,
	})
}

// HandleDelete removes a dataset and its rows.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.repo.Delete(id)
	if errors.Is(err, ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "Dataset not found: "+id)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("Failed to delete dataset")
		h.writeError(w, http.StatusInternalServerError, "Failed to delete dataset")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// uploadBody extracts the CSV payload and dataset name from a request:
// either a multipart form with a "file" part, or a raw body with the
// name passed as a query parameter.
func (h *Handlers) uploadBody(r *http.Request) (string, io.ReadCloser, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)

	name := strings.TrimSpace(r.URL.Query().Get("name"))

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return "", nil, errors.New("failed to parse multipart form: " + err.Error())
		}
		if formName := strings.TrimSpace(r.FormValue("name")); formName != "" {
			name = formName
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, errors.New("multipart upload needs a \"file\" part")
		}
		if name == "" {
			name = header.Filename
		}
		return name, file, nil
	}

	if name == "" {
		return "", nil, errors.New("dataset name is required (pass ?name=)")
	}
	return name, r.Body, nil
}

func (h *Handlers) publishUploaded(ds *Dataset) {
	h.bus.Publish(events.TypeDatasetUploaded, map[string]any{
		"id":   ds.ID,
		"name": ds.Name,
		"kind": ds.Kind,
		"rows": ds.Rows,
	})
}

func (h *Handlers) writeCreateError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrDuplicateDate) {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.log.Error().Err(err).Msg("Failed to store dataset")
	h.writeError(w, http.StatusInternalServerError, "Failed to store dataset")
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
