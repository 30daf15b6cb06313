package importer

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mychart-explorer/importer/pkg/cda"
	"github.com/mychart-explorer/importer/pkg/common/logger"
)

// HTTPHandler exposes the importer's contract over HTTP: accept one document,
// return the per-section row counts or an error.
type HTTPHandler struct {
	service *Service
	maxBody int64
}

func NewHTTPHandler(service *Service, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/documents", h.handleImport).Methods(http.MethodPost)
}

func (h *HTTPHandler) handleImport(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	source := r.Header.Get("X-Source-Filename")
	if source == "" {
		source = "upload.xml"
	}

	summary, err := h.service.ImportDocument(r.Context(), source, data)
	if err != nil {
		var parseErr *cda.ParseError
		if errors.As(err, &parseErr) {
			http.Error(w, "document is not well-formed XML", http.StatusBadRequest)
			return
		}
		if errors.Is(err, ErrMissingPatient) {
			http.Error(w, "document has no patient role", http.StatusUnprocessableEntity)
			return
		}
		logger.Log.WithError(err).Error("failed to import document")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(summary)
}
