package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JonMunkholm/companyimport/internal/core"
	"github.com/JonMunkholm/companyimport/internal/logging"
)

// multipartOverhead is the allowance for multipart boundaries and part
// headers on top of the file size limit.
const multipartOverhead = 64 << 10

// maxMemory is how much of the form ParseMultipartForm keeps in memory
// before spilling file parts to disk.
const maxMemory = 32 << 20

// handleUpload ingests one multipart CSV file synchronously and returns the summary.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := ownerFromContext(ctx)

	maxSize := s.service.MaxFileSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			err = &core.IngestionError{
				Kind:   core.KindFileTooLarge,
				Detail: fmt.Sprintf("request exceeds %d bytes", maxSize),
			}
			respondError(w, r, err, http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrNoFile, err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrNoFile, err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, fmt.Errorf("read upload: %w", err), http.StatusBadRequest)
		return
	}

	logging.WithFields(ctx,
		"file", header.Filename,
		"size", len(data),
		"owner_id", ownerID,
		"user_agent", core.ClientFromContext(ctx).UserAgent,
	).Debug("upload received")

	result, err := s.service.Ingest(ctx, core.Upload{
		Data:     data,
		FileName: header.Filename,
		OwnerID:  ownerID,
	})
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}
