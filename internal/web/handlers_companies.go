package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/companyimport/internal/core"
	"github.com/go-chi/chi/v5"
)

// maxPatchBody bounds PATCH request bodies.
const maxPatchBody = 1 << 20

// companyResponse is a Company with its original CSV row.
type companyResponse struct {
	*core.Company
	JSONData core.RawRow `json:"json_data"`
}

// parseIntParam parses an integer query parameter with a default value.
// Negative or malformed values fall back to the default.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}

// companyID reads the {id} route parameter. A malformed id names no
// company, so it is reported as not found.
func companyID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("company id %q: %w", raw, core.ErrCompanyNotFound)
	}
	return id, nil
}

func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", core.DefaultPageSize)
	offset := parseIntParam(r, "offset", 0)

	page, err := s.service.ListCompanies(r.Context(), ownerFromContext(r.Context()), limit, offset)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	id, err := companyID(r)
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}

	c, err := s.service.GetCompany(r.Context(), ownerFromContext(r.Context()), id)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, companyResponse{Company: c, JSONData: c.JSONData})
}

func (s *Server) handleUpdateCompany(w http.ResponseWriter, r *http.Request) {
	id, err := companyID(r)
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}

	var patch core.CompanyPatch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPatchBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidPatch, err), http.StatusBadRequest)
		return
	}

	c, err := s.service.UpdateCompany(r.Context(), ownerFromContext(r.Context()), id, patch)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, companyResponse{Company: c, JSONData: c.JSONData})
}

func (s *Server) handleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	id, err := companyID(r)
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}

	if err := s.service.DeleteCompany(r.Context(), ownerFromContext(r.Context()), id); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetJSONData(w http.ResponseWriter, r *http.Request) {
	id, err := companyID(r)
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}

	data, err := s.service.GetJSONData(r.Context(), ownerFromContext(r.Context()), id)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// handleReplaceJSONData overwrites the stored row with a flat JSON object of strings.
func (s *Server) handleReplaceJSONData(w http.ResponseWriter, r *http.Request) {
	id, err := companyID(r)
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}

	var data core.RawRow
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPatchBody)).Decode(&data); err != nil {
		respondError(w, r, fmt.Errorf("%w: json_data: %v", core.ErrInvalidPatch, err), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	owner := ownerFromContext(ctx)
	if err := s.service.ReplaceJSONData(ctx, owner, id, data); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, data)
}
