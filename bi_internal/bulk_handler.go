package bi_internal

import (
	"encoding/json"
	"errors"
	"net/http"
)

type BulkAssignRequest struct {
	SrcDSN    string `json:"src_dsn"`
	SrcTable  string `json:"src_table"`
	SrcColumn string `json:"src_column"`
}

type BulkAssignResponse struct {
	Message   string `json:"message"`
	Processed int    `json:"processed"`
	Assigned  int    `json:"assigned"`
}

// HTTP handler for POST /pools/{pool}/bulk-assign
func (s *Server) bulkAssignHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poolFromRequest(w, r)
	if !ok {
		return
	}

	var req BulkAssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SrcDSN == "" || req.SrcTable == "" || req.SrcColumn == "" {
		writeJSONError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	s.log.Infow("bulk-assign request", "pool", p.Name(), "table", req.SrcTable, "column", req.SrcColumn)

	processed, assigned, err := s.BulkAssign(r.Context(), p, req.SrcDSN, req.SrcTable, req.SrcColumn)
	if err != nil {
		s.log.Errorw("bulk-assign error", "pool", p.Name(), "processed", processed, "assigned", assigned, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, ErrPoolExhausted) {
			status = http.StatusGone
		}
		writeJSON(w, status, map[string]any{
			"error":     "bulk-assign failed: " + err.Error(),
			"processed": processed,
			"assigned":  assigned,
		})
		return
	}

	writeJSON(w, http.StatusOK, BulkAssignResponse{
		Message:   "bulk-assign completed successfully",
		Processed: processed,
		Assigned:  assigned,
	})
}
