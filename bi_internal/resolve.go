package bi_internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"fpe_random_id/models"
	"fpe_random_id/randomid"
)

type ResolveResponse struct {
	Pool     string           `json:"pool"`
	Value    uint32           `json:"value"`
	Index    uint32           `json:"index"`
	Consumed bool             `json:"consumed"`
	Issued   *models.IssuedID `json:"issued,omitempty"`
}

func (s *Server) resolveHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poolFromRequest(w, r)
	if !ok {
		return
	}

	v, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	res, err := s.Resolve(r.Context(), p, uint32(v))
	if err != nil {
		if errors.Is(err, randomid.ErrInvalidArgument) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Errorw("resolve failed", "pool", p.Name(), "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Resolve maps value back to its sequence index and looks up its ledger
// record: cache first, then the store with cache write-back.
func (s *Server) Resolve(ctx context.Context, p *Pool, value uint32) (*ResolveResponse, error) {
	idx, consumed, err := p.Resolve(value)
	if err != nil {
		return nil, err
	}
	res := &ResolveResponse{Pool: p.Name(), Value: value, Index: idx, Consumed: consumed}

	if row, err := s.cache.GetIssued(ctx, p.Name(), value); err == nil && row != nil {
		res.Issued = row
		return res, nil
	}
	if s.ledger == nil {
		return res, nil
	}

	row, err := s.ledger.GetByValue(ctx, p.Name(), value)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if row != nil {
		_ = s.cache.SetIssued(ctx, row)
	}
	res.Issued = row
	return res, nil
}
