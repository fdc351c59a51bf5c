package bi_internal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"fpe_random_id/randomid"
)

const maxDrawCount = 1000

type DrawRequest struct {
	Count int `json:"count"`
}

type DrawResponse struct {
	Pool      string `json:"pool"`
	IDs       []Draw `json:"ids"`
	Remaining int    `json:"remaining"`
}

type SkipRequest struct {
	N int `json:"n"`
}

type SingleDrawResponse struct {
	Pool      string `json:"pool"`
	ID        Draw   `json:"id"`
	Remaining int    `json:"remaining"`
}

// decodeOptional decodes a JSON body into v; an empty body leaves v untouched.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) poolFromRequest(w http.ResponseWriter, r *http.Request) (*Pool, bool) {
	p, err := s.Pool(mux.Vars(r)["pool"])
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return p, true
}

func (s *Server) writeDrawError(w http.ResponseWriter, r *http.Request, pool string, err error) {
	switch {
	case errors.Is(err, ErrPoolExhausted):
		writeJSONError(w, http.StatusGone, err.Error())
	case errors.Is(err, randomid.ErrInvalidArgument):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Errorw("draw failed", "pool", pool, "path", r.URL.Path, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) listPoolsHandler(w http.ResponseWriter, r *http.Request) {
	out := make([]PoolStatus, 0, len(s.poolNames))
	for _, name := range s.poolNames {
		out = append(out, s.pools[name].Status())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poolFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.Status())
}

func (s *Server) drawHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poolFromRequest(w, r)
	if !ok {
		return
	}

	req := DrawRequest{Count: 1}
	if err := decodeOptional(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Count < 1 || req.Count > maxDrawCount {
		writeJSONError(w, http.StatusBadRequest, "count must be between 1 and 1000")
		return
	}

	draws, remaining, err := s.drawFresh(r.Context(), p, req.Count)
	if err != nil && len(draws) == 0 {
		s.writeDrawError(w, r, p.Name(), err)
		return
	}
	if err != nil {
		// partial draw: hand out what was consumed
		s.log.Errorw("draw interrupted", "pool", p.Name(), "drawn", len(draws), "error", err)
	}

	writeJSON(w, http.StatusOK, DrawResponse{
		Pool:      p.Name(),
		IDs:       draws,
		Remaining: remaining,
	})
}

func (s *Server) skipHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poolFromRequest(w, r)
	if !ok {
		return
	}

	var req SkipRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	d, err := s.skipFresh(r.Context(), p, req.N)
	if err != nil {
		s.writeDrawError(w, r, p.Name(), err)
		return
	}

	writeJSON(w, http.StatusOK, SingleDrawResponse{Pool: p.Name(), ID: d.Draw, Remaining: d.remaining})
}

type poolDraw struct {
	Draw
	remaining int
}

// skipFresh skips n values; if the value it lands on was already issued it
// moves on to the next one the ledger has not seen.
func (s *Server) skipFresh(ctx context.Context, p *Pool, n int) (poolDraw, error) {
	d, remaining, err := p.Skip(n)
	if err != nil {
		return poolDraw{}, err
	}
	if len(s.record(ctx, p.Name(), d)) == 1 {
		return poolDraw{d, remaining}, nil
	}
	if remaining == 0 {
		return poolDraw{}, ErrPoolExhausted
	}
	draws, remaining, err := s.drawFresh(ctx, p, 1)
	if err != nil {
		return poolDraw{}, err
	}
	return poolDraw{draws[0], remaining}, nil
}

func (s *Server) lastHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.poolFromRequest(w, r)
	if !ok {
		return
	}

	d, err := p.Last()
	if err != nil {
		s.writeDrawError(w, r, p.Name(), err)
		return
	}
	if len(s.record(r.Context(), p.Name(), d)) == 0 {
		// the final value went out in an earlier run; nothing is left
		s.writeDrawError(w, r, p.Name(), ErrPoolExhausted)
		return
	}

	writeJSON(w, http.StatusOK, SingleDrawResponse{Pool: p.Name(), ID: d, Remaining: 0})
}
