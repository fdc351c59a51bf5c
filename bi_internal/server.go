package bi_internal

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"fpe_random_id/common"
	"fpe_random_id/models"
)

type HealthStatusResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Ledger records issued values. *models.Store implements it.
type Ledger interface {
	InsertIssued(ctx context.Context, pool string, index, value uint32, keyVersion string) (*models.IssuedID, error)
	GetByValue(ctx context.Context, pool string, value uint32) (*models.IssuedID, error)
}

// Options carries the optional backing services. A nil Ledger or Cache
// disables that layer.
type Options struct {
	Ledger Ledger
	Cache  *Cache
	Log    *zap.SugaredLogger
}

type Server struct {
	pools      map[string]*Pool
	poolNames  []string
	keyVersion string
	ledger     Ledger
	cache      *Cache
	log        *zap.SugaredLogger
	r          *mux.Router
}

// NewServer builds one Pool per configured pool, all under cfg.Key.
func NewServer(cfg *common.Config, opts Options) (*Server, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	s := &Server{
		pools:      make(map[string]*Pool, len(cfg.Pools)),
		keyVersion: cfg.KeyVersion,
		ledger:     opts.Ledger,
		cache:      opts.Cache,
		log:        log,
		r:          mux.NewRouter(),
	}

	if len(cfg.Pools) == 0 {
		return nil, common.ErrNoPools
	}
	for _, pc := range cfg.Pools {
		p, err := NewPool(pc, cfg.Key)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.pools[pc.Name] = p
		s.poolNames = append(s.poolNames, pc.Name)
		log.Infow("pool ready", "pool", pc.Name, "digits", pc.Digits, "size", p.Status().Size)
	}
	slices.Sort(s.poolNames)

	s.routes()
	return s, nil
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthStatusResponse{
		Message: "Random ID Service is working",
		Status:  "Fine",
	})
}

func (s *Server) routes() {
	sr := s.r.PathPrefix("/api/random-id").Subrouter()
	sr.HandleFunc("/pools", s.listPoolsHandler).Methods(http.MethodGet)
	sr.HandleFunc("/pools/{pool}", s.statusHandler).Methods(http.MethodGet)
	sr.HandleFunc("/pools/{pool}/draw", s.drawHandler).Methods(http.MethodPost)
	sr.HandleFunc("/pools/{pool}/skip", s.skipHandler).Methods(http.MethodPost)
	sr.HandleFunc("/pools/{pool}/last", s.lastHandler).Methods(http.MethodPost)
	sr.HandleFunc("/pools/{pool}/ids/{id:[0-9]+}", s.resolveHandler).Methods(http.MethodGet)
	sr.HandleFunc("/pools/{pool}/bulk-assign", s.bulkAssignHandler).Methods(http.MethodPost)

	// health
	sr.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
}

func (s *Server) Router() http.Handler {
	return s.r
}

// Pool looks a pool up by name.
func (s *Server) Pool(name string) (*Pool, error) {
	p, ok := s.pools[name]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return p, nil
}

// Close zeroes every pool key.
func (s *Server) Close() error {
	var errs []error
	for _, p := range s.pools {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// record writes draws to the ledger and cache and returns the draws that were
// not already in the ledger. Ledger failures are logged and the draw is kept:
// the value is consumed from the sequence either way.
func (s *Server) record(ctx context.Context, pool string, draws ...Draw) []Draw {
	if s.ledger == nil {
		return draws
	}
	fresh := make([]Draw, 0, len(draws))
	for _, d := range draws {
		row, err := s.ledger.InsertIssued(ctx, pool, d.Index, d.Value, s.keyVersion)
		if err != nil {
			s.log.Errorw("ledger insert failed", "pool", pool, "index", d.Index, "error", err)
			fresh = append(fresh, d)
			continue
		}
		if row == nil {
			s.log.Debugw("value already issued, skipping", "pool", pool, "index", d.Index)
			continue
		}
		if err := s.cache.SetIssued(ctx, row); err != nil {
			s.log.Warnw("cache write failed", "pool", pool, "error", err)
		}
		fresh = append(fresh, d)
	}
	return fresh
}

// drawFresh draws from p until it has count values the ledger has not seen
// or the pool runs out. It also returns the pool's remaining count after the
// last draw. ErrPoolExhausted is returned only when no value could be drawn.
func (s *Server) drawFresh(ctx context.Context, p *Pool, count int) ([]Draw, int, error) {
	var out []Draw
	for {
		draws, remaining, err := p.Draw(count - len(out))
		out = append(out, s.record(ctx, p.Name(), draws...)...)
		switch {
		case errors.Is(err, ErrPoolExhausted) && len(out) > 0:
			return out, 0, nil
		case err != nil:
			return out, remaining, err
		case len(out) == count || remaining == 0:
			if len(out) == 0 {
				return nil, 0, ErrPoolExhausted
			}
			return out, remaining, nil
		}
	}
}
