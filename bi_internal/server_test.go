package bi_internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fpe_random_id/common"
	"fpe_random_id/models"
)

type memLedger struct {
	mu      sync.Mutex
	rows    map[string]*models.IssuedID
	inserts int
	failOn  error
}

func newMemLedger() *memLedger {
	return &memLedger{rows: map[string]*models.IssuedID{}}
}

func (l *memLedger) key(pool string, value uint32) string {
	return fmt.Sprintf("%s/%d", pool, value)
}

func (l *memLedger) InsertIssued(_ context.Context, pool string, index, value uint32, keyVersion string) (*models.IssuedID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failOn != nil {
		return nil, l.failOn
	}
	k := l.key(pool, value)
	if _, ok := l.rows[k]; ok {
		return nil, nil
	}
	l.inserts++
	r := &models.IssuedID{ID: int64(l.inserts), Pool: pool, Index: index, Value: value, KeyVersion: keyVersion, IssuedAt: time.Now().UTC()}
	l.rows[k] = r
	return r, nil
}

func (l *memLedger) GetByValue(_ context.Context, pool string, value uint32) (*models.IssuedID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows[l.key(pool, value)], nil
}

func testConfig() *common.Config {
	return &common.Config{
		Key:        bytes.Repeat([]byte{0x42}, 32),
		KeyVersion: "v1",
		Pools: []common.PoolConfig{
			{Name: "orders", Tweak: 1, Digits: 2},
			{Name: "tickets", Tweak: 2, Digits: 4},
		},
	}
}

func newTestServer(t *testing.T, ledger Ledger) *Server {
	t.Helper()
	srv, err := NewServer(testConfig(), Options{Ledger: ledger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(t, srv.Router(), http.MethodGet, "/api/random-id/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Fine", decode[HealthStatusResponse](t, rec).Status)
}

func TestListPools(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(t, srv.Router(), http.MethodGet, "/api/random-id/pools", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	pools := decode[[]PoolStatus](t, rec)
	require.Len(t, pools, 2)
	assert.Equal(t, PoolStatus{Name: "orders", Digits: 2, Size: 100, Position: 0, Remaining: 100}, pools[0])
	assert.Equal(t, "tickets", pools[1].Name)
	assert.Equal(t, uint32(10000), pools[1].Size)
}

func TestDraw_ExhaustsPool(t *testing.T) {
	ledger := newMemLedger()
	srv := newTestServer(t, ledger)
	h := srv.Router()

	seen := map[uint32]bool{}
	for i := 0; i < 4; i++ {
		rec := do(t, h, http.MethodPost, "/api/random-id/pools/orders/draw", DrawRequest{Count: 30})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[DrawResponse](t, rec)
		for _, d := range resp.IDs {
			assert.Less(t, d.Value, uint32(100))
			assert.False(t, seen[d.Value], "duplicate %d", d.Value)
			seen[d.Value] = true
		}
	}
	assert.Len(t, seen, 100)
	assert.Equal(t, 100, ledger.inserts)

	rec := do(t, h, http.MethodPost, "/api/random-id/pools/orders/draw", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestDraw_DefaultsToOne(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(t, srv.Router(), http.MethodPost, "/api/random-id/pools/tickets/draw", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[DrawResponse](t, rec)
	require.Len(t, resp.IDs, 1)
	assert.Equal(t, uint32(0), resp.IDs[0].Index)
	assert.Equal(t, 9999, resp.Remaining)
}

func TestDraw_BadRequests(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Router()

	rec := do(t, h, http.MethodPost, "/api/random-id/pools/orders/draw", DrawRequest{Count: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/random-id/pools/orders/draw", DrawRequest{Count: maxDrawCount + 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/random-id/pools/orders/draw", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rec = do(t, h, http.MethodPost, "/api/random-id/pools/nope/draw", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSkipAndLast(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Router()

	rec := do(t, h, http.MethodPost, "/api/random-id/pools/orders/skip", SkipRequest{N: 98})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SingleDrawResponse](t, rec)
	assert.Equal(t, uint32(98), resp.ID.Index)
	assert.Equal(t, 1, resp.Remaining)

	rec = do(t, h, http.MethodPost, "/api/random-id/pools/orders/skip", SkipRequest{N: 1})
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, 1, decode[PoolStatus](t, do(t, h, http.MethodGet, "/api/random-id/pools/orders", nil)).Remaining)

	rec = do(t, h, http.MethodPost, "/api/random-id/pools/orders/last", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint32(99), decode[SingleDrawResponse](t, rec).ID.Index)

	rec = do(t, h, http.MethodPost, "/api/random-id/pools/orders/last", nil)
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/random-id/pools/tickets/skip", SkipRequest{N: -3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolve(t *testing.T) {
	ledger := newMemLedger()
	srv := newTestServer(t, ledger)
	h := srv.Router()

	rec := do(t, h, http.MethodPost, "/api/random-id/pools/tickets/draw", DrawRequest{Count: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	draws := decode[DrawResponse](t, rec).IDs
	require.Len(t, draws, 5)

	for _, d := range draws {
		rec := do(t, h, http.MethodGet, fmt.Sprintf("/api/random-id/pools/tickets/ids/%d", d.Value), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		res := decode[ResolveResponse](t, rec)
		assert.Equal(t, d.Index, res.Index)
		assert.True(t, res.Consumed)
		require.NotNil(t, res.Issued)
		assert.Equal(t, "v1", res.Issued.KeyVersion)
	}

	p, err := srv.Pool("tickets")
	require.NoError(t, err)
	next, _, err := p.Skip(0)
	require.NoError(t, err)
	res, err := srv.Resolve(context.Background(), p, next.Value)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), res.Index)
	assert.Nil(t, res.Issued, "skip through the pool directly is not recorded")

	rec = do(t, h, http.MethodGet, "/api/random-id/pools/tickets/ids/10000", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/random-id/pools/tickets/ids/99999999999", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolve_Unconsumed(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(t, srv.Router(), http.MethodGet, "/api/random-id/pools/orders/ids/42", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[ResolveResponse](t, rec)
	assert.False(t, res.Consumed)
	assert.Nil(t, res.Issued)
}

func TestDraw_LedgerFailureStillServes(t *testing.T) {
	ledger := newMemLedger()
	ledger.failOn = errors.New("db down")
	srv := newTestServer(t, ledger)

	rec := do(t, srv.Router(), http.MethodPost, "/api/random-id/pools/orders/draw", DrawRequest{Count: 3})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[DrawResponse](t, rec).IDs, 3)
}

func TestDraw_SkipsValuesIssuedBeforeRestart(t *testing.T) {
	ledger := newMemLedger()
	first := newTestServer(t, ledger)
	rec := do(t, first.Router(), http.MethodPost, "/api/random-id/pools/orders/draw", DrawRequest{Count: 3})
	require.Equal(t, http.StatusOK, rec.Code)
	before := decode[DrawResponse](t, rec).IDs

	second := newTestServer(t, ledger)
	rec = do(t, second.Router(), http.MethodPost, "/api/random-id/pools/orders/draw", DrawRequest{Count: 3})
	require.Equal(t, http.StatusOK, rec.Code)
	after := decode[DrawResponse](t, rec)

	require.Len(t, after.IDs, 3)
	for i, d := range after.IDs {
		assert.Equal(t, uint32(3+i), d.Index)
		for _, b := range before {
			assert.NotEqual(t, b.Value, d.Value)
		}
	}
	assert.Equal(t, 94, after.Remaining)
	assert.Equal(t, 6, ledger.inserts)
}

func TestDraw_RestartDrainsToExhaustion(t *testing.T) {
	ledger := newMemLedger()
	first := newTestServer(t, ledger)
	rec := do(t, first.Router(), http.MethodPost, "/api/random-id/pools/orders/draw", DrawRequest{Count: 100})
	require.Equal(t, http.StatusOK, rec.Code)

	second := newTestServer(t, ledger)
	rec = do(t, second.Router(), http.MethodPost, "/api/random-id/pools/orders/draw", DrawRequest{Count: 1})
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, 100, ledger.inserts)
}

func TestSkipAndLast_AfterRestart(t *testing.T) {
	ledger := newMemLedger()
	first := newTestServer(t, ledger)
	h := first.Router()
	rec := do(t, h, http.MethodPost, "/api/random-id/pools/orders/skip", SkipRequest{N: 10})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/random-id/pools/orders/last", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	second := newTestServer(t, ledger)
	h = second.Router()
	rec = do(t, h, http.MethodPost, "/api/random-id/pools/orders/skip", SkipRequest{N: 10})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SingleDrawResponse](t, rec)
	assert.Equal(t, uint32(11), resp.ID.Index)
	assert.Equal(t, 88, resp.Remaining)

	rec = do(t, h, http.MethodPost, "/api/random-id/pools/orders/last", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, 3, ledger.inserts)
}

func TestNewServer_Errors(t *testing.T) {
	cfg := testConfig()
	cfg.Pools = nil
	_, err := NewServer(cfg, Options{})
	assert.ErrorIs(t, err, common.ErrNoPools)

	cfg = testConfig()
	cfg.Key = cfg.Key[:16]
	_, err = NewServer(cfg, Options{})
	assert.Error(t, err)
}

func TestBulkAssign_RejectsIdentifiers(t *testing.T) {
	srv := newTestServer(t, nil)
	p, err := srv.Pool("orders")
	require.NoError(t, err)

	_, _, err = srv.BulkAssign(context.Background(), p, "postgres://unused", "users; drop table x", "public_id")
	assert.Error(t, err)
	_, _, err = srv.BulkAssign(context.Background(), p, "postgres://unused", "users", "id--")
	assert.Error(t, err)
	assert.Equal(t, 100, p.Status().Remaining)
}

func TestBulkAssignHandler_Validation(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(t, srv.Router(), http.MethodPost, "/api/random-id/pools/orders/bulk-assign", BulkAssignRequest{SrcTable: "users"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPool_ConcurrentDraws(t *testing.T) {
	srv := newTestServer(t, nil)
	p, err := srv.Pool("tickets")
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[uint32]bool{}
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				draws, _, err := p.Draw(5)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				for _, d := range draws {
					assert.False(t, seen[d.Value])
					seen[d.Value] = true
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1000)
	assert.Equal(t, 9000, p.Status().Remaining)
}

func TestPool_ReportsRemainingWithDraw(t *testing.T) {
	srv := newTestServer(t, nil)
	p, err := srv.Pool("orders")
	require.NoError(t, err)

	draws, remaining, err := p.Draw(7)
	require.NoError(t, err)
	assert.Len(t, draws, 7)
	assert.Equal(t, 93, remaining)

	d, remaining, err := p.Skip(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), d.Index)
	assert.Equal(t, 90, remaining)

	draws, remaining, err = p.Draw(500)
	require.NoError(t, err)
	assert.Len(t, draws, 90)
	assert.Zero(t, remaining)

	_, _, err = p.Draw(1)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestPool_ConcurrentRemainingIsConsistent(t *testing.T) {
	srv := newTestServer(t, nil)
	p, err := srv.Pool("tickets")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				draws, remaining, err := p.Draw(3)
				if !assert.NoError(t, err) {
					return
				}
				// the last index drawn fixes the remaining count at that moment
				assert.Equal(t, 10000-int(draws[len(draws)-1].Index)-1, remaining)
			}
		}()
	}
	wg.Wait()
}
