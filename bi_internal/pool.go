package bi_internal

import (
	"errors"
	"fmt"
	"sync"

	"fpe_random_id/common"
	"fpe_random_id/randomid"
)

var (
	ErrPoolNotFound  = errors.New("pool not found")
	ErrPoolExhausted = errors.New("pool exhausted")
)

// Draw is a value together with the sequence position that produced it.
type Draw struct {
	Index uint32 `json:"index"`
	Value uint32 `json:"value"`
}

type PoolStatus struct {
	Name      string `json:"name"`
	Digits    int    `json:"digits"`
	Size      uint32 `json:"size"`
	Position  uint32 `json:"position"`
	Remaining int    `json:"remaining"`
}

// Pool serializes access to one randomid.Sequence so handlers can share it.
type Pool struct {
	name   string
	digits int

	mu  sync.Mutex
	seq *randomid.Sequence
}

// NewPool builds a pool with its own FF1 permuter over key.
func NewPool(cfg common.PoolConfig, key []byte) (*Pool, error) {
	seq, err := randomid.New(key, randomid.TweakFromUint64(cfg.Tweak), cfg.Digits)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", cfg.Name, err)
	}
	return &Pool{name: cfg.Name, digits: cfg.Digits, seq: seq}, nil
}

func (p *Pool) Name() string { return p.name }

// Draw takes up to count values and reports how many remain after them. It
// fails with ErrPoolExhausted only when nothing was left at all.
func (p *Pool) Draw(count int) ([]Draw, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seq.Remaining() == 0 {
		return nil, 0, ErrPoolExhausted
	}
	start := p.seq.Position()
	values, err := p.seq.Take(count)
	out := make([]Draw, len(values))
	for i, v := range values {
		out[i] = Draw{Index: start + uint32(i), Value: v}
	}
	return out, p.seq.Remaining(), err
}

// Skip discards n values and draws the next one.
func (p *Pool) Skip(n int) (Draw, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.seq.Position() + uint32(max(n, 0))
	v, ok, err := p.seq.Nth(n)
	if err != nil {
		return Draw{}, p.seq.Remaining(), err
	}
	if !ok {
		return Draw{}, p.seq.Remaining(), ErrPoolExhausted
	}
	return Draw{Index: idx, Value: v}, p.seq.Remaining(), nil
}

// Last draws the final value and exhausts the pool.
func (p *Pool) Last() (Draw, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok, err := p.seq.Last()
	if err != nil {
		return Draw{}, err
	}
	if !ok {
		return Draw{}, ErrPoolExhausted
	}
	return Draw{Index: p.seq.Size() - 1, Value: v}, nil
}

// Resolve inverts a value to the position that produces it. consumed reports
// whether the pool has already passed that position.
func (p *Pool) Resolve(value uint32) (idx uint32, consumed bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, err = p.seq.Index(value)
	if err != nil {
		return 0, false, err
	}
	return idx, idx < p.seq.Position(), nil
}

func (p *Pool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolStatus{
		Name:      p.name,
		Digits:    p.digits,
		Size:      p.seq.Size(),
		Position:  p.seq.Position(),
		Remaining: p.seq.Remaining(),
	}
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq.Close()
}
