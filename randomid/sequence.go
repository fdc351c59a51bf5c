// Package randomid draws fixed-width decimal identifiers in a keyed random
// order without repetition.
//
// A Sequence walks a counter from 0 to 10^d and maps each counter value
// through a keyed permutation of d-digit strings (FF1 by default), so every
// value in [0, 10^d) comes out exactly once and nothing is precomputed.
//
//	seq, err := randomid.New(key, randomid.TweakFromUint64(0), 6)
//	if err != nil {
//		return err
//	}
//	defer seq.Close()
//	for id, err := range seq.All() {
//		...
//	}
//
// A Sequence is not safe for concurrent use.
package randomid

import (
	"errors"
	"fmt"
	"io"
	"iter"
)

// MaxWidth is the widest domain whose size 10^d fits the uint32 cursor.
const MaxWidth = 9

// Sequence is a sized, forward-only iterator over a keyed permutation of
// [0, 10^width). The cursor never moves backwards; once it reaches Size the
// sequence is exhausted for good.
type Sequence struct {
	permuter Permuter
	owned    bool
	tweak    []byte
	width    int
	size     uint32
	next     uint32
}

// New builds a Sequence backed by FF1 with the given 32-byte key. The width
// must be at least MinFF1Width.
func New(key, tweak []byte, width int) (*Sequence, error) {
	if err := checkWidth(width); err != nil {
		return nil, err
	}
	p, err := NewFF1(key)
	if err != nil {
		return nil, err
	}
	// a width or tweak the cipher rejects would fail on every draw
	if _, err := p.Permute(tweak, make([]int, width)); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("%w: width %d: %v", ErrInvalidConfiguration, width, err)
	}
	s, err := NewWithPermuter(p, tweak, width)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewWithPermuter builds a Sequence over any Permuter. The permuter is not
// closed by Sequence.Close.
func NewWithPermuter(p Permuter, tweak []byte, width int) (*Sequence, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil permuter", ErrInvalidConfiguration)
	}
	if err := checkWidth(width); err != nil {
		return nil, err
	}
	t := make([]byte, len(tweak))
	copy(t, tweak)
	return &Sequence{
		permuter: p,
		tweak:    t,
		width:    width,
		size:     domainSize(width),
	}, nil
}

func checkWidth(width int) error {
	if width < 1 || width > MaxWidth {
		return fmt.Errorf("%w: width %d outside [1, %d]", ErrInvalidConfiguration, width, MaxWidth)
	}
	return nil
}

func domainSize(width int) uint32 {
	n := uint32(1)
	for i := 0; i < width; i++ {
		n *= 10
	}
	return n
}

// Size is 10^width, the number of values the sequence yields in total.
func (s *Sequence) Size() uint32 { return s.size }

// Position is the counter value the next call to Next will transform.
func (s *Sequence) Position() uint32 { return s.next }

func (s *Sequence) Width() int { return s.width }

// Remaining reports how many values are still to come.
func (s *Sequence) Remaining() int {
	return int(s.size - s.next)
}

// SizeHint returns exact lower and upper bounds; both are Remaining.
func (s *Sequence) SizeHint() (int, int) {
	r := s.Remaining()
	return r, r
}

// Next returns the next value. ok is false once the sequence is exhausted.
// If the permutation fails the error wraps ErrCryptoFailure and the cursor
// does not move.
func (s *Sequence) Next() (value uint32, ok bool, err error) {
	if s.next >= s.size {
		return 0, false, nil
	}
	v, err := s.at(s.next)
	if err != nil {
		return 0, false, err
	}
	s.next++
	return v, true, nil
}

// Nth skips n values and returns the one after them, as if Next had been
// called n+1 times. Skipped values are never computed. If fewer than n+1
// values remain, ok is false and the cursor is left untouched.
func (s *Sequence) Nth(n int) (value uint32, ok bool, err error) {
	if n < 0 {
		return 0, false, fmt.Errorf("%w: negative skip %d", ErrInvalidArgument, n)
	}
	if n >= s.Remaining() {
		return 0, false, nil
	}
	pos := s.next + uint32(n)
	v, err := s.at(pos)
	if err != nil {
		return 0, false, err
	}
	s.next = pos + 1
	return v, true, nil
}

// Last returns the final value of the sequence and exhausts it.
func (s *Sequence) Last() (value uint32, ok bool, err error) {
	if s.next >= s.size {
		return 0, false, nil
	}
	v, err := s.at(s.size - 1)
	if err != nil {
		return 0, false, err
	}
	s.next = s.size
	return v, true, nil
}

// Count returns Remaining and exhausts the sequence without computing any
// values.
func (s *Sequence) Count() int {
	r := s.Remaining()
	s.next = s.size
	return r
}

// Take draws up to n values, stopping early at exhaustion. On error the
// values drawn so far are returned with it.
func (s *Sequence) Take(n int) ([]uint32, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrInvalidArgument, n)
	}
	out := make([]uint32, 0, min(n, s.Remaining()))
	for len(out) < n {
		v, ok, err := s.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out, nil
}

// All yields the remaining values. A failure is yielded once and ends the
// iteration.
func (s *Sequence) All() iter.Seq2[uint32, error] {
	return func(yield func(uint32, error) bool) {
		for {
			v, ok, err := s.Next()
			if err != nil {
				yield(0, err)
				return
			}
			if !ok || !yield(v, nil) {
				return
			}
		}
	}
}

// Index maps a value produced by this sequence back to the counter position
// that produced it. The permuter must implement Inverter.
func (s *Sequence) Index(value uint32) (uint32, error) {
	if value >= s.size {
		return 0, fmt.Errorf("%w: value %d outside [0, %d)", ErrInvalidArgument, value, s.size)
	}
	inv, ok := s.permuter.(Inverter)
	if !ok {
		return 0, fmt.Errorf("%w: permuter %T cannot invert", ErrInvalidConfiguration, s.permuter)
	}
	out, err := inv.Invert(s.tweak, EncodeDigits(value, s.width))
	if err != nil {
		return 0, asCryptoFailure(err)
	}
	if err := s.checkDigits(out); err != nil {
		return 0, err
	}
	return DecodeDigits(out), nil
}

// Close releases the key when the sequence owns its permuter. The cursor is
// not reset.
func (s *Sequence) Close() error {
	if !s.owned {
		return nil
	}
	if c, ok := s.permuter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Sequence) at(pos uint32) (uint32, error) {
	out, err := s.permuter.Permute(s.tweak, EncodeDigits(pos, s.width))
	if err != nil {
		return 0, asCryptoFailure(err)
	}
	if err := s.checkDigits(out); err != nil {
		return 0, err
	}
	return DecodeDigits(out), nil
}

func (s *Sequence) checkDigits(digits []int) error {
	if len(digits) != s.width {
		return fmt.Errorf("%w: permuter returned %d digits, want %d", ErrCryptoFailure, len(digits), s.width)
	}
	for _, d := range digits {
		if d < 0 || d > 9 {
			return fmt.Errorf("%w: permuter returned digit %d", ErrCryptoFailure, d)
		}
	}
	return nil
}

func asCryptoFailure(err error) error {
	if errors.Is(err, ErrCryptoFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCryptoFailure, err)
}
