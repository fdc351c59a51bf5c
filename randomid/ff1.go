// randomid/ff1.go
package randomid

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/capitalone/fpe/ff1"
)

const (
	// KeySize is the only accepted key length: AES-256.
	KeySize = 32

	// MinFF1Width is the narrowest digit string FF1 accepts in radix 10
	// (10^width must be at least 100).
	MinFF1Width = 2

	radix          = 10
	digitsAlphabet = "0123456789"
)

// Permuter is a keyed bijection over fixed-length digit sequences.
// For a fixed key and tweak, Permute must map every sequence of length d to
// a distinct sequence of the same length.
type Permuter interface {
	Permute(tweak []byte, digits []int) ([]int, error)
}

// Inverter undoes a Permuter.
type Inverter interface {
	Invert(tweak []byte, digits []int) ([]int, error)
}

// FF1 implements Permuter and Inverter with NIST FF1 over AES-256, radix 10.
type FF1 struct {
	key []byte
}

// NewFF1 copies key; the copy is zeroed by Close.
func NewFF1(key []byte) (*FF1, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrInvalidConfiguration, KeySize, len(key))
	}
	// probe the cipher once so radix/key problems surface at construction
	if _, err := ff1.NewCipher(radix, 0, key, nil); err != nil {
		return nil, fmt.Errorf("%w: ff1 NewCipher: %v", ErrInvalidConfiguration, err)
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &FF1{key: k}, nil
}

func (f *FF1) Permute(tweak []byte, digits []int) ([]int, error) {
	return f.apply(tweak, digits, false)
}

func (f *FF1) Invert(tweak []byte, digits []int) ([]int, error) {
	return f.apply(tweak, digits, true)
}

// Close zeroes the key copy. Further calls fail with ErrCryptoFailure.
func (f *FF1) Close() error {
	if f == nil {
		return nil
	}
	clear(f.key)
	f.key = nil
	return nil
}

func (f *FF1) apply(tweak []byte, digits []int, decrypt bool) ([]int, error) {
	if f == nil || f.key == nil {
		return nil, fmt.Errorf("%w: permuter closed", ErrCryptoFailure)
	}
	in, err := digitsToString(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}

	// maxTLen equals tweak length (0 allowed)
	c, err := ff1.NewCipher(radix, len(tweak), f.key, tweak)
	if err != nil {
		return nil, fmt.Errorf("%w: ff1 NewCipher: %v", ErrCryptoFailure, err)
	}

	var out string
	if decrypt {
		out, err = c.DecryptWithTweak(in, tweak)
	} else {
		out, err = c.EncryptWithTweak(in, tweak)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: ff1: %v (width=%d)", ErrCryptoFailure, err, len(digits))
	}

	res, err := stringToDigits(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	if len(res) != len(digits) {
		return nil, fmt.Errorf("%w: ff1 returned %d digits, want %d", ErrCryptoFailure, len(res), len(digits))
	}
	return res, nil
}

// TweakFromUint64 encodes t as 8 big-endian bytes.
func TweakFromUint64(t uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, t)
}

// digitsToString maps 0..9 -> '0'..'9'
func digitsToString(digits []int) (string, error) {
	var sb strings.Builder
	sb.Grow(len(digits))
	for _, d := range digits {
		if d < 0 || d >= radix {
			return "", fmt.Errorf("digit %d out of range for radix %d", d, radix)
		}
		sb.WriteByte(digitsAlphabet[d])
	}
	return sb.String(), nil
}

// stringToDigits maps '0'..'9' -> 0..9
func stringToDigits(s string) ([]int, error) {
	out := make([]int, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return nil, fmt.Errorf("char %c not in alphabet", s[i])
		}
		out[i] = int(s[i] - '0')
	}
	return out, nil
}
