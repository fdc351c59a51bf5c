package randomid

import "errors"

var (
	// ErrInvalidConfiguration is returned at construction when the key, width
	// or radix can never produce a working sequence.
	ErrInvalidConfiguration = errors.New("randomid: invalid configuration")

	// ErrCryptoFailure is returned when a single permutation call fails.
	// The cursor is left where it was.
	ErrCryptoFailure = errors.New("randomid: permutation failed")

	ErrInvalidArgument = errors.New("randomid: invalid argument")
)
