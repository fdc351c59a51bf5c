// randomid/digits.go
package randomid

import "slices"

// EncodeDigits splits value into decimal digits, most significant first,
// padded with leading zeros to width.
func EncodeDigits(value uint32, width int) []int {
	digits := make([]int, 0, width)
	for value > 0 {
		digits = append(digits, int(value%10))
		value /= 10
	}
	for len(digits) < width {
		digits = append(digits, 0)
	}
	slices.Reverse(digits)
	return digits
}

// DecodeDigits folds digits (most significant first) back into an integer.
// An empty slice decodes to 0.
func DecodeDigits(digits []int) uint32 {
	var acc uint32
	for _, d := range digits {
		acc = acc*10 + uint32(d)
	}
	return acc
}
