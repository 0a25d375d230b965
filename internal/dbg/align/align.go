// Package align rounds addresses and sizes to power of two boundaries.
package align

import "golang.org/x/exp/constraints"

// Up rounds a up to a multiple of b, which must be a power of two.
func Up[I constraints.Integer](a, b I) I {
	return (a + b - 1) &^ (b - 1)
}

// Down rounds a down to a multiple of b, which must be a power of two.
func Down[I constraints.Integer](a, b I) I {
	return a &^ (b - 1)
}

func Is[I constraints.Integer](a, b I) bool {
	return a&(b-1) == 0
}
