//go:build race

package opt

// Race_ under race detector, shrink stress loops since every atomic and
// park is instrumented.
const Race_ = true

// Iterations_ scales a stress loop down to keep race runs bounded.
//
//go:nosplit
func Iterations_(n int) int {
	if n < 10 {
		return n
	}
	return n / 10
}
