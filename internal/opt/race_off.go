//go:build !race

package opt

// Race_ reports whether the binary was built with the race detector.
const Race_ = false

// Iterations_ scales a stress loop. Without the race detector the full
// count is used.
//
//go:nosplit
func Iterations_(n int) int {
	return n
}
