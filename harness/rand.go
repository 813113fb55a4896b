package harness

import "math/rand"

// randIndex picks a uniform random index in [0, n), matching the source's
// random.choice(frees). A package-level source keeps Trace itself free of
// its own mutable rand state.
func randIndex(n int) int {
	if n == 1 {
		return 0
	}
	return rand.Intn(n)
}
