package scheduler

import "github.com/rchs819/leela-zero-server/internal/sprt"

// GamesToQueue returns how many games of a match should be in flight. It
// assumes the challenger scores only rate of the games still to come and
// finds the fewest of them after which the test would reject; buffer is added
// on top. An accepted match needs all its remaining games, a rejected one none.
func GamesToQueue(target, wins, losses int, rate float64, buffer int, cfg sprt.Config) int {
	left := target - wins - losses
	if left < 0 {
		left = 0
	}
	switch cfg.Test(wins, losses) {
	case sprt.Accept:
		return left + buffer
	case sprt.Reject:
		return 0
	}
	for i := 0; i < left; i++ {
		w := float64(wins) + float64(i)*rate
		l := float64(losses) + float64(i)*(1-rate)
		if cfg.TestExpected(w, l) == sprt.Reject {
			return i + buffer
		}
	}
	return left + buffer
}
