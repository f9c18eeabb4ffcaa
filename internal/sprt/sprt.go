// Package sprt implements the sequential probability ratio test used to stop
// matches early. Results are modelled as Bernoulli trials under two Elo
// hypotheses and scored with the normal approximation of the generalized
// log-likelihood ratio.
package sprt

import "math"

// MinCount replaces a zero win or loss count so the statistic stays finite
// from the first game.
const MinCount = 0.1

// Verdict is the three-valued outcome of a test.
type Verdict int

const (
	Undecided Verdict = iota
	Accept
	Reject
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return "undecided"
	}
}

// Config holds the two hypotheses and the error targets.
type Config struct {
	Elo0  float64
	Elo1  float64
	Alpha float64
	Beta  float64
}

// DefaultConfig tests "no improvement" against a 35 Elo gain at 5% error rates.
func DefaultConfig() Config {
	return Config{Elo0: 0, Elo1: 35, Alpha: 0.05, Beta: 0.05}
}

// Bounds returns the lower (reject) and upper (accept) LLR thresholds.
func (c Config) Bounds() (lower, upper float64) {
	return math.Log(c.Beta / (1 - c.Alpha)), math.Log((1 - c.Beta) / c.Alpha)
}

// LLR returns the log-likelihood ratio of the alternative against the null
// hypothesis for the given record.
func (c Config) LLR(wins, losses int) float64 {
	return c.llr(float64(wins), float64(losses))
}

func (c Config) llr(wins, losses float64) float64 {
	w := smooth(wins)
	l := smooth(losses)
	n := w + l

	rate := w / n
	variance := rate - rate*rate
	if variance <= 0 {
		return 0
	}

	s0 := score(c.Elo0)
	s1 := score(c.Elo1)
	return (s1 - s0) * (2*rate - s0 - s1) / (2 * variance / n)
}

// Test returns the verdict for the given record.
func (c Config) Test(wins, losses int) Verdict {
	return c.verdict(c.LLR(wins, losses))
}

// TestExpected is Test for fractional counts, used when projecting expected
// outcomes of games not played yet.
func (c Config) TestExpected(wins, losses float64) Verdict {
	return c.verdict(c.llr(wins, losses))
}

func (c Config) verdict(llr float64) Verdict {
	lower, upper := c.Bounds()
	switch {
	case llr >= upper:
		return Accept
	case llr <= lower:
		return Reject
	default:
		return Undecided
	}
}

// LLR evaluates the default configuration.
func LLR(wins, losses int) float64 {
	return DefaultConfig().LLR(wins, losses)
}

// Test evaluates the default configuration.
func Test(wins, losses int) Verdict {
	return DefaultConfig().Test(wins, losses)
}

// score is the expected score of a side that is elo points stronger.
func score(elo float64) float64 {
	return 1 / (1 + math.Pow(10, -elo/400))
}

func smooth(n float64) float64 {
	if n < MinCount {
		return MinCount
	}
	return n
}
