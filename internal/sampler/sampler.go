// Package sampler turns next-token logits into a token id.
package sampler

import (
	"math"
	"math/rand"
	"sort"
)

// GreedyThreshold is the temperature at or below which decoding is greedy.
const GreedyThreshold = 1e-5

// Params configures a decoding strategy. Zero TopK and MinP disable the
// corresponding filters.
type Params struct {
	Temperature float32
	TopK        int
	MinP        float32
	Seed        int64
}

// Greedy reports whether p selects deterministic argmax decoding.
func (p Params) Greedy() bool { return p.Temperature <= GreedyThreshold }

// Strategy picks one token id from logits. Implementations must not retain
// the logits slice.
type Strategy interface {
	NextToken(logits []float32, p Params, rng *rand.Rand) int
}

// NewRNG returns the per-request random source for seed.
func NewRNG(seed int64) *rand.Rand { return rand.New(rand.NewSource(seed)) }

// For returns the strategy selected by p.
func For(p Params) Strategy {
	if p.Greedy() {
		return Greedy{}
	}
	return Probabilistic{}
}

// NextToken dispatches to the strategy selected by p.
func NextToken(logits []float32, p Params, rng *rand.Rand) int {
	return For(p).NextToken(logits, p, rng)
}

// Greedy is argmax decoding. Ties resolve to the lowest token id.
type Greedy struct{}

func (Greedy) NextToken(logits []float32, _ Params, _ *rand.Rand) int { return Argmax(logits) }

// Argmax returns the index of the largest logit, the lowest index among
// equal maxima, or -1 for an empty slice. NaN entries are ignored.
func Argmax(logits []float32) int {
	best := -1
	var bestV float32
	for i, v := range logits {
		if v != v {
			continue
		}
		if best < 0 || v > bestV {
			best, bestV = i, v
		}
	}
	return best
}

// Probabilistic applies temperature, then min-p, then top-k, and samples
// from the renormalised distribution.
type Probabilistic struct{}

type candidate struct {
	id int
	p  float64
}

func (Probabilistic) NextToken(logits []float32, p Params, rng *rand.Rand) int {
	if len(logits) == 0 {
		return -1
	}
	temp := float64(p.Temperature)
	if temp <= GreedyThreshold {
		return Argmax(logits)
	}

	maxv := math.Inf(-1)
	for _, v := range logits {
		if fv := float64(v) / temp; fv > maxv {
			maxv = fv
		}
	}
	if math.IsInf(maxv, -1) || math.IsNaN(maxv) {
		return Argmax(logits)
	}

	cands := make([]candidate, 0, len(logits))
	var sum float64
	for i, v := range logits {
		if v != v {
			continue
		}
		e := math.Exp(float64(v)/temp - maxv)
		cands = append(cands, candidate{id: i, p: e})
		sum += e
	}
	if sum == 0 {
		return Argmax(logits)
	}
	maxP := 0.0
	for i := range cands {
		cands[i].p /= sum
		if cands[i].p > maxP {
			maxP = cands[i].p
		}
	}

	if p.MinP > 0 {
		floor := float64(p.MinP) * maxP
		kept := cands[:0]
		for _, c := range cands {
			if c.p >= floor {
				kept = append(kept, c)
			}
		}
		cands = kept
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].p != cands[j].p {
			return cands[i].p > cands[j].p
		}
		return cands[i].id < cands[j].id
	})
	if p.TopK > 0 && p.TopK < len(cands) {
		cands = cands[:p.TopK]
	}

	total := 0.0
	for _, c := range cands {
		total += c.p
	}
	if rng == nil {
		rng = NewRNG(p.Seed)
	}
	r := rng.Float64() * total
	acc := 0.0
	for _, c := range cands {
		acc += c.p
		if r < acc {
			return c.id
		}
	}
	return cands[len(cands)-1].id
}
