// Package activation implements ACT-R style activation mathematics for
// long-term memory retrieval.
//
// Base-level activation follows B_i = ln(sum(t_j^-d)) where t_j is the time
// since the jth access and d is the decay rate. Memories with no recorded
// accesses have an activation of -Inf and are never retrievable.
package activation

import (
	"math"
	"time"
)

// Default parameter values for a Calculator.
const (
	DefaultDecayRate          = 0.5
	DefaultNoiseStd           = 0.25
	DefaultRetrievalThreshold = -1.0
)

// minTimeDiff guards against zero or negative elapsed time when an access
// happened at (or after) the evaluation instant.
const minTimeDiff = 0.001

// Calculator computes base-level and spreading activation. It holds only
// tunable parameters and is safe for concurrent use.
type Calculator struct {
	// DecayRate is the d parameter of the base-level activation formula.
	DecayRate float64

	// NoiseStd is the standard deviation for stochastic activation noise.
	// Reserved: noise is not currently applied to any output.
	NoiseStd float64

	// RetrievalThreshold is the activation floor for IsRetrievable.
	RetrievalThreshold float64
}

// NewCalculator returns a Calculator with the default ACT-R parameters
// (decay rate 0.5, retrieval threshold -1.0).
func NewCalculator() *Calculator {
	return &Calculator{
		DecayRate:          DefaultDecayRate,
		NoiseStd:           DefaultNoiseStd,
		RetrievalThreshold: DefaultRetrievalThreshold,
	}
}

// BaseActivation computes base-level activation from an access-time history
// evaluated at now.
//
// Each access contributes (now - t_j)^-d; the result is the natural log of
// the summed contributions. More recent and more frequent accesses raise the
// result. An empty history returns -Inf: the memory is forgotten.
func (c *Calculator) BaseActivation(accessTimes []time.Time, now time.Time) float64 {
	if len(accessTimes) == 0 {
		return math.Inf(-1)
	}

	total := 0.0
	for _, t := range accessTimes {
		diff := now.Sub(t).Seconds()
		if diff < minTimeDiff {
			diff = minTimeDiff
		}
		total += math.Pow(diff, -c.DecayRate)
	}

	if total > 0 {
		return math.Log(total)
	}
	return math.Inf(-1)
}

// SpreadingActivation computes S_i = sum(W_j * S_ji) from associated source
// memories. Association weights are normalized to sum to one and scaled by
// totalSourceActivation, the caller-supplied activation budget.
//
// Returns 0 if either mapping is empty or all weights are zero. The caller
// is responsible for supplying a real association graph; nothing in this
// package builds one.
func (c *Calculator) SpreadingActivation(sourceActivations, associationWeights map[string]float64, totalSourceActivation float64) float64 {
	if len(sourceActivations) == 0 || len(associationWeights) == 0 {
		return 0.0
	}

	weightSum := 0.0
	for _, w := range associationWeights {
		weightSum += w
	}
	if weightSum == 0 {
		return 0.0
	}

	spreading := 0.0
	for sourceID, sourceAct := range sourceActivations {
		weight := associationWeights[sourceID]
		normalized := (weight / weightSum) * totalSourceActivation
		spreading += normalized * sourceAct
	}

	return spreading
}

// IsRetrievable reports whether an activation value exceeds the retrieval
// threshold. The comparison is strict, so -Inf is never retrievable for any
// finite threshold.
func (c *Calculator) IsRetrievable(activation float64) bool {
	return activation > c.RetrievalThreshold
}
