// Package market adapts the teacher's multi-objective bid ranking
// (optimizer.go) to router candidate selection. The teacher ranks bids
// across cost, speed, trust, confidence, and capability match; this runtime
// never collects bids; capability match is already guaranteed by the
// registry's FindByCapability filter, and there is no cost/speed bid to
// rank. What remains from the teacher's weighted-sum approach is trust vs.
// load: RankCandidates scores each available agent on its registered
// TrustScore and how saturated its CurrentLoad is, so the router prefers a
// trusted, lightly-loaded agent over a loaded or low-trust one.
package market

import "github.com/dataparency-dev/cos-orchestrator/types"

// Weights controls the relative importance of trust vs. headroom in
// candidate scoring, the same tunable-weighted-sum shape as the teacher's
// OptimizationWeights.
type Weights struct {
	Trust    float64
	Headroom float64
}

// DefaultWeights weights trust at 0.6 and headroom at 0.4.
func DefaultWeights() Weights {
	return Weights{Trust: 0.6, Headroom: 0.4}
}

// ScoredCandidate pairs an agent registration with its computed score.
type ScoredCandidate struct {
	Agent types.AgentRegistration
	Score float64
}

// RankCandidates scores and sorts candidates descending by weighted
// trust+headroom, the same normalize-then-weighted-sum shape as the
// teacher's RankBids, trimmed to the two signals this runtime tracks.
func RankCandidates(candidates []types.AgentRegistration, weights Weights) []ScoredCandidate {
	if len(candidates) == 0 {
		return nil
	}

	scored := make([]ScoredCandidate, len(candidates))
	for i, c := range candidates {
		scored[i] = ScoredCandidate{
			Agent: c,
			Score: weights.Trust*normalizedTrust(c) + weights.Headroom*headroom(c),
		}
	}

	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Score > scored[j-1].Score; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
	return scored
}

// Best returns the top-ranked candidate, or false if candidates is empty.
func Best(candidates []types.AgentRegistration, weights Weights) (types.AgentRegistration, bool) {
	ranked := RankCandidates(candidates, weights)
	if len(ranked) == 0 {
		return types.AgentRegistration{}, false
	}
	return ranked[0].Agent, true
}

func normalizedTrust(a types.AgentRegistration) float64 {
	if a.TrustScore <= 0 {
		return 0
	}
	if a.TrustScore > 1 {
		return 1
	}
	return a.TrustScore
}

// headroom is the fraction of capacity an agent has free, 1.0 for an
// unloaded agent and 0.0 for one at or over MaxLoad.
func headroom(a types.AgentRegistration) float64 {
	if a.MaxLoad <= 0 {
		return 1.0
	}
	free := a.MaxLoad - a.CurrentLoad
	if free <= 0 {
		return 0
	}
	return float64(free) / float64(a.MaxLoad)
}
