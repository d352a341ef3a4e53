package routing

import (
	"math/rand/v2"

	"github.com/fleetserve/gateway/pkg/fleet"
)

// Policy selects one runner from a non-empty candidate list.
type Policy string

const (
	PolicyRoundRobin  Policy = "round_robin"
	PolicyRandom      Policy = "random"
	PolicyAffinity    Policy = "affinity"
	PolicyLeastLoaded Policy = "least_loaded"
)

// selectRunner applies the policy to candidates. Candidates must be sorted
// by id so that round-robin and affinity behave deterministically.
func (r *Router) selectRunner(policy Policy, candidates []fleet.Runner) fleet.Runner {
	switch policy {
	case PolicyRandom:
		return candidates[rand.IntN(len(candidates))]
	case PolicyAffinity:
		if r.cfg.AffinityMachineType != "" {
			for _, c := range candidates {
				if c.MachineType == r.cfg.AffinityMachineType {
					return c
				}
			}
		}
		return candidates[0]
	case PolicyLeastLoaded:
		return r.LeastLoaded(candidates)
	default:
		// Round-robin via a free-running atomic counter.
		n := r.rr.Add(1) - 1
		return candidates[n%uint64(len(candidates))]
	}
}

// LeastLoaded picks the candidate with the fewest in-flight requests,
// reading the live counters rather than the snapshot values.
func (r *Router) LeastLoaded(candidates []fleet.Runner) fleet.Runner {
	best := candidates[0]
	bestLoad := r.registry.ActiveRequests(best.ID)
	for _, c := range candidates[1:] {
		if load := r.registry.ActiveRequests(c.ID); load < bestLoad {
			best, bestLoad = c, load
		}
	}
	return best
}
