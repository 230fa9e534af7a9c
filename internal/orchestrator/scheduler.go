package orchestrator

import "github.com/dreamware/flotilla/internal/fleet"

// Placement scoring weights. Spare cpu and memory dominate; spare
// assignment slots break the bulk of near-ties between nodes of similar
// load.
const (
	scoreWeightCPU      = 0.4
	scoreWeightMemory   = 0.4
	scoreWeightCapacity = 0.2
)

// selectNodeLocked runs the placement algorithm for a resource request:
// filter to feasible nodes, score the survivors, pick the best. The same
// algorithm serves initial placement, migration target selection, and
// autoscaling placement; migration passes the failed node as exclude.
//
// Selection is deterministic: ties on score break to the node with the
// lowest current assignment count, then to registration order. Returns a
// NoSuitableNodeError when no node survives filtering.
//
// Caller holds o.mu.
func (o *Orchestrator) selectNodeLocked(req fleet.ResourceRequest, exclude string) (*fleet.Node, error) {
	var best *fleet.Node
	var bestScore float64

	for _, id := range o.nodeOrder {
		node := o.nodes[id]
		if node.ID == exclude || !o.feasibleLocked(node, req) {
			continue
		}
		score := placementScore(node)
		if best == nil || score > bestScore ||
			(score == bestScore && node.Occupancy.Current < best.Occupancy.Current) {
			best = node
			bestScore = score
		}
		// Equal score and equal occupancy falls through: nodeOrder
		// iteration already prefers the earlier registration.
	}

	if best == nil {
		return nil, &fleet.NoSuitableNodeError{}
	}
	return best, nil
}

// feasibleLocked is the placement predicate: the node must not be failed
// or probed unhealthy, its circuit breaker must admit it, it must have a
// spare assignment slot, enough available cpu/memory for the request plus
// the fixed per-assignment reservation, and every required capability.
//
// Caller holds o.mu.
func (o *Orchestrator) feasibleLocked(node *fleet.Node, req fleet.ResourceRequest) bool {
	if node.Status == fleet.NodeFailed || node.Health.Status == fleet.HealthUnhealthy {
		return false
	}
	if breaker := o.breakers[node.ID]; breaker != nil && !breaker.Allow(o.clk.Now()) {
		return false
	}
	if node.Occupancy.Current >= node.Occupancy.Max {
		return false
	}
	demand := req.Resources().Add(o.cfg.AssignmentReservation)
	if !demand.Fits(node.Available()) {
		return false
	}
	return node.HasCapabilities(req.Capabilities)
}

// placementScore ranks a feasible node by spare capacity: emptier nodes
// score higher, spreading load across the fleet.
func placementScore(node *fleet.Node) float64 {
	cpuUtil := fleet.CPUUtilization(node.Allocated, node.Capacity)
	memUtil := fleet.MemoryUtilization(node.Allocated, node.Capacity)
	capUtil := 0.0
	if node.Occupancy.Max > 0 {
		capUtil = float64(node.Occupancy.Current) / float64(node.Occupancy.Max)
	}
	return scoreWeightCPU*(1-cpuUtil) +
		scoreWeightMemory*(1-memUtil) +
		scoreWeightCapacity*(1-capUtil)
}
