package orchestrator

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/dreamware/flotilla/internal/fleet"
)

// AutoScaler is the cooldown-gated control loop that resizes services
// based on aggregate fleet utilization. Scale-up and scale-down are
// mutually exclusive within a tick, and the hysteresis band between the
// two thresholds keeps utilization near the band from flapping even
// before the cooldowns apply.
//
// The inProgress flag makes overlapping ticks impossible even if a tick
// runs long: a tick that finds the flag set returns immediately.
type AutoScaler struct {
	orch       *Orchestrator
	inProgress atomic.Bool
	lastScale  time.Time // Guarded by orch.mu
}

func newAutoScaler(o *Orchestrator) *AutoScaler {
	return &AutoScaler{orch: o}
}

// RunOnce executes one scaling evaluation. Exposed so tests and hosts
// can drive ticks without the ticker.
func (a *AutoScaler) RunOnce() {
	if !a.inProgress.CompareAndSwap(false, true) {
		return
	}
	defer a.inProgress.Store(false)

	o := a.orch
	o.mu.Lock()
	defer o.mu.Unlock()

	util := a.aggregateUtilizationLocked()
	now := o.clk.Now()

	switch {
	case util > o.cfg.ScaleUpThreshold:
		if !a.lastScale.IsZero() && now.Sub(a.lastScale) < o.cfg.ScaleUpCooldown {
			return
		}
		a.scaleUpLocked(util, now)
	case util < o.cfg.ScaleDownThreshold:
		if !a.lastScale.IsZero() && now.Sub(a.lastScale) < o.cfg.ScaleDownCooldown {
			return
		}
		a.scaleDownLocked(util, now)
	}
}

// aggregateUtilizationLocked computes fleet-wide utilization over
// non-failed nodes as the max of the cpu and memory ratios: scaling
// reacts to whichever resource binds first.
func (a *AutoScaler) aggregateUtilizationLocked() float64 {
	var used, capacity fleet.Resources
	for _, node := range a.orch.nodes {
		if node.Status == fleet.NodeFailed {
			continue
		}
		used = used.Add(node.Allocated)
		capacity = capacity.Add(node.Capacity)
	}
	return max(fleet.CPUUtilization(used, capacity), fleet.MemoryUtilization(used, capacity))
}

// scaleUpLocked adds one instance to every service below its maximum.
// Services whose footprint cannot be placed right now are skipped; the
// tick still records a scale action because capacity pressure was acted
// on, and the next elapsed cooldown retries.
func (a *AutoScaler) scaleUpLocked(util float64, now time.Time) {
	o := a.orch
	attempted, added := 0, 0

	for _, id := range o.serviceOrder {
		svc := o.services[id]
		if len(svc.Instances) >= svc.Scaling.MaxInstances {
			continue
		}
		attempted++

		req := fleet.ResourceRequest{
			CPU:          svc.Footprint.CPU,
			MemoryMB:     svc.Footprint.MemoryMB,
			Capabilities: svc.Capabilities,
		}
		node, err := o.selectNodeLocked(req, "")
		if err != nil {
			log.Printf("[autoscaler] scale-up of service %s skipped: %v", svc.Name, err)
			continue
		}

		inst := o.deployInstanceLocked(svc, node)
		added++
		o.publish(Event{Type: EventScaleUp, ServiceID: svc.ID, InstanceID: inst.ID, NodeID: node.ID})
	}

	if attempted == 0 {
		return // Everything already at max; not a scale action
	}
	a.lastScale = now
	o.scalingEvents++
	log.Printf("[autoscaler] scale-up at %.0f%% utilization: %d/%d services grown",
		util*100, added, attempted)
}

// scaleDownLocked removes the least-recently-started instance from every
// service above its minimum.
func (a *AutoScaler) scaleDownLocked(util float64, now time.Time) {
	o := a.orch
	removed := 0

	for _, id := range o.serviceOrder {
		svc := o.services[id]
		if len(svc.Instances) <= svc.Scaling.MinInstances {
			continue
		}

		victim := oldestInstance(svc)
		if victim == nil {
			continue
		}
		o.removeInstanceLocked(svc, victim, "scale-down")
		removed++
		o.publish(Event{Type: EventScaleDown, ServiceID: svc.ID, InstanceID: victim.ID})
	}

	if removed == 0 {
		return
	}
	a.lastScale = now
	o.scalingEvents++
	log.Printf("[autoscaler] scale-down at %.0f%% utilization: %d instances removed",
		util*100, removed)
}

// oldestInstance picks the instance with the earliest start time.
// Instances still deploying carry a zero start time and sort first,
// which is acceptable: an instance that has not started yet is the
// cheapest to give up. Ties break by ID for determinism.
func oldestInstance(svc *fleet.Service) *fleet.Instance {
	var victim *fleet.Instance
	for _, inst := range svc.Instances {
		if victim == nil ||
			inst.StartedAt.Before(victim.StartedAt) ||
			(inst.StartedAt.Equal(victim.StartedAt) && inst.ID < victim.ID) {
			victim = inst
		}
	}
	return victim
}
