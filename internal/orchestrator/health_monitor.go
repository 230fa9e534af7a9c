package orchestrator

import (
	"context"
	"log"
	"sync"

	"github.com/dreamware/flotilla/internal/fleet"
)

// HealthMonitor drives the health state machine for nodes and service
// instances. Each check cycle probes every node and every running
// instance through the injected Prober, in parallel (probes are
// independent and may block up to the probe timeout), then funnels every
// result through the orchestrator's mutex one at a time.
//
// Node pattern: a probe success resets the failure count and (re)activates
// the node. A probe failure — including a timeout — increments the
// consecutive-failure count; at the threshold the node is marked failed
// and failover runs exactly once for that failure episode. The episode
// flag keeps later failing ticks from re-triggering failover and clears
// only when the node probes healthy again.
//
// Instance pattern: same counting at instance granularity, but an
// instance past its threshold is removed rather than migrated — instance
// failures are replaceable, node failures are migratable.
type HealthMonitor struct {
	orch *Orchestrator
}

func newHealthMonitor(o *Orchestrator) *HealthMonitor {
	return &HealthMonitor{orch: o}
}

// CheckOnce runs one full health-check cycle: all nodes, then all
// running instances. Exposed so tests and hosts can drive cycles
// without the ticker.
func (h *HealthMonitor) CheckOnce(ctx context.Context) {
	h.checkNodes(ctx)
	h.checkInstances(ctx)
}

func (h *HealthMonitor) checkNodes(ctx context.Context) {
	o := h.orch

	o.mu.RLock()
	targets := make([]*fleet.Node, 0, len(o.nodes))
	for _, id := range o.nodeOrder {
		targets = append(targets, o.nodes[id].Clone())
	}
	o.mu.RUnlock()

	var wg sync.WaitGroup
	for _, node := range targets {
		wg.Add(1)
		go func(node *fleet.Node) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
			defer cancel()
			err := o.prober.ProbeNode(probeCtx, node)
			o.applyNodeProbe(node.ID, err)
		}(node)
	}
	wg.Wait()
}

func (h *HealthMonitor) checkInstances(ctx context.Context) {
	o := h.orch

	type target struct {
		serviceID string
		inst      *fleet.Instance
	}
	o.mu.RLock()
	var targets []target
	for _, id := range o.serviceOrder {
		for _, inst := range o.services[id].Instances {
			if inst.Status == fleet.InstanceRunning {
				targets = append(targets, target{serviceID: id, inst: inst.Clone()})
			}
		}
	}
	o.mu.RUnlock()

	var wg sync.WaitGroup
	for _, tg := range targets {
		wg.Add(1)
		go func(tg target) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
			defer cancel()
			err := o.prober.ProbeInstance(probeCtx, tg.inst)
			o.applyInstanceProbe(tg.serviceID, tg.inst.ID, err)
		}(tg)
	}
	wg.Wait()
}

// applyNodeProbe records one probe result for a node and advances its
// health state machine. This is the serialization point for node health:
// probes run in parallel, but every mutation lands here under the lock.
func (o *Orchestrator) applyNodeProbe(nodeID string, probeErr error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	node, ok := o.nodes[nodeID]
	if !ok {
		return // Node disappeared between snapshot and result
	}
	node.Health.LastCheck = o.clk.Now()
	breaker := o.breakers[nodeID]

	if probeErr == nil {
		recovered := node.Status == fleet.NodeFailed
		node.Health.Status = fleet.HealthHealthy
		node.Health.ConsecutiveFailures = 0
		node.Status = fleet.NodeActive
		delete(o.episodeOpen, nodeID)
		if breaker != nil {
			breaker.RecordSuccess()
		}
		if recovered {
			log.Printf("[health] node %s recovered", node.Name)
			o.publish(Event{Type: EventNodeRecovered, NodeID: nodeID})
		}
		return
	}

	node.Health.Status = fleet.HealthUnhealthy
	node.Health.ConsecutiveFailures++
	if breaker != nil {
		breaker.RecordFailure(o.clk.Now())
	}
	log.Printf("[health] node %s probe failed (%d/%d): %v",
		node.Name, node.Health.ConsecutiveFailures, o.cfg.NodeFailureThreshold, probeErr)

	if node.Health.ConsecutiveFailures < o.cfg.NodeFailureThreshold || o.episodeOpen[nodeID] {
		return
	}

	// Threshold reached: fail the node and run failover, once per episode.
	o.episodeOpen[nodeID] = true
	node.Status = fleet.NodeFailed
	log.Printf("[health] node %s marked failed after %d consecutive failures",
		node.Name, node.Health.ConsecutiveFailures)
	o.publish(Event{Type: EventNodeFailed, NodeID: nodeID, Detail: probeErr.Error()})
	o.failoverLocked(node)
}

// applyInstanceProbe records one probe result for a running instance.
// Past the failure threshold the instance is removed from its service
// and its node capacity released; the autoscaler restores instance count
// when the scaling policy requires it.
func (o *Orchestrator) applyInstanceProbe(serviceID, instanceID string, probeErr error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	svc, ok := o.services[serviceID]
	if !ok {
		return
	}
	inst, ok := svc.Instances[instanceID]
	if !ok {
		return // Removed or migrated away since the snapshot
	}
	inst.Health.LastCheck = o.clk.Now()

	if probeErr == nil {
		inst.Health.Status = fleet.HealthHealthy
		inst.Health.ConsecutiveFailures = 0
		return
	}

	inst.Health.Status = fleet.HealthUnhealthy
	inst.Health.ConsecutiveFailures++
	if inst.Health.ConsecutiveFailures < o.cfg.InstanceFailureThreshold {
		return
	}

	o.removeInstanceLocked(svc, inst, "failed "+probeErr.Error())
}

// removeInstanceLocked deletes an instance from its service and releases
// its slot and capacity on the hosting node. Caller holds o.mu.
func (o *Orchestrator) removeInstanceLocked(svc *fleet.Service, inst *fleet.Instance, reason string) {
	if node, ok := o.nodes[inst.NodeID]; ok {
		o.releaseLocked(node, inst.ID, inst.Footprint)
	}
	delete(svc.Instances, inst.ID)
	delete(o.instanceOwn, inst.ID)
	log.Printf("[health] instance %s of service %s removed: %s", inst.ID, svc.Name, reason)
	o.publish(Event{
		Type:       EventInstanceRemoved,
		ServiceID:  svc.ID,
		InstanceID: inst.ID,
		NodeID:     inst.NodeID,
		Detail:     reason,
	})
}
