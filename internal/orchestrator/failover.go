package orchestrator

import (
	"log"

	"github.com/dreamware/flotilla/internal/fleet"
)

// failoverLocked migrates everything off a node that just entered a
// failure episode. Each queued assignment is handled independently, so
// partial migration success is normal:
//
//   - A workload is re-placed excluding the failed node; with no target
//     it ends failed with migrationFailedMsg. Either way it leaves the
//     failed node's queue — nothing is silently lost.
//   - A service instance is re-placed the same way; with no target it is
//     removed from its service, degrading the service rather than
//     leaving a dangling instance on a dead node.
//
// Runs under o.mu, from the health monitor's threshold transition. The
// episode flag in applyNodeProbe guarantees one invocation per episode.
func (o *Orchestrator) failoverLocked(failed *fleet.Node) {
	o.failoverEvents++
	queue := append([]string(nil), failed.Occupancy.Queue...)
	log.Printf("[failover] node %s: migrating %d assignments", failed.Name, len(queue))

	for _, id := range queue {
		if w, ok := o.workloads[id]; ok {
			o.migrateWorkloadLocked(failed, w)
			continue
		}
		if serviceID, ok := o.instanceOwn[id]; ok {
			svc := o.services[serviceID]
			o.migrateInstanceLocked(failed, svc, svc.Instances[id])
		}
	}
}

func (o *Orchestrator) migrateWorkloadLocked(failed *fleet.Node, w *fleet.Workload) {
	o.releaseLocked(failed, w.ID, w.Request.Resources())

	target, err := o.selectNodeLocked(w.Request, failed.ID)
	if err != nil {
		w.Status = fleet.WorkloadFailed
		w.Error = migrationFailedMsg
		w.FinishedAt = o.clk.Now()
		log.Printf("[failover] workload %s: %s", w.ID, migrationFailedMsg)
		o.publish(Event{Type: EventWorkloadFailed, WorkloadID: w.ID, NodeID: failed.ID, Detail: w.Error})
		return
	}

	o.assignLocked(target, w.ID, w.Request.Resources())
	w.NodeID = target.ID
	log.Printf("[failover] workload %s: node %s -> node %s", w.ID, failed.Name, target.Name)
	o.publish(Event{Type: EventWorkloadMigrated, WorkloadID: w.ID, NodeID: target.ID, Detail: "off " + failed.ID})
}

func (o *Orchestrator) migrateInstanceLocked(failed *fleet.Node, svc *fleet.Service, inst *fleet.Instance) {
	inst.Status = fleet.InstanceMigrating

	req := fleet.ResourceRequest{
		CPU:          inst.Footprint.CPU,
		MemoryMB:     inst.Footprint.MemoryMB,
		Capabilities: svc.Capabilities,
	}
	target, err := o.selectNodeLocked(req, failed.ID)
	if err != nil {
		o.removeInstanceLocked(svc, inst, migrationFailedMsg)
		return
	}

	o.releaseLocked(failed, inst.ID, inst.Footprint)
	o.assignLocked(target, inst.ID, inst.Footprint)
	inst.NodeID = target.ID
	inst.Status = fleet.InstanceRunning
	inst.Health.ConsecutiveFailures = 0
	log.Printf("[failover] instance %s of service %s: node %s -> node %s",
		inst.ID, svc.Name, failed.Name, target.Name)
	o.publish(Event{
		Type:       EventInstanceMigrated,
		ServiceID:  svc.ID,
		InstanceID: inst.ID,
		NodeID:     target.ID,
		Detail:     "off " + failed.ID,
	})
}
