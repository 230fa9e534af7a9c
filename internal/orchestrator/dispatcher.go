package orchestrator

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/dreamware/flotilla/internal/fleet"
)

// WorkloadSpec is the submission payload for a workload.
type WorkloadSpec struct {
	Type     string                `json:"type"`
	Priority int                   `json:"priority"`
	Request  fleet.ResourceRequest `json:"request"`
}

// DispatchResult reports the outcome of a distribution attempt. A
// placement failure is a normal outcome, not an error: it comes back as
// Status failed with the error text captured, and the caller decides
// whether to retry.
type DispatchResult struct {
	WorkloadID string               `json:"workload_id"`
	Status     fleet.WorkloadStatus `json:"status"`
	NodeID     string               `json:"node_id,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// noSuitableNodeMsg is the workload error text recorded when distribution
// finds no feasible node. Callers match on it, so it is part of the API.
const noSuitableNodeMsg = "No suitable node available"

// migrationFailedMsg is the workload error text recorded when failover
// cannot find a migration target.
const migrationFailedMsg = "No suitable node for migration"

// DistributeWorkload validates the spec, places the workload on the best
// node, books the assignment, and launches execution. On placement
// failure the workload is recorded as failed with noSuitableNodeMsg and
// that result is returned — not an error.
//
// A ValidationError is returned (with no workload recorded) only for a
// malformed spec.
func (o *Orchestrator) DistributeWorkload(spec WorkloadSpec) (*DispatchResult, error) {
	if spec.Type == "" {
		return nil, &fleet.ValidationError{Field: "type", Reason: "required"}
	}
	if spec.Request.CPU <= 0 {
		return nil, &fleet.ValidationError{Field: "request.cpu", Reason: "must be positive"}
	}
	if spec.Request.MemoryMB <= 0 {
		return nil, &fleet.ValidationError{Field: "request.memory_mb", Reason: "must be positive"}
	}

	o.mu.Lock()

	w := &fleet.Workload{
		ID:        uuid.NewString(),
		Type:      spec.Type,
		Priority:  spec.Priority,
		Request:   spec.Request,
		Status:    fleet.WorkloadPending,
		CreatedAt: o.clk.Now(),
	}
	o.workloads[w.ID] = w

	node, err := o.selectNodeLocked(w.Request, "")
	if err != nil {
		w.Status = fleet.WorkloadFailed
		w.Error = noSuitableNodeMsg
		w.FinishedAt = o.clk.Now()
		result := &DispatchResult{WorkloadID: w.ID, Status: w.Status, Error: w.Error}
		o.mu.Unlock()

		log.Printf("[dispatch] workload %s (%s) unplaceable: %s", w.ID, w.Type, w.Error)
		o.publish(Event{Type: EventWorkloadFailed, WorkloadID: w.ID, Detail: w.Error})
		return result, nil
	}

	w.Status = fleet.WorkloadAssigned
	w.NodeID = node.ID
	w.AssignedAt = o.clk.Now()
	o.assignLocked(node, w.ID, w.Request.Resources())
	result := &DispatchResult{WorkloadID: w.ID, Status: w.Status, NodeID: node.ID}
	snapshot := w.Clone()
	o.mu.Unlock()

	log.Printf("[dispatch] workload %s (%s) -> node %s", w.ID, w.Type, node.Name)
	o.publish(Event{Type: EventWorkloadAssigned, WorkloadID: w.ID, NodeID: node.ID})

	go o.runWorkload(snapshot)
	return result, nil
}

// runWorkload invokes the executor off-lock and reports the completion
// back through the mutex. The execution timeout bounds the invocation; a
// deadline error fails the workload like any other execution error.
func (o *Orchestrator) runWorkload(w *fleet.Workload) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ExecutionTimeout)
	defer cancel()

	result, err := o.executor.ExecuteWorkload(ctx, w)
	o.finishWorkload(w.ID, result, err)
}

// finishWorkload applies an asynchronous completion report. The workload
// is released from whichever node currently hosts it — migration may
// have moved it since launch. Reports against a terminal workload are
// no-ops: completed and failed are final.
func (o *Orchestrator) finishWorkload(workloadID, result string, execErr error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	w, ok := o.workloads[workloadID]
	if !ok || w.Terminal() {
		return
	}

	if node, ok := o.nodes[w.NodeID]; ok {
		o.releaseLocked(node, w.ID, w.Request.Resources())
	}
	w.FinishedAt = o.clk.Now()

	if execErr != nil {
		w.Status = fleet.WorkloadFailed
		w.Error = execErr.Error()
		log.Printf("[dispatch] workload %s failed: %v", w.ID, execErr)
		o.publish(Event{Type: EventWorkloadFailed, WorkloadID: w.ID, NodeID: w.NodeID, Detail: w.Error})
		return
	}

	w.Status = fleet.WorkloadCompleted
	w.Result = result
	log.Printf("[dispatch] workload %s completed", w.ID)
	o.publish(Event{Type: EventWorkloadCompleted, WorkloadID: w.ID, NodeID: w.NodeID})
}

// DeployServiceInstance creates an instance of the service on the named
// node. The node must be schedulable for the service's footprint — the
// same predicate placement uses. Capacity is reserved before the deploy
// starts so concurrent placement decisions see the updated occupancy; the
// instance transitions deploying -> running when the executor reports
// success, and is rolled back if it reports failure.
//
// Returns the new instance ID, a NotFoundError for an unknown service or
// node, or a NoSuitableNodeError if the node cannot host the footprint.
func (o *Orchestrator) DeployServiceInstance(serviceID, nodeID string) (string, error) {
	o.mu.Lock()

	svc, ok := o.services[serviceID]
	if !ok {
		o.mu.Unlock()
		return "", &fleet.NotFoundError{Kind: "service", ID: serviceID}
	}
	node, ok := o.nodes[nodeID]
	if !ok {
		o.mu.Unlock()
		return "", &fleet.NotFoundError{Kind: "node", ID: nodeID}
	}

	req := fleet.ResourceRequest{
		CPU:          svc.Footprint.CPU,
		MemoryMB:     svc.Footprint.MemoryMB,
		Capabilities: svc.Capabilities,
	}
	if !o.feasibleLocked(node, req) {
		o.mu.Unlock()
		return "", &fleet.NoSuitableNodeError{Reason: "deploy of service " + svc.Name + " on node " + node.Name}
	}

	inst := o.deployInstanceLocked(svc, node)
	o.mu.Unlock()

	o.publish(Event{Type: EventInstanceDeploying, ServiceID: serviceID, InstanceID: inst.ID, NodeID: nodeID})
	return inst.ID, nil
}

// deployInstanceLocked books a new deploying instance of svc onto node
// and launches the deploy. Capacity reservation happens here, under the
// lock, before the executor ever runs. Caller holds o.mu and has already
// established feasibility.
func (o *Orchestrator) deployInstanceLocked(svc *fleet.Service, node *fleet.Node) *fleet.Instance {
	inst := &fleet.Instance{
		ID:        uuid.NewString(),
		ServiceID: svc.ID,
		NodeID:    node.ID,
		Status:    fleet.InstanceDeploying,
		Health:    fleet.Health{Status: fleet.HealthUnknown},
		Footprint: svc.Footprint,
		CreatedAt: o.clk.Now(),
	}
	svc.Instances[inst.ID] = inst
	o.instanceOwn[inst.ID] = svc.ID
	o.assignLocked(node, inst.ID, inst.Footprint)

	log.Printf("[dispatch] instance %s of service %s deploying on node %s", inst.ID, svc.Name, node.Name)
	go o.runDeploy(inst.Clone())
	return inst
}

// runDeploy invokes the executor's deploy path off-lock and applies the
// outcome under the mutex.
func (o *Orchestrator) runDeploy(inst *fleet.Instance) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ExecutionTimeout)
	defer cancel()

	err := o.executor.DeployInstance(ctx, inst)
	o.finishDeploy(inst.ServiceID, inst.ID, err)
}

// finishDeploy transitions a deploying instance to running, or rolls it
// back if the deploy failed. An instance that was migrated or removed
// while deploying is left alone.
func (o *Orchestrator) finishDeploy(serviceID, instanceID string, deployErr error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	svc, ok := o.services[serviceID]
	if !ok {
		return
	}
	inst, ok := svc.Instances[instanceID]
	if !ok || inst.Status != fleet.InstanceDeploying {
		return
	}

	if deployErr != nil {
		o.removeInstanceLocked(svc, inst, "deploy failed: "+deployErr.Error())
		return
	}

	inst.Status = fleet.InstanceRunning
	inst.Health.Status = fleet.HealthHealthy
	inst.StartedAt = o.clk.Now()
	log.Printf("[dispatch] instance %s of service %s running", inst.ID, svc.Name)
	o.publish(Event{Type: EventInstanceRunning, ServiceID: serviceID, InstanceID: instanceID, NodeID: inst.NodeID})
}

// CleanupOnce deletes terminal workloads older than the retention
// window. Exposed so tests and hosts can drive cleanup without the
// ticker.
func (o *Orchestrator) CleanupOnce() {
	o.mu.Lock()
	defer o.mu.Unlock()

	cutoff := o.clk.Now().Add(-o.cfg.WorkloadRetention)
	removed := 0
	for id, w := range o.workloads {
		if w.Terminal() && w.FinishedAt.Before(cutoff) {
			delete(o.workloads, id)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("[dispatch] cleaned up %d terminal workloads", removed)
	}
}
