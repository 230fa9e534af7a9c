package orchestrator

import (
	"log"

	"github.com/google/uuid"

	"github.com/dreamware/flotilla/internal/fleet"
)

// NodeSpec is the registration payload for a node. Name and Type are
// required; Capacity must carry positive cpu and memory. MaxAssignments
// defaults to the configured DefaultMaxAssignments when zero.
type NodeSpec struct {
	Name           string          `json:"name"`
	Type           fleet.NodeType  `json:"type"`
	Location       string          `json:"location,omitempty"`
	Addr           string          `json:"addr,omitempty"`
	Capabilities   []string        `json:"capabilities,omitempty"`
	Capacity       fleet.Resources `json:"capacity"`
	MaxAssignments int             `json:"max_assignments,omitempty"`
}

// ServiceSpec is the registration payload for a service. Name is
// required; Footprint must carry positive cpu and memory. Scaling bounds
// default to min 1 / max 10 when zero.
type ServiceSpec struct {
	Name         string              `json:"name"`
	Version      string              `json:"version,omitempty"`
	Footprint    fleet.Resources     `json:"footprint"`
	Capabilities []string            `json:"capabilities,omitempty"`
	Scaling      fleet.ScalingPolicy `json:"scaling"`
}

// RegisterNode validates spec, creates the node with initialized health,
// occupancy, and circuit-breaker sub-records, and stores it. Returns the
// generated node ID, or a ValidationError.
func (o *Orchestrator) RegisterNode(spec NodeSpec) (string, error) {
	if spec.Name == "" {
		return "", &fleet.ValidationError{Field: "name", Reason: "required"}
	}
	if spec.Type == "" {
		return "", &fleet.ValidationError{Field: "type", Reason: "required"}
	}
	if !spec.Type.Valid() {
		return "", &fleet.ValidationError{Field: "type", Reason: "unknown node type " + string(spec.Type)}
	}
	if spec.Capacity.CPU <= 0 {
		return "", &fleet.ValidationError{Field: "capacity.cpu", Reason: "must be positive"}
	}
	if spec.Capacity.MemoryMB <= 0 {
		return "", &fleet.ValidationError{Field: "capacity.memory_mb", Reason: "must be positive"}
	}
	if spec.MaxAssignments < 0 {
		return "", &fleet.ValidationError{Field: "max_assignments", Reason: "must not be negative"}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	maxAssignments := spec.MaxAssignments
	if maxAssignments == 0 {
		maxAssignments = o.cfg.DefaultMaxAssignments
	}

	node := &fleet.Node{
		ID:           uuid.NewString(),
		Name:         spec.Name,
		Type:         spec.Type,
		Location:     spec.Location,
		Addr:         spec.Addr,
		Capabilities: append([]string(nil), spec.Capabilities...),
		Capacity:     spec.Capacity,
		Status:       fleet.NodeRegistered,
		Health:       fleet.Health{Status: fleet.HealthUnknown},
		Occupancy:    fleet.Occupancy{Max: maxAssignments},
		RegisteredAt: o.clk.Now(),
		Seq:          o.nextSeq,
	}
	o.nextSeq++
	o.nodes[node.ID] = node
	o.nodeOrder = append(o.nodeOrder, node.ID)
	o.breakers[node.ID] = newCircuitBreaker(o.cfg.BreakerThreshold, o.cfg.BreakerOpenTimeout)

	log.Printf("[registry] node %s registered (%s, cpu=%.1f mem=%dMB)",
		node.Name, node.Type, node.Capacity.CPU, node.Capacity.MemoryMB)
	o.publish(Event{Type: EventNodeRegistered, NodeID: node.ID, Detail: node.Name})
	return node.ID, nil
}

// RegisterService validates spec, creates the service with an empty
// instance map, and stores it. Returns the generated service ID, or a
// ValidationError.
func (o *Orchestrator) RegisterService(spec ServiceSpec) (string, error) {
	if spec.Name == "" {
		return "", &fleet.ValidationError{Field: "name", Reason: "required"}
	}
	if spec.Footprint.CPU <= 0 {
		return "", &fleet.ValidationError{Field: "footprint.cpu", Reason: "must be positive"}
	}
	if spec.Footprint.MemoryMB <= 0 {
		return "", &fleet.ValidationError{Field: "footprint.memory_mb", Reason: "must be positive"}
	}

	scaling := spec.Scaling
	if scaling.MinInstances == 0 && scaling.MaxInstances == 0 {
		scaling.MinInstances, scaling.MaxInstances = 1, 10
	}
	if scaling.MinInstances < 0 {
		return "", &fleet.ValidationError{Field: "scaling.min_instances", Reason: "must not be negative"}
	}
	if scaling.MaxInstances < scaling.MinInstances {
		return "", &fleet.ValidationError{Field: "scaling.max_instances", Reason: "must be >= min_instances"}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	svc := &fleet.Service{
		ID:           uuid.NewString(),
		Name:         spec.Name,
		Version:      spec.Version,
		Footprint:    spec.Footprint,
		Capabilities: append([]string(nil), spec.Capabilities...),
		Scaling:      scaling,
		Instances:    make(map[string]*fleet.Instance),
		RegisteredAt: o.clk.Now(),
		Seq:          o.nextSeq,
	}
	o.nextSeq++
	o.services[svc.ID] = svc
	o.serviceOrder = append(o.serviceOrder, svc.ID)

	log.Printf("[registry] service %s registered (scaling %d..%d)",
		svc.Name, scaling.MinInstances, scaling.MaxInstances)
	o.publish(Event{Type: EventServiceRegistered, ServiceID: svc.ID, Detail: svc.Name})
	return svc.ID, nil
}

// NodeInfo returns a snapshot of the node, or a NotFoundError.
func (o *Orchestrator) NodeInfo(nodeID string) (*fleet.Node, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	node, ok := o.nodes[nodeID]
	if !ok {
		return nil, &fleet.NotFoundError{Kind: "node", ID: nodeID}
	}
	return node.Clone(), nil
}

// ServiceInfo returns a snapshot of the service with its aggregate
// health, or a NotFoundError.
func (o *Orchestrator) ServiceInfo(serviceID string) (*ServiceStatus, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	svc, ok := o.services[serviceID]
	if !ok {
		return nil, &fleet.NotFoundError{Kind: "service", ID: serviceID}
	}
	return &ServiceStatus{Service: svc.Clone(), Health: svc.AggregateHealth()}, nil
}

// WorkloadInfo returns a snapshot of the workload, or a NotFoundError.
func (o *Orchestrator) WorkloadInfo(workloadID string) (*fleet.Workload, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	w, ok := o.workloads[workloadID]
	if !ok {
		return nil, &fleet.NotFoundError{Kind: "workload", ID: workloadID}
	}
	return w.Clone(), nil
}
