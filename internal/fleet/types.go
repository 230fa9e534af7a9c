package fleet

import "time"

// NodeType classifies the role a node plays in the fleet.
type NodeType string

const (
	NodeTypeEdge    NodeType = "edge-node"
	NodeTypeGateway NodeType = "gateway"
	NodeTypeCompute NodeType = "compute"
	NodeTypeStorage NodeType = "storage"
	NodeTypeNetwork NodeType = "network"
)

// Valid reports whether t is one of the recognized node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeEdge, NodeTypeGateway, NodeTypeCompute, NodeTypeStorage, NodeTypeNetwork:
		return true
	}
	return false
}

// NodeStatus tracks a node's lifecycle state.
type NodeStatus string

const (
	NodeRegistered NodeStatus = "registered" // Registered, not yet probed healthy
	NodeActive     NodeStatus = "active"     // Probed healthy, schedulable
	NodeFailed     NodeStatus = "failed"     // Exceeded the failure threshold
)

// HealthState is the probe-derived health of a node or instance.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// InstanceStatus tracks a service instance's lifecycle state.
type InstanceStatus string

const (
	InstanceDeploying InstanceStatus = "deploying"
	InstanceRunning   InstanceStatus = "running"
	InstanceMigrating InstanceStatus = "migrating"
)

// WorkloadStatus tracks a workload's lifecycle state.
// Completed and failed are terminal: once reached, the record never
// changes again.
type WorkloadStatus string

const (
	WorkloadPending   WorkloadStatus = "pending"
	WorkloadAssigned  WorkloadStatus = "assigned"
	WorkloadCompleted WorkloadStatus = "completed"
	WorkloadFailed    WorkloadStatus = "failed"
)

// ServiceHealth is the aggregate health of a service, derived from the
// health of its instances.
type ServiceHealth string

const (
	ServiceHealthy   ServiceHealth = "healthy"   // All instances healthy
	ServiceDegraded  ServiceHealth = "degraded"  // Some, but not all, healthy
	ServiceUnhealthy ServiceHealth = "unhealthy" // No healthy instances
)

// Resources is the capacity vector used for node capacity, allocation,
// and per-instance footprints. CPU is in cores, memory in MiB.
type Resources struct {
	CPU         float64 `json:"cpu"`
	MemoryMB    int64   `json:"memory_mb"`
	StorageGB   int64   `json:"storage_gb"`
	NetworkMbps int64   `json:"network_mbps"`
}

// Add returns the component-wise sum of r and o.
func (r Resources) Add(o Resources) Resources {
	return Resources{
		CPU:         r.CPU + o.CPU,
		MemoryMB:    r.MemoryMB + o.MemoryMB,
		StorageGB:   r.StorageGB + o.StorageGB,
		NetworkMbps: r.NetworkMbps + o.NetworkMbps,
	}
}

// Sub returns the component-wise difference of r and o. Components are
// clamped at zero so release paths cannot drive allocation negative.
func (r Resources) Sub(o Resources) Resources {
	return Resources{
		CPU:         max(r.CPU-o.CPU, 0),
		MemoryMB:    max(r.MemoryMB-o.MemoryMB, 0),
		StorageGB:   max(r.StorageGB-o.StorageGB, 0),
		NetworkMbps: max(r.NetworkMbps-o.NetworkMbps, 0),
	}
}

// Fits reports whether r fits within capacity, component-wise.
// Only cpu and memory participate: storage and network are advisory
// capacity fields, not placement constraints.
func (r Resources) Fits(capacity Resources) bool {
	return r.CPU <= capacity.CPU && r.MemoryMB <= capacity.MemoryMB
}

// CPUUtilization returns used cpu over capacity cpu, or 0 for zero capacity.
func CPUUtilization(used, capacity Resources) float64 {
	if capacity.CPU <= 0 {
		return 0
	}
	return used.CPU / capacity.CPU
}

// MemoryUtilization returns used memory over capacity memory, or 0 for
// zero capacity.
func MemoryUtilization(used, capacity Resources) float64 {
	if capacity.MemoryMB <= 0 {
		return 0
	}
	return float64(used.MemoryMB) / float64(capacity.MemoryMB)
}

// ResourceRequest describes what a workload or instance needs from a node:
// cpu, memory, and the capabilities the node must possess.
type ResourceRequest struct {
	CPU          float64  `json:"cpu"`
	MemoryMB     int64    `json:"memory_mb"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Resources converts the request's cpu/memory demand to a Resources vector.
func (r ResourceRequest) Resources() Resources {
	return Resources{CPU: r.CPU, MemoryMB: r.MemoryMB}
}

// Health is the probe-tracking sub-record shared by nodes and instances.
type Health struct {
	Status              HealthState `json:"status"`
	LastCheck           time.Time   `json:"last_check"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
}

// Occupancy tracks how many assignments a node currently hosts. Queue holds
// the IDs of the assigned workloads and instances; Current is always equal
// to len(Queue) and never exceeds Max.
type Occupancy struct {
	Current int      `json:"current"`
	Max     int      `json:"max"`
	Queue   []string `json:"queue"`
}

// Consistent reports whether the occupancy invariant holds:
// Current == len(Queue) and 0 <= Current <= Max.
func (o Occupancy) Consistent() bool {
	return o.Current == len(o.Queue) && o.Current >= 0 && o.Current <= o.Max
}

// Node is a compute resource with fixed capacity that hosts service
// instances and workloads. The orchestrator owns all Node records; the
// Queue holds assignment IDs only, never object references.
type Node struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Type         NodeType   `json:"type"`
	Location     string     `json:"location,omitempty"`
	Addr         string     `json:"addr,omitempty"` // Probe address, if probed over the network
	Capabilities []string   `json:"capabilities,omitempty"`
	Capacity     Resources  `json:"capacity"`
	Allocated    Resources  `json:"allocated"`
	Status       NodeStatus `json:"status"`
	Health       Health     `json:"health"`
	Occupancy    Occupancy  `json:"occupancy"`
	RegisteredAt time.Time  `json:"registered_at"`

	// Seq is the registration sequence number, used as the final
	// deterministic tie-break in placement scoring.
	Seq int `json:"-"`
}

// Available returns the node's unallocated capacity.
func (n *Node) Available() Resources {
	return n.Capacity.Sub(n.Allocated)
}

// HasCapabilities reports whether the node possesses every required
// capability.
func (n *Node) HasCapabilities(required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range n.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the node, safe to hand to callers.
func (n *Node) Clone() *Node {
	c := *n
	c.Capabilities = append([]string(nil), n.Capabilities...)
	c.Occupancy.Queue = append([]string(nil), n.Occupancy.Queue...)
	return &c
}

// ScalingPolicy bounds how the autoscaler may resize a service.
type ScalingPolicy struct {
	MinInstances int     `json:"min_instances"`
	MaxInstances int     `json:"max_instances"`
	TargetCPU    float64 `json:"target_cpu"`
	TargetMemory float64 `json:"target_memory"`
}

// Service is a deployable unit with a scaling policy and zero or more
// running instances. The service exclusively owns its instance map.
type Service struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Version      string               `json:"version"`
	Footprint    Resources            `json:"footprint"` // Per-instance resource demand
	Capabilities []string             `json:"capabilities,omitempty"`
	Scaling      ScalingPolicy        `json:"scaling"`
	Instances    map[string]*Instance `json:"instances"`
	RegisteredAt time.Time            `json:"registered_at"`

	Seq int `json:"-"`
}

// AggregateHealth derives the service's health from its instances:
// healthy when every instance is healthy, degraded when some are, and
// unhealthy when none are (including the zero-instance case).
func (s *Service) AggregateHealth() ServiceHealth {
	healthy := 0
	for _, inst := range s.Instances {
		if inst.Health.Status == HealthHealthy {
			healthy++
		}
	}
	switch {
	case len(s.Instances) > 0 && healthy == len(s.Instances):
		return ServiceHealthy
	case healthy > 0:
		return ServiceDegraded
	default:
		return ServiceUnhealthy
	}
}

// Clone returns a deep copy of the service, including its instances.
func (s *Service) Clone() *Service {
	c := *s
	c.Capabilities = append([]string(nil), s.Capabilities...)
	c.Instances = make(map[string]*Instance, len(s.Instances))
	for id, inst := range s.Instances {
		c.Instances[id] = inst.Clone()
	}
	return &c
}

// Instance is one running copy of a service, bound to exactly one node
// while active. Footprint snapshots the service's per-instance demand at
// creation time so later service edits cannot skew release accounting.
type Instance struct {
	ID        string         `json:"id"`
	ServiceID string         `json:"service_id"`
	NodeID    string         `json:"node_id"`
	Status    InstanceStatus `json:"status"`
	Health    Health         `json:"health"`
	Footprint Resources      `json:"footprint"`
	CreatedAt time.Time      `json:"created_at"`
	StartedAt time.Time      `json:"started_at,omitzero"`
}

// Clone returns a copy of the instance.
func (i *Instance) Clone() *Instance {
	c := *i
	return &c
}

// Workload is a discrete unit of work submitted for placement and
// execution, independent of any service.
type Workload struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Priority   int             `json:"priority"`
	Request    ResourceRequest `json:"request"`
	Status     WorkloadStatus  `json:"status"`
	NodeID     string          `json:"node_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	AssignedAt time.Time       `json:"assigned_at,omitzero"`
	FinishedAt time.Time       `json:"finished_at,omitzero"`
	Result     string          `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Terminal reports whether the workload has reached a final state.
func (w *Workload) Terminal() bool {
	return w.Status == WorkloadCompleted || w.Status == WorkloadFailed
}

// Clone returns a copy of the workload.
func (w *Workload) Clone() *Workload {
	c := *w
	c.Request.Capabilities = append([]string(nil), w.Request.Capabilities...)
	return &c
}
