package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/flotilla/internal/clock"
	"github.com/dreamware/flotilla/internal/fleet"
)

// Prober is the injected health-probe capability. The core never probes
// the network itself; the host supplies real probes and the monitor
// applies the timeout and failure-counting policy around them. A probe
// returns nil for healthy and an error (including context deadline
// exceeded) for unhealthy.
type Prober interface {
	ProbeNode(ctx context.Context, node *fleet.Node) error
	ProbeInstance(ctx context.Context, inst *fleet.Instance) error
}

// Executor is the injected execution capability. The core never launches
// processes or containers; the dispatcher invokes the executor on its own
// goroutine and treats the return as the asynchronous completion report.
// A context deadline bounds every invocation.
type Executor interface {
	// ExecuteWorkload runs the workload to completion and returns its
	// result, or an error if execution failed.
	ExecuteWorkload(ctx context.Context, w *fleet.Workload) (string, error)

	// DeployInstance brings a service instance up on its assigned node.
	DeployInstance(ctx context.Context, inst *fleet.Instance) error
}

// Config carries every tunable of the core. Zero values are replaced by
// the defaults below at construction.
type Config struct {
	// Health monitoring
	HealthCheckInterval      time.Duration `yaml:"health_check_interval"`
	ProbeTimeout             time.Duration `yaml:"probe_timeout"`
	NodeFailureThreshold     int           `yaml:"node_failure_threshold"`
	InstanceFailureThreshold int           `yaml:"instance_failure_threshold"`

	// Placement
	AssignmentReservation fleet.Resources `yaml:"assignment_reservation"`
	DefaultMaxAssignments int             `yaml:"default_max_assignments"`

	// Execution
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`

	// Autoscaling
	ScalingInterval    time.Duration `yaml:"scaling_interval"`
	ScaleUpThreshold   float64       `yaml:"scale_up_threshold"`
	ScaleDownThreshold float64       `yaml:"scale_down_threshold"`
	ScaleUpCooldown    time.Duration `yaml:"scale_up_cooldown"`
	ScaleDownCooldown  time.Duration `yaml:"scale_down_cooldown"`

	// Circuit breaker
	BreakerThreshold   int           `yaml:"breaker_threshold"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout"`

	// Terminal-workload retention
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	WorkloadRetention time.Duration `yaml:"workload_retention"`

	// Event bus buffer per subscriber
	EventBuffer int `yaml:"event_buffer"`
}

// DefaultConfig returns the configuration the core ships with. Every
// value is a tunable, not a contract.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval:      30 * time.Second,
		ProbeTimeout:             5 * time.Second,
		NodeFailureThreshold:     3,
		InstanceFailureThreshold: 3,
		AssignmentReservation:    fleet.Resources{CPU: 0.1, MemoryMB: 64},
		DefaultMaxAssignments:    10,
		ExecutionTimeout:         5 * time.Minute,
		ScalingInterval:          60 * time.Second,
		ScaleUpThreshold:         0.7,
		ScaleDownThreshold:       0.3,
		ScaleUpCooldown:          time.Minute,
		ScaleDownCooldown:        5 * time.Minute,
		BreakerThreshold:         5,
		BreakerOpenTimeout:       30 * time.Second,
		CleanupInterval:          time.Minute,
		WorkloadRetention:        time.Hour,
		EventBuffer:              64,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.NodeFailureThreshold <= 0 {
		c.NodeFailureThreshold = d.NodeFailureThreshold
	}
	if c.InstanceFailureThreshold <= 0 {
		c.InstanceFailureThreshold = d.InstanceFailureThreshold
	}
	if c.AssignmentReservation == (fleet.Resources{}) {
		c.AssignmentReservation = d.AssignmentReservation
	}
	if c.DefaultMaxAssignments <= 0 {
		c.DefaultMaxAssignments = d.DefaultMaxAssignments
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = d.ExecutionTimeout
	}
	if c.ScalingInterval <= 0 {
		c.ScalingInterval = d.ScalingInterval
	}
	if c.ScaleUpThreshold <= 0 {
		c.ScaleUpThreshold = d.ScaleUpThreshold
	}
	if c.ScaleDownThreshold <= 0 {
		c.ScaleDownThreshold = d.ScaleDownThreshold
	}
	if c.ScaleUpCooldown <= 0 {
		c.ScaleUpCooldown = d.ScaleUpCooldown
	}
	if c.ScaleDownCooldown <= 0 {
		c.ScaleDownCooldown = d.ScaleDownCooldown
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = d.BreakerThreshold
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = d.BreakerOpenTimeout
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.WorkloadRetention <= 0 {
		c.WorkloadRetention = d.WorkloadRetention
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
}

// UnmarshalYAML decodes the config with human-readable durations
// ("30s", "5m"), per time.ParseDuration. Fields absent from the YAML
// come out zero and pick up defaults at construction.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		HealthCheckInterval      string          `yaml:"health_check_interval"`
		ProbeTimeout             string          `yaml:"probe_timeout"`
		NodeFailureThreshold     int             `yaml:"node_failure_threshold"`
		InstanceFailureThreshold int             `yaml:"instance_failure_threshold"`
		AssignmentReservation    fleet.Resources `yaml:"assignment_reservation"`
		DefaultMaxAssignments    int             `yaml:"default_max_assignments"`
		ExecutionTimeout         string          `yaml:"execution_timeout"`
		ScalingInterval          string          `yaml:"scaling_interval"`
		ScaleUpThreshold         float64         `yaml:"scale_up_threshold"`
		ScaleDownThreshold       float64         `yaml:"scale_down_threshold"`
		ScaleUpCooldown          string          `yaml:"scale_up_cooldown"`
		ScaleDownCooldown        string          `yaml:"scale_down_cooldown"`
		BreakerThreshold         int             `yaml:"breaker_threshold"`
		BreakerOpenTimeout       string          `yaml:"breaker_open_timeout"`
		CleanupInterval          string          `yaml:"cleanup_interval"`
		WorkloadRetention        string          `yaml:"workload_retention"`
		EventBuffer              int             `yaml:"event_buffer"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	*c = Config{
		NodeFailureThreshold:     raw.NodeFailureThreshold,
		InstanceFailureThreshold: raw.InstanceFailureThreshold,
		AssignmentReservation:    raw.AssignmentReservation,
		DefaultMaxAssignments:    raw.DefaultMaxAssignments,
		ScaleUpThreshold:         raw.ScaleUpThreshold,
		ScaleDownThreshold:       raw.ScaleDownThreshold,
		BreakerThreshold:         raw.BreakerThreshold,
		EventBuffer:              raw.EventBuffer,
	}
	for _, f := range []struct {
		name string
		val  string
		dst  *time.Duration
	}{
		{"health_check_interval", raw.HealthCheckInterval, &c.HealthCheckInterval},
		{"probe_timeout", raw.ProbeTimeout, &c.ProbeTimeout},
		{"execution_timeout", raw.ExecutionTimeout, &c.ExecutionTimeout},
		{"scaling_interval", raw.ScalingInterval, &c.ScalingInterval},
		{"scale_up_cooldown", raw.ScaleUpCooldown, &c.ScaleUpCooldown},
		{"scale_down_cooldown", raw.ScaleDownCooldown, &c.ScaleDownCooldown},
		{"breaker_open_timeout", raw.BreakerOpenTimeout, &c.BreakerOpenTimeout},
		{"cleanup_interval", raw.CleanupInterval, &c.CleanupInterval},
		{"workload_retention", raw.WorkloadRetention, &c.WorkloadRetention},
	} {
		if f.val == "" {
			continue
		}
		d, err := time.ParseDuration(f.val)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

// Orchestrator is the fleet orchestration core. It exclusively owns all
// Node, Service, and Workload records; cross-entity references are ID
// strings resolved through its maps. One mutex serializes every
// occupancy-affecting read-then-write (see the package documentation for
// the full concurrency model).
type Orchestrator struct {
	cfg      Config
	clk      clock.Clock
	prober   Prober
	executor Executor
	bus      *Bus

	monitor *HealthMonitor
	scaler  *AutoScaler

	mu           sync.RWMutex
	nodes        map[string]*fleet.Node
	nodeOrder    []string // Node IDs in registration order
	services     map[string]*fleet.Service
	serviceOrder []string // Service IDs in registration order
	workloads    map[string]*fleet.Workload
	instanceOwn  map[string]string // instance ID -> owning service ID
	breakers     map[string]*CircuitBreaker
	episodeOpen  map[string]bool // node ID -> failover already fired this episode
	nextSeq      int

	scalingEvents  int64
	failoverEvents int64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs an orchestrator with the given configuration and
// injected collaborators. The clock defaults to the real one; tests
// override it with SetClock before Start.
func New(cfg Config, prober Prober, executor Executor) *Orchestrator {
	cfg.applyDefaults()
	o := &Orchestrator{
		cfg:         cfg,
		clk:         clock.Real(),
		prober:      prober,
		executor:    executor,
		bus:         NewBus(cfg.EventBuffer),
		nodes:       make(map[string]*fleet.Node),
		services:    make(map[string]*fleet.Service),
		workloads:   make(map[string]*fleet.Workload),
		instanceOwn: make(map[string]string),
		breakers:    make(map[string]*CircuitBreaker),
		episodeOpen: make(map[string]bool),
		stopCh:      make(chan struct{}),
	}
	o.monitor = newHealthMonitor(o)
	o.scaler = newAutoScaler(o)
	return o
}

// SetClock overrides the orchestrator's clock. For tests; call before
// Start.
func (o *Orchestrator) SetClock(c clock.Clock) {
	o.clk = c
}

// Events returns the orchestrator's event bus.
func (o *Orchestrator) Events() *Bus { return o.bus }

// Start launches the health-check, scaling, and cleanup tick loops. Each
// loop fires independently and never overlaps with itself. Start returns
// immediately; Stop (or ctx cancellation) shuts the loops down.
func (o *Orchestrator) Start(ctx context.Context) {
	o.wg.Add(3)

	go func() {
		defer o.wg.Done()
		t := o.clk.NewTicker(o.cfg.HealthCheckInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				o.monitor.CheckOnce(ctx)
			case <-ctx.Done():
				return
			case <-o.stopCh:
				return
			}
		}
	}()

	go func() {
		defer o.wg.Done()
		t := o.clk.NewTicker(o.cfg.ScalingInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				o.scaler.RunOnce()
			case <-ctx.Done():
				return
			case <-o.stopCh:
				return
			}
		}
	}()

	go func() {
		defer o.wg.Done()
		t := o.clk.NewTicker(o.cfg.CleanupInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				o.CleanupOnce()
			case <-ctx.Done():
				return
			case <-o.stopCh:
				return
			}
		}
	}()

	log.Printf("[orchestrator] started (health every %v, scaling every %v)",
		o.cfg.HealthCheckInterval, o.cfg.ScalingInterval)
}

// CheckOnce runs one health-check pass outside the ticker, for hosts
// and tests that drive ticks themselves.
func (o *Orchestrator) CheckOnce(ctx context.Context) {
	o.monitor.CheckOnce(ctx)
}

// ScaleOnce runs one scaling evaluation outside the ticker.
func (o *Orchestrator) ScaleOnce() {
	o.scaler.RunOnce()
}

// Stop shuts down the tick loops and waits for them to exit. In-flight
// executor invocations are not interrupted; their completions still
// land safely because terminal workloads ignore further transitions.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.wg.Wait()
	log.Printf("[orchestrator] stopped")
}

// Metrics is the aggregate counter snapshot exposed to callers.
type Metrics struct {
	TotalNodes         int     `json:"total_nodes"`
	ActiveNodes        int     `json:"active_nodes"`
	FailedNodes        int     `json:"failed_nodes"`
	TotalServices      int     `json:"total_services"`
	TotalInstances     int     `json:"total_instances"`
	TotalWorkloads     int     `json:"total_workloads"`
	PendingWorkloads   int     `json:"pending_workloads"`
	AssignedWorkloads  int     `json:"assigned_workloads"`
	CompletedWorkloads int     `json:"completed_workloads"`
	FailedWorkloads    int     `json:"failed_workloads"`
	CPUUtilization     float64 `json:"cpu_utilization"`
	MemoryUtilization  float64 `json:"memory_utilization"`
	ScalingEvents      int64   `json:"scaling_events"`
	FailoverEvents     int64   `json:"failover_events"`
}

// ServiceStatus pairs a service snapshot with its derived aggregate
// health.
type ServiceStatus struct {
	Service *fleet.Service      `json:"service"`
	Health  fleet.ServiceHealth `json:"health"`
}

// ClusterStatus is a read-only, mutually consistent snapshot of the
// whole cluster.
type ClusterStatus struct {
	Nodes    []*fleet.Node    `json:"nodes"`
	Services []*ServiceStatus `json:"services"`
	Metrics  Metrics          `json:"metrics"`
}

// Status returns a consistent snapshot of all nodes, services, and
// metrics, in registration order.
func (o *Orchestrator) Status() *ClusterStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	status := &ClusterStatus{
		Nodes:    make([]*fleet.Node, 0, len(o.nodes)),
		Services: make([]*ServiceStatus, 0, len(o.services)),
		Metrics:  o.metricsLocked(),
	}
	for _, id := range o.nodeOrder {
		status.Nodes = append(status.Nodes, o.nodes[id].Clone())
	}
	for _, id := range o.serviceOrder {
		svc := o.services[id]
		status.Services = append(status.Services, &ServiceStatus{
			Service: svc.Clone(),
			Health:  svc.AggregateHealth(),
		})
	}
	return status
}

// Metrics returns the current aggregate counters.
func (o *Orchestrator) Metrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.metricsLocked()
}

func (o *Orchestrator) metricsLocked() Metrics {
	m := Metrics{
		TotalNodes:     len(o.nodes),
		TotalServices:  len(o.services),
		TotalWorkloads: len(o.workloads),
		ScalingEvents:  o.scalingEvents,
		FailoverEvents: o.failoverEvents,
	}

	var used, capacity fleet.Resources
	for _, node := range o.nodes {
		switch node.Status {
		case fleet.NodeFailed:
			m.FailedNodes++
		case fleet.NodeActive:
			m.ActiveNodes++
		}
		if node.Status != fleet.NodeFailed {
			used = used.Add(node.Allocated)
			capacity = capacity.Add(node.Capacity)
		}
	}
	m.CPUUtilization = fleet.CPUUtilization(used, capacity)
	m.MemoryUtilization = fleet.MemoryUtilization(used, capacity)

	for _, svc := range o.services {
		m.TotalInstances += len(svc.Instances)
	}
	for _, w := range o.workloads {
		switch w.Status {
		case fleet.WorkloadPending:
			m.PendingWorkloads++
		case fleet.WorkloadAssigned:
			m.AssignedWorkloads++
		case fleet.WorkloadCompleted:
			m.CompletedWorkloads++
		case fleet.WorkloadFailed:
			m.FailedWorkloads++
		}
	}
	return m
}

// assignLocked books assignment id onto node: occupancy slot, queue
// entry, and resource allocation. Caller holds o.mu.
func (o *Orchestrator) assignLocked(node *fleet.Node, id string, res fleet.Resources) {
	node.Occupancy.Queue = append(node.Occupancy.Queue, id)
	node.Occupancy.Current++
	node.Allocated = node.Allocated.Add(res)
}

// releaseLocked undoes assignLocked. Releasing an id that is not queued
// on the node is a no-op, which makes release idempotent across the
// migration and completion paths. Caller holds o.mu.
func (o *Orchestrator) releaseLocked(node *fleet.Node, id string, res fleet.Resources) {
	idx := slices.Index(node.Occupancy.Queue, id)
	if idx < 0 {
		return
	}
	node.Occupancy.Queue = slices.Delete(node.Occupancy.Queue, idx, idx+1)
	node.Occupancy.Current--
	node.Allocated = node.Allocated.Sub(res)
}

// publish emits an event stamped with the orchestrator's clock.
func (o *Orchestrator) publish(e Event) {
	e.Time = o.clk.Now()
	o.bus.Publish(e)
}
