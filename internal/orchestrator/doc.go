// Package orchestrator implements the fleet orchestration core: node and
// service registration, periodic health assessment, workload and instance
// placement, failure-driven migration, and a hysteresis-bounded autoscaling
// loop.
//
// # Overview
//
// The package is built around a single Orchestrator value that owns every
// Node, Service, and Workload record exclusively. Collaborating systems
// inject the capabilities the core deliberately does not implement — a
// health prober and a workload/instance executor — and observe state
// transitions through the event bus and the snapshot read operations.
//
// # Architecture
//
//	                ┌──────────────────────────────┐
//	 registrations →│          Orchestrator        │
//	 workloads     →│                              │
//	                │  registry   scheduler        │
//	                │  dispatcher failover         │→ events
//	                │  breakers   metrics          │→ snapshots
//	                └───────┬──────────────┬───────┘
//	                        │              │
//	                ┌───────▼─────┐ ┌──────▼──────┐
//	                │HealthMonitor│ │ AutoScaler  │
//	                │ (probe tick)│ │(scale tick) │
//	                └─────────────┘ └─────────────┘
//
// # Concurrency Model
//
// All occupancy-affecting reads-then-writes (placement, assignment,
// migration, scale operations) execute under the Orchestrator's single
// mutex, because every placement decision is a read-check-then-write
// sequence over node spare capacity. Health probes run in parallel across
// nodes — each probe is independent and may block up to its timeout — but
// every resulting state mutation re-enters the mutex. Executor completions
// arrive on their own goroutines and likewise re-enter the mutex before
// touching counts. A timed-out probe counts as a failure; a timed-out
// execution fails the workload. Once a workload is terminal, later
// completion or cancellation reports are no-ops.
//
// # Failure Handling
//
// A node that fails its probe threshold-many times in a row is marked
// failed and handed to failover exactly once per failure episode; the
// episode flag clears only when the node probes healthy again. Failover
// migrates each assignment independently: a workload that cannot be placed
// elsewhere ends failed, an instance that cannot be placed elsewhere is
// removed from its service. Nothing is silently lost.
//
// Instance-level probe failures are treated as replaceable rather than
// migratable: past the threshold the instance is simply removed and its
// capacity released. The autoscaler restores count when policy requires.
package orchestrator
