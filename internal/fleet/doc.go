// Package fleet defines the data model shared by every component of the
// Flotilla orchestration core: nodes, services, service instances, and
// workloads, together with the resource arithmetic, status enums, and error
// taxonomy that the orchestrator operates on.
//
// # Overview
//
// The fleet package is deliberately passive. It holds record types and pure
// functions over them; all mutation, locking, and lifecycle logic lives in
// the orchestrator package. Cross-entity references are always ID strings
// resolved through the orchestrator's owning maps, never object pointers,
// so no record in this package can form an ownership cycle.
//
// # Core Types
//
// Node: a compute resource with fixed capacity that hosts instances and
// workloads. Tracks capacity, allocation, health, and an assignment queue
// of IDs.
//
// Service: a deployable unit with a per-instance resource footprint and a
// scaling policy. Owns its instances exclusively.
//
// Instance: one running copy of a service, bound to exactly one node while
// active.
//
// Workload: a discrete unit of work submitted for placement and execution.
// Terminal once completed or failed.
//
// Resources: the cpu/memory/storage/network capacity vector, with helpers
// for fits-within and utilization calculations.
//
// # Snapshots
//
// Every record type has a corresponding snapshot form returned by the
// orchestrator's read operations. Snapshots are deep copies: callers can
// hold or mutate them freely without racing the orchestrator's state.
//
// # Errors
//
// The package defines the full error taxonomy of the core:
//
//   - ValidationError: a registration or request carried missing or invalid
//     fields. Never retried.
//   - NotFoundError: an ID did not resolve to a live record.
//   - NoSuitableNodeError: placement filtering eliminated every candidate.
//     Expected under load; distribution captures it as workload state rather
//     than returning it.
//
// All three unwrap to sentinel values (ErrValidation, ErrNotFound,
// ErrNoSuitableNode) so callers can classify with errors.Is.
package fleet
