package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/flotilla/internal/fleet"
)

// TestRegisterNode verifies a valid registration initializes the health,
// occupancy, and breaker sub-records.
func TestRegisterNode(t *testing.T) {
	rig := newTestRig(t)

	id, err := rig.orch.RegisterNode(NodeSpec{
		Name:         "edge-7",
		Type:         fleet.NodeTypeEdge,
		Location:     "fra-1",
		Capabilities: []string{"gpu"},
		Capacity:     fleet.Resources{CPU: 2.0, MemoryMB: 2048},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	node, err := rig.orch.NodeInfo(id)
	require.NoError(t, err)
	assert.Equal(t, "edge-7", node.Name)
	assert.Equal(t, fleet.NodeRegistered, node.Status)
	assert.Equal(t, fleet.HealthUnknown, node.Health.Status)
	assert.Equal(t, 0, node.Health.ConsecutiveFailures)
	assert.Equal(t, 0, node.Occupancy.Current)
	assert.Equal(t, DefaultConfig().DefaultMaxAssignments, node.Occupancy.Max)
	assert.Equal(t, fleet.Resources{}, node.Allocated)
}

// TestRegisterNodeValidation verifies every rejection path returns a
// ValidationError and stores nothing.
func TestRegisterNodeValidation(t *testing.T) {
	rig := newTestRig(t)

	tests := []struct {
		name string
		spec NodeSpec
	}{
		{"missing name", NodeSpec{Type: fleet.NodeTypeCompute, Capacity: fleet.Resources{CPU: 1, MemoryMB: 1024}}},
		{"missing type", NodeSpec{Name: "n", Capacity: fleet.Resources{CPU: 1, MemoryMB: 1024}}},
		{"bad type enum", NodeSpec{Name: "n", Type: "mainframe", Capacity: fleet.Resources{CPU: 1, MemoryMB: 1024}}},
		{"zero cpu", NodeSpec{Name: "n", Type: fleet.NodeTypeCompute, Capacity: fleet.Resources{MemoryMB: 1024}}},
		{"zero memory", NodeSpec{Name: "n", Type: fleet.NodeTypeCompute, Capacity: fleet.Resources{CPU: 1}}},
		{"negative slots", NodeSpec{Name: "n", Type: fleet.NodeTypeCompute, Capacity: fleet.Resources{CPU: 1, MemoryMB: 1024}, MaxAssignments: -1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rig.orch.RegisterNode(tc.spec)
			assert.ErrorIs(t, err, fleet.ErrValidation)
		})
	}

	assert.Equal(t, 0, rig.orch.Metrics().TotalNodes)
}

// TestRegisterService verifies defaults and validation for services.
func TestRegisterService(t *testing.T) {
	rig := newTestRig(t)

	id, err := rig.orch.RegisterService(ServiceSpec{
		Name:      "api",
		Version:   "1.4.2",
		Footprint: fleet.Resources{CPU: 0.5, MemoryMB: 512},
	})
	require.NoError(t, err)

	info, err := rig.orch.ServiceInfo(id)
	require.NoError(t, err)
	assert.Equal(t, "api", info.Service.Name)
	assert.Empty(t, info.Service.Instances)
	// Unset scaling bounds default to 1..10
	assert.Equal(t, 1, info.Service.Scaling.MinInstances)
	assert.Equal(t, 10, info.Service.Scaling.MaxInstances)
	// A service with no instances is unhealthy by definition
	assert.Equal(t, fleet.ServiceUnhealthy, info.Health)
}

// TestRegisterServiceValidation covers the service rejection paths.
func TestRegisterServiceValidation(t *testing.T) {
	rig := newTestRig(t)

	tests := []struct {
		name string
		spec ServiceSpec
	}{
		{"missing name", ServiceSpec{Footprint: fleet.Resources{CPU: 1, MemoryMB: 128}}},
		{"zero cpu", ServiceSpec{Name: "s", Footprint: fleet.Resources{MemoryMB: 128}}},
		{"zero memory", ServiceSpec{Name: "s", Footprint: fleet.Resources{CPU: 1}}},
		{"negative min", ServiceSpec{
			Name:      "s",
			Footprint: fleet.Resources{CPU: 1, MemoryMB: 128},
			Scaling:   fleet.ScalingPolicy{MinInstances: -1, MaxInstances: 2},
		}},
		{"max below min", ServiceSpec{
			Name:      "s",
			Footprint: fleet.Resources{CPU: 1, MemoryMB: 128},
			Scaling:   fleet.ScalingPolicy{MinInstances: 3, MaxInstances: 2},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rig.orch.RegisterService(tc.spec)
			assert.ErrorIs(t, err, fleet.ErrValidation)
		})
	}
}

// TestLookupNotFound verifies every lookup returns NotFoundError for
// unknown IDs.
func TestLookupNotFound(t *testing.T) {
	rig := newTestRig(t)

	_, err := rig.orch.NodeInfo("nope")
	assert.ErrorIs(t, err, fleet.ErrNotFound)

	_, err = rig.orch.ServiceInfo("nope")
	assert.ErrorIs(t, err, fleet.ErrNotFound)

	_, err = rig.orch.WorkloadInfo("nope")
	assert.ErrorIs(t, err, fleet.ErrNotFound)
}

// TestRegistrationEvents verifies registrations publish on the bus.
func TestRegistrationEvents(t *testing.T) {
	rig := newTestRig(t)
	events, cancel := rig.orch.Events().Subscribe()
	defer cancel()

	nodeID, err := rig.orch.RegisterNode(computeNodeSpec("alpha"))
	require.NoError(t, err)

	e := <-events
	assert.Equal(t, EventNodeRegistered, e.Type)
	assert.Equal(t, nodeID, e.NodeID)
}
