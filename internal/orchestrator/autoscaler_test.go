package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/flotilla/internal/fleet"
)

// scalerService registers a service with a small footprint so scale-up
// placements always fit beside the utilization-driving workload.
func scalerService(t *testing.T, rig *testRig, name string, scaling fleet.ScalingPolicy) string {
	t.Helper()
	id, err := rig.orch.RegisterService(ServiceSpec{
		Name:      name,
		Footprint: fleet.Resources{CPU: 0.3, MemoryMB: 256},
		Scaling:   scaling,
	})
	require.NoError(t, err)
	return id
}

// driveUtilization dispatches a gated workload sized to hold fleet
// utilization at cpu/4.0 on a single compute node.
func driveUtilization(t *testing.T, rig *testRig, cpu float64) {
	t.Helper()
	res, err := rig.orch.DistributeWorkload(WorkloadSpec{
		Type:    "load",
		Request: fleet.ResourceRequest{CPU: cpu, MemoryMB: 1024},
	})
	require.NoError(t, err)
	require.Equal(t, fleet.WorkloadAssigned, res.Status)
}

func instanceCount(t *testing.T, rig *testRig, svcID string) int {
	t.Helper()
	info, err := rig.orch.ServiceInfo(svcID)
	require.NoError(t, err)
	return len(info.Service.Instances)
}

// TestScaleUp is Scenario D: utilization above the threshold grows every
// service below its maximum by exactly one instance, and an immediate
// re-tick is blocked by the cooldown.
func TestScaleUp(t *testing.T) {
	rig := newTestRig(t)
	rig.addNode(t, computeNodeSpec("alpha"))
	svcA := scalerService(t, rig, "api", fleet.ScalingPolicy{})
	svcB := scalerService(t, rig, "worker", fleet.ScalingPolicy{})

	driveUtilization(t, rig, 3.0) // 75% cpu, above the 0.7 threshold

	events, cancel := rig.orch.Events().Subscribe()
	defer cancel()

	rig.orch.scaler.RunOnce()

	assert.Equal(t, 1, instanceCount(t, rig, svcA))
	assert.Equal(t, 1, instanceCount(t, rig, svcB))
	assert.Equal(t, int64(1), rig.orch.Metrics().ScalingEvents)

	seen := 0
	for seen < 2 {
		e := <-events
		if e.Type == EventScaleUp {
			seen++
		}
	}

	// Re-ticking inside the cooldown window is a no-op
	rig.orch.scaler.RunOnce()
	assert.Equal(t, 1, instanceCount(t, rig, svcA))
	assert.Equal(t, 1, instanceCount(t, rig, svcB))
	assert.Equal(t, int64(1), rig.orch.Metrics().ScalingEvents)
	requireInvariants(t, rig.orch)
}

// TestScaleUpCooldownExpiry verifies the cooldown is a delay, not a
// latch: once it elapses a still-hot fleet scales again.
func TestScaleUpCooldownExpiry(t *testing.T) {
	rig := newTestRig(t)
	rig.addNode(t, computeNodeSpec("alpha"))
	svcID := scalerService(t, rig, "api", fleet.ScalingPolicy{})

	driveUtilization(t, rig, 3.0)

	rig.orch.scaler.RunOnce()
	require.Equal(t, 1, instanceCount(t, rig, svcID))

	rig.clk.Advance(61 * time.Second)
	rig.orch.scaler.RunOnce()
	assert.Equal(t, 2, instanceCount(t, rig, svcID))
	assert.Equal(t, int64(2), rig.orch.Metrics().ScalingEvents)
}

// TestScaleUpSkipsServicesAtMax verifies a service at its configured
// maximum is left alone while others still grow.
func TestScaleUpSkipsServicesAtMax(t *testing.T) {
	rig := newTestRig(t)
	nodeID := rig.addNode(t, computeNodeSpec("alpha"))
	svcA := scalerService(t, rig, "api", fleet.ScalingPolicy{})
	svcB := scalerService(t, rig, "capped", fleet.ScalingPolicy{MinInstances: 1, MaxInstances: 1})

	_, err := rig.orch.DeployServiceInstance(svcB, nodeID)
	require.NoError(t, err)

	driveUtilization(t, rig, 3.0)
	rig.orch.scaler.RunOnce()

	assert.Equal(t, 1, instanceCount(t, rig, svcA))
	assert.Equal(t, 1, instanceCount(t, rig, svcB), "capped service must not grow")
}

// TestScaleDownRemovesOldest verifies the least-recently-started
// instance is the one removed, and services at their minimum are left
// alone.
func TestScaleDownRemovesOldest(t *testing.T) {
	rig := newTestRig(t)
	rig.exec.release()
	nodeID := rig.addNode(t, computeNodeSpec("alpha"))
	svcID := scalerService(t, rig, "api", fleet.ScalingPolicy{MinInstances: 1, MaxInstances: 10})
	floor := scalerService(t, rig, "floor", fleet.ScalingPolicy{MinInstances: 1, MaxInstances: 10})

	running := func(svcID, instID string) func() bool {
		return func() bool {
			info, err := rig.orch.ServiceInfo(svcID)
			return err == nil && info.Service.Instances[instID] != nil &&
				info.Service.Instances[instID].Status == fleet.InstanceRunning
		}
	}

	oldest, err := rig.orch.DeployServiceInstance(svcID, nodeID)
	require.NoError(t, err)
	require.Eventually(t, running(svcID, oldest), time.Second, 5*time.Millisecond)

	rig.clk.Advance(time.Minute) // Distinct start times
	newest, err := rig.orch.DeployServiceInstance(svcID, nodeID)
	require.NoError(t, err)
	require.Eventually(t, running(svcID, newest), time.Second, 5*time.Millisecond)

	floorInst, err := rig.orch.DeployServiceInstance(floor, nodeID)
	require.NoError(t, err)
	require.Eventually(t, running(floor, floorInst), time.Second, 5*time.Millisecond)

	// Three 0.3-core instances on a 4-core node: utilization well under
	// the 0.3 scale-down threshold.
	rig.orch.scaler.RunOnce()

	info, err := rig.orch.ServiceInfo(svcID)
	require.NoError(t, err)
	assert.NotContains(t, info.Service.Instances, oldest)
	assert.Contains(t, info.Service.Instances, newest)
	assert.Equal(t, 1, instanceCount(t, rig, floor), "service at minimum must not shrink")
	assert.Equal(t, int64(1), rig.orch.Metrics().ScalingEvents)

	// Capacity for the removed instance is back
	node, err := rig.orch.NodeInfo(nodeID)
	require.NoError(t, err)
	assert.Equal(t, 2, node.Occupancy.Current)
	assert.InDelta(t, 0.6, node.Allocated.CPU, 1e-9)
	requireInvariants(t, rig.orch)
}

// TestHysteresisBand verifies utilization between the two thresholds
// takes no action in either direction.
func TestHysteresisBand(t *testing.T) {
	rig := newTestRig(t)
	rig.addNode(t, computeNodeSpec("alpha"))
	svcID := scalerService(t, rig, "api", fleet.ScalingPolicy{})

	driveUtilization(t, rig, 2.0) // 50%: inside the 0.3..0.7 band

	rig.orch.scaler.RunOnce()
	assert.Equal(t, 0, instanceCount(t, rig, svcID))
	assert.Equal(t, int64(0), rig.orch.Metrics().ScalingEvents)
}

// TestAggregateUtilizationExcludesFailedNodes verifies a failed node's
// capacity does not dilute the utilization signal.
func TestAggregateUtilizationExcludesFailedNodes(t *testing.T) {
	rig := newTestRig(t)
	rig.addNode(t, computeNodeSpec("alpha"))
	ghost := rig.addNode(t, computeNodeSpec("ghost"))
	svcID := scalerService(t, rig, "api", fleet.ScalingPolicy{})

	driveUtilization(t, rig, 3.0) // Lands on alpha, the first-registered node

	// With both nodes counted, utilization is 3/8 and no scaling fires
	rig.orch.scaler.RunOnce()
	require.Equal(t, 0, instanceCount(t, rig, svcID))

	// Failing ghost shrinks the denominator to alpha alone: 3/4
	failNode(rig, ghost)
	rig.orch.scaler.RunOnce()
	assert.Equal(t, 1, instanceCount(t, rig, svcID))
}

// TestScalerSingleFlight verifies the in-progress guard: a tick that
// overlaps a running tick returns without evaluating.
func TestScalerSingleFlight(t *testing.T) {
	rig := newTestRig(t)
	rig.addNode(t, computeNodeSpec("alpha"))
	svcID := scalerService(t, rig, "api", fleet.ScalingPolicy{})
	driveUtilization(t, rig, 3.0)

	rig.orch.scaler.inProgress.Store(true)
	rig.orch.scaler.RunOnce()
	assert.Equal(t, 0, instanceCount(t, rig, svcID), "guarded tick must not act")

	rig.orch.scaler.inProgress.Store(false)
	rig.orch.scaler.RunOnce()
	assert.Equal(t, 1, instanceCount(t, rig, svcID))
}
