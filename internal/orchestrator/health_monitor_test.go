package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/flotilla/internal/fleet"
)

var errProbeDown = errors.New("connection refused")

// TestNodeActivatesOnFirstHealthyProbe verifies a registered node turns
// active once its first probe succeeds.
func TestNodeActivatesOnFirstHealthyProbe(t *testing.T) {
	rig := newTestRig(t)
	id, err := rig.orch.RegisterNode(computeNodeSpec("alpha"))
	require.NoError(t, err)

	rig.orch.monitor.CheckOnce(context.Background())

	node, err := rig.orch.NodeInfo(id)
	require.NoError(t, err)
	assert.Equal(t, fleet.NodeActive, node.Status)
	assert.Equal(t, fleet.HealthHealthy, node.Health.Status)
	assert.False(t, node.Health.LastCheck.IsZero())
}

// TestNodeFailureThreshold verifies the node state machine: failures
// below the threshold leave the node unfailed, the third failure marks
// it failed, and failover fires exactly once for the episode no matter
// how many failing ticks follow.
func TestNodeFailureThreshold(t *testing.T) {
	rig := newTestRig(t)
	id := rig.addNode(t, computeNodeSpec("alpha"))
	rig.prober.setNodeErr(id, errProbeDown)

	ctx := context.Background()

	rig.orch.monitor.CheckOnce(ctx)
	rig.orch.monitor.CheckOnce(ctx)
	node, _ := rig.orch.NodeInfo(id)
	assert.Equal(t, fleet.NodeActive, node.Status, "below threshold must not fail the node")
	assert.Equal(t, fleet.HealthUnhealthy, node.Health.Status)
	assert.Equal(t, 2, node.Health.ConsecutiveFailures)

	rig.orch.monitor.CheckOnce(ctx)
	node, _ = rig.orch.NodeInfo(id)
	assert.Equal(t, fleet.NodeFailed, node.Status)
	assert.Equal(t, int64(1), rig.orch.Metrics().FailoverEvents)

	// Still-failing ticks must not re-trigger failover
	rig.orch.monitor.CheckOnce(ctx)
	rig.orch.monitor.CheckOnce(ctx)
	assert.Equal(t, int64(1), rig.orch.Metrics().FailoverEvents)
}

// TestNodeRecoveryResetsEpisode verifies a healthy probe reactivates a
// failed node and arms failover for a fresh episode.
func TestNodeRecoveryResetsEpisode(t *testing.T) {
	rig := newTestRig(t)
	id := rig.addNode(t, computeNodeSpec("alpha"))
	ctx := context.Background()

	rig.prober.setNodeErr(id, errProbeDown)
	for i := 0; i < 3; i++ {
		rig.orch.monitor.CheckOnce(ctx)
	}
	require.Equal(t, int64(1), rig.orch.Metrics().FailoverEvents)

	// Recovery
	rig.prober.setNodeErr(id, nil)
	rig.orch.monitor.CheckOnce(ctx)
	node, _ := rig.orch.NodeInfo(id)
	assert.Equal(t, fleet.NodeActive, node.Status)
	assert.Equal(t, 0, node.Health.ConsecutiveFailures)

	// A second failure episode triggers failover again
	rig.prober.setNodeErr(id, errProbeDown)
	for i := 0; i < 3; i++ {
		rig.orch.monitor.CheckOnce(ctx)
	}
	assert.Equal(t, int64(2), rig.orch.Metrics().FailoverEvents)
}

// TestProbeTimeoutCountsAsFailure verifies a probe that blocks past the
// timeout is a failure for the state machine.
func TestProbeTimeoutCountsAsFailure(t *testing.T) {
	rig := newTestRig(t, func(c *Config) {
		c.ProbeTimeout = 20 * time.Millisecond
	})
	id := rig.addNode(t, computeNodeSpec("alpha"))
	rig.prober.blockCtx = true

	rig.orch.monitor.CheckOnce(context.Background())

	node, _ := rig.orch.NodeInfo(id)
	assert.Equal(t, fleet.HealthUnhealthy, node.Health.Status)
	assert.Equal(t, 1, node.Health.ConsecutiveFailures)
}

// TestInstanceFailureRemovesInstance verifies the instance-granularity
// pattern: three consecutive probe failures remove the instance from its
// service and release its slot and capacity, rather than migrating it.
func TestInstanceFailureRemovesInstance(t *testing.T) {
	rig := newTestRig(t)
	rig.exec.release()
	nodeID := rig.addNode(t, computeNodeSpec("alpha"))
	svcID, err := rig.orch.RegisterService(ServiceSpec{
		Name:      "api",
		Footprint: fleet.Resources{CPU: 0.5, MemoryMB: 512},
	})
	require.NoError(t, err)

	instID, err := rig.orch.DeployServiceInstance(svcID, nodeID)
	require.NoError(t, err)

	// Wait for the deploy to finish so the instance is running (and
	// therefore probed).
	require.Eventually(t, func() bool {
		info, err := rig.orch.ServiceInfo(svcID)
		return err == nil && info.Service.Instances[instID] != nil &&
			info.Service.Instances[instID].Status == fleet.InstanceRunning
	}, time.Second, 5*time.Millisecond)

	rig.prober.setInstanceErr(instID, errProbeDown)
	ctx := context.Background()

	rig.orch.monitor.CheckOnce(ctx)
	rig.orch.monitor.CheckOnce(ctx)
	info, _ := rig.orch.ServiceInfo(svcID)
	require.Contains(t, info.Service.Instances, instID, "below threshold must not remove")
	assert.Equal(t, fleet.HealthUnhealthy, info.Service.Instances[instID].Health.Status)

	rig.orch.monitor.CheckOnce(ctx)
	info, _ = rig.orch.ServiceInfo(svcID)
	assert.NotContains(t, info.Service.Instances, instID)

	node, _ := rig.orch.NodeInfo(nodeID)
	assert.Equal(t, 0, node.Occupancy.Current)
	assert.Equal(t, fleet.Resources{}, node.Allocated)
	requireInvariants(t, rig.orch)
}

// TestInstanceRecoveryResetsCount verifies a healthy probe clears the
// instance failure count.
func TestInstanceRecoveryResetsCount(t *testing.T) {
	rig := newTestRig(t)
	rig.exec.release()
	nodeID := rig.addNode(t, computeNodeSpec("alpha"))
	svcID, err := rig.orch.RegisterService(ServiceSpec{
		Name:      "api",
		Footprint: fleet.Resources{CPU: 0.5, MemoryMB: 512},
	})
	require.NoError(t, err)
	instID, err := rig.orch.DeployServiceInstance(svcID, nodeID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		info, err := rig.orch.ServiceInfo(svcID)
		return err == nil && info.Service.Instances[instID] != nil &&
			info.Service.Instances[instID].Status == fleet.InstanceRunning
	}, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	rig.prober.setInstanceErr(instID, errProbeDown)
	rig.orch.monitor.CheckOnce(ctx)
	rig.orch.monitor.CheckOnce(ctx)

	rig.prober.setInstanceErr(instID, nil)
	rig.orch.monitor.CheckOnce(ctx)

	info, _ := rig.orch.ServiceInfo(svcID)
	require.Contains(t, info.Service.Instances, instID)
	assert.Equal(t, 0, info.Service.Instances[instID].Health.ConsecutiveFailures)
	assert.Equal(t, fleet.HealthHealthy, info.Service.Instances[instID].Health.Status)

	// Two more failures must not remove it: the count restarted
	rig.prober.setInstanceErr(instID, errProbeDown)
	rig.orch.monitor.CheckOnce(ctx)
	rig.orch.monitor.CheckOnce(ctx)
	info, _ = rig.orch.ServiceInfo(svcID)
	assert.Contains(t, info.Service.Instances, instID)
}

// TestAggregateServiceHealth verifies the service health derivation as
// instance health shifts.
func TestAggregateServiceHealth(t *testing.T) {
	rig := newTestRig(t)
	rig.exec.release()
	nodeID := rig.addNode(t, computeNodeSpec("alpha"))
	svcID, err := rig.orch.RegisterService(ServiceSpec{
		Name:      "api",
		Footprint: fleet.Resources{CPU: 0.5, MemoryMB: 512},
	})
	require.NoError(t, err)

	inst1, err := rig.orch.DeployServiceInstance(svcID, nodeID)
	require.NoError(t, err)
	inst2, err := rig.orch.DeployServiceInstance(svcID, nodeID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		info, err := rig.orch.ServiceInfo(svcID)
		return err == nil && info.Health == fleet.ServiceHealthy
	}, time.Second, 5*time.Millisecond)

	// One unhealthy instance degrades the service
	rig.prober.setInstanceErr(inst1, errProbeDown)
	rig.orch.monitor.CheckOnce(context.Background())
	info, _ := rig.orch.ServiceInfo(svcID)
	assert.Equal(t, fleet.ServiceDegraded, info.Health)

	// Both unhealthy: service unhealthy
	rig.prober.setInstanceErr(inst2, errProbeDown)
	rig.orch.monitor.CheckOnce(context.Background())
	info, _ = rig.orch.ServiceInfo(svcID)
	assert.Equal(t, fleet.ServiceUnhealthy, info.Health)
}
