package manager

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/routed-project/routed/internal/bgp"
	"github.com/routed-project/routed/internal/errs"
	"github.com/routed-project/routed/internal/metrics"
)

func newBareManager() *Manager {
	return &Manager{metrics: metrics.New(), tasks: make(map[uuid.UUID]string)}
}

func TestStartProtocolRejectsUnconfiguredEngine(t *testing.T) {
	m := newBareManager()
	_, err := m.StartProtocol(context.Background(), "ospf")
	require.Error(t, err)
	require.Equal(t, errs.Config, err.(*errs.Error).Kind)
}

func TestStartProtocolRejectsUnknownName(t *testing.T) {
	m := newBareManager()
	_, err := m.StartProtocol(context.Background(), "rip")
	require.Error(t, err)
}

func TestStopProtocolIsNoOpWhenUnconfigured(t *testing.T) {
	m := newBareManager()
	_, err := m.StopProtocol("ospf")
	require.NoError(t, err)
}

func TestAddBGPPeerRejectsWhenBGPNotConfigured(t *testing.T) {
	m := newBareManager()
	_, err := m.AddBGPPeer(context.Background(), "192.0.2.1", 65001, false)
	require.Error(t, err)
}

func TestAddBGPPeerRejectsInvalidAddress(t *testing.T) {
	m := newBareManager()
	// A non-nil speaker gets past the "bgp is not configured" check, so the
	// error below comes from parsing the address.
	m.bgp = &bgp.Speaker{}
	_, err := m.AddBGPPeer(context.Background(), "not-an-ip", 65001, false)
	require.Error(t, err)
	require.Equal(t, errs.Config, err.(*errs.Error).Kind)
}

func TestRedistributePrefixRejectsUnknownTarget(t *testing.T) {
	m := newBareManager()
	_, err := m.RedistributePrefix("10.0.0.0/24", "10.0.0.1", "rip", 10)
	require.Error(t, err)
}

func TestRedistributePrefixRejectsMalformedPrefix(t *testing.T) {
	m := newBareManager()
	_, err := m.RedistributePrefix("not-a-prefix", "10.0.0.1", "ospf", 10)
	require.Error(t, err)
}

func TestNewTaskAssignsUniqueHandles(t *testing.T) {
	m := newBareManager()
	a := m.newTask("start:ospf")
	b := m.newTask("start:isis")
	require.NotEqual(t, a, b)
	require.Equal(t, "start:ospf", m.tasks[a])
}
