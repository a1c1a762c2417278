package manager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/routed-project/routed/internal/metrics"
)

func TestStatusReportsUnconfiguredProtocolsAsNotConfigured(t *testing.T) {
	m := &Manager{metrics: metrics.New()}
	st := m.Status()
	require.False(t, st.OSPF.Configured)
	require.False(t, st.ISIS.Configured)
	require.False(t, st.BGP.Configured)
	require.Empty(t, st.Interfaces)
}

func TestObservationCallsAreNilSafeWithoutEngines(t *testing.T) {
	m := &Manager{metrics: metrics.New()}
	require.Nil(t, m.OSPFNeighbors())
	require.Nil(t, m.OSPFLSDB())
	require.Nil(t, m.OSPFRoutes())
	require.Nil(t, m.ISISAdjacencies())
	l1, l2 := m.ISISLSDB()
	require.Nil(t, l1)
	require.Nil(t, l2)
	require.Nil(t, m.ISISRoutes())
	require.Nil(t, m.BGPSessions())
	require.Nil(t, m.BGPRoutes())
}

func TestStatsReturnsEmptySnapshotBeforeAnyTraffic(t *testing.T) {
	m := &Manager{metrics: metrics.New()}
	snap := m.Stats()
	require.Empty(t, snap.Messages)
	require.Empty(t, snap.Errors)
}

func TestStatsReflectsEngineTraffic(t *testing.T) {
	reg := metrics.New()
	m := &Manager{metrics: reg}

	reg.MessageCounter("ospf", "hello").Increment()
	reg.MessageCounter("ospf", "hello").Increment()
	reg.ErrorCounter("bgp", "malformed").Increment()

	snap := m.Stats()
	require.NotEmpty(t, snap.Messages)
	require.NotEmpty(t, snap.Errors)
}
