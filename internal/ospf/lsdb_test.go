package ospf

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func routerLSA(id RouterID, seq int32) *LSA {
	lsa := &LSA{
		Header: LSAHeader{Type: LSARouter, LinkStateID: id, AdvRouter: id, SeqNumber: seq},
		Router: &RouterLSABody{Links: []RouterLink{{ID: 2, Type: 1, Metric: 10}}},
	}
	lsa.Encode()
	return lsa
}

func TestLSDBInstallNewAndFresherReplace(t *testing.T) {
	d := NewLSDB(0, zap.NewNop())
	defer d.Close()

	installed, existing := d.Install(routerLSA(1, InitialSeq), false, "")
	require.True(t, installed)
	require.Nil(t, existing)
	require.Equal(t, 1, d.Count())

	installed, existing = d.Install(routerLSA(1, InitialSeq+1), false, "")
	require.True(t, installed)
	require.NotNil(t, existing)
	require.Equal(t, 1, d.Count())

	got, ok := d.Get(LSAKey{Type: LSARouter, LinkStateID: 1, AdvRouter: 1})
	require.True(t, ok)
	require.Equal(t, InitialSeq+1, got.Header.SeqNumber)
}

func TestLSDBInstallRejectsStaleCopy(t *testing.T) {
	d := NewLSDB(0, zap.NewNop())
	defer d.Close()

	d.Install(routerLSA(1, InitialSeq+5), false, "")
	installed, existing := d.Install(routerLSA(1, InitialSeq+1), false, "")
	require.False(t, installed)
	require.NotNil(t, existing)
	require.Equal(t, InitialSeq+5, existing.SeqNumber)
}

func TestLSDBOnLSAChangeFiresOnInstall(t *testing.T) {
	d := NewLSDB(0, zap.NewNop())
	defer d.Close()

	var got *LSA
	d.OnLSAChange = func(lsa *LSA) { got = lsa }

	d.Install(routerLSA(2, InitialSeq), false, "")
	require.NotNil(t, got)
	require.Equal(t, RouterID(2), got.Header.AdvRouter)
}

func TestLSDBRemove(t *testing.T) {
	d := NewLSDB(0, zap.NewNop())
	defer d.Close()

	d.Install(routerLSA(1, InitialSeq), false, "")
	require.True(t, d.Remove(LSAKey{Type: LSARouter, LinkStateID: 1, AdvRouter: 1}))
	require.Equal(t, 0, d.Count())
	require.False(t, d.Remove(LSAKey{Type: LSARouter, LinkStateID: 1, AdvRouter: 1}))
}

func TestLSDBRxmtTracking(t *testing.T) {
	d := NewLSDB(0, zap.NewNop())
	defer d.Close()

	d.RegisterNeighbor("eth0")
	d.Install(routerLSA(1, InitialSeq), false, "")

	pending := d.PendingRxmt("eth0")
	require.Len(t, pending, 1)

	key := LSAKey{Type: LSARouter, LinkStateID: 1, AdvRouter: 1}
	d.ClearRxmt("eth0", key)
	require.Empty(t, d.PendingRxmt("eth0"))

	d.SetRxmt("eth0", key)
	require.Len(t, d.PendingRxmt("eth0"), 1)

	d.UnregisterNeighbor("eth0")
	require.Empty(t, d.PendingRxmt("eth0"))
}

func TestLSDBInstallExcludesReceivingInterfaceFromFlood(t *testing.T) {
	d := NewLSDB(0, zap.NewNop())
	defer d.Close()

	d.RegisterNeighbor("eth0")
	d.RegisterNeighbor("eth1")

	d.Install(routerLSA(1, InitialSeq), false, "eth0")

	require.Empty(t, d.PendingRxmt("eth0"), "must not flood back out the interface the LSA arrived on")
	require.Len(t, d.PendingRxmt("eth1"), 1)
}

func TestLSDBAllSortedByKey(t *testing.T) {
	d := NewLSDB(0, zap.NewNop())
	defer d.Close()

	d.Install(routerLSA(3, InitialSeq), false, "")
	d.Install(routerLSA(1, InitialSeq), false, "")
	d.Install(routerLSA(2, InitialSeq), false, "")

	all := d.All()
	require.Len(t, all, 3)
	require.Equal(t, RouterID(1), all[0].Header.AdvRouter)
	require.Equal(t, RouterID(2), all[1].Header.AdvRouter)
	require.Equal(t, RouterID(3), all[2].Header.AdvRouter)
}

func TestLSDBStatistics(t *testing.T) {
	d := NewLSDB(7, zap.NewNop())
	defer d.Close()

	d.Install(routerLSA(1, InitialSeq), true, "")
	d.Install(routerLSA(2, InitialSeq), false, "")

	stats := d.Statistics()
	require.Equal(t, uint32(7), stats.AreaID)
	require.Equal(t, 2, stats.TotalLSAs)
	require.Equal(t, 1, stats.LocalLSAs)
	require.Equal(t, 1, stats.RemoteLSAs)
}
