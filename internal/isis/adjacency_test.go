package isis

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(sysID SystemID) *Manager {
	return NewManager(sysID, [][]byte{{0x49, 0x00, 0x01}}, zap.NewNop())
}

func TestProcessHelloP2PCompletesOnSecondHello(t *testing.T) {
	m := newTestManager(SystemID{1, 1, 1, 1, 1, 1})
	neighbor := SystemID{2, 2, 2, 2, 2, 2}

	h := &Hello{
		CircuitType: CircuitP2P,
		Level:       Level1,
		SourceID:    neighbor,
		HoldTime:    30,
		AreaAddrs:   [][]byte{{0x49, 0x00, 0x01}},
	}
	adj := m.ProcessHello("eth0", h)
	require.NotNil(t, adj)
	require.Equal(t, AdjInitializing, adj.State(), "first hello only clears Down, P2P has no neighbor list to echo")

	adj = m.ProcessHello("eth0", h)
	require.Equal(t, AdjUp, adj.State())
}

func TestProcessHelloLANRequiresMACEcho(t *testing.T) {
	m := newTestManager(SystemID{1, 1, 1, 1, 1, 1})
	localMAC := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	m.SetLocalMAC("eth0", localMAC)

	neighbor := SystemID{2, 2, 2, 2, 2, 2}
	h := &Hello{
		CircuitType: CircuitBroadcast,
		Level:       Level1,
		SourceID:    neighbor,
		HoldTime:    30,
		AreaAddrs:   [][]byte{{0x49, 0x00, 0x01}},
	}

	adj := m.ProcessHello("eth0", h)
	require.NotNil(t, adj)
	require.Equal(t, AdjInitializing, adj.State(), "must stay Initializing until our MAC is echoed back")

	h.Neighbors = []net.HardwareAddr{localMAC}
	adj = m.ProcessHello("eth0", h)
	require.Equal(t, AdjUp, adj.State())
}

func TestProcessHelloLANStaysInitializingWithoutMACEcho(t *testing.T) {
	m := newTestManager(SystemID{1, 1, 1, 1, 1, 1})
	m.SetLocalMAC("eth0", net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55})

	neighbor := SystemID{2, 2, 2, 2, 2, 2}
	otherMAC := net.HardwareAddr{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	h := &Hello{
		CircuitType: CircuitBroadcast,
		Level:       Level1,
		SourceID:    neighbor,
		HoldTime:    30,
		AreaAddrs:   [][]byte{{0x49, 0x00, 0x01}},
		Neighbors:   []net.HardwareAddr{otherMAC},
	}
	m.ProcessHello("eth0", h)
	adj := m.ProcessHello("eth0", h)
	require.Equal(t, AdjInitializing, adj.State(), "must not advance to Up when the neighbor never echoes our MAC")
}

func TestProcessHelloRejectsLevelMismatch(t *testing.T) {
	m := newTestManager(SystemID{1, 1, 1, 1, 1, 1})
	m.LevelMode = Level1

	h := &Hello{
		CircuitType: CircuitP2P,
		Level:       Level2,
		SourceID:    SystemID{2, 2, 2, 2, 2, 2},
		HoldTime:    30,
	}
	adj := m.ProcessHello("eth0", h)
	require.Nil(t, adj)
}

func TestProcessHelloRejectsAreaMismatchForL1(t *testing.T) {
	m := newTestManager(SystemID{1, 1, 1, 1, 1, 1})

	h := &Hello{
		CircuitType: CircuitP2P,
		Level:       Level1,
		SourceID:    SystemID{2, 2, 2, 2, 2, 2},
		HoldTime:    30,
		AreaAddrs:   [][]byte{{0x49, 0x00, 0x02}},
	}
	adj := m.ProcessHello("eth0", h)
	require.Nil(t, adj)
}

func TestProcessHelloBothModeAcceptsEitherLevel(t *testing.T) {
	m := newTestManager(SystemID{1, 1, 1, 1, 1, 1})
	m.LevelMode = 0

	for i, level := range []Level{Level1, Level2} {
		iface := "eth" + string(rune('0'+i))
		h := &Hello{
			CircuitType: CircuitP2P,
			Level:       level,
			SourceID:    SystemID{2, 2, 2, 2, 2, 2},
			HoldTime:    30,
			AreaAddrs:   [][]byte{{0x49, 0x00, 0x01}},
		}
		m.ProcessHello(iface, h)
		adj := m.ProcessHello(iface, h)
		require.NotNil(t, adj)
		require.Equal(t, AdjUp, adj.State())
	}
}

func TestHoldTimerExpiryBringsAdjacencyDown(t *testing.T) {
	m := newTestManager(SystemID{1, 1, 1, 1, 1, 1})
	var down bool
	m.OnAdjacencyDown = func(*Adjacency) { down = true }

	h := &Hello{
		CircuitType: CircuitP2P,
		Level:       Level1,
		SourceID:    SystemID{2, 2, 2, 2, 2, 2},
		HoldTime:    30,
		AreaAddrs:   [][]byte{{0x49, 0x00, 0x01}},
	}
	m.ProcessHello("eth0", h)
	adj := m.ProcessHello("eth0", h)
	require.Equal(t, AdjUp, adj.State())

	// Replace the running hold timer with a short one to avoid a slow test.
	adj.mu.Lock()
	adj.HoldTime = 20 * time.Millisecond
	adj.restartHoldTimer()
	adj.mu.Unlock()

	require.Eventually(t, func() bool { return adj.State() == AdjDown }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return down }, time.Second, time.Millisecond)
}

func TestDISElectionHighestPriorityWins(t *testing.T) {
	m := newTestManager(SystemID{1, 1, 1, 1, 1, 1})
	var elected SystemID
	m.OnDISChange = func(iface string, level Level, dis SystemID) { elected = dis }

	low := SystemID{2, 2, 2, 2, 2, 2}
	high := SystemID{3, 3, 3, 3, 3, 3}

	bringUp(t, m, "eth0", low, 10)
	require.Equal(t, m.SystemID, elected, "default priority should still beat a low-priority neighbor")

	bringUp(t, m, "eth0", high, 200)
	require.Equal(t, high, elected)
	require.False(t, m.IsDIS("eth0", Level1))
}

func TestDISElectionTiebreaksOnHighestSystemID(t *testing.T) {
	m := newTestManager(SystemID{1, 1, 1, 1, 1, 1})
	var elected SystemID
	m.OnDISChange = func(iface string, level Level, dis SystemID) { elected = dis }

	a := SystemID{5, 5, 5, 5, 5, 5}
	b := SystemID{9, 9, 9, 9, 9, 9}

	bringUp(t, m, "eth0", a, DefaultPriority)
	bringUp(t, m, "eth0", b, DefaultPriority)

	require.Equal(t, b, elected, "equal priority must be broken by the higher system ID")
}

var testLocalMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

// bringUp drives a broadcast adjacency through the full 3-way handshake
// (Down -> Initializing on the first hello, Initializing -> Up once a
// second hello echoes our MAC back), which is what actually triggers DIS
// election on a broadcast circuit.
func bringUp(t *testing.T, m *Manager, iface string, sysID SystemID, priority byte) *Adjacency {
	t.Helper()
	m.SetLocalMAC(iface, testLocalMAC)
	h := &Hello{
		CircuitType: CircuitBroadcast,
		Level:       Level1,
		SourceID:    sysID,
		HoldTime:    30,
		Priority:    priority,
		AreaAddrs:   [][]byte{{0x49, 0x00, 0x01}},
	}
	adj := m.ProcessHello(iface, h)
	require.Equal(t, AdjInitializing, adj.State())

	h.Neighbors = []net.HardwareAddr{testLocalMAC}
	adj = m.ProcessHello(iface, h)
	require.Equal(t, AdjUp, adj.State())
	return adj
}
