package manager

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/routed-project/routed/internal/iface"
)

func TestConnectedPrefixesSkipsInterfacesWithoutIPv4(t *testing.T) {
	ifaces := map[string]*iface.Interface{
		"eth0": {
			Name:        "eth0",
			PrimaryIPv4: net.ParseIP("10.0.0.1"),
			Netmask:     net.CIDRMask(24, 32),
		},
		"lo": {
			Name: "lo",
		},
	}
	prefixes := connectedPrefixes(ifaces)
	require.Len(t, prefixes, 1)
	require.Equal(t, netip.MustParsePrefix("10.0.0.0/24"), prefixes[0])
}

func TestConnectedPrefixesEmptyWhenNoAddressedInterfaces(t *testing.T) {
	prefixes := connectedPrefixes(map[string]*iface.Interface{
		"lo": {Name: "lo"},
	})
	require.Empty(t, prefixes)
}
