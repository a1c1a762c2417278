package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
router_id: "1.2.3.4"
ospf:
  router_id: "1.2.3.4"
  interfaces:
    - name: eth0
      area_id: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "console", cfg.Logging.Format)
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, 10*time.Second, cfg.Redistribution.Interval)
	require.Equal(t, 179, cfg.BGP.ListenPort)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
router_id: "1.2.3.4"
logging:
  level: debug
  format: json
metrics:
  enabled: false
bgp:
  local_as: 65001
  router_id: "1.2.3.4"
  listen_port: 1790
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
	require.False(t, cfg.Metrics.Enabled)
	require.Equal(t, 1790, cfg.BGP.ListenPort)
}

func TestValidateRejectsNoProtocols(t *testing.T) {
	cfg := &Config{RouterID: "1.2.3.4"}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingRouterID(t *testing.T) {
	cfg := &Config{OSPF: &OSPFConfig{Interfaces: []OSPFInterfaceConfig{{Name: "eth0"}}}}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsOSPFWithNoInterfaces(t *testing.T) {
	cfg := &Config{RouterID: "1.2.3.4", OSPF: &OSPFConfig{RouterID: "1.2.3.4"}}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownNetworkType(t *testing.T) {
	cfg := &Config{
		RouterID: "1.2.3.4",
		OSPF: &OSPFConfig{
			RouterID:   "1.2.3.4",
			Interfaces: []OSPFInterfaceConfig{{Name: "eth0", NetworkType: "token-ring"}},
		},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsTooManyISISAreaAddresses(t *testing.T) {
	cfg := &Config{
		RouterID: "1.2.3.4",
		ISIS: &ISISConfig{
			SystemID:      "0000.0000.0001",
			AreaAddresses: []string{"49.0001", "49.0002", "49.0003", "49.0004"},
			Interfaces:    []ISISInterfaceConfig{{Name: "eth0"}},
		},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := &Config{
		RouterID: "1.2.3.4",
		OSPF: &OSPFConfig{
			RouterID:   "1.2.3.4",
			Interfaces: []OSPFInterfaceConfig{{Name: "eth0", NetworkType: "broadcast"}},
		},
		BGP: &BGPConfig{
			LocalAS:  65001,
			RouterID: "1.2.3.4",
			Peers:    []BGPPeerConfig{{IP: "10.0.0.2", RemoteAS: 65002}},
		},
	}
	require.NoError(t, cfg.Validate())
}

func TestDumpRoundTripsThroughYAML(t *testing.T) {
	path := writeConfig(t, `
router_id: "1.2.3.4"
ospf:
  router_id: "1.2.3.4"
  interfaces:
    - name: eth0
      area_id: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	out, err := Dump(cfg)
	require.NoError(t, err)

	var roundTripped Config
	require.NoError(t, yaml.Unmarshal(out, &roundTripped))
	require.Equal(t, cfg.RouterID, roundTripped.RouterID)
	require.Equal(t, cfg.OSPF.Interfaces[0].Name, roundTripped.OSPF.Interfaces[0].Name)
}

func TestValidateRejectsStaticRouteMissingGateway(t *testing.T) {
	cfg := &Config{
		RouterID:     "1.2.3.4",
		OSPF:         &OSPFConfig{RouterID: "1.2.3.4", Interfaces: []OSPFInterfaceConfig{{Name: "eth0"}}},
		StaticRoutes: []StaticRouteConfig{{Prefix: "10.0.0.0/24"}},
	}
	require.Error(t, cfg.Validate())
}
