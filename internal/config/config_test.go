package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lantern.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 7319
  uiAllowedOrigins:
    - http://127.0.0.1:5173
gas:
  maxFeeCapGwei: 80
activeNetwork: base
dataDir: /tmp/lantern-test
networks:
  mainnet:
    name: mainnet
    chainIdHex: "0x1"
    rpcUrl: https://eth.example/rpc
  base:
    name: base
    chainIdHex: "0x2105"
    rpcUrl: https://base.example/rpc
    delegationContract: "0x1111111111111111111111111111111111111111"
log:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.ActiveNetwork != "base" {
		t.Errorf("activeNetwork = %q", cfg.ActiveNetwork)
	}
	if cfg.Gas.MaxFeeCapGwei != 80 {
		t.Errorf("maxFeeCapGwei = %d", cfg.Gas.MaxFeeCapGwei)
	}
	if cfg.Networks["base"].DelegationContract != "0x1111111111111111111111111111111111111111" {
		t.Errorf("delegationContract = %q", cfg.Networks["base"].DelegationContract)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("log = %+v", cfg.Log)
	}

	// derived paths hang off dataDir
	if cfg.KeystorePath != filepath.Join("/tmp/lantern-test", "keystore") {
		t.Errorf("keystorePath = %q", cfg.KeystorePath)
	}
	if cfg.ActivityDBPath != filepath.Join("/tmp/lantern-test", "activity.db") {
		t.Errorf("activityDbPath = %q", cfg.ActivityDBPath)
	}
	if cfg.ConnectionsPath != filepath.Join("/tmp/lantern-test", "connections.json") {
		t.Errorf("connectionsPath = %q", cfg.ConnectionsPath)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
networks:
  mainnet:
    name: mainnet
    chainIdHex: "0x1"
    rpcUrl: https://eth.example/rpc
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 7319 {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Gas.MaxFeeCapGwei != 100 {
		t.Errorf("gas default = %d", cfg.Gas.MaxFeeCapGwei)
	}
	if cfg.ActiveNetwork != "mainnet" {
		t.Errorf("activeNetwork default = %q", cfg.ActiveNetwork)
	}
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"no networks", `
activeNetwork: mainnet
`},
		{"unknown active network", `
activeNetwork: base
networks:
  mainnet:
    name: mainnet
    chainIdHex: "0x1"
    rpcUrl: https://eth.example/rpc
`},
		{"missing rpcUrl", `
activeNetwork: mainnet
networks:
  mainnet:
    name: mainnet
    chainIdHex: "0x1"
`},
		{"bad chainIdHex", `
activeNetwork: mainnet
networks:
  mainnet:
    name: mainnet
    chainIdHex: "1"
    rpcUrl: https://eth.example/rpc
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
