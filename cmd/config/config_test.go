package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	defaults := func() *Config {
		return &Config{
			Port:           10001,
			LogLevel:       "info",
			AllowedOrigins: []string{"https://lecturesnap.app", "http://localhost:3000"},
			RequestTimeout: 15 * time.Second,
			Outbox:         64,
			P2PListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
			P2PCompression: "fastest",
		}
	}

	testCases := []struct {
		name    string
		env     map[string]string
		wantErr bool
		wantCfg func() *Config
	}{
		{
			name:    "defaults (no env set)",
			env:     map[string]string{},
			wantCfg: defaults,
		},
		{
			name: "custom valid env",
			env: map[string]string{
				"PORT":              "12345",
				"LOG_LEVEL":         "debug",
				"ALLOWED_ORIGINS":   "https://lecturesnap.app,https://staging.lecturesnap.app",
				"EXTENSION_ORIGINS": "chrome-extension://lecturesnapext",
				"REQUEST_TIMEOUT":   "3s",
				"RELAY_OUTBOX":      "8",
				"CROSSTAB_P2P":      "true",
				"P2P_LISTEN_ADDRS":  "/ip4/0.0.0.0/tcp/4001",
				"P2P_BOOTSTRAP":     "/ip4/10.0.0.2/tcp/4001/p2p/12D3KooWQYhTNQdmr3ArTeUHRYzFg94BKyTkoWBDWez9kSCVe2Xo",
				"P2P_COMPRESSION":   "better",
			},
			wantCfg: func() *Config {
				return &Config{
					Port:             12345,
					LogLevel:         "debug",
					AllowedOrigins:   []string{"https://lecturesnap.app", "https://staging.lecturesnap.app"},
					ExtensionOrigins: []string{"chrome-extension://lecturesnapext"},
					RequestTimeout:   3 * time.Second,
					Outbox:           8,
					CrossTabP2P:      true,
					P2PListenAddrs:   []string{"/ip4/0.0.0.0/tcp/4001"},
					P2PBootstrap:     []string{"/ip4/10.0.0.2/tcp/4001/p2p/12D3KooWQYhTNQdmr3ArTeUHRYzFg94BKyTkoWBDWez9kSCVe2Xo"},
					P2PCompression:   "better",
				}
			},
		},
		{
			name: "zero timeout disables expiry",
			env:  map[string]string{"REQUEST_TIMEOUT": "0s"},
			wantCfg: func() *Config {
				c := defaults()
				c.RequestTimeout = 0
				return c
			},
		},
		{
			name:    "port out of range",
			env:     map[string]string{"PORT": "70000"},
			wantErr: true,
		},
		{
			name:    "unknown log level",
			env:     map[string]string{"LOG_LEVEL": "chatty"},
			wantErr: true,
		},
		{
			name:    "origin with path",
			env:     map[string]string{"ALLOWED_ORIGINS": "https://lecturesnap.app/dashboard"},
			wantErr: true,
		},
		{
			name:    "extension origin without host",
			env:     map[string]string{"EXTENSION_ORIGINS": "chrome-extension:"},
			wantErr: true,
		},
		{
			name:    "negative timeout",
			env:     map[string]string{"REQUEST_TIMEOUT": "-1s"},
			wantErr: true,
		},
		{
			name:    "zero outbox",
			env:     map[string]string{"RELAY_OUTBOX": "0"},
			wantErr: true,
		},
		{
			name:    "unknown compression",
			env:     map[string]string{"P2P_COMPRESSION": "ultra"},
			wantErr: true,
		},
		{
			name:    "missing allow-list file",
			env:     map[string]string{"ALLOWLIST_FILE": "/does/not/exist.yaml"},
			wantErr: true,
		},
	}

	for idx := range testCases {
		tc := testCases[idx]
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()

			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				require.Equal(t, tc.wantCfg(), cfg)
			}
		})
	}
}

func TestLoadAllowListFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "origins.yaml")
	require.NoError(t, os.WriteFile(path, []byte("origins:\n  - https://partner.example\n  - https://LECTURESNAP.app:443\n"), 0o600))
	t.Setenv("ALLOWED_ORIGINS", "https://lecturesnap.app")
	t.Setenv("ALLOWLIST_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	list, err := cfg.AllowList()
	require.NoError(t, err)
	require.Equal(t, []string{"https://lecturesnap.app", "https://partner.example"}, list.Origins())
}

func TestLoadRejectsMalformedAllowListFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "origins.yaml")
	require.NoError(t, os.WriteFile(path, []byte("origins: [unterminated\n"), 0o600))
	t.Setenv("ALLOWLIST_FILE", path)

	_, err := Load()
	require.Error(t, err)
}
