package config

import (
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

// clearEnv unsets every variable Load reads so tests start from defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ID_ENV", "ID_HTTP_ADDR", "ID_METRICS_ADDR", "ID_STORE_BACKEND", "ID_DB_DSN", "ID_SQLITE_PATH",
		"ID_IDENTITY_PROGRAM_ID", "ID_FACTORY_PROGRAM_ID", "ID_FACTORY_SEED", "ID_REQUIRE_SIGNATURES",
		"ID_RELAYER_PUBLIC_KEY", "ID_RELAYER_KEY_ID", "ID_RELAYER_JWT_AUD", "ID_RELAYER_JWT_ISS",
		"ID_RELAY_PEERS_FILE", "ID_RATE_LIMIT_RPS", "ID_RATE_LIMIT_BURST", "ID_LOG_LEVEL", "ID_LOG_FORMAT",
		"ID_REQUEST_TIMEOUT_SECONDS",
	} {
		if v, ok := os.LookupEnv(k); ok {
			os.Unsetenv(k)
			t.Cleanup(func() { os.Setenv(k, v) })
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "dev" || cfg.Address != ":8080" || cfg.MetricsAddress != ":9090" {
		t.Errorf("unexpected addresses: %+v", cfg)
	}
	if cfg.StoreBackend != "memory" {
		t.Errorf("StoreBackend = %q, want memory", cfg.StoreBackend)
	}
	if cfg.RequireSignatures {
		t.Errorf("signatures should be optional in dev")
	}
	if cfg.IdentityProgram.String() != defaultIdentityProgram || cfg.FactoryProgram.String() != defaultFactoryProgram {
		t.Errorf("unexpected program ids: %s %s", cfg.IdentityProgram, cfg.FactoryProgram)
	}
	if cfg.RateLimitRPS != defaultRateLimitRPS || cfg.RateLimitBurst != defaultRateLimitBurst {
		t.Errorf("unexpected rate limit: %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.RequestTimeout != defaultRequestTimeout {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "json" {
		t.Errorf("unexpected log settings: %v %q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.NewLogger() == nil {
		t.Errorf("expected logger")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	key := make([]byte, 32)
	key[0] = 7
	t.Setenv("ID_ENV", "prod")
	t.Setenv("ID_STORE_BACKEND", "SQLite")
	t.Setenv("ID_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("ID_RELAYER_PUBLIC_KEY", base64.StdEncoding.EncodeToString(key))
	t.Setenv("ID_RATE_LIMIT_RPS", "2.5")
	t.Setenv("ID_RATE_LIMIT_BURST", "5")
	t.Setenv("ID_REQUEST_TIMEOUT_SECONDS", "3")
	t.Setenv("ID_LOG_LEVEL", "debug")
	t.Setenv("ID_LOG_FORMAT", "text")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.RequireSignatures {
		t.Errorf("signatures should be required outside dev")
	}
	if cfg.StoreBackend != "sqlite" || cfg.SQLitePath != "/tmp/x.db" {
		t.Errorf("unexpected store: %q %q", cfg.StoreBackend, cfg.SQLitePath)
	}
	if len(cfg.RelayerPublicKey) != 32 || cfg.RelayerPublicKey[0] != 7 {
		t.Errorf("relayer key not decoded")
	}
	if cfg.RateLimitRPS != 2.5 || cfg.RateLimitBurst != 5 {
		t.Errorf("unexpected rate limit: %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.RequestTimeout != 3*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "text" {
		t.Errorf("unexpected log settings: %v %q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string][2]string{
		"backend":        {"ID_STORE_BACKEND", "mongo"},
		"identity id":    {"ID_IDENTITY_PROGRAM_ID", "not-base58!"},
		"relayer key":    {"ID_RELAYER_PUBLIC_KEY", base64.StdEncoding.EncodeToString([]byte("short"))},
		"rate":           {"ID_RATE_LIMIT_RPS", "0"},
		"burst":          {"ID_RATE_LIMIT_BURST", "-1"},
		"timeout":        {"ID_REQUEST_TIMEOUT_SECONDS", "soon"},
		"log level":      {"ID_LOG_LEVEL", "loud"},
		"log format":     {"ID_LOG_FORMAT", "xml"},
		"peers file":     {"ID_RELAY_PEERS_FILE", "/nonexistent/peers.yaml"},
		"postgres dsn":   {"ID_STORE_BACKEND", "postgres"},
		"factory id":     {"ID_FACTORY_PROGRAM_ID", "1"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", kv[0], kv[1])
			}
		})
	}
}

func TestLoadPeers(t *testing.T) {
	clearEnv(t)
	sender := model.Pubkey(sha256.Sum256([]byte("peer")))
	path := filepath.Join(t.TempDir(), "peers.yaml")
	doc := "peers:\n  - name: sepolia\n    eid: 40161\n    sender: " + sender.String() + "\n  - name: any\n    eid: 30101\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write peers: %v", err)
	}
	t.Setenv("ID_RELAY_PEERS_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.RelayPeers) != 2 || cfg.RelayPeers[0].Name != "sepolia" {
		t.Fatalf("unexpected peers: %+v", cfg.RelayPeers)
	}
	other := model.Pubkey(sha256.Sum256([]byte("other")))
	if !Allows(cfg.RelayPeers, 40161, sender) {
		t.Errorf("pinned sender should be allowed")
	}
	if Allows(cfg.RelayPeers, 40161, other) {
		t.Errorf("other sender should be refused")
	}
	if !Allows(cfg.RelayPeers, 30101, other) {
		t.Errorf("unpinned eid should accept any sender")
	}
	if Allows(cfg.RelayPeers, 1, sender) {
		t.Errorf("unknown eid should be refused")
	}
	if !Allows(nil, 1, sender) {
		t.Errorf("empty allowlist should accept everything")
	}
}

func TestParsePeersRejectsInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"missing eid":   "peers:\n  - name: a\n",
		"duplicate eid": "peers:\n  - eid: 1\n  - eid: 1\n",
		"bad sender":    "peers:\n  - eid: 1\n    sender: '0OIl'\n",
		"bad yaml":      "peers: [",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ParsePeers([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
