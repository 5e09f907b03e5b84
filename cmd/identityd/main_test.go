// cmd/identityd/main_test.go
package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/config"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

// This is an integration-style test that wires the same components main() uses
// (config, SQLite store, executor, ledger, handler) under httptest.Server.
func TestIdentityd_Integration(t *testing.T) {
	t.Setenv("ID_ENV", "dev")
	t.Setenv("ID_STORE_BACKEND", "sqlite")
	t.Setenv("ID_SQLITE_PATH", filepath.Join(t.TempDir(), "identity.db"))
	t.Setenv("ID_REQUIRE_SIGNATURES", "false")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	h, err := newHandler(context.Background(), cfg, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	ts := httptest.NewServer(h.Handler())
	defer ts.Close()

	// Health
	resp, err := http.Get(ts.URL + "/ready")
	if err != nil {
		t.Fatalf("ready request error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Initialize identity; the account key itself signs
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr, err := model.PubkeyFromBytes(pub)
	if err != nil {
		t.Fatalf("pubkey: %v", err)
	}
	mgr := model.Pubkey(sha256.Sum256([]byte("manager")))
	body, _ := json.Marshal(map[string]any{"managementKey": mgr})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/identities/"+addr.String()+"/initialize", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signer", addr.String())
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("initialize error: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("initialize status = %d body=%s", resp.StatusCode, string(b))
	}
	resp.Body.Close()

	// Get identity
	resp, err = http.Get(ts.URL + "/v1/identities/" + addr.String())
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("get status = %d body=%s", resp.StatusCode, string(b))
	}
	var env struct {
		Data struct {
			DID         string `json:"did"`
			Initialized bool   `json:"initialized"`
			Keys        []struct {
				Purposes []int `json:"purposes"`
			} `json:"keys"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode get: %v", err)
	}
	if !env.Data.Initialized || env.Data.DID != "did:sol:"+addr.String() {
		t.Fatalf("unexpected identity: %+v", env.Data)
	}
	if len(env.Data.Keys) != 1 || len(env.Data.Keys[0].Purposes) != 1 || env.Data.Keys[0].Purposes[0] != 1 {
		t.Fatalf("unexpected keys: %+v", env.Data.Keys)
	}
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	if _, err := openStore(config.Config{StoreBackend: "etcd"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
