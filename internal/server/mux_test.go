// internal/server/mux_test.go
package server

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
	"strconv"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/config"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/identity"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/ledger"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/relay"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/runtime"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/storage"
)

const (
	testIssuer   = "test-relayer"
	testAudience = "test-audience"
	testKeyID    = "relayer-1"
	testEid      = 40161
)

type wallet struct {
	pub  model.Pubkey
	priv ed25519.PrivateKey
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var w wallet
	copy(w.pub[:], pub)
	w.priv = priv
	return w
}

func (w wallet) sign(msg []byte) model.Signature {
	var s model.Signature
	copy(s[:], ed25519.Sign(w.priv, msg))
	return s
}

func label(s string) model.Pubkey { return model.Pubkey(sha256.Sum256([]byte(s))) }

type testEnv struct {
	ts      *httptest.Server
	store   storage.Store
	relayer wallet
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	relayer := newWallet(t)
	cfg := config.Config{
		Env:               "test",
		IdentityProgram:   label("identity-program"),
		FactoryProgram:    label("factory-program"),
		FactoryInstance:   "test",
		RequireSignatures: true,
		RelayerPublicKey:  relayer.pub.Bytes(),
		RelayerKeyID:      testKeyID,
		RelayerIssuer:     testIssuer,
		RelayerAudience:   testAudience,
		RequestTimeout:    5 * time.Second,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemory()
	l, err := ledger.New(runtime.New(store), store, ledger.Config{
		IdentityProgram: cfg.IdentityProgram,
		FactoryProgram:  cfg.FactoryProgram,
		FactoryInstance: cfg.FactoryInstance,
	}, logger)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if err := SeedRelayerKey(context.Background(), store, cfg, time.Now().UTC()); err != nil {
		t.Fatalf("seed relayer key: %v", err)
	}
	h, err := New(cfg, l, store, logger)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	ts := httptest.NewServer(h.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, store: store, relayer: relayer}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Meta  json.RawMessage `json:"meta"`
	Error *errorEnvelope  `json:"error"`
}

type response struct {
	status int
	body   []byte
	env    envelope
	header http.Header
}

func (r response) decode(t *testing.T, dst any) {
	t.Helper()
	if err := json.Unmarshal(r.env.Data, dst); err != nil {
		t.Fatalf("decode data: %v (body=%s)", err, r.body)
	}
}

func (r response) expect(t *testing.T, status int, code string) {
	t.Helper()
	if r.status != status {
		t.Fatalf("status = %d want %d body=%s", r.status, status, r.body)
	}
	if code == "" {
		return
	}
	if r.env.Error == nil || r.env.Error.Code != code {
		t.Fatalf("error code mismatch: want %s body=%s", code, r.body)
	}
}

// signHeaders returns the signature headers w sends for one request.
func signHeaders(w wallet, method, path string, ts time.Time, nonce string, body []byte) map[string]string {
	path, _, _ = strings.Cut(path, "?")
	msg := RequestSigningMessage(method, path, ts.Unix(), nonce, body)
	return map[string]string{
		headerSigner:             w.pub.String(),
		headerSignature:          w.sign(msg).String(),
		headerSignatureTimestamp: strconv.FormatInt(ts.Unix(), 10),
		headerSignatureNonce:     nonce,
	}
}

// call sends body as JSON. A non-nil signer signs the request with a fresh
// nonce; headers override the signature headers.
func (e *testEnv) call(t *testing.T, method, path string, body any, signer *wallet, headers map[string]string) response {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	hdr := map[string]string{}
	if signer != nil {
		hdr = signHeaders(*signer, method, path, time.Now(), uuid.NewString(), raw)
	}
	for k, v := range headers {
		hdr[k] = v
	}
	return e.send(t, method, path, raw, hdr)
}

// send issues a request with a raw body and exactly the given headers.
func (e *testEnv) send(t *testing.T, method, path string, raw []byte, headers map[string]string) response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	out := response{status: resp.StatusCode, body: b, header: resp.Header}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), contentTypeJSON) && len(b) > 0 {
		if err := json.Unmarshal(b, &out.env); err != nil {
			t.Fatalf("decode envelope: %v (body=%s)", err, b)
		}
	}
	return out
}

func (e *testEnv) relayToken(t *testing.T, kid string, priv ed25519.PrivateKey) string {
	t.Helper()
	now := time.Now()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodEdDSA, jwtlib.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": "relayer-node",
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
		"jti": uuid.NewString(),
	})
	token.Header["kid"] = kid
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestHealth(t *testing.T) {
	e := newTestServer(t)

	resp, err := http.Get(e.ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d want %d", resp.StatusCode, http.StatusOK)
	}
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "ok" {
		t.Fatalf("body = %q want %q", string(b), "ok")
	}

	resp, err = http.Get(e.ts.URL + "/ready")
	if err != nil {
		t.Fatalf("GET /ready error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready status = %d want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestIdentityKeyLifecycle(t *testing.T) {
	e := newTestServer(t)
	ident, mgr, other := newWallet(t), newWallet(t), newWallet(t)
	addr := ident.pub.String()

	// Reads before initialization
	r := e.call(t, http.MethodGet, "/v1/identities/"+addr, nil, nil, nil)
	r.expect(t, http.StatusOK, "")
	var view ledger.IdentityView
	r.decode(t, &view)
	if view.Initialized {
		t.Fatalf("identity reported initialized before initialize")
	}
	e.call(t, http.MethodGet, "/v1/identities/"+addr+"/keys", nil, nil, nil).expect(t, http.StatusConflict, "NOT_INITIALIZED")

	// Only the holder of the account key may initialize it
	e.call(t, http.MethodPost, "/v1/identities/"+addr+"/initialize", map[string]any{"managementKey": mgr.pub}, &mgr, nil).
		expect(t, http.StatusUnauthorized, "MISSING_SIGNER")
	r = e.call(t, http.MethodPost, "/v1/identities/"+addr+"/initialize", map[string]any{"managementKey": mgr.pub}, &ident, nil)
	r.expect(t, http.StatusCreated, "")
	var m struct {
		TxID   string              `json:"txId"`
		Events []model.EventRecord `json:"events"`
	}
	r.decode(t, &m)
	if m.TxID == "" || len(m.Events) != 0 {
		t.Fatalf("unexpected initialize result: %s", r.body)
	}
	e.call(t, http.MethodPost, "/v1/identities/"+addr+"/initialize", map[string]any{"managementKey": mgr.pub}, &ident, nil).
		expect(t, http.StatusConflict, "ALREADY_INITIALIZED")

	add := map[string]any{"key": other.pub, "purpose": 2, "keyType": 1}
	e.call(t, http.MethodPost, "/v1/identities/"+addr+"/keys", add, &mgr, nil).expect(t, http.StatusOK, "")
	r = e.call(t, http.MethodPost, "/v1/identities/"+addr+"/keys", add, &mgr, nil)
	r.expect(t, http.StatusConflict, "KEY_CONFLICT")
	if details, ok := r.env.Error.Details.(map[string]any); !ok || details["code"] != float64(identity.CodeKeyConflict) {
		t.Fatalf("error details = %#v", r.env.Error.Details)
	}

	// Only management keys manage keys
	e.call(t, http.MethodPost, "/v1/identities/"+addr+"/keys", map[string]any{"key": ident.pub, "purpose": 1, "keyType": 1}, &other, nil).
		expect(t, http.StatusForbidden, "INSUFFICIENT_PERMISSIONS")
	e.call(t, http.MethodPost, "/v1/identities/"+addr+"/keys", map[string]any{"key": ident.pub, "purpose": 9, "keyType": 1}, &mgr, nil).
		expect(t, http.StatusUnprocessableEntity, "INVALID_KEY_PURPOSE")

	r = e.call(t, http.MethodGet, "/v1/identities/"+addr+"/keys/"+other.pub.String(), nil, nil, nil)
	r.expect(t, http.StatusOK, "")
	var entry identity.KeyEntry
	r.decode(t, &entry)
	if entry.Key != identity.HashKey(other.pub) || !entry.Purposes.Has(identity.PurposeAction) {
		t.Fatalf("unexpected key entry: %s", r.body)
	}

	r = e.call(t, http.MethodGet, "/v1/identities/"+addr+"/keys", nil, nil, nil)
	r.expect(t, http.StatusOK, "")
	var keys []identity.KeyEntry
	r.decode(t, &keys)
	if len(keys) != 2 {
		t.Fatalf("keys = %d want 2", len(keys))
	}

	e.call(t, http.MethodPost, "/v1/identities/"+addr+"/keys/remove", map[string]any{"key": other.pub, "purpose": 2}, &mgr, nil).
		expect(t, http.StatusOK, "")
	e.call(t, http.MethodGet, "/v1/identities/"+addr+"/keys/"+other.pub.String(), nil, nil, nil).
		expect(t, http.StatusNotFound, "KEY_NOT_FOUND")

	// Malformed path parameters carry the address code
	e.call(t, http.MethodGet, "/v1/identities/not-base58!/keys", nil, nil, nil).
		expect(t, http.StatusUnprocessableEntity, "INVALID_ADDRESS_BYTES")

	r = e.call(t, http.MethodGet, "/v1/identities/"+addr+"/events", nil, nil, nil)
	r.expect(t, http.StatusOK, "")
	var evs []model.EventRecord
	r.decode(t, &evs)
	got := make([]string, len(evs))
	for i, ev := range evs {
		got[i] = ev.Name
	}
	want := []string{identity.EventKeyAdded, identity.EventKeyRemoved}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v want %v", got, want)
	}
	e.call(t, http.MethodGet, "/v1/events?limit=0", nil, nil, nil).expect(t, http.StatusBadRequest, "IDENTITY_VALIDATION")
}

func TestClaimLifecycle(t *testing.T) {
	e := newTestServer(t)
	ident, mgr, issuerWallet := newWallet(t), newWallet(t), newWallet(t)
	addr := ident.pub
	path := "/v1/identities/" + addr.String()

	e.call(t, http.MethodPost, path+"/initialize", map[string]any{"managementKey": mgr.pub}, &ident, nil).expect(t, http.StatusCreated, "")
	for _, k := range []model.Pubkey{mgr.pub, issuerWallet.pub} {
		e.call(t, http.MethodPost, path+"/keys", map[string]any{"key": k, "purpose": 3, "keyType": 1}, &mgr, nil).expect(t, http.StatusOK, "")
	}

	issuer := label("issuer-identity")
	data := []byte("kyc:passed")
	msg := identity.ClaimMessage(addr, 7, data)
	sig := issuerWallet.sign(msg)
	claim := map[string]any{
		"topic":        7,
		"scheme":       1,
		"issuer":       issuer,
		"issuerWallet": issuerWallet.pub,
		"signature":    sig,
		"data":         data,
		"uri":          "https://issuer.example/claims/7",
	}

	// A third-party claim needs the verification instruction
	e.call(t, http.MethodPost, path+"/claims", claim, &mgr, nil).expect(t, http.StatusUnprocessableEntity, "INVALID_CLAIM")

	claim["proof"] = map[string]any{"publicKey": issuerWallet.pub, "message": msg, "signature": sig}
	r := e.call(t, http.MethodPost, path+"/claims", claim, &mgr, nil)
	r.expect(t, http.StatusCreated, "")
	var added struct {
		ClaimID model.Hash `json:"claimId"`
	}
	r.decode(t, &added)
	if added.ClaimID != identity.ClaimID(issuer, 7) {
		t.Fatalf("claimId = %s", added.ClaimID)
	}
	claimPath := path + "/claims/" + added.ClaimID.String()

	r = e.call(t, http.MethodGet, claimPath, nil, nil, nil)
	r.expect(t, http.StatusOK, "")
	var got claimView
	r.decode(t, &got)
	if got.Issuer != issuer || !bytes.Equal(got.Data, data) || got.Signature != sig {
		t.Fatalf("unexpected claim: %s", r.body)
	}

	r = e.call(t, http.MethodGet, path+"/claims", nil, nil, nil)
	r.expect(t, http.StatusOK, "")
	var ids []model.Hash
	r.decode(t, &ids)
	if len(ids) != 1 || ids[0] != added.ClaimID {
		t.Fatalf("claims = %v", ids)
	}

	e.call(t, http.MethodPost, claimPath+"/revoke", nil, &mgr, nil).expect(t, http.StatusOK, "")
	e.call(t, http.MethodPost, claimPath+"/revoke", nil, &mgr, nil).expect(t, http.StatusConflict, "CLAIM_ALREADY_REVOKED")
	r = e.call(t, http.MethodGet, path+"/revocations/"+sig.String(), nil, nil, nil)
	r.expect(t, http.StatusOK, "")
	var rev struct {
		Revoked bool `json:"revoked"`
	}
	r.decode(t, &rev)
	if !rev.Revoked {
		t.Fatalf("signature not reported revoked")
	}

	e.call(t, http.MethodPost, claimPath+"/remove", nil, &mgr, nil).expect(t, http.StatusOK, "")
	e.call(t, http.MethodGet, claimPath, nil, nil, nil).expect(t, http.StatusNotFound, "CLAIM_NOT_FOUND")
	e.call(t, http.MethodPost, claimPath+"/remove", nil, &mgr, nil).expect(t, http.StatusNotFound, "CLAIM_NOT_FOUND")
}

func TestRequestSigning(t *testing.T) {
	e := newTestServer(t)
	ident, mgr := newWallet(t), newWallet(t)
	path := "/v1/identities/" + ident.pub.String() + "/initialize"
	body := map[string]any{"managementKey": mgr.pub}

	e.call(t, http.MethodPost, path, body, nil, nil).expect(t, http.StatusUnauthorized, "IDENTITY_AUTHZ")
	// A signature by someone else does not verify
	e.call(t, http.MethodPost, path, body, &mgr, map[string]string{headerSigner: ident.pub.String()}).
		expect(t, http.StatusUnauthorized, "IDENTITY_AUTHZ")
	e.call(t, http.MethodPost, path, body, &ident, map[string]string{headerSignatureNonce: ""}).
		expect(t, http.StatusUnauthorized, "IDENTITY_AUTHZ")
	e.call(t, http.MethodPost, path, body, &ident, map[string]string{headerSignatureTimestamp: "soon"}).
		expect(t, http.StatusUnauthorized, "IDENTITY_AUTHZ")

	// Timestamps outside the skew window are refused even when correctly signed
	raw, _ := json.Marshal(body)
	stale := signHeaders(ident, http.MethodPost, path, time.Now().Add(-2*maxClockSkew), uuid.NewString(), raw)
	e.send(t, http.MethodPost, path, raw, stale).expect(t, http.StatusUnauthorized, "IDENTITY_AUTHZ")
	early := signHeaders(ident, http.MethodPost, path, time.Now().Add(2*maxClockSkew), uuid.NewString(), raw)
	e.send(t, http.MethodPost, path, raw, early).expect(t, http.StatusUnauthorized, "IDENTITY_AUTHZ")

	e.call(t, http.MethodPost, path, body, &ident, nil).expect(t, http.StatusCreated, "")

	// Unknown fields are rejected after the signature checks out
	e.call(t, http.MethodPost, "/v1/identities/"+ident.pub.String()+"/keys", map[string]any{"key": mgr.pub, "purpose": 2, "extra": true}, &mgr, nil).
		expect(t, http.StatusBadRequest, "IDENTITY_VALIDATION")

	// With checking disabled the signer header is trusted
	dev := newTestServer(t, func(c *config.Config) { c.RequireSignatures = false })
	dev.call(t, http.MethodPost, path, body, nil, map[string]string{headerSigner: ident.pub.String()}).
		expect(t, http.StatusCreated, "")
}

func TestSignedRequestReplay(t *testing.T) {
	e := newTestServer(t)
	ident, mgr, other := newWallet(t), newWallet(t), newWallet(t)
	addr := ident.pub
	path := "/v1/identities/" + addr.String()

	e.call(t, http.MethodPost, path+"/initialize", map[string]any{"managementKey": mgr.pub}, &ident, nil).expect(t, http.StatusCreated, "")
	e.call(t, http.MethodPost, path+"/keys", map[string]any{"key": mgr.pub, "purpose": 3, "keyType": 1}, &mgr, nil).expect(t, http.StatusOK, "")
	for _, topic := range []uint64{1, 2} {
		e.call(t, http.MethodPost, path+"/claims", map[string]any{"topic": topic, "scheme": 1, "issuer": addr, "data": []byte("self")}, &mgr, nil).
			expect(t, http.StatusCreated, "")
	}
	first := path + "/claims/" + identity.ClaimID(addr, 1).String()
	second := path + "/claims/" + identity.ClaimID(addr, 2).String()

	// An empty-body revoke signature is bound to its claim
	revoke := signHeaders(mgr, http.MethodPost, first+"/revoke", time.Now(), uuid.NewString(), nil)
	e.send(t, http.MethodPost, first+"/revoke", nil, revoke).expect(t, http.StatusOK, "")
	e.send(t, http.MethodPost, second+"/revoke", nil, revoke).expect(t, http.StatusUnauthorized, "IDENTITY_AUTHZ")
	e.send(t, http.MethodPost, second+"/remove", nil, revoke).expect(t, http.StatusUnauthorized, "IDENTITY_AUTHZ")

	// The same request cannot be replayed once its nonce is spent
	remove := signHeaders(mgr, http.MethodPost, second+"/remove", time.Now(), uuid.NewString(), nil)
	e.send(t, http.MethodPost, second+"/remove", nil, remove).expect(t, http.StatusOK, "")
	e.send(t, http.MethodPost, second+"/remove", nil, remove).expect(t, http.StatusUnauthorized, "IDENTITY_AUTHZ")

	// A signed key grant cannot be turned into a removal
	raw, _ := json.Marshal(map[string]any{"key": other.pub, "purpose": 2, "keyType": 1})
	grant := signHeaders(mgr, http.MethodPost, path+"/keys", time.Now(), uuid.NewString(), raw)
	e.send(t, http.MethodPost, path+"/keys", raw, grant).expect(t, http.StatusOK, "")
	e.send(t, http.MethodPost, path+"/keys/remove", raw, grant).expect(t, http.StatusUnauthorized, "IDENTITY_AUTHZ")
	r := e.call(t, http.MethodGet, path+"/keys/"+other.pub.String(), nil, nil, nil)
	r.expect(t, http.StatusOK, "")
	var entry identity.KeyEntry
	r.decode(t, &entry)
	if !entry.Purposes.Has(identity.PurposeAction) {
		t.Fatalf("granted key lost its purpose: %s", r.body)
	}

	// Nonces are scoped to the signer
	nonce := uuid.NewString()
	e.send(t, http.MethodPost, path+"/keys", raw, signHeaders(mgr, http.MethodPost, path+"/keys", time.Now(), nonce, raw)).
		expect(t, http.StatusConflict, "KEY_CONFLICT")
	e.send(t, http.MethodPost, path+"/keys", raw, signHeaders(other, http.MethodPost, path+"/keys", time.Now(), nonce, raw)).
		expect(t, http.StatusForbidden, "INSUFFICIENT_PERMISSIONS")
}

func TestIdempotentReplay(t *testing.T) {
	e := newTestServer(t)
	ident, mgr := newWallet(t), newWallet(t)
	path := "/v1/identities/" + ident.pub.String() + "/initialize"
	body := map[string]any{"managementKey": mgr.pub}
	headers := map[string]string{headerIdempotencyKey: "init-1"}

	raw, _ := json.Marshal(body)
	signed := signHeaders(ident, http.MethodPost, path, time.Now(), uuid.NewString(), raw)
	signed[headerIdempotencyKey] = "init-1"
	first := e.send(t, http.MethodPost, path, raw, signed)
	first.expect(t, http.StatusCreated, "")
	// A retry of the exact request is answered from the cache, spent nonce included
	second := e.send(t, http.MethodPost, path, raw, signed)
	second.expect(t, http.StatusCreated, "")
	if !bytes.Equal(first.body, second.body) {
		t.Fatalf("replayed body differs:\n%s\n%s", first.body, second.body)
	}
	e.call(t, http.MethodPost, path, body, &ident, headers).expect(t, http.StatusCreated, "")

	// Without the key the retry reaches the ledger
	e.call(t, http.MethodPost, path, body, &ident, nil).expect(t, http.StatusConflict, "ALREADY_INITIALIZED")

	// Keys are scoped to the request path
	next := newWallet(t)
	other := "/v1/identities/" + next.pub.String() + "/initialize"
	e.call(t, http.MethodPost, other, body, &next, headers).expect(t, http.StatusCreated, "")
}

func TestFactoryEndpoints(t *testing.T) {
	e := newTestServer(t)
	owner, user, stranger := newWallet(t), newWallet(t), newWallet(t)

	e.call(t, http.MethodGet, "/v1/factory/owner", nil, nil, nil).expect(t, http.StatusConflict, "FACTORY_NOT_INITIALIZED")
	e.call(t, http.MethodPost, "/v1/factory/initialize", map[string]any{"id": 1}, &owner, nil).expect(t, http.StatusCreated, "")
	e.call(t, http.MethodPost, "/v1/factory/initialize", map[string]any{"id": 1}, &owner, nil).
		expect(t, http.StatusConflict, "FACTORY_ALREADY_INITIALIZED")

	r := e.call(t, http.MethodGet, "/v1/factory/owner", nil, nil, nil)
	r.expect(t, http.StatusOK, "")
	var o struct {
		Owner model.Pubkey `json:"owner"`
	}
	r.decode(t, &o)
	if o.Owner != owner.pub {
		t.Fatalf("owner = %s", o.Owner)
	}

	var salt model.Hash
	salt[0] = 42

	// The derived address cannot be initialized ahead of the factory
	r = e.call(t, http.MethodGet, "/v1/factory/address?wallet="+user.pub.String()+"&salt="+salt.String(), nil, nil, nil)
	r.expect(t, http.StatusOK, "")
	var pda struct {
		Identity model.Pubkey `json:"identity"`
	}
	r.decode(t, &pda)
	e.call(t, http.MethodPost, "/v1/identities/"+pda.Identity.String()+"/initialize", map[string]any{"managementKey": stranger.pub}, &stranger, nil).
		expect(t, http.StatusUnauthorized, "MISSING_SIGNER")

	r = e.call(t, http.MethodPost, "/v1/factory/identities", map[string]any{"wallet": user.pub, "salt": salt, "managementKey": user.pub}, &owner, nil)
	r.expect(t, http.StatusCreated, "")
	var created struct {
		Identity model.Pubkey `json:"identity"`
		DID      string       `json:"did"`
	}
	r.decode(t, &created)
	if !strings.HasPrefix(created.DID, "did:sol:") {
		t.Fatalf("unexpected DID %q", created.DID)
	}

	r = e.call(t, http.MethodGet, "/v1/factory/address?wallet="+user.pub.String()+"&salt="+salt.String(), nil, nil, nil)
	r.expect(t, http.StatusOK, "")
	var derived struct {
		Identity model.Pubkey `json:"identity"`
	}
	r.decode(t, &derived)
	if derived.Identity != created.Identity {
		t.Fatalf("derived %s want %s", derived.Identity, created.Identity)
	}

	r = e.call(t, http.MethodGet, "/v1/factory/wallets/"+user.pub.String()+"/identity", nil, nil, nil)
	r.expect(t, http.StatusOK, "")
	var link struct {
		Identity model.Pubkey `json:"identity"`
	}
	r.decode(t, &link)
	if link.Identity != created.Identity {
		t.Fatalf("linked identity = %s", link.Identity)
	}
	e.call(t, http.MethodGet, "/v1/factory/wallets/"+stranger.pub.String()+"/identity", nil, nil, nil).
		expect(t, http.StatusNotFound, "WALLET_NOT_LINKED")

	r = e.call(t, http.MethodGet, "/v1/identities/"+created.Identity.String()+"/did.json", nil, nil, nil)
	r.expect(t, http.StatusOK, "")
	var doc struct {
		Document didDocument `json:"document"`
	}
	r.decode(t, &doc)
	if doc.Document.ID != created.DID || len(doc.Document.VerificationMethod) != 1 || len(doc.Document.Authentication) != 1 {
		t.Fatalf("unexpected document: %s", r.body)
	}
	if doc.Document.VerificationMethod[0].PublicKeyMultibase != multibase(user.pub) {
		t.Fatalf("verification method key mismatch")
	}

	e.call(t, http.MethodPost, "/v1/factory/remotes", map[string]any{"eid": testEid, "remote": label("peer")}, &stranger, nil).
		expect(t, http.StatusForbidden, "FACTORY_UNAUTHORIZED")
	e.call(t, http.MethodPost, "/v1/factory/remotes", map[string]any{"eid": testEid, "remote": label("peer")}, &owner, nil).
		expect(t, http.StatusOK, "")

	r = e.call(t, http.MethodGet, "/v1/factory", nil, nil, nil)
	r.expect(t, http.StatusOK, "")
	var view ledger.FactoryView
	r.decode(t, &view)
	if view.Remotes[testEid] != label("peer") || len(view.Identities) != 1 {
		t.Fatalf("unexpected factory view: %s", r.body)
	}

	r = e.call(t, http.MethodGet, "/.well-known/did.json", nil, nil, nil)
	r.expect(t, http.StatusOK, "")
}

func TestRelayReceive(t *testing.T) {
	peer := label("peer")
	e := newTestServer(t, func(c *config.Config) {
		c.RelayPeers = []config.Peer{{Name: "testnet", Eid: testEid, Sender: peer.String()}}
	})
	owner, user := newWallet(t), newWallet(t)
	e.call(t, http.MethodPost, "/v1/factory/initialize", map[string]any{"id": 1}, &owner, nil).expect(t, http.StatusCreated, "")
	e.call(t, http.MethodPost, "/v1/factory/remotes", map[string]any{"eid": testEid, "remote": peer}, &owner, nil).expect(t, http.StatusOK, "")

	var salt model.Hash
	salt[31] = 1
	msg, err := relay.Encode(relay.CreateIdentity{Wallet: user.pub, Salt: salt})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	params := relay.ReceiveParams{SrcEid: testEid, Sender: peer, Nonce: 1, Message: msg}
	bearer := func(token string) map[string]string {
		return map[string]string{headerAuthorization: "Bearer " + token}
	}

	e.call(t, http.MethodPost, "/v1/relay/receive", params, nil, nil).expect(t, http.StatusUnauthorized, "RELAY_UNAUTHENTICATED")
	intruder := newWallet(t)
	e.call(t, http.MethodPost, "/v1/relay/receive", params, nil, bearer(e.relayToken(t, testKeyID, intruder.priv))).
		expect(t, http.StatusUnauthorized, "RELAY_UNAUTHENTICATED")
	e.call(t, http.MethodPost, "/v1/relay/receive", params, nil, bearer(e.relayToken(t, "unknown", e.relayer.priv))).
		expect(t, http.StatusUnauthorized, "RELAY_UNAUTHENTICATED")

	// The allowlist is checked before the factory remotes
	denied := relay.ReceiveParams{SrcEid: testEid + 1, Sender: peer, Nonce: 2, Message: msg}
	e.call(t, http.MethodPost, "/v1/relay/receive", denied, nil, bearer(e.relayToken(t, testKeyID, e.relayer.priv))).
		expect(t, http.StatusForbidden, "RELAY_PEER_DENIED")

	r := e.call(t, http.MethodPost, "/v1/relay/receive", params, nil, bearer(e.relayToken(t, testKeyID, e.relayer.priv)))
	r.expect(t, http.StatusOK, "")
	var res struct {
		Outcome relay.Outcome `json:"outcome"`
	}
	r.decode(t, &res)
	if res.Outcome.Method != relay.MethodCreateIdentity || res.Outcome.Identity.IsZero() {
		t.Fatalf("unexpected outcome: %s", r.body)
	}

	bad := relay.ReceiveParams{SrcEid: testEid, Sender: peer, Nonce: 3, Message: []byte{3, 'F', 'o', 'o'}}
	e.call(t, http.MethodPost, "/v1/relay/receive", bad, nil, bearer(e.relayToken(t, testKeyID, e.relayer.priv))).
		expect(t, http.StatusUnprocessableEntity, "INVALID_INSTRUCTION")
}

func TestRelayerKeyRotation(t *testing.T) {
	e := newTestServer(t)
	owner, stranger, next := newWallet(t), newWallet(t), newWallet(t)
	e.call(t, http.MethodPost, "/v1/factory/initialize", map[string]any{"id": 1}, &owner, nil).expect(t, http.StatusCreated, "")

	add := map[string]any{"id": "relayer-2", "publicKey": next.pub.Bytes()}
	e.call(t, http.MethodPost, "/v1/relay/keys", add, &stranger, nil).expect(t, http.StatusForbidden, "IDENTITY_AUTHZ")
	e.call(t, http.MethodPost, "/v1/relay/keys", add, &owner, nil).expect(t, http.StatusCreated, "")
	e.call(t, http.MethodPost, "/v1/relay/keys", add, &owner, nil).expect(t, http.StatusConflict, "RELAYER_KEY_EXISTS")

	r := e.call(t, http.MethodGet, "/v1/relay/keys", nil, nil, nil)
	r.expect(t, http.StatusOK, "")
	var keys []relayerKeyView
	r.decode(t, &keys)
	if len(keys) != 2 {
		t.Fatalf("active keys = %d want 2", len(keys))
	}

	e.call(t, http.MethodPost, "/v1/relay/keys/"+testKeyID+"/retire", map[string]any{"overlapSeconds": 0}, &owner, nil).
		expect(t, http.StatusOK, "")
	e.call(t, http.MethodPost, "/v1/relay/keys/missing/retire", map[string]any{"overlapSeconds": 0}, &owner, nil).
		expect(t, http.StatusNotFound, "RELAYER_KEY_NOT_FOUND")

	// An undecodable message proves the token passed authentication
	bad := relay.ReceiveParams{SrcEid: testEid, Sender: label("peer"), Message: []byte{3, 'F', 'o', 'o'}}
	e.call(t, http.MethodPost, "/v1/relay/receive", bad, nil, map[string]string{headerAuthorization: "Bearer " + e.relayToken(t, testKeyID, e.relayer.priv)}).
		expect(t, http.StatusUnauthorized, "RELAY_UNAUTHENTICATED")
	r = e.call(t, http.MethodPost, "/v1/relay/receive", bad, nil, map[string]string{headerAuthorization: "Bearer " + e.relayToken(t, "relayer-2", next.priv)})
	if r.status == http.StatusUnauthorized {
		t.Fatalf("rotated key rejected: %s", r.body)
	}
}

func TestVerifyEd25519(t *testing.T) {
	e := newTestServer(t)
	signer := newWallet(t)
	msg := []byte("hello")
	sig := signer.sign(msg)

	e.call(t, http.MethodPost, "/v1/verify/ed25519", map[string]any{"publicKey": signer.pub, "message": msg, "signature": sig}, nil, nil).
		expect(t, http.StatusOK, "")
	e.call(t, http.MethodPost, "/v1/verify/ed25519", map[string]any{"publicKey": signer.pub, "message": []byte("other"), "signature": sig}, nil, nil).
		expect(t, http.StatusUnprocessableEntity, "PRECOMPILE_FAILED")

	// A valid instruction over a different message does not match
	other := newWallet(t)
	ix := model.Instruction{ProgramID: label("not-ed25519"), Data: []byte{1}}
	e.call(t, http.MethodPost, "/v1/verify/ed25519", map[string]any{"publicKey": other.pub, "message": msg, "signature": sig, "instruction": ix}, nil, nil).
		expect(t, http.StatusUnprocessableEntity, "INVALID_SIGNATURE")
}

func TestRateLimit(t *testing.T) {
	e := newTestServer(t, func(c *config.Config) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 1
	})
	ident := newWallet(t)
	path := "/v1/identities/" + ident.pub.String() + "/initialize"
	e.call(t, http.MethodPost, path, map[string]any{"managementKey": ident.pub}, &ident, nil).expect(t, http.StatusCreated, "")
	e.call(t, http.MethodPost, path, map[string]any{"managementKey": ident.pub}, &ident, nil).expect(t, http.StatusTooManyRequests, "RATE_LIMITED")
	// Reads are not limited
	e.call(t, http.MethodGet, "/v1/identities/"+ident.pub.String(), nil, nil, nil).expect(t, http.StatusOK, "")
}

func TestStatusForCategory(t *testing.T) {
	tests := []struct {
		code identity.Code
		want int
	}{
		{identity.CodeAlreadyInitialized, http.StatusConflict},
		{identity.CodeNotInitialized, http.StatusConflict},
		{identity.CodeKeyNotFound, http.StatusNotFound},
		{identity.CodeClaimNotFound, http.StatusNotFound},
		{identity.CodeKeyConflict, http.StatusConflict},
		{identity.CodeClaimAlreadyRevoked, http.StatusConflict},
		{identity.CodeInsufficientPermissions, http.StatusForbidden},
		{identity.CodeInvalidSignature, http.StatusUnprocessableEntity},
		{identity.CodeInvalidAddressBytes, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		if got := statusForCategory(tt.code.Category()); got != tt.want {
			t.Errorf("%s: status = %d want %d", tt.code, got, tt.want)
		}
	}
}

func TestBearerToken(t *testing.T) {
	if _, err := bearerToken(""); err == nil {
		t.Fatalf("empty header accepted")
	}
	if _, err := bearerToken("Basic abc"); err == nil {
		t.Fatalf("basic scheme accepted")
	}
	tok, err := bearerToken("bearer  abc.def ")
	if err != nil || tok != "abc.def" {
		t.Fatalf("token = %q err = %v", tok, err)
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newTestServer(t)
	req, _ := http.NewRequest(http.MethodOptions, e.ts.URL+"/v1/factory/identities", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d want %d", resp.StatusCode, http.StatusNoContent)
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Headers"), headerSignature) {
		t.Fatalf("allow headers = %q", resp.Header.Get("Access-Control-Allow-Headers"))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestServer(t)
	e.call(t, http.MethodGet, "/v1/factory", nil, nil, nil).expect(t, http.StatusOK, "")

	resp, err := http.Get(e.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "onchainid_http_requests_total") {
		t.Fatalf("request counter missing from metrics output")
	}
}
