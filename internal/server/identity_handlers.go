package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/identity"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/ledger"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/precompile"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/runtime"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/storage"
)

// mutation is the response body of every state-changing endpoint.
type mutation struct {
	runtime.Receipt
	Identity *model.Pubkey `json:"identity,omitempty"`
	ClaimID  *model.Hash   `json:"claimId,omitempty"`
}

// ed25519Proof describes a verification instruction travelling with a request.
type ed25519Proof struct {
	PublicKey model.Pubkey    `json:"publicKey"`
	Message   []byte          `json:"message"`
	Signature model.Signature `json:"signature"`
}

func (p *ed25519Proof) instructions() []model.Instruction {
	if p == nil {
		return nil
	}
	return []model.Instruction{precompile.NewEd25519Instruction(p.PublicKey, p.Message, p.Signature)}
}

type claimView struct {
	ClaimID model.Hash `json:"claimId"`
	identity.Claim
}

func (h *Handler) handleIdentityGet(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathPubkey(w, r, "address")
	if !ok {
		return
	}
	view, err := h.ledger.Identity(r.Context(), addr)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.Header().Set(headerCacheControl, cacheControlQuery)
	h.writeSuccess(w, http.StatusOK, view, nil, r)
}

func (h *Handler) handleIdentityInitialize(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathPubkey(w, r, "address")
	if !ok {
		return
	}
	var input struct {
		ManagementKey model.Pubkey `json:"managementKey"`
	}
	signer, ok := h.decodeSigned(w, r, &input)
	if !ok {
		return
	}
	rcpt, err := h.ledger.InitializeIdentity(r.Context(), ledger.Auth{Signer: signer}, addr, input.ManagementKey)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeMutation(w, r, http.StatusCreated, mutation{Receipt: rcpt, Identity: &addr})
}

func (h *Handler) handleKeyList(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathPubkey(w, r, "address")
	if !ok {
		return
	}
	keys, err := h.ledger.Keys(r.Context(), addr)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if keys == nil {
		keys = []identity.KeyEntry{}
	}
	w.Header().Set(headerCacheControl, cacheControlQuery)
	h.writeSuccess(w, http.StatusOK, keys, map[string]any{"count": len(keys)}, r)
}

func (h *Handler) handleKeyGet(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathPubkey(w, r, "address")
	if !ok {
		return
	}
	key, ok := h.pathPubkey(w, r, "key")
	if !ok {
		return
	}
	entry, err := h.ledger.Key(r.Context(), addr, key)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.Header().Set(headerCacheControl, cacheControlQuery)
	h.writeSuccess(w, http.StatusOK, entry, nil, r)
}

func (h *Handler) handleKeyAdd(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathPubkey(w, r, "address")
	if !ok {
		return
	}
	var input struct {
		Key     model.Pubkey `json:"key"`
		Purpose uint32       `json:"purpose"`
		KeyType uint32       `json:"keyType"`
	}
	signer, ok := h.decodeSigned(w, r, &input)
	if !ok {
		return
	}
	rcpt, err := h.ledger.AddKey(r.Context(), ledger.Auth{Signer: signer}, addr, input.Key, input.Purpose, input.KeyType)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeMutation(w, r, http.StatusOK, mutation{Receipt: rcpt, Identity: &addr})
}

func (h *Handler) handleKeyRemove(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathPubkey(w, r, "address")
	if !ok {
		return
	}
	var input struct {
		Key     model.Pubkey `json:"key"`
		Purpose uint32       `json:"purpose"`
	}
	signer, ok := h.decodeSigned(w, r, &input)
	if !ok {
		return
	}
	rcpt, err := h.ledger.RemoveKey(r.Context(), ledger.Auth{Signer: signer}, addr, input.Key, input.Purpose)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeMutation(w, r, http.StatusOK, mutation{Receipt: rcpt, Identity: &addr})
}

func (h *Handler) handleClaimList(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathPubkey(w, r, "address")
	if !ok {
		return
	}
	view, err := h.ledger.Identity(r.Context(), addr)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if !view.Initialized {
		h.writeLedgerError(w, r, identity.ErrNotInitialized)
		return
	}
	ids := view.Claims
	if ids == nil {
		ids = []model.Hash{}
	}
	w.Header().Set(headerCacheControl, cacheControlQuery)
	h.writeSuccess(w, http.StatusOK, ids, map[string]any{"count": len(ids)}, r)
}

func (h *Handler) handleClaimAdd(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathPubkey(w, r, "address")
	if !ok {
		return
	}
	var input struct {
		Topic        uint64          `json:"topic"`
		Scheme       uint64          `json:"scheme"`
		Issuer       model.Pubkey    `json:"issuer"`
		IssuerWallet model.Pubkey    `json:"issuerWallet"`
		Signature    model.Signature `json:"signature"`
		Data         []byte          `json:"data"`
		URI          string          `json:"uri"`
		Proof        *ed25519Proof   `json:"proof"`
	}
	signer, ok := h.decodeSigned(w, r, &input)
	if !ok {
		return
	}
	auth := ledger.Auth{Signer: signer, Instructions: input.Proof.instructions()}
	claimID, rcpt, err := h.ledger.AddClaim(r.Context(), auth, addr, identity.ClaimInput{
		Topic:        input.Topic,
		Scheme:       input.Scheme,
		IssuerWallet: input.IssuerWallet,
		Issuer:       input.Issuer,
		Signature:    input.Signature,
		Data:         input.Data,
		URI:          input.URI,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeMutation(w, r, http.StatusCreated, mutation{Receipt: rcpt, Identity: &addr, ClaimID: &claimID})
}

func (h *Handler) handleClaimGet(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathPubkey(w, r, "address")
	if !ok {
		return
	}
	claimID, ok := h.pathHash(w, r, "claimId")
	if !ok {
		return
	}
	c, err := h.ledger.Claim(r.Context(), addr, claimID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.Header().Set(headerCacheControl, cacheControlQuery)
	h.writeSuccess(w, http.StatusOK, claimView{ClaimID: claimID, Claim: c}, nil, r)
}

func (h *Handler) handleClaimRemove(w http.ResponseWriter, r *http.Request) {
	h.claimMutation(w, r, h.ledger.RemoveClaim)
}

func (h *Handler) handleClaimRevoke(w http.ResponseWriter, r *http.Request) {
	h.claimMutation(w, r, h.ledger.RevokeClaim)
}

// claimMutation handles the signed, body-less claim operations.
func (h *Handler) claimMutation(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, auth ledger.Auth, addr model.Pubkey, claimID model.Hash) (runtime.Receipt, error)) {
	addr, ok := h.pathPubkey(w, r, "address")
	if !ok {
		return
	}
	claimID, ok := h.pathHash(w, r, "claimId")
	if !ok {
		return
	}
	var input struct{}
	signer, ok := h.decodeSigned(w, r, &input)
	if !ok {
		return
	}
	rcpt, err := op(r.Context(), ledger.Auth{Signer: signer}, addr, claimID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeMutation(w, r, http.StatusOK, mutation{Receipt: rcpt, Identity: &addr, ClaimID: &claimID})
}

func (h *Handler) handleRevocationGet(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathPubkey(w, r, "address")
	if !ok {
		return
	}
	sig, err := model.ParseSignature(r.PathValue("signature"))
	if err != nil {
		h.writeValidation(w, r, "invalid signature: "+err.Error())
		return
	}
	revoked, err := h.ledger.IsClaimRevoked(r.Context(), addr, sig)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.Header().Set(headerCacheControl, cacheControlQuery)
	h.writeSuccess(w, http.StatusOK, map[string]any{"signature": sig, "revoked": revoked}, nil, r)
}

func (h *Handler) handleIdentityEvents(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathPubkey(w, r, "address")
	if !ok {
		return
	}
	h.listEvents(w, r, addr)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	h.listEvents(w, r, model.Pubkey{})
}

// listEvents pages through the event log with ?after=<id>&limit=<n>.
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request, addr model.Pubkey) {
	filter := storage.EventFilter{Address: addr}
	q := r.URL.Query()
	if v := q.Get("after"); v != "" {
		after, err := strconv.ParseInt(v, 10, 64)
		if err != nil || after < 0 {
			h.writeValidation(w, r, "after must be a non-negative integer")
			return
		}
		filter.AfterID = after
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > maxEventPage {
			h.writeValidation(w, r, "limit must be between 1 and "+strconv.Itoa(maxEventPage))
			return
		}
		filter.Limit = limit
	}
	events, err := h.ledger.Events(r.Context(), filter)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if events == nil {
		events = []model.EventRecord{}
	}
	meta := map[string]any{"count": len(events)}
	if len(events) > 0 {
		meta["next"] = events[len(events)-1].ID
	}
	w.Header().Set(headerCacheControl, cacheControlQuery)
	h.writeSuccess(w, http.StatusOK, events, meta, r)
}

// maxEventPage caps a single events page.
const maxEventPage = 1000

func (h *Handler) handleVerifyEd25519(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.writeValidation(w, r, err.Error())
		return
	}
	var input struct {
		PublicKey   model.Pubkey       `json:"publicKey"`
		Message     []byte             `json:"message"`
		Signature   model.Signature    `json:"signature"`
		Instruction *model.Instruction `json:"instruction"`
	}
	if err := decodeJSON(body, &input); err != nil {
		h.writeValidation(w, r, err.Error())
		return
	}
	// Without an explicit instruction the expected values are checked as a
	// self-contained verification instruction.
	ix := precompile.NewEd25519Instruction(input.PublicKey, input.Message, input.Signature)
	if input.Instruction != nil {
		ix = *input.Instruction
	}
	err = h.ledger.VerifyEd25519(r.Context(), []model.Instruction{ix}, input.PublicKey, input.Message, input.Signature)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]any{"verified": true}, nil, r)
}
