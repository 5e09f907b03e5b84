package server

import (
	"context"
	"net/http"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/ledger"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/relay"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/runtime"
)

// walletOp is the signature shared by LinkWallet and UnlinkWallet.
type walletOp func(ctx context.Context, auth ledger.Auth, wallet, ident model.Pubkey) (runtime.Receipt, error)

func (h *Handler) handleFactoryGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.ledger.Factory(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.Header().Set(headerCacheControl, cacheControlQuery)
	h.writeSuccess(w, http.StatusOK, view, nil, r)
}

func (h *Handler) handleFactoryInitialize(w http.ResponseWriter, r *http.Request) {
	var input struct {
		ID       uint8        `json:"id"`
		Admin    model.Pubkey `json:"admin"`
		Endpoint model.Pubkey `json:"endpoint"`
	}
	signer, ok := h.decodeSigned(w, r, &input)
	if !ok {
		return
	}
	rcpt, err := h.ledger.InitializeFactory(r.Context(), ledger.Auth{Signer: signer}, relay.InitParams{
		ID:       input.ID,
		Admin:    input.Admin,
		Endpoint: input.Endpoint,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeMutation(w, r, http.StatusCreated, mutation{Receipt: rcpt})
}

// handleFactoryAddress derives the identity address for ?wallet=&salt=
// without touching state.
func (h *Handler) handleFactoryAddress(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	wallet, err := model.ParsePubkey(q.Get("wallet"))
	if err != nil {
		h.writeValidation(w, r, "invalid wallet: "+err.Error())
		return
	}
	salt, err := model.ParseHash(q.Get("salt"))
	if err != nil {
		h.writeValidation(w, r, "invalid salt: "+err.Error())
		return
	}
	addr, err := h.ledger.IdentityAddress(wallet, salt)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]any{"identity": addr, "did": did.Identifier(addr)}, nil, r)
}

func (h *Handler) handleFactoryCreateIdentity(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Wallet        model.Pubkey `json:"wallet"`
		Salt          *model.Hash  `json:"salt"`
		ManagementKey model.Pubkey `json:"managementKey"`
	}
	signer, ok := h.decodeSigned(w, r, &input)
	if !ok {
		return
	}
	var salt model.Hash
	if input.Salt != nil {
		salt = *input.Salt
	} else {
		fresh, err := did.NewSalt()
		if err != nil {
			h.writeLedgerError(w, r, err)
			return
		}
		salt = model.Hash(fresh)
	}
	addr, rcpt, err := h.ledger.CreateIdentity(r.Context(), ledger.Auth{Signer: signer}, input.Wallet, salt, input.ManagementKey)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeMutation(w, r, http.StatusCreated, map[string]any{
		"txId":        rcpt.TxID,
		"events":      rcpt.Events,
		"committedAt": rcpt.CommittedAt,
		"identity":    addr,
		"did":         did.Identifier(addr),
		"salt":        salt,
	})
}

func (h *Handler) handleWalletLink(w http.ResponseWriter, r *http.Request) {
	h.walletMutation(w, r, h.ledger.LinkWallet)
}

func (h *Handler) handleWalletUnlink(w http.ResponseWriter, r *http.Request) {
	h.walletMutation(w, r, h.ledger.UnlinkWallet)
}

func (h *Handler) walletMutation(w http.ResponseWriter, r *http.Request, op walletOp) {
	var input struct {
		Wallet   model.Pubkey `json:"wallet"`
		Identity model.Pubkey `json:"identity"`
	}
	signer, ok := h.decodeSigned(w, r, &input)
	if !ok {
		return
	}
	rcpt, err := op(r.Context(), ledger.Auth{Signer: signer}, input.Wallet, input.Identity)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeMutation(w, r, http.StatusOK, mutation{Receipt: rcpt, Identity: &input.Identity})
}

func (h *Handler) handleWalletIdentity(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.pathPubkey(w, r, "wallet")
	if !ok {
		return
	}
	ident, err := h.ledger.IdentityOf(r.Context(), wallet)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.Header().Set(headerCacheControl, cacheControlQuery)
	h.writeSuccess(w, http.StatusOK, map[string]any{"wallet": wallet, "identity": ident, "did": did.Identifier(ident)}, nil, r)
}

func (h *Handler) handleFactoryWallets(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.pathPubkey(w, r, "identity")
	if !ok {
		return
	}
	wallets, err := h.ledger.Wallets(r.Context(), ident)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if wallets == nil {
		wallets = []model.Pubkey{}
	}
	w.Header().Set(headerCacheControl, cacheControlQuery)
	h.writeSuccess(w, http.StatusOK, wallets, map[string]any{"count": len(wallets)}, r)
}

func (h *Handler) handleOwnerGet(w http.ResponseWriter, r *http.Request) {
	owner, err := h.ledger.Owner(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]any{"owner": owner}, nil, r)
}

func (h *Handler) handleOwnerSet(w http.ResponseWriter, r *http.Request) {
	var input struct {
		NewOwner model.Pubkey `json:"newOwner"`
	}
	signer, ok := h.decodeSigned(w, r, &input)
	if !ok {
		return
	}
	rcpt, err := h.ledger.SetOwner(r.Context(), ledger.Auth{Signer: signer}, input.NewOwner)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeMutation(w, r, http.StatusOK, mutation{Receipt: rcpt})
}

func (h *Handler) handleRemoteSet(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Eid    uint32       `json:"eid"`
		Remote model.Pubkey `json:"remote"`
	}
	signer, ok := h.decodeSigned(w, r, &input)
	if !ok {
		return
	}
	rcpt, err := h.ledger.SetRemote(r.Context(), ledger.Auth{Signer: signer}, input.Eid, input.Remote)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeMutation(w, r, http.StatusOK, mutation{Receipt: rcpt})
}
