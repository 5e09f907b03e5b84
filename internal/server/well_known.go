// Package server contains HTTP handlers for the identity service.
// This file renders identities and the factory as DID documents.
package server

import (
	"net/http"
	"strconv"

	"github.com/mr-tron/base58"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/identity"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

var didContext = []string{
	"https://www.w3.org/ns/did/v1",
	"https://w3id.org/security/suites/ed25519-2020/v1",
}

type verificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

type didDocument struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	Controller         string               `json:"controller,omitempty"`
	AlsoKnownAs        []string             `json:"alsoKnownAs,omitempty"`
	VerificationMethod []verificationMethod `json:"verificationMethod"`
	Authentication     []string             `json:"authentication"`
}

// multibase renders a key as base58btc multibase ("z" prefix).
func multibase(pk model.Pubkey) string {
	return "z" + base58.Encode(pk[:])
}

// wellKnownHandler serves the factory's DID document at .well-known/did.json.
// The factory owner is the controller and sole verification method.
func (h *Handler) wellKnownHandler(w http.ResponseWriter, r *http.Request) {
	view, err := h.ledger.Factory(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if !view.Initialized {
		h.writeErrorWithRequest(w, r, http.StatusNotFound, "FACTORY_NOT_INITIALIZED", "factory not initialized", nil)
		return
	}
	id := did.Identifier(view.Address)
	owner := did.Identifier(view.Owner)
	doc := didDocument{
		Context:    didContext,
		ID:         id,
		Controller: owner,
		VerificationMethod: []verificationMethod{{
			ID:                 id + "#owner",
			Type:               "Ed25519VerificationKey2020",
			Controller:         owner,
			PublicKeyMultibase: multibase(view.Owner),
		}},
		Authentication: []string{id + "#owner"},
	}
	h.writeSuccess(w, http.StatusOK, map[string]any{"document": doc}, nil, r)
}

// handleIdentityDocument renders an identity as a DID document. Identity
// addresses are off-curve, so the verification methods are the wallets the
// factory links to the identity; a wallet whose key holds Management on the
// identity also authenticates it.
func (h *Handler) handleIdentityDocument(w http.ResponseWriter, r *http.Request) {
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
	wallets, err := h.ledger.Wallets(r.Context(), addr)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	management := make(map[model.Hash]bool, len(view.Keys))
	for _, k := range view.Keys {
		if k.Purposes.Has(identity.PurposeManagement) {
			management[k.Key] = true
		}
	}

	id := view.DID
	doc := didDocument{
		Context:            didContext,
		ID:                 id,
		VerificationMethod: []verificationMethod{},
		Authentication:     []string{},
	}
	for i, wallet := range wallets {
		vmID := id + "#wallet-" + strconv.Itoa(i+1)
		doc.AlsoKnownAs = append(doc.AlsoKnownAs, did.Identifier(wallet))
		doc.VerificationMethod = append(doc.VerificationMethod, verificationMethod{
			ID:                 vmID,
			Type:               "Ed25519VerificationKey2020",
			Controller:         id,
			PublicKeyMultibase: multibase(wallet),
		})
		if management[identity.HashKey(wallet)] {
			doc.Authentication = append(doc.Authentication, vmID)
		}
	}
	w.Header().Set(headerCacheControl, cacheControlQuery)
	h.writeSuccess(w, http.StatusOK, map[string]any{"document": doc}, nil, r)
}
