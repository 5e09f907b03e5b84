package identity

import "github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"

// Event is a record emitted by a successful identity mutation.
type Event interface {
	EventName() string
}

// Event names as published in the event log.
const (
	EventKeyAdded     = "KeyAdded"
	EventKeyRemoved   = "KeyRemoved"
	EventClaimAdded   = "ClaimAdded"
	EventClaimRemoved = "ClaimRemoved"
	EventClaimRevoked = "ClaimRevoked"
)

// KeyAdded records a purpose granted to a key.
type KeyAdded struct {
	Manager model.Pubkey `json:"manager"`
	Key     model.Pubkey `json:"key"`
	Purpose Purpose      `json:"purpose"`
	KeyType KeyType      `json:"keyType"`
}

// EventName implements Event.
func (KeyAdded) EventName() string { return EventKeyAdded }

// KeyRemoved records a purpose revoked from a key.
type KeyRemoved struct {
	Manager model.Pubkey `json:"manager"`
	Key     model.Pubkey `json:"key"`
	Purpose Purpose      `json:"purpose"`
}

// EventName implements Event.
func (KeyRemoved) EventName() string { return EventKeyRemoved }

// ClaimAdded records a claim stored or replaced on the identity.
type ClaimAdded struct {
	Sender       model.Pubkey    `json:"sender"`
	ClaimID      model.Hash      `json:"claimId"`
	Topic        uint64          `json:"topic"`
	Scheme       uint64          `json:"scheme"`
	Issuer       model.Pubkey    `json:"issuer"`
	IssuerWallet model.Pubkey    `json:"issuerWallet"`
	Signature    model.Signature `json:"signature"`
	Data         []byte          `json:"data"`
	URI          string          `json:"uri"`
}

// EventName implements Event.
func (ClaimAdded) EventName() string { return EventClaimAdded }

// ClaimRemoved records a claim deleted from the identity.
type ClaimRemoved struct {
	Sender  model.Pubkey `json:"sender"`
	ClaimID model.Hash   `json:"claimId"`
}

// EventName implements Event.
func (ClaimRemoved) EventName() string { return EventClaimRemoved }

// ClaimRevoked records that a claim signature was added to the
// revocation ledger.
type ClaimRevoked struct {
	Sender  model.Pubkey `json:"sender"`
	ClaimID model.Hash   `json:"claimId"`
}

// EventName implements Event.
func (ClaimRevoked) EventName() string { return EventClaimRevoked }
