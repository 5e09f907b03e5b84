package relay

import "github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"

// Event is a record emitted by a successful factory operation.
type Event interface {
	EventName() string
}

type FactoryInitialized struct {
	Owner model.Pubkey `json:"owner"`
}

type IdentityCreated struct {
	Wallet          model.Pubkey `json:"wallet"`
	IdentityAddress model.Pubkey `json:"identityAddress"`
}

type WalletLinked struct {
	Wallet   model.Pubkey `json:"wallet"`
	Identity model.Pubkey `json:"identity"`
}

type WalletUnlinked struct {
	Wallet   model.Pubkey `json:"wallet"`
	Identity model.Pubkey `json:"identity"`
}

type OwnerSet struct {
	NewOwner model.Pubkey `json:"newOwner"`
}

type RemoteSet struct {
	Eid    uint32       `json:"eid"`
	Remote model.Pubkey `json:"remote"`
}

func (FactoryInitialized) EventName() string { return "FactoryInitialized" }
func (IdentityCreated) EventName() string    { return "IdentityCreated" }
func (WalletLinked) EventName() string       { return "WalletLinked" }
func (WalletUnlinked) EventName() string     { return "WalletUnlinked" }
func (OwnerSet) EventName() string           { return "OwnerSet" }
func (RemoteSet) EventName() string          { return "RemoteSet" }
