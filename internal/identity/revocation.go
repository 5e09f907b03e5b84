package identity

import (
	"encoding/json"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

// RevocationLedger is the append-only set of revoked claim signatures.
type RevocationLedger struct {
	set   map[model.Signature]struct{}
	order []model.Signature
}

// NewRevocationLedger returns an empty ledger.
func NewRevocationLedger() *RevocationLedger {
	return &RevocationLedger{set: make(map[model.Signature]struct{})}
}

// Revoke records sig. Recording the same signature twice fails.
func (l *RevocationLedger) Revoke(sig model.Signature) error {
	if _, ok := l.set[sig]; ok {
		return ErrClaimAlreadyRevoked
	}
	l.set[sig] = struct{}{}
	l.order = append(l.order, sig)
	return nil
}

// IsRevoked reports whether sig has been recorded.
func (l *RevocationLedger) IsRevoked(sig model.Signature) bool {
	_, ok := l.set[sig]
	return ok
}

// Signatures lists revoked signatures in revocation order.
func (l *RevocationLedger) Signatures() []model.Signature {
	return append([]model.Signature(nil), l.order...)
}

// Len returns the number of revoked signatures.
func (l *RevocationLedger) Len() int { return len(l.order) }

func (l *RevocationLedger) clone() *RevocationLedger {
	out := &RevocationLedger{
		set:   make(map[model.Signature]struct{}, len(l.set)),
		order: append([]model.Signature(nil), l.order...),
	}
	for s := range l.set {
		out.set[s] = struct{}{}
	}
	return out
}

// MarshalJSON encodes the ledger as its signatures in revocation order.
func (l *RevocationLedger) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Signatures())
}

// UnmarshalJSON replaces the ledger with the listed signatures. A duplicate
// entry is an error.
func (l *RevocationLedger) UnmarshalJSON(b []byte) error {
	var list []model.Signature
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	out := NewRevocationLedger()
	for _, s := range list {
		if err := out.Revoke(s); err != nil {
			return err
		}
	}
	*l = *out
	return nil
}
