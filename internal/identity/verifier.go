package identity

import (
	"bytes"
	"fmt"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/precompile"
)

// InstructionLoader gives read access to the instructions of the transaction
// the current operation runs in.
type InstructionLoader interface {
	LoadInstructionAt(index int) (model.Instruction, error)
}

// Instructions is an InstructionLoader over a fixed list.
type Instructions []model.Instruction

// LoadInstructionAt implements InstructionLoader.
func (l Instructions) LoadInstructionAt(index int) (model.Instruction, error) {
	if index < 0 || index >= len(l) {
		return model.Instruction{}, fmt.Errorf("%w: instruction %d of %d", ErrIndexOutOfBounds, index, len(l))
	}
	return l[index], nil
}

// SignatureVerifier checks that a transaction carries an Ed25519
// verification instruction for an exact (key, message, signature) triple.
// The verification program itself runs before any program call, so a
// well-formed matching instruction proves the signature is valid.
type SignatureVerifier struct {
	// Index is the position the verification instruction must occupy.
	Index int
	// ProgramID is the expected verification program.
	ProgramID model.Pubkey
}

// DefaultVerifier expects the verification instruction at index 0.
func DefaultVerifier() SignatureVerifier {
	return SignatureVerifier{Index: 0, ProgramID: precompile.Ed25519ProgramID}
}

// Verify fails with ErrInvalidSignature unless the instruction at v.Index is
// a single-signature verification of exactly pub, msg and sig with inline
// data.
func (v SignatureVerifier) Verify(ixs InstructionLoader, pub model.Pubkey, msg []byte, sig model.Signature) error {
	if ixs == nil {
		return fmt.Errorf("%w: no instructions available", ErrInvalidSignature)
	}
	ix, err := ixs.LoadInstructionAt(v.Index)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if ix.ProgramID != v.ProgramID {
		return fmt.Errorf("%w: instruction %d targets %s", ErrInvalidSignature, v.Index, ix.ProgramID)
	}
	if len(ix.Accounts) != 0 {
		return fmt.Errorf("%w: verification instruction takes no accounts", ErrInvalidSignature)
	}
	want := precompile.NewEd25519Instruction(pub, msg, sig)
	if len(ix.Data) != len(want.Data) {
		return fmt.Errorf("%w: data length %d, want %d", ErrInvalidSignature, len(ix.Data), len(want.Data))
	}
	got, err := precompile.ParseOffsets(ix.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	exp, err := precompile.ParseOffsets(want.Data)
	if err != nil {
		return fmt.Errorf("%w: expected instruction: %v", ErrInvalidSignature, err)
	}
	if len(got) != 1 || ix.Data[1] != 0 || got[0] != exp[0] {
		return fmt.Errorf("%w: unexpected offsets layout", ErrInvalidSignature)
	}
	if !bytes.Equal(ix.Data, want.Data) {
		return fmt.Errorf("%w: key, signature or message mismatch", ErrInvalidSignature)
	}
	return nil
}

// VerifyEd25519 runs DefaultVerifier.
func VerifyEd25519(ixs InstructionLoader, pub model.Pubkey, msg []byte, sig model.Signature) error {
	return DefaultVerifier().Verify(ixs, pub, msg, sig)
}
