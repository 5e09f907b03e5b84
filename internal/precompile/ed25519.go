// Package precompile implements the Ed25519 signature-verification program
// that transactions may carry next to ordinary program calls. Its instruction
// data follows the host chain's layout:
//
//	[0]      number of signatures (u8)
//	[1]      padding (u8, zero)
//	[2..16)  per signature: seven little-endian u16 offsets
//	         (signature offset, signature instruction index,
//	          public key offset, public key instruction index,
//	          message offset, message size, message instruction index)
//	[16..)   inline public keys, signatures and messages
//
// An instruction index of 0xFFFF refers to the instruction's own data.
package precompile

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

// Ed25519ProgramID is the address of the Ed25519 verification program.
var Ed25519ProgramID = model.MustPubkey("Ed25519SigVerify111111111111111111111111111")

const (
	offsetsStart = 2
	offsetsSize  = 14
	// DataStart is where inline data begins for a single-signature instruction.
	DataStart = offsetsStart + offsetsSize
	// CurrentInstruction is the instruction index meaning "this instruction".
	CurrentInstruction = math.MaxUint16
)

var (
	// ErrInstructionDataSize is returned when the data is too short for its header.
	ErrInstructionDataSize = errors.New("precompile: invalid instruction data size")
	// ErrDataOffsets is returned when an offset points outside the referenced data.
	ErrDataOffsets = errors.New("precompile: invalid data offsets")
	// ErrSignature is returned when a signature does not verify.
	ErrSignature = errors.New("precompile: invalid signature")
)

// Offsets locates one signature's public key, signature and message.
type Offsets struct {
	SignatureOffset           uint16
	SignatureInstructionIndex uint16
	PublicKeyOffset           uint16
	PublicKeyInstructionIndex uint16
	MessageDataOffset         uint16
	MessageDataSize           uint16
	MessageInstructionIndex   uint16
}

// Entry is one resolved (public key, message, signature) triple.
type Entry struct {
	PublicKey model.Pubkey
	Signature model.Signature
	Message   []byte
}

// DataLoader returns the data of the transaction instruction at index.
type DataLoader func(index int) ([]byte, error)

// NewEd25519Instruction builds a single-signature verification instruction
// with the public key, signature and message stored inline.
func NewEd25519Instruction(pub model.Pubkey, msg []byte, sig model.Signature) model.Instruction {
	pubOff := DataStart
	sigOff := pubOff + model.PubkeySize
	msgOff := sigOff + model.SignatureSize

	data := make([]byte, msgOff+len(msg))
	data[0] = 1
	data[1] = 0
	putOffsets(data[offsetsStart:], Offsets{
		SignatureOffset:           uint16(sigOff),
		SignatureInstructionIndex: CurrentInstruction,
		PublicKeyOffset:           uint16(pubOff),
		PublicKeyInstructionIndex: CurrentInstruction,
		MessageDataOffset:         uint16(msgOff),
		MessageDataSize:           uint16(len(msg)),
		MessageInstructionIndex:   CurrentInstruction,
	})
	copy(data[pubOff:], pub[:])
	copy(data[sigOff:], sig[:])
	copy(data[msgOff:], msg)
	return model.Instruction{ProgramID: Ed25519ProgramID, Data: data}
}

// SignInstruction signs msg with priv and wraps the result in a
// verification instruction.
func SignInstruction(priv ed25519.PrivateKey, msg []byte) model.Instruction {
	var pub model.Pubkey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	var sig model.Signature
	copy(sig[:], ed25519.Sign(priv, msg))
	return NewEd25519Instruction(pub, msg, sig)
}

// ParseOffsets decodes the header of a verification instruction.
func ParseOffsets(data []byte) ([]Offsets, error) {
	if len(data) < offsetsStart {
		return nil, ErrInstructionDataSize
	}
	n := int(data[0])
	if n == 0 && len(data) > offsetsStart {
		return nil, ErrInstructionDataSize
	}
	end := offsetsStart + n*offsetsSize
	if len(data) < end {
		return nil, ErrInstructionDataSize
	}
	out := make([]Offsets, 0, n)
	for i := 0; i < n; i++ {
		b := data[offsetsStart+i*offsetsSize:]
		out = append(out, Offsets{
			SignatureOffset:           binary.LittleEndian.Uint16(b[0:]),
			SignatureInstructionIndex: binary.LittleEndian.Uint16(b[2:]),
			PublicKeyOffset:           binary.LittleEndian.Uint16(b[4:]),
			PublicKeyInstructionIndex: binary.LittleEndian.Uint16(b[6:]),
			MessageDataOffset:         binary.LittleEndian.Uint16(b[8:]),
			MessageDataSize:           binary.LittleEndian.Uint16(b[10:]),
			MessageInstructionIndex:   binary.LittleEndian.Uint16(b[12:]),
		})
	}
	return out, nil
}

// Resolve decodes every signature entry of data. load is consulted for
// offsets that reference other instructions; it may be nil when all data is
// inline.
func Resolve(data []byte, load DataLoader) ([]Entry, error) {
	offsets, err := ParseOffsets(data)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(offsets))
	for _, off := range offsets {
		sig, err := slice(data, load, off.SignatureInstructionIndex, off.SignatureOffset, model.SignatureSize)
		if err != nil {
			return nil, err
		}
		pub, err := slice(data, load, off.PublicKeyInstructionIndex, off.PublicKeyOffset, model.PubkeySize)
		if err != nil {
			return nil, err
		}
		msg, err := slice(data, load, off.MessageInstructionIndex, off.MessageDataOffset, int(off.MessageDataSize))
		if err != nil {
			return nil, err
		}
		var e Entry
		copy(e.Signature[:], sig)
		copy(e.PublicKey[:], pub)
		e.Message = append([]byte(nil), msg...)
		entries = append(entries, e)
	}
	return entries, nil
}

// Execute verifies every signature carried by a verification instruction.
func Execute(data []byte, load DataLoader) error {
	entries, err := Resolve(data, load)
	if err != nil {
		return err
	}
	for i, e := range entries {
		if !ed25519.Verify(ed25519.PublicKey(e.PublicKey[:]), e.Message, e.Signature[:]) {
			return fmt.Errorf("%w: entry %d", ErrSignature, i)
		}
	}
	return nil
}

func slice(own []byte, load DataLoader, index, offset uint16, size int) ([]byte, error) {
	src := own
	if index != CurrentInstruction {
		if load == nil {
			return nil, ErrDataOffsets
		}
		var err error
		src, err = load(int(index))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDataOffsets, err)
		}
	}
	start := int(offset)
	end := start + size
	if end > len(src) {
		return nil, ErrDataOffsets
	}
	return src[start:end], nil
}

func putOffsets(b []byte, o Offsets) {
	binary.LittleEndian.PutUint16(b[0:], o.SignatureOffset)
	binary.LittleEndian.PutUint16(b[2:], o.SignatureInstructionIndex)
	binary.LittleEndian.PutUint16(b[4:], o.PublicKeyOffset)
	binary.LittleEndian.PutUint16(b[6:], o.PublicKeyInstructionIndex)
	binary.LittleEndian.PutUint16(b[8:], o.MessageDataOffset)
	binary.LittleEndian.PutUint16(b[10:], o.MessageDataSize)
	binary.LittleEndian.PutUint16(b[12:], o.MessageInstructionIndex)
}
