package relay

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

// Method names carried in relayed messages.
const (
	MethodCreateIdentity = "CreateIdentity"
	MethodAddKey         = "AddKey"
	MethodAddClaim       = "AddClaim"
	MethodRemoveKey      = "RemoveKey"
	MethodRemoveClaim    = "RemoveClaim"
)

// Call is one decoded relayed instruction.
type Call interface {
	Method() string
	appendPayload(b []byte) []byte
}

// CreateIdentity asks the factory to create an identity for Wallet.
type CreateIdentity struct {
	Wallet model.Pubkey `json:"wallet"`
	Salt   model.Hash   `json:"salt"`
}

// AddKey grants a purpose on the identity linked to Wallet.
type AddKey struct {
	Wallet  model.Pubkey `json:"wallet"`
	Key     model.Pubkey `json:"key"`
	Purpose uint32       `json:"purpose"`
	KeyType uint32       `json:"keyType"`
}

// AddClaim stores a claim on the identity linked to Wallet.
type AddClaim struct {
	Wallet       model.Pubkey    `json:"wallet"`
	Topic        uint64          `json:"topic"`
	Scheme       uint64          `json:"scheme"`
	IssuerWallet model.Pubkey    `json:"issuerWallet"`
	Signature    model.Signature `json:"signature"`
	Data         []byte          `json:"data"`
	URI          string          `json:"uri"`
}

// RemoveKey revokes a purpose on the identity linked to Wallet.
type RemoveKey struct {
	Wallet  model.Pubkey `json:"wallet"`
	Key     model.Pubkey `json:"key"`
	Purpose uint32       `json:"purpose"`
}

// RemoveClaim removes the self-issued claim on Topic from the identity
// linked to Wallet.
type RemoveClaim struct {
	Wallet model.Pubkey `json:"wallet"`
	Topic  uint64       `json:"topic"`
}

func (CreateIdentity) Method() string { return MethodCreateIdentity }
func (AddKey) Method() string         { return MethodAddKey }
func (AddClaim) Method() string       { return MethodAddClaim }
func (RemoveKey) Method() string      { return MethodRemoveKey }
func (RemoveClaim) Method() string    { return MethodRemoveClaim }

func (c CreateIdentity) appendPayload(b []byte) []byte {
	b = append(b, c.Wallet[:]...)
	return append(b, c.Salt[:]...)
}

func (c AddKey) appendPayload(b []byte) []byte {
	b = append(b, c.Wallet[:]...)
	b = append(b, c.Key[:]...)
	b = binary.LittleEndian.AppendUint32(b, c.Purpose)
	return binary.LittleEndian.AppendUint32(b, c.KeyType)
}

func (c AddClaim) appendPayload(b []byte) []byte {
	b = append(b, c.Wallet[:]...)
	b = binary.LittleEndian.AppendUint64(b, c.Topic)
	b = binary.LittleEndian.AppendUint64(b, c.Scheme)
	b = append(b, c.IssuerWallet[:]...)
	b = append(b, c.Signature[:]...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(c.Data)))
	b = append(b, c.Data...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(c.URI)))
	return append(b, c.URI...)
}

func (c RemoveKey) appendPayload(b []byte) []byte {
	b = append(b, c.Wallet[:]...)
	b = append(b, c.Key[:]...)
	return binary.LittleEndian.AppendUint32(b, c.Purpose)
}

func (c RemoveClaim) appendPayload(b []byte) []byte {
	b = append(b, c.Wallet[:]...)
	return binary.LittleEndian.AppendUint64(b, c.Topic)
}

// Encode frames call as [u8 method length][method][payload].
func Encode(call Call) ([]byte, error) {
	m := call.Method()
	if len(m) == 0 || len(m) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: method name length %d", ErrInvalidInstruction, len(m))
	}
	if c, ok := call.(AddClaim); ok && (uint64(len(c.Data)) > math.MaxUint32 || uint64(len(c.URI)) > math.MaxUint32) {
		return nil, fmt.Errorf("%w: claim payload too large", ErrInvalidInstruction)
	}
	b := make([]byte, 0, 1+len(m)+128)
	b = append(b, byte(len(m)))
	b = append(b, m...)
	return call.appendPayload(b), nil
}

// SplitMessage returns the method name and raw payload of a framed message.
func SplitMessage(msg []byte) (string, []byte, error) {
	if len(msg) < 1 {
		return "", nil, fmt.Errorf("%w: empty message", ErrInvalidInstruction)
	}
	n := int(msg[0])
	if len(msg) < 1+n {
		return "", nil, fmt.Errorf("%w: method name truncated", ErrInvalidInstruction)
	}
	return string(msg[1 : 1+n]), msg[1+n:], nil
}

// Decode parses a framed message into its typed call. Unknown methods,
// truncated payloads and trailing bytes fail with ErrInvalidInstruction.
func Decode(msg []byte) (Call, error) {
	method, payload, err := SplitMessage(msg)
	if err != nil {
		return nil, err
	}
	r := &reader{b: payload}
	var call Call
	switch method {
	case MethodCreateIdentity:
		var c CreateIdentity
		r.fixed(c.Wallet[:])
		r.fixed(c.Salt[:])
		call = c
	case MethodAddKey:
		var c AddKey
		r.fixed(c.Wallet[:])
		r.fixed(c.Key[:])
		c.Purpose = r.u32()
		c.KeyType = r.u32()
		call = c
	case MethodAddClaim:
		var c AddClaim
		r.fixed(c.Wallet[:])
		c.Topic = r.u64()
		c.Scheme = r.u64()
		r.fixed(c.IssuerWallet[:])
		r.fixed(c.Signature[:])
		c.Data = r.bytes()
		c.URI = string(r.bytes())
		call = c
	case MethodRemoveKey:
		var c RemoveKey
		r.fixed(c.Wallet[:])
		r.fixed(c.Key[:])
		c.Purpose = r.u32()
		call = c
	case MethodRemoveClaim:
		var c RemoveClaim
		r.fixed(c.Wallet[:])
		c.Topic = r.u64()
		call = c
	default:
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidInstruction, method)
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidInstruction, method, r.err)
	}
	if len(r.b) != 0 {
		return nil, fmt.Errorf("%w: %s payload has %d trailing bytes", ErrInvalidInstruction, method, len(r.b))
	}
	return call, nil
}

// reader consumes a payload positionally, recording the first short read.
type reader struct {
	b   []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.b) < n {
		r.err = fmt.Errorf("need %d bytes, have %d", n, len(r.b))
		return nil
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out
}

func (r *reader) fixed(dst []byte) { copy(dst, r.take(len(dst))) }

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *reader) bytes() []byte {
	n := r.u32()
	if r.err != nil || n == 0 {
		return nil
	}
	if uint64(n) > uint64(len(r.b)) {
		r.err = fmt.Errorf("length prefix %d exceeds remaining %d bytes", n, len(r.b))
		return nil
	}
	return append([]byte{}, r.take(int(n))...)
}
