package identity

import (
	"errors"
	"fmt"
)

// Code is the stable numeric identifier of an identity error. Values match
// the on-chain program's error enum and must never be renumbered.
type Code uint32

const (
	CodeAlreadyInitialized Code = iota + 1
	CodeKeyNotFound
	CodeInvalidKeyPurpose
	CodeInvalidKeyType
	CodeKeyConflict
	CodeIndexOutOfBounds
	CodeClaimNotFound
	CodeKeyDoesNotHavePurpose
	CodeClaimAlreadyRevoked
	CodeInsufficientPermissions
	CodeInvalidSignature
	CodeInvalidClaim
	CodeInvalidIssuer
	CodeInvalidAddressBytes
	CodeNotInitialized
)

// Category groups codes by the kind of failure.
type Category string

const (
	CategoryLifecycle     Category = "lifecycle"
	CategoryLookup        Category = "lookup"
	CategoryValidation    Category = "validation"
	CategoryStateConflict Category = "state-conflict"
	CategoryAuthorization Category = "authorization"
)

var codeNames = map[Code]string{
	CodeAlreadyInitialized:      "ALREADY_INITIALIZED",
	CodeKeyNotFound:             "KEY_NOT_FOUND",
	CodeInvalidKeyPurpose:       "INVALID_KEY_PURPOSE",
	CodeInvalidKeyType:          "INVALID_KEY_TYPE",
	CodeKeyConflict:             "KEY_CONFLICT",
	CodeIndexOutOfBounds:        "INDEX_OUT_OF_BOUNDS",
	CodeClaimNotFound:           "CLAIM_NOT_FOUND",
	CodeKeyDoesNotHavePurpose:   "KEY_DOES_NOT_HAVE_PURPOSE",
	CodeClaimAlreadyRevoked:     "CLAIM_ALREADY_REVOKED",
	CodeInsufficientPermissions: "INSUFFICIENT_PERMISSIONS",
	CodeInvalidSignature:        "INVALID_SIGNATURE",
	CodeInvalidClaim:            "INVALID_CLAIM",
	CodeInvalidIssuer:           "INVALID_ISSUER",
	CodeInvalidAddressBytes:     "INVALID_ADDRESS_BYTES",
	CodeNotInitialized:          "NOT_INITIALIZED",
}

// String returns the upper-snake name of the code.
func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("CODE_%d", uint32(c))
}

// Category reports which class of failure the code belongs to.
func (c Code) Category() Category {
	switch c {
	case CodeAlreadyInitialized, CodeNotInitialized:
		return CategoryLifecycle
	case CodeKeyNotFound, CodeClaimNotFound:
		return CategoryLookup
	case CodeKeyConflict, CodeKeyDoesNotHavePurpose, CodeClaimAlreadyRevoked:
		return CategoryStateConflict
	case CodeInsufficientPermissions:
		return CategoryAuthorization
	default:
		return CategoryValidation
	}
}

// Error is an identity program failure carrying a stable code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches any *Error with the same code, so wrapped errors with extra
// context still satisfy errors.Is against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrAlreadyInitialized      = &Error{CodeAlreadyInitialized, "identity already initialized"}
	ErrKeyNotFound             = &Error{CodeKeyNotFound, "key not found"}
	ErrInvalidKeyPurpose       = &Error{CodeInvalidKeyPurpose, "invalid key purpose"}
	ErrInvalidKeyType          = &Error{CodeInvalidKeyType, "invalid key type"}
	ErrKeyConflict             = &Error{CodeKeyConflict, "key already has purpose"}
	ErrIndexOutOfBounds        = &Error{CodeIndexOutOfBounds, "index out of bounds"}
	ErrClaimNotFound           = &Error{CodeClaimNotFound, "claim not found"}
	ErrKeyDoesNotHavePurpose   = &Error{CodeKeyDoesNotHavePurpose, "key does not have purpose"}
	ErrClaimAlreadyRevoked     = &Error{CodeClaimAlreadyRevoked, "claim already revoked"}
	ErrInsufficientPermissions = &Error{CodeInsufficientPermissions, "insufficient permissions"}
	ErrInvalidSignature        = &Error{CodeInvalidSignature, "invalid signature"}
	ErrInvalidClaim            = &Error{CodeInvalidClaim, "invalid claim"}
	ErrInvalidIssuer           = &Error{CodeInvalidIssuer, "invalid issuer"}
	ErrInvalidAddressBytes     = &Error{CodeInvalidAddressBytes, "invalid address bytes"}
	ErrNotInitialized          = &Error{CodeNotInitialized, "identity not initialized"}
)

// CodeOf extracts the first identity code found in err's chain.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
