package did

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

func TestCreateProgramAddressKnownVector(t *testing.T) {
	program := model.MustPubkey("BPFLoaderUpgradeab1e11111111111111111111111")
	addr, err := CreateProgramAddress([][]byte{[]byte(""), {1}}, program)
	require.NoError(t, err)
	require.Equal(t, "BwqrghZA2htAcqq8dzP1WDAhTXYTYWj7CHxF5j7TDBAe", addr.String())
}

func TestCreateProgramAddressSeedLimits(t *testing.T) {
	program := model.MustPubkey("BPFLoaderUpgradeab1e11111111111111111111111")

	_, err := CreateProgramAddress([][]byte{make([]byte, MaxSeedLength+1)}, program)
	require.ErrorIs(t, err, ErrInvalidSeeds)

	_, err = CreateProgramAddress(make([][]byte, MaxSeeds+1), program)
	require.ErrorIs(t, err, ErrInvalidSeeds)
}

func TestIdentityAddress(t *testing.T) {
	program := model.MustPubkey("BPFLoaderUpgradeab1e11111111111111111111111")
	wallet := model.Pubkey{7}
	saltA, err := NewSalt()
	require.NoError(t, err)
	saltB, err := NewSalt()
	require.NoError(t, err)

	a1, bump, err := IdentityAddress(program, wallet, saltA)
	require.NoError(t, err)
	a2, bump2, err := IdentityAddress(program, wallet, saltA)
	require.NoError(t, err)
	require.Equal(t, a1, a2)
	require.Equal(t, bump, bump2)
	require.False(t, IsOnCurve(a1[:]))

	again, err := CreateProgramAddress([][]byte{IdentitySeed, wallet[:], saltA[:], {bump}}, program)
	require.NoError(t, err)
	require.Equal(t, a1, again)

	b, _, err := IdentityAddress(program, wallet, saltB)
	require.NoError(t, err)
	require.NotEqual(t, a1, b)
}

func TestIsOnCurve(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	require.True(t, IsOnCurve(pub))
	require.False(t, IsOnCurve(pub[:31]))
}

func TestIdentifierParse(t *testing.T) {
	addr := model.Pubkey{1, 2, 3}
	id := Identifier(addr)
	require.True(t, strings.HasPrefix(id, "did:sol:"))

	got, err := Parse(id)
	require.NoError(t, err)
	require.Equal(t, addr, got)

	got, err = Parse(addr.String())
	require.NoError(t, err)
	require.Equal(t, addr, got)

	for _, bad := range []string{"did:plc:abc", "did:sol:0OIl", "did:sol:" + model.Pubkey{}.String()[:10]} {
		_, err := Parse(bad)
		require.ErrorIs(t, err, ErrInvalidIdentifier, bad)
	}
}
