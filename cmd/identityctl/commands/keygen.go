package commands

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/identity"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

// keyFileContents is the on-disk form of a signing key.
type keyFileContents struct {
	PublicKey  model.Pubkey `json:"publicKey"`
	KeyHash    model.Hash   `json:"keyHash"`
	PrivateKey []byte       `json:"privateKey"`
}

func loadKey() (ed25519.PrivateKey, model.Pubkey, error) {
	if keyFile == "" {
		return nil, model.Pubkey{}, errors.New("--key is required")
	}
	raw, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, model.Pubkey{}, fmt.Errorf("read key file: %w", err)
	}
	var kf keyFileContents
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, model.Pubkey{}, fmt.Errorf("parse key file: %w", err)
	}
	if len(kf.PrivateKey) != ed25519.PrivateKeySize {
		return nil, model.Pubkey{}, fmt.Errorf("private key must be %d bytes", ed25519.PrivateKeySize)
	}
	priv := ed25519.PrivateKey(kf.PrivateKey)
	var pub model.Pubkey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	if pub != kf.PublicKey {
		return nil, model.Pubkey{}, errors.New("key file public key does not match private key")
	}
	return priv, pub, nil
}

func keygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 wallet key",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return err
			}
			var pk model.Pubkey
			copy(pk[:], pub)
			kf := keyFileContents{PublicKey: pk, KeyHash: identity.HashKey(pk), PrivateKey: priv}
			if out == "" {
				return printJSON(cmd.OutOrStdout(), kf)
			}
			data, err := json.MarshalIndent(kf, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("write key file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Public key: %s\nKey hash:   %s\n", pk, kf.KeyHash)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the key file here instead of stdout")
	return cmd
}
