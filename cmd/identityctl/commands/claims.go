package commands

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/identity"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/server"
)

func addressCmd() *cobra.Command {
	var program, wallet, salt string
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Derive the identity address the factory creates for a wallet and salt",
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := model.ParsePubkey(program)
			if err != nil {
				return fmt.Errorf("invalid --program: %w", err)
			}
			w, err := did.Parse(wallet)
			if err != nil {
				return fmt.Errorf("invalid --wallet: %w", err)
			}
			s, err := model.ParseHash(salt)
			if err != nil {
				return fmt.Errorf("invalid --salt: %w", err)
			}
			addr, bump, err := did.IdentityAddress(prog, w, s)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"identity": addr, "did": did.Identifier(addr), "bump": bump})
		},
	}
	cmd.Flags().StringVar(&program, "program", "", "factory program id (base58)")
	cmd.Flags().StringVar(&wallet, "wallet", "", "wallet address or did:sol identifier")
	cmd.Flags().StringVar(&salt, "salt", "", "32-byte salt (base58)")
	return cmd
}

func claimIDCmd() *cobra.Command {
	var issuer string
	var topic uint64
	cmd := &cobra.Command{
		Use:   "claim-id",
		Short: "Compute the claim id for an issuer and topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			iss, err := did.Parse(issuer)
			if err != nil {
				return fmt.Errorf("invalid --issuer: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), identity.ClaimID(iss, topic))
			return nil
		},
	}
	cmd.Flags().StringVar(&issuer, "issuer", "", "issuer identity address")
	cmd.Flags().Uint64Var(&topic, "topic", 0, "claim topic")
	return cmd
}

// claimData reads the claim payload from exactly one of the data flags.
func claimData(text, hexData string) ([]byte, error) {
	switch {
	case text != "" && hexData != "":
		return nil, errors.New("use only one of --data and --data-hex")
	case hexData != "":
		b, err := hex.DecodeString(hexData)
		if err != nil {
			return nil, fmt.Errorf("invalid --data-hex: %w", err)
		}
		return b, nil
	default:
		return []byte(text), nil
	}
}

func claimSignCmd() *cobra.Command {
	var ident, issuer, text, hexData, uri string
	var topic, scheme uint64
	cmd := &cobra.Command{
		Use:   "claim-sign",
		Short: "Sign a claim as issuer and print the request body for the claims endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, pub, err := loadKey()
			if err != nil {
				return err
			}
			subject, err := did.Parse(ident)
			if err != nil {
				return fmt.Errorf("invalid --identity: %w", err)
			}
			iss := pub
			if issuer != "" {
				if iss, err = did.Parse(issuer); err != nil {
					return fmt.Errorf("invalid --issuer: %w", err)
				}
			}
			data, err := claimData(text, hexData)
			if err != nil {
				return err
			}
			msg := identity.ClaimMessage(subject, topic, data)
			sig, err := model.SignatureFromBytes(ed25519.Sign(priv, msg))
			if err != nil {
				return err
			}
			body := map[string]any{
				"topic":        topic,
				"scheme":       scheme,
				"issuer":       iss,
				"issuerWallet": pub,
				"signature":    sig,
				"data":         data,
				"uri":          uri,
				"proof": map[string]any{
					"publicKey": pub,
					"message":   msg,
					"signature": sig,
				},
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"claimId": identity.ClaimID(iss, topic),
				"body":    body,
			})
		},
	}
	cmd.Flags().StringVar(&ident, "identity", "", "identity the claim is about")
	cmd.Flags().StringVar(&issuer, "issuer", "", "issuer identity (defaults to the signing wallet)")
	cmd.Flags().Uint64Var(&topic, "topic", 0, "claim topic")
	cmd.Flags().Uint64Var(&scheme, "scheme", 1, "signature scheme")
	cmd.Flags().StringVar(&text, "data", "", "claim data as text")
	cmd.Flags().StringVar(&hexData, "data-hex", "", "claim data as hex")
	cmd.Flags().StringVar(&uri, "uri", "", "claim uri")
	return cmd
}

func signRequestCmd() *cobra.Command {
	var bodyFile, method, path, nonce string
	cmd := &cobra.Command{
		Use:   "sign-request",
		Short: "Print the signature headers for one state-changing request",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				return errors.New("--path is required")
			}
			priv, pub, err := loadKey()
			if err != nil {
				return err
			}
			var body []byte
			if bodyFile != "" {
				if body, err = os.ReadFile(bodyFile); err != nil {
					return fmt.Errorf("read body: %w", err)
				}
			}
			if nonce == "" {
				nonce = uuid.NewString()
			}
			ts := time.Now().Unix()
			msg := server.RequestSigningMessage(method, path, ts, nonce, body)
			sig, err := model.SignatureFromBytes(ed25519.Sign(priv, msg))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "X-Signer: %s\nX-Signature: %s\nX-Signature-Timestamp: %d\nX-Signature-Nonce: %s\n", pub, sig, ts, nonce)
			return nil
		},
	}
	cmd.Flags().StringVar(&bodyFile, "body", "", "file holding the exact request body (empty body when unset)")
	cmd.Flags().StringVar(&method, "method", "POST", "HTTP method of the request")
	cmd.Flags().StringVar(&path, "path", "", "request path, for example /v1/identities/<address>/keys")
	cmd.Flags().StringVar(&nonce, "nonce", "", "request nonce (random when unset)")
	return cmd
}
