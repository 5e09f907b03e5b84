package commands

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/relay"
)

// decodeCall parses the JSON description of a relayed call for method.
func decodeCall(method string, raw []byte) (relay.Call, error) {
	var call relay.Call
	switch method {
	case relay.MethodCreateIdentity:
		call = &relay.CreateIdentity{}
	case relay.MethodAddKey:
		call = &relay.AddKey{}
	case relay.MethodAddClaim:
		call = &relay.AddClaim{}
	case relay.MethodRemoveKey:
		call = &relay.RemoveKey{}
	case relay.MethodRemoveClaim:
		call = &relay.RemoveClaim{}
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(call); err != nil {
		return nil, fmt.Errorf("decode %s call: %w", method, err)
	}
	// Encode takes the value types
	switch c := call.(type) {
	case *relay.CreateIdentity:
		return *c, nil
	case *relay.AddKey:
		return *c, nil
	case *relay.AddClaim:
		return *c, nil
	case *relay.RemoveKey:
		return *c, nil
	default:
		return *c.(*relay.RemoveClaim), nil
	}
}

func relayEncodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay-encode <method> <json>",
		Short: "Frame a cross-chain call as the base64 message relayers deliver",
		Example: `  identityctl relay-encode CreateIdentity '{"wallet":"<base58>","salt":"<base58>"}'
  identityctl relay-encode AddKey '{"wallet":"<base58>","key":"<base58>","purpose":3,"keyType":1}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			call, err := decodeCall(args[0], []byte(args[1]))
			if err != nil {
				return err
			}
			msg, err := relay.Encode(call)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(msg))
			return nil
		},
	}
	return cmd
}

func relayerTokenCmd() *cobra.Command {
	var kid, issuer, audience, subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "relayer-token",
		Short: "Mint an EdDSA bearer token for the relay ingress",
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, _, err := loadKey()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}
			now := time.Now()
			token := jwtlib.NewWithClaims(jwtlib.SigningMethodEdDSA, jwtlib.MapClaims{
				"iss": issuer,
				"aud": audience,
				"sub": subject,
				"iat": now.Unix(),
				"exp": now.Add(ttl).Unix(),
				"jti": uuid.NewString(),
			})
			token.Header["kid"] = kid
			signed, err := token.SignedString(priv)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&kid, "kid", "relayer-1", "relayer key id")
	cmd.Flags().StringVar(&issuer, "iss", "registryaccord-relayer", "token issuer")
	cmd.Flags().StringVar(&audience, "aud", "registryaccord-onchainid", "token audience")
	cmd.Flags().StringVar(&subject, "sub", "relayer", "relayer name")
	cmd.Flags().DurationVar(&ttl, "ttl", 5*time.Minute, "token lifetime")
	return cmd
}
