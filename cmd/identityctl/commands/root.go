// Package commands implements identityctl, an offline helper for building
// the signed payloads the identity service accepts.
package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var keyFile string

// Execute runs the root command against os.Args.
func Execute() error {
	return newRoot().Execute()
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "identityctl",
		Short:        "Offline tooling for on-chain identities",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&keyFile, "key", "k", "", "path to a key file written by keygen")

	root.AddCommand(
		keygenCmd(),
		addressCmd(),
		claimIDCmd(),
		claimSignCmd(),
		signRequestCmd(),
		relayEncodeCmd(),
		relayerTokenCmd(),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
