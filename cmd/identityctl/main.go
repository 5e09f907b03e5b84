package main

import (
	"os"

	"github.com/RegistryAccord/registryaccord-onchainid-go/cmd/identityctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
