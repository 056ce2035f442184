package main

import (
	"os"

	"github.com/Dan9191/finance-ledger/cmd/ledgerctl/cmd"
)

func main() {
	if err := cmd.NewRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
