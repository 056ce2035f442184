// Package cmd provides the ledgerctl maintenance commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Dan9191/finance-ledger/internal/config"
	"github.com/Dan9191/finance-ledger/internal/ledger"
	"github.com/Dan9191/finance-ledger/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app is what every subcommand needs, built once per invocation
type app struct {
	cfg    *config.Config
	log    *logrus.Logger
	engine *ledger.Engine
	out    io.Writer
}

// NewRootCmd builds the command tree writing results to out
func NewRootCmd(out io.Writer) *cobra.Command {
	var debug bool
	rt := &app{out: out}

	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Maintenance commands for the finance ledger",
		Long: `ledgerctl repairs derived balances directly against the configured store.

Example:
  ledgerctl repair --user 5f0c... --account 9a1d... --from 2024-01-01
  ledgerctl reconcile
  ledgerctl reconcile --user 5f0c...`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Setup logging
			rt.log = logrus.New()
			rt.log.SetOutput(os.Stderr)
			rt.log.SetFormatter(&logrus.TextFormatter{})
			rt.log.SetLevel(logrus.InfoLevel)
			if debug {
				rt.log.SetLevel(logrus.DebugLevel)
			}

			cfg, err := config.NewConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			rt.cfg = cfg
			rt.engine = ledger.NewEngine(rt.log)
			return nil
		},
	}
	root.SetOut(out)
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(newRepairCmd(rt), newReconcileCmd(rt))
	return root
}

// openStore opens the configured store; the caller closes it
func (rt *app) openStore() (repository.Store, error) {
	store, err := repository.Open(rt.cfg.StoreDriver, rt.cfg.DBConn, rt.cfg.BoltPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", rt.cfg.StoreDriver, err)
	}
	return store, nil
}

func (rt *app) print(v interface{}) error {
	enc := json.NewEncoder(rt.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
