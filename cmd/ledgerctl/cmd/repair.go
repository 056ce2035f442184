package cmd

import (
	"fmt"
	"time"

	"github.com/Dan9191/finance-ledger/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newRepairCmd(rt *app) *cobra.Command {
	var userID, accountID, from string

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Recompute the balances of one account",
		RunE: func(cmd *cobra.Command, args []string) error {
			var since time.Time
			if from != "" {
				t, err := time.Parse("2006-01-02", from)
				if err != nil {
					return fmt.Errorf("invalid --from date: %w", err)
				}
				since = t
			}

			store, err := rt.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var balance decimal.Decimal
			err = store.Update(cmd.Context(), func(l repository.Ledger) error {
				var err error
				balance, err = rt.engine.Repair(cmd.Context(), l, userID, accountID, since, nil)
				return err
			})
			if err != nil {
				return err
			}
			return rt.print(map[string]interface{}{"account_id": accountID, "balance": balance})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner of the account")
	cmd.Flags().StringVar(&accountID, "account", "", "account to repair")
	cmd.Flags().StringVar(&from, "from", "", "first day to recompute (YYYY-MM-DD), default the beginning")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
