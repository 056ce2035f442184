package cmd

import (
	"fmt"

	"github.com/Dan9191/finance-ledger/internal/ledger"
	"github.com/spf13/cobra"
)

func newReconcileCmd(rt *app) *cobra.Command {
	var userID string
	var strict bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute every account and report drifted balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rt.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var report ledger.Report
			if userID != "" {
				report, err = rt.engine.Reconcile(cmd.Context(), store, userID)
			} else {
				report, err = rt.engine.RepairAll(cmd.Context(), store)
			}
			if err != nil {
				return err
			}
			if err := rt.print(report); err != nil {
				return err
			}
			if strict && !report.Clean() {
				return fmt.Errorf("%d drifted and %d failed accounts", len(report.Drifts), len(report.Failures))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "only reconcile this user")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when anything had to be repaired")
	return cmd
}
