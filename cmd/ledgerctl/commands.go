package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"timebank/internal/models"
	"timebank/internal/money"
	"timebank/internal/services"
	"timebank/internal/store"

	"github.com/spf13/cobra"
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "List accounts whose cached balances disagree with ledger history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		rows, err := e.accounts.DriftReport(cmd.Context())
		if err != nil {
			return fmt.Errorf("drift report: %w", err)
		}
		return writeDrift(cmd.OutOrStdout(), rows)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile ENTRY_ID",
	Short: "Apply the balance effect of a terminal entry if it was never applied",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		actor, err := operatorActor(cmd.Context(), cmd, e.admin)
		if err != nil {
			return err
		}
		applied, err := e.ledger.Reconcile(cmd.Context(), args[0], actor)
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", args[0], err)
		}
		if applied {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: balances applied\n", args[0])
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: already reconciled\n", args[0])
		}
		return nil
	},
}

var creditCmd = &cobra.Command{
	Use:   "credit ACCOUNT_ID AMOUNT",
	Short: "Deposit wallet funds into an account",
	Long:  `Records a completed admin_credit deposit. AMOUNT is in major units, e.g. 25.50.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseCreditAmount(args[1])
		if err != nil {
			return err
		}
		description, _ := cmd.Flags().GetString("description")
		entryID, _ := cmd.Flags().GetString("entry-id")
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		actor, err := operatorActor(cmd.Context(), cmd, e.admin)
		if err != nil {
			return err
		}
		entry, err := e.ledger.ChargeWallet(cmd.Context(), services.ChargeRequest{
			EntryID:     entryID,
			Actor:       actor,
			ReceiverID:  args[0],
			Amount:      amount,
			Method:      models.MethodAdminCredit,
			Description: description,
		})
		if err != nil {
			return fmt.Errorf("credit %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s credited to %s (%s)\n", entry.ID, money.FormatMinor(entry.Amount), args[0], entry.Status)
		return nil
	},
}

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "Print the number of change events not yet published",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		depth, err := e.outbox.Backlog(cmd.Context())
		if err != nil {
			return fmt.Errorf("outbox backlog: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), depth)
		return nil
	},
}

func init() {
	creditCmd.Flags().String("description", "admin credit", "Entry description")
	creditCmd.Flags().String("entry-id", "", "Idempotency key; reusing it returns the existing entry")
}

func parseCreditAmount(raw string) (int64, error) {
	amount, err := money.ParseMinor(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("invalid amount %q: must be positive", raw)
	}
	return amount, nil
}

func writeDrift(w io.Writer, rows []store.BalanceDrift) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "no drift")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tEARNED\tSPENT\tPENDING\tWALLET")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			row.AccountID,
			pair(money.FormatHours(row.HoursEarned), money.FormatHours(row.ExpectedHoursEarned)),
			pair(money.FormatHours(row.HoursSpent), money.FormatHours(row.ExpectedHoursSpent)),
			pair(money.FormatHours(row.HoursPending), money.FormatHours(row.ExpectedHoursPending)),
			pair(money.FormatMinor(row.WalletBalance), money.FormatMinor(row.ExpectedWalletBalance)),
		)
	}
	return tw.Flush()
}

// pair renders cached/expected, or just the value when they agree.
func pair(cached, expected string) string {
	if cached == expected {
		return cached
	}
	return cached + "/" + expected
}
