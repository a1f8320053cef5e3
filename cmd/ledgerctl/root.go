package main

import (
	"context"
	"fmt"

	"timebank/internal/config"
	"timebank/internal/db"
	"timebank/internal/gateway"
	"timebank/internal/logging"
	"timebank/internal/metrics"
	"timebank/internal/models"
	"timebank/internal/services"
	"timebank/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Operator tooling for the time-bank ledger",
	Long: `ledgerctl runs maintenance operations against the ledger database:
drift reports, reconciliation of individual entries, admin wallet credits
and outbox inspection. Privileged commands act as the user named by
--operator and are checked against that user's admin capabilities.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("operator", "", "User id the command acts as")
	rootCmd.AddCommand(driftCmd, reconcileCmd, creditCmd, backlogCmd)
}

// env holds the stores and service for one command invocation.
type env struct {
	database *sqlx.DB
	accounts *store.AccountStore
	admin    *store.AdminStore
	outbox   *store.OutboxStore
	ledger   *services.LedgerService
}

func openEnv() (*env, error) {
	cfg := config.Load()
	logger, err := logging.NewLoggerFromEnv()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	accounts := store.NewAccountStore(database)
	outbox := store.NewOutboxStore(database)
	gateways := gateway.NewRegistry()
	gateways.Register(models.MethodAdminCredit, gateway.AdminCreditGateway{})
	ledger := services.NewLedgerService(
		db.NewTxRunner(database),
		accounts,
		store.NewEntryStore(database),
		outbox,
		store.NewAuditStore(database),
		gateways,
		gateway.FeePolicy{CardFee: cfg.CardProcessingFee, FeeAccountID: cfg.FeeAccountID},
		metrics.NoOp{},
		logger,
	)
	return &env{
		database: database,
		accounts: accounts,
		admin:    store.NewAdminStore(database),
		outbox:   outbox,
		ledger:   ledger,
	}, nil
}

func (e *env) Close() error {
	return e.database.Close()
}

// CapabilityStore resolves the operator's privileges.
type CapabilityStore interface {
	Capabilities(ctx context.Context, userID string) (store.Capabilities, error)
}

func operatorActor(ctx context.Context, cmd *cobra.Command, caps CapabilityStore) (models.Actor, error) {
	operator, _ := cmd.Flags().GetString("operator")
	if operator == "" {
		return models.Actor{}, fmt.Errorf("--operator is required for %s", cmd.Name())
	}
	c, err := caps.Capabilities(ctx, operator)
	if err != nil {
		return models.Actor{}, fmt.Errorf("load capabilities: %w", err)
	}
	return models.Actor{
		AccountID:   operator,
		IsAdmin:     c.IsAdmin,
		IsModerator: c.IsModerator,
		IsOwner:     c.IsOwner,
	}, nil
}
