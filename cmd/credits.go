package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/config"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/credits"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/log"
)

var (
	grantUserID int64
	grantAmount int64
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Manage user credit balances",
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Grant credits to a user, creating the account when absent",
	RunE: func(cmd *cobra.Command, args []string) error {
		if grantUserID <= 0 {
			return fmt.Errorf("--user must be a positive user id")
		}
		if grantAmount <= 0 {
			return fmt.Errorf("--amount must be a positive credit amount")
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("validating config: %w", err)
		}

		ctx := cmd.Context()
		pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
		if err != nil {
			return fmt.Errorf("creating connection pool: %w", err)
		}
		defer pool.Close()

		store := credits.NewStore(pool, log.NewNop())
		remaining, err := store.Grant(ctx, grantUserID, grantAmount)
		if err != nil {
			return err
		}

		fmt.Printf("user %d now has %d credits\n", grantUserID, remaining)
		return nil
	},
}

func init() {
	creditsGrantCmd.Flags().Int64Var(&grantUserID, "user", 0, "user id to credit")
	creditsGrantCmd.Flags().Int64Var(&grantAmount, "amount", 0, "credits to add")
	creditsCmd.AddCommand(creditsGrantCmd)
	rootCmd.AddCommand(creditsCmd)
}
