package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/logger"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Report configuration issues of an account",
	RunE:  runValidate,
}

var (
	validateAccount string
	validateProduct string
)

func init() {
	validateCmd.Flags().StringVar(&validateAccount, "account", "", "account ID")
	validateCmd.Flags().StringVar(&validateProduct, "product", "", "also check the seasonality curves of this product")
	_ = validateCmd.MarkFlagRequired("account")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	log := logger.New("validate")

	store, closeStore, err := openBackend(cfg.Database)
	if err != nil {
		return err
	}
	defer closeWith(log, "store", closeStore)

	account := allocation.AccountID(validateAccount)
	issues, err := allocation.ValidateAccount(ctx, store, account)
	if err != nil {
		return err
	}
	if validateProduct != "" {
		more, err := allocation.ValidateSeasonality(ctx, store, account, allocation.ProductID(validateProduct))
		if err != nil {
			return err
		}
		issues = append(issues, more...)
	}

	out := cmd.OutOrStdout()
	if len(issues) == 0 {
		fmt.Fprintf(out, "account %s: configuration valid\n", account)
		return nil
	}
	for _, issue := range issues {
		fmt.Fprintln(out, issue)
	}
	return fmt.Errorf("account %s: %d configuration issues", account, len(issues))
}
