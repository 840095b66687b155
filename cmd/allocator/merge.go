package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/logger"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Apply a draft plan to the production event store",
	RunE:  runMerge,
}

var (
	mergePlanID   string
	mergeStrategy string
	mergeCancel   bool
)

func init() {
	mergeCmd.Flags().StringVar(&mergePlanID, "plan", "", "plan ID")
	mergeCmd.Flags().StringVar(&mergeStrategy, "strategy", "", "append or replace (default: the plan's strategy)")
	mergeCmd.Flags().BoolVar(&mergeCancel, "cancel", false, "cancel the draft instead of merging it")
	_ = mergeCmd.MarkFlagRequired("plan")
	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logger.New("merge")

	store, closeStore, err := openBackend(cfg.Database)
	if err != nil {
		return err
	}
	defer closeWith(log, "store", closeStore)

	locker, closeLocker, err := openLocker(ctx, cfg.Merge)
	if err != nil {
		return err
	}
	defer closeWith(log, "locker", closeLocker)

	r := allocation.NewReconciler(store, locker, cfg.Merge.ReconcilerOptions(), log, nil)
	id := allocation.PlanID(mergePlanID)
	if mergeCancel {
		plan, err := r.Cancel(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "plan %s %s\n", plan.ID, plan.Status)
		return nil
	}

	var strategy allocation.MergeStrategy
	if mergeStrategy != "" {
		if strategy, err = allocation.ParseMergeStrategy(mergeStrategy); err != nil {
			return err
		}
	}
	res, err := r.Merge(ctx, id, strategy)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "plan %s %s (%s): deleted=%d inserted=%d\n",
		res.Plan.ID, res.Plan.Status, res.Strategy, res.Deleted, res.Inserted)
	return nil
}
