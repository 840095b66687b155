package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/logger"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Compute an allocation plan",
	Long: `Computes a plan for one (account, carrier, product) tuple and prints the
weekly quotas, deficits and per-city breakdown. With --persist the plan is
stored as a draft and its ID printed.`,
	RunE: runGenerate,
}

type generateOptions struct {
	account  string
	carrier  string
	product  string
	start    string
	end      string
	total    int
	strategy string
	capacity int
	persist  bool
}

var genOpts generateOptions

func init() {
	f := generateCmd.Flags()
	f.StringVar(&genOpts.account, "account", "", "account ID")
	f.StringVar(&genOpts.carrier, "carrier", "", "carrier ID")
	f.StringVar(&genOpts.product, "product", "", "product ID")
	f.StringVar(&genOpts.start, "start", "", "first day of the period (YYYY-MM-DD)")
	f.StringVar(&genOpts.end, "end", "", "last day of the period (YYYY-MM-DD)")
	f.IntVar(&genOpts.total, "total", 0, "annual number of events")
	f.StringVar(&genOpts.strategy, "strategy", "append", "merge strategy: append or replace")
	f.IntVar(&genOpts.capacity, "cap", -1, "weekly cap per node, overrides the account setting")
	f.BoolVar(&genOpts.persist, "persist", false, "store the plan as a draft")
	for _, name := range []string{"account", "carrier", "product", "start", "end", "total"} {
		_ = generateCmd.MarkFlagRequired(name)
	}
	rootCmd.AddCommand(generateCmd)
}

// request converts the flags. A negative cap means no override.
func (o generateOptions) request() (allocation.Request, error) {
	start, err := generic.ParseDate(o.start)
	if err != nil {
		return allocation.Request{}, fmt.Errorf("--start: %w", err)
	}
	end, err := generic.ParseDate(o.end)
	if err != nil {
		return allocation.Request{}, fmt.Errorf("--end: %w", err)
	}
	strategy, err := allocation.ParseMergeStrategy(o.strategy)
	if err != nil {
		return allocation.Request{}, err
	}
	req := allocation.Request{
		AccountID:     allocation.AccountID(o.account),
		CarrierID:     allocation.CarrierID(o.carrier),
		ProductID:     allocation.ProductID(o.product),
		StartDate:     start,
		EndDate:       end,
		TotalEvents:   o.total,
		MergeStrategy: strategy,
	}
	if o.capacity >= 0 {
		c := o.capacity
		req.CapacityOverride = &c
	}
	return req, nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	req, err := genOpts.request()
	if err != nil {
		return err
	}
	ctx := context.Background()
	log := logger.New("generate")

	store, closeStore, err := openBackend(cfg.Database)
	if err != nil {
		return err
	}
	defer closeWith(log, "store", closeStore)

	gen := allocation.NewGenerator(store, store, cfg.Allocation.Options(), allocation.WithGeneratorLogger(log))
	var res *allocation.Result
	if genOpts.persist {
		res, err = gen.Create(ctx, req)
	} else {
		res, err = gen.Preview(ctx, req)
	}
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), res, genOpts.persist)
}

func printResult(out io.Writer, res *allocation.Result, persisted bool) error {
	p := res.Plan
	if persisted {
		fmt.Fprintf(out, "plan %s stored as draft\n", p.ID)
	}
	fmt.Fprintf(out, "%s %s..%s total=%d calculated=%d unassigned=%d details=%d cap=%d weights=%s\n\n",
		p.Tuple(), generic.FormatDate(p.StartDate), generic.FormatDate(p.EndDate),
		p.TotalEvents, p.CalculatedEvents, p.UnassignedEvents, len(res.Details), res.Capacity, res.WeightSource)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WEEK\tDAYS\tQUOTA\tPLACED\tUNASSIGNED\tBACKFILLED")
	for _, w := range res.Weeks {
		fmt.Fprintf(tw, "%s\t%s..%s\t%d\t%d\t%d\t%d\n", w.Week, generic.FormatDate(w.Start), generic.FormatDate(w.End),
			w.Quota, w.Placed, w.Unassigned, w.Backfilled)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "CITY\tCLASS\tEVENTS\tPCT\tUNASSIGNED")
	for _, c := range res.Breakdown {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s%%\t%d\n", c.CityName, c.Classification, c.TotalEvents, c.Percentage.StringFixed(2), c.Unassigned)
	}
	for _, d := range res.Deficits {
		if d.CityID == "" {
			fmt.Fprintf(tw, "(no city)\t%s\t0\t-\t%d\n", d.Classification, d.Count)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	return nil
}
