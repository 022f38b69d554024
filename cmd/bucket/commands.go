package bucket

import (
	"fmt"
	"strconv"
	"time"

	"github.com/diegose/limitd-go/client"
	"github.com/diegose/limitd-go/cmd/util"
	"github.com/spf13/cobra"
)

var (
	reserveCmd = &cobra.Command{
		Use:   "reserve [type] [key] [count]",
		Short: "Reserve tokens from a bucket",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := countArg(args, 2)
			if err != nil {
				return err
			}

			ctx, cancel := util.RequestContext()
			defer cancel()

			res, err := limiter.ReserveCtx(ctx, args[0], args[1], count)
			if err != nil {
				return err
			}
			printTakeResult(res)
			return nil
		},
	}
	waitCmd = &cobra.Command{
		Use:   "wait [type] [key] [count]",
		Short: "Reserve tokens from a bucket, waiting until they are available",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := countArg(args, 2)
			if err != nil {
				return err
			}

			ctx, cancel := util.RequestContext()
			defer cancel()

			res, err := limiter.WaitCtx(ctx, args[0], args[1], count)
			if err != nil {
				return err
			}
			printTakeResult(res)
			return nil
		},
	}
	inspectCmd = &cobra.Command{
		Use:   "inspect [type] [key]",
		Short: "Read a bucket instance without taking tokens",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) > 1 {
				key = args[1]
			}

			ctx, cancel := util.RequestContext()
			defer cancel()

			res, err := limiter.InspectCtx(ctx, args[0], key)
			if err != nil {
				return err
			}
			fmt.Printf("remaining %d of %d, resets at %s\n",
				res.Remaining, res.Limit, formatReset(res.ResetAt))
			return nil
		},
	}
	replenishCmd = &cobra.Command{
		Use:   "replenish [type] [key] [count]",
		Short: "Put tokens back into a bucket",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := countArg(args, 2)
			if err != nil {
				return err
			}

			ctx, cancel := util.RequestContext()
			defer cancel()

			if _, err := limiter.ReplenishCtx(ctx, args[0], args[1], count); err != nil {
				return err
			}
			fmt.Println("replenished successfully")
			return nil
		},
	}
	statusCmd = &cobra.Command{
		Use:   "status [type] [key-prefix]",
		Short: "List live instances of a bucket type",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) > 1 {
				key = args[1]
			}

			ctx, cancel := util.RequestContext()
			defer cancel()

			res, err := limiter.StatusCtx(ctx, args[0], key)
			if err != nil {
				return err
			}
			if len(res.Instances) == 0 {
				fmt.Println("no live instances")
				return nil
			}
			for _, inst := range res.Instances {
				fmt.Printf("%-30s remaining %d of %d, resets at %s\n",
					inst.Key, inst.Remaining, inst.Limit, formatReset(int64(inst.ResetAt)))
			}
			return nil
		},
	}
)

// countArg parses the optional count argument, defaulting to 1
func countArg(args []string, idx int) (int, error) {
	if len(args) <= idx {
		return 1, nil
	}
	count, err := strconv.Atoi(args[idx])
	if err != nil {
		return 0, fmt.Errorf("count must be a number: %w", err)
	}
	return count, nil
}

func printTakeResult(res *client.Result) {
	verdict := "conformant"
	if !res.Conformant {
		verdict = "NOT conformant"
	}
	if res.Delayed {
		verdict += " (delayed)"
	}
	fmt.Printf("%s: remaining %d of %d, resets at %s\n",
		verdict, res.Remaining, res.Limit, formatReset(res.ResetAt))
}

func formatReset(resetAt int64) string {
	if resetAt == 0 {
		return "-"
	}
	return time.Unix(resetAt, 0).Format(time.RFC3339)
}
