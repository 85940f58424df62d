package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"burger-queue/pkg/burger"
	"burger-queue/pkg/client"
	"burger-queue/pkg/job"

	"github.com/spf13/cobra"
)

type app struct {
	apiURL string
	client *client.Client
}

func newRootCmd(defaultURL string) *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "burgerctl",
		Short:        "Control the burger queue",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.client = client.New(a.apiURL)
		},
	}
	root.PersistentFlags().StringVar(&a.apiURL, "api-url", defaultURL, "base URL of the burger queue API")

	root.AddCommand(
		a.orderCmd(),
		a.batchCmd(),
		a.getCmd(),
		a.listCmd(),
		a.statusCmd(),
		a.cancelCmd(),
		a.retryCmd(),
		a.promoteCmd(),
		a.removeCmd(),
		a.pauseCmd(),
		a.resumeCmd(),
		a.cleanCmd(),
		a.drainCmd(),
	)
	return root
}

func (a *app) orderCmd() *cobra.Command {
	var bun, cheese string
	var toppings []string
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place a burger order (the house burger when no flags are given)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var order *burger.Order
			if bun != "" || cheese != "" || len(toppings) > 0 {
				order = &burger.Order{Bun: bun, Cheese: cheese, Toppings: toppings}
			}
			resp, err := a.client.PlaceOrder(cmd.Context(), order)
			if err != nil {
				return fmt.Errorf("failed to place order: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\njob id: %s\nburger: %s\n", resp.Message, resp.JobID, resp.Burger)
			return nil
		},
	}
	cmd.Flags().StringVar(&bun, "bun", "", "bun")
	cmd.Flags().StringVar(&cheese, "cheese", "", "cheese")
	cmd.Flags().StringSliceVar(&toppings, "topping", nil, "topping, repeatable")
	return cmd
}

func (a *app) batchCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Create a batch of burger jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.CreateJobs(cmd.Context(), count)
			if err != nil {
				return fmt.Errorf("failed to create jobs: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Message)
			for _, j := range resp.Jobs {
				fmt.Fprintf(out, "%s\t%s\n", j.JobID, j.Burger)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of orders")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one burger order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := a.client.GetOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var state string
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs by state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.List(cmd.Context(), job.State(state), offset, limit)
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(resp.Jobs) == 0 {
				fmt.Fprintf(out, "No jobs found in state: %s\n", state)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tATTEMPTS\tPROGRESS\tBURGER")
			for _, j := range resp.Jobs {
				fmt.Fprintf(w, "%s\t%d/%d\t%.0f%%\t%s\n", j.JobID, j.Attempts, j.MaxAttempts, j.Progress, j.Burger)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&state, "state", string(job.StateWaiting), "waiting, active, delayed, paused, completed or failed")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many jobs")
	cmd.Flags().IntVar(&limit, "limit", 50, "show at most this many jobs (0 for all)")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show a summary of job states",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			s := resp.Summary
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "--- Burger Queue Status ---")
			fmt.Fprintf(w, "paused:\t%v\n", resp.QueuePaused)
			fmt.Fprintf(w, "waiting:\t%d\n", s.Waiting)
			fmt.Fprintf(w, "active:\t%d\n", s.Active)
			fmt.Fprintf(w, "delayed:\t%d\n", s.Delayed)
			fmt.Fprintf(w, "paused jobs:\t%d\n", s.Paused)
			fmt.Fprintf(w, "completed:\t%d\n", s.Completed)
			fmt.Fprintf(w, "failed:\t%d\n", s.Failed)
			fmt.Fprintf(w, "total:\t%d\n", s.Total)
			for _, aj := range resp.ActiveJobs {
				fmt.Fprintf(w, "  burger #%d\t%s\t%.0f%%\n", aj.OrderNumber, aj.ID, aj.Progress)
			}
			return w.Flush()
		},
	}
}

func (a *app) cancelCmd() *cobra.Command {
	return a.idCmd("cancel", "Cancel a burger order", func(cmd *cobra.Command, id string) error {
		return a.client.CancelOrder(cmd.Context(), id)
	})
}

func (a *app) retryCmd() *cobra.Command {
	return a.idCmd("retry", "Retry a failed burger order", func(cmd *cobra.Command, id string) error {
		_, err := a.client.RetryOrder(cmd.Context(), id)
		return err
	})
}

func (a *app) promoteCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "promote [job-id]",
		Short: "Start a delayed order now (--all for every delayed order)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				resp, err := a.client.PromoteAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "promoted %d jobs\n", resp.Count)
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("a job id or --all is required")
			}
			if err := a.client.PromoteOrder(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "promote: %s ok\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "promote every delayed job")
	return cmd
}

func (a *app) removeCmd() *cobra.Command {
	return a.idCmd("remove", "Remove a burger order that is not being prepared", func(cmd *cobra.Command, id string) error {
		return a.client.RemoveOrder(cmd.Context(), id)
	})
}

// idCmd builds a command taking a single job id.
func (a *app) idCmd(use, short string, run func(cmd *cobra.Command, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(cmd, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s ok\n", use, args[0])
			return nil
		},
	}
}

func (a *app) pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Stop handing out jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Pause(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "queue paused")
			return nil
		},
	}
}

func (a *app) resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume handing out jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Resume(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "queue resumed")
			return nil
		},
	}
}

func (a *app) cleanCmd() *cobra.Command {
	var keep int
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove completed and failed jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Clean(cmd.Context(), keep, olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s, removed %d\n", resp.Message, resp.Count)
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 10, "most recent jobs to keep per state")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only remove jobs finished at least this long ago")
	return cmd
}

func (a *app) drainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Remove all waiting and delayed jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Drain(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "drained %d jobs\n", resp.Count)
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
