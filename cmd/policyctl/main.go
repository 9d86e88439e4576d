// policyctl is an operator CLI for the policy service. It loads the same
// environment as the server and talks to the store and upstream directly.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"yuno/policy-service/internal/app"
	"yuno/policy-service/internal/config"
	"yuno/policy-service/internal/model"
	"yuno/policy-service/internal/transform"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "policyctl",
		Short:         "policyctl - inspect and sync the youth policy cache",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("json", false, "output as JSON")

	root.AddCommand(syncCmd())
	root.AddCommand(listCmd())
	root.AddCommand(getCmd())
	root.AddCommand(lastSyncCmd())
	root.AddCommand(categoriesCmd())
	return root
}

// withApp loads config, builds the pipeline and hands it to fn.
func withApp(cmd *cobra.Command, fn func(*app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a, err := app.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one full catalogue sync into the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app.App) error {
				n, err := a.Service.SyncAll(cmd.Context())
				if err != nil {
					return fmt.Errorf("sync failed after %d policies: %w", n, err)
				}
				if asJSON(cmd) {
					return writeJSON(cmd.OutOrStdout(), map[string]int{"synced": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Synced %d policies\n", n)
				return nil
			})
		},
	}
}

func listCmd() *cobra.Command {
	var (
		f              model.Filters
		page, limit    int
		ageMin, ageMax int
		cacheOnly      bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List policies (live with cache fallback, or --cache)",
		Long: `List one page of policies.

Examples:
  policyctl list --category 취업지원 --region 003002001
  policyctl list --search 월세 --age-min 19 --age-max 34
  policyctl list --cache --page 2 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var age model.AgeBounds
			if cmd.Flags().Changed("age-min") {
				age.Min = &ageMin
			}
			if cmd.Flags().Changed("age-max") {
				age.Max = &ageMax
			}
			return withApp(cmd, func(a *app.App) error {
				var (
					out model.PolicyPage
					err error
				)
				if cacheOnly {
					out, err = a.Store.QueryCached(cmd.Context(), f, page, limit)
				} else {
					out, err = a.Service.GetPolicies(cmd.Context(), f, page, limit, age)
				}
				if err != nil {
					return err
				}
				if asJSON(cmd) {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				return printPage(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVarP(&f.Category, "category", "c", "", "category name, e.g. 주거지원")
	cmd.Flags().StringVarP(&f.Region, "region", "r", "", "region code, e.g. 003002001 (a name such as 서울 also works)")
	cmd.Flags().StringVarP(&f.Search, "search", "s", "", "search title and description")
	cmd.Flags().IntVarP(&page, "page", "p", 1, "page number")
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "page size (max 100)")
	cmd.Flags().IntVar(&ageMin, "age-min", 0, "lower age bound (live results only)")
	cmd.Flags().IntVar(&ageMax, "age-max", 0, "upper age bound (live results only)")
	cmd.Flags().BoolVar(&cacheOnly, "cache", false, "read from the cache only")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Show one policy's detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				p, err := a.Service.GetPolicyDetail(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if p == nil {
					return fmt.Errorf("policy %q not found", args[0])
				}
				return writeJSON(cmd.OutOrStdout(), p)
			})
		},
	}
}

func lastSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "last-sync",
		Short: "Show the report of the most recent sync (requires REDIS_URL)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app.App) error {
				if a.History == nil {
					return fmt.Errorf("REDIS_URL is not set")
				}
				report, err := a.History.LastSync(cmd.Context())
				if err != nil {
					return err
				}
				if report == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "No sync has completed yet")
					return nil
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func categoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the category names accepted by --category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names := transform.Categories()
			if asJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), names)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range names {
				fmt.Fprintf(w, "%s\t%s\n", transform.CategoryCode(name), name)
			}
			return w.Flush()
		},
	}
}

// ─── Output ─────────────────────────────────────────────────────────────────

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPage(w io.Writer, p model.PolicyPage) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tREGION\tDEADLINE\tTITLE")
	for _, pol := range p.Policies {
		deadline := "-"
		if pol.Deadline != nil {
			deadline = pol.Deadline.String()
		}
		title := ""
		if pol.Title != nil {
			title = *pol.Title
		}
		fmt.Fprintf(tw, "%s\t%s\t%v\t%s\t%s\n", pol.ID, pol.Category, pol.Region, deadline, title)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\npage %d, %d of %d (source: %s, more: %t)\n",
		p.Pagination.Page, len(p.Policies), p.Pagination.Total, p.Source, p.Pagination.HasNext)
	return nil
}
