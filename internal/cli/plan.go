package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/macrolens/larder/internal/catalog"
	"github.com/macrolens/larder/internal/domain"
	"github.com/macrolens/larder/internal/logger"
	"github.com/macrolens/larder/internal/usecase"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Snapshot        string
	Lines           []string
	MinOverlapRatio float64
	Fuzzy           bool
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Dry-run a recipe against an inventory snapshot",
		Long: `Compute allocation plans for recipe lines against a JSON inventory
snapshot. Nothing is written anywhere.

The snapshot is a JSON array of inventory records, or "-" for stdin.

Examples:
  larderctl plan --snapshot inv.json --line "2 cups flour" --line "3 eggs"
  larderctl plan --snapshot - --line "500 g chicken breast" --format json < inv.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Snapshot, "snapshot", "", "path to a JSON inventory snapshot, - for stdin (required)")
	_ = cmd.MarkFlagRequired("snapshot")
	cmd.Flags().StringArrayVar(&opts.Lines, "line", nil, "recipe ingredient line, repeatable (required)")
	_ = cmd.MarkFlagRequired("line")
	cmd.Flags().Float64Var(&opts.MinOverlapRatio, "min-overlap", 0.5, "minimum share of ingredient tokens a record name must match")
	cmd.Flags().BoolVar(&opts.Fuzzy, "fuzzy", false, "tolerate one-letter typos when matching names")

	return cmd
}

func runPlan(ctx context.Context, opts *PlanOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	snapshot, err := readSnapshot(opts.Snapshot, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}

	log := zap.NewNop()
	if opts.Verbose {
		if log, err = logger.New("debug", "console"); err != nil {
			return WrapExitError(ExitCommandError, "failed to create logger", err)
		}
	}

	svc := usecase.NewCompletionService(catalog.Default(), nil, nil, usecase.CompletionServiceConfig{
		Match: usecase.MatchConfig{
			MinOverlapRatio:     opts.MinOverlapRatio,
			EnableFuzzyMatching: opts.Fuzzy,
		},
		EnableDebugLogging: opts.Verbose,
	}, log)

	resp, err := svc.Plan(ctx, domain.CompletionRequest{
		IngredientLines:   opts.Lines,
		InventorySnapshot: snapshot,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "planning failed", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	return writePlanText(cmd.OutOrStdout(), resp)
}

func readSnapshot(path string, stdin io.Reader) ([]domain.InventoryRecord, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	var records []domain.InventoryRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return records, nil
}

func writePlanText(w io.Writer, resp *domain.CompletionResponse) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, plan := range resp.Plans {
		status := "ok"
		if !plan.Satisfied() {
			status = fmt.Sprintf("short %g %s", plan.ShortfallQuantity, plan.ShortfallUnit)
		}
		fmt.Fprintf(tw, "%s\t%g %s\t%s\n", plan.Ingredient, plan.RequestedQuantity, plan.RequestedUnit, status)
		for _, e := range plan.Entries {
			fmt.Fprintf(tw, "  %s\t%g %s\tof %g\n", e.RecordID, e.QuantityToConsume, e.UnitAtRecord, e.AvailableQuantity)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(resp.Shortfalls) > 0 {
		fmt.Fprintln(w, "\nShopping list:")
		for _, s := range resp.Shortfalls {
			fmt.Fprintf(w, "  %g %s %s\n", s.Quantity, s.Unit, s.CanonicalName)
		}
	}
	if len(resp.UnusableCandidates) > 0 {
		fmt.Fprintln(w, "\nOwned but not convertible:")
		for _, u := range resp.UnusableCandidates {
			fmt.Fprintf(w, "  %s (%s): %s\n", u.RecordID, u.Name, u.Reason)
		}
	}
	if len(resp.UnparsedLines) > 0 {
		fmt.Fprintf(w, "\nUnparsed: %s\n", strings.Join(resp.UnparsedLines, "; "))
	}
	return nil
}
