package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/macrolens/larder/internal/domain"
	"github.com/macrolens/larder/internal/infrastructure/store"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Database string
	RecordID string
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the completion audit trail of one inventory record",
		Long: `Read the append-only audit trail of an inventory record from a
SQLite store, oldest entry first.

Examples:
  larderctl audit --sqlite ./larder.db --record 6f1c...
  larderctl audit --sqlite ./larder.db --record 6f1c... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "sqlite", "", "path to the SQLite inventory database (required)")
	_ = cmd.MarkFlagRequired("sqlite")
	cmd.Flags().StringVar(&opts.RecordID, "record", "", "inventory record id (required)")
	_ = cmd.MarkFlagRequired("record")

	return cmd
}

func runAudit(ctx context.Context, opts *AuditOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Opening creates the schema, so refuse paths that do not exist yet.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	st, err := store.OpenSQLite(ctx, opts.Database, 0, zap.NewNop())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	entries, err := st.ListAudit(ctx, opts.RecordID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read audit trail", err)
	}
	if entries == nil {
		entries = []domain.CompletionAuditEntry{}
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), entries)
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintf(out, "No audit entries for record: %s\n", opts.RecordID)
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tRECIPE\tBEFORE\tAFTER\tUNIT\tCAUSE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%g\t%g\t%s\t%s\n",
			e.Timestamp.UTC().Format(time.RFC3339), e.RecipeReference, e.QuantityBefore, e.QuantityAfter, e.Unit, e.Cause)
	}
	return tw.Flush()
}
