package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/catalog/internal/observability"
	"github.com/3leaps/catalog/pkg/handle"
	"github.com/3leaps/catalog/pkg/listing"
	"github.com/3leaps/catalog/pkg/output"
	"github.com/3leaps/catalog/pkg/provider"
	"github.com/3leaps/catalog/pkg/selection"
)

var lsCmd = &cobra.Command{
	Use:   "ls <uri>",
	Short: "List a prefix as grid rows",
	Long: `List the direct children of an S3 prefix the way the browser grid shows them:
a ".." row (except at the bucket root), then child prefixes and objects.

Rows may be decorated with bookmark membership, and --select prints the handles a
select-all-matching (or --glob) selection would produce.

Examples:
  catalog ls s3://bucket/photos/
  catalog ls s3://bucket/photos/ --output table --group favourites
  catalog ls s3://bucket/photos/ --select 2024
  catalog ls s3://bucket/photos/ --glob '*.jpg'`,
	Args: cobra.ExactArgs(1),
	RunE: runLs,
}

var (
	lsOutput   string
	lsMaxItems int
	lsGroup    string
	lsSelect   string
	lsGlob     string
)

func init() {
	rootCmd.AddCommand(lsCmd)

	lsCmd.Flags().StringVar(&lsOutput, "output", "jsonl", "Output format (jsonl|table)")
	lsCmd.Flags().IntVar(&lsMaxItems, "max-items", 0, "Max rows to collect (0=config default, -1=unlimited)")
	lsCmd.Flags().StringVar(&lsGroup, "group", "", "Mark rows bookmarked in this group")
	lsCmd.Flags().StringVar(&lsSelect, "select", "", "Print handles of rows whose name starts with this filter")
	lsCmd.Flags().StringVar(&lsGlob, "glob", "", "Print handles of rows matching this glob")
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	uri := args[0]

	parsed, err := handle.ParseURI(uri)
	if err != nil {
		observability.CLILogger.Error("Invalid URI", zap.String("uri", uri), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}
	if !parsed.IsPrefix() {
		return exitError(foundry.ExitInvalidArgument, "ls requires a prefix URI", fmt.Errorf("append '/' to treat the URI as a prefix"))
	}
	if lsOutput != "jsonl" && lsOutput != "table" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", fmt.Errorf("expected jsonl or table"))
	}
	if lsSelect != "" && lsGlob != "" {
		return exitError(foundry.ExitInvalidArgument, "Conflicting flags", fmt.Errorf("use --select or --glob, not both"))
	}

	resolve, providerName, closeResolver := newResolver(appConfig)
	defer closeResolver()

	lister, err := provider.ResolveDelimiterLister(ctx, resolve, parsed.Bucket)
	if err != nil {
		observability.CLILogger.Error("Failed to create provider", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage provider", err)
	}

	maxItems := lsMaxItems
	if maxItems == 0 {
		maxItems = appConfig.Listing.MaxItems
	}
	start := time.Now()
	page, err := listing.List(ctx, lister, parsed.Bucket, parsed.Key, listing.Options{PageSize: appConfig.S3.MaxKeys, MaxItems: maxItems})
	if err != nil {
		observability.CLILogger.Error("Failed to list prefix", zap.String("uri", uri), zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list prefix", err)
	}
	observability.CLILogger.Debug("Listed prefix",
		zap.String("prefix", string(page.Prefix)),
		zap.Int("rows", len(page.Items)),
		zap.Bool("truncated", page.Truncated),
		zap.Duration("elapsed", time.Since(start)))
	if page.Truncated {
		observability.CLILogger.Warn("Listing truncated", zap.Int("max_items", maxItems))
	}

	var opts listing.RowOptions
	if lsGroup != "" {
		store, db, err := openBookmarks(ctx, appConfig)
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to open bookmarks database", err)
		}
		defer func() { _ = db.Close() }()
		opts.Bookmarked = func(loc handle.Location) bool { return store.Contains(lsGroup, loc) }
	}

	if lsSelect != "" || lsGlob != "" {
		change := listing.SelectMatching(page, lsSelect)
		if lsGlob != "" {
			change, err = listing.SelectGlob(page, lsGlob)
			if err != nil {
				return exitError(foundry.ExitInvalidArgument, "Invalid --glob pattern", err)
			}
		}
		state := change.Reducer()(selection.Empty())
		return writeHandles(ctx, cmd.OutOrStdout(), state, providerName)
	}

	rows := page.Rows(opts)
	if lsOutput == "table" {
		return writeRowsTable(cmd.OutOrStdout(), rows)
	}

	w := output.NewJSONLWriter(cmd.OutOrStdout(), uuid.New().String(), providerName)
	defer func() { _ = w.Close() }()
	for i := range rows {
		if err := w.WriteRow(ctx, &rows[i]); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	observability.CLILogger.Debug("Rows written", zap.Int("rows", w.Counts()[output.TypeRow]))
	return nil
}

func writeRowsTable(out io.Writer, rows []output.RowRecord) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "KIND\tNAME\tSIZE\tMODIFIED\tBOOKMARKED"); err != nil {
		return err
	}
	for _, r := range rows {
		size, modified, mark := "", "", ""
		if r.Kind == "file" {
			size = humanize.IBytes(uint64(r.Size))
			if !r.LastModified.IsZero() {
				modified = r.LastModified.UTC().Format(time.RFC3339)
			}
		}
		if r.Bookmarked {
			mark = "*"
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Kind, r.ID, size, modified, mark); err != nil {
			return err
		}
	}
	return tw.Flush()
}
