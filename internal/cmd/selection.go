package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/catalog/internal/observability"
	"github.com/3leaps/catalog/pkg/bulk"
	"github.com/3leaps/catalog/pkg/output"
	"github.com/3leaps/catalog/pkg/provider"
	"github.com/3leaps/catalog/pkg/selection"
)

var selectionCmd = &cobra.Command{
	Use:     "selection",
	Aliases: []string{"sel"},
	Short:   "Act on a selection document",
	Long: `Load a selection document and project it into handles or run a bulk action on it.

A selection document lists the rows picked per prefix, applied in order:

  selections:
    - uri: s3://bucket/photos/
      items: [a.jpg, 2024/]
    - uri: s3://bucket/photos/
      filter: "20"
      items: [2025/]

Use --file - to read the document from stdin. Files ending in .json are read as JSON.`,
}

var selectionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the handles a selection resolves to",
	Long: `Print one catalog.handle.v1 record per selected row, grouped by prefix in selection order.

Examples:
  catalog selection show -f sel.yaml
  catalog selection show -f sel.yaml --output table`,
	Args: cobra.NoArgs,
	RunE: runSelectionShow,
}

var selectionDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete every selected object",
	Long: `Delete the selected objects. Selected prefixes are expanded to the objects beneath them.

Without --yes the objects that would be deleted are printed and nothing is removed.

Examples:
  catalog selection delete -f sel.yaml
  catalog selection delete -f sel.yaml --yes --concurrency 32`,
	Args: cobra.NoArgs,
	RunE: runSelectionDelete,
}

var selectionBookmarkCmd = &cobra.Command{
	Use:   "bookmark",
	Short: "Add every selected handle to a bookmark group",
	Args:  cobra.NoArgs,
	RunE:  runSelectionBookmark,
}

var selectionDownloadCmd = &cobra.Command{
	Use:   "download-request",
	Short: "Print the zip-download request for a selection",
	Long: `Print the JSON body a zip-download service expects for the selection.

All handles must be in one bucket. Selected prefixes are passed through as keys ending in "/".`,
	Args: cobra.NoArgs,
	RunE: runSelectionDownload,
}

var (
	selectionFile        string
	selectionOutput      string
	selectionYes         bool
	selectionConcurrency int
	selectionGroup       string
	selectionBucket      string
)

func init() {
	rootCmd.AddCommand(selectionCmd)
	selectionCmd.AddCommand(selectionShowCmd, selectionDeleteCmd, selectionBookmarkCmd, selectionDownloadCmd)

	selectionCmd.PersistentFlags().StringVarP(&selectionFile, "file", "f", "", "Selection document (- for stdin)")
	_ = selectionCmd.MarkPersistentFlagRequired("file")

	selectionShowCmd.Flags().StringVar(&selectionOutput, "output", "jsonl", "Output format (jsonl|table)")
	selectionDeleteCmd.Flags().BoolVar(&selectionYes, "yes", false, "Delete without a dry run")
	selectionDeleteCmd.Flags().IntVar(&selectionConcurrency, "concurrency", 0, "Parallel deletes (0=bulk.concurrency)")
	selectionBookmarkCmd.Flags().StringVar(&selectionGroup, "group", "", "Bookmark group (default: bookmarks.default_group)")
	selectionDownloadCmd.Flags().StringVar(&selectionBucket, "bucket", "", "Expected bucket (default: the selection's bucket)")
}

// loadSelection reads the --file document and applies it to an empty state.
func loadSelection(in io.Reader) (selection.State, error) {
	var (
		doc *selection.Document
		err error
	)
	if selectionFile == "-" {
		doc, err = selection.LoadDocumentFromReader(in, "")
	} else {
		doc, err = selection.LoadDocument(selectionFile)
	}
	if err != nil {
		return selection.State{}, err
	}
	state := doc.State()
	observability.CLILogger.Debug("Selection loaded",
		zap.Int("prefixes", state.Len()),
		zap.Int("rows", state.TotalCount()))
	return state, nil
}

func selectionState(cmd *cobra.Command) (selection.State, error) {
	state, err := loadSelection(cmd.InOrStdin())
	if err != nil {
		observability.CLILogger.Error("Invalid selection", zap.String("file", selectionFile), zap.Error(err))
		return selection.State{}, exitError(foundry.ExitInvalidArgument, "Invalid selection document", err)
	}
	return state, nil
}

func selectionHandles(cmd *cobra.Command) (selection.HandlesMap, error) {
	state, err := selectionState(cmd)
	if err != nil {
		return nil, err
	}
	m, err := selection.ToHandlesMap(state)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid selection document", err)
	}
	return m, nil
}

// writeHandles emits one handle record per selected row.
func writeHandles(ctx context.Context, out io.Writer, state selection.State, providerName string) error {
	m, err := selection.ToHandlesMap(state)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid selection", err)
	}
	w := output.NewJSONLWriter(out, uuid.New().String(), providerName)
	defer func() { _ = w.Close() }()
	for _, ph := range m {
		for _, h := range ph.Handles {
			rec := &output.HandleRecord{Prefix: string(ph.Prefix), Bucket: h.Bucket, Key: h.Key, Version: h.Version}
			if err := w.WriteHandle(ctx, rec); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
		}
	}
	return nil
}

func runSelectionShow(cmd *cobra.Command, _ []string) error {
	if selectionOutput != "jsonl" && selectionOutput != "table" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", fmt.Errorf("expected jsonl or table"))
	}
	state, err := selectionState(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if selectionOutput == "jsonl" {
		return writeHandles(cmd.Context(), out, state, appConfig.Storage.Provider)
	}

	m, err := selection.ToHandlesMap(state)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid selection document", err)
	}
	for i, ph := range m {
		if i > 0 {
			_, _ = fmt.Fprintln(out)
		}
		_, _ = fmt.Fprintf(out, "%s (%d)\n", ph.Base.String(), len(ph.Handles))
		for _, h := range ph.Handles {
			_, _ = fmt.Fprintf(out, "  %s\n", h.String())
		}
	}
	return nil
}

func runSelectionDelete(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	m, err := selectionHandles(cmd)
	if err != nil {
		return err
	}
	handles := m.Flatten()
	if len(handles) == 0 {
		return exitError(foundry.ExitInvalidArgument, "Nothing to delete", bulk.ErrEmptySelection)
	}

	resolve, providerName, closeResolver := newResolver(appConfig)
	defer closeResolver()

	w := output.NewJSONLWriter(cmd.OutOrStdout(), uuid.New().String(), providerName)
	defer func() { _ = w.Close() }()

	if !selectionYes {
		objects, markers, failed := bulk.Expand(ctx, resolve, handles)
		for _, loc := range append(objects, markers...) {
			if err := w.WriteHandle(ctx, &output.HandleRecord{Bucket: loc.Bucket, Key: loc.Key, Version: loc.Version}); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
		}
		for _, f := range failed {
			_ = w.WriteError(ctx, &output.ErrorRecord{Code: provider.Code(f.Err), Message: f.Err.Error(), URI: f.Handle.String()})
		}
		observability.CLILogger.Warn("Dry run: nothing deleted, re-run with --yes",
			zap.Int("objects", len(objects)),
			zap.Int("prefixes", len(markers)))
		return nil
	}

	cfg := bulkConfig()
	if selectionConcurrency > 0 {
		cfg.Concurrency = selectionConcurrency
	}
	res := bulk.Delete(ctx, resolve, handles, cfg)
	return finishBulk(ctx, w, res)
}

func runSelectionBookmark(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	m, err := selectionHandles(cmd)
	if err != nil {
		return err
	}
	handles := m.Flatten()
	if len(handles) == 0 {
		return exitError(foundry.ExitInvalidArgument, "Nothing to bookmark", bulk.ErrEmptySelection)
	}

	group := selectionGroup
	if group == "" {
		group = appConfig.Bookmarks.DefaultGroup
	}
	store, db, err := openBookmarks(ctx, appConfig)
	if err != nil {
		observability.CLILogger.Error("Failed to open bookmarks database", zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Failed to open bookmarks database", err)
	}
	defer func() { _ = db.Close() }()

	w := output.NewJSONLWriter(cmd.OutOrStdout(), uuid.New().String(), appConfig.Storage.Provider)
	defer func() { _ = w.Close() }()

	res := bulk.Bookmark(ctx, store, group, handles, bulkConfig())
	return finishBulk(ctx, w, res)
}

func runSelectionDownload(cmd *cobra.Command, _ []string) error {
	m, err := selectionHandles(cmd)
	if err != nil {
		return err
	}
	req, err := bulk.BuildDownloadRequest(selectionBucket, m.Flatten())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot build download request", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(req); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return nil
}

func bulkConfig() bulk.Config {
	return bulk.Config{
		Concurrency: appConfig.Bulk.Concurrency,
		RateLimit:   appConfig.Bulk.RateLimit,
		Logger:      observability.CLILogger,
	}
}

// finishBulk writes one item record per handle and the summary, and maps a
// partial failure to a non-zero exit.
func finishBulk(ctx context.Context, w output.Writer, res *bulk.Result) error {
	for _, loc := range res.Succeeded {
		if err := w.WriteItem(ctx, &output.ItemRecord{Action: res.Action.Verb, URI: loc.String(), OK: true}); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	for _, f := range res.Failed {
		rec := &output.ItemRecord{Action: res.Action.Verb, URI: f.Handle.String(), Code: provider.Code(f.Err), Message: f.Err.Error()}
		if err := w.WriteItem(ctx, rec); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}

	msg := res.Summary(appConfig.Bulk.SummaryLimit)
	sum := &output.SummaryRecord{
		Action:        res.Action.Verb,
		Total:         res.Total,
		Succeeded:     len(res.Succeeded),
		Failed:        len(res.Failed),
		Markers:       len(res.Markers),
		Message:       msg,
		Duration:      res.Duration,
		DurationHuman: res.Duration.Round(time.Millisecond).String(),
	}
	if err := w.WriteSummary(ctx, sum); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}

	if ctx.Err() != nil {
		return exitError(foundry.ExitSignalInt, fmt.Sprintf("%s cancelled", res.Action.Verb), ctx.Err())
	}
	if !res.OK() {
		observability.CLILogger.Error(msg, zap.Int("failed", len(res.Failed)), zap.Int("total", res.Total))
		return exitError(foundry.ExitExternalServiceUnavailable, fmt.Sprintf("%s completed with errors", res.Action.Verb), res.Err())
	}
	observability.CLILogger.Info(msg, zap.Duration("duration", res.Duration))
	return nil
}
