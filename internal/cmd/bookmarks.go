package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/catalog/internal/observability"
	"github.com/3leaps/catalog/pkg/bookmarks"
	"github.com/3leaps/catalog/pkg/handle"
	"github.com/3leaps/catalog/pkg/output"
	"github.com/3leaps/catalog/pkg/provider"
)

var bookmarksCmd = &cobra.Command{
	Use:   "bookmarks",
	Short: "Manage bookmark groups",
	Long: `List and toggle bookmarks. Bookmarks are stored in a local SQLite database
(bookmarks.path) or a remote libSQL database (bookmarks.url).`,
}

var bookmarksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bookmarks",
	Long: `List the bookmarks of one group, or of every group when --group is not set.

Examples:
  catalog bookmarks list
  catalog bookmarks list --group favourites --output table`,
	Args: cobra.NoArgs,
	RunE: runBookmarksList,
}

var bookmarksToggleCmd = &cobra.Command{
	Use:   "toggle <uri>",
	Short: "Add or remove one bookmark",
	Long: `Flip the membership of one object or prefix in a bookmark group.

Objects are checked to exist before they are added.`,
	Args: cobra.ExactArgs(1),
	RunE: runBookmarksToggle,
}

var (
	bookmarksGroup  string
	bookmarksOutput string
	bookmarksVer    string
)

func init() {
	rootCmd.AddCommand(bookmarksCmd)
	bookmarksCmd.AddCommand(bookmarksListCmd, bookmarksToggleCmd)

	bookmarksCmd.PersistentFlags().StringVar(&bookmarksGroup, "group", "", "Bookmark group")
	bookmarksListCmd.Flags().StringVar(&bookmarksOutput, "output", "jsonl", "Output format (jsonl|table)")
	bookmarksToggleCmd.Flags().StringVar(&bookmarksVer, "version-id", "", "Object version to bookmark")
}

func runBookmarksList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if bookmarksOutput != "jsonl" && bookmarksOutput != "table" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", fmt.Errorf("expected jsonl or table"))
	}

	store, db, err := openBookmarks(ctx, appConfig)
	if err != nil {
		observability.CLILogger.Error("Failed to open bookmarks database", zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Failed to open bookmarks database", err)
	}
	defer func() { _ = db.Close() }()

	groups := store.Groups()
	if bookmarksGroup != "" {
		groups = []string{bookmarksGroup}
	}

	var entries []bookmarks.Entry
	for _, g := range groups {
		list, err := store.List(ctx, g)
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to list bookmarks", err)
		}
		entries = append(entries, list...)
	}

	if bookmarksOutput == "table" {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "GROUP\tURI\tCREATED")
		for _, e := range entries {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Group, e.Handle.String(), e.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	}

	w := output.NewJSONLWriter(cmd.OutOrStdout(), uuid.New().String(), appConfig.Storage.Provider)
	defer func() { _ = w.Close() }()
	for _, e := range entries {
		if err := w.WriteBookmark(ctx, &output.BookmarkRecord{Group: e.Group, URI: e.Handle.String(), CreatedAt: e.CreatedAt}); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	return nil
}

func runBookmarksToggle(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	parsed, err := handle.ParseURI(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}
	loc := parsed.Location()
	loc.Version = bookmarksVer

	group := bookmarksGroup
	if group == "" {
		group = appConfig.Bookmarks.DefaultGroup
	}

	store, db, err := openBookmarks(ctx, appConfig)
	if err != nil {
		observability.CLILogger.Error("Failed to open bookmarks database", zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Failed to open bookmarks database", err)
	}
	defer func() { _ = db.Close() }()

	if !loc.IsPrefix() && !store.Contains(group, loc) {
		resolve, _, closeResolver := newResolver(appConfig)
		defer closeResolver()
		if _, err := provider.Stat(ctx, resolve, loc.Bucket, loc.Key); err != nil {
			if provider.IsNotFound(err) {
				return exitError(foundry.ExitFileNotFound, "Object not found", err)
			}
			observability.CLILogger.Error("Failed to stat object", zap.String("uri", loc.String()), zap.Error(err))
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to stat object", err)
		}
	}

	added, err := store.Toggle(ctx, group, loc)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to toggle bookmark", err)
	}
	state := "removed"
	if added {
		state = "added"
	}
	observability.CLILogger.Info("Bookmark "+state,
		zap.String("group", group),
		zap.String("uri", loc.String()),
		zap.Int("group_size", store.Count(group)))
	return nil
}
