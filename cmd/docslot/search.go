package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/docslot/internal/cli"
	"github.com/hyperjump/docslot/internal/models"
	"github.com/hyperjump/docslot/internal/query"
)

var (
	searchK     int
	searchText  bool
	searchFuzzy bool
	searchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find the documents nearest to a query",
	Long: `Embed the query and return the k nearest documents by L2 distance, nearest first.
A slot the registry cannot resolve is reported as a resolution gap rather than dropped.

The query is all remaining arguments joined by spaces, so quoting is optional.

Examples:
  docslot search surveillance report
  docslot search -k 10 "annual budget"
  docslot search --text --fuzzy budjet      # keyword search over the text mirror`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchK, "top", "k", 0, "number of neighbours (default search.default_k)")
	searchCmd.Flags().BoolVar(&searchText, "text", false, "search the full-text mirror instead of the vector index")
	searchCmd.Flags().BoolVar(&searchFuzzy, "fuzzy", false, "typo-tolerant matching (with --text)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum text matches (with --text)")
	rootCmd.AddCommand(searchCmd)
}

// buildSearchQuery joins positional args so multi-word queries work with or without quotes.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runSearch(cmd *cobra.Command, args []string) error {
	q := buildSearchQuery(args)
	if q == "" {
		return &exitError{code: ExitError, err: query.ErrEmptyQuery}
	}
	c, err := setup(openOptions{embedder: !searchText, text: searchText})
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, stop := signalContext()
	defer stop()
	r := c.resolver()

	if searchText {
		hits, err := r.TextSearch(ctx, q, searchLimit, searchFuzzy)
		if errors.Is(err, query.ErrNoTextIndex) {
			return &exitError{code: ExitError, err: errors.New("no text index configured (storage.text_index_path)")}
		}
		if err != nil {
			return err
		}
		return cli.WriteTextHits(cmd.OutOrStdout(), q, hits, outputFormat())
	}

	resp, err := r.Search(ctx, models.SearchRequest{Query: q, K: searchK})
	if err != nil {
		return err
	}
	return cli.WriteSearchResults(cmd.OutOrStdout(), resp, outputFormat())
}
