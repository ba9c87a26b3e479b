package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/docslot/internal/cli"
	"github.com/hyperjump/docslot/internal/config"
	"github.com/hyperjump/docslot/internal/ingest"
	"github.com/hyperjump/docslot/internal/models"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [directory]",
	Short: "Ingest the corpus, resuming where the last run stopped",
	Long: `Ingest every supported file under the directory (default: corpus.directory from config).
Files already committed by an earlier run are not processed again, so an interrupted
run can simply be repeated. A skipped file is retried once it has been modified.

Examples:
  docslot ingest
  docslot ingest ./archive/testCollection --debug`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <file>",
	Short: "Re-extract a committed document's text and keywords",
	Long: `Re-extract the text of a document that already owns a slot and refresh its content and
keywords. The stored vector is not replaced; run "audit --deep" afterwards to see whether the
new text drifted from it.`,
	Args: cobra.ExactArgs(1),
	RunE: runReprocess,
}

var reindexYes bool

var reindexCmd = &cobra.Command{
	Use:   "reindex [directory]",
	Short: "Delete the registry and both indexes, then ingest from scratch",
	Long: `Reindex is the repair for an audit that found faults. It removes the registry database,
the vector index and the text index, and then runs a full ingestion. Document ids and slots
are assigned anew.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReindex,
}

func init() {
	reindexCmd.Flags().BoolVar(&reindexYes, "yes", false, "confirm deletion of the existing stores")
	rootCmd.AddCommand(ingestCmd, reprocessCmd, reindexCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	c, err := setup(openOptions{write: true, embedder: true, text: true})
	if err != nil {
		return err
	}
	defer c.Close()
	return ingestCorpus(cmd, c, corpusRoot(c.cfg, args))
}

func ingestCorpus(cmd *cobra.Command, c *components, root string) error {
	ctx, stop := signalContext()
	defer stop()
	sum, err := c.controller().Run(ctx, root)
	if sum != nil {
		if werr := cli.WriteRunSummary(cmd.OutOrStdout(), sum, outputFormat()); werr != nil {
			return werr
		}
	}
	if err != nil {
		return fmt.Errorf("ingest %s: %w", root, err)
	}
	return nil
}

func runReprocess(cmd *cobra.Command, args []string) error {
	c, err := setup(openOptions{write: true, text: true})
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, stop := signalContext()
	defer stop()

	doc, err := c.controller().Reprocess(ctx, args[0])
	if errors.Is(err, ingest.ErrNotCommitted) {
		return &exitError{code: ExitError, err: fmt.Errorf("%w; run ingest first", err)}
	}
	if err != nil {
		return err
	}
	doc.Content = ""
	return cli.WriteDocuments(cmd.OutOrStdout(), []*models.Document{doc}, outputFormat())
}

func runReindex(cmd *cobra.Command, args []string) error {
	if !reindexYes {
		return &exitError{code: ExitError, err: errors.New("reindex deletes the registry and both indexes; pass --yes to confirm")}
	}
	c, err := setup(openOptions{reset: true, embedder: true, text: true})
	if err != nil {
		return err
	}
	defer c.Close()
	c.logger.Info("stores removed, reindexing", zap.String("corpus", c.cfg.Corpus.Directory))
	return ingestCorpus(cmd, c, corpusRoot(c.cfg, args))
}

// removeStores deletes the registry database with its WAL files and both indexes.
func removeStores(st config.StorageConfig) error {
	paths := []string{st.DatabasePath, st.DatabasePath + "-wal", st.DatabasePath + "-shm", st.VectorIndexPath, st.TextIndexPath}
	for _, p := range paths {
		if p == "" || p == "-wal" || p == "-shm" {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}
