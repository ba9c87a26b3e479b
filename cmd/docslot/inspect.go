package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/docslot/internal/audit"
	"github.com/hyperjump/docslot/internal/cli"
	"github.com/hyperjump/docslot/internal/models"
	"github.com/hyperjump/docslot/internal/registry"
	"github.com/hyperjump/docslot/internal/vector"
)

var (
	auditDeep      bool
	auditMarkStale bool
	sampleN        int
	inspectN       int
	inspectDump    string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check that the registry and the vector index agree",
	Long: `Reconcile the registry against the vector index. The audit only reads; faults are
reported, never repaired.

A shallow audit compares counts and checks every mapped slot is in range and every mapping
fingerprint verifies. --deep also re-embeds the first audit.sample_size documents and
compares the result with the stored vector.

Exit status is 0 when clean, 2 when findings were reported and 1 on error.`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Show the first registry rows in slot order",
	Args:  cobra.NoArgs,
	RunE:  runSample,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the vector index shape and its leading vectors",
	Long: `Print the vector count, the dimensionality and the first n vectors.
--dump writes every vector to a file, one "slot v1 v2 ..." line per slot.`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store counts, sync state and configuration",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	auditCmd.Flags().BoolVar(&auditDeep, "deep", false, "re-embed a sample and check for drift")
	auditCmd.Flags().BoolVar(&auditMarkStale, "mark-stale", false, "flag drifted documents as stale (requires --deep)")
	sampleCmd.Flags().IntVarP(&sampleN, "number", "n", 5, "number of rows")
	inspectCmd.Flags().IntVarP(&inspectN, "number", "n", 5, "number of leading vectors to print")
	inspectCmd.Flags().StringVar(&inspectDump, "dump", "", "write all vectors to this file")
	rootCmd.AddCommand(auditCmd, sampleCmd, inspectCmd, statusCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	if auditMarkStale && !auditDeep {
		return &exitError{code: ExitError, err: fmt.Errorf("--mark-stale requires --deep")}
	}
	c, err := setup(openOptions{write: auditMarkStale, embedder: auditDeep})
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, stop := signalContext()
	defer stop()

	report, err := c.auditor(nil).Run(ctx, auditDeep)
	if err != nil {
		return err
	}
	for _, f := range report.Findings() {
		c.logger.Warn("audit finding",
			zap.String("kind", string(f.Kind)),
			zap.Stringer("document_id", f.DocumentID),
			zap.Stringer("slot", f.Slot))
	}
	if err := cli.WriteAuditReport(cmd.OutOrStdout(), report, outputFormat()); err != nil {
		return err
	}
	if auditMarkStale && len(report.Drifted) > 0 {
		n, err := audit.MarkDrifted(ctx, c.registry, report)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "marked %d documents stale\n", n)
	}
	if !report.Clean {
		return &exitError{code: ExitFaults}
	}
	return nil
}

func runSample(cmd *cobra.Command, args []string) error {
	if sampleN <= 0 {
		return &exitError{code: ExitError, err: fmt.Errorf("-n must be positive, got %d", sampleN)}
	}
	c, err := setup(openOptions{})
	if err != nil {
		return err
	}
	defer c.Close()
	docs, err := c.registry.Sample(cmd.Context(), sampleN)
	if err != nil {
		return err
	}
	return cli.WriteDocuments(cmd.OutOrStdout(), docs, outputFormat())
}

func runInspect(cmd *cobra.Command, args []string) error {
	c, err := setup(openOptions{})
	if err != nil {
		return err
	}
	defer c.Close()
	ctx := cmd.Context()

	summary, err := summarizeIndex(ctx, c.index, inspectN)
	if err != nil {
		return err
	}
	if err := cli.WriteIndexSummary(cmd.OutOrStdout(), summary, outputFormat()); err != nil {
		return err
	}
	if inspectDump == "" {
		return nil
	}
	f, err := os.Create(inspectDump)
	if err != nil {
		return fmt.Errorf("create dump file: %w", err)
	}
	n, err := dumpVectors(ctx, c.index, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("dump vectors: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d vectors to %s\n", n, inspectDump)
	return nil
}

func summarizeIndex(ctx context.Context, idx vector.Index, head int) (*cli.IndexSummary, error) {
	s := &cli.IndexSummary{Type: idx.Type(), Count: idx.Count(), Dimensions: idx.Dimensions(), Head: [][]float32{}}
	for slot := 0; slot < head && slot < s.Count; slot++ {
		v, err := idx.Vector(ctx, models.Slot(slot))
		if err != nil {
			return nil, fmt.Errorf("read slot %d: %w", slot, err)
		}
		s.Head = append(s.Head, v)
	}
	return s, nil
}

// dumpVectors writes every stored vector as "slot v1 v2 ..." and returns how many it wrote.
func dumpVectors(ctx context.Context, idx vector.Index, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	n := idx.Count()
	for slot := 0; slot < n; slot++ {
		v, err := idx.Vector(ctx, models.Slot(slot))
		if err != nil {
			return slot, fmt.Errorf("read slot %d: %w", slot, err)
		}
		if _, err := fmt.Fprintf(bw, "%d %s\n", slot, cli.FormatVector(v)); err != nil {
			return slot, err
		}
	}
	return n, bw.Flush()
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := setup(openOptions{existingText: true})
	if err != nil {
		return err
	}
	defer c.Close()
	s, err := collectStatus(cmd.Context(), c)
	if err != nil {
		return err
	}
	return cli.WriteStatus(cmd.OutOrStdout(), s, outputFormat())
}

func collectStatus(ctx context.Context, c *components) (*cli.Status, error) {
	mapped, err := c.registry.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count mappings: %w", err)
	}
	pending, err := c.registry.PendingCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}
	st := c.cfg.Storage
	s := &cli.Status{
		Mapped:          mapped,
		Pending:         pending,
		Vectors:         c.index.Count(),
		InSync:          mapped == c.index.Count(),
		Dimensions:      c.index.Dimensions(),
		VectorIndexType: c.index.Type(),
		Config: &cli.StatusConfig{
			Corpus:            c.cfg.Corpus.Directory,
			SQLiteDriver:      st.Driver,
			EmbeddingProvider: c.cfg.Embedding.Provider,
			DatabasePath:      st.DatabasePath,
			VectorIndexPath:   st.VectorIndexPath,
			TextIndexPath:     st.TextIndexPath,
		},
	}
	if c.text != nil {
		if n, err := c.text.DocCount(); err == nil {
			s.TextDocuments = &n
		}
	}
	sizes, total, err := registry.StoreUsage(map[string]string{
		"registry":     st.DatabasePath,
		"vector_index": st.VectorIndexPath,
		"text_index":   st.TextIndexPath,
	})
	if err == nil {
		s.DiskUsageBytes = &total
		s.StoreBytes = sizes
	}
	return s, nil
}
