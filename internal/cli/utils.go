// Package cli renders command results for the docslot binary.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/docslot/internal/ingest"
	"github.com/hyperjump/docslot/internal/models"
	"github.com/hyperjump/docslot/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is indented JSON for other programs.
	OutputJSON OutputFormat = "json"
)

const (
	rule         = "─────────────────────────────────────────────────────────"
	keywordWidth = 120
)

// FormatFor maps the --json flag to a format.
func FormatFor(jsonOut bool) OutputFormat {
	if jsonOut {
		return OutputJSON
	}
	return OutputText
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes nearest-neighbour hits, resolution gaps included.
func WriteSearchResults(w io.Writer, resp *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	fmt.Fprintf(w, "\n%d hits for %q in %dms (k=%d, %d resolved, %d gaps)\n\n",
		len(resp.Hits), resp.Query, resp.QueryTime, resp.K, resp.Resolved, resp.Gaps)
	for _, h := range resp.Hits {
		fmt.Fprintln(w, rule)
		if !h.Resolved() {
			fmt.Fprintf(w, "#%d  slot %d  distance %.4f  [no document mapped to this slot]\n", h.Rank, h.Slot, h.Distance)
			continue
		}
		fmt.Fprintf(w, "#%d  %s  (document %s, slot %d)  distance %.4f\n",
			h.Rank, h.Filename, h.DocumentID, h.Slot, h.Distance)
		if h.Keywords != "" {
			fmt.Fprintf(w, "    %s\n", utils.Truncate(h.Keywords, keywordWidth))
		}
	}
	if len(resp.Hits) > 0 {
		fmt.Fprintln(w)
	}
	return nil
}

// WriteTextHits writes full-text matches from the keyword mirror.
func WriteTextHits(w io.Writer, query string, hits []models.TextHit, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, map[string]interface{}{"query": query, "hits": hits})
	}
	fmt.Fprintf(w, "%d text matches for %q\n", len(hits), query)
	for i, h := range hits {
		fmt.Fprintf(w, "%3d. %-40s document %-6s score %.4f\n", i+1, h.Filename, h.DocumentID, h.Score)
	}
	return nil
}

// WriteAuditReport writes an audit report; text output lists every finding.
func WriteAuditReport(w io.Writer, report *models.AuditReport, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, report)
	}
	mode := "shallow"
	if report.Deep {
		mode = "deep"
	}
	fmt.Fprintf(w, "audit (%s): %d vectors, %d mapped, %d pending\n",
		mode, report.VectorCount, report.MappedCount, report.Pending)
	if report.Deep {
		fmt.Fprintf(w, "re-embedded %d of %d mapped documents\n", report.Sampled, report.TotalChecked)
	}
	findings := report.Findings()
	if len(findings) == 0 {
		fmt.Fprintln(w, "clean: every mapping entry addresses exactly one stored vector")
		return nil
	}
	fmt.Fprintf(w, "%d findings:\n", len(findings))
	for _, f := range findings {
		fmt.Fprintf(w, "  - %s\n", describeFinding(f))
	}
	return nil
}

func describeFinding(f *models.Finding) string {
	switch f.Kind {
	case models.FindingCountMismatch:
		return fmt.Sprintf("%s: expected %d mapping entries, found %d", f.Kind, f.Expected, f.Actual)
	case models.FindingEmbeddingDrift:
		return fmt.Sprintf("%s: document %s at slot %d (distance %.4f)", f.Kind, f.DocumentID, f.Slot, f.Distance)
	}
	s := fmt.Sprintf("%s: document %s at slot %d", f.Kind, f.DocumentID, f.Slot)
	if f.Detail != "" {
		s += " (" + f.Detail + ")"
	}
	return s
}

// WriteDocuments writes registry rows without their content.
func WriteDocuments(w io.Writer, docs []*models.Document, format OutputFormat) error {
	if format == OutputJSON {
		if docs == nil {
			docs = []*models.Document{}
		}
		return WriteJSON(w, map[string]interface{}{"documents": docs})
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "no documents")
		return nil
	}
	for _, d := range docs {
		slot := "pending"
		if d.Slot != nil {
			slot = d.Slot.String()
		}
		stale := ""
		if d.Stale {
			stale = "  [stale]"
		}
		fmt.Fprintf(w, "%-6s slot %-8s %s%s\n", d.ID, slot, d.Filename, stale)
		if d.Keywords != "" {
			fmt.Fprintf(w, "       %s\n", utils.Truncate(d.Keywords, keywordWidth))
		}
	}
	return nil
}

// WriteRunSummary writes the outcome of one ingestion run.
func WriteRunSummary(w io.Writer, sum *ingest.RunSummary, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, sum)
	}
	fmt.Fprintf(w, "run %s over %s\n", sum.RunID, sum.Root)
	fmt.Fprintf(w, "scanned:      %d\n", sum.Scanned)
	fmt.Fprintf(w, "already done: %d\n", sum.AlreadyDone)
	if sum.Retried > 0 {
		fmt.Fprintf(w, "retried:      %d   # skipped earlier, changed since\n", sum.Retried)
	}
	fmt.Fprintf(w, "committed:    %d\n", sum.Committed)
	fmt.Fprintf(w, "skipped:      %d\n", sum.Skipped)
	if sum.Failed > 0 {
		fmt.Fprintf(w, "failed:       %d   # left pending, retried next run\n", sum.Failed)
	}
	if sum.Paused {
		fmt.Fprintln(w, "paused before the corpus was exhausted; run again to resume")
	}
	fmt.Fprintf(w, "took %s\n", sum.Duration.Round(time.Millisecond))
	return nil
}

// Status is the shape of the status command and GET /api/v1/status.
type Status struct {
	Mapped          int              `json:"mapped"`
	Pending         int              `json:"pending"`
	Vectors         int              `json:"vectors"`
	InSync          bool             `json:"in_sync"`
	Dimensions      int              `json:"dimensions"`
	VectorIndexType string           `json:"vector_index_type"`
	TextDocuments   *uint64          `json:"text_documents,omitempty"`
	DiskUsageBytes  *int64           `json:"disk_usage_bytes,omitempty"`
	StoreBytes      map[string]int64 `json:"store_bytes,omitempty"`
	Config          *StatusConfig    `json:"config,omitempty"`
}

// StatusConfig echoes the configuration the stores were opened with.
type StatusConfig struct {
	Corpus            string `json:"corpus"`
	SQLiteDriver      string `json:"sqlite_driver"`
	EmbeddingProvider string `json:"embedding_provider"`
	DatabasePath      string `json:"database_path,omitempty"`
	VectorIndexPath   string `json:"vector_index_path,omitempty"`
	TextIndexPath     string `json:"text_index_path,omitempty"`
}

// WriteStatus writes store counts and configuration.
func WriteStatus(w io.Writer, s *Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, s)
	}
	fmt.Fprintf(w, "mapped:             %d   # documents owning a slot\n", s.Mapped)
	fmt.Fprintf(w, "pending:            %d   # extracted, not yet committed\n", s.Pending)
	fmt.Fprintf(w, "vectors:            %d   # stored in the vector index\n", s.Vectors)
	fmt.Fprintf(w, "in_sync:            %t\n", s.InSync)
	if s.TextDocuments != nil {
		fmt.Fprintf(w, "text_documents:     %d   # full-text mirror\n", *s.TextDocuments)
	}
	if s.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d\n", *s.DiskUsageBytes)
	}
	if c := s.Config; c != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		fmt.Fprintf(w, "vector_index_type:  %s\n", s.VectorIndexType)
		fmt.Fprintf(w, "dimensions:         %d\n", s.Dimensions)
		fmt.Fprintf(w, "corpus:             %s\n", c.Corpus)
		fmt.Fprintf(w, "sqlite_driver:      %s\n", c.SQLiteDriver)
		fmt.Fprintf(w, "embedding_provider: %s\n", c.EmbeddingProvider)
		for _, kv := range [][2]string{
			{"database_path", c.DatabasePath},
			{"vector_index_path", c.VectorIndexPath},
			{"text_index_path", c.TextIndexPath},
		} {
			if kv[1] != "" {
				fmt.Fprintf(w, "%-19s %s\n", kv[0]+":", kv[1])
			}
		}
	}
	return nil
}

// IndexSummary describes a vector index for inspect.
type IndexSummary struct {
	Type       string      `json:"type"`
	Count      int         `json:"count"`
	Dimensions int         `json:"dimensions"`
	Head       [][]float32 `json:"head"`
}

// WriteIndexSummary writes the index shape and its leading vectors.
func WriteIndexSummary(w io.Writer, s *IndexSummary, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, s)
	}
	fmt.Fprintf(w, "type:       %s\n", s.Type)
	fmt.Fprintf(w, "vectors:    %d\n", s.Count)
	fmt.Fprintf(w, "dimensions: %d\n", s.Dimensions)
	for i, v := range s.Head {
		fmt.Fprintf(w, "[%d] %s\n", i, utils.Truncate(FormatVector(v), keywordWidth))
	}
	return nil
}

// FormatVector renders v as space separated values, the layout of a vector dump line.
func FormatVector(v []float32) string {
	var b strings.Builder
	for i, x := range v {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	return b.String()
}
