package keyword

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/docslot/internal/models"
)

// ErrClosed is returned by operations on a closed TextIndex.
var ErrClosed = errors.New("text index is closed")

// SearchOptions tunes TextIndex.Search. The zero value is an exact match query.
type SearchOptions struct {
	// Fuzzy matches every term within Fuzziness edits (1 or 2, default 2).
	Fuzzy     bool
	Fuzziness int
}

// textDocument is the indexed shape of a registry row.
type textDocument struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Keywords string `json:"keywords"`
}

// TextIndex is a bleve full-text index over document content, keyed by document identity.
// It is an auxiliary lookup and never participates in slot resolution.
type TextIndex struct {
	index bleve.Index
}

func textMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()
	// standard analyzer: lowercase and tokenize without stemming, so "bayes" matches "Bayes"
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("filename", text)
	doc.AddFieldMappingsAt("keywords", text)
	im.DefaultMapping = doc
	return im
}

// NewTextIndex opens the bleve index at path, creating it when the path does not exist.
func NewTextIndex(path string) (*TextIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open text index: %w", err)
		}
		return &TextIndex{index: index}, nil
	}
	index, err := bleve.New(path, textMapping())
	if err != nil {
		return nil, fmt.Errorf("create text index: %w", err)
	}
	return &TextIndex{index: index}, nil
}

// NewMemoryTextIndex returns a TextIndex that lives only in memory.
func NewMemoryTextIndex() (*TextIndex, error) {
	index, err := bleve.NewMemOnly(textMapping())
	if err != nil {
		return nil, fmt.Errorf("create text index: %w", err)
	}
	return &TextIndex{index: index}, nil
}

func docKey(id models.DocumentID) string {
	return strconv.FormatInt(int64(id), 10)
}

// Index adds or replaces the entry for id.
func (t *TextIndex) Index(ctx context.Context, id models.DocumentID, filename, content, keywords string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.index == nil {
		return ErrClosed
	}
	return t.index.Index(docKey(id), textDocument{Filename: filename, Content: content, Keywords: keywords})
}

// Search returns up to limit documents matching query, best score first.
func (t *TextIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]models.TextHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.index == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	var q blevequery.Query = bleve.NewMatchQuery(query)
	if opts != nil && opts.Fuzzy {
		q = fuzzyQuery(query, opts.Fuzziness)
	}
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"filename"}
	res, err := t.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	hits := make([]models.TextHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		id, err := strconv.ParseInt(h.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("text index holds foreign key %q", h.ID)
		}
		hit := models.TextHit{DocumentID: models.DocumentID(id), Score: h.Score}
		if name, ok := h.Fields["filename"].(string); ok {
			hit.Filename = name
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// fuzzyQuery ORs one fuzzy query per lowercase term.
func fuzzyQuery(query string, fuzziness int) blevequery.Query {
	if fuzziness <= 0 || fuzziness > 2 {
		fuzziness = 2
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return bleve.NewMatchQuery(query)
	}
	parts := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		parts = append(parts, fq)
	}
	return bleve.NewDisjunctionQuery(parts...)
}

// Delete removes id from the index.
func (t *TextIndex) Delete(ctx context.Context, id models.DocumentID) error {
	if t.index == nil {
		return ErrClosed
	}
	return t.index.Delete(docKey(id))
}

// DocCount returns the number of indexed documents.
func (t *TextIndex) DocCount() (uint64, error) {
	if t.index == nil {
		return 0, ErrClosed
	}
	return t.index.DocCount()
}

// Close releases the index. Further calls return ErrClosed.
func (t *TextIndex) Close() error {
	if t.index == nil {
		return nil
	}
	err := t.index.Close()
	t.index = nil
	return err
}
