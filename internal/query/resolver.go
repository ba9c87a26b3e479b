// Package query answers free-text queries by nearest-neighbour search and slot resolution.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docslot/internal/embedding"
	"github.com/hyperjump/docslot/internal/keyword"
	"github.com/hyperjump/docslot/internal/models"
	"github.com/hyperjump/docslot/internal/registry"
	"github.com/hyperjump/docslot/internal/vector"
)

const (
	DefaultK = 5
	MaxK     = 100
)

// ErrEmptyQuery is returned for blank query text.
var ErrEmptyQuery = models.ErrEmptyQuery

// ErrNoTextIndex is returned by TextSearch when no full-text mirror is configured.
var ErrNoTextIndex = errors.New("full-text index not configured")

// Resolver embeds a query, searches the vector index and maps slots back to documents.
type Resolver struct {
	registry registry.Registry
	index    vector.Index
	embedder embedding.Embedder
	text     *keyword.TextIndex
	defaultK int
	maxK     int
	logger   *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTextIndex enables TextSearch.
func WithTextIndex(t *keyword.TextIndex) Option {
	return func(r *Resolver) { r.text = t }
}

// WithLimits sets the k used when a request leaves it unset and the largest k accepted.
func WithLimits(defaultK, maxK int) Option {
	return func(r *Resolver) {
		if defaultK > 0 {
			r.defaultK = defaultK
		}
		if maxK > 0 {
			r.maxK = maxK
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver over the given stores.
func NewResolver(reg registry.Registry, idx vector.Index, emb embedding.Embedder, opts ...Option) *Resolver {
	r := &Resolver{
		registry: reg,
		index:    idx,
		embedder: emb,
		defaultK: DefaultK,
		maxK:     MaxK,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search embeds req.Query and returns its k nearest documents.
func (r *Resolver) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()
	if err := req.Validate(r.defaultK, r.maxK); err != nil {
		return nil, err
	}
	vec, err := r.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.SearchVector(ctx, vec, req.K)
	if err != nil {
		return nil, err
	}
	resp := &models.SearchResponse{Query: req.Query, K: req.K, Hits: hits}
	for _, h := range hits {
		if h.Resolved() {
			resp.Resolved++
		} else {
			resp.Gaps++
		}
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	if resp.Gaps > 0 {
		r.logger.Warn("search returned unmapped slots; run audit",
			zap.String("query", req.Query), zap.Int("gaps", resp.Gaps))
	}
	return resp, nil
}

// SearchVector resolves the k nearest slots of vec. NoMatch slots are dropped, and slots with no
// mapping come back as resolution gaps in place rather than failing the query.
func (r *Resolver) SearchVector(ctx context.Context, vec []float32, k int) ([]*models.SearchHit, error) {
	if k <= 0 {
		return []*models.SearchHit{}, nil
	}
	raw, err := r.index.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	sort.SliceStable(raw, func(i, j int) bool { return raw[i].Distance < raw[j].Distance })

	hits := make([]*models.SearchHit, 0, len(raw))
	for _, h := range raw {
		if !h.Slot.Valid() {
			continue
		}
		hit, err := r.resolve(ctx, h)
		if err != nil {
			return nil, err
		}
		hit.Rank = len(hits) + 1
		hits = append(hits, hit)
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

func (r *Resolver) resolve(ctx context.Context, h vector.Hit) (*models.SearchHit, error) {
	id, err := r.registry.Resolve(ctx, h.Slot)
	if errors.Is(err, registry.ErrUnknownSlot) {
		return &models.SearchHit{Kind: models.HitGap, Slot: h.Slot, Distance: h.Distance}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve slot %d: %w", h.Slot, err)
	}
	doc, err := r.registry.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load document %d: %w", id, err)
	}
	return &models.SearchHit{
		Kind:       models.HitMatch,
		Slot:       h.Slot,
		Distance:   h.Distance,
		DocumentID: id,
		Filename:   doc.Filename,
		SourcePath: doc.SourcePath,
		Keywords:   doc.Keywords,
	}, nil
}

// TextSearch looks documents up in the full-text mirror. Results are independent of slots.
func (r *Resolver) TextSearch(ctx context.Context, q string, limit int, fuzzy bool) ([]models.TextHit, error) {
	if r.text == nil {
		return nil, ErrNoTextIndex
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = r.defaultK
	}
	limit = min(limit, r.maxK)
	return r.text.Search(ctx, q, limit, &keyword.SearchOptions{Fuzzy: fuzzy})
}
