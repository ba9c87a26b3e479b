// Package audit reconciles the registry against the vector index. It only reads; repairs are
// left to an explicit reindex.
package audit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/docslot/internal/embedding"
	"github.com/hyperjump/docslot/internal/models"
	"github.com/hyperjump/docslot/internal/registry"
	"github.com/hyperjump/docslot/internal/vector"
)

const (
	DefaultSampleSize = 5
	DefaultTolerance  = 0.01
)

// ErrNoEmbedder is returned when a deep audit is requested without an embedder.
var ErrNoEmbedder = errors.New("deep audit needs an embedder")

// Snapshotter holds off writers while fn reads both stores.
type Snapshotter interface {
	Snapshot(ctx context.Context, fn func(context.Context) error) error
}

// Auditor checks that every mapping entry addresses exactly one stored vector.
type Auditor struct {
	registry   registry.Registry
	index      vector.Index
	embedder   embedding.Embedder
	snapshot   Snapshotter
	sampleSize int
	tolerance  float64
	logger     *zap.Logger
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithEmbedder enables deep audits.
func WithEmbedder(e embedding.Embedder) Option {
	return func(a *Auditor) { a.embedder = e }
}

// WithSnapshotter reads the stores under s so a concurrent ingestion cannot interleave.
func WithSnapshotter(s Snapshotter) Option {
	return func(a *Auditor) { a.snapshot = s }
}

// WithSampleSize sets how many entries a deep audit re-embeds, in slot order.
func WithSampleSize(n int) Option {
	return func(a *Auditor) {
		if n > 0 {
			a.sampleSize = n
		}
	}
}

// WithTolerance sets the drift threshold as a fraction of the stored vector's norm.
func WithTolerance(t float64) Option {
	return func(a *Auditor) {
		if t > 0 {
			a.tolerance = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Auditor) { a.logger = l }
}

// NewAuditor creates an auditor over the two stores.
func NewAuditor(reg registry.Registry, idx vector.Index, opts ...Option) *Auditor {
	a := &Auditor{
		registry:   reg,
		index:      idx,
		sampleSize: DefaultSampleSize,
		tolerance:  DefaultTolerance,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// sample is a deep-audit candidate captured inside the snapshot.
type sample struct {
	entry   *models.MappingEntry
	content string
	stored  []float32
	readErr error
}

// Run audits the stores. Faults in the data are findings in the report; an error means the
// audit itself could not read a store.
func (a *Auditor) Run(ctx context.Context, deep bool) (*models.AuditReport, error) {
	if deep && a.embedder == nil {
		return nil, ErrNoEmbedder
	}
	report := &models.AuditReport{
		Deep:                  deep,
		CountMismatches:       []*models.Finding{},
		OutOfRange:            []*models.Finding{},
		Drifted:               []*models.Finding{},
		FingerprintMismatches: []*models.Finding{},
		Unreadable:            []*models.Finding{},
	}

	var samples []sample
	read := func(ctx context.Context) error {
		var err error
		samples, err = a.read(ctx, report, deep)
		return err
	}
	var err error
	if a.snapshot != nil {
		err = a.snapshot.Snapshot(ctx, read)
	} else {
		err = read(ctx)
	}
	if err != nil {
		return nil, err
	}

	// embedding runs outside the snapshot so ingestion is not held up by the model
	for _, s := range samples {
		a.checkDrift(ctx, report, s)
	}

	report.Clean = len(report.Findings()) == 0
	a.logger.Info("audit finished",
		zap.Bool("deep", deep),
		zap.Int("vectors", report.VectorCount),
		zap.Int("mapped", report.MappedCount),
		zap.Int("pending", report.Pending),
		zap.Int("findings", len(report.Findings())),
		zap.Bool("clean", report.Clean))
	return report, nil
}

// read collects counts and structural findings, and the stored vectors of the deep sample.
func (a *Auditor) read(ctx context.Context, report *models.AuditReport, deep bool) ([]sample, error) {
	n := a.index.Count()
	entries, err := a.registry.Entries(ctx)
	if err != nil {
		return nil, fmt.Errorf("read mapping entries: %w", err)
	}
	pending, err := a.registry.PendingCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pending documents: %w", err)
	}
	report.VectorCount = n
	report.MappedCount = len(entries)
	report.TotalChecked = len(entries)
	report.Pending = pending

	if len(entries) != n {
		report.CountMismatches = append(report.CountMismatches, &models.Finding{
			Kind:     models.FindingCountMismatch,
			Expected: n,
			Actual:   len(entries),
			Detail:   fmt.Sprintf("vector index holds %d vectors, registry maps %d", n, len(entries)),
		})
	}

	var samples []sample
	for _, e := range entries {
		if !e.Slot.Valid() || int(e.Slot) >= n {
			report.OutOfRange = append(report.OutOfRange, &models.Finding{
				Kind:       models.FindingOutOfRangeSlot,
				DocumentID: e.DocumentID,
				Slot:       e.Slot,
				Detail:     fmt.Sprintf("slot outside [0, %d)", n),
			})
			continue
		}
		if !registry.VerifyFingerprint(e) {
			report.FingerprintMismatches = append(report.FingerprintMismatches, &models.Finding{
				Kind:       models.FindingFingerprintMismatch,
				DocumentID: e.DocumentID,
				Slot:       e.Slot,
			})
		}
		if !deep || len(samples) >= a.sampleSize {
			continue
		}
		doc, err := a.registry.GetDocument(ctx, e.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("read document %d: %w", e.DocumentID, err)
		}
		stored, readErr := a.index.Vector(ctx, e.Slot)
		samples = append(samples, sample{entry: e, content: doc.Content, stored: stored, readErr: readErr})
	}
	return samples, nil
}

func (a *Auditor) checkDrift(ctx context.Context, report *models.AuditReport, s sample) {
	if s.readErr != nil {
		report.Unreadable = append(report.Unreadable, &models.Finding{
			Kind:       models.FindingUnreadableSlot,
			DocumentID: s.entry.DocumentID,
			Slot:       s.entry.Slot,
			Detail:     s.readErr.Error(),
		})
		return
	}
	fresh, err := a.embedder.Embed(ctx, s.content)
	if err != nil {
		// not a fault in the data; the document simply goes unsampled
		a.logger.Warn("deep audit could not re-embed document",
			zap.Stringer("document_id", s.entry.DocumentID), zap.Error(err))
		return
	}
	report.Sampled++

	dist := vector.L2Distance(fresh, s.stored)
	limit := a.tolerance
	if norm := float64(vector.Norm(s.stored)); norm > 0 {
		limit *= norm
	}
	if float64(dist) > limit {
		report.Drifted = append(report.Drifted, &models.Finding{
			Kind:       models.FindingEmbeddingDrift,
			DocumentID: s.entry.DocumentID,
			Slot:       s.entry.Slot,
			Distance:   dist,
			Detail:     fmt.Sprintf("distance %.4f exceeds %.4f", dist, limit),
		})
	}
}

// MarkDrifted flags every drifted document in report as stale. It is the operator's explicit
// follow-up to an audit, never part of one.
func MarkDrifted(ctx context.Context, reg registry.Registry, report *models.AuditReport) (int, error) {
	marked := 0
	for _, f := range report.Drifted {
		if err := reg.MarkStale(ctx, f.DocumentID, true); err != nil {
			return marked, fmt.Errorf("mark document %d stale: %w", f.DocumentID, err)
		}
		marked++
	}
	return marked, nil
}
