package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperjump/docslot/internal/extract"
	"github.com/hyperjump/docslot/internal/ingest"
	"github.com/hyperjump/docslot/internal/models"
	"github.com/hyperjump/docslot/internal/query"
)

func TestAudit_SearchAndSnapshotAuditDuringIngestion(t *testing.T) {
	s := newStores(t)
	corpus := filepath.Join(s.dir, "corpus")
	if err := os.MkdirAll(corpus, 0755); err != nil {
		t.Fatal(err)
	}
	const docs = 60
	for i := 0; i < docs; i++ {
		body := fmt.Sprintf("document %d about herd %d", i, i%7)
		if err := os.WriteFile(filepath.Join(corpus, fmt.Sprintf("doc%02d.txt", i)), []byte(body), 0600); err != nil {
			t.Fatal(err)
		}
	}
	ctx := context.Background()
	c := ingest.NewController(s.reg, s.index, s.emb, extract.NewExtractor(), ingest.WithBatchSize(4))
	a := NewAuditor(s.reg, s.index, WithSnapshotter(c))
	r := query.NewResolver(s.reg, s.index, s.emb)

	done := make(chan struct{})
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		errs       []error
		mismatches []*models.AuditReport
		audits     int
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			report, err := a.Run(ctx, false)
			mu.Lock()
			audits++
			if err != nil {
				errs = append(errs, err)
			} else if len(report.CountMismatches) > 0 {
				mismatches = append(mismatches, report)
			}
			mu.Unlock()
			select {
			case <-done:
				return
			default:
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			if _, err := r.Search(ctx, models.SearchRequest{Query: "document about herd", K: 5}); err != nil {
				record(err)
			}
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	sum, err := c.Run(ctx, corpus)
	close(done)
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if sum.Committed != docs {
		t.Fatalf("committed = %d, want %d", sum.Committed, docs)
	}
	for _, err := range errs {
		t.Errorf("reader error during ingestion: %v", err)
	}
	for _, rep := range mismatches {
		t.Errorf("audit saw vectors=%d mapped=%d mid-run", rep.VectorCount, rep.MappedCount)
	}
	if audits == 0 {
		t.Error("no audit ran")
	}

	final, err := NewAuditor(s.reg, s.index, WithEmbedder(s.emb), WithSnapshotter(c)).Run(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if !final.Clean || final.VectorCount != docs || final.MappedCount != docs {
		t.Errorf("final audit = %+v", final)
	}
}
