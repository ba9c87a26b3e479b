package models

import (
	"testing"
)

func TestSearchRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     *SearchRequest
		wantErr bool
		wantK   int
	}{
		{"empty query", &SearchRequest{Query: ""}, true, 0},
		{"blank query", &SearchRequest{Query: "  \t"}, true, 0},
		{"valid query", &SearchRequest{Query: "hello", K: 3}, false, 3},
		{"sets default k", &SearchRequest{Query: "x", K: 0}, false, 5},
		{"caps k", &SearchRequest{Query: "x", K: 500}, false, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(5, 100)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.req.K != tt.wantK {
				t.Errorf("K = %d, want %d", tt.req.K, tt.wantK)
			}
		})
	}
}

func TestSlotValid(t *testing.T) {
	if NoMatch.Valid() {
		t.Error("NoMatch must not be a valid slot")
	}
	if !Slot(0).Valid() {
		t.Error("slot 0 must be valid")
	}
}

func TestAuditReportFindings(t *testing.T) {
	r := &AuditReport{
		CountMismatches: []*Finding{{Kind: FindingCountMismatch}},
		Drifted:         []*Finding{{Kind: FindingEmbeddingDrift}},
	}
	got := r.Findings()
	if len(got) != 2 || got[0].Kind != FindingCountMismatch || got[1].Kind != FindingEmbeddingDrift {
		t.Errorf("Findings() = %+v", got)
	}
}
