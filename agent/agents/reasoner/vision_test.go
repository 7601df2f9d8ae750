package reasoner

import (
	"errors"
	"testing"

	contractx "github.com/dukalink/dukalink/agent/contract"
)

func TestParseImageAnalysisPlainJSON(t *testing.T) {
	t.Parallel()

	analysis, err := parseImageAnalysis(`{"category":"dress","color":"red","style":"maxi","description":"a red maxi dress","search_query":"red maxi dress"}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if analysis.SearchQuery != "red maxi dress" {
		t.Errorf("search_query = %q", analysis.SearchQuery)
	}
}

func TestParseImageAnalysisStripsFences(t *testing.T) {
	t.Parallel()

	content := "```json\n{\"category\":\"top\",\"color\":\"blue\",\"search_query\":\"blue top\"}\n```"
	analysis, err := parseImageAnalysis(content)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if analysis.Category != "top" {
		t.Errorf("category = %q", analysis.Category)
	}
}

func TestParseImageAnalysisDerivesQuery(t *testing.T) {
	t.Parallel()

	analysis, err := parseImageAnalysis(`{"category":"skirt","color":"green"}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if analysis.SearchQuery != "green skirt" {
		t.Errorf("derived search_query = %q, want %q", analysis.SearchQuery, "green skirt")
	}
}

func TestParseImageAnalysisRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := parseImageAnalysis("I see a lovely dress"); !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
	if _, err := parseImageAnalysis(`{}`); !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("empty analysis should be rejected, got %v", err)
	}
}
