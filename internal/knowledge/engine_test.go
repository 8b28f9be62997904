package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ntg2208/production-ai-customer-support/internal/support"
)

// mockEmbedder maps texts onto fixed axes by keyword so similarity scores
// are fully deterministic.
type mockEmbedder struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return keywordVector(text), nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int { return 4 }
func (m *mockEmbedder) Name() string    { return "mock" }

func keywordVector(text string) []float32 {
	lower := strings.ToLower(text)
	vec := make([]float32, 4)
	for i, kw := range []string{"refund", "luggage", "delay", "ticket"} {
		vec[i] = float32(strings.Count(lower, kw))
	}
	// Ensure no zero vector
	vec[3] += 0.01
	return vec
}

func newTestEngine(t *testing.T, minScore float64) *Engine {
	t.Helper()
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewEngine(store, &mockEmbedder{}, EngineOptions{
		ChunkSize:    200,
		ChunkOverlap: 40,
		TopK:         3,
		MinScore:     minScore,
	}, zap.NewNop())
}

func TestSearchEmptyCorpus(t *testing.T) {
	eng := newTestEngine(t, 0.3)
	_, err := eng.Search(context.Background(), "refund policy")
	if !errors.Is(err, support.ErrRetrievalMiss) {
		t.Fatalf("err = %v, want ErrRetrievalMiss", err)
	}
}

func TestSearchRanksBySimilarity(t *testing.T) {
	eng := newTestEngine(t, 0.1)
	ctx := context.Background()

	doc := "# Refunds\nrefund refund refund rules here.\n\n# Luggage\nluggage luggage allowances.\n"
	if _, err := eng.Ingest(ctx, "policy", doc); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	results, err := eng.Search(ctx, "refund")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if !strings.Contains(results[0].Text, "refund") {
		t.Errorf("top result %q does not mention refunds", results[0].Text)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results out of order at %d: %f > %f", i, results[i].Score, results[i-1].Score)
		}
	}
}

func TestSearchMinScoreFilters(t *testing.T) {
	eng := newTestEngine(t, 0.99)
	ctx := context.Background()

	if _, err := eng.Ingest(ctx, "policy", "# Luggage\nluggage luggage luggage.\n"); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	// Query about refunds is near-orthogonal to a luggage-only corpus.
	_, err := eng.Search(ctx, "refund refund refund")
	if !errors.Is(err, support.ErrRetrievalMiss) {
		t.Fatalf("err = %v, want ErrRetrievalMiss", err)
	}
}

func TestSearchLoadOrderInvariance(t *testing.T) {
	docA := "# Refunds\nrefund terms and refund windows.\n"
	docB := "# Delays\ndelay compensation for a delay over an hour.\n"
	ctx := context.Background()

	run := func(first, firstDoc, second, secondDoc string) []support.ScoredChunk {
		eng := newTestEngine(t, 0.1)
		if _, err := eng.Ingest(ctx, first, firstDoc); err != nil {
			t.Fatalf("ingest %s failed: %v", first, err)
		}
		if _, err := eng.Ingest(ctx, second, secondDoc); err != nil {
			t.Fatalf("ingest %s failed: %v", second, err)
		}
		results, err := eng.Search(ctx, "refund delay ticket luggage")
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		return results
	}

	fwd := run("a", docA, "b", docB)
	rev := run("b", docB, "a", docA)

	if len(fwd) != len(rev) {
		t.Fatalf("result counts differ: %d vs %d", len(fwd), len(rev))
	}
	for i := range fwd {
		if fwd[i].SourceDoc != rev[i].SourceDoc || fwd[i].Ordinal != rev[i].Ordinal {
			t.Errorf("result %d differs: %s/%d vs %s/%d",
				i, fwd[i].SourceDoc, fwd[i].Ordinal, rev[i].SourceDoc, rev[i].Ordinal)
		}
	}
}

func TestSearchTieBreakByOrdinal(t *testing.T) {
	eng := newTestEngine(t, 0.1)
	ctx := context.Background()

	// Two sections with identical keyword profiles score identically.
	doc := "# One\nticket rules first.\n\n# Two\nticket rules first.\n"
	if _, err := eng.Ingest(ctx, "policy", doc); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	results, err := eng.Search(ctx, "ticket")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) < 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Ordinal >= results[1].Ordinal {
		t.Errorf("equal scores not broken by ordinal: %d before %d", results[0].Ordinal, results[1].Ordinal)
	}
}

func TestReingestReplaces(t *testing.T) {
	eng := newTestEngine(t, 0)
	ctx := context.Background()

	if _, err := eng.Ingest(ctx, "policy", "# A\nticket one.\n\n# B\nticket two.\n"); err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	if _, err := eng.Ingest(ctx, "policy", "# A\nticket only.\n"); err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}

	n, err := eng.store.Count(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("chunk count after re-ingest = %d, want 1", n)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	eng := newTestEngine(t, 0)
	_, err := eng.Search(context.Background(), "")
	if !errors.Is(err, support.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}
