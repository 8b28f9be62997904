package knowledge

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/ntg2208/production-ai-customer-support/internal/embedding"
	"github.com/ntg2208/production-ai-customer-support/internal/support"
)

// Engine ties the chunker, the embedder, and the chunk store together.
type Engine struct {
	store    *Store
	embedder embedding.Embedder
	chunker  *Chunker
	topK     int
	minScore float64
	logger   *zap.Logger
}

// EngineOptions configures retrieval behavior.
type EngineOptions struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
	MinScore     float64
}

// NewEngine creates a retrieval engine over the given store and embedder.
func NewEngine(store *Store, embedder embedding.Embedder, opts EngineOptions, logger *zap.Logger) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		chunker:  NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		topK:     opts.TopK,
		minScore: opts.MinScore,
		logger:   logger,
	}
}

// Ingest chunks a document, embeds every chunk, and stores the result.
// Re-ingesting a document replaces its previous chunks.
func (e *Engine) Ingest(ctx context.Context, sourceDoc, text string) (int, error) {
	chunks := e.chunker.Chunk(sourceDoc, text)
	if len(chunks) == 0 {
		return 0, support.Validationf("document %q produced no chunks", sourceDoc)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	vecs, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vecs) != len(chunks) {
		return 0, support.Validationf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}

	if err := e.store.DeleteDoc(ctx, sourceDoc); err != nil {
		return 0, err
	}
	if err := e.store.Put(ctx, chunks); err != nil {
		return 0, err
	}

	e.logger.Info("document ingested",
		zap.String("source_doc", sourceDoc),
		zap.Int("chunks", len(chunks)),
		zap.String("embedder", e.embedder.Name()))
	return len(chunks), nil
}

// Search embeds the query and returns the top-K chunks scoring at or above
// the minimum similarity, best first. Equal scores are broken by
// (source_doc, ordinal) so results never depend on load order. An empty
// result set is reported as ErrRetrievalMiss, never as an empty success.
func (e *Engine) Search(ctx context.Context, query string) ([]support.ScoredChunk, error) {
	if query == "" {
		return nil, support.Validationf("empty retrieval query")
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	chunks, err := e.store.All(ctx)
	if err != nil {
		return nil, err
	}

	var scored []support.ScoredChunk
	for _, ch := range chunks {
		score, err := embedding.CosineSimilarity(queryVec, ch.Embedding)
		if err != nil {
			e.logger.Warn("chunk skipped",
				zap.String("source_doc", ch.SourceDoc),
				zap.Int("ordinal", ch.Ordinal),
				zap.Error(err))
			continue
		}
		if score < e.minScore {
			continue
		}
		scored = append(scored, support.ScoredChunk{Chunk: ch, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].SourceDoc != scored[j].SourceDoc {
			return scored[i].SourceDoc < scored[j].SourceDoc
		}
		return scored[i].Ordinal < scored[j].Ordinal
	})

	if len(scored) > e.topK {
		scored = scored[:e.topK]
	}

	if len(scored) == 0 {
		e.logger.Info("retrieval miss", zap.String("query", query))
		return nil, support.ErrRetrievalMiss
	}

	e.logger.Debug("retrieval hit",
		zap.String("query", query),
		zap.Int("results", len(scored)),
		zap.Float64("top_score", scored[0].Score))
	return scored, nil
}

// Stats reports corpus counts plus the embedder identity.
func (e *Engine) Stats(ctx context.Context) (map[string]int, string, error) {
	stats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, "", err
	}
	return stats, e.embedder.Name(), nil
}
