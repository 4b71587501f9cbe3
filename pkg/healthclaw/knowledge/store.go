package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/database"
)

// Passage is a ranked retrieval result.
type Passage struct {
	Source string
	Text   string
	Score  float64
}

// Retriever returns the passages most similar to a query.
// Implementations must be safe for concurrent use.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Passage, error)
}

type vectorEntry struct {
	source    string
	text      string
	embedding []float32
}

// Store persists chunks with their embeddings in the knowledge_chunks table
// and answers similarity queries from an in-memory copy of the vectors.
type Store struct {
	db       *database.Store
	embedder Embedder
	chunkCfg ChunkConfig
	logger   *slog.Logger

	// batchSize and parallelism bound embedding calls during indexing.
	batchSize   int
	parallelism int

	cacheMu sync.RWMutex
	cache   []vectorEntry
}

var _ Retriever = (*Store)(nil)

// NewStore creates a knowledge store on db. Call Load to fill the cache.
func NewStore(db *database.Store, embedder Embedder, chunkCfg ChunkConfig, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if embedder == nil {
		embedder = &NullEmbedder{}
	}
	return &Store{
		db:          db,
		embedder:    embedder,
		chunkCfg:    chunkCfg,
		logger:      logger.With("component", "knowledge"),
		batchSize:   32,
		parallelism: 4,
	}
}

// Load reads every embedded chunk of the current model into memory.
func (s *Store) Load(ctx context.Context) error {
	rows, err := s.db.DB().QueryContext(ctx, s.db.Rebind(
		`SELECT source, text, embedding FROM knowledge_chunks WHERE embedding IS NOT NULL AND model = ?`),
		s.embedder.Model(),
	)
	if err != nil {
		return fmt.Errorf("load knowledge chunks: %w", err)
	}
	defer rows.Close()

	var cache []vectorEntry
	for rows.Next() {
		var (
			e       vectorEntry
			embJSON string
		)
		if err := rows.Scan(&e.source, &e.text, &embJSON); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(embJSON), &e.embedding); err != nil {
			continue
		}
		cache = append(cache, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load knowledge chunks: %w", err)
	}

	s.cacheMu.Lock()
	s.cache = cache
	s.cacheMu.Unlock()

	s.logger.Info("knowledge cache loaded", "chunks", len(cache), "model", s.embedder.Model())
	return nil
}

// Count returns the number of cached (searchable) chunks.
func (s *Store) Count() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return len(s.cache)
}

// IndexDocument splits text, embeds the chunks and replaces any chunks
// previously stored for source. Unchanged chunks keep their embeddings.
func (s *Store) IndexDocument(ctx context.Context, source, text string) (int, error) {
	if s.embedder.Name() == "none" {
		return 0, fmt.Errorf("no embedding provider configured")
	}
	chunks := SplitText(source, text, s.chunkCfg)
	if len(chunks) == 0 {
		return 0, nil
	}

	existing, err := s.existingEmbeddings(ctx, source)
	if err != nil {
		return 0, err
	}

	vectors := make([][]float32, len(chunks))
	var todo []int
	for i, c := range chunks {
		if v, ok := existing[c.Hash]; ok {
			vectors[i] = v
		} else {
			todo = append(todo, i)
		}
	}

	if err := s.embedMissing(ctx, chunks, todo, vectors); err != nil {
		return 0, err
	}

	if err := s.replaceChunks(ctx, source, chunks, vectors); err != nil {
		return 0, err
	}

	s.logger.Info("document indexed", "source", source, "chunks", len(chunks), "embedded", len(todo))
	return len(chunks), s.Load(ctx)
}

// embedMissing embeds chunks[todo] in batches, several batches at a time.
func (s *Store) embedMissing(ctx context.Context, chunks []Chunk, todo []int, vectors [][]float32) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	for start := 0; start < len(todo); start += s.batchSize {
		end := min(start+s.batchSize, len(todo))
		batch := todo[start:end]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, idx := range batch {
				texts[i] = chunks[idx].Text
			}
			embs, err := s.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed chunks: %w", err)
			}
			// Each goroutine writes a disjoint set of indices.
			for i, idx := range batch {
				if i < len(embs) {
					vectors[idx] = embs[i]
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Store) existingEmbeddings(ctx context.Context, source string) (map[string][]float32, error) {
	rows, err := s.db.DB().QueryContext(ctx, s.db.Rebind(
		`SELECT hash, embedding FROM knowledge_chunks WHERE source = ? AND model = ? AND embedding IS NOT NULL`),
		source, s.embedder.Model(),
	)
	if err != nil {
		return nil, fmt.Errorf("read existing chunks: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var (
			hash    string
			embJSON string
		)
		if err := rows.Scan(&hash, &embJSON); err != nil {
			continue
		}
		var v []float32
		if json.Unmarshal([]byte(embJSON), &v) == nil {
			out[hash] = v
		}
	}
	return out, rows.Err()
}

func (s *Store) replaceChunks(ctx context.Context, source string, chunks []Chunk, vectors [][]float32) error {
	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM knowledge_chunks WHERE source = ?`), source); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}

	insert := s.db.Rebind(`
		INSERT INTO knowledge_chunks (id, source, chunk_idx, text, hash, embedding, model)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for i, c := range chunks {
		var emb sql.NullString
		if len(vectors[i]) > 0 {
			data, err := json.Marshal(vectors[i])
			if err != nil {
				return fmt.Errorf("marshal embedding: %w", err)
			}
			emb = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, insert,
			uuid.NewString(), c.Source, c.Index, c.Text, c.Hash, emb, s.embedder.Model()); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	return tx.Commit()
}

// Retrieve embeds the query and returns the k most similar cached chunks
// with positive similarity.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	if s.embedder.Name() == "none" || query == "" {
		return nil, nil
	}

	s.cacheMu.RLock()
	cache := s.cache
	s.cacheMu.RUnlock()
	if len(cache) == 0 {
		return nil, nil
	}

	embs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embs) == 0 || len(embs[0]) == 0 {
		return nil, nil
	}
	return rank(embs[0], cache, k), nil
}

func rank(query []float32, cache []vectorEntry, k int) []Passage {
	if k <= 0 {
		k = 4
	}
	var out []Passage
	for _, e := range cache {
		sim := cosineSimilarity(query, e.embedding)
		if sim > 0 {
			out = append(out, Passage{Source: e.source, Text: e.text, Score: sim})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
